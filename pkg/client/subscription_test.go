package client

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"liveboard/pkg/types"
)

func newOfflineManager(t *testing.T) *Manager {
	t.Helper()
	m, err := NewManager(Config{URL: "ws://localhost:0"}, Identity{SessionID: "session-1"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })
	return m
}

func envelope(kind types.EventKind, payload any) types.Envelope {
	return types.Envelope{Type: kind, Payload: payload, Timestamp: types.NowMillis()}
}

func TestSubscriptionFiltersByKind(t *testing.T) {
	m := newOfflineManager(t)

	var got []any
	m.Subscribe(types.KindTask, "", func(payload any) { got = append(got, payload) })

	m.dispatch(envelope(types.KindTask, map[string]any{"id": "t1"}))
	m.dispatch(envelope(types.KindResult, map[string]any{"id": "r1"}))
	m.dispatch(envelope(types.KindTask, map[string]any{"id": "t2"}))

	assert.Len(t, got, 2)
}

func TestSubscriptionDropsEmptyPayloads(t *testing.T) {
	m := newOfflineManager(t)

	calls := 0
	m.Subscribe(types.KindTask, "", func(any) { calls++ })

	m.dispatch(envelope(types.KindTask, nil))
	m.dispatch(envelope(types.KindTask, []any{}))
	m.dispatch(envelope(types.KindTask, map[string]any{}))

	assert.Zero(t, calls, "empty payloads carry nothing to render")
}

func TestSubscriptionDropsCloseMarker(t *testing.T) {
	m := newOfflineManager(t)

	calls := 0
	m.Subscribe(types.KindTask, "", func(any) { calls++ })

	m.dispatch(envelope(types.KindTask, map[string]any{"type": "close"}))
	assert.Zero(t, calls)

	// A payload whose type field carries something else still flows.
	m.dispatch(envelope(types.KindTask, map[string]any{"type": "update", "id": "t1"}))
	assert.Equal(t, 1, calls)
}

func TestSubscriptionScopeMatchesChallengeID(t *testing.T) {
	m := newOfflineManager(t)

	var got []any
	m.Subscribe(types.KindTask, "challenge-7", func(payload any) { got = append(got, payload) })

	m.dispatch(envelope(types.KindTask, map[string]any{"id": "t1", "challengeId": "challenge-7"}))
	m.dispatch(envelope(types.KindTask, map[string]any{"id": "t2", "challengeId": "challenge-9"}))
	m.dispatch(envelope(types.KindTask, map[string]any{"id": "t3"}))

	require.Len(t, got, 1)
	payload, ok := got[0].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "t1", payload["id"])
}

func TestSubscriptionScopeFallsBackToID(t *testing.T) {
	m := newOfflineManager(t)

	calls := 0
	m.Subscribe(types.KindChallenge, "challenge-7", func(any) { calls++ })

	// Challenge records carry no challengeId of their own; the scope
	// matches their id instead.
	m.dispatch(envelope(types.KindChallenge, map[string]any{"id": "challenge-7"}))
	m.dispatch(envelope(types.KindChallenge, map[string]any{"id": "challenge-9"}))

	assert.Equal(t, 1, calls)
}

func TestSubscriptionScopeNormalizesNumericIDs(t *testing.T) {
	m := newOfflineManager(t)

	calls := 0
	m.Subscribe(types.KindTask, "7", func(any) { calls++ })

	// Producers may send the foreign key as a number.
	m.dispatch(envelope(types.KindTask, map[string]any{"id": "t1", "challengeId": float64(7)}))
	assert.Equal(t, 1, calls)
}

func TestSubscriptionUnscopedReceivesAll(t *testing.T) {
	m := newOfflineManager(t)

	calls := 0
	m.Subscribe(types.KindTask, "", func(any) { calls++ })

	m.dispatch(envelope(types.KindTask, map[string]any{"id": "t1", "challengeId": "a"}))
	m.dispatch(envelope(types.KindTask, map[string]any{"id": "t2", "challengeId": "b"}))

	assert.Equal(t, 2, calls)
}

func TestSubscriptionCancel(t *testing.T) {
	m := newOfflineManager(t)

	calls := 0
	sub := m.Subscribe(types.KindTask, "", func(any) { calls++ })

	m.dispatch(envelope(types.KindTask, map[string]any{"id": "t1"}))
	sub.Cancel()
	m.dispatch(envelope(types.KindTask, map[string]any{"id": "t2"}))

	assert.Equal(t, 1, calls)

	// Idempotent, and still safe once the manager is gone.
	sub.Cancel()
	require.NoError(t, m.Close())
	sub.Cancel()
}

func TestMultipleSubscriptionsIndependent(t *testing.T) {
	m := newOfflineManager(t)

	tasks, results := 0, 0
	m.Subscribe(types.KindTask, "", func(any) { tasks++ })
	m.Subscribe(types.KindResult, "", func(any) { results++ })

	m.dispatch(envelope(types.KindTask, map[string]any{"id": "t1"}))
	m.dispatch(envelope(types.KindResult, map[string]any{"id": "r1"}))
	m.dispatch(envelope(types.KindResult, map[string]any{"id": "r2"}))

	assert.Equal(t, 1, tasks)
	assert.Equal(t, 2, results)
}
