package types

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseEnvelope(t *testing.T) {
	t.Run("valid entity envelope", func(t *testing.T) {
		env, err := ParseEnvelope([]byte(`{"type":"TASK_EVENT","payload":{"id":7},"timestamp":1700000000000}`))
		require.NoError(t, err)
		assert.Equal(t, KindTask, env.Type)
		assert.Equal(t, int64(1700000000000), env.Timestamp)

		id, ok := env.PayloadID()
		require.True(t, ok)
		assert.Equal(t, "7", id)
	})

	t.Run("not json", func(t *testing.T) {
		_, err := ParseEnvelope([]byte("not json at all"))
		assert.ErrorIs(t, err, ErrMalformedEnvelope)
	})

	t.Run("missing type", func(t *testing.T) {
		_, err := ParseEnvelope([]byte(`{"payload":{"id":1}}`))
		assert.ErrorIs(t, err, ErrMissingEventType)
	})

	t.Run("unknown kind", func(t *testing.T) {
		_, err := ParseEnvelope([]byte(`{"type":"SOMETHING_ELSE"}`))
		assert.ErrorIs(t, err, ErrUnknownEventKind)
	})

	t.Run("control kind", func(t *testing.T) {
		env, err := ParseEnvelope([]byte(`{"type":"HEARTBEAT_EVENT"}`))
		require.NoError(t, err)
		assert.Equal(t, KindHeartbeat, env.Type)
		assert.True(t, env.Type.Control())
	})
}

func TestEventKindValid(t *testing.T) {
	for _, k := range []EventKind{
		KindUser, KindProcess, KindTribe, KindChallenge,
		KindActualState, KindTargetState, KindMentalContrast,
		KindObstacle, KindHypothesis, KindExperiment,
		KindTask, KindResult, KindLearning,
		KindHeartbeat, KindForceLogout, KindError,
	} {
		assert.True(t, k.Valid(), "kind %s", k)
	}
	assert.False(t, EventKind("").Valid())
	assert.False(t, EventKind("TASK").Valid())
	assert.False(t, EventKind("task_event").Valid())
}

func TestEventKindControl(t *testing.T) {
	assert.True(t, KindHeartbeat.Control())
	assert.True(t, KindForceLogout.Control())
	assert.True(t, KindError.Control())
	assert.False(t, KindTask.Control())
	assert.False(t, KindChallenge.Control())
}

func TestEncodeStampsTimestamp(t *testing.T) {
	data, err := Envelope{Type: KindUser, Payload: map[string]any{"id": "u1"}}.Encode()
	require.NoError(t, err)

	var decoded Envelope
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.NotZero(t, decoded.Timestamp)
}

func TestEncodePreservesTimestamp(t *testing.T) {
	data, err := Envelope{Type: KindUser, Timestamp: 42}.Encode()
	require.NoError(t, err)

	var decoded Envelope
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, int64(42), decoded.Timestamp)
}

func TestPayloadDeleted(t *testing.T) {
	env := Envelope{Type: KindTask, Payload: map[string]any{"id": "t1", "deleted": true}}
	assert.True(t, env.PayloadDeleted())

	env.Payload = map[string]any{"id": "t1"}
	assert.False(t, env.PayloadDeleted())

	env.Payload = map[string]any{"deleted": "true"}
	assert.False(t, env.PayloadDeleted(), "string true is not a deletion marker")

	env.Payload = nil
	assert.False(t, env.PayloadDeleted())
}

func TestEmptyPayload(t *testing.T) {
	assert.True(t, Envelope{Type: KindTask}.EmptyPayload())
	assert.True(t, Envelope{Type: KindTask, Payload: []any{}}.EmptyPayload())
	assert.True(t, Envelope{Type: KindTask, Payload: map[string]any{}}.EmptyPayload())
	assert.False(t, Envelope{Type: KindTask, Payload: map[string]any{"id": 1}}.EmptyPayload())
	assert.False(t, Envelope{Type: KindTask, Payload: "x"}.EmptyPayload())
}

func TestFieldString(t *testing.T) {
	assert.Equal(t, "abc", FieldString("abc"))
	assert.Equal(t, "7", FieldString(float64(7)))
	assert.Equal(t, "7.5", FieldString(float64(7.5)))
	assert.Equal(t, "9", FieldString(json.Number("9")))
	assert.Equal(t, "true", FieldString(true))
	assert.Equal(t, "", FieldString(nil))
	assert.Equal(t, "", FieldString([]any{1}))
}

func TestPayloadIDNormalizesNumbers(t *testing.T) {
	// Decoded JSON carries numeric ids as float64; they must compare
	// equal to their string form.
	env, err := ParseEnvelope([]byte(`{"type":"CHALLENGE_EVENT","payload":{"id":12}}`))
	require.NoError(t, err)

	id, ok := env.PayloadID()
	require.True(t, ok)
	assert.Equal(t, "12", id)
}
