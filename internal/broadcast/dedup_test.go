package broadcast

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"liveboard/pkg/types"
)

func newTestDedup(capacity int, ttl, bucket time.Duration) (*Dedup, *time.Time) {
	d := NewDedup(capacity, ttl, bucket)
	now := time.Unix(1700000000, 0)
	d.now = func() time.Time { return now }
	return d, &now
}

func taskEnvelope(id int, ts int64) types.Envelope {
	return types.Envelope{
		Type:      types.KindTask,
		Payload:   map[string]any{"id": id},
		Timestamp: ts,
	}
}

func TestDedupSuppressesRepeat(t *testing.T) {
	d, _ := newTestDedup(100, 5*time.Second, time.Second)

	env := taskEnvelope(1, 1700000000000)
	require.True(t, d.ShouldProcess(env))
	assert.False(t, d.ShouldProcess(env), "identical envelope in same bucket must be dropped")
	assert.False(t, d.ShouldProcess(env))
}

func TestDedupDistinguishesPayloads(t *testing.T) {
	d, _ := newTestDedup(100, 5*time.Second, time.Second)

	assert.True(t, d.ShouldProcess(taskEnvelope(1, 1700000000000)))
	assert.True(t, d.ShouldProcess(taskEnvelope(2, 1700000000000)))
}

func TestDedupDistinguishesKinds(t *testing.T) {
	d, _ := newTestDedup(100, 5*time.Second, time.Second)

	payload := map[string]any{"id": 1}
	a := types.Envelope{Type: types.KindTask, Payload: payload, Timestamp: 1700000000000}
	b := types.Envelope{Type: types.KindResult, Payload: payload, Timestamp: 1700000000000}

	assert.True(t, d.ShouldProcess(a))
	assert.True(t, d.ShouldProcess(b))
}

func TestDedupLaterBucketPassesAgain(t *testing.T) {
	d, now := newTestDedup(100, 5*time.Second, time.Second)

	require.True(t, d.ShouldProcess(taskEnvelope(1, 1700000000000)))

	// Same content one bucket later is a legitimate repeat.
	*now = now.Add(1500 * time.Millisecond)
	assert.True(t, d.ShouldProcess(taskEnvelope(1, 1700000001500)))
}

func TestDedupSameBucketBoundary(t *testing.T) {
	d, _ := newTestDedup(100, 5*time.Second, time.Second)

	// 1700000000100 and 1700000000900 truncate to the same bucket.
	require.True(t, d.ShouldProcess(taskEnvelope(1, 1700000000100)))
	assert.False(t, d.ShouldProcess(taskEnvelope(1, 1700000000900)))
}

func TestDedupTTLExpiry(t *testing.T) {
	d, now := newTestDedup(100, 5*time.Second, time.Second)

	env := taskEnvelope(1, 1700000000000)
	require.True(t, d.ShouldProcess(env))
	require.Equal(t, 1, d.Len())

	*now = now.Add(6 * time.Second)

	// The expired record is pruned; the map shrinks and the envelope
	// passes (in its new bucket).
	assert.True(t, d.ShouldProcess(taskEnvelope(2, 1700000006000)))
	assert.Equal(t, 1, d.Len())
}

func TestDedupCapacityEvictsOldestFirst(t *testing.T) {
	d, _ := newTestDedup(100, time.Hour, time.Second)

	for i := 0; i < 150; i++ {
		require.True(t, d.ShouldProcess(taskEnvelope(i, 1700000000000)), "envelope %d", i)
	}
	assert.Equal(t, 100, d.Len(), "map must stay bounded at capacity")

	// The first 50 were evicted in arrival order and pass again; the
	// last 100 are still tracked.
	assert.True(t, d.ShouldProcess(taskEnvelope(0, 1700000000000)))
	assert.False(t, d.ShouldProcess(taskEnvelope(149, 1700000000000)))
}

func TestDedupUnmarshalablePayload(t *testing.T) {
	d, _ := newTestDedup(100, 5*time.Second, time.Second)

	// A payload json.Marshal rejects still fingerprints consistently.
	env := types.Envelope{
		Type:      types.KindTask,
		Payload:   map[string]any{"bad": func() {}},
		Timestamp: 1700000000000,
	}
	assert.True(t, d.ShouldProcess(env))
}

func TestDedupMissingTimestampUsesClock(t *testing.T) {
	d, _ := newTestDedup(100, 5*time.Second, time.Second)

	env := types.Envelope{Type: types.KindTask, Payload: map[string]any{"id": 1}}
	require.True(t, d.ShouldProcess(env))
	assert.False(t, d.ShouldProcess(env), "clock-stamped fingerprint must be stable under a fixed clock")
}

func TestDedupDefaults(t *testing.T) {
	d := NewDedup(0, 0, 0)
	assert.Equal(t, 100, d.capacity)
	assert.Equal(t, 5*time.Second, d.ttl)
	assert.Equal(t, time.Second, d.bucket)
}

func BenchmarkDedupShouldProcess(b *testing.B) {
	d := NewDedup(100, 5*time.Second, time.Second)
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		d.ShouldProcess(types.Envelope{
			Type:      types.KindTask,
			Payload:   map[string]any{"id": fmt.Sprintf("task-%d", i%200)},
			Timestamp: int64(i) * 10,
		})
	}
}
