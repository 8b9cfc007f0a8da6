package broadcast

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"liveboard/pkg/types"
)

// Dedup suppresses functionally identical envelopes arriving within the
// same time bucket. The fingerprint covers kind, payload and the
// bucketed timestamp, so a repeat in a later bucket passes again.
//
// Eviction is FIFO over arrival order, not LRU: the map only needs to
// suppress near-simultaneous repeats, recency of access is irrelevant.
type Dedup struct {
	mu       sync.Mutex
	capacity int
	ttl      time.Duration
	bucket   time.Duration
	seen     map[string]time.Time
	order    []string

	now func() time.Time
}

// NewDedup creates a deduplicator. capacity bounds the fingerprint map
// (default 100), ttl expires records, bucket is the timestamp
// truncation window. The bucket defaults to the broadcast interval's
// 1 s but is configured independently of it.
func NewDedup(capacity int, ttl, bucket time.Duration) *Dedup {
	if capacity <= 0 {
		capacity = 100
	}
	if ttl <= 0 {
		ttl = 5 * time.Second
	}
	if bucket <= 0 {
		bucket = time.Second
	}
	return &Dedup{
		capacity: capacity,
		ttl:      ttl,
		bucket:   bucket,
		seen:     make(map[string]time.Time),
		now:      time.Now,
	}
}

// ShouldProcess reports whether the envelope is first of its kind in
// the current window. False means the caller must discard it.
func (d *Dedup) ShouldProcess(env types.Envelope) bool {
	fp := d.fingerprint(env)

	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	d.pruneLocked(now)

	if _, dup := d.seen[fp]; dup {
		return false
	}

	d.seen[fp] = now
	d.order = append(d.order, fp)
	if len(d.seen) > d.capacity {
		oldest := d.order[0]
		d.order = d.order[1:]
		delete(d.seen, oldest)
	}
	return true
}

// Len returns the current fingerprint count.
func (d *Dedup) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.seen)
}

// pruneLocked drops expired records. The order slice is insertion
// ordered, so expiry only ever eats from the front.
func (d *Dedup) pruneLocked(now time.Time) {
	for len(d.order) > 0 {
		oldest := d.order[0]
		inserted, ok := d.seen[oldest]
		if ok && now.Sub(inserted) < d.ttl {
			return
		}
		d.order = d.order[1:]
		delete(d.seen, oldest)
	}
}

func (d *Dedup) fingerprint(env types.Envelope) string {
	payload, err := json.Marshal(env.Payload)
	if err != nil {
		payload = []byte(fmt.Sprintf("%v", env.Payload))
	}
	ts := env.Timestamp
	if ts == 0 {
		ts = d.now().UnixMilli()
	}
	window := ts / d.bucket.Milliseconds()

	h := md5.New()
	fmt.Fprintf(h, "%s|%s|%d", env.Type, payload, window)
	return hex.EncodeToString(h.Sum(nil))
}
