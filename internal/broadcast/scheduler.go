package broadcast

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"liveboard/internal/metrics"
	"liveboard/internal/ws"
	"liveboard/pkg/types"
)

// Scheduler fans envelopes out to the registry while bounding the cost
// of bursty writes: per entity kind, at most one broadcast per minimum
// interval, later calls in the window dropped silently. This is a rate
// limiter, not a queue; the next successful write re-broadcasts current
// state anyway, so coalescing loses nothing durable.
//
// Control kinds bypass the limiter: a forced logout must not be
// suppressed by a data broadcast that happened to share its window.
type Scheduler struct {
	registry    *ws.Registry
	minInterval time.Duration
	logger      *zap.Logger
	metrics     *metrics.Metrics

	mu   sync.Mutex
	last map[types.EventKind]time.Time

	now func() time.Time
}

// NewScheduler creates a broadcast scheduler with the given per-kind
// minimum interval (default 1 s).
func NewScheduler(registry *ws.Registry, minInterval time.Duration, logger *zap.Logger, m *metrics.Metrics) *Scheduler {
	if minInterval <= 0 {
		minInterval = time.Second
	}
	return &Scheduler{
		registry:    registry,
		minInterval: minInterval,
		logger:      logger,
		metrics:     m,
		last:        make(map[types.EventKind]time.Time),
		now:         time.Now,
	}
}

// Broadcast delivers one envelope. When targetSessionID names a live
// session group, delivery is restricted to it; otherwise every
// registered connection receives the envelope.
func (s *Scheduler) Broadcast(kind types.EventKind, payload any, targetSessionID string) {
	if !kind.Control() && !s.allow(kind) {
		s.metrics.Drop(metrics.ReasonRateLimited)
		return
	}

	env := types.NewEnvelope(kind, payload)

	if targetSessionID != "" && s.registry.HasSession(targetSessionID) {
		s.registry.ForEachInSession(targetSessionID, func(conn *ws.Connection) {
			s.deliver(conn, env)
		})
	} else {
		s.registry.ForEachAll(func(conn *ws.Connection) {
			s.deliver(conn, env)
		})
	}
	s.metrics.BroadcastSent(string(kind))
}

// NotifyUser delivers an envelope to every connection of one user,
// skipping connections whose session matches excludeSessionID. Not
// throttled; used for session control traffic. Returns the number of
// connections the envelope was handed to.
func (s *Scheduler) NotifyUser(kind types.EventKind, payload any, userID, excludeSessionID string) int {
	env := types.NewEnvelope(kind, payload)
	sent := 0
	s.registry.ForEachForUser(userID, func(conn *ws.Connection) {
		if conn.SessionID() == excludeSessionID {
			return
		}
		s.deliver(conn, env)
		sent++
	})
	return sent
}

// deliver is fire-and-forget; one connection's failure never reaches
// the rest of the fan-out.
func (s *Scheduler) deliver(conn *ws.Connection, env types.Envelope) {
	if err := conn.SendEnvelope(env); err != nil {
		s.metrics.Drop(metrics.ReasonSendError)
		s.logger.Debug("broadcast delivery failed",
			zap.String("kind", string(env.Type)),
			zap.String("session_id", conn.SessionID()),
			zap.Error(err))
	}
}

func (s *Scheduler) allow(kind types.EventKind) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	if last, seen := s.last[kind]; seen && now.Sub(last) < s.minInterval {
		return false
	}
	s.last[kind] = now
	return true
}
