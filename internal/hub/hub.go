// Package hub pumps inbound envelopes from connection read loops into
// the broadcast path. One consumer goroutine owns all interpretation of
// client traffic, so read-loop timing never races business state.
package hub

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"liveboard/internal/broadcast"
	"liveboard/internal/metrics"
	"liveboard/internal/ws"
	"liveboard/pkg/types"
)

type inbound struct {
	conn *ws.Connection
	env  types.Envelope
}

// Hub consumes inbound envelopes: heartbeats refresh liveness, entity
// events pass dedup and re-broadcast scoped to the sender's session,
// control kinds from clients are ignored.
type Hub struct {
	inboundCh  chan inbound
	shutdownCh chan struct{}

	dedup     *broadcast.Dedup
	scheduler *broadcast.Scheduler
	logger    *zap.Logger
	metrics   *metrics.Metrics

	mu      sync.RWMutex
	running bool
}

// NewHub creates a hub. queueSize bounds the inbound channel; a full
// channel drops (and counts) rather than blocking a read loop.
func NewHub(dedup *broadcast.Dedup, scheduler *broadcast.Scheduler, queueSize int, logger *zap.Logger, m *metrics.Metrics) *Hub {
	if queueSize <= 0 {
		queueSize = 1000
	}
	return &Hub{
		inboundCh:  make(chan inbound, queueSize),
		shutdownCh: make(chan struct{}),
		dedup:      dedup,
		scheduler:  scheduler,
		logger:     logger,
		metrics:    m,
	}
}

// Start launches the consumer goroutine.
func (h *Hub) Start(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.running {
		return ErrAlreadyRunning
	}
	h.running = true
	go h.run(ctx)
	return nil
}

// Stop shuts the consumer down. Safe to call once started.
func (h *Hub) Stop() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.running {
		return ErrNotRunning
	}
	h.running = false
	close(h.shutdownCh)
	return nil
}

// Submit implements ws.EnvelopeSink. Non-blocking: envelopes arriving
// while the hub is stopped or saturated are dropped and counted.
func (h *Hub) Submit(conn *ws.Connection, env types.Envelope) {
	h.mu.RLock()
	running := h.running
	h.mu.RUnlock()
	if !running {
		h.metrics.Drop(metrics.ReasonHubStopped)
		return
	}

	select {
	case h.inboundCh <- inbound{conn: conn, env: env}:
	default:
		h.metrics.Drop(metrics.ReasonHubFull)
		h.logger.Warn("inbound queue full, dropping envelope",
			zap.String("kind", string(env.Type)))
	}
}

func (h *Hub) run(ctx context.Context) {
	for {
		select {
		case in := <-h.inboundCh:
			h.handle(in)
		case <-h.shutdownCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (h *Hub) handle(in inbound) {
	switch in.env.Type {
	case types.KindHeartbeat:
		in.conn.MarkAlive()
	case types.KindForceLogout, types.KindError:
		// Server-originated kinds; a client sending them is noise.
		h.logger.Debug("ignoring client control envelope",
			zap.String("kind", string(in.env.Type)),
			zap.String("session_id", in.conn.SessionID()))
	default:
		if !h.dedup.ShouldProcess(in.env) {
			h.metrics.Drop(metrics.ReasonDuplicate)
			return
		}
		h.scheduler.Broadcast(in.env.Type, in.env.Payload, in.conn.SessionID())
	}
}
