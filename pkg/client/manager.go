// Package client is the tab-side counterpart of the sync server: one
// connection manager per client instance, carrying all traffic for that
// tab. It survives disconnects by buffering outbound envelopes and
// replaying them in order once the connection is back.
package client

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"liveboard/pkg/types"
)

// State is the manager's connection lifecycle state.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	// StateFailed is terminal: the retry budget is spent and the owner
	// must act (a manual reconnect or refresh), never a silent loop.
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Identity names the client to the server: the durable per-tab session
// id, and the user id once authenticated. The caller owns persisting
// the session id across reloads.
type Identity struct {
	SessionID string
	UserID    string
}

// Config tunes the manager.
type Config struct {
	URL               string        // base ws:// URL of the sync endpoint
	RetryDelay        time.Duration // delay between reconnect attempts
	MaxRetries        int           // total dial attempts per outage
	HeartbeatInterval time.Duration
	QueueSize         int // outbound buffer while disconnected
	Logger            *zap.Logger
}

func (c *Config) applyDefaults() {
	if c.RetryDelay <= 0 {
		c.RetryDelay = 3 * time.Second
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = 30 * time.Second
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 100
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
}

// Manager owns one websocket to the sync server.
type Manager struct {
	cfg      Config
	identity Identity
	logger   *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc

	// writeMu serializes everything that touches the wire, including
	// the reconnect drain, so queued envelopes replay strictly before
	// any newer send.
	writeMu sync.Mutex

	mu           sync.Mutex
	state        State
	conn         *websocket.Conn
	connGen      int
	queue        []types.Envelope
	reconnecting bool
	closed       bool

	handlersMu    sync.RWMutex
	msgHandlers   []func(types.Envelope)
	stateHandlers []func(State)
	subs          map[int]*Subscription
	nextSubID     int
}

// NewManager creates a manager for the given identity. The session id
// is required; the user id may be empty until login.
func NewManager(cfg Config, identity Identity) (*Manager, error) {
	if identity.SessionID == "" {
		return nil, ErrMissingSessionID
	}
	if cfg.URL == "" {
		return nil, ErrMissingURL
	}
	cfg.applyDefaults()

	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		cfg:      cfg,
		identity: identity,
		logger:   cfg.Logger,
		ctx:      ctx,
		cancel:   cancel,
		state:    StateDisconnected,
		subs:     make(map[int]*Subscription),
	}, nil
}

// Connect establishes the connection, retrying on failure with the
// configured constant delay up to the retry bound. Returns once
// connected or once the budget is spent (the manager is then Failed).
func (m *Manager) Connect(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	if m.state == StateConnected || m.state == StateConnecting {
		m.mu.Unlock()
		return nil
	}
	m.setStateLocked(StateConnecting)
	m.mu.Unlock()

	return m.establish(ctx)
}

// establish runs the bounded dial loop. Exactly one of these runs at a
// time: Connect guards by state, the reconnect path by the
// reconnecting flag.
func (m *Manager) establish(ctx context.Context) error {
	// MaxRetries counts total dial attempts; WithMaxRetries counts
	// retries after the first attempt.
	retries := uint64(0)
	if m.cfg.MaxRetries > 1 {
		retries = uint64(m.cfg.MaxRetries - 1)
	}
	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(m.cfg.RetryDelay), retries),
		ctx)

	attempt := 0
	err := backoff.Retry(func() error {
		attempt++
		if dialErr := m.dial(ctx); dialErr != nil {
			m.logger.Warn("connect attempt failed",
				zap.Int("attempt", attempt), zap.Error(dialErr))
			return dialErr
		}
		return nil
	}, policy)

	if err != nil {
		m.setState(StateFailed)
		return fmt.Errorf("%w: %v", ErrRetriesExhausted, err)
	}
	return nil
}

func (m *Manager) dial(ctx context.Context) error {
	u, err := url.Parse(m.cfg.URL)
	if err != nil {
		return fmt.Errorf("invalid url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	q := u.Query()
	q.Set("sessionId", m.identity.SessionID)
	if m.identity.UserID != "" {
		q.Set("userId", m.identity.UserID)
	}
	u.RawQuery = q.Encode()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return err
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		conn.Close()
		return ErrClosed
	}
	m.conn = conn
	m.connGen++
	gen := m.connGen
	m.mu.Unlock()

	go m.readLoop(conn, gen)

	// The state flips to Connected only after the backlog is on the
	// wire, and both happen under writeMu. A Send racing this either
	// wins writeMu first and lands in the queue tail, or waits behind
	// the drain; the backlog can never be overtaken.
	m.writeMu.Lock()
	drained := m.drainLocked(conn, gen)
	if drained {
		m.mu.Lock()
		if !m.closed && m.connGen == gen {
			m.setStateLocked(StateConnected)
		}
		m.mu.Unlock()
	}
	m.writeMu.Unlock()

	if !drained {
		// The transport died mid-drain; the read loop observes the
		// same failure and owns the reconnect.
		return nil
	}

	m.logger.Info("connected", zap.String("session_id", m.identity.SessionID))

	go m.heartbeatLoop(conn, gen)
	return nil
}

// Send delivers an envelope, or buffers it while the connection is
// down. The buffer is bounded: past the bound the envelope is dropped
// with a logged overflow, the backpressure of last resort.
func (m *Manager) Send(kind types.EventKind, payload any) error {
	env := types.NewEnvelope(kind, payload)

	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	if m.state != StateConnected {
		defer m.mu.Unlock()
		return m.enqueueLocked(env)
	}
	conn := m.conn
	m.mu.Unlock()

	if err := m.writeEnvelope(conn, env); err != nil {
		// The read loop will notice the dead transport; keep the
		// envelope for the replay after reconnect.
		m.mu.Lock()
		defer m.mu.Unlock()
		return m.enqueueLocked(env)
	}
	return nil
}

func (m *Manager) enqueueLocked(env types.Envelope) error {
	if len(m.queue) >= m.cfg.QueueSize {
		m.logger.Warn("outbound queue full, dropping envelope",
			zap.String("kind", string(env.Type)))
		return ErrQueueFull
	}
	m.queue = append(m.queue, env)
	return nil
}

// drainLocked replays buffered envelopes strictly in FIFO order. The
// caller holds writeMu for the whole pass. Returns false when the
// connection was superseded or a write failed.
func (m *Manager) drainLocked(conn *websocket.Conn, gen int) bool {
	for {
		m.mu.Lock()
		if m.closed || m.connGen != gen {
			m.mu.Unlock()
			return false
		}
		if len(m.queue) == 0 {
			m.mu.Unlock()
			return true
		}
		env := m.queue[0]
		m.queue = m.queue[1:]
		m.mu.Unlock()

		if err := m.writeEnvelope(conn, env); err != nil {
			// Put it back in front; the next reconnect replays it.
			m.mu.Lock()
			m.queue = append([]types.Envelope{env}, m.queue...)
			m.mu.Unlock()
			return false
		}
	}
}

func (m *Manager) writeEnvelope(conn *websocket.Conn, env types.Envelope) error {
	data, err := env.Encode()
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return conn.WriteMessage(websocket.TextMessage, data)
}

func (m *Manager) readLoop(conn *websocket.Conn, gen int) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			m.handleDisconnect(gen, err)
			return
		}

		env, err := types.ParseEnvelope(data)
		if err != nil {
			m.logger.Debug("discarding malformed envelope", zap.Error(err))
			continue
		}

		m.dispatch(env)
	}
}

// heartbeatLoop keeps the server's liveness monitor satisfied
// independent of application traffic.
func (m *Manager) heartbeatLoop(conn *websocket.Conn, gen int) {
	ticker := time.NewTicker(m.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.mu.Lock()
			stale := m.closed || m.connGen != gen || m.state != StateConnected
			m.mu.Unlock()
			if stale {
				return
			}

			m.writeMu.Lock()
			err := m.writeEnvelope(conn, types.NewEnvelope(types.KindHeartbeat, nil))
			m.writeMu.Unlock()
			if err != nil {
				// The read loop handles the dead transport.
				return
			}
		case <-m.ctx.Done():
			return
		}
	}
}

// handleDisconnect transitions to Disconnected and starts the single
// reconnect goroutine, unless one is already pending for this outage.
func (m *Manager) handleDisconnect(gen int, cause error) {
	m.mu.Lock()
	if m.closed || m.connGen != gen {
		m.mu.Unlock()
		return
	}
	if m.conn != nil {
		m.conn.Close()
		m.conn = nil
	}
	m.setStateLocked(StateDisconnected)
	alreadyRetrying := m.reconnecting
	if !alreadyRetrying {
		m.reconnecting = true
	}
	m.mu.Unlock()

	m.logger.Warn("disconnected", zap.Error(cause))

	if alreadyRetrying {
		return
	}

	go func() {
		defer func() {
			m.mu.Lock()
			m.reconnecting = false
			m.mu.Unlock()
		}()

		m.mu.Lock()
		if m.closed {
			m.mu.Unlock()
			return
		}
		m.setStateLocked(StateConnecting)
		m.mu.Unlock()

		if err := m.establish(m.ctx); err != nil {
			m.logger.Error("reconnect failed, giving up", zap.Error(err))
		}
	}()
}

func (m *Manager) dispatch(env types.Envelope) {
	m.handlersMu.RLock()
	handlers := make([]func(types.Envelope), len(m.msgHandlers))
	copy(handlers, m.msgHandlers)
	subs := make([]*Subscription, 0, len(m.subs))
	for _, sub := range m.subs {
		subs = append(subs, sub)
	}
	m.handlersMu.RUnlock()

	for _, h := range handlers {
		h(env)
	}
	for _, sub := range subs {
		sub.deliver(env)
	}
}

// OnMessage registers a handler for every inbound envelope.
func (m *Manager) OnMessage(handler func(types.Envelope)) {
	m.handlersMu.Lock()
	defer m.handlersMu.Unlock()
	m.msgHandlers = append(m.msgHandlers, handler)
}

// OnStateChange registers a lifecycle observer. It fires for
// connected, disconnected and terminal failed transitions.
func (m *Manager) OnStateChange(handler func(State)) {
	m.handlersMu.Lock()
	defer m.handlersMu.Unlock()
	m.stateHandlers = append(m.stateHandlers, handler)
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// QueuedCount returns the number of buffered outbound envelopes.
func (m *Manager) QueuedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queue)
}

// Close tears the manager down. Idempotent.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	conn := m.conn
	m.conn = nil
	m.setStateLocked(StateDisconnected)
	m.mu.Unlock()

	m.cancel()
	if conn != nil {
		return conn.Close()
	}
	return nil
}

// setStateLocked updates state and notifies observers outside the
// lock. Callers hold m.mu.
func (m *Manager) setStateLocked(s State) {
	if m.state == s {
		return
	}
	m.state = s

	m.handlersMu.RLock()
	handlers := make([]func(State), len(m.stateHandlers))
	copy(handlers, m.stateHandlers)
	m.handlersMu.RUnlock()

	if len(handlers) > 0 {
		go func() {
			for _, h := range handlers {
				h(s)
			}
		}()
	}
}

func (m *Manager) setState(s State) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.setStateLocked(s)
}
