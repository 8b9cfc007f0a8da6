package ws

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"liveboard/pkg/types"
)

// Connection wraps one persistent socket. All writes flow through a
// single writer goroutine so concurrent broadcasts never interleave
// frames. The session id is fixed at accept time; the user id may be
// bound later, once the client has authenticated.
type Connection struct {
	conn    *websocket.Conn
	writeCh chan []byte

	sessionID string

	mu           sync.RWMutex
	userID       string
	alive        bool
	lastActivity time.Time

	writeTimeout time.Duration
	ctx          context.Context
	cancel       context.CancelFunc
	closeOnce    sync.Once
}

// NewConnection wraps an upgraded socket. bufferSize bounds the
// outbound channel; a full channel drops the send rather than blocking
// a broadcast pass.
func NewConnection(conn *websocket.Conn, sessionID string, bufferSize int, writeTimeout time.Duration) *Connection {
	if bufferSize <= 0 {
		bufferSize = 100
	}
	if writeTimeout <= 0 {
		writeTimeout = 5 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &Connection{
		conn:         conn,
		writeCh:      make(chan []byte, bufferSize),
		sessionID:    sessionID,
		alive:        true,
		lastActivity: time.Now(),
		writeTimeout: writeTimeout,
		ctx:          ctx,
		cancel:       cancel,
	}
	go c.writeLoop()
	return c
}

func (c *Connection) writeLoop() {
	for {
		select {
		case data := <-c.writeCh:
			if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
				c.Terminate()
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				// A failed write means the transport is gone; the read
				// loop observes the same failure and runs cleanup.
				c.Terminate()
				return
			}
		case <-c.ctx.Done():
			return
		}
	}
}

// SendEnvelope queues an envelope for delivery. Fire-and-forget: a
// closed connection or a full buffer returns an error without blocking.
func (c *Connection) SendEnvelope(env types.Envelope) error {
	data, err := env.Encode()
	if err != nil {
		return err
	}
	select {
	case <-c.ctx.Done():
		return ErrConnectionClosed
	default:
	}
	select {
	case c.writeCh <- data:
		return nil
	case <-c.ctx.Done():
		return ErrConnectionClosed
	default:
		return ErrSendBufferFull
	}
}

// Ping sends a control-frame ping directly, bypassing the write queue.
func (c *Connection) Ping() error {
	return c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.writeTimeout))
}

// SessionID returns the immutable session identifier.
func (c *Connection) SessionID() string {
	return c.sessionID
}

// UserID returns the bound user id, or "" before authentication.
func (c *Connection) UserID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.userID
}

func (c *Connection) setUserID(userID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.userID = userID
}

// MarkAlive records liveness, from a pong or an application heartbeat.
func (c *Connection) MarkAlive() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.alive = true
	c.lastActivity = time.Now()
}

// SwapAlive sets the liveness flag and returns the previous value. The
// monitor uses it to implement the two-interval eviction rule.
func (c *Connection) SwapAlive(alive bool) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	prev := c.alive
	c.alive = alive
	return prev
}

// LastActivity returns the time of the last liveness signal.
func (c *Connection) LastActivity() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastActivity
}

// Done is closed once the connection is shut down.
func (c *Connection) Done() <-chan struct{} {
	return c.ctx.Done()
}

// Close shuts the connection down with a best-effort close frame.
func (c *Connection) Close() error {
	return c.shutdown(true)
}

// Terminate closes the underlying socket without a close handshake,
// for peers that may no longer be responding.
func (c *Connection) Terminate() {
	_ = c.shutdown(false)
}

func (c *Connection) shutdown(graceful bool) error {
	var err error
	c.closeOnce.Do(func() {
		c.cancel()
		if graceful {
			deadline := time.Now().Add(c.writeTimeout)
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		}
		err = c.conn.Close()
	})
	return err
}
