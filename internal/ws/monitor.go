package ws

import (
	"time"

	"go.uber.org/zap"
)

// Monitor runs the heartbeat loop for each connection. Each tick either
// evicts a connection that stayed silent for a full interval or clears
// its liveness flag and pings it; a pong (or an application heartbeat)
// sets the flag again. A connection that drops pongs is therefore gone
// within two intervals even if the TCP connection itself survives.
// Momentarily slow clients may be evicted too; the client manager's
// reconnect covers that.
type Monitor struct {
	registry *Registry
	interval time.Duration
	logger   *zap.Logger
}

// NewMonitor creates a liveness monitor with the given ping interval.
func NewMonitor(registry *Registry, interval time.Duration, logger *zap.Logger) *Monitor {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Monitor{registry: registry, interval: interval, logger: logger}
}

// Interval returns the heartbeat interval.
func (m *Monitor) Interval() time.Duration {
	return m.interval
}

// Watch starts the heartbeat loop for one connection. The loop ends
// when the connection shuts down or is evicted. Eviction removes the
// connection from both registry indexes before the socket is torn down,
// so no later tick or broadcast can reach a half-removed connection.
func (m *Monitor) Watch(conn *Connection) {
	go func() {
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				if !conn.SwapAlive(false) {
					m.evict(conn, "heartbeat missed")
					return
				}
				if err := conn.Ping(); err != nil {
					m.evict(conn, "ping failed")
					return
				}
			case <-conn.Done():
				return
			}
		}
	}()
}

func (m *Monitor) evict(conn *Connection, reason string) {
	m.registry.Unregister(conn)
	conn.Terminate()
	m.logger.Info("connection evicted",
		zap.String("session_id", conn.SessionID()),
		zap.String("user_id", conn.UserID()),
		zap.String("reason", reason))
}
