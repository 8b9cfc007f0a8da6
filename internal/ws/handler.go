package ws

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"liveboard/pkg/types"
)

var upgrader = websocket.Upgrader{
	HandshakeTimeout: 10 * time.Second,
	CheckOrigin: func(r *http.Request) bool {
		// Origin policy belongs to the deployment in front of us.
		return true
	},
}

// EnvelopeSink receives every parsed inbound envelope. Read loops do no
// business logic themselves; they parse and forward, decoupling socket
// callback timing from registry and broadcast state.
type EnvelopeSink interface {
	Submit(conn *Connection, env types.Envelope)
}

// Handler accepts websocket connections, registers them and runs their
// read loops.
type Handler struct {
	registry   *Registry
	monitor    *Monitor
	sink       EnvelopeSink
	bufferSize int
	logger     *zap.Logger
}

// NewHandler wires the accept path.
func NewHandler(registry *Registry, monitor *Monitor, sink EnvelopeSink, bufferSize int, logger *zap.Logger) *Handler {
	return &Handler{
		registry:   registry,
		monitor:    monitor,
		sink:       sink,
		bufferSize: bufferSize,
		logger:     logger,
	}
}

// HandleWebSocket upgrades the request and registers the connection.
// Identity arrives as query parameters: sessionId is the durable
// client-generated tab identifier (a fresh uuid is assigned when the
// client omits it), userId is present once the client authenticated.
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("sessionId")
	if sessionID == "" {
		sessionID = uuid.New().String()
	}
	userID := r.URL.Query().Get("userId")

	sock, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	conn := NewConnection(sock, sessionID, h.bufferSize, 5*time.Second)

	// Registration happens synchronously before the first read so a
	// broadcast issued right after accept already sees this connection.
	h.registry.Register(conn)
	if userID != "" {
		h.registry.BindUser(conn, userID)
	}
	h.monitor.Watch(conn)

	h.logger.Info("connection opened",
		zap.String("session_id", sessionID),
		zap.String("user_id", userID))

	go h.readLoop(conn)
}

// readLoop pumps inbound frames into the sink until the socket dies.
// Cleanup is synchronous: the connection leaves both registry indexes
// before the socket handle is torn down, so no heartbeat tick or
// broadcast pass can hit it afterwards.
func (h *Handler) readLoop(conn *Connection) {
	defer func() {
		h.registry.Unregister(conn)
		conn.Terminate()
		h.logger.Info("connection closed",
			zap.String("session_id", conn.SessionID()),
			zap.String("user_id", conn.UserID()))
	}()

	readDeadline := 2 * h.monitor.Interval()
	_ = conn.conn.SetReadDeadline(time.Now().Add(readDeadline))
	conn.conn.SetPongHandler(func(string) error {
		conn.MarkAlive()
		return conn.conn.SetReadDeadline(time.Now().Add(readDeadline))
	})

	for {
		msgType, data, err := conn.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				h.logger.Warn("read failed",
					zap.String("session_id", conn.SessionID()), zap.Error(err))
			}
			return
		}
		_ = conn.conn.SetReadDeadline(time.Now().Add(readDeadline))

		if msgType != websocket.TextMessage {
			continue
		}

		env, err := types.ParseEnvelope(data)
		if err != nil {
			// A malformed frame is that frame's problem only.
			h.logger.Debug("discarding malformed envelope",
				zap.String("session_id", conn.SessionID()), zap.Error(err))
			continue
		}

		h.sink.Submit(conn, env)
	}
}
