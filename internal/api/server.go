package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// StatsProvider is the slice of the registry the API needs.
type StatsProvider interface {
	Stats() map[string]int
	CountConnections() int
}

// SessionCoordinator is the login-path contract: activate before the
// new session is considered live, deactivate on logout.
type SessionCoordinator interface {
	Activate(ctx context.Context, userID, email, sessionID string) error
	Deactivate(ctx context.Context, userID string) error
}

// Server is the thin HTTP surface next to the websocket endpoint:
// health and status queries, the login-path hooks, and the metrics
// scrape. No business logic beyond delegation.
type Server struct {
	stats       StatsProvider
	coordinator SessionCoordinator
	metrics     http.Handler
	logger      *zap.Logger
	startedAt   time.Time
	router      *http.ServeMux
}

// NewServer builds the API router.
func NewServer(stats StatsProvider, coordinator SessionCoordinator, metricsHandler http.Handler, logger *zap.Logger) *Server {
	s := &Server{
		stats:       stats,
		coordinator: coordinator,
		metrics:     metricsHandler,
		logger:      logger,
		startedAt:   time.Now(),
		router:      http.NewServeMux(),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Handle("/health", s.corsMiddleware(http.HandlerFunc(s.handleHealth)))
	s.router.Handle("/api/status", s.corsMiddleware(http.HandlerFunc(s.handleStatus)))
	s.router.Handle("/api/sessions/activate", s.corsMiddleware(http.HandlerFunc(s.handleActivate)))
	s.router.Handle("/api/sessions/deactivate", s.corsMiddleware(http.HandlerFunc(s.handleDeactivate)))
	if s.metrics != nil {
		s.router.Handle("/metrics", s.metrics)
	}
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.sendError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.sendJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"uptime":      time.Since(s.startedAt).String(),
		"connections": s.stats.CountConnections(),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.sendError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.sendJSON(w, http.StatusOK, map[string]any{
		"uptime_seconds": int64(time.Since(s.startedAt).Seconds()),
		"registry":       s.stats.Stats(),
	})
}

type activateRequest struct {
	UserID    string `json:"userId"`
	Email     string `json:"email"`
	SessionID string `json:"sessionId"`
}

// handleActivate runs the login contract: if the user is active under
// another session, the coordinator forces that session out and holds
// this request for the countdown before answering.
func (s *Server) handleActivate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.sendError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req activateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.UserID == "" || req.SessionID == "" {
		s.sendError(w, "userId and sessionId are required", http.StatusBadRequest)
		return
	}

	if err := s.coordinator.Activate(r.Context(), req.UserID, req.Email, req.SessionID); err != nil {
		s.logger.Error("session activation failed",
			zap.String("user_id", req.UserID), zap.Error(err))
		s.sendError(w, "activation failed", http.StatusInternalServerError)
		return
	}

	s.sendJSON(w, http.StatusOK, map[string]any{
		"userId":    req.UserID,
		"sessionId": req.SessionID,
		"active":    true,
	})
}

func (s *Server) handleDeactivate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.sendError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req activateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.UserID == "" {
		s.sendError(w, "userId is required", http.StatusBadRequest)
		return
	}

	if err := s.coordinator.Deactivate(r.Context(), req.UserID); err != nil {
		s.logger.Error("session deactivation failed",
			zap.String("user_id", req.UserID), zap.Error(err))
		s.sendError(w, "deactivation failed", http.StatusInternalServerError)
		return
	}

	s.sendJSON(w, http.StatusOK, map[string]any{
		"userId": req.UserID,
		"active": false,
	})
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) sendJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Warn("response encode failed", zap.Error(err))
	}
}

func (s *Server) sendError(w http.ResponseWriter, message string, status int) {
	s.sendJSON(w, status, map[string]string{"error": message})
}
