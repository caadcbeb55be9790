package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/flitsinc/liminal-board/internal/metrics"
	"github.com/flitsinc/liminal-board/internal/session"
	"github.com/flitsinc/liminal-board/internal/state"
	"go.uber.org/zap"
)

const (
	serviceName    = "Liminal-Board MVP API"
	serviceVersion = "1.0.0"
)

type Server struct {
	Sessions       *session.Manager
	Store          *state.Store
	Metrics        *metrics.Metrics
	Log            *zap.Logger
	Web            http.Handler
	AllowedOrigins []string
	StartedAt      time.Time
	Info           DiagnosticsInfo
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/", s.handleRoot)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/ws", s.handleSocket)
	mux.HandleFunc("/api/diagnostics", s.handleDiagnostics)
	mux.HandleFunc("/api/sessions", s.handleSessions)
	mux.Handle("/metrics", s.Metrics.Handler())
	if s.Web != nil {
		mux.Handle("/app/", http.StripPrefix("/app", s.Web))
	}

	return corsMiddleware(s.AllowedOrigins, mux)
}

func (s *Server) logger() *zap.Logger {
	if s.Log == nil {
		return zap.NewNop()
	}
	return s.Log
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		writeError(w, http.StatusNotFound, errNotFound("route"))
		return
	}
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": serviceName, "version": serviceVersion})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "healthy", "consciousness": "active"})
}

type sessionsResponse struct {
	Active  []session.Session     `json:"active"`
	History []state.SessionRecord `json:"history,omitempty"`
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	if s.Sessions == nil {
		writeError(w, http.StatusInternalServerError, errNotFound("session manager"))
		return
	}
	resp := sessionsResponse{Active: s.Sessions.Sessions()}
	if s.Store != nil {
		limit := parseInt(r.URL.Query().Get("limit"), 50)
		history, err := s.Store.ListSessions(r.Context(), limit)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		resp.History = history
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]any{"error": err.Error()})
}

func writeMethodNotAllowed(w http.ResponseWriter) {
	writeJSON(w, http.StatusMethodNotAllowed, map[string]any{"error": "method not allowed"})
}

func parseInt(value string, fallback int) int {
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

type notFoundError struct {
	msg string
}

func (e notFoundError) Error() string { return e.msg }

func errNotFound(target string) error {
	return notFoundError{msg: target + " not found"}
}
