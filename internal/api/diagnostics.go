package api

import (
	"net/http"
	"runtime"
	"time"
)

type DiagnosticsInfo struct {
	HTTPAddr      string `json:"http_addr"`
	DBPath        string `json:"db_path"`
	WebDir        string `json:"web_dir"`
	LLMProvider   string `json:"llm_provider"`
	LLMModel      string `json:"llm_model"`
	LLMConfigured bool   `json:"llm_configured"`
}

type DiagnosticsResponse struct {
	Time          time.Time       `json:"time"`
	StartedAt     time.Time       `json:"started_at"`
	UptimeSeconds int64           `json:"uptime_seconds"`
	GoVersion     string          `json:"go_version"`
	Goroutines    int             `json:"goroutines"`
	Info          DiagnosticsInfo `json:"info"`
	Sessions      map[string]any  `json:"sessions"`
}

func (s *Server) handleDiagnostics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	now := time.Now().UTC()
	started := s.StartedAt
	if started.IsZero() {
		started = now
	}
	resp := DiagnosticsResponse{
		Time:          now,
		StartedAt:     started,
		UptimeSeconds: int64(now.Sub(started).Seconds()),
		GoVersion:     runtime.Version(),
		Goroutines:    runtime.NumGoroutine(),
		Info:          s.Info,
		Sessions:      map[string]any{},
	}
	if s.Sessions != nil {
		resp.Sessions["active"] = s.Sessions.Count()
	}
	if s.Store != nil {
		if open, err := s.Store.CountOpen(r.Context()); err == nil {
			resp.Sessions["ledger_open"] = open
		}
	}
	writeJSON(w, http.StatusOK, resp)
}
