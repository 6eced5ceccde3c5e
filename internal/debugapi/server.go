// Package debugapi serves a read-only JSON view of the process's live view
// sessions for monitoring.
package debugapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/zsiec/liveview/internal/registry"
	"github.com/zsiec/liveview/internal/session"
)

// shutdownTimeout bounds graceful shutdown of the HTTP server.
const shutdownTimeout = 5 * time.Second

// SessionInfo is the JSON summary of one registered session.
type SessionInfo struct {
	StartedAt int64 `json:"startedAt"`
	UptimeMs  int64 `json:"uptimeMs"`
	session.Stats
}

// Server exposes registry state over HTTP.
type Server struct {
	log      *slog.Logger
	addr     string
	registry *registry.Registry
}

// NewServer creates a Server listening on addr. If log is nil,
// slog.Default() is used.
func NewServer(addr string, reg *registry.Registry, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		log:      log.With("component", "debug-api"),
		addr:     addr,
		registry: reg,
	}
}

// Handler returns the API's http.Handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/sessions", s.handleListSessions)
	mux.HandleFunc("GET /api/sessions/{key}", s.handleSession)
	return corsMiddleware(mux)
}

// Start serves until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	stop := context.AfterFunc(ctx, func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.log.Warn("shutdown", "error", err)
		}
	})
	defer stop()

	s.log.Info("debug API listening", "addr", s.addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("debug API: %w", err)
	}
	return nil
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encoding JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

func info(e *registry.Entry) SessionInfo {
	return SessionInfo{
		StartedAt: e.StartedAt.UnixMilli(),
		UptimeMs:  time.Since(e.StartedAt).Milliseconds(),
		Stats:     e.Session.Stats(),
	}
}

func (s *Server) handleListSessions(w http.ResponseWriter, _ *http.Request) {
	entries := s.registry.List()
	resp := make([]SessionInfo, len(entries))
	for i, e := range entries {
		resp[i] = info(e)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	e, ok := s.registry.Get(r.PathValue("key"))
	if !ok {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	writeJSON(w, http.StatusOK, info(e))
}
