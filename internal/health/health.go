// Package health exposes liveness and status endpoints for process
// supervisors and uptime monitors.
package health

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"zideebot/internal/queue"
)

const serviceName = "ZideeBot WhatsApp Bot"

// Probe reports the WhatsApp connection.
type Probe interface {
	Online() bool
	Status() string
}

type QueueCounter interface {
	Status() queue.Counts
}

type Config struct {
	Host    string
	Port    int
	Version string
	Probe   Probe
	Queue   QueueCounter
	Logger  *slog.Logger
	Now     func() time.Time
}

type Server struct {
	cfg    Config
	logger *slog.Logger
	start  time.Time
	server *http.Server
}

func New(cfg Config) *Server {
	if cfg.Host == "" {
		cfg.Host = "0.0.0.0"
	}
	if cfg.Port == 0 {
		cfg.Port = 3001
	}
	if cfg.Version == "" {
		cfg.Version = "dev"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Server{cfg: cfg, logger: cfg.Logger, start: cfg.Now()}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /status", s.handleStatus)
	mux.HandleFunc("GET /{$}", s.handleInfo)
	return mux
}

// Start serves until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	s.logger.Info("health server started", "addr", addr)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.server.Shutdown(shutdownCtx)
	}()

	if err := s.server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("health server: %w", err)
	}
	return nil
}

func (s *Server) online() bool {
	return s.cfg.Probe != nil && s.cfg.Probe.Online()
}

func writeJSON(rw http.ResponseWriter, status int, v any) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(status)
	json.NewEncoder(rw).Encode(v)
}

// handleHealth answers 200 while WhatsApp is connected and 503 otherwise.
func (s *Server) handleHealth(rw http.ResponseWriter, r *http.Request) {
	now := s.cfg.Now()
	body := map[string]any{
		"status":     "healthy",
		"timestamp":  now.UTC().Format(time.RFC3339),
		"uptime":     now.Sub(s.start).Seconds(),
		"bot_status": "connected",
	}
	code := http.StatusOK
	if !s.online() {
		code = http.StatusServiceUnavailable
		body["status"] = "unhealthy"
		body["bot_status"] = "disconnected"
	}
	writeJSON(rw, code, body)
}

func (s *Server) handleInfo(rw http.ResponseWriter, r *http.Request) {
	writeJSON(rw, http.StatusOK, map[string]any{
		"name":        serviceName,
		"version":     s.cfg.Version,
		"status":      "running",
		"description": "WhatsApp Bot with multiple features",
	})
}

func (s *Server) handleStatus(rw http.ResponseWriter, r *http.Request) {
	now := s.cfg.Now()
	connection := "disconnected"
	if s.cfg.Probe != nil {
		connection = s.cfg.Probe.Status()
	}
	body := map[string]any{
		"name":       serviceName,
		"version":    s.cfg.Version,
		"online":     s.online(),
		"connection": connection,
		"startedAt":  s.start.UTC().Format(time.RFC3339),
		"uptime":     strings.TrimSpace(humanize.RelTime(s.start, now, "", "")),
		"uptimeSec":  int64(now.Sub(s.start).Seconds()),
	}
	if s.cfg.Queue != nil {
		body["queue"] = s.cfg.Queue.Status()
	}
	writeJSON(rw, http.StatusOK, body)
}
