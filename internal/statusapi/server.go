// Package statusapi implements the local observability HTTP API.
//
// The API is read-only and binds to loopback by default. It exposes the
// supervisor's state snapshot, the journal, Prometheus metrics, and a
// WebSocket stream of live operational events.
package statusapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	prom "github.com/prometheus/client_golang/prometheus"

	"github.com/nugget/stead/internal/buildinfo"
	"github.com/nugget/stead/internal/events"
	"github.com/nugget/stead/internal/journal"
	"github.com/nugget/stead/internal/metrics"
	"github.com/nugget/stead/internal/supervisor"
)

// writeJSON encodes v as JSON to w, logging any errors at debug level.
// Errors here typically mean the client disconnected mid-response,
// which is not actionable but worth tracking for debugging.
func writeJSON(w http.ResponseWriter, v any, logger *slog.Logger) {
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Debug("failed to write JSON response", "error", err)
	}
}

// Snapshotter provides the state snapshot served at /v1/status.
type Snapshotter interface {
	Snapshot() supervisor.Snapshot
}

// Config wires a Server.
type Config struct {
	// Address is the bind address. Empty means all interfaces.
	Address string
	// Port is the listen port.
	Port int
	// Status provides state snapshots, normally the supervisor.
	Status Snapshotter
	// Bus feeds the WebSocket event stream. Nil disables it.
	Bus *events.Bus
	// Registry serves /metrics. Nil disables the endpoint.
	Registry *prom.Registry
	// JournalPath serves /v1/journal. Empty disables the endpoint.
	JournalPath string
	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Server is the status HTTP server.
type Server struct {
	cfg      Config
	logger   *slog.Logger
	server   *http.Server
	upgrader websocket.Upgrader
}

// NewServer creates a status API server.
func NewServer(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Server{
		cfg:    cfg,
		logger: cfg.Logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
		},
	}
}

// Start begins serving HTTP requests. It blocks until the listener
// fails or Shutdown is called.
func (s *Server) Start(ctx context.Context) error {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /", s.handleRoot)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /v1/version", s.handleVersion)
	mux.HandleFunc("GET /v1/status", s.handleStatus)

	if s.cfg.JournalPath != "" {
		mux.HandleFunc("GET /v1/journal", s.handleJournal)
	}
	if s.cfg.Bus != nil {
		mux.HandleFunc("GET /v1/events", s.handleEvents)
	}
	if s.cfg.Registry != nil {
		mux.Handle("GET /metrics", metrics.HTTPHandler(s.cfg.Registry))
	}

	s.server = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", s.cfg.Address, s.cfg.Port),
		Handler: s.withLogging(mux),
		// No WriteTimeout: the event stream holds its connection open.
		ReadHeaderTimeout: 10 * time.Second,
	}

	addr := s.cfg.Address
	if addr == "" {
		addr = "0.0.0.0"
	}
	s.logger.Info("starting status API", "address", addr, "port", s.cfg.Port)
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"duration", time.Since(start),
		)
	})
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]string{
		"name":    "stead",
		"version": buildinfo.Version,
		"status":  "ok",
	}, s.logger)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]string{"status": "healthy"}, s.logger)
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, buildinfo.Info(), s.logger)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, s.cfg.Status.Snapshot(), s.logger)
}

// handleJournal returns the most recent journal entries, newest last.
// Query parameters: limit (default 100), min_severity (info, warning,
// error), kind (entry kind name, e.g. LINK_LOSS).
func (s *Server) handleJournal(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}

	var filter journal.Filter
	if v := r.URL.Query().Get("min_severity"); v != "" {
		sev, ok := parseSeverity(v)
		if !ok {
			http.Error(w, "invalid min_severity", http.StatusBadRequest)
			return
		}
		filter.MinSeverity = &sev
	}
	if v := r.URL.Query().Get("kind"); v != "" {
		kind, ok := parseKind(v)
		if !ok {
			http.Error(w, "invalid kind", http.StatusBadRequest)
			return
		}
		filter.Kind = &kind
	}

	reader, err := journal.NewFilteredReader(s.cfg.JournalPath, filter)
	if err != nil {
		s.logger.Warn("journal open failed", "path", s.cfg.JournalPath, "error", err)
		http.Error(w, "journal unavailable", http.StatusInternalServerError)
		return
	}
	defer reader.Close()

	// Keep only the tail. The journal is small enough on a device that
	// a full scan per request is fine.
	entries := make([]journal.Event, 0, limit)
	for {
		e, err := reader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			s.logger.Warn("journal read failed", "error", err)
			break
		}
		entries = append(entries, e)
		if len(entries) > limit {
			entries = entries[1:]
		}
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{"entries": entries}, s.logger)
}

// handleEvents upgrades to a WebSocket and streams bus events as JSON
// until the client goes away.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	ch := s.cfg.Bus.Subscribe(64)
	defer s.cfg.Bus.Unsubscribe(ch)
	s.logger.Info("event stream attached", "remote", r.RemoteAddr)
	defer s.logger.Info("event stream detached", "remote", r.RemoteAddr)

	// The read pump exists only to notice the client closing.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-done:
			return
		case e := <-ch:
			conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteJSON(e); err != nil {
				s.logger.Debug("event stream write failed", "error", err)
				return
			}
		}
	}
}

func parseSeverity(name string) (journal.Severity, bool) {
	switch strings.ToLower(name) {
	case "info":
		return journal.SeverityInfo, true
	case "warning", "warn":
		return journal.SeverityWarning, true
	case "error":
		return journal.SeverityError, true
	default:
		return 0, false
	}
}

func parseKind(name string) (journal.Kind, bool) {
	want := strings.ToUpper(name)
	for k := journal.Kind(0); k <= journal.KindConfigReload; k++ {
		if k.String() == want {
			return k, true
		}
	}
	return 0, false
}
