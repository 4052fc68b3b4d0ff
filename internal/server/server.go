// Package server exposes the HTTP surface of the counting service:
// REST endpoints for counts, events, sessions and settings, the login
// endpoint, a health probe, the live MJPEG stream with its snapshot
// sibling, the results websocket and an HTML counts report.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"lintas/internal/auth"
	"lintas/internal/config"
	"lintas/internal/database"
	"lintas/internal/detection"
	"lintas/internal/frames"
	"lintas/internal/middleware"
	"lintas/internal/stream"
	"lintas/internal/worker"
	"lintas/internal/ws"
)

const shutdownTimeout = 1 * time.Second

// Config holds everything the server needs. Store, Worker, Tracker,
// Frames, Hub and Stream may each be nil; the corresponding endpoints
// degrade or are left unmounted.
type Config struct {
	Address   string
	SessionID string
	Source    string

	Settings *config.Store
	Store    *database.Store
	Worker   *worker.Worker
	Tracker  detection.Tracker
	Auth     *auth.Authenticator
	Hub      *ws.Hub
	Stream   *stream.MJPEGStream
	Frames   *frames.Source
}

// Server serves the HTTP API for one counting session.
type Server struct {
	address   string
	sessionID string
	source    string
	startedAt time.Time

	settings *config.Store
	store    *database.Store
	worker   *worker.Worker
	tracker  detection.Tracker
	auth     *auth.Authenticator
	hub      *ws.Hub
	stream   *stream.MJPEGStream
	frames   *frames.Source

	server *http.Server
}

// New creates a server for the provided configuration.
func New(cfg Config) *Server {
	if cfg.Settings == nil {
		cfg.Settings = config.NewStore(nil)
	}
	if cfg.Auth == nil {
		cfg.Auth = auth.New(auth.Config{})
	}

	s := &Server{
		address:   cfg.Address,
		sessionID: cfg.SessionID,
		source:    cfg.Source,
		startedAt: time.Now(),
		settings:  cfg.Settings,
		store:     cfg.Store,
		worker:    cfg.Worker,
		tracker:   cfg.Tracker,
		auth:      cfg.Auth,
		hub:       cfg.Hub,
		stream:    cfg.Stream,
		frames:    cfg.Frames,
	}
	s.server = &http.Server{
		Addr:    s.address,
		Handler: s.setupRoutes(),
	}
	return s
}

func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/login", s.handleLogin)
	mux.HandleFunc("/api/health", s.handleHealth)
	mux.HandleFunc("/api/counts", s.handleCounts)
	mux.HandleFunc("/api/events", s.handleEvents)
	mux.HandleFunc("/api/sessions", s.handleSessions)
	mux.HandleFunc("/api/report/counts", s.handleCountsReport)

	// Settings mutate the live pipeline, so the whole surface sits
	// behind the token check when a password is configured.
	protected := middleware.Auth(s.auth)
	mux.Handle("/api/settings", protected(http.HandlerFunc(s.handleSettings)))
	mux.Handle("/api/settings/profile", protected(http.HandlerFunc(s.handleProfile)))

	if s.hub != nil {
		mux.Handle("/ws/results", ws.NewHandler(s.hub))
	}
	if s.stream != nil {
		mux.Handle("/video/stream", s.stream)
		mux.Handle("/video/snapshot", stream.NewSnapshotHandler(s.stream))
	}

	return mux
}

// Start runs the listener until ctx is cancelled, then shuts the
// server down. A listen failure is returned immediately.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		log.Printf("[Server] listening on %s", s.address)
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server failed: %w", err)
	case <-ctx.Done():
	}

	log.Printf("[Server] shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.server.Shutdown(shutdownCtx); err != nil {
		// Streaming clients hold their connections open past the
		// deadline; cut them loose.
		s.server.Close()
	}
	return nil
}

func writeJSON(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[Server] failed to encode response: %v", err)
	}
}

func writeJSONError(w http.ResponseWriter, statusCode int, msg string) {
	writeJSON(w, statusCode, map[string]string{"error": msg})
}
