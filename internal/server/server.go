package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/crate/internal/rekordbox"
	"github.com/desertthunder/crate/internal/repositories"
	"github.com/desertthunder/crate/internal/shared"
	"github.com/desertthunder/crate/internal/tasks"
)

// Middleware wraps an http.Handler and returns a new http.Handler with additional behavior.
// Common middleware includes logging, panic recovery and rate limiting.
type Middleware func(http.Handler) http.Handler

// Router defines the interface for HTTP routing and middleware management.
// Implementations register handlers, apply middleware, and configure the HTTP server.
type Router interface {
	Use(middleware ...Middleware)                     // Use adds middleware to the router's middleware stack
	Handle(method, path string, handler http.Handler) // Handle registers a handler for the specified method and path
	ServeHTTP(w http.ResponseWriter, r *http.Request) // ServeHTTP implements http.Handler for the entire router
}

// Version is reported by the root endpoint.
const Version = "0.1.0"

// Options configures [New].
type Options struct {
	Addr      string
	RateLimit float64 // Requests per second across all clients; zero disables throttling
	Burst     int
	Logger    *log.Logger
}

// Server serves the catalog API. Every request acquires its own catalog session.
type Server struct {
	catalog *repositories.Catalog
	engine  *tasks.Engine
	rbOpts  rekordbox.Options
	logger  *log.Logger
	router  *BasicRouter
	addr    string

	importMu sync.Mutex // serializes reconciliation batches

	sourceMu sync.RWMutex
	source   *rekordbox.Source // set by a successful connect
}

// New builds a Server and registers its routes.
//
// rbOpts is used for the connect probe; imports go through engine.
func New(catalog *repositories.Catalog, engine *tasks.Engine, rbOpts rekordbox.Options, opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = shared.DiscardLogger()
	}
	if rbOpts.Logger == nil {
		rbOpts.Logger = logger
	}

	s := &Server{
		catalog: catalog,
		engine:  engine,
		rbOpts:  rbOpts,
		logger:  shared.WithLogger(logger, "component", "server"),
		router:  NewBasicRouter(),
		addr:    opts.Addr,
	}

	s.router.Use(Recover(s.logger), Logging(s.logger), RateLimit(opts.RateLimit, opts.Burst))
	s.routes()
	return s
}

func (s *Server) routes() {
	r := s.router
	r.HandleFunc(http.MethodGet, "/{$}", s.handleRoot)
	r.HandleFunc(http.MethodGet, "/api/health", s.handleHealth)

	r.HandleFunc(http.MethodGet, "/api/tracks", s.handleListTracks)
	r.HandleFunc(http.MethodGet, "/api/tracks/{id}", s.handleGetTrack)
	r.HandleFunc(http.MethodDelete, "/api/tracks/{id}", s.handleDeleteTrack)
	r.HandleFunc(http.MethodPost, "/api/tracks/{id}/tags", s.handleTagTrack)

	r.HandleFunc(http.MethodGet, "/api/playlists", s.handleListPlaylists)
	r.HandleFunc(http.MethodGet, "/api/playlists/{id}/tracks", s.handlePlaylistTracks)

	r.HandleFunc(http.MethodGet, "/api/tags", s.handleListTags)
	r.HandleFunc(http.MethodPost, "/api/tags", s.handleAddTag)

	r.HandleFunc(http.MethodPost, "/api/rekordbox/connect", s.handleConnect)
	r.HandleFunc(http.MethodPost, "/api/rekordbox/import", s.handleImportTracks)
	r.HandleFunc(http.MethodPost, "/api/rekordbox/import-playlists", s.handleImportPlaylists)

	r.HandleFunc(http.MethodGet, "/api/database/stats", s.handleStats)
	r.HandleFunc(http.MethodPost, "/api/database/vacuum", s.handleVacuum)
}

// ServeHTTP implements [http.Handler].
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:              s.addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		s.logger.Info("listening", "addr", s.addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrors <- err
		}
		close(serverErrors)
	}()

	select {
	case err := <-serverErrors:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down server: %w", err)
	}
	s.logger.Info("server stopped")
	return nil
}

// Source returns the connected external database, if any.
func (s *Server) Source() (rekordbox.Source, bool) {
	s.sourceMu.RLock()
	defer s.sourceMu.RUnlock()
	if s.source == nil {
		return rekordbox.Source{}, false
	}
	return *s.source, true
}

// SetSource records src as connected without probing it.
func (s *Server) SetSource(src rekordbox.Source) {
	s.sourceMu.Lock()
	defer s.sourceMu.Unlock()
	s.source = &src
}

// withSession runs fn on a session scoped to the request.
func (s *Server) withSession(w http.ResponseWriter, r *http.Request, fn func(*repositories.Session) error) {
	sess, err := s.catalog.Session(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	defer sess.Close()

	if err := fn(sess); err != nil {
		s.writeError(w, err)
	}
}
