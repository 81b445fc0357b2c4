// Package server exposes contacts, analysis and the change feed over HTTP.
package server

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/edgard/lifetracker/internal/analysis"
	"github.com/edgard/lifetracker/internal/contacts"
	"github.com/edgard/lifetracker/internal/database"
	"github.com/edgard/lifetracker/internal/logger"
)

// Config holds server configuration.
type Config struct {
	Addr            string
	AllowAllOrigins bool // allow all CORS origins (dev mode)
	RequestTimeout  time.Duration
}

// ContactAnalyzer runs the analysis pipeline for one contact.
type ContactAnalyzer interface {
	Analyze(ctx context.Context, contactID int64) (*database.Contact, error)
}

// ContactImporter writes dialogs into a contacts relation.
type ContactImporter interface {
	Import(ctx context.Context, dialogs []database.Dialog, table string) (*contacts.ImportResult, error)
}

// DialogSource fetches the dialog list.
type DialogSource interface {
	FetchDialogs(ctx context.Context) ([]database.Dialog, error)
}

// Deps are the collaborators the routes use. Websocket may be nil.
type Deps struct {
	Store     database.Store
	Table     string
	Analyzer  ContactAnalyzer
	Importer  ContactImporter
	Dialogs   DialogSource
	History   contacts.HistoryFetcher
	Analysis  analysis.Service
	Websocket http.Handler
}

// Server is the HTTP API server.
type Server struct {
	cfg        Config
	deps       Deps
	router     chi.Router
	httpServer *http.Server
	log        *slog.Logger
}

// New creates a server with all routes registered.
func New(cfg Config, deps Deps, log *slog.Logger) *Server {
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 60 * time.Second
	}
	s := &Server{
		cfg:  cfg,
		deps: deps,
		log:  log.With("component", "http_server"),
	}
	s.router = s.buildRouter()
	return s
}

func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(logger.HTTPMiddleware(s.log))
	r.Use(middleware.Recoverer)

	corsOpts := cors.Options{
		AllowedOrigins:   []string{"http://localhost:*", "http://127.0.0.1:*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}
	if s.cfg.AllowAllOrigins {
		corsOpts.AllowedOrigins = []string{"*"}
		corsOpts.AllowCredentials = false
	}
	r.Use(cors.Handler(corsOpts))

	r.Get("/healthz", s.handleHealth)

	// The change feed is long lived and stays outside the request timeout.
	if s.deps.Websocket != nil {
		r.Handle("/ws", s.deps.Websocket)
	}

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(s.cfg.RequestTimeout))
		RegisterRoutes(r, s.deps)
	})
	return r
}

// Router returns the chi router.
func (s *Server) Router() chi.Router { return s.router }

// Run serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("HTTP server listening", "addr", s.cfg.Addr)
		errCh <- s.httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	s.log.Info("Shutting down HTTP server")
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.deps.Store != nil {
		if err := s.deps.Store.Ping(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
