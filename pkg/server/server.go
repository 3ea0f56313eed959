// Package server exposes the engine over an HTTP JSON API.
package server

import (
	"context"
	"crypto/subtle"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/coolbeans/exocortex/pkg/engine"
	exoerr "github.com/coolbeans/exocortex/pkg/errors"
)

// APIKeyHeader carries the API key when one is configured.
const APIKeyHeader = "X-API-Key"

// Config holds HTTP server configuration.
type Config struct {
	ListenAddr   string
	APIKey       string
	CORSOrigins  []string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	Logger       *slog.Logger
}

// Server routes API requests to an engine.
type Server struct {
	router  chi.Router
	cfg     Config
	engine  *engine.Engine
	logger  *slog.Logger
	metrics *metrics
}

// New creates a Server with the API routes, CORS and metrics.
func New(cfg Config, eng *engine.Engine) (*Server, error) {
	if cfg.ListenAddr == "" {
		return nil, exoerr.New(exoerr.CodeServerStartFailure, "listen address is required")
	}
	if eng == nil {
		return nil, exoerr.New(exoerr.CodeServerStartFailure, "engine is required")
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 30 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 60 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	s := &Server{
		router:  chi.NewRouter(),
		cfg:     cfg,
		engine:  eng,
		logger:  logger,
		metrics: newMetrics(eng),
	}

	r := s.router
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(corsMiddleware(cfg.CORSOrigins))
	r.Use(s.instrument)

	r.Handle("/metrics", promhttp.HandlerFor(s.metrics.registry, promhttp.HandlerOpts{}))
	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		r.Group(func(r chi.Router) {
			r.Use(s.authenticate)
			r.Post("/sparql", s.handleSPARQL)
			r.Get("/assets", s.handleAssetSearch)
			r.Get("/graph", s.handleGraphMatch)
			r.Post("/graph", s.handleGraphUpdate)
			r.Delete("/graph", s.handleGraphDelete)
			r.Get("/graph/export", s.handleGraphExport)
			r.Get("/cache/stats", s.handleCacheStats)
			r.Post("/cache/invalidate", s.handleCacheInvalidate)
			r.Put("/cache/config", s.handleCacheConfig)
		})
	})

	return s, nil
}

// Handler returns the underlying http.Handler for testing.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start runs the HTTP server and blocks until the context is cancelled,
// then performs graceful shutdown.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return exoerr.Wrapf(err, exoerr.CodeServerStartFailure, "listening on %s", s.cfg.ListenAddr)
	}

	srv := &http.Server{
		Handler:      s.router,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	s.logger.Info("api listening", "addr", ln.Addr().String(), "auth", s.cfg.APIKey != "")

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return exoerr.Wrap(err, exoerr.CodeServerStartFailure, "serving")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return exoerr.Wrap(err, exoerr.CodeServerInternalFailure, "shutting down")
	}

	return <-errCh
}

// authenticate rejects requests without the configured API key. With no
// key configured every request passes.
func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.APIKey != "" {
			given := r.Header.Get(APIKeyHeader)
			if subtle.ConstantTimeCompare([]byte(given), []byte(s.cfg.APIKey)) != 1 {
				s.logger.Debug("rejected request", "path", r.URL.Path, "remote", r.RemoteAddr)
				s.writeError(w, exoerr.New(exoerr.CodeServerAuthUnauthorized, "missing or invalid API key"))
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

// instrument records request metrics and logs each request.
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := chi.RouteContext(r.Context()).RoutePattern()
		if route == "" {
			route = "unmatched"
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		s.metrics.observeRequest(route, r.Method, status)
		s.logger.Debug("request",
			"method", r.Method,
			"route", route,
			"status", status,
			"duration", time.Since(start),
		)
	})
}

func corsMiddleware(origins []string) func(http.Handler) http.Handler {
	if len(origins) == 0 {
		origins = []string{"app://obsidian.md", "http://localhost:*", "http://127.0.0.1:*"}
	}

	return cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", APIKeyHeader},
		MaxAge:         300,
	})
}
