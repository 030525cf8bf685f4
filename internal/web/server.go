// Package web provides the HTTP API for bulk observation imports.
package web

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/JonMunkholm/auditimport/internal/config"
	"github.com/JonMunkholm/auditimport/internal/core"
	"github.com/JonMunkholm/auditimport/internal/metrics"
	"github.com/JonMunkholm/auditimport/internal/telemetry"
	"github.com/JonMunkholm/auditimport/internal/web/middleware"
)

// HealthFunc reports whether the server's dependencies are reachable.
type HealthFunc func(ctx context.Context) error

// ServerDeps are the optional collaborators of a Server.
type ServerDeps struct {
	Metrics   *metrics.Recorder // nil disables /metrics and request metrics
	RateStore *RateStore        // nil means an in-memory store
	Health    HealthFunc        // nil always reports healthy
	Clock     core.Clock
}

// Server is the HTTP server for the import API.
type Server struct {
	service *core.Service
	cfg     *config.Config
	metrics *metrics.Recorder
	rates   *RateStore
	health  HealthFunc
	clock   core.Clock
	router  *chi.Mux
	server  *http.Server
}

// NewServer creates a new Server instance.
func NewServer(service *core.Service, cfg *config.Config, deps ServerDeps) *Server {
	s := &Server{
		service: service,
		cfg:     cfg,
		metrics: deps.Metrics,
		rates:   deps.RateStore,
		health:  deps.Health,
		clock:   deps.Clock,
		router:  chi.NewRouter(),
	}
	if s.rates == nil {
		s.rates = newMemoryRateStore()
	}
	if s.clock == nil {
		s.clock = core.SystemClock{}
	}
	s.setupMiddleware()
	s.setupRoutes()
	return s
}

// setupMiddleware configures middleware for all routes.
func (s *Server) setupMiddleware() {
	s.router.Use(chimw.RequestID)
	s.router.Use(middleware.TrustedRealIP(s.cfg.Security.TrustedProxies))
	s.router.Use(telemetry.Middleware)
	s.router.Use(middleware.Logger)
	s.router.Use(chimw.Recoverer)
	s.router.Use(securityHeaders(s.cfg.Security.EnableCSP))

	if len(s.cfg.Security.AllowedOrigins) > 0 {
		s.router.Use(cors.Handler(cors.Options{
			AllowedOrigins:   s.cfg.Security.AllowedOrigins,
			AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
			AllowedHeaders:   []string{"Accept", "Content-Type", "X-API-Key", middleware.UserIDHeader, "traceparent"},
			ExposedHeaders:   []string{"Location", "X-Request-Id", "X-RateLimit-Remaining"},
			AllowCredentials: false,
			MaxAge:           300,
		}))
	}
}

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() {
	s.router.Get("/healthz", s.handleHealth)
	if s.metrics != nil {
		s.router.Handle("/metrics", s.metrics.Handler())
	}

	s.router.Route("/import", func(r chi.Router) {
		r.Use(middleware.APIKeyAuth(&s.cfg.Security))
		r.Use(middleware.Identity)
		r.Use(requestMetadata)
		if s.cfg.Rate.Enabled {
			r.Use(rateLimit(s.rates, "global", s.cfg.Rate.RequestsPerMinute))
		}

		// Uploads and executes are the expensive calls; they get their own
		// tighter limit. Execute carries no request timeout because the
		// service bounds it independently of the client.
		r.Group(func(r chi.Router) {
			if s.cfg.Rate.Enabled {
				r.Use(rateLimit(s.rates, "import", s.cfg.Rate.UploadLimit))
			}
			s.handle(r, http.MethodPost, "/{jobId}/execute", s.handleExecute)
			r.Group(func(r chi.Router) {
				r.Use(chimw.Timeout(s.requestTimeout()))
				s.handle(r, http.MethodPost, "/upload", s.handleUpload)
			})
		})

		r.Group(func(r chi.Router) {
			r.Use(chimw.Timeout(s.requestTimeout()))

			s.handle(r, http.MethodPost, "/detect-columns", s.handleDetectColumns)

			s.handle(r, http.MethodPost, "/{jobId}/validate", s.handleValidate)
			s.handle(r, http.MethodGet, "/{jobId}/status", s.handleStatus)
			s.handle(r, http.MethodGet, "/{jobId}/outcomes", s.handleOutcomes)
			s.handle(r, http.MethodGet, "/{jobId}/rejected.csv", s.handleExportRejected)
			s.handle(r, http.MethodGet, "/{jobId}/report", s.handleReport)
			s.handle(r, http.MethodPost, "/{jobId}/rollback", s.handleRollback)

			s.handle(r, http.MethodGet, "/templates", s.handleListTemplates)
			s.handle(r, http.MethodPost, "/templates", s.handleCreateTemplate)
			s.handle(r, http.MethodGet, "/templates/match", s.handleMatchTemplates)
			s.handle(r, http.MethodGet, "/templates/{id}", s.handleGetTemplate)
			s.handle(r, http.MethodPut, "/templates/{id}", s.handleUpdateTemplate)
			s.handle(r, http.MethodDelete, "/templates/{id}", s.handleDeleteTemplate)
		})
	})
}

// handle registers h, counting its requests under the full route pattern.
func (s *Server) handle(r chi.Router, method, pattern string, h http.HandlerFunc) {
	var handler http.Handler = h
	if s.metrics != nil {
		handler = s.metrics.Instrument("/import"+pattern, handler)
	}
	r.Method(method, pattern, handler)
}

func (s *Server) requestTimeout() time.Duration {
	if s.cfg.Server.RequestTimeout > 0 {
		return s.cfg.Server.RequestTimeout
	}
	return 60 * time.Second
}

func (s *Server) now() time.Time {
	return s.clock.Now()
}

// handleHealth reports dependency health and import capacity.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := map[string]any{
		"status":  "ok",
		"imports": s.service.Limiter().Status(),
	}
	if s.health != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.health(ctx); err != nil {
			status["status"] = "unavailable"
			status["error"] = err.Error()
			writeJSONStatus(w, http.StatusServiceUnavailable, status)
			return
		}
	}
	writeJSON(w, status)
}

// Start begins listening for HTTP requests. It returns http.ErrServerClosed
// after Shutdown.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:              s.cfg.Server.Addr(),
		Handler:           s.router,
		ReadTimeout:       s.cfg.Server.ReadTimeout,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      s.cfg.Server.WriteTimeout,
		IdleTimeout:       s.cfg.Server.IdleTimeout,
	}

	slog.Info("starting server", "addr", s.server.Addr)
	return s.server.ListenAndServe()
}

// Shutdown stops accepting requests, waits for in-flight requests and then
// for running imports to finish. It closes the rate store.
func (s *Server) Shutdown(ctx context.Context) error {
	var errs []error
	if s.server != nil {
		errs = append(errs, s.server.Shutdown(ctx))
	}
	if err := s.service.Limiter().WaitForDrain(ctx); err != nil {
		errs = append(errs, err)
	}
	errs = append(errs, s.rates.Close())
	return errors.Join(errs...)
}

// Router returns the underlying chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// securityHeaders adds security headers to all responses.
func securityHeaders(enableCSP bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Prevent MIME type sniffing
			w.Header().Set("X-Content-Type-Options", "nosniff")

			// Prevent clickjacking
			w.Header().Set("X-Frame-Options", "DENY")

			if enableCSP {
				// The report page uses an inline style block and nothing else.
				w.Header().Set("Content-Security-Policy", "default-src 'none'; style-src 'unsafe-inline'; frame-ancestors 'none'")
			}

			w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")

			next.ServeHTTP(w, r)
		})
	}
}
