// Package server provides the HTTP server setup and wiring.
package server

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/pendergraft/contraverify/internal/config"
	"github.com/pendergraft/contraverify/internal/middleware/ratelimit"
	"github.com/pendergraft/contraverify/internal/middleware/realip"
	"github.com/pendergraft/contraverify/internal/observability/metrics"
	verificationTransport "github.com/pendergraft/contraverify/internal/verification/transport"
)

// Server is the HTTP server
type Server struct {
	cfg     *config.Config
	logger  *slog.Logger
	router  *chi.Mux
	limiter *ratelimit.Limiter

	verificationSvc verificationTransport.Service
}

// New creates a new server around an already wired verification service.
func New(cfg *config.Config, svc verificationTransport.Service, logger *slog.Logger) *Server {
	s := &Server{
		cfg:             cfg,
		logger:          logger,
		router:          chi.NewRouter(),
		verificationSvc: svc,
	}
	if cfg.RateLimit.Enabled {
		s.limiter = ratelimit.New(ratelimit.Config{
			Enabled:        true,
			RequestsPerMin: cfg.RateLimit.RequestsPerMin,
			BurstSize:      cfg.RateLimit.BurstSize,
			CleanupMinutes: cfg.RateLimit.CleanupMinutes,
		})
	}

	s.setupMiddleware()
	s.setupRoutes()

	return s
}

// Handler returns the HTTP handler
func (s *Server) Handler() http.Handler {
	return s.router
}

// MetricsHandler returns the metrics HTTP handler for separate metrics server
func (s *Server) MetricsHandler() http.Handler {
	return metrics.Handler()
}

// Close releases background resources.
func (s *Server) Close() {
	if s.limiter != nil {
		s.limiter.Stop()
	}
}

func (s *Server) setupMiddleware() {
	// Real IP first so logging and rate limiting see the client address.
	s.router.Use(realip.Middleware(realip.Config{
		TrustProxy:     s.cfg.Proxy.TrustProxy,
		TrustedProxies: s.cfg.Proxy.TrustedProxies,
	}))
	s.router.Use(MaxBodySize(int64(s.cfg.Server.MaxBodySizeMB) << 20))
	s.router.Use(middleware.RequestID)
	s.router.Use(NewLoggingMiddleware(s.logger))
	s.router.Use(metrics.Middleware)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Compress(5))

	s.router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Accept, Content-Type")
			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusOK)
				return
			}
			next.ServeHTTP(w, r)
		})
	})
}

func (s *Server) setupRoutes() {
	s.router.Get("/health", s.handleHealth)
	s.router.Get("/healthz", s.handleHealth)
	s.router.Get("/readyz", s.handleHealth)

	if metrics.Enabled() && s.cfg.Metrics.Port == 0 {
		s.router.Handle("/metrics", metrics.Handler())
	}

	verificationHandler := verificationTransport.NewHandler(s.verificationSvc)

	s.router.Route("/api/v1", func(r chi.Router) {
		verificationHandler.RegisterReadRoutes(r)

		// Verification runs compile and hit RPC providers, so only they are limited.
		r.Group(func(r chi.Router) {
			if s.limiter != nil {
				r.Use(s.limiter.Handler)
			}
			verificationHandler.RegisterWriteRoutes(r)
		})
	})
}

// Health check handler
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
