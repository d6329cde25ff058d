package server

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/vango-go/vai-reception/pkg/gateway/call/registry"
	"github.com/vango-go/vai-reception/pkg/gateway/call/session"
	"github.com/vango-go/vai-reception/pkg/gateway/config"
	"github.com/vango-go/vai-reception/pkg/gateway/handlers"
	"github.com/vango-go/vai-reception/pkg/gateway/lifecycle"
	"github.com/vango-go/vai-reception/pkg/gateway/metrics"
	"github.com/vango-go/vai-reception/pkg/gateway/mw"
	"github.com/vango-go/vai-reception/pkg/store"
)

type Dependencies struct {
	Config   config.Config
	Logger   *slog.Logger
	Store    store.Store
	Registry registry.Registry
	Metrics  *metrics.Metrics
	// Session is the per-call template; the media handler fills in the
	// connection.
	Session session.Dependencies
	// ReadyChecks run on /readyz in addition to the store.
	ReadyChecks []handlers.ReadyCheck
}

type Server struct {
	cfg       config.Config
	logger    *slog.Logger
	router    chi.Router
	lifecycle *lifecycle.Lifecycle
	registry  registry.Registry
}

func New(deps Dependencies) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	reg := deps.Registry
	if reg == nil {
		reg = registry.NewTracker()
	}
	s := &Server{
		cfg:       deps.Config,
		logger:    logger,
		router:    chi.NewRouter(),
		lifecycle: lifecycle.New(nil),
		registry:  reg,
	}
	s.routes(deps)
	return s
}

func (s *Server) routes(deps Dependencies) {
	r := s.router
	r.Use(mw.RequestID)
	r.Use(mw.AccessLog(s.logger))
	r.Use(mw.Recover(s.logger))
	r.NotFound(handlers.NotFoundHandler{}.ServeHTTP)
	r.MethodNotAllowed(handlers.MethodNotAllowedHandler{}.ServeHTTP)

	checks := make([]handlers.ReadyCheck, 0, len(deps.ReadyChecks)+1)
	if deps.Store != nil {
		checks = append(checks, handlers.ReadyCheck{Name: "store", Ping: deps.Store.Ping})
	}
	checks = append(checks, deps.ReadyChecks...)

	r.Handle("/healthz", handlers.HealthHandler{})
	r.Handle("/readyz", handlers.ReadyHandler{Lifecycle: s.lifecycle, Checks: checks})
	if deps.Metrics != nil {
		r.Handle("/metrics", deps.Metrics.Handler())
	}
	r.Get("/status", handlers.StatusHandler{Registry: s.registry, Lifecycle: s.lifecycle}.ServeHTTP)

	incoming := handlers.IncomingCallHandler{
		PublicHost: s.cfg.PublicHost,
		StreamPath: handlers.DefaultStreamPath,
		Metrics:    deps.Metrics,
		Logger:     s.logger,
	}
	if deps.Store != nil {
		incoming.Businesses = deps.Store
		incoming.Calls = deps.Store
	}
	r.Group(func(r chi.Router) {
		r.Use(mw.RateLimit(mw.RateLimitConfig{
			RequestLimit:      s.cfg.WebhookRateLimit,
			WindowSize:        s.cfg.WebhookRateWindow,
			TrustProxyHeaders: s.cfg.TrustProxyHeaders,
		}))
		if s.cfg.HandlerTimeout > 0 {
			r.Use(middleware.Timeout(s.cfg.HandlerTimeout))
		}
		r.Post("/voice/incoming/{businessID}", incoming.ServeHTTP)
		r.Post("/stream/incoming/{businessID}", incoming.ServeHTTP)
	})

	sessionDeps := deps.Session
	sessionDeps.Registry = s.registry
	if sessionDeps.Logger == nil {
		sessionDeps.Logger = s.logger
	}
	if sessionDeps.Metrics == nil {
		sessionDeps.Metrics = deps.Metrics
	}
	if sessionDeps.Businesses == nil && deps.Store != nil {
		sessionDeps.Businesses = deps.Store
	}
	if sessionDeps.Calls == nil && deps.Store != nil {
		sessionDeps.Calls = deps.Store
	}
	r.Get(handlers.DefaultStreamPath, handlers.MediaStreamHandler{
		Session:   sessionDeps,
		Lifecycle: s.lifecycle,
		Logger:    s.logger,
	}.ServeHTTP)
}

func (s *Server) Handler() http.Handler { return s.router }

// SetDraining fails readiness and refuses new media streams.
func (s *Server) SetDraining() {
	s.lifecycle.Drain()
}

// WarnCallsDraining logs how many calls are still running.
func (s *Server) WarnCallsDraining(ctx context.Context) {
	n, err := s.registry.Count(ctx)
	if err != nil {
		s.logger.Warn("draining; call count unavailable", "err", err)
		return
	}
	s.logger.Info("draining", "active_calls", n)
}

// WaitCalls blocks until this process's calls end or ctx is done.
func (s *Server) WaitCalls(ctx context.Context) bool {
	return s.registry.Wait(ctx)
}

// CancelCalls ends every call still running in this process.
func (s *Server) CancelCalls() int {
	n := s.registry.CancelAll()
	if n > 0 {
		s.logger.Warn("cancelled calls at shutdown", "count", n)
	}
	return n
}
