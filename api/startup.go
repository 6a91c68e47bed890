// Package api is the default request pipeline of the superservice host.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"superservice/bootstrap"
	"superservice/config"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

var errNotConfigured = errors.New("api startup: Configure called before ConfigureServices")

// Startup is the default bootstrap.Startup. It serves a health probe and
// Prometheus metrics behind the standard middleware chain.
type Startup struct {
	config   *config.Config
	listener config.ListenerURL
	logger   *zap.SugaredLogger
	tracer   trace.Tracer
	limiter  *ClientRateLimiter

	startedAt time.Time
	draining  atomic.Bool
}

// NewStartup creates the default startup handler
func NewStartup() *Startup {
	return &Startup{}
}

var (
	_ bootstrap.Startup = (*Startup)(nil)
	_ bootstrap.Stopper = (*Startup)(nil)
)

// ConfigureServices captures the host services and builds the rate limiter.
func (s *Startup) ConfigureServices(hc *bootstrap.HostContext) error {
	s.config = hc.Config
	s.listener = hc.Listener
	s.logger = hc.Logger
	s.tracer = hc.Tracer
	s.startedAt = time.Now()

	if hc.Config.RateLimit.Enabled {
		limiter, err := NewClientRateLimiter(hc.Config.RateLimit, hc.Logger)
		if err != nil {
			return err
		}
		s.limiter = limiter
		s.logger.Infow("Rate limiting enabled",
			"requests_per_second", hc.Config.RateLimit.RequestsPerSecond,
			"burst", hc.Config.RateLimit.Burst,
			"shared", hc.Config.RateLimit.RedisAddr != "")
	}
	return nil
}

// Configure registers middleware and routes.
func (s *Startup) Configure(router *mux.Router) error {
	if s.config == nil {
		return errNotConfigured
	}

	middlewares := s.middlewares()
	router.Use(middlewares...)

	router.HandleFunc(s.config.Health.Path, s.healthCheck).Methods(http.MethodGet, http.MethodHead)
	if s.config.Metrics.Enabled {
		router.Handle(s.config.Metrics.Path, promhttp.Handler()).Methods(http.MethodGet)
	}

	// mux only runs Use middleware on matched routes
	router.NotFoundHandler = chain(http.HandlerFunc(s.notFound), middlewares)
	router.MethodNotAllowedHandler = chain(http.HandlerFunc(s.methodNotAllowed), middlewares)
	return nil
}

// Stop marks the health endpoint as draining and releases the rate limiter.
// Probes only observe the 503 while server.drain_delay keeps the listener
// open; rate limiting falls back to in-memory buckets for that window.
func (s *Startup) Stop(ctx context.Context) error {
	s.draining.Store(true)
	if s.logger != nil {
		s.logger.Info("Health endpoint draining")
	}
	if s.limiter != nil {
		if err := s.limiter.Close(); err != nil {
			return fmt.Errorf("failed to close rate limiter: %w", err)
		}
	}
	return nil
}

// middlewares returns the chain outermost first. Recovery runs twice: the
// inner layer turns handler panics into a 500 that tracing, logging and
// metrics still observe, the outer one guards the middleware themselves.
func (s *Startup) middlewares() []mux.MiddlewareFunc {
	mws := []mux.MiddlewareFunc{
		s.errorRecoveryMiddleware,
		s.requestIDMiddleware,
		s.tracingMiddleware,
		s.loggingMiddleware,
		metricsMiddleware,
		s.errorRecoveryMiddleware,
		s.securityHeadersMiddleware,
	}
	if s.limiter != nil {
		mws = append(mws, s.rateLimitMiddleware)
	}
	return mws
}

func chain(h http.Handler, mws []mux.MiddlewareFunc) http.Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}
