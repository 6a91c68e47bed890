package bootstrap

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"time"

	"superservice/config"
	"superservice/metrics"
	"superservice/util/goroutine"

	"github.com/hashicorp/go-multierror"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"
)

// ErrHostStarted is returned when Start is called on a running host
var ErrHostStarted = errors.New("host has already been started")

// Host is a built web host. It owns exactly one listener once started.
type Host struct {
	Config *config.Config
	Logger *zap.Logger
	Sugar  *zap.SugaredLogger

	listenerURL    config.ListenerURL
	server         *http.Server
	startup        Startup
	tracerProvider *sdktrace.TracerProvider
	signals        []os.Signal

	mu        sync.Mutex
	started   bool
	listener  net.Listener
	serveDone <-chan error

	shutdownOnce sync.Once
	shutdownErr  error
}

// ListenerURL returns the resolved bind URL
func (h *Host) ListenerURL() config.ListenerURL {
	return h.listenerURL
}

// Start binds the listener and begins serving in the background.
// Binding is synchronous: when Start returns nil the port is accepting
// connections, and when it fails nothing is left bound.
func (h *Host) Start(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.started {
		return ErrHostStarted
	}

	addr := h.listenerURL.Address()
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return &ListenError{Address: addr, Err: err}
	}

	h.listener = ln
	h.started = true

	tlsEnabled := h.listenerURL.IsTLS()
	h.serveDone = goroutine.Go("http-server", h.Sugar, func() error {
		var serveErr error
		if tlsEnabled {
			// certificates come from TLSConfig
			serveErr = h.server.ServeTLS(ln, "", "")
		} else {
			serveErr = h.server.Serve(ln)
		}
		if errors.Is(serveErr, http.ErrServerClosed) {
			return nil
		}
		return serveErr
	})

	metrics.HostUp.Set(1)
	metrics.HostStartTime.Set(float64(time.Now().Unix()))
	metrics.HostInfo.WithLabelValues(string(h.Config.Environment), h.listenerURL.Scheme(), ln.Addr().String()).Set(1)

	h.Sugar.Infow("Host started",
		"scheme", h.listenerURL.Scheme(),
		"address", ln.Addr().String(),
		"environment", h.Config.Environment)
	return nil
}

// Addr returns the bound address, or nil before Start.
// With port 0 this is where the kernel-assigned port can be read.
func (h *Host) Addr() net.Addr {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.listener == nil {
		return nil
	}
	return h.listener.Addr()
}

// Run starts the host and blocks until ctx is cancelled, a shutdown signal
// arrives or the server fails, then shuts down gracefully.
func (h *Host) Run(ctx context.Context) error {
	if err := h.Start(ctx); err != nil {
		if shutdownErr := h.Shutdown(context.Background()); shutdownErr != nil {
			h.Sugar.Warnw("Cleanup after failed start reported errors", "error", shutdownErr)
		}
		return err
	}

	runCtx := ctx
	if len(h.signals) > 0 {
		var stop context.CancelFunc
		runCtx, stop = signal.NotifyContext(ctx, h.signals...)
		defer stop()
	}

	var serveErr error
	select {
	case <-runCtx.Done():
		h.Sugar.Info("Shutdown signal received, initiating graceful shutdown...")
	case serveErr = <-h.serveDone:
		if serveErr != nil {
			h.Sugar.Errorw("Server stopped unexpectedly", "error", serveErr)
		}
	}

	if err := h.Shutdown(context.Background()); err != nil {
		if serveErr == nil {
			return err
		}
		return multierror.Append(serveErr, err)
	}
	return serveErr
}

// Shutdown stops the host in phases, bounded by server.shutdown_timeout:
// the startup handler is notified, the listener keeps serving for
// server.drain_delay, in-flight requests drain, then the tracer provider
// flushes. Errors from every phase are aggregated.
// Only the first call does work; later calls return the same result.
func (h *Host) Shutdown(ctx context.Context) error {
	h.shutdownOnce.Do(func() {
		h.shutdownErr = h.shutdown(ctx)
	})
	return h.shutdownErr
}

func (h *Host) shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, h.Config.Server.ShutdownTimeout)
	defer cancel()

	h.Sugar.Info("Starting graceful shutdown...")
	var result *multierror.Error

	// Phase 1: let the startup handler flip readiness
	if stopper, ok := h.startup.(Stopper); ok {
		if err := stopper.Stop(ctx); err != nil {
			h.Sugar.Errorw("Startup handler stop failed", "error", err)
			result = multierror.Append(result, err)
		}
	}

	// Phase 2: stop accepting and drain in-flight requests
	h.mu.Lock()
	started, done := h.started, h.serveDone
	h.mu.Unlock()
	if started {
		if delay := h.Config.Server.DrainDelay; delay > 0 {
			h.Sugar.Infow("Draining before closing the listener", "delay", delay)
			timer := time.NewTimer(delay)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
			}
		}
		if err := h.server.Shutdown(ctx); err != nil {
			h.Sugar.Errorw("HTTP server shutdown failed", "error", err)
			result = multierror.Append(result, err)
			_ = h.server.Close()
		}
		select {
		case err := <-done:
			if err != nil {
				result = multierror.Append(result, err)
			}
		case <-ctx.Done():
			result = multierror.Append(result, ctx.Err())
		}
		h.Sugar.Info("HTTP server stopped")
	}

	// Phase 3: flush spans
	if err := h.tracerProvider.Shutdown(ctx); err != nil {
		h.Sugar.Errorw("Tracer provider shutdown failed", "error", err)
		result = multierror.Append(result, err)
	}

	metrics.HostUp.Set(0)
	h.Sugar.Info("Graceful shutdown complete")
	_ = h.Logger.Sync()

	return result.ErrorOrNil()
}
