package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"syscall"

	"superservice/config"

	"github.com/gorilla/mux"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"
)

var (
	// ErrNoStartup is returned by Build when no startup handler was registered
	ErrNoStartup = errors.New("no startup handler configured")
	// ErrHostBuilt is returned when Build is called more than once
	ErrHostBuilt = errors.New("host has already been built")
)

// TracerName names the tracer handed to startup handlers
const TracerName = "superservice"

var defaultShutdownSignals = []os.Signal{os.Interrupt, syscall.SIGTERM}

// ConfigLoader resolves the host configuration from raw command-line arguments.
type ConfigLoader interface {
	Load(args []string) (*config.Config, error)
}

var _ ConfigLoader = (*config.Loader)(nil)

// HostBuilder collects host settings before Build resolves them into a Host.
// The args given to CreateDefaultBuilder reach the ConfigLoader unchanged.
type HostBuilder struct {
	args           []string
	loader         ConfigLoader
	logger         *zap.Logger
	spanProcessors []sdktrace.SpanProcessor
	signals        []os.Signal
	webSteps       []func(*WebHostBuilder)
	built          bool
}

// WebHostBuilder configures the web layer of the host.
type WebHostBuilder struct {
	url     string
	startup Startup
}

// CreateDefaultBuilder returns a builder wired with the default configuration
// pipeline: defaults, .env, config files, SUPERSERVICE_* variables and args.
func CreateDefaultBuilder(args []string) *HostBuilder {
	return &HostBuilder{
		args:    args,
		loader:  config.NewLoader(),
		signals: defaultShutdownSignals,
	}
}

// UseConfigLoader replaces the configuration pipeline.
func (b *HostBuilder) UseConfigLoader(loader ConfigLoader) *HostBuilder {
	b.loader = loader
	return b
}

// UseLogger replaces the logger built from the logging section.
func (b *HostBuilder) UseLogger(logger *zap.Logger) *HostBuilder {
	b.logger = logger
	return b
}

// AddSpanProcessor registers a span processor on the host tracer provider,
// for instance an exporter pipeline.
func (b *HostBuilder) AddSpanProcessor(sp sdktrace.SpanProcessor) *HostBuilder {
	b.spanProcessors = append(b.spanProcessors, sp)
	return b
}

// UseShutdownSignals replaces the signals Run treats as a shutdown request.
// With no signals Run only stops on context cancellation or server failure.
func (b *HostBuilder) UseShutdownSignals(signals ...os.Signal) *HostBuilder {
	b.signals = signals
	return b
}

// ConfigureWebHost registers a step that configures the web layer.
// Steps run in registration order during Build.
func (b *HostBuilder) ConfigureWebHost(step func(*WebHostBuilder)) *HostBuilder {
	b.webSteps = append(b.webSteps, step)
	return b
}

// UseURL sets the bind URL, overriding server.url from configuration.
func (w *WebHostBuilder) UseURL(url string) *WebHostBuilder {
	w.url = url
	return w
}

// UseStartup sets the startup handler that builds the request pipeline.
func (w *WebHostBuilder) UseStartup(startup Startup) *WebHostBuilder {
	w.startup = startup
	return w
}

// Build resolves configuration, logging, tracing and TLS, runs the startup
// handler and returns a Host that is ready to Start. Nothing is bound yet.
func (b *HostBuilder) Build() (*Host, error) {
	if b.built {
		return nil, ErrHostBuilt
	}

	web := &WebHostBuilder{}
	for _, step := range b.webSteps {
		step(web)
	}
	if web.startup == nil {
		return nil, ErrNoStartup
	}
	b.built = true

	cfg, err := b.loader.Load(b.args)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	listener := cfg.Listener()
	if web.url != "" {
		listener, err = config.ParseListenerURL(web.url)
		if err != nil {
			return nil, err
		}
	}
	if listener.IsZero() {
		listener, err = config.ParseListenerURL(cfg.Server.URL)
		if err != nil {
			return nil, err
		}
	}

	logger := b.logger
	if logger == nil {
		logger, _, err = InitLogger(cfg.Logging)
		if err != nil {
			return nil, err
		}
	}
	sugar := logger.Sugar()

	tp := InitTracerProvider(cfg.Tracing, b.spanProcessors...)
	fail := func(err error) (*Host, error) {
		_ = tp.Shutdown(context.Background())
		_ = logger.Sync()
		return nil, err
	}

	sugar.Infow("Building host",
		"environment", cfg.Environment,
		"url", listener.String(),
		"tracing", cfg.Tracing.Enabled,
		"metrics", cfg.Metrics.Enabled)

	server := &http.Server{
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
		MaxHeaderBytes:    cfg.Server.MaxHeaderBytes,
		ErrorLog:          zap.NewStdLog(logger.Named("http")),
	}
	if listener.IsTLS() {
		server.TLSConfig, err = LoadTLSConfig(cfg.Server, listener, sugar)
		if err != nil {
			return fail(err)
		}
	}

	hc := &HostContext{
		Config:   cfg,
		Listener: listener,
		Logger:   sugar,
		Tracer:   tp.Tracer(TracerName),
	}
	if err := web.startup.ConfigureServices(hc); err != nil {
		return fail(fmt.Errorf("startup ConfigureServices failed: %w", err))
	}

	router := mux.NewRouter()
	if err := web.startup.Configure(router); err != nil {
		return fail(fmt.Errorf("startup Configure failed: %w", err))
	}
	server.Handler = router

	return &Host{
		Config:         cfg,
		Logger:         logger,
		Sugar:          sugar,
		listenerURL:    listener,
		server:         server,
		startup:        web.startup,
		tracerProvider: tp,
		signals:        b.signals,
	}, nil
}
