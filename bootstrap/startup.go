package bootstrap

import (
	"context"

	"superservice/config"

	"github.com/gorilla/mux"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// HostContext is handed to the startup handler while the host is being built.
// Everything in it is resolved and immutable by the time ConfigureServices runs.
type HostContext struct {
	Config   *config.Config
	Listener config.ListenerURL
	Logger   *zap.SugaredLogger
	Tracer   trace.Tracer
}

// Startup configures the request pipeline of a web host.
//
// ConfigureServices runs first and may acquire resources; Configure then
// registers routes and middleware on the router that becomes the server handler.
type Startup interface {
	ConfigureServices(hc *HostContext) error
	Configure(router *mux.Router) error
}

// Stopper is implemented by startup handlers that must release resources or
// flip readiness before the server stops accepting connections.
type Stopper interface {
	Stop(ctx context.Context) error
}
