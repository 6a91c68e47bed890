// Package bootstrap builds and runs the superservice host.
// It turns raw command-line arguments into a configured, listening HTTPS
// server and manages its lifecycle until shutdown.
//
// Usage:
//
//	host, err := bootstrap.CreateDefaultBuilder(os.Args[1:]).
//	    ConfigureWebHost(func(web *bootstrap.WebHostBuilder) {
//	        web.UseStartup(api.NewStartup())
//	    }).
//	    Build()
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	// Blocks until SIGINT/SIGTERM or ctx cancellation, then shuts down
//	if err := host.Run(ctx); err != nil {
//	    log.Fatal(err)
//	}
package bootstrap
