// Package main is the entry point for the superservice host.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"superservice/api"
	"superservice/bootstrap"
	"superservice/cmd"
)

// newHostBuilder wires the default startup handler. args reach the
// configuration pipeline unchanged.
func newHostBuilder(args []string) *bootstrap.HostBuilder {
	return bootstrap.CreateDefaultBuilder(args).
		ConfigureWebHost(func(web *bootstrap.WebHostBuilder) {
			web.UseStartup(api.NewStartup())
		})
}

// run builds the host and blocks until it shuts down.
func run(ctx context.Context, builder *bootstrap.HostBuilder) error {
	host, err := builder.Build()
	if err != nil {
		return fmt.Errorf("failed to build host: %w", err)
	}

	if err := host.Run(ctx); err != nil {
		return fmt.Errorf("host stopped with error: %w", err)
	}
	return nil
}

// printError writes the failure and, for bind failures, remediation steps.
func printError(w io.Writer, err error) {
	fmt.Fprintf(w, "Error: %v\n", err)

	var lerr *bootstrap.ListenError
	if errors.As(err, &lerr) {
		fmt.Fprintln(w, bootstrap.ClassifyListenError(lerr.Err, lerr.Address))
	}
}

func main() {
	// Check if running as CLI command
	if len(os.Args) > 1 {
		if command := cmd.Lookup(os.Args[1]); command != nil {
			command.SetArgs(os.Args[2:])
			if err := command.Execute(); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			return
		}
	}

	if err := run(context.Background(), newHostBuilder(os.Args[1:])); err != nil {
		printError(os.Stderr, err)
		os.Exit(1)
	}
}
