// Package cmd provides the superservice command-line subcommands.
package cmd

import (
	"superservice/config"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

// CLI output formatters
var (
	successColor = color.New(color.FgGreen, color.Bold)
	errorColor   = color.New(color.FgRed, color.Bold)
	infoColor    = color.New(color.FgCyan)
	headerColor  = color.New(color.FgBlue, color.Bold)
)

// Lookup returns the subcommand named by the first process argument, or nil
// when the process should run the host instead.
func Lookup(name string) *cobra.Command {
	switch name {
	case "config":
		return NewConfigCmd(config.NewLoader())
	case "version":
		return NewVersionCmd()
	}
	return nil
}

// stripNoColor removes --no-color from args so the rest can be forwarded to
// the configuration pipeline untouched.
func stripNoColor(args []string) []string {
	out := make([]string, 0, len(args))
	for _, a := range args {
		if a == "--no-color" {
			color.NoColor = true
			continue
		}
		out = append(out, a)
	}
	return out
}
