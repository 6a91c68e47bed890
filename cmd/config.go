package cmd

import (
	"fmt"

	"superservice/bootstrap"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// NewConfigCmd creates the config command. Its subcommands take the same
// arguments as the host and resolve them through loader.
func NewConfigCmd(loader bootstrap.ConfigLoader) *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect the effective host configuration",
		Long: `Inspect the configuration the host would run with.

Arguments are resolved exactly as when running the host: defaults, .env,
config.yaml and config.<environment>.yaml, SUPERSERVICE_* variables, then
--key=value arguments.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	configCmd.AddCommand(newShowCmd(loader))
	configCmd.AddCommand(newValidateCmd(loader))
	return configCmd
}

func newShowCmd(loader bootstrap.ConfigLoader) *cobra.Command {
	return &cobra.Command{
		Use:                "show [--key=value ...]",
		Short:              "Print the effective configuration as YAML",
		DisableFlagParsing: true,
		SilenceUsage:       true,
		SilenceErrors:      true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loader.Load(stripNoColor(args))
			if err != nil {
				return err
			}

			out, err := yaml.Marshal(cfg)
			if err != nil {
				return fmt.Errorf("failed to encode configuration: %w", err)
			}

			w := cmd.OutOrStdout()
			headerColor.Fprintf(w, "# Effective configuration (environment: %s)\n", cfg.Environment)
			_, err = w.Write(out)
			return err
		},
	}
}

func newValidateCmd(loader bootstrap.ConfigLoader) *cobra.Command {
	return &cobra.Command{
		Use:                "validate [--key=value ...]",
		Short:              "Check that the configuration loads and validates",
		DisableFlagParsing: true,
		SilenceUsage:       true,
		SilenceErrors:      true,
		RunE: func(cmd *cobra.Command, args []string) error {
			w := cmd.OutOrStdout()

			cfg, err := loader.Load(stripNoColor(args))
			if err != nil {
				errorColor.Fprintln(w, "✗ Configuration is invalid")
				fmt.Fprintf(w, "  %v\n", err)
				return err
			}

			listener := cfg.Listener()
			successColor.Fprintln(w, "✓ Configuration is valid")
			infoColor.Fprintf(w, "  Environment: %s\n", cfg.Environment)
			infoColor.Fprintf(w, "  Listener:    %s\n", listener)
			if listener.IsTLS() {
				switch {
				case cfg.Server.CertFile != "":
					infoColor.Fprintf(w, "  Certificate: %s\n", cfg.Server.CertFile)
				case len(cfg.Server.ACMEHosts) > 0:
					infoColor.Fprintf(w, "  Certificate: ACME for %v\n", cfg.Server.ACMEHosts)
				case cfg.Server.DevCertificate:
					infoColor.Fprintln(w, "  Certificate: self-signed development certificate")
				default:
					errorColor.Fprintln(w, "  Certificate: none configured, the host will refuse to start")
					return bootstrap.ErrNoCertificate
				}
			}
			return nil
		},
	}
}
