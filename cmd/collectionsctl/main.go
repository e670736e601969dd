// Command collectionsctl is the operator CLI for the collections backend.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/recoverly/golang_services/internal/platform/config"
	"github.com/recoverly/golang_services/internal/platform/logger"
)

const serviceName = "collectionsctl"

var Version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "collectionsctl",
		Short:         "Operator tooling for the collections email service",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(outreachCmd())
	rootCmd.AddCommand(threadCmd())
	rootCmd.AddCommand(parseHeaderCmd())
	rootCmd.AddCommand(paylinkCmd())
	rootCmd.AddCommand(signWebhookCmd())

	return rootCmd
}

// loadConfig is shared by the commands that talk to Postgres or providers. Logs go to stderr
// so command output stays pipeable.
func loadConfig() (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(serviceName)
	if err != nil {
		return nil, nil, fmt.Errorf("loading configuration: %w", err)
	}
	return cfg, logger.NewWithWriter(os.Stderr, cfg.LogLevel).With("service", serviceName), nil
}
