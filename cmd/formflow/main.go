// Command formflow serves the customer dashboard and offers terminal tools
// for the service catalog.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/goliatone/go-formflow/internal/config"
	"github.com/goliatone/go-formflow/internal/logging"
)

var (
	// Global flags
	verbose    bool
	gatewayURL string
	catalogDir string

	cfg    config.Config
	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:           "formflow",
	Short:         "Schema-driven service forms for the business portal",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load()
		if err != nil {
			return err
		}
		if gatewayURL != "" {
			loaded.GatewayURL = gatewayURL
		}
		if catalogDir != "" {
			loaded.CatalogDir = catalogDir
		}
		level := loaded.LogLevel
		if verbose {
			level = "debug"
		}
		l, err := logging.New(level, loaded.LogDev)
		if err != nil {
			return err
		}
		cfg, logger = loaded, l
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")
	rootCmd.PersistentFlags().StringVar(&gatewayURL, "gateway-url", "", "gateway base URL (overrides FORMFLOW_GATEWAY_URL)")
	rootCmd.PersistentFlags().StringVar(&catalogDir, "catalog-dir", "", "load the catalog from this directory instead of the bundled one")

	rootCmd.AddCommand(serveCmd, servicesCmd, fillCmd, lintCmd, importOpenAPICmd, adminCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "formflow:", err)
		os.Exit(1)
	}
}
