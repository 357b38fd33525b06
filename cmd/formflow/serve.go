package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/goliatone/go-formflow/internal/web"
	"github.com/goliatone/go-formflow/pkg/admin"
	"github.com/goliatone/go-formflow/pkg/catalog"
	"github.com/goliatone/go-formflow/pkg/submission"
)

// shutdownTimeout bounds graceful server shutdown.
const shutdownTimeout = 10 * time.Second

var (
	serveAddr    string
	forwardToken bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the customer dashboard",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (overrides FORMFLOW_ADDR)")
	serveCmd.Flags().BoolVar(&forwardToken, "forward-token", false, "send the customer's token to the gateway instead of the service token")
}

func runServe(cmd *cobra.Command, _ []string) error {
	if serveAddr != "" {
		cfg.Addr = serveAddr
	}
	if err := cfg.RequireServer(); err != nil {
		return err
	}
	cat, err := loadCatalog()
	if err != nil {
		return err
	}
	client, err := newGateway()
	if err != nil {
		return err
	}

	srv, err := web.NewServer(cfg.JWTSecret, cat,
		catalog.NewDispatcher(cat, client, catalog.WithDispatcherLogger(logger.Named("catalog"))),
		submission.NewAdapter(client, submission.WithLogger(logger.Named("submission"))),
		web.WithLogger(logger.Named("web")),
		web.WithAdmin(admin.NewClient(client, admin.WithLogger(logger.Named("admin")))),
		web.WithForwardToken(forwardToken),
	)
	if err != nil {
		return err
	}

	httpServer := &http.Server{Addr: cfg.Addr, Handler: srv.Handler()}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", zap.String("addr", cfg.Addr), zap.Int("services", cat.Len()))
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-cmd.Context().Done():
	}

	logger.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return httpServer.Shutdown(ctx)
}
