package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/gregtusar/coveredcalls/api"
)

const (
	gatewayKeepAlive = time.Minute
	shutdownTimeout  = 10 * time.Second
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the monitoring loops and the dashboard API",
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	if a.ibkr != nil {
		go a.ibkr.KeepAlive(ctx, gatewayKeepAlive)
	}

	if err := a.engine.Start(ctx); err != nil {
		return err
	}

	server := api.NewServer(a.engine, a.cfg.Server, api.NewAuth(a.cfg.Auth.JWTSecret, a.cfg.Auth.TokenTTL), a.logger)
	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	a.logger.WithField("mode", a.engine.Mode()).Info("Covered call assistant is running. Press Ctrl+C to stop.")

	select {
	case <-sigChan:
		a.logger.Info("Received shutdown signal")
	case err = <-errCh:
		if err != nil {
			a.logger.WithError(err).Error("API server stopped")
		}
	}

	shutdownCtx, stop := context.WithTimeout(context.Background(), shutdownTimeout)
	defer stop()
	if serr := server.Shutdown(shutdownCtx); serr != nil {
		a.logger.WithError(serr).Warn("API server shutdown failed")
	}
	a.engine.Stop()
	cancel()

	a.logger.Info("Covered call assistant stopped")
	return err
}
