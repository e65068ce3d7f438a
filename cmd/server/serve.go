package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/xerrors"

	"github.com/Brownie44l1/leaf-api/internal/handlers"
	"github.com/Brownie44l1/leaf-api/internal/lgr"
)

const waitOnShutdown = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server (default)",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := appConfig

	cache, handler := newPipeline(cfg)
	defer func() {
		if err := cache.Close(); err != nil {
			lgr.Logger.Error("failed to release model", slog.Any("error", xerrors.New(err.Error())))
		}
	}()

	if cfg.Model.Preload {
		// a failed preload is retried on the first request
		if _, err := cache.Get(); err != nil {
			lgr.Logger.Warn("model preload failed", slog.Any("error", err))
		}
	}

	server := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           handlers.NewRouter(handler),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	serverErr := make(chan error, 1)
	go func() {
		lgr.Logger.Info("server starting",
			slog.String("addr", server.Addr),
			slog.String("model", cfg.Model.Path),
			slog.Bool("debug", cfg.Debug),
		)
		lgr.Logger.Info("endpoints",
			slog.String("GET /", "upload page"),
			slog.String("GET /health", "health check"),
			slog.String("POST /predict", "classify an uploaded image (field: file)"),
			slog.String("GET /metrics", "prometheus metrics"),
		)
		serverErr <- server.ListenAndServe()
	}()

	select {
	case err := <-serverErr:
		if !errors.Is(err, http.ErrServerClosed) {
			lgr.Logger.Error("server failed", slog.Any("error", xerrors.New(err.Error())))
			return err
		}
		return nil
	case <-ctx.Done():
		lgr.Logger.Info("received kill signal, shutting down", slog.Duration("grace", waitOnShutdown))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), waitOnShutdown)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		lgr.Logger.Error("graceful shutdown failed", slog.Any("error", xerrors.New(err.Error())))
		return err
	}

	lgr.Logger.Info("server stopped")
	return nil
}
