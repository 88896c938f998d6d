// main.go: student registry HTTP service.
//
// Boot order: environment (.env optional) → slog → entity store (SQL,
// Redis or MongoDB, picked by STORE_BACKEND) → registry → chi router →
// http.Server, shut down gracefully on SIGINT/SIGTERM.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Skryldev/student-registry/config"
	"github.com/Skryldev/student-registry/metrics"
	"github.com/Skryldev/student-registry/registry"
	"github.com/Skryldev/student-registry/server"
)

func main() {
	if err := config.LoadEnvFile(".env"); err != nil {
		fatalf("%v", err)
	}
	cfg := config.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New()

	store, closeStore, err := openStore(ctx, cfg, m, logger)
	if err != nil {
		fatalf("store init failed: %v", err)
	}
	defer func() {
		if err := closeStore(); err != nil {
			logger.Error("store close error", "error", err)
		}
	}()

	reg := registry.New(store, registry.WithLogger(logger))
	srv := server.New(server.Config{
		JWTSecret: cfg.JWTSecret,
		JWTIssuer: cfg.JWTIssuer,
	}, reg, m, logger)

	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("student registry listening", "addr", cfg.HTTPAddr, "backend", cfg.StoreBackend)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
			stop()
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}
	logger.Info("student registry stopped")
}

func fatalf(format string, args ...any) {
	slog.Error(fmt.Sprintf(format, args...))
	os.Exit(1)
}
