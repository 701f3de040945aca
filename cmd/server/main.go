// Package main runs the query API as a standalone HTTP server.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/crisgenomics/cris-query/internal/config"
	"github.com/crisgenomics/cris-query/internal/downstream"
	"github.com/crisgenomics/cris-query/internal/handler"
	"github.com/crisgenomics/cris-query/internal/httpserver"
	"github.com/crisgenomics/cris-query/internal/metrics"
	"github.com/crisgenomics/cris-query/pkg/logger"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("server: %v", err)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	lg, err := logger.New(logger.Config{Level: cfg.Log.Level, Development: cfg.Log.Development})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer func() { _ = lg.Sync() }()

	if !cfg.Log.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	metrics.Register()

	opts := handler.Options{
		Mode:     cfg.Query.Mode,
		MaxLimit: cfg.Query.MaxLimit,
		Timeout:  cfg.Downstream.Timeout,
	}
	if cfg.Query.Mode == config.ModeForward {
		opts.Executor, err = downstream.New(ctx, cfg.Downstream)
		if err != nil {
			return fmt.Errorf("create downstream executor: %w", err)
		}
	}
	svc, err := handler.New(opts)
	if err != nil {
		return fmt.Errorf("create query service: %w", err)
	}

	deps := httpserver.Dependencies{
		Service:        svc,
		Logger:         lg.WithComponent("http"),
		TrustedProxies: cfg.Server.TrustedProxies,
	}
	if cfg.RateLimit.Enabled {
		deps.RateLimiter = httpserver.NewIPRateLimiter(rate.Limit(cfg.RateLimit.RPS), cfg.RateLimit.Burst)
	}

	router, err := httpserver.New(deps)
	if err != nil {
		return fmt.Errorf("create router: %w", err)
	}
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	errCh := make(chan error, 1)
	go func() {
		lg.Infow("http server listening", "addr", srv.Addr, "mode", cfg.Query.Mode)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	lg.Infow("shutting down", "timeout", cfg.Server.ShutdownTimeout)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	lg.Infow("server stopped")
	return nil
}
