// Package main is the entry point for the genomic query Lambda function.
package main

import (
	"context"
	"encoding/json"
	"log"

	"github.com/aws/aws-lambda-go/lambda"

	"github.com/crisgenomics/cris-query/internal/config"
	"github.com/crisgenomics/cris-query/internal/downstream"
	"github.com/crisgenomics/cris-query/internal/gateway"
	"github.com/crisgenomics/cris-query/internal/handler"
	"github.com/crisgenomics/cris-query/pkg/logger"
)

func main() {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	lg, err := logger.New(logger.Config{Level: cfg.Log.Level, Development: cfg.Log.Development})
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer func() { _ = lg.Sync() }()

	opts := handler.Options{
		Mode:     cfg.Query.Mode,
		MaxLimit: cfg.Query.MaxLimit,
		Timeout:  cfg.Downstream.Timeout,
	}
	if cfg.Query.Mode == config.ModeForward {
		opts.Executor, err = downstream.New(ctx, cfg.Downstream)
		if err != nil {
			lg.Fatalw("failed to create downstream executor", "error", err)
		}
	}

	svc, err := handler.New(opts)
	if err != nil {
		lg.Fatalw("failed to create query service", "error", err)
	}

	fn := &function{gw: gateway.New(svc), log: lg.WithComponent("lambda")}
	lg.Infow("lambda ready", "mode", cfg.Query.Mode, "transport", cfg.Downstream.Transport)
	lambda.Start(fn.handleRequest)
}

type function struct {
	gw  *gateway.Gateway
	log *logger.Logger
}

func (f *function) handleRequest(ctx context.Context, event json.RawMessage) (interface{}, error) {
	ctx = logger.WithLogger(ctx, f.log)

	// Warmup detection (MUST be first - before any other processing)
	if warmup, ok := IsWarmupEvent(event); ok {
		return HandleWarmup(ctx, warmup, nil)
	}

	return f.gw.HandleEvent(ctx, event)
}
