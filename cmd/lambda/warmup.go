package main

import (
	"context"
	"encoding/json"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	lambdasdk "github.com/aws/aws-sdk-go-v2/service/lambda"
	"github.com/aws/aws-sdk-go-v2/service/lambda/types"

	"github.com/crisgenomics/cris-query/internal/downstream"
	"github.com/crisgenomics/cris-query/pkg/logger"
)

const (
	// WarmupSource is the "source" of scheduled keep-warm events.
	WarmupSource = "warmup"

	// WarmupDelay keeps this instance busy long enough for the
	// self-invocations to land on other instances.
	WarmupDelay = 75 * time.Millisecond

	maxWarmupConcurrency = 50
)

// WarmupEvent is the scheduled keep-warm payload.
type WarmupEvent struct {
	Source      string `json:"source"`
	Concurrency int    `json:"concurrency"`
}

// WarmupResponse reports how many instances a warmup touched.
type WarmupResponse struct {
	Status          string `json:"status"`
	InstancesWarmed int    `json:"instancesWarmed"`
}

// IsWarmupEvent reports whether event is a keep-warm ping. Concurrency is
// clamped to [0, maxWarmupConcurrency].
func IsWarmupEvent(event json.RawMessage) (*WarmupEvent, bool) {
	var probe struct {
		Source      string  `json:"source"`
		Concurrency float64 `json:"concurrency"`
	}
	if err := json.Unmarshal(event, &probe); err != nil || probe.Source != WarmupSource {
		return nil, false
	}

	warmup := &WarmupEvent{Source: WarmupSource}
	switch {
	case probe.Concurrency > maxWarmupConcurrency:
		warmup.Concurrency = maxWarmupConcurrency
	case probe.Concurrency > 0:
		warmup.Concurrency = int(probe.Concurrency)
	}
	return warmup, true
}

// HandleWarmup answers a keep-warm ping, fanning out Concurrency async
// self-invocations first. A nil invoker is built from the default AWS config.
func HandleWarmup(ctx context.Context, warmup *WarmupEvent, invoker downstream.Invoker) (interface{}, error) {
	warmed := 1
	if warmup.Concurrency > 0 {
		n, err := selfInvoke(ctx, invoker, warmup.Concurrency)
		if err != nil {
			logger.Warn(ctx, "warmup self-invoke failed", "requested", warmup.Concurrency, "succeeded", n, "error", err)
		}
		warmed += n
	}

	time.Sleep(WarmupDelay)

	return map[string]interface{}{
		"statusCode": 200,
		"body":       WarmupResponse{Status: "warm", InstancesWarmed: warmed},
	}, nil
}

// selfInvoke fires count async invocations of this function and returns how
// many were accepted, along with the first failure.
func selfInvoke(ctx context.Context, invoker downstream.Invoker, count int) (int, error) {
	if invoker == nil {
		cfg, err := config.LoadDefaultConfig(ctx)
		if err != nil {
			return 0, err
		}
		invoker = lambdasdk.NewFromConfig(cfg)
	}

	// children must not fan out again
	payload, err := json.Marshal(WarmupEvent{Source: WarmupSource})
	if err != nil {
		return 0, err
	}
	functionName := os.Getenv("AWS_LAMBDA_FUNCTION_NAME")

	var (
		wg       sync.WaitGroup
		ok       atomic.Int32
		errOnce  sync.Once
		firstErr error
	)
	for i := 0; i < count; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := invoker.Invoke(ctx, &lambdasdk.InvokeInput{
				FunctionName:   aws.String(functionName),
				InvocationType: types.InvocationTypeEvent,
				Payload:        payload,
			})
			if err != nil {
				errOnce.Do(func() { firstErr = err })
				return
			}
			ok.Add(1)
		}()
	}
	wg.Wait()

	return int(ok.Load()), firstErr
}
