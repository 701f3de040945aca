// Package downstream sends query payloads to the query execution service.
package downstream

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/lambda"

	"github.com/crisgenomics/cris-query/internal/config"
)

var (
	// ErrTimeout is returned when the call did not finish before the deadline.
	ErrTimeout = errors.New("downstream timed out")

	// ErrUnavailable is returned when the service could not be reached.
	ErrUnavailable = errors.New("downstream unavailable")

	// ErrFunction is returned when the downstream function itself failed.
	ErrFunction = errors.New("downstream function error")
)

// Result is the raw response of the query execution service.
type Result struct {
	StatusCode int
	Body       []byte
}

// OK reports a 2xx status.
func (r *Result) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// Executor sends a JSON payload and returns the service response.
type Executor interface {
	Execute(ctx context.Context, payload []byte) (*Result, error)
	Transport() string
}

// New builds the executor selected by cfg. AWS settings come from the
// default credential chain.
func New(ctx context.Context, cfg config.DownstreamConfig) (Executor, error) {
	switch cfg.Transport {
	case config.TransportHTTP:
		exec := &HTTPExecutor{
			URL:         cfg.URL,
			Client:      &http.Client{Timeout: cfg.Timeout},
			MaxAttempts: cfg.MaxAttempts,
		}
		if cfg.SignRequests {
			awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
			if err != nil {
				return nil, fmt.Errorf("failed to load AWS config: %w", err)
			}
			exec.Signer = NewSigner(awsCfg.Credentials, awsCfg.Region)
		}
		return exec, nil

	case config.TransportLambda:
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to load AWS config: %w", err)
		}
		return NewLambdaExecutor(lambda.NewFromConfig(awsCfg), cfg.FunctionName), nil

	default:
		return nil, fmt.Errorf("unknown downstream transport %q", cfg.Transport)
	}
}

// classify maps a transport failure onto ErrTimeout or ErrUnavailable.
func classify(ctx context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}
