package downstream

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/aws/retry"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
)

const (
	maxResponseBytes = 10 << 20
	maxBackoff       = 5 * time.Second
)

// BackoffDelayer computes the wait before a retry attempt.
type BackoffDelayer interface {
	BackoffDelay(attempt int, err error) (time.Duration, error)
}

// HTTPExecutor posts payloads to a Lambda function URL.
type HTTPExecutor struct {
	URL    string
	Client *http.Client

	// MaxAttempts bounds the number of tries; values below 1 mean 1.
	MaxAttempts int
	Backoff     BackoffDelayer

	// Signer is nil when the function URL needs no IAM auth.
	Signer *Signer
}

// Transport implements Executor.
func (e *HTTPExecutor) Transport() string { return "http" }

// Execute implements Executor. Transport errors and 502/503/504 are retried
// up to MaxAttempts while ctx allows; the last response is returned as is.
func (e *HTTPExecutor) Execute(ctx context.Context, payload []byte) (*Result, error) {
	attempts := e.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	backoff := e.Backoff
	if backoff == nil {
		backoff = retry.NewExponentialJitterBackoff(maxBackoff)
	}

	var (
		result *Result
		err    error
	)
	for attempt := 1; attempt <= attempts; attempt++ {
		result, err = e.do(ctx, payload)
		if !retryable(result, err) || attempt == attempts || ctx.Err() != nil {
			break
		}

		cause := err
		if cause == nil {
			cause = fmt.Errorf("status %d", result.StatusCode)
		}
		delay, derr := backoff.BackoffDelay(attempt, cause)
		if derr != nil {
			break
		}
		select {
		case <-ctx.Done():
			return nil, classify(ctx, ctx.Err())
		case <-time.After(delay):
		}
	}

	if err != nil {
		return nil, classify(ctx, err)
	}
	return result, nil
}

func (e *HTTPExecutor) do(ctx context.Context, payload []byte) (*Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.URL, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	if e.Signer != nil {
		if err := e.Signer.Sign(ctx, req, payload); err != nil {
			return nil, err
		}
	}

	client := e.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, &transportError{err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, &transportError{err: fmt.Errorf("failed to read response: %w", err)}
	}
	return &Result{StatusCode: resp.StatusCode, Body: body}, nil
}

// transportError marks a failed round trip, as opposed to a request that
// could not be built or signed.
type transportError struct{ err error }

func (e *transportError) Error() string { return e.err.Error() }
func (e *transportError) Unwrap() error { return e.err }

func retryable(result *Result, err error) bool {
	if err != nil {
		var te *transportError
		return errors.As(err, &te)
	}
	switch result.StatusCode {
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}

// Signer signs function URL requests with AWS SigV4, so credentials come
// from the AWS credential chain instead of the request body.
type Signer struct {
	credentials aws.CredentialsProvider
	region      string
	signer      *v4.Signer
	now         func() time.Time
}

// NewSigner creates a Signer for the lambda service in region.
func NewSigner(credentials aws.CredentialsProvider, region string) *Signer {
	return &Signer{
		credentials: credentials,
		region:      region,
		signer:      v4.NewSigner(),
		now:         time.Now,
	}
}

// Sign adds SigV4 headers to req.
func (s *Signer) Sign(ctx context.Context, req *http.Request, payload []byte) error {
	if s.credentials == nil {
		return fmt.Errorf("no AWS credentials configured for signing")
	}
	creds, err := s.credentials.Retrieve(ctx)
	if err != nil {
		return fmt.Errorf("failed to retrieve AWS credentials: %w", err)
	}

	sum := sha256.Sum256(payload)
	payloadHash := hex.EncodeToString(sum[:])
	req.Header.Set("X-Amz-Content-Sha256", payloadHash)

	if err := s.signer.SignHTTP(ctx, creds, req, payloadHash, "lambda", s.region, s.now()); err != nil {
		return fmt.Errorf("failed to sign request: %w", err)
	}
	return nil
}
