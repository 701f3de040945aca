// Package handler implements the query service shared by every transport.
package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/crisgenomics/cris-query/internal/apperror"
	"github.com/crisgenomics/cris-query/internal/config"
	"github.com/crisgenomics/cris-query/internal/domain"
	"github.com/crisgenomics/cris-query/internal/downstream"
	"github.com/crisgenomics/cris-query/internal/metrics"
	"github.com/crisgenomics/cris-query/internal/translator"
	"github.com/crisgenomics/cris-query/pkg/logger"
)

// ServiceName is reported by the health endpoint.
const ServiceName = "Genomic Data Query Lambda"

// Reply is a successful query response, already encoded.
type Reply struct {
	StatusCode int
	Body       []byte
}

// Options configures a Service.
type Options struct {
	Mode     string
	MaxLimit int
	Timeout  time.Duration

	// Executor is required in forward mode.
	Executor downstream.Executor

	// Now defaults to time.Now.
	Now func() time.Time
}

// Service validates, translates and answers query requests.
type Service struct {
	mode     string
	maxLimit int
	timeout  time.Duration
	executor downstream.Executor
	now      func() time.Time
}

// New creates a Service.
func New(opts Options) (*Service, error) {
	if opts.Mode == "" {
		opts.Mode = config.ModeMock
	}
	if opts.Mode == config.ModeForward && opts.Executor == nil {
		return nil, fmt.Errorf("forward mode requires a downstream executor")
	}
	if opts.MaxLimit <= 0 {
		opts.MaxLimit = 10000
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 120 * time.Second
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Service{
		mode:     opts.Mode,
		maxLimit: opts.MaxLimit,
		timeout:  opts.Timeout,
		executor: opts.Executor,
		now:      opts.Now,
	}, nil
}

// DecodeRequest parses a POST /api/query body.
func DecodeRequest(body []byte) (domain.QueryRequest, error) {
	var req domain.QueryRequest
	if len(bytes.TrimSpace(body)) == 0 {
		body = []byte("{}")
	}
	if err := json.Unmarshal(body, &req); err != nil {
		return req, apperror.NewInvalidJSON(err)
	}
	return req, nil
}

// HandleBody decodes body and runs Query.
func (s *Service) HandleBody(ctx context.Context, body []byte) (*Reply, error) {
	req, err := DecodeRequest(body)
	if err != nil {
		return nil, err
	}
	return s.Query(ctx, req)
}

// Query answers a decoded query request.
func (s *Service) Query(ctx context.Context, req domain.QueryRequest) (*Reply, error) {
	if err := s.validateRequest(req); err != nil {
		metrics.Queries.WithLabelValues(s.mode, "invalid").Inc()
		return nil, err
	}

	logger.Info(ctx, "query received",
		"selections", req.Selections.Keys(),
		"files_required", len(req.FilesRequired),
		"limit", req.EffectiveLimit(),
		"include_download", req.IncludeDownload,
	)
	if req.HasInlineCredentials() {
		logger.Warn(ctx, "request carried inline credentials; they are ignored and never forwarded")
	}

	query, err := translator.Translate(req.Selections, req.EffectiveLimit())
	if err != nil {
		metrics.Queries.WithLabelValues(s.mode, "invalid").Inc()
		return nil, apperror.NewValidation(err.Error()).WithCause(err)
	}
	logger.Debug(ctx, "generated sql", "sql", query.SQL, "parameters", query.Parameters())

	var reply *Reply
	if s.mode == config.ModeForward {
		reply, err = s.forward(ctx, req, query)
	} else {
		reply, err = s.mock(req, query)
	}

	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	metrics.Queries.WithLabelValues(s.mode, outcome).Inc()
	return reply, err
}

// validateRequest checks the request is valid.
func (s *Service) validateRequest(req domain.QueryRequest) error {
	if len(req.Selections) == 0 {
		return apperror.NewValidation("No selections provided")
	}
	if len(req.FilesRequired) == 0 {
		return apperror.NewValidation("No files required specified")
	}
	for i, f := range req.FilesRequired {
		if f == "" {
			return apperror.NewValidation(fmt.Sprintf("files_required[%d] is empty", i))
		}
	}
	if limit := req.EffectiveLimit(); limit <= 0 || limit > s.maxLimit {
		return apperror.NewValidation(fmt.Sprintf("limit must be between 1 and %d", s.maxLimit))
	}
	return nil
}

func (s *Service) queryID() string {
	return fmt.Sprintf("query_%d", s.now().Unix())
}

func (s *Service) mock(req domain.QueryRequest, query translator.Query) (*Reply, error) {
	resp := domain.QueryResponse{
		Success:         true,
		QueryID:         s.queryID(),
		SQLQuery:        query.String(),
		Parameters:      query.Parameters(),
		Selections:      req.Selections,
		FilesRequired:   req.FilesRequired,
		Limit:           query.Limit,
		IncludeDownload: req.IncludeDownload,
		Results: []domain.ResultRow{
			{
				ID:             1,
				Species:        req.Selections.Display("species"),
				CellType:       req.Selections.Display("cell_type"),
				Crosslinker:    req.Selections.Display("crosslinker"),
				LitigationTime: req.Selections.Display("litigation_time"),
				Files:          req.FilesRequired,
			},
		},
		Message: "Query executed successfully",
	}

	body, err := json.Marshal(resp)
	if err != nil {
		return nil, apperror.NewInternal("Query processing error: "+err.Error(), err)
	}
	return &Reply{StatusCode: http.StatusOK, Body: body}, nil
}

func (s *Service) forward(ctx context.Context, req domain.QueryRequest, query translator.Query) (*Reply, error) {
	payload, err := json.Marshal(domain.DownstreamRequest{
		Path:            "/api/query",
		Selections:      req.Selections,
		FilesRequired:   req.FilesRequired,
		Limit:           query.Limit,
		IncludeDownload: req.IncludeDownload,
		Query: domain.DownstreamQuery{
			SQL:        query.SQL,
			Parameters: query.Parameters(),
		},
	})
	if err != nil {
		return nil, apperror.NewInternal("Query processing error: "+err.Error(), err)
	}

	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	transport := s.executor.Transport()
	start := time.Now()
	result, err := s.executor.Execute(callCtx, payload)
	elapsed := time.Since(start)

	if err != nil {
		metrics.DownstreamDuration.WithLabelValues(transport, "error").Observe(elapsed.Seconds())
		logger.Error(ctx, "downstream call failed", "transport", transport, "elapsed", elapsed, "error", err)
		if errors.Is(err, downstream.ErrTimeout) {
			return nil, apperror.NewGatewayTimeout("External API timed out", err)
		}
		return nil, apperror.NewBadGateway("External API unavailable: "+err.Error(), err)
	}

	metrics.DownstreamDuration.WithLabelValues(transport, fmt.Sprint(result.StatusCode)).Observe(elapsed.Seconds())
	logger.Info(ctx, "downstream responded", "transport", transport, "status", result.StatusCode, "elapsed", elapsed)

	if !result.OK() {
		return nil, apperror.NewUpstream(result.StatusCode,
			fmt.Sprintf("External API error: %d - %s", result.StatusCode, string(result.Body)))
	}

	var body map[string]json.RawMessage
	if err := json.Unmarshal(result.Body, &body); err != nil || body == nil {
		return nil, apperror.NewBadGateway("External API returned an invalid response", err)
	}
	if id, ok := body["query_id"]; !ok || isEmptyID(id) {
		generated, _ := json.Marshal(s.queryID())
		body["query_id"] = generated
		logger.Info(ctx, "generated query id", "query_id", string(generated))
	}

	out, err := json.Marshal(body)
	if err != nil {
		return nil, apperror.NewInternal("Query processing error: "+err.Error(), err)
	}
	return &Reply{StatusCode: result.StatusCode, Body: out}, nil
}

func isEmptyID(raw json.RawMessage) bool {
	t := string(bytes.TrimSpace(raw))
	return t == "" || t == "null" || t == `""` || t == "0" || t == "false"
}

// Health returns the health payload.
func (s *Service) Health() domain.HealthResponse {
	return domain.HealthResponse{
		Status:    "healthy",
		Timestamp: s.now().Format(time.RFC3339),
		Service:   ServiceName,
	}
}

// ErrorBody encodes err as the JSON error body every transport returns.
func ErrorBody(err error) []byte {
	body, _ := json.Marshal(domain.ErrorResponse{
		Success: false,
		Error:   apperror.PublicMessage(err),
		Code:    apperror.CodeOf(err),
	})
	return body
}
