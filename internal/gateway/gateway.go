// Package gateway adapts Lambda events (API Gateway proxy, function URL and
// direct invocations) to the query service.
package gateway

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/aws/aws-lambda-go/events"

	"github.com/crisgenomics/cris-query/internal/apperror"
	"github.com/crisgenomics/cris-query/internal/handler"
	"github.com/crisgenomics/cris-query/pkg/logger"
)

// Routes
const (
	RouteHome   = "/"
	RouteHealth = "/api/health"
	RouteQuery  = "/api/query"
)

// corsHeaders are returned on every response.
var corsHeaders = map[string]string{
	"Access-Control-Allow-Origin":  "*",
	"Access-Control-Allow-Headers": "Content-Type,X-Amz-Date,Authorization,X-Api-Key,X-Amz-Security-Token",
	"Access-Control-Allow-Methods": "GET,POST,OPTIONS",
}

// Response is a transport independent HTTP response.
type Response struct {
	StatusCode int
	Headers    map[string]string
	Body       string
}

// Gateway routes requests to the query service.
type Gateway struct {
	svc *handler.Service
}

// New creates a Gateway.
func New(svc *handler.Service) *Gateway {
	return &Gateway{svc: svc}
}

func newResponse(status int, contentType string, body []byte) Response {
	headers := make(map[string]string, len(corsHeaders)+1)
	for k, v := range corsHeaders {
		headers[k] = v
	}
	if contentType != "" {
		headers["Content-Type"] = contentType
	}
	return Response{StatusCode: status, Headers: headers, Body: string(body)}
}

func errorResponse(err error) Response {
	return newResponse(apperror.GetHTTPStatus(err), "application/json", handler.ErrorBody(err))
}

// normalizePath strips a trailing slash so "/api/query/" matches "/api/query".
func normalizePath(path string) string {
	if path == "" {
		return RouteHome
	}
	if len(path) > 1 {
		path = strings.TrimRight(path, "/")
	}
	return path
}

// Dispatch serves a single request. It never returns an error: failures and
// panics become JSON error responses.
func (g *Gateway) Dispatch(ctx context.Context, method, path string, body []byte) (resp Response) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error(ctx, "panic while handling request", "panic", r, "path", path)
			resp = errorResponse(apperror.NewInternal("Internal server error", fmt.Errorf("panic: %v", r)))
		}
	}()

	method = strings.ToUpper(method)
	path = normalizePath(path)

	switch {
	case method == http.MethodOptions:
		return newResponse(http.StatusNoContent, "", nil)

	case path == RouteHome && method == http.MethodGet:
		return newResponse(http.StatusOK, "text/html; charset=utf-8", []byte(HomePage))

	case path == RouteHealth && method == http.MethodGet:
		b, err := json.Marshal(g.svc.Health())
		if err != nil {
			return errorResponse(apperror.NewInternal("Internal server error", err))
		}
		return newResponse(http.StatusOK, "application/json", b)

	case path == RouteQuery && method == http.MethodPost:
		reply, err := g.svc.HandleBody(ctx, body)
		if err != nil {
			if apperror.GetHTTPStatus(err) >= http.StatusInternalServerError {
				logger.Error(ctx, "query failed", "error", err)
			}
			return errorResponse(err)
		}
		return newResponse(reply.StatusCode, "application/json", reply.Body)
	}

	return errorResponse(apperror.NewNotFound("Endpoint not found"))
}

// eventProbe holds the fields used to tell event shapes apart.
type eventProbe struct {
	HTTPMethod     string `json:"httpMethod"`
	Path           string `json:"path"`
	RequestContext struct {
		HTTP *struct {
			Method string `json:"method"`
		} `json:"http"`
	} `json:"requestContext"`
}

// HandleEvent serves a raw Lambda event and returns the response shape that
// matches the event: API Gateway proxy, function URL, or (for direct
// invocations) an API Gateway proxy style response.
func (g *Gateway) HandleEvent(ctx context.Context, event json.RawMessage) (any, error) {
	var probe eventProbe
	if err := json.Unmarshal(event, &probe); err != nil {
		return toProxyResponse(errorResponse(apperror.NewInvalidJSON(err))), nil
	}

	switch {
	case probe.HTTPMethod != "":
		var req events.APIGatewayProxyRequest
		if err := json.Unmarshal(event, &req); err != nil {
			return nil, fmt.Errorf("failed to parse API Gateway event: %w", err)
		}
		body, err := decodeBody(req.Body, req.IsBase64Encoded)
		if err != nil {
			return toProxyResponse(errorResponse(err)), nil
		}
		return toProxyResponse(g.Dispatch(ctx, req.HTTPMethod, req.Path, body)), nil

	case probe.RequestContext.HTTP != nil:
		var req events.LambdaFunctionURLRequest
		if err := json.Unmarshal(event, &req); err != nil {
			return nil, fmt.Errorf("failed to parse function URL event: %w", err)
		}
		body, err := decodeBody(req.Body, req.IsBase64Encoded)
		if err != nil {
			return toFunctionURLResponse(errorResponse(err)), nil
		}
		return toFunctionURLResponse(g.Dispatch(ctx, req.RequestContext.HTTP.Method, req.RawPath, body)), nil
	}

	// Direct invocation: the event is the request body and names its path.
	method := http.MethodGet
	if normalizePath(probe.Path) == RouteQuery {
		method = http.MethodPost
	}
	return toProxyResponse(g.Dispatch(ctx, method, probe.Path, event)), nil
}

func decodeBody(body string, isBase64 bool) ([]byte, error) {
	if !isBase64 {
		return []byte(body), nil
	}
	decoded, err := base64.StdEncoding.DecodeString(body)
	if err != nil {
		return nil, apperror.NewInvalidJSON(err)
	}
	return decoded, nil
}

func toProxyResponse(r Response) events.APIGatewayProxyResponse {
	return events.APIGatewayProxyResponse{
		StatusCode: r.StatusCode,
		Headers:    r.Headers,
		Body:       r.Body,
	}
}

func toFunctionURLResponse(r Response) events.LambdaFunctionURLResponse {
	return events.LambdaFunctionURLResponse{
		StatusCode: r.StatusCode,
		Headers:    r.Headers,
		Body:       r.Body,
	}
}
