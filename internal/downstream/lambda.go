package downstream

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
	"github.com/aws/aws-sdk-go-v2/service/lambda/types"
)

// Invoker is the part of *lambda.Client the executor uses.
type Invoker interface {
	Invoke(ctx context.Context, params *lambda.InvokeInput, optFns ...func(*lambda.Options)) (*lambda.InvokeOutput, error)
}

// LambdaExecutor invokes the query execution function directly.
type LambdaExecutor struct {
	client       Invoker
	functionName string
}

// NewLambdaExecutor creates a LambdaExecutor.
func NewLambdaExecutor(client Invoker, functionName string) *LambdaExecutor {
	return &LambdaExecutor{client: client, functionName: functionName}
}

// Transport implements Executor.
func (e *LambdaExecutor) Transport() string { return "lambda" }

// proxyResponse is the API Gateway style envelope many functions return.
type proxyResponse struct {
	StatusCode      *int    `json:"statusCode"`
	Body            *string `json:"body"`
	IsBase64Encoded bool    `json:"isBase64Encoded"`
}

// Execute implements Executor.
func (e *LambdaExecutor) Execute(ctx context.Context, payload []byte) (*Result, error) {
	result, err := e.client.Invoke(ctx, &lambda.InvokeInput{
		FunctionName:   aws.String(e.functionName),
		InvocationType: types.InvocationTypeRequestResponse,
		Payload:        payload,
	})
	if err != nil {
		return nil, classify(ctx, fmt.Errorf("failed to invoke %s: %w", e.functionName, err))
	}

	if result.FunctionError != nil {
		return nil, fmt.Errorf("%w: %s: %s", ErrFunction, *result.FunctionError, string(result.Payload))
	}

	return unwrapPayload(result.Payload)
}

// unwrapPayload turns a proxy envelope into its status and body. Any other
// payload is a 200 response with the payload as body.
func unwrapPayload(payload []byte) (*Result, error) {
	var env proxyResponse
	if err := json.Unmarshal(payload, &env); err != nil || env.StatusCode == nil {
		return &Result{StatusCode: http.StatusOK, Body: payload}, nil
	}

	var body []byte
	if env.Body != nil {
		body = []byte(*env.Body)
		if env.IsBase64Encoded {
			decoded, err := base64.StdEncoding.DecodeString(*env.Body)
			if err != nil {
				return nil, fmt.Errorf("%w: invalid base64 body: %v", ErrFunction, err)
			}
			body = decoded
		}
	}
	return &Result{StatusCode: *env.StatusCode, Body: body}, nil
}
