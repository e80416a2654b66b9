package main

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"

	"presto/internal/core"
)

// runLambda serves the chi router behind an API Gateway HTTP API (payload
// v2). The translation layer is small enough to carry here: one request in,
// one buffered response out, no streaming.
func runLambda(srv *core.Server, logger *slog.Logger) error {
	logger.Info("starting in lambda mode")
	adapter := &lambdaAdapter{handler: srv.Handler(), logger: logger}
	lambda.Start(adapter.Handle)
	return nil
}

type lambdaAdapter struct {
	handler http.Handler
	logger  *slog.Logger
}

// Handle converts the proxy event to an *http.Request, runs the router, and
// converts the buffered response back.
func (a *lambdaAdapter) Handle(ctx context.Context, event events.APIGatewayV2HTTPRequest) (events.APIGatewayV2HTTPResponse, error) {
	req, err := a.toRequest(ctx, event)
	if err != nil {
		a.logger.Error("failed to translate lambda event", "error", err)
		return events.APIGatewayV2HTTPResponse{
			StatusCode: http.StatusBadRequest,
			Headers:    map[string]string{"Content-Type": "application/json"},
			Body:       `{"error":{"code":"validation_invalid_json","message":"malformed request"}}`,
		}, nil
	}

	rec := &bufferedResponse{header: http.Header{}, status: http.StatusOK}
	a.handler.ServeHTTP(rec, req)

	headers := make(map[string]string, len(rec.header))
	for name, values := range rec.header {
		headers[name] = strings.Join(values, ",")
	}

	return events.APIGatewayV2HTTPResponse{
		StatusCode: rec.status,
		Headers:    headers,
		Body:       rec.body.String(),
	}, nil
}

func (a *lambdaAdapter) toRequest(ctx context.Context, event events.APIGatewayV2HTTPRequest) (*http.Request, error) {
	var body []byte
	if event.Body != "" {
		if event.IsBase64Encoded {
			decoded, err := base64.StdEncoding.DecodeString(event.Body)
			if err != nil {
				return nil, fmt.Errorf("decoding base64 body: %w", err)
			}
			body = decoded
		} else {
			body = []byte(event.Body)
		}
	}

	target := event.RawPath
	if event.RawQueryString != "" {
		target += "?" + event.RawQueryString
	}

	req, err := http.NewRequestWithContext(ctx, event.RequestContext.HTTP.Method, target, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	for name, value := range event.Headers {
		req.Header.Set(name, value)
	}
	if len(event.Cookies) > 0 {
		req.Header.Set("Cookie", strings.Join(event.Cookies, "; "))
	}
	req.RemoteAddr = event.RequestContext.HTTP.SourceIP

	return req, nil
}

// bufferedResponse is the in-memory http.ResponseWriter the adapter hands to
// the router.
type bufferedResponse struct {
	header  http.Header
	body    bytes.Buffer
	status  int
	written bool
}

func (r *bufferedResponse) Header() http.Header {
	return r.header
}

func (r *bufferedResponse) WriteHeader(status int) {
	if !r.written {
		r.status = status
		r.written = true
	}
}

func (r *bufferedResponse) Write(b []byte) (int, error) {
	if !r.written {
		r.written = true
	}
	return r.body.Write(b)
}
