// Package webhook delivers relay payloads to an HTTP endpoint.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/danstonedev/EMRsim-chat-sub004/core/relay"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const (
	defaultTimeout = 10 * time.Second

	// IdempotencyKeyHeader carries the item id so the receiver can drop
	// deliveries it has already stored.
	IdempotencyKeyHeader = "Idempotency-Key"

	maxErrorBodySize = 4 << 10
)

var ErrInvalidPayload = errors.New("payload does not match schema")

type Backend struct {
	endpoint string
	headers  http.Header
	client   *http.Client
	validate bool
}

type Option func(*Backend)

// WithHeader adds a header sent with every delivery, e.g. authorization.
func WithHeader(key, value string) Option {
	return func(b *Backend) {
		b.headers.Add(key, value)
	}
}

func WithHTTPClient(client *http.Client) Option {
	return func(b *Backend) {
		if client != nil {
			b.client = client
		}
	}
}

// WithPayloadValidation checks every payload against PayloadSchema before it
// is sent. Invalid payloads fail permanently.
func WithPayloadValidation() Option {
	return func(b *Backend) {
		b.validate = true
	}
}

func New(endpoint string, opts ...Option) (*Backend, error) {
	if endpoint == "" {
		return nil, fmt.Errorf("webhook endpoint cannot be empty")
	}

	b := &Backend{
		endpoint: endpoint,
		headers:  http.Header{},
		client: &http.Client{
			Timeout: defaultTimeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport,
				otelhttp.WithSpanNameFormatter(func(_ string, request *http.Request) string {
					return "relay webhook " + request.Method
				}),
			),
		},
	}
	for _, opt := range opts {
		opt(b)
	}

	return b, nil
}

// Relay posts the payload as JSON. Network failures, 429 and 5xx responses
// are reported as *relay.TransientDeliveryError.
func (b *Backend) Relay(ctx context.Context, payload relay.Payload) error {
	ctx, span := tracer.Start(ctx, "post relay payload")
	defer span.End()
	span.SetAttributes(attribute.String("utterance.item_id", payload.ItemID))

	if b.validate {
		if problems := ValidatePayload(payload); len(problems) > 0 {
			err := fmt.Errorf("%w: %v", ErrInvalidPayload, problems)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return err
		}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		err = fmt.Errorf("failed to marshal payload: %w", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.endpoint, bytes.NewReader(body))
	if err != nil {
		err = fmt.Errorf("failed to create request: %w", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	for key, values := range b.headers {
		for _, value := range values {
			req.Header.Add(key, value)
		}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(IdempotencyKeyHeader, payload.ItemID)

	resp, err := b.client.Do(req)
	if err != nil {
		err = relay.Transient(fmt.Errorf("failed to send request: %w", err))
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	defer resp.Body.Close()

	span.SetAttributes(attribute.Int("response.status_code", resp.StatusCode))
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	errorBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
	statusErr := fmt.Errorf("non-OK HTTP status: %s: %s", resp.Status, bytes.TrimSpace(errorBody))
	if retryableStatus(resp.StatusCode) {
		err = &relay.TransientDeliveryError{StatusCode: resp.StatusCode, Err: statusErr}
	} else {
		err = statusErr
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

func retryableStatus(status int) bool {
	return status == http.StatusTooManyRequests || status >= http.StatusInternalServerError
}
