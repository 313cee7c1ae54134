// Package relay forwards finalized utterances to a backend collaborator at
// most once per item.
//
// The Deduplicator owns the set of relayed item ids for a session. The set
// only grows: an item that was relayed, or whose relay was given up on after
// retries, is never relayed again.
package relay

import (
	"context"
	"time"

	"github.com/danstonedev/EMRsim-chat-sub004/core/events"
)

// Request describes a single relay attempt for an utterance.
type Request struct {
	ItemID     string
	Speaker    events.Speaker
	Text       string
	Timestamp  time.Time
	Confidence events.Confidence
}

// Payload is the record delivered to a backend.
type Payload struct {
	ItemID      string            `json:"item_id" jsonschema:"required,description=Identifier of the utterance"`
	Speaker     events.Speaker    `json:"speaker" jsonschema:"required,enum=user,enum=assistant"`
	Text        string            `json:"text" jsonschema:"required,minLength=1"`
	IsFinal     bool              `json:"is_final" jsonschema:"required"`
	TimestampMs int64             `json:"timestamp_ms" jsonschema:"required,description=Unix time of finalization in milliseconds"`
	Confidence  events.Confidence `json:"confidence" jsonschema:"required,enum=authoritative,enum=degraded"`
}

func newPayload(request Request) Payload {
	return Payload{
		ItemID:      request.ItemID,
		Speaker:     request.Speaker,
		Text:        request.Text,
		IsFinal:     true,
		TimestampMs: request.Timestamp.UnixMilli(),
		Confidence:  request.Confidence,
	}
}

// Backend delivers payloads to the downstream log. Implementations signal a
// retryable failure by returning a *TransientDeliveryError.
type Backend interface {
	Relay(ctx context.Context, payload Payload) error
}

// BackendFunc adapts a function to the Backend interface.
type BackendFunc func(ctx context.Context, payload Payload) error

func (f BackendFunc) Relay(ctx context.Context, payload Payload) error {
	return f(ctx, payload)
}

// DiscardBackend accepts every payload without delivering it anywhere.
var DiscardBackend Backend = BackendFunc(func(context.Context, Payload) error { return nil })
