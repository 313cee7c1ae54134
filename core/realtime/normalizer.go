// Package realtime turns raw messages of a remote speech session into the
// normalized vocabulary of core/events.
//
// Dialect specific normalizers live in sub-packages. They never fail: a
// message that cannot be mapped is dropped and recorded in Diagnostics.
package realtime

import (
	"context"
	"sync"

	"github.com/danstonedev/EMRsim-chat-sub004/core/events"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

type Normalizer interface {
	// Normalize maps one raw message to zero or more events. It is called
	// from a single goroutine.
	Normalize(raw []byte) []events.Event
}

type NormalizerFunc func(raw []byte) []events.Event

func (f NormalizerFunc) Normalize(raw []byte) []events.Event { return f(raw) }

type DropReason string

const (
	DropMalformed    DropReason = "malformed"
	DropUnknownType  DropReason = "unknown_type"
	DropMissingField DropReason = "missing_field"
)

// Diagnostics counts dropped protocol messages. It is safe for concurrent
// use; a nil *Diagnostics discards everything.
type Diagnostics struct {
	dialect string

	mu      sync.Mutex
	dropped map[DropReason]int

	counter metric.Int64Counter
}

func NewDiagnostics(dialect string) *Diagnostics {
	counter, err := meter.Int64Counter("realtime.messages.dropped",
		metric.WithDescription("Protocol messages that could not be normalized"),
	)
	if err != nil {
		logger.Warn("failed to create dropped message counter", "error", err)
	}

	return &Diagnostics{
		dialect: dialect,
		dropped: map[DropReason]int{},
		counter: counter,
	}
}

// Drop records a dropped message. messageType may be empty when the message
// could not be parsed at all.
func (d *Diagnostics) Drop(reason DropReason, messageType string) {
	if d == nil {
		return
	}

	d.mu.Lock()
	d.dropped[reason]++
	d.mu.Unlock()

	if d.counter != nil {
		d.counter.Add(context.Background(), 1, metric.WithAttributes(
			attribute.String("dialect", d.dialect),
			attribute.String("reason", string(reason)),
		))
	}
	logger.Debug("dropped protocol message",
		"dialect", d.dialect,
		"reason", reason,
		"type", messageType,
	)
}

// Dropped returns the number of dropped messages per reason.
func (d *Diagnostics) Dropped() map[DropReason]int {
	if d == nil {
		return nil
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	dropped := make(map[DropReason]int, len(d.dropped))
	for reason, count := range d.dropped {
		dropped[reason] = count
	}
	return dropped
}

// Total returns the number of dropped messages.
func (d *Diagnostics) Total() int {
	total := 0
	for _, count := range d.Dropped() {
		total += count
	}
	return total
}
