package events

import (
	"strings"
	"time"
)

// Kind names an event as namespace.name, for example transcript.completed.
type Kind string

// Namespace returns the part of the kind before the first dot.
func (k Kind) Namespace() string {
	namespace, _, _ := strings.Cut(string(k), ".")
	return namespace
}

// Inbound reports whether events of this kind are fed into the engine rather
// than emitted by it.
func (k Kind) Inbound() bool {
	switch k.Namespace() {
	case "transcript", "turn_state", "assistant_response":
		return true
	default:
		return false
	}
}

type Event interface {
	Kind() Kind
	Timestamp() time.Time
}

// Base carries the fields shared by every event. Embed it to satisfy Event.
type Base struct {
	kind       Kind
	occurredAt time.Time
}

func NewBase(kind Kind) Base {
	return NewBaseAt(kind, time.Now())
}

// NewBaseAt stamps the event with the time it was observed on the wire
// instead of the time it was constructed.
func NewBaseAt(kind Kind, occurredAt time.Time) Base {
	return Base{kind: kind, occurredAt: occurredAt}
}

func (b Base) Kind() Kind { return b.kind }

func (b Base) Timestamp() time.Time { return b.occurredAt }
