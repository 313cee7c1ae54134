package orchestration

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/danstonedev/EMRsim-chat-sub004/core/events"
	"github.com/danstonedev/EMRsim-chat-sub004/core/realtime"
	"github.com/danstonedev/EMRsim-chat-sub004/core/relay"
	"github.com/danstonedev/EMRsim-chat-sub004/core/utterances"
)

const defaultTeardownTimeout = 5 * time.Second

type EngineOption func(*Engine)

// WithBackend sets the collaborator that receives finalized utterances.
// Without it relayed utterances are discarded.
func WithBackend(backend relay.Backend) EngineOption {
	return func(e *Engine) {
		if backend != nil {
			e.backend = backend
		}
	}
}

// WithNormalizer sets the normalizer used by Ingest.
func WithNormalizer(normalizer realtime.Normalizer) EngineOption {
	return func(e *Engine) {
		e.normalizer = normalizer
	}
}

func WithRelayOptions(opts ...relay.Option) EngineOption {
	return func(e *Engine) {
		e.relayOptions = append(e.relayOptions, opts...)
	}
}

func WithTurnBoundaryPolicy(policy TurnBoundaryPolicy) EngineOption {
	return func(e *Engine) {
		e.policy = policy
	}
}

// WithIdleFinalizeAfter force-finalizes open utterances that received nothing
// for the given duration. Zero disables the timer.
func WithIdleFinalizeAfter(after time.Duration) EngineOption {
	return func(e *Engine) {
		if after >= 0 {
			e.idleFinalizeAfter = after
		}
	}
}

func WithRetainTurns(turns int) EngineOption {
	return func(e *Engine) {
		e.trackerOptions = append(e.trackerOptions, utterances.WithRetainTurns(turns))
	}
}

func WithQueueCapacity(capacity int) EngineOption {
	return func(e *Engine) {
		if capacity > 0 {
			e.queueCapacity = capacity
		}
	}
}

// WithTeardownTimeout bounds how long Close waits for in-flight relays.
func WithTeardownTimeout(timeout time.Duration) EngineOption {
	return func(e *Engine) {
		if timeout > 0 {
			e.teardownTimeout = timeout
		}
	}
}

func WithLogger(l *slog.Logger) EngineOption {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

func withClock(now func() time.Time) EngineOption {
	return func(e *Engine) {
		e.now = now
		e.trackerOptions = append(e.trackerOptions, utterances.WithClock(now))
	}
}

type RunOptions struct {
	onProvisional func(events.UtteranceProvisional)
	onFinalized   func(events.UtteranceFinalized)
	onRelayed     func(events.UtteranceRelayed)
	onEvent       func(events.Event)
}

type RunOption func(*RunOptions)

// WithProvisionalCallback is called when an utterance is force-finalized with
// the text shown until the authoritative result arrives. Provisional text is
// never relayed.
func WithProvisionalCallback(callback func(events.UtteranceProvisional)) RunOption {
	return func(o *RunOptions) {
		o.onProvisional = callback
	}
}

// WithFinalizedCallback is called once per utterance with its value of
// record, including utterances with nothing to relay.
func WithFinalizedCallback(callback func(events.UtteranceFinalized)) RunOption {
	return func(o *RunOptions) {
		o.onFinalized = callback
	}
}

// WithRelayedCallback is called when a relay attempt resolves.
func WithRelayedCallback(callback func(events.UtteranceRelayed)) RunOption {
	return func(o *RunOptions) {
		o.onRelayed = callback
	}
}

// WithEventCallback receives every event the engine emits.
func WithEventCallback(callback func(events.Event)) RunOption {
	return func(o *RunOptions) {
		o.onEvent = callback
	}
}

type TurnBoundaryPolicy int

const (
	// TurnBoundaryFloorChange starts a new turn whenever a speaker takes the
	// floor while the current turn holds another utterance.
	TurnBoundaryFloorChange TurnBoundaryPolicy = iota
	// TurnBoundaryUserRound starts a new turn only when the user takes the
	// floor, so a turn holds one user and one assistant utterance.
	TurnBoundaryUserRound
)

func (p TurnBoundaryPolicy) String() string {
	switch p {
	case TurnBoundaryFloorChange:
		return "floor_change"
	case TurnBoundaryUserRound:
		return "user_round"
	default:
		return fmt.Sprintf("TurnBoundaryPolicy(%d)", int(p))
	}
}

func ParseTurnBoundaryPolicy(value string) (TurnBoundaryPolicy, error) {
	switch value {
	case "", "floor_change":
		return TurnBoundaryFloorChange, nil
	case "user_round":
		return TurnBoundaryUserRound, nil
	default:
		return 0, fmt.Errorf("unknown turn boundary policy %q", value)
	}
}
