package orchestration

import (
	"context"
	"errors"
	"fmt"

	"github.com/danstonedev/EMRsim-chat-sub004/core/events"
	"github.com/danstonedev/EMRsim-chat-sub004/core/utterances"
	"go.opentelemetry.io/otel/attribute"
)

func (e *Engine) onTurnStarted(ctx context.Context, event events.TurnStarted) error {
	if !event.Speaker.Valid() {
		return fmt.Errorf("%w: %q", utterances.ErrInvalidSpeaker, event.Speaker)
	}

	if _, known := e.tracker.Lookup(event.ItemID); !known && event.ItemID != "" && !e.tracker.Retired(event.ItemID) {
		target := e.bindTarget(event.Speaker)
		if e.startsNewTurn(event.Speaker, target) {
			e.advanceTurn(ctx, target)
		} else if e.policy == TurnBoundaryUserRound && event.Speaker == events.SpeakerAssistant {
			e.onResponseStarted()
		}
	}

	_, displaced, err := e.tracker.OnTurnStarted(event.Speaker, event.ItemID)
	switch {
	case errors.Is(err, utterances.ErrRetired):
		e.logger.Debug("ignoring turn start for retired utterance", "item_id", event.ItemID)
		return nil
	case err != nil:
		return err
	}

	if displaced != nil {
		e.forceFinalize(displaced)
	}
	return nil
}

// bindTarget returns the open, unbound utterance the turn start will bind to,
// if any.
func (e *Engine) bindTarget(speaker events.Speaker) *utterances.Utterance {
	turn := e.tracker.Turn()
	if current := turn.Current(speaker); current != nil && current.Status == utterances.StatusOpen && !current.Bound() {
		return current
	}
	return nil
}

func (e *Engine) startsNewTurn(speaker events.Speaker, target *utterances.Utterance) bool {
	if e.policy == TurnBoundaryUserRound && speaker != events.SpeakerUser {
		return false
	}

	for _, member := range e.tracker.Members() {
		if member != target {
			return true
		}
	}
	return false
}

// advanceTurn closes the current turn: its open utterances are
// force-finalized, every utterance still waiting for an authoritative result
// is relayed with its buffered text, and target moves into the new turn.
func (e *Engine) advanceTurn(ctx context.Context, target *utterances.Utterance) {
	ctx, span := tracer.Start(ctx, "advance turn")
	defer span.End()

	closing := e.tracker.Turn().Index
	for _, member := range e.tracker.Members() {
		if member == target {
			continue
		}
		if member.Status == utterances.StatusOpen {
			e.logger.Debug("force-finalizing utterance at turn boundary", "utterance", describeUtterance(member))
			e.forceFinalize(member)
		}
	}

	e.relayFallbacks(ctx)
	next := e.tracker.Advance(target)

	span.SetAttributes(
		attribute.Int("turn.closed_index", closing),
		attribute.Int("turn.index", next),
		attribute.Int("utterances.tracked", e.tracker.Len()),
	)
}
