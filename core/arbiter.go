package orchestration

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/danstonedev/EMRsim-chat-sub004/core/events"
	"github.com/danstonedev/EMRsim-chat-sub004/core/relay"
	"github.com/danstonedev/EMRsim-chat-sub004/core/utterances"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type relayResult struct {
	request relay.Request
	result  relay.Result
}

func (e *Engine) handleEvent(ctx context.Context, event events.Event, queuedAt time.Time) {
	ctx, span := tracer.Start(ctx, "handle event", trace.WithAttributes(
		attribute.String("event.kind", string(event.Kind())),
		attribute.String("event.namespace", event.Kind().Namespace()),
	))
	defer span.End()

	if !queuedAt.IsZero() {
		span.SetAttributes(attribute.Float64("event.queued_time", time.Since(queuedAt).Seconds()))
	}

	err := runGuarded("handle "+string(event.Kind()), func() error {
		switch typedEvent := event.(type) {
		case events.DeltaReceived:
			return e.onDelta(typedEvent)
		case events.TurnStarted:
			return e.onTurnStarted(ctx, typedEvent)
		case events.TranscriptionCompleted:
			return e.onAuthoritative(ctx, typedEvent.ItemID, typedEvent.Speaker, utterances.StatusCompleted, typedEvent.Transcript)
		case events.TranscriptionFailed:
			return e.onAuthoritative(ctx, typedEvent.ItemID, typedEvent.Speaker, utterances.StatusFailed, typedEvent.Reason)
		case events.ResponseStarted:
			e.onResponseStarted()
		case forceFinalizeRequest:
			e.onForceFinalizeRequest(typedEvent.itemID)
		case snapshotRequest:
			snapshot, err := e.tracker.Snapshot()
			typedEvent.reply <- snapshotReply{snapshot: snapshot, err: err}
		default:
			e.logger.Debug("ignoring event", "kind", event.Kind())
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		e.logger.Error("failed to handle event", "kind", event.Kind(), "error", err)
	}
}

func (e *Engine) onDelta(event events.DeltaReceived) error {
	_, displaced, err := e.tracker.OnDelta(event.Speaker, event.Text, event.ItemID)
	switch {
	case errors.Is(err, utterances.ErrStaleDelta):
		if e.staleDeltas != nil {
			e.staleDeltas.Add(context.Background(), 1)
		}
		e.logger.Debug("discarding stale delta", "item_id", event.ItemID, "speaker", event.Speaker)
		return nil
	case err != nil:
		return err
	}

	if displaced != nil {
		e.forceFinalize(displaced)
	}
	return nil
}

func (e *Engine) onAuthoritative(ctx context.Context, itemID string, speaker events.Speaker, outcome utterances.Status, text string) error {
	u, err := e.tracker.OnAuthoritative(itemID, speaker, outcome, text)
	switch {
	case errors.Is(err, utterances.ErrDuplicateAuthoritative):
		if e.duplicateAuthoritative != nil {
			e.duplicateAuthoritative.Add(ctx, 1)
		}
		e.logger.Debug("ignoring duplicate authoritative event", "item_id", itemID, "status", outcome)
		return nil
	case err != nil:
		return err
	}

	finalText, _ := u.Final()
	confidence := events.ConfidenceAuthoritative
	if outcome == utterances.StatusFailed {
		confidence = events.ConfidenceDegraded
		e.logger.Warn("transcription failed", "item_id", itemID, "reason", u.FailureReason)
	}

	if u.MarkFinalizedNotified() {
		e.emit(events.NewUtteranceFinalized(u.Key(), u.Speaker, finalText, confidence))
	}

	if strings.TrimSpace(finalText) == "" {
		return nil
	}
	e.submitRelay(ctx, u, finalText, confidence)
	return nil
}

func (e *Engine) onResponseStarted() {
	for _, u := range e.tracker.Open() {
		if u.Speaker == events.SpeakerUser {
			e.forceFinalize(u)
		}
	}
}

func (e *Engine) onForceFinalizeRequest(itemID string) {
	u, ok := e.tracker.Lookup(itemID)
	if !ok {
		e.logger.Debug("cannot force-finalize unknown utterance", "item_id", itemID)
		return
	}
	e.forceFinalize(u)
}

func (e *Engine) finalizeIdle(_ context.Context) {
	cutoff := e.now().Add(-e.idleFinalizeAfter)
	for _, u := range e.tracker.IdleSince(cutoff) {
		e.forceFinalize(u)
	}
}

// forceFinalize closes an open utterance locally. The provisional text is
// announced but never relayed from here.
func (e *Engine) forceFinalize(u *utterances.Utterance) {
	if err := e.tracker.MarkForceFinalized(u); err != nil {
		return
	}

	text := u.ProvisionalText()
	if text == "" {
		text = utterances.UnavailableText
	}
	e.emit(events.NewUtteranceProvisional(u.Key(), u.Speaker, text))
}

// relayFallbacks relays the buffered text of every force-finalized utterance
// that is still waiting for its authoritative result.
func (e *Engine) relayFallbacks(ctx context.Context) {
	for _, u := range e.tracker.AwaitingAuthoritative() {
		text := u.ProvisionalText()
		if strings.TrimSpace(text) == "" {
			continue
		}
		if _, ok := e.submitted[u.Key()]; ok {
			continue
		}

		if u.MarkFinalizedNotified() {
			e.emit(events.NewUtteranceFinalized(u.Key(), u.Speaker, text, events.ConfidenceDegraded))
		}
		e.submitRelay(ctx, u, text, events.ConfidenceDegraded)
	}
}

func (e *Engine) submitRelay(ctx context.Context, u *utterances.Utterance, text string, confidence events.Confidence) {
	key := u.Key()
	if _, ok := e.submitted[key]; ok {
		return
	}
	e.submitted[key] = struct{}{}

	request := relay.Request{
		ItemID:     key,
		Speaker:    u.Speaker,
		Text:       text,
		Timestamp:  e.now(),
		Confidence: confidence,
	}
	// Relays outlive the run context so that cancellation never drops an
	// utterance that was already accepted for delivery.
	relayCtx := context.WithoutCancel(ctx)

	e.relays.Add(1)
	go func() {
		defer e.relays.Done()

		var result relay.Result
		if err := runGuarded("relay utterance", func() error {
			result = e.dedup.RelayIfNew(relayCtx, request)
			return nil
		}); err != nil {
			result = relay.Result{Outcome: relay.OutcomeLost, Err: err}
		}

		select {
		case e.relayResults <- relayResult{request: request, result: result}:
		case <-e.abandoned:
		}
	}()
}

func (e *Engine) applyRelayResult(r relayResult) {
	if r.result.Outcome.Resolved() {
		e.tracker.MarkRelayed(r.request.ItemID)
	}

	relayed := events.NewUtteranceRelayed(r.request.ItemID, r.request.Speaker, string(r.result.Outcome))
	relayed.Text = r.request.Text
	relayed.Confidence = r.request.Confidence
	relayed.Attempts = r.result.Attempts
	relayed.Duration = r.result.Duration
	relayed.Err = r.result.Err
	e.emit(relayed)

	if r.result.Err != nil {
		e.logger.Warn("utterance was not delivered",
			"item_id", r.request.ItemID,
			"outcome", r.result.Outcome,
			"error", r.result.Err,
		)
		return
	}
	e.logger.Debug("utterance relay resolved",
		"item_id", r.request.ItemID,
		"outcome", r.result.Outcome,
		"confidence", r.request.Confidence,
		"attempts", r.result.Attempts,
	)
}

func describeUtterance(u *utterances.Utterance) string {
	return fmt.Sprintf("%s/%s (%s)", u.Speaker, u.Key(), u.Status)
}
