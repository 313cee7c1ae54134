package utterances

import (
	"errors"
	"testing"
	"time"

	"github.com/danstonedev/EMRsim-chat-sub004/core/events"
)

func TestOnDeltaCreatesAndAppendsOpenUtterance(t *testing.T) {
	tracker := NewTracker()

	first, displaced, err := tracker.OnDelta(events.SpeakerUser, "hello", "A1")
	if err != nil {
		t.Fatalf("expected delta to be accepted, got %v", err)
	}
	if displaced != nil {
		t.Fatalf("expected no displaced utterance, got %+v", displaced)
	}

	second, _, err := tracker.OnDelta(events.SpeakerUser, " world", "A1")
	if err != nil {
		t.Fatalf("expected second delta to be accepted, got %v", err)
	}

	if first != second {
		t.Fatalf("expected both deltas to land on the same utterance")
	}
	if got := first.ProvisionalText(); got != "hello world" {
		t.Fatalf("expected provisional text %q, got %q", "hello world", got)
	}
	if first.Status != StatusOpen {
		t.Fatalf("expected status open, got %q", first.Status)
	}
	if _, ok := first.Final(); ok {
		t.Fatalf("expected no final text for open utterance")
	}
}

func TestOnDeltaWithoutItemIDIsBoundByTurnStart(t *testing.T) {
	tracker := NewTracker()

	unbound, _, err := tracker.OnDelta(events.SpeakerUser, "hi", "")
	if err != nil {
		t.Fatalf("expected delta to be accepted, got %v", err)
	}
	if unbound.Bound() {
		t.Fatalf("expected utterance to be unbound")
	}
	localKey := unbound.Key()

	bound, displaced, err := tracker.OnTurnStarted(events.SpeakerUser, "A1")
	if err != nil {
		t.Fatalf("expected turn start to be accepted, got %v", err)
	}
	if displaced != nil {
		t.Fatalf("expected no displaced utterance")
	}
	if bound != unbound {
		t.Fatalf("expected turn start to bind the open utterance")
	}
	if bound.Key() != "A1" {
		t.Fatalf("expected key A1, got %q", bound.Key())
	}
	if _, ok := tracker.Lookup(localKey); ok {
		t.Fatalf("expected local key to be released after binding")
	}
	if found, ok := tracker.Lookup("A1"); !ok || found != bound {
		t.Fatalf("expected lookup by item id to find the bound utterance")
	}
}

func TestOnTurnStartedForKnownItemIsNoop(t *testing.T) {
	tracker := NewTracker()

	first, _, _ := tracker.OnTurnStarted(events.SpeakerUser, "A1")
	again, displaced, err := tracker.OnTurnStarted(events.SpeakerUser, "A1")
	if err != nil {
		t.Fatalf("expected repeated turn start to be accepted, got %v", err)
	}
	if again != first || displaced != nil {
		t.Fatalf("expected repeated turn start to return the existing utterance")
	}
	if tracker.Len() != 1 {
		t.Fatalf("expected a single tracked utterance, got %d", tracker.Len())
	}
}

func TestNewItemForSameSpeakerDisplacesOpenUtterance(t *testing.T) {
	tracker := NewTracker()

	first, _, _ := tracker.OnDelta(events.SpeakerUser, "one", "A1")
	second, displaced, err := tracker.OnDelta(events.SpeakerUser, "two", "A2")
	if err != nil {
		t.Fatalf("expected delta to be accepted, got %v", err)
	}
	if displaced != first {
		t.Fatalf("expected first utterance to be displaced")
	}
	if tracker.Turn().Current(events.SpeakerUser) != second {
		t.Fatalf("expected second utterance to hold the user slot")
	}
}

func TestOnAuthoritativeCompletedSetsFinalText(t *testing.T) {
	tracker := NewTracker()
	tracker.OnDelta(events.SpeakerUser, "helo", "A1")

	u, err := tracker.OnAuthoritative("A1", "", StatusCompleted, "hello")
	if err != nil {
		t.Fatalf("expected completion to be applied, got %v", err)
	}
	if u.Status != StatusCompleted {
		t.Fatalf("expected status completed, got %q", u.Status)
	}
	if text, _ := u.Final(); text != "hello" {
		t.Fatalf("expected final text %q, got %q", "hello", text)
	}
}

func TestOnAuthoritativeFailedFallsBackToProvisionalOrSentinel(t *testing.T) {
	testCases := []struct {
		name     string
		deltas   []string
		expected string
	}{
		{name: "with deltas", deltas: []string{"par", "tial"}, expected: "partial"},
		{name: "without deltas", deltas: nil, expected: UnavailableText},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			tracker := NewTracker()
			tracker.OnTurnStarted(events.SpeakerUser, "A1")
			for _, delta := range testCase.deltas {
				tracker.OnDelta(events.SpeakerUser, delta, "A1")
			}

			u, err := tracker.OnAuthoritative("A1", "", StatusFailed, "decoder error")
			if err != nil {
				t.Fatalf("expected failure to be applied, got %v", err)
			}
			if u.Status != StatusFailed {
				t.Fatalf("expected status failed, got %q", u.Status)
			}
			if text, _ := u.Final(); text != testCase.expected {
				t.Fatalf("expected final text %q, got %q", testCase.expected, text)
			}
			if u.FailureReason != "decoder error" {
				t.Fatalf("expected failure reason to be kept, got %q", u.FailureReason)
			}
		})
	}
}

func TestOnAuthoritativeIsIdempotent(t *testing.T) {
	tracker := NewTracker()

	if _, err := tracker.OnAuthoritative("A3", events.SpeakerUser, StatusCompleted, "hi"); err != nil {
		t.Fatalf("expected first completion to be applied, got %v", err)
	}

	u, err := tracker.OnAuthoritative("A3", events.SpeakerUser, StatusCompleted, "changed")
	if !errors.Is(err, ErrDuplicateAuthoritative) {
		t.Fatalf("expected ErrDuplicateAuthoritative, got %v", err)
	}
	if text, _ := u.Final(); text != "hi" {
		t.Fatalf("expected duplicate to leave final text unchanged, got %q", text)
	}
}

func TestOnAuthoritativeForUnseenItemDefaultsToUser(t *testing.T) {
	tracker := NewTracker()

	u, err := tracker.OnAuthoritative("A9", "", StatusCompleted, "hi")
	if err != nil {
		t.Fatalf("expected completion to be applied, got %v", err)
	}
	if u.Speaker != events.SpeakerUser {
		t.Fatalf("expected speaker to default to user, got %q", u.Speaker)
	}
}

func TestStaleDeltaAfterCompletionIsRejected(t *testing.T) {
	tracker := NewTracker()
	tracker.OnDelta(events.SpeakerUser, "hello", "A1")
	tracker.OnAuthoritative("A1", "", StatusCompleted, "hello")

	u, _, err := tracker.OnDelta(events.SpeakerUser, " again", "A1")
	if !errors.Is(err, ErrStaleDelta) {
		t.Fatalf("expected ErrStaleDelta, got %v", err)
	}
	if got := u.ProvisionalText(); got != "hello" {
		t.Fatalf("expected stale delta to be discarded, got %q", got)
	}
	if text, _ := u.Final(); text != "hello" {
		t.Fatalf("expected final text to stay %q, got %q", "hello", text)
	}
}

func TestForceFinalizedThenAuthoritativeSupersedes(t *testing.T) {
	tracker := NewTracker()
	u, _, _ := tracker.OnDelta(events.SpeakerUser, "provisional", "A1")

	if err := tracker.MarkForceFinalized(u); err != nil {
		t.Fatalf("expected force finalize to succeed, got %v", err)
	}
	if _, ok := u.Final(); ok {
		t.Fatalf("expected force finalize not to set final text")
	}
	if err := tracker.MarkForceFinalized(u); !errors.Is(err, ErrNotOpen) {
		t.Fatalf("expected second force finalize to fail with ErrNotOpen, got %v", err)
	}

	if _, err := tracker.OnAuthoritative("A1", "", StatusCompleted, "authoritative"); err != nil {
		t.Fatalf("expected completion to be applied, got %v", err)
	}
	if text, _ := u.Final(); text != "authoritative" {
		t.Fatalf("expected authoritative text, got %q", text)
	}
}

func TestAdvancePrunesFinishedUtterancesAndKeepsTombstones(t *testing.T) {
	tracker := NewTracker()

	u, _, _ := tracker.OnDelta(events.SpeakerUser, "hello", "A1")
	tracker.OnAuthoritative("A1", "", StatusCompleted, "hello")
	tracker.MarkRelayed("A1")

	if index := tracker.Advance(nil); index != 1 {
		t.Fatalf("expected turn index 1, got %d", index)
	}
	if _, ok := tracker.Lookup("A1"); !ok {
		t.Fatalf("expected utterance of the just closed turn to be kept")
	}

	tracker.Advance(nil)
	if _, ok := tracker.Lookup("A1"); ok {
		t.Fatalf("expected finished utterance to be pruned")
	}
	if u.TurnIndex != 0 {
		t.Fatalf("expected pruned utterance to keep its turn index")
	}

	if _, err := tracker.OnAuthoritative("A1", "", StatusCompleted, "hello"); !errors.Is(err, ErrDuplicateAuthoritative) {
		t.Fatalf("expected late duplicate to be recognized, got %v", err)
	}
	if _, _, err := tracker.OnDelta(events.SpeakerUser, "late", "A1"); !errors.Is(err, ErrStaleDelta) {
		t.Fatalf("expected late delta to be stale, got %v", err)
	}
}

func TestAdvanceKeepsUtteranceAwaitingRelay(t *testing.T) {
	tracker := NewTracker()

	u, _, _ := tracker.OnDelta(events.SpeakerUser, "um", "A2")
	tracker.MarkForceFinalized(u)

	tracker.Advance(nil)
	tracker.Advance(nil)

	if _, ok := tracker.Lookup("A2"); !ok {
		t.Fatalf("expected unrelayed force-finalized utterance to be kept")
	}
	awaiting := tracker.AwaitingAuthoritative()
	if len(awaiting) != 1 || awaiting[0] != u {
		t.Fatalf("expected utterance to await its authoritative result, got %d", len(awaiting))
	}
}

func TestAdvanceExpiresRelayedForceFinalizedAfterRetainTurns(t *testing.T) {
	tracker := NewTracker(WithRetainTurns(2))

	u, _, _ := tracker.OnDelta(events.SpeakerUser, "um", "A2")
	tracker.MarkForceFinalized(u)
	tracker.MarkRelayed("A2")

	tracker.Advance(nil)
	tracker.Advance(nil)
	if _, ok := tracker.Lookup("A2"); !ok {
		t.Fatalf("expected utterance to be retained within the window")
	}

	tracker.Advance(nil)
	if _, ok := tracker.Lookup("A2"); ok {
		t.Fatalf("expected utterance to expire after the retain window")
	}
}

func TestAdvanceMovesKeptUtteranceIntoNewTurn(t *testing.T) {
	tracker := NewTracker()

	tracker.OnDelta(events.SpeakerUser, "question", "U1")
	assistant, _, _ := tracker.OnTurnStarted(events.SpeakerAssistant, "R1")

	tracker.Advance(assistant)

	turn := tracker.Turn()
	if turn.Index != 1 {
		t.Fatalf("expected turn index 1, got %d", turn.Index)
	}
	if turn.Assistant != assistant || turn.User != nil {
		t.Fatalf("expected only the assistant utterance in the new turn")
	}
	members := tracker.Members()
	if len(members) != 1 || members[0] != assistant {
		t.Fatalf("expected assistant utterance to be the only member, got %d", len(members))
	}
}

func TestIdleSinceReturnsStaleOpenUtterances(t *testing.T) {
	now := time.Unix(100, 0)
	tracker := NewTracker(WithClock(func() time.Time { return now }))

	tracker.OnDelta(events.SpeakerUser, "idle", "A1")
	now = now.Add(time.Second)
	tracker.OnDelta(events.SpeakerAssistant, "fresh", "R1")

	idle := tracker.IdleSince(time.Unix(100, 500))
	if len(idle) != 1 || idle[0].Key() != "A1" {
		t.Fatalf("expected only A1 to be idle, got %d utterances", len(idle))
	}
}

func TestSnapshotIsDeepCopy(t *testing.T) {
	tracker := NewTracker()
	u, _, _ := tracker.OnDelta(events.SpeakerUser, "hello", "A1")

	snapshot, err := tracker.Snapshot()
	if err != nil {
		t.Fatalf("expected snapshot to succeed, got %v", err)
	}
	if len(snapshot.Utterances) != 1 {
		t.Fatalf("expected one utterance in snapshot, got %d", len(snapshot.Utterances))
	}
	if snapshot.User != "A1" {
		t.Fatalf("expected user slot A1, got %q", snapshot.User)
	}

	snapshot.Utterances[0].Provisional[0] = "mutated"
	if u.Provisional[0] != "hello" {
		t.Fatalf("expected snapshot mutation not to leak into tracker state")
	}
}

func TestInvalidInputsAreRejected(t *testing.T) {
	tracker := NewTracker()

	if _, _, err := tracker.OnDelta("system", "x", ""); !errors.Is(err, ErrInvalidSpeaker) {
		t.Fatalf("expected ErrInvalidSpeaker, got %v", err)
	}
	if _, _, err := tracker.OnTurnStarted(events.SpeakerUser, ""); !errors.Is(err, ErrMissingItemID) {
		t.Fatalf("expected ErrMissingItemID, got %v", err)
	}
	if _, err := tracker.OnAuthoritative("A1", "", StatusOpen, "x"); !errors.Is(err, ErrInvalidOutcome) {
		t.Fatalf("expected ErrInvalidOutcome, got %v", err)
	}
}

func TestOnAuthoritativeBindsUnboundUtteranceOfSpeaker(t *testing.T) {
	testCases := []struct {
		name           string
		forceFinalized bool
	}{
		{name: "open"},
		{name: "force finalized", forceFinalized: true},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			tracker := NewTracker()

			unbound, _, _ := tracker.OnDelta(events.SpeakerUser, "hello", "")
			localKey := unbound.Key()
			if testCase.forceFinalized {
				tracker.MarkForceFinalized(unbound)
			}

			u, err := tracker.OnAuthoritative("A1", events.SpeakerUser, StatusCompleted, "hello")
			if err != nil {
				t.Fatalf("expected completion to be applied, got %v", err)
			}
			if u != unbound {
				t.Fatalf("expected completion to land on the unbound utterance")
			}
			if u.Key() != "A1" || u.Status != StatusCompleted {
				t.Fatalf("expected completed utterance bound to A1, got %q (%s)", u.Key(), u.Status)
			}
			if tracker.Len() != 1 {
				t.Fatalf("expected a single tracked utterance, got %d", tracker.Len())
			}
			if _, ok := tracker.Lookup(localKey); ok {
				t.Fatalf("expected local key to be released after binding")
			}
			if awaiting := tracker.AwaitingAuthoritative(); len(awaiting) != 0 {
				t.Fatalf("expected nothing awaiting an authoritative result, got %d", len(awaiting))
			}
		})
	}
}

func TestTurnStartAfterCompletionDoesNotReuseCompletedText(t *testing.T) {
	tracker := NewTracker()

	tracker.OnDelta(events.SpeakerUser, "hello", "")
	completed, _ := tracker.OnAuthoritative("A1", events.SpeakerUser, StatusCompleted, "hello")

	next, _, err := tracker.OnTurnStarted(events.SpeakerUser, "U2")
	if err != nil {
		t.Fatalf("expected turn start to be accepted, got %v", err)
	}
	if next == completed {
		t.Fatalf("expected a new utterance for U2")
	}
	tracker.OnDelta(events.SpeakerUser, " bye", "U2")
	if got := next.ProvisionalText(); got != " bye" {
		t.Fatalf("expected provisional text %q, got %q", " bye", got)
	}
}

func TestAdvanceExpiresUnrelayedForceFinalizedAfterRetainTurns(t *testing.T) {
	tracker := NewTracker(WithRetainTurns(1))

	u, _, _ := tracker.OnTurnStarted(events.SpeakerUser, "A3")
	tracker.MarkForceFinalized(u)

	tracker.Advance(nil)
	if _, ok := tracker.Lookup("A3"); !ok {
		t.Fatalf("expected utterance of the just closed turn to be kept")
	}

	tracker.Advance(nil)
	if _, ok := tracker.Lookup("A3"); ok {
		t.Fatalf("expected utterance to expire after the retain window")
	}
	if !tracker.Retired("A3") {
		t.Fatalf("expected expired item id to be remembered")
	}
}
