package utterances

import (
	"fmt"
	"slices"
	"time"

	"github.com/danstonedev/EMRsim-chat-sub004/core/events"
	"github.com/danstonedev/EMRsim-chat-sub004/internal/utils"
	"github.com/google/uuid"
	"github.com/jinzhu/copier"
)

const defaultRetainTurns = 8

// Turn groups the utterances of one conversational turn.
type Turn struct {
	Index     int
	User      *Utterance
	Assistant *Utterance
}

func (t *Turn) slot(speaker events.Speaker) **Utterance {
	if speaker == events.SpeakerAssistant {
		return &t.Assistant
	}
	return &t.User
}

// Current returns the current utterance of the speaker in this turn.
func (t Turn) Current(speaker events.Speaker) *Utterance {
	if speaker == events.SpeakerAssistant {
		return t.Assistant
	}
	return t.User
}

// Tracker owns every utterance of a session. It is not safe for concurrent
// use; a single event loop is expected to drive it.
//
// Utterances are pruned once their turn is closed and they are finished, or
// after the retained turns when they are still waiting for an authoritative
// result. The item id of every pruned utterance stays in memory for the rest
// of the session, one map entry per item.
type Tracker struct {
	all   []*Utterance
	byKey map[string]*Utterance
	// tombstones keeps the item ids of pruned utterances so that late events
	// for them are still recognized. Never shrinks.
	tombstones map[string]Status

	turn        Turn
	retainTurns int

	now   func() time.Time
	newID func() string
}

type TrackerOption func(*Tracker)

// WithRetainTurns sets how many turns a force-finalized utterance is kept
// waiting for its authoritative result.
func WithRetainTurns(turns int) TrackerOption {
	return func(t *Tracker) {
		if turns > 0 {
			t.retainTurns = turns
		}
	}
}

func WithClock(now func() time.Time) TrackerOption {
	return func(t *Tracker) {
		if now != nil {
			t.now = now
		}
	}
}

func NewTracker(opts ...TrackerOption) *Tracker {
	t := &Tracker{
		byKey:       map[string]*Utterance{},
		tombstones:  map[string]Status{},
		retainTurns: defaultRetainTurns,
		now:         time.Now,
		newID:       uuid.NewString,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// OnDelta appends a provisional fragment to the speaker's open utterance,
// creating one when none exists. A delta naming a new item while another item
// of the same speaker is still open returns that utterance as displaced.
func (t *Tracker) OnDelta(speaker events.Speaker, text string, itemID string) (u *Utterance, displaced *Utterance, err error) {
	if !speaker.Valid() {
		return nil, nil, fmt.Errorf("%w: %q", ErrInvalidSpeaker, speaker)
	}

	if itemID != "" {
		if existing, ok := t.byKey[itemID]; ok {
			if existing.Status.Terminal() {
				return existing, nil, ErrStaleDelta
			}
			t.appendDelta(existing, text)
			return existing, nil, nil
		}
		if _, retired := t.tombstones[itemID]; retired {
			return nil, nil, ErrStaleDelta
		}

		if current := t.turn.Current(speaker); current != nil && current.Status == StatusOpen && !current.Bound() {
			t.bind(current, itemID)
			t.appendDelta(current, text)
			return current, nil, nil
		}

		u = t.create(speaker, itemID)
		displaced = t.place(u)
		t.appendDelta(u, text)
		return u, displaced, nil
	}

	if current := t.turn.Current(speaker); current != nil && current.Status == StatusOpen {
		t.appendDelta(current, text)
		return current, nil, nil
	}

	u = t.create(speaker, "")
	displaced = t.place(u)
	t.appendDelta(u, text)
	return u, displaced, nil
}

// OnTurnStarted binds the speaker's most recent open, unbound utterance to
// itemID, or creates a new utterance bound to it. A turn start for a known
// item returns the existing record unchanged.
func (t *Tracker) OnTurnStarted(speaker events.Speaker, itemID string) (u *Utterance, displaced *Utterance, err error) {
	if !speaker.Valid() {
		return nil, nil, fmt.Errorf("%w: %q", ErrInvalidSpeaker, speaker)
	}
	if itemID == "" {
		return nil, nil, ErrMissingItemID
	}

	if existing, ok := t.byKey[itemID]; ok {
		return existing, nil, nil
	}
	if _, retired := t.tombstones[itemID]; retired {
		return nil, nil, ErrRetired
	}

	if current := t.turn.Current(speaker); current != nil && current.Status == StatusOpen && !current.Bound() {
		t.bind(current, itemID)
		return current, nil, nil
	}

	u = t.create(speaker, itemID)
	displaced = t.place(u)
	return u, displaced, nil
}

// OnAuthoritative applies a completion or failure. For a completion text is
// the transcript; for a failure it is the reported reason and the final text
// falls back to the buffered deltas or UnavailableText.
//
// An authoritative event for an unseen item is applied to the speaker's
// current unbound utterance, which is bound to itemID. Without one the record
// is created directly in its terminal state. speaker is only used for unseen
// items and defaults to user.
func (t *Tracker) OnAuthoritative(itemID string, speaker events.Speaker, outcome Status, text string) (*Utterance, error) {
	if !outcome.Terminal() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidOutcome, outcome)
	}
	if itemID == "" {
		return nil, ErrMissingItemID
	}

	u, ok := t.byKey[itemID]
	if !ok {
		if _, retired := t.tombstones[itemID]; retired {
			return nil, ErrDuplicateAuthoritative
		}
		if !speaker.Valid() {
			speaker = events.SpeakerUser
		}
		if current := t.turn.Current(speaker); current != nil && !current.Bound() && !current.Status.Terminal() {
			t.bind(current, itemID)
			u = current
		} else {
			u = t.create(speaker, itemID)
		}
	}

	if u.Status.Terminal() {
		return u, ErrDuplicateAuthoritative
	}

	var finalText string
	switch outcome {
	case StatusCompleted:
		finalText = text
	case StatusFailed:
		u.FailureReason = text
		finalText = u.ProvisionalText()
		if finalText == "" {
			finalText = UnavailableText
		}
	}

	now := t.now()
	u.FinalText = utils.Ptr(finalText)
	u.Status = outcome
	u.FinalizedAt = now
	u.UpdatedAt = now
	return u, nil
}

// MarkForceFinalized moves an open utterance to force_finalized.
func (t *Tracker) MarkForceFinalized(u *Utterance) error {
	if u == nil || u.Status != StatusOpen {
		return ErrNotOpen
	}

	now := t.now()
	u.Status = StatusForceFinalized
	u.ForceFinalizedAt = now
	u.UpdatedAt = now
	return nil
}

// MarkRelayed records that the relay for key resolved. It reports false when
// the utterance is no longer tracked or was already marked.
func (t *Tracker) MarkRelayed(key string) (*Utterance, bool) {
	u, ok := t.byKey[key]
	if !ok || u.Relayed {
		return u, false
	}
	u.Relayed = true
	u.UpdatedAt = t.now()
	return u, true
}

// Lookup returns the utterance with the given relay key or item id.
func (t *Tracker) Lookup(key string) (*Utterance, bool) {
	u, ok := t.byKey[key]
	return u, ok
}

// Retired reports whether itemID belonged to an utterance that was pruned.
func (t *Tracker) Retired(itemID string) bool {
	_, ok := t.tombstones[itemID]
	return ok
}

// Turn returns the current turn.
func (t *Tracker) Turn() Turn { return t.turn }

// Members returns the utterances belonging to the current turn.
func (t *Tracker) Members() []*Utterance {
	members := []*Utterance{}
	for _, u := range t.all {
		if u.TurnIndex == t.turn.Index {
			members = append(members, u)
		}
	}
	return members
}

// Advance starts the next turn. keep, when set, is moved into the new turn;
// every other member stays in the closed turn. Utterances of earlier turns
// that are finished are pruned and remembered as tombstones.
func (t *Tracker) Advance(keep *Utterance) int {
	closedIndex := t.turn.Index
	t.prune(closedIndex)

	t.turn = Turn{Index: closedIndex + 1}
	if keep != nil {
		keep.TurnIndex = t.turn.Index
		*t.turn.slot(keep.Speaker) = keep
	}
	return t.turn.Index
}

// AwaitingAuthoritative returns force-finalized utterances that were neither
// relayed nor superseded by an authoritative event.
func (t *Tracker) AwaitingAuthoritative() []*Utterance {
	awaiting := []*Utterance{}
	for _, u := range t.all {
		if u.awaitingAuthoritative() && !u.Relayed {
			awaiting = append(awaiting, u)
		}
	}
	return awaiting
}

// Open returns every utterance still in the open state.
func (t *Tracker) Open() []*Utterance {
	open := []*Utterance{}
	for _, u := range t.all {
		if u.Status == StatusOpen {
			open = append(open, u)
		}
	}
	return open
}

// IdleSince returns open utterances that have not been updated since cutoff.
func (t *Tracker) IdleSince(cutoff time.Time) []*Utterance {
	idle := []*Utterance{}
	for _, u := range t.all {
		if u.Status == StatusOpen && u.UpdatedAt.Before(cutoff) {
			idle = append(idle, u)
		}
	}
	return idle
}

// Len returns the number of tracked utterances.
func (t *Tracker) Len() int { return len(t.all) }

func (t *Tracker) create(speaker events.Speaker, itemID string) *Utterance {
	now := t.now()
	u := &Utterance{
		ID:        t.newID(),
		ItemID:    itemID,
		Speaker:   speaker,
		Status:    StatusOpen,
		TurnIndex: t.turn.Index,
		CreatedAt: now,
		UpdatedAt: now,
	}
	t.all = append(t.all, u)
	t.byKey[u.Key()] = u
	return u
}

func (t *Tracker) bind(u *Utterance, itemID string) {
	delete(t.byKey, u.Key())
	u.ItemID = itemID
	u.UpdatedAt = t.now()
	t.byKey[itemID] = u
}

func (t *Tracker) place(u *Utterance) (displaced *Utterance) {
	slot := t.turn.slot(u.Speaker)
	if previous := *slot; previous != nil && previous != u && previous.Status == StatusOpen {
		displaced = previous
	}
	*slot = u
	return displaced
}

func (t *Tracker) appendDelta(u *Utterance, text string) {
	if text == "" {
		return
	}
	u.Provisional = append(u.Provisional, text)
	u.UpdatedAt = t.now()
}

// prune drops finished utterances of turns before closedIndex.
func (t *Tracker) prune(closedIndex int) {
	t.all = slices.DeleteFunc(t.all, func(u *Utterance) bool {
		if u.TurnIndex >= closedIndex {
			return false
		}

		finished := u.Status.Terminal() && u.relayResolved()
		expired := u.awaitingAuthoritative() && closedIndex-u.TurnIndex >= t.retainTurns
		if !finished && !expired {
			return false
		}

		delete(t.byKey, u.Key())
		if u.Bound() {
			t.tombstones[u.ItemID] = u.Status
		}
		return true
	})
}

// Snapshot is a point-in-time deep copy of the tracker state.
type Snapshot struct {
	TurnIndex  int
	User       string
	Assistant  string
	Utterances []Utterance
}

func (t *Tracker) Snapshot() (Snapshot, error) {
	snapshot := Snapshot{TurnIndex: t.turn.Index}
	if t.turn.User != nil {
		snapshot.User = t.turn.User.Key()
	}
	if t.turn.Assistant != nil {
		snapshot.Assistant = t.turn.Assistant.Key()
	}

	source := make([]Utterance, 0, len(t.all))
	for _, u := range t.all {
		source = append(source, *u)
	}
	if err := copier.CopyWithOption(&snapshot.Utterances, &source, copier.Option{DeepCopy: true}); err != nil {
		return Snapshot{}, fmt.Errorf("failed to copy utterances: %w", err)
	}

	return snapshot, nil
}
