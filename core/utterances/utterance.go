// Package utterances owns the per-speaker utterance records of a session and
// the state machine that moves them from provisional text to a final value.
//
// An utterance moves through
//
//	open -> force_finalized -> completed | failed
//	open -> completed | failed
//
// force_finalized is an intermediate marker: it never sets FinalText.
package utterances

import (
	"errors"
	"strings"
	"time"

	"github.com/danstonedev/EMRsim-chat-sub004/core/events"
)

// UnavailableText stands in for a transcript when no text was received.
const UnavailableText = "[transcript unavailable]"

const localKeyPrefix = "local-"

var (
	ErrStaleDelta             = errors.New("stale delta for finalized utterance")
	ErrDuplicateAuthoritative = errors.New("duplicate authoritative event")
	ErrRetired                = errors.New("utterance already retired")
	ErrMissingItemID          = errors.New("missing item id")
	ErrInvalidSpeaker         = errors.New("invalid speaker")
	ErrInvalidOutcome         = errors.New("invalid authoritative outcome")
	ErrNotOpen                = errors.New("utterance is not open")
)

type Status string

const (
	StatusOpen           Status = "open"
	StatusForceFinalized Status = "force_finalized"
	StatusCompleted      Status = "completed"
	StatusFailed         Status = "failed"
)

// Terminal reports whether an authoritative result has been applied.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

type Utterance struct {
	// ID is the local identity, assigned on creation.
	ID string
	// ItemID is the identifier assigned by the remote session. Empty until
	// the transport reports it.
	ItemID  string
	Speaker events.Speaker

	Provisional []string
	FinalText   *string
	Status      Status
	// Relayed mirrors the relay outcome for this item. Relay decisions are
	// made by the relay set, not by this field.
	Relayed       bool
	FailureReason string

	TurnIndex int

	CreatedAt        time.Time
	UpdatedAt        time.Time
	ForceFinalizedAt time.Time
	FinalizedAt      time.Time

	// finalizedNotified is set once the value of record was announced.
	finalizedNotified bool
}

// Key identifies the utterance for relay purposes: the remote item id when
// bound, a local identifier otherwise.
func (u *Utterance) Key() string {
	if u.ItemID != "" {
		return u.ItemID
	}
	return localKeyPrefix + u.ID
}

func (u *Utterance) Bound() bool { return u.ItemID != "" }

// ProvisionalText joins the buffered delta fragments in arrival order.
func (u *Utterance) ProvisionalText() string {
	return strings.Join(u.Provisional, "")
}

// Final returns the authoritative text, if any.
func (u *Utterance) Final() (string, bool) {
	if u.FinalText == nil {
		return "", false
	}
	return *u.FinalText, true
}

// MarkFinalizedNotified records that the value of record has been announced
// and reports whether this call was the first.
func (u *Utterance) MarkFinalizedNotified() bool {
	if u.finalizedNotified {
		return false
	}
	u.finalizedNotified = true
	return true
}

func (u *Utterance) awaitingAuthoritative() bool {
	return u.Status == StatusForceFinalized
}

func (u *Utterance) relayResolved() bool {
	if u.Relayed {
		return true
	}
	// nothing to relay
	if text, ok := u.Final(); ok && u.Status == StatusCompleted {
		return strings.TrimSpace(text) == ""
	}
	return false
}
