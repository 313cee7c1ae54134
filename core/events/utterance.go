package events

import "time"

const (
	// KindUtteranceProvisional identifies force-finalized provisional text.
	KindUtteranceProvisional Kind = "utterance.provisional"
	// KindUtteranceFinalized identifies the value of record for an item.
	KindUtteranceFinalized Kind = "utterance.finalized"
	// KindUtteranceRelayed identifies resolution of a backend relay.
	KindUtteranceRelayed Kind = "utterance.relayed"
)

// UtteranceProvisional carries the provisional text computed when an
// utterance is force finalized. It is never relayed to the backend.
type UtteranceProvisional struct {
	Base
	ItemID  string
	Speaker Speaker
	Text    string
}

// NewUtteranceProvisional creates a provisional utterance event.
func NewUtteranceProvisional(itemID string, speaker Speaker, text string) UtteranceProvisional {
	return UtteranceProvisional{Base: NewBase(KindUtteranceProvisional), ItemID: itemID, Speaker: speaker, Text: text}
}

// UtteranceFinalized carries the value of record for an item.
type UtteranceFinalized struct {
	Base
	ItemID     string
	Speaker    Speaker
	Text       string
	Confidence Confidence
}

// NewUtteranceFinalized creates a finalized utterance event.
func NewUtteranceFinalized(itemID string, speaker Speaker, text string, confidence Confidence) UtteranceFinalized {
	return UtteranceFinalized{
		Base:       NewBase(KindUtteranceFinalized),
		ItemID:     itemID,
		Speaker:    speaker,
		Text:       text,
		Confidence: confidence,
	}
}

// UtteranceRelayed reports how a relay to the backend resolved. Err is set
// when the item was given up on after failed deliveries.
type UtteranceRelayed struct {
	Base
	ItemID     string
	Speaker    Speaker
	Text       string
	Confidence Confidence
	Outcome    string
	Attempts   int
	Duration   time.Duration
	Err        error
}

// NewUtteranceRelayed creates a relay resolution event.
func NewUtteranceRelayed(itemID string, speaker Speaker, outcome string) UtteranceRelayed {
	return UtteranceRelayed{Base: NewBase(KindUtteranceRelayed), ItemID: itemID, Speaker: speaker, Outcome: outcome}
}
