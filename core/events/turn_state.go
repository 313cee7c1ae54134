package events

// KindTurnStarted identifies a speaker taking the floor with a new item.
const KindTurnStarted Kind = "turn_state.started"

// TurnStarted marks a speaker starting a new item.
type TurnStarted struct {
	Base
	Speaker Speaker
	ItemID  string
}

// NewTurnStarted creates a turn started event.
func NewTurnStarted(speaker Speaker, itemID string) TurnStarted {
	return TurnStarted{Base: NewBase(KindTurnStarted), Speaker: speaker, ItemID: itemID}
}
