package events

// KindResponseStarted identifies the start of response generation.
const KindResponseStarted Kind = "assistant_response.started"

// ResponseStarted marks the remote session starting a response. ItemID is
// empty when the response has no output item yet.
type ResponseStarted struct {
	Base
	ItemID string
}

// NewResponseStarted creates a response started event.
func NewResponseStarted(itemID string) ResponseStarted {
	return ResponseStarted{Base: NewBase(KindResponseStarted), ItemID: itemID}
}
