package events

const (
	// KindDeltaReceived identifies provisional transcript fragments.
	KindDeltaReceived Kind = "transcript.delta_received"
	// KindTranscriptionCompleted identifies authoritative transcripts.
	KindTranscriptionCompleted Kind = "transcript.completed"
	// KindTranscriptionFailed identifies authoritative transcription failures.
	KindTranscriptionFailed Kind = "transcript.failed"
)

// DeltaReceived carries a provisional transcript fragment. ItemID is empty
// when the transport has not reported the identifier yet.
type DeltaReceived struct {
	Base
	ItemID  string
	Speaker Speaker
	Text    string
}

// NewDeltaReceived creates a provisional transcript fragment event.
func NewDeltaReceived(speaker Speaker, text string, itemID string) DeltaReceived {
	return DeltaReceived{Base: NewBase(KindDeltaReceived), ItemID: itemID, Speaker: speaker, Text: text}
}

// TranscriptionCompleted carries the authoritative transcript for an item.
// Speaker is a hint derived from the protocol message and may be empty.
type TranscriptionCompleted struct {
	Base
	ItemID     string
	Transcript string
	Speaker    Speaker
}

// NewTranscriptionCompleted creates an authoritative transcript event.
func NewTranscriptionCompleted(itemID, transcript string, speaker Speaker) TranscriptionCompleted {
	return TranscriptionCompleted{
		Base:       NewBase(KindTranscriptionCompleted),
		ItemID:     itemID,
		Transcript: transcript,
		Speaker:    speaker,
	}
}

// TranscriptionFailed reports that the remote session could not transcribe an
// item.
type TranscriptionFailed struct {
	Base
	ItemID  string
	Reason  string
	Speaker Speaker
}

// NewTranscriptionFailed creates an authoritative failure event.
func NewTranscriptionFailed(itemID, reason string, speaker Speaker) TranscriptionFailed {
	return TranscriptionFailed{Base: NewBase(KindTranscriptionFailed), ItemID: itemID, Reason: reason, Speaker: speaker}
}
