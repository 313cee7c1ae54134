package events

// Speaker identifies who produced an utterance.
type Speaker string

const (
	SpeakerUser      Speaker = "user"
	SpeakerAssistant Speaker = "assistant"
)

func (s Speaker) Valid() bool {
	return s == SpeakerUser || s == SpeakerAssistant
}

// Confidence tags how a finalized transcript was obtained.
type Confidence string

const (
	// ConfidenceAuthoritative marks text taken from a completion event.
	ConfidenceAuthoritative Confidence = "authoritative"
	// ConfidenceDegraded marks text that did not come from a completion
	// event: force-finalized deltas or a reported transcription failure.
	ConfidenceDegraded Confidence = "degraded"
)
