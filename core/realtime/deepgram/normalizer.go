// Package deepgram normalizes the message stream of a Deepgram live
// transcription socket.
//
// Deepgram transcribes only the user and assigns no item identifiers. The
// normalizer treats everything between a speech start and the end of the
// utterance as one item and generates its identifier.
package deepgram

import (
	"encoding/json"
	"strings"

	"github.com/danstonedev/EMRsim-chat-sub004/core/events"
	"github.com/danstonedev/EMRsim-chat-sub004/core/realtime"
	api "github.com/deepgram/deepgram-go-sdk/pkg/api/listen/v1/websocket/interfaces"
	"github.com/google/uuid"
)

const Dialect = "deepgram"

var ignoredTypes = map[string]struct{}{
	"Metadata": {},
}

type Normalizer struct {
	diagnostics *realtime.Diagnostics
	newID       func() string

	segmentID string
	segments  []string
}

type NormalizerOption func(*Normalizer)

func WithDiagnostics(diagnostics *realtime.Diagnostics) NormalizerOption {
	return func(n *Normalizer) {
		if diagnostics != nil {
			n.diagnostics = diagnostics
		}
	}
}

// WithSegmentIDs replaces the generator of item identifiers.
func WithSegmentIDs(newID func() string) NormalizerOption {
	return func(n *Normalizer) {
		if newID != nil {
			n.newID = newID
		}
	}
}

func NewNormalizer(opts ...NormalizerOption) *Normalizer {
	n := &Normalizer{
		diagnostics: realtime.NewDiagnostics(Dialect),
		newID:       func() string { return "dg-" + uuid.NewString() },
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

func (n *Normalizer) Diagnostics() *realtime.Diagnostics { return n.diagnostics }

func (n *Normalizer) Normalize(raw []byte) []events.Event {
	var parsedMsg struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &parsedMsg); err != nil {
		n.diagnostics.Drop(realtime.DropMalformed, "")
		return nil
	}

	switch api.TypeResponse(parsedMsg.Type) {
	case api.TypeSpeechStartedResponse:
		var msgResp api.SpeechStartedResponse
		if err := json.Unmarshal(raw, &msgResp); err != nil {
			n.diagnostics.Drop(realtime.DropMalformed, parsedMsg.Type)
			return nil
		}
		if n.segmentID != "" {
			return nil
		}
		return n.startSegment(nil)

	case api.TypeMessageResponse:
		var msgResp api.MessageResponse
		if err := json.Unmarshal(raw, &msgResp); err != nil {
			n.diagnostics.Drop(realtime.DropMalformed, parsedMsg.Type)
			return nil
		}
		if !msgResp.IsFinal {
			return nil
		}

		var normalized []events.Event
		if len(msgResp.Channel.Alternatives) > 0 {
			transcript := strings.TrimSpace(msgResp.Channel.Alternatives[0].Transcript)
			if transcript != "" {
				if n.segmentID == "" {
					normalized = n.startSegment(normalized)
				}
				text := transcript
				if len(n.segments) > 0 {
					text = " " + transcript
				}
				n.segments = append(n.segments, transcript)
				normalized = append(normalized, events.NewDeltaReceived(events.SpeakerUser, text, n.segmentID))
			}
		}
		if msgResp.SpeechFinal {
			normalized = n.endSegment(normalized)
		}
		return normalized

	case api.TypeUtteranceEndResponse:
		var msgResp api.UtteranceEndResponse
		if err := json.Unmarshal(raw, &msgResp); err != nil {
			n.diagnostics.Drop(realtime.DropMalformed, parsedMsg.Type)
			return nil
		}
		return n.endSegment(nil)
	}

	if _, ok := ignoredTypes[parsedMsg.Type]; ok {
		return nil
	}
	n.diagnostics.Drop(realtime.DropUnknownType, parsedMsg.Type)
	return nil
}

func (n *Normalizer) startSegment(normalized []events.Event) []events.Event {
	n.segmentID = n.newID()
	n.segments = nil
	return append(normalized, events.NewTurnStarted(events.SpeakerUser, n.segmentID))
}

func (n *Normalizer) endSegment(normalized []events.Event) []events.Event {
	if n.segmentID == "" {
		return normalized
	}

	transcript := strings.Join(n.segments, " ")
	normalized = append(normalized, events.NewTranscriptionCompleted(n.segmentID, transcript, events.SpeakerUser))
	n.segmentID = ""
	n.segments = nil
	return normalized
}
