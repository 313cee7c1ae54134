// Package openai normalizes the event stream of an OpenAI realtime session.
package openai

import (
	"encoding/json"

	"github.com/danstonedev/EMRsim-chat-sub004/core/events"
	"github.com/danstonedev/EMRsim-chat-sub004/core/realtime"
)

const Dialect = "openai"

const (
	typeSpeechStarted            = "input_audio_buffer.speech_started"
	typeAudioCommitted           = "input_audio_buffer.committed"
	typeInputTranscriptDelta     = "conversation.item.input_audio_transcription.delta"
	typeInputTranscriptCompleted = "conversation.item.input_audio_transcription.completed"
	typeInputTranscriptFailed    = "conversation.item.input_audio_transcription.failed"
	typeResponseCreated          = "response.created"
	typeOutputItemAdded          = "response.output_item.added"
	typeAudioTranscriptDelta     = "response.audio_transcript.delta"
	typeAudioTranscriptDone      = "response.audio_transcript.done"
	typeOutputTranscriptDelta    = "response.output_audio_transcript.delta"
	typeOutputTranscriptDone     = "response.output_audio_transcript.done"
)

// ignoredTypes are known messages that carry nothing the engine needs.
var ignoredTypes = map[string]struct{}{
	"session.created":                   {},
	"session.updated":                   {},
	"input_audio_buffer.speech_stopped": {},
	"input_audio_buffer.cleared":        {},
	"conversation.item.created":         {},
	"conversation.item.added":           {},
	"conversation.item.done":            {},
	"response.done":                     {},
	"response.output_item.done":         {},
	"response.content_part.added":       {},
	"response.content_part.done":        {},
	"response.audio.delta":              {},
	"response.audio.done":               {},
	"response.output_audio.delta":       {},
	"response.output_audio.done":        {},
	"rate_limits.updated":               {},
}

type message struct {
	Type       string `json:"type"`
	ItemID     string `json:"item_id"`
	Delta      string `json:"delta"`
	Transcript string `json:"transcript"`
	Error      *struct {
		Type    string `json:"type"`
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
	Response *struct {
		ID string `json:"id"`
	} `json:"response"`
	Item *struct {
		ID   string `json:"id"`
		Type string `json:"type"`
		Role string `json:"role"`
	} `json:"item"`
}

type Normalizer struct {
	diagnostics *realtime.Diagnostics
}

type NormalizerOption func(*Normalizer)

func WithDiagnostics(diagnostics *realtime.Diagnostics) NormalizerOption {
	return func(n *Normalizer) {
		if diagnostics != nil {
			n.diagnostics = diagnostics
		}
	}
}

func NewNormalizer(opts ...NormalizerOption) *Normalizer {
	n := &Normalizer{diagnostics: realtime.NewDiagnostics(Dialect)}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

func (n *Normalizer) Diagnostics() *realtime.Diagnostics { return n.diagnostics }

func (n *Normalizer) Normalize(raw []byte) []events.Event {
	var msg message
	if err := json.Unmarshal(raw, &msg); err != nil {
		n.diagnostics.Drop(realtime.DropMalformed, "")
		return nil
	}

	switch msg.Type {
	case typeSpeechStarted, typeAudioCommitted:
		if msg.ItemID == "" {
			return n.drop(realtime.DropMissingField, msg.Type)
		}
		return []events.Event{events.NewTurnStarted(events.SpeakerUser, msg.ItemID)}

	case typeInputTranscriptDelta:
		return []events.Event{events.NewDeltaReceived(events.SpeakerUser, msg.Delta, msg.ItemID)}

	case typeInputTranscriptCompleted:
		if msg.ItemID == "" {
			return n.drop(realtime.DropMissingField, msg.Type)
		}
		return []events.Event{events.NewTranscriptionCompleted(msg.ItemID, msg.Transcript, events.SpeakerUser)}

	case typeInputTranscriptFailed:
		if msg.ItemID == "" {
			return n.drop(realtime.DropMissingField, msg.Type)
		}
		reason := "transcription failed"
		if msg.Error != nil && msg.Error.Message != "" {
			reason = msg.Error.Message
		}
		return []events.Event{events.NewTranscriptionFailed(msg.ItemID, reason, events.SpeakerUser)}

	case typeResponseCreated:
		return []events.Event{events.NewResponseStarted("")}

	case typeOutputItemAdded:
		if msg.Item == nil || msg.Item.ID == "" {
			return n.drop(realtime.DropMissingField, msg.Type)
		}
		if msg.Item.Role != "" && msg.Item.Role != string(events.SpeakerAssistant) {
			return nil
		}
		return []events.Event{events.NewTurnStarted(events.SpeakerAssistant, msg.Item.ID)}

	case typeAudioTranscriptDelta, typeOutputTranscriptDelta:
		return []events.Event{events.NewDeltaReceived(events.SpeakerAssistant, msg.Delta, msg.ItemID)}

	case typeAudioTranscriptDone, typeOutputTranscriptDone:
		if msg.ItemID == "" {
			return n.drop(realtime.DropMissingField, msg.Type)
		}
		return []events.Event{events.NewTranscriptionCompleted(msg.ItemID, msg.Transcript, events.SpeakerAssistant)}
	}

	if _, ok := ignoredTypes[msg.Type]; ok {
		return nil
	}
	return n.drop(realtime.DropUnknownType, msg.Type)
}

func (n *Normalizer) drop(reason realtime.DropReason, messageType string) []events.Event {
	n.diagnostics.Drop(reason, messageType)
	return nil
}
