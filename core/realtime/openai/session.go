package openai

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"

	"github.com/danstonedev/EMRsim-chat-sub004/core/realtime"
	"github.com/google/uuid"
)

const (
	DefaultURL   = "wss://api.openai.com/v1/realtime"
	DefaultModel = "gpt-4o-realtime-preview"

	defaultTranscriptionModel = "gpt-4o-mini-transcribe"
)

// Session is a realtime session with input transcription enabled.
type Session struct {
	conn *realtime.Conn
}

type sessionOptions struct {
	url                string
	model              string
	transcriptionModel string
	instructions       string
	encoding           realtime.Encoding
}

type SessionOption func(*sessionOptions)

func WithURL(rawURL string) SessionOption {
	return func(o *sessionOptions) {
		if rawURL != "" {
			o.url = rawURL
		}
	}
}

func WithModel(model string) SessionOption {
	return func(o *sessionOptions) {
		if model != "" {
			o.model = model
		}
	}
}

func WithTranscriptionModel(model string) SessionOption {
	return func(o *sessionOptions) {
		if model != "" {
			o.transcriptionModel = model
		}
	}
}

func WithInstructions(instructions string) SessionOption {
	return func(o *sessionOptions) {
		o.instructions = instructions
	}
}

// WithInputEncoding sets the format of the audio sent with SendAudio. The
// realtime API accepts 24kHz linear PCM or 8kHz G.711.
func WithInputEncoding(encoding realtime.Encoding) SessionOption {
	return func(o *sessionOptions) {
		if !encoding.IsZero() {
			o.encoding = encoding
		}
	}
}

func inputAudioFormat(encoding realtime.Encoding) (string, error) {
	if err := encoding.Validate(); err != nil {
		return "", err
	}
	switch {
	case encoding.Format == realtime.FormatLinear16 && encoding.SampleRate == 24000:
		return "pcm16", nil
	case encoding.Format == realtime.FormatMulaw:
		return "g711_ulaw", nil
	case encoding.Format == realtime.FormatALaw:
		return "g711_alaw", nil
	default:
		return "", fmt.Errorf("unsupported sample rate %d for %s input audio", encoding.SampleRate, encoding.Format)
	}
}

// Connect opens the session and enables server side voice activity detection
// and input audio transcription.
func Connect(ctx context.Context, apiKey string, opts ...SessionOption) (*Session, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai api key not found")
	}

	options := sessionOptions{
		url:                DefaultURL,
		model:              DefaultModel,
		transcriptionModel: defaultTranscriptionModel,
		encoding:           realtime.DefaultEncoding(),
	}
	for _, opt := range opts {
		opt(&options)
	}
	audioFormat, err := inputAudioFormat(options.encoding)
	if err != nil {
		return nil, fmt.Errorf("invalid input audio encoding: %w", err)
	}

	sessionURL, err := url.Parse(options.url)
	if err != nil {
		return nil, fmt.Errorf("invalid realtime url: %w", err)
	}
	query := sessionURL.Query()
	query.Set("model", options.model)
	sessionURL.RawQuery = query.Encode()

	conn, err := realtime.Dial(ctx, sessionURL.String(), http.Header{
		"Authorization": {"Bearer " + apiKey},
		"OpenAI-Beta":   {"realtime=v1"},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to openai realtime: %w", err)
	}

	s := &Session{conn: conn}
	if err := s.configure(options, audioFormat); err != nil {
		conn.Close()
		return nil, err
	}
	return s, nil
}

func (s *Session) configure(options sessionOptions, audioFormat string) error {
	session := map[string]any{
		"input_audio_format":        audioFormat,
		"input_audio_transcription": map[string]any{"model": options.transcriptionModel},
		"turn_detection":            map[string]any{"type": "server_vad"},
	}
	if options.instructions != "" {
		session["instructions"] = options.instructions
	}

	if err := s.Send("session.update", map[string]any{"session": session}); err != nil {
		return fmt.Errorf("failed to configure session: %w", err)
	}
	return nil
}

// Send writes a client event of the given type. fields are merged into the
// event body.
func (s *Session) Send(eventType string, fields map[string]any) error {
	event := map[string]any{
		"type":     eventType,
		"event_id": "evt_" + uuid.NewString(),
	}
	for key, value := range fields {
		event[key] = value
	}
	return s.conn.WriteJSON(event)
}

// SendAudio appends audio in the configured input format to the input
// buffer.
func (s *Session) SendAudio(audio []byte) error {
	return s.Send("input_audio_buffer.append", map[string]any{
		"audio": base64.StdEncoding.EncodeToString(audio),
	})
}

// Listen passes every server event to handle until the session closes.
func (s *Session) Listen(ctx context.Context, handle func(raw []byte)) error {
	return s.conn.Listen(ctx, handle)
}

func (s *Session) Close() error {
	return s.conn.Close()
}
