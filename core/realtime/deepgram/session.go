package deepgram

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/danstonedev/EMRsim-chat-sub004/core/realtime"
	api "github.com/deepgram/deepgram-go-sdk/pkg/api/listen/v1/websocket/interfaces"
)

const DefaultURL = "wss://api.deepgram.com/v1/listen"

type Session struct {
	conn *realtime.Conn
}

type sessionOptions struct {
	url      string
	model    string
	language string
	encoding realtime.Encoding
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

func WithLanguage(language string) SessionOption {
	return func(o *sessionOptions) {
		if language != "" {
			o.language = language
		}
	}
}

// WithEncoding sets the raw audio format sent with SendAudio.
func WithEncoding(encoding realtime.Encoding) SessionOption {
	return func(o *sessionOptions) {
		if !encoding.IsZero() {
			o.encoding = encoding
		}
	}
}

// Connect opens a live transcription socket with voice activity events and
// utterance end detection, which the normalizer relies on for item
// boundaries.
func Connect(ctx context.Context, apiKey string, opts ...SessionOption) (*Session, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("deepgram api key not found")
	}

	options := sessionOptions{
		url:      DefaultURL,
		model:    "nova-3",
		language: "en-US",
		encoding: realtime.DefaultEncoding(),
	}
	for _, opt := range opts {
		opt(&options)
	}
	if err := options.encoding.Validate(); err != nil {
		return nil, fmt.Errorf("invalid deepgram audio encoding: %w", err)
	}

	listenURL, err := url.Parse(options.url)
	if err != nil {
		return nil, fmt.Errorf("invalid listen url: %w", err)
	}
	queryParams := listenURL.Query()
	queryParams.Set("encoding", string(options.encoding.Format))
	queryParams.Set("sample_rate", strconv.Itoa(options.encoding.SampleRate))
	queryParams.Set("channels", "1")
	queryParams.Set("model", options.model)
	queryParams.Set("language", options.language)
	queryParams.Set("smart_format", "true")
	queryParams.Set("interim_results", "true")
	queryParams.Set("utterance_end_ms", "1000")
	queryParams.Set("endpointing", "300")
	queryParams.Set("vad_events", "true")
	listenURL.RawQuery = queryParams.Encode()

	conn, err := realtime.Dial(ctx, listenURL.String(), http.Header{"Authorization": {"Token " + apiKey}})
	if err != nil {
		return nil, fmt.Errorf("failed to open socket connection to deepgram: %w", err)
	}

	return &Session{conn: conn}, nil
}

func (s *Session) SendAudio(audio []byte) error {
	return s.conn.WriteBinary(audio)
}

// KeepAlive keeps the socket open while no audio is sent.
func (s *Session) KeepAlive() error {
	return s.conn.WriteJSON(struct {
		Type string `json:"type"`
	}{Type: "KeepAlive"})
}

func (s *Session) Listen(ctx context.Context, handle func(raw []byte)) error {
	return s.conn.Listen(ctx, handle)
}

// Close asks Deepgram to flush pending results and closes the socket.
func (s *Session) Close() error {
	_ = s.conn.WriteJSON(struct {
		Type string `json:"type"`
	}{Type: string(api.TypeCloseStreamResponse)})
	return s.conn.Close()
}
