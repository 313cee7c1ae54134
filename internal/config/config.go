// Package config loads the relay binary configuration from an optional YAML
// file and the environment. Environment variables win over the file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	orchestration "github.com/danstonedev/EMRsim-chat-sub004/core"
	"github.com/danstonedev/EMRsim-chat-sub004/core/realtime"
	"gopkg.in/yaml.v3"
)

const (
	DialectOpenAI   = "openai"
	DialectDeepgram = "deepgram"

	BackendWebhook = "webhook"
	BackendSQLite  = "sqlite"
	BackendDiscard = "discard"

	DefaultSQLitePath      = "./data/relays.db"
	DefaultMaxRetries      = 3
	DefaultInitialBackoff  = 200 * time.Millisecond
	DefaultMaxBackoff      = 5 * time.Second
	DefaultRetainTurns     = 2
	DefaultQueueCapacity   = 256
	DefaultTeardownTimeout = 5 * time.Second
	DefaultLogDir          = "logs"
	DefaultLogLevel        = "info"
	DefaultServiceName     = "ema-relay"
	DefaultMetricInterval  = 10 * time.Second
)

// TransportConfig selects the realtime session the transcripts come from.
type TransportConfig struct {
	Dialect            string `yaml:"dialect,omitempty"`
	URL                string `yaml:"url,omitempty"`
	Model              string `yaml:"model,omitempty"`
	TranscriptionModel string `yaml:"transcription_model,omitempty"`
	Instructions       string `yaml:"instructions,omitempty"`
	Language           string `yaml:"language,omitempty"`
	Encoding           string `yaml:"encoding,omitempty"`
	SampleRate         int    `yaml:"sample_rate,omitempty"`
	// APIKey is read from the environment only.
	APIKey string `yaml:"-"`
}

// BackendConfig selects where finalized utterances are relayed.
type BackendConfig struct {
	Kind             string        `yaml:"kind,omitempty"`
	WebhookURL       string        `yaml:"webhook_url,omitempty"`
	WebhookToken     string        `yaml:"-"`
	ValidatePayloads bool          `yaml:"validate_payloads,omitempty"`
	SQLitePath       string        `yaml:"sqlite_path,omitempty"`
	MaxRetries       int           `yaml:"max_retries,omitempty"`
	InitialBackoff   time.Duration `yaml:"initial_backoff,omitempty"`
	MaxBackoff       time.Duration `yaml:"max_backoff,omitempty"`
}

type EngineConfig struct {
	TurnBoundary      string        `yaml:"turn_boundary,omitempty"`
	IdleFinalizeAfter time.Duration `yaml:"idle_finalize_after,omitempty"`
	RetainTurns       int           `yaml:"retain_turns,omitempty"`
	QueueCapacity     int           `yaml:"queue_capacity,omitempty"`
	TeardownTimeout   time.Duration `yaml:"teardown_timeout,omitempty"`
}

type TelemetryConfig struct {
	LogDir         string        `yaml:"log_dir,omitempty"`
	LogLevel       string        `yaml:"log_level,omitempty"`
	ServiceName    string        `yaml:"service_name,omitempty"`
	MetricInterval time.Duration `yaml:"metric_interval,omitempty"`
}

// Config is the top-level configuration of the relay binary.
type Config struct {
	Transport TransportConfig `yaml:"transport,omitempty"`
	Backend   BackendConfig   `yaml:"backend,omitempty"`
	Engine    EngineConfig    `yaml:"engine,omitempty"`
	Telemetry TelemetryConfig `yaml:"telemetry,omitempty"`
}

// New returns a Config with every default populated.
func New() *Config {
	return &Config{
		Transport: TransportConfig{
			Dialect: DialectOpenAI,
		},
		Backend: BackendConfig{
			Kind:           BackendDiscard,
			SQLitePath:     DefaultSQLitePath,
			MaxRetries:     DefaultMaxRetries,
			InitialBackoff: DefaultInitialBackoff,
			MaxBackoff:     DefaultMaxBackoff,
		},
		Engine: EngineConfig{
			TurnBoundary:    orchestration.TurnBoundaryFloorChange.String(),
			RetainTurns:     DefaultRetainTurns,
			QueueCapacity:   DefaultQueueCapacity,
			TeardownTimeout: DefaultTeardownTimeout,
		},
		Telemetry: TelemetryConfig{
			LogDir:         DefaultLogDir,
			LogLevel:       DefaultLogLevel,
			ServiceName:    DefaultServiceName,
			MetricInterval: DefaultMetricInterval,
		},
	}
}

// Load reads the YAML file at path when path is not empty, applies the
// environment on top and validates the result.
func Load(path string) (*Config, error) {
	cfg := New()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %q: %w", path, err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Transport.Dialect = strings.ToLower(getEnv("EMA_DIALECT", c.Transport.Dialect))
	c.Transport.URL = getEnv("EMA_TRANSPORT_URL", c.Transport.URL)
	c.Transport.Model = getEnv("EMA_MODEL", c.Transport.Model)
	c.Transport.TranscriptionModel = getEnv("EMA_TRANSCRIPTION_MODEL", c.Transport.TranscriptionModel)
	c.Transport.Language = getEnv("EMA_LANGUAGE", c.Transport.Language)
	c.Transport.Encoding = getEnv("EMA_AUDIO_ENCODING", c.Transport.Encoding)
	c.Transport.SampleRate = getEnvInt("EMA_SAMPLE_RATE", c.Transport.SampleRate)

	c.Transport.APIKey = getEnv("EMA_API_KEY", "")
	if c.Transport.APIKey == "" {
		switch c.Transport.Dialect {
		case DialectOpenAI:
			c.Transport.APIKey = getEnv("OPENAI_API_KEY", "")
		case DialectDeepgram:
			c.Transport.APIKey = getEnv("DEEPGRAM_API_KEY", "")
		}
	}

	c.Backend.Kind = strings.ToLower(getEnv("EMA_BACKEND", c.Backend.Kind))
	c.Backend.WebhookURL = getEnv("EMA_WEBHOOK_URL", c.Backend.WebhookURL)
	c.Backend.WebhookToken = getEnv("EMA_WEBHOOK_TOKEN", c.Backend.WebhookToken)
	c.Backend.ValidatePayloads = getEnvBool("EMA_VALIDATE_PAYLOADS", c.Backend.ValidatePayloads)
	c.Backend.SQLitePath = getEnv("EMA_SQLITE_PATH", c.Backend.SQLitePath)
	c.Backend.MaxRetries = getEnvInt("EMA_MAX_RETRIES", c.Backend.MaxRetries)

	c.Engine.TurnBoundary = getEnv("EMA_TURN_BOUNDARY", c.Engine.TurnBoundary)
	c.Engine.IdleFinalizeAfter = getEnvDuration("EMA_IDLE_FINALIZE_AFTER", c.Engine.IdleFinalizeAfter)
	c.Engine.RetainTurns = getEnvInt("EMA_RETAIN_TURNS", c.Engine.RetainTurns)
	c.Engine.TeardownTimeout = getEnvDuration("EMA_TEARDOWN_TIMEOUT", c.Engine.TeardownTimeout)

	c.Telemetry.LogDir = getEnv("EMA_LOG_DIR", c.Telemetry.LogDir)
	c.Telemetry.LogLevel = getEnv("EMA_LOG_LEVEL", c.Telemetry.LogLevel)
}

// Validate reports every invalid field at once.
func (c *Config) Validate() error {
	var errs []error

	switch c.Transport.Dialect {
	case DialectOpenAI, DialectDeepgram:
	default:
		errs = append(errs, fmt.Errorf("EMA_DIALECT must be %q or %q, got %q", DialectOpenAI, DialectDeepgram, c.Transport.Dialect))
	}
	if c.Transport.APIKey == "" {
		errs = append(errs, errors.New("an API key is required (EMA_API_KEY or the dialect specific variable)"))
	}
	if err := c.AudioEncoding().Validate(); err != nil {
		errs = append(errs, fmt.Errorf("EMA_AUDIO_ENCODING/EMA_SAMPLE_RATE: %w", err))
	}

	switch c.Backend.Kind {
	case BackendWebhook:
		if c.Backend.WebhookURL == "" {
			errs = append(errs, errors.New("EMA_WEBHOOK_URL cannot be empty for the webhook backend"))
		}
	case BackendSQLite:
		if c.Backend.SQLitePath == "" {
			errs = append(errs, errors.New("EMA_SQLITE_PATH cannot be empty for the sqlite backend"))
		}
	case BackendDiscard:
	default:
		errs = append(errs, fmt.Errorf("EMA_BACKEND must be one of %q, %q, %q, got %q", BackendWebhook, BackendSQLite, BackendDiscard, c.Backend.Kind))
	}
	if c.Backend.MaxRetries < 0 {
		errs = append(errs, errors.New("EMA_MAX_RETRIES must be >= 0"))
	}
	if c.Backend.InitialBackoff <= 0 || c.Backend.MaxBackoff < c.Backend.InitialBackoff {
		errs = append(errs, errors.New("backoff must be positive with max_backoff >= initial_backoff"))
	}

	if _, err := orchestration.ParseTurnBoundaryPolicy(c.Engine.TurnBoundary); err != nil {
		errs = append(errs, err)
	}
	if c.Engine.IdleFinalizeAfter < 0 {
		errs = append(errs, errors.New("EMA_IDLE_FINALIZE_AFTER must be >= 0"))
	}
	if c.Engine.RetainTurns <= 0 {
		errs = append(errs, errors.New("EMA_RETAIN_TURNS must be > 0"))
	}
	if c.Engine.QueueCapacity <= 0 {
		errs = append(errs, errors.New("queue_capacity must be > 0"))
	}
	if c.Engine.TeardownTimeout <= 0 {
		errs = append(errs, errors.New("EMA_TEARDOWN_TIMEOUT must be > 0"))
	}

	if c.Telemetry.LogDir == "" {
		errs = append(errs, errors.New("EMA_LOG_DIR cannot be empty"))
	}

	return errors.Join(errs...)
}

// AudioEncoding returns the format of the audio streamed into the session.
// Unset fields fall back to the transport default.
func (c *Config) AudioEncoding() realtime.Encoding {
	encoding := realtime.DefaultEncoding()
	if c.Transport.Encoding != "" {
		encoding.Format = realtime.Format(strings.ToLower(c.Transport.Encoding))
	}
	if c.Transport.SampleRate > 0 {
		encoding.SampleRate = c.Transport.SampleRate
	}
	return encoding
}

// TurnBoundaryPolicy returns the parsed engine turn boundary policy.
func (c *Config) TurnBoundaryPolicy() orchestration.TurnBoundaryPolicy {
	policy, _ := orchestration.ParseTurnBoundaryPolicy(c.Engine.TurnBoundary)
	return policy
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}
