package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	orchestration "github.com/danstonedev/EMRsim-chat-sub004/core"
	"github.com/danstonedev/EMRsim-chat-sub004/core/realtime"
)

var configEnvKeys = []string{
	"EMA_DIALECT", "EMA_TRANSPORT_URL", "EMA_MODEL", "EMA_TRANSCRIPTION_MODEL", "EMA_LANGUAGE",
	"EMA_AUDIO_ENCODING", "EMA_SAMPLE_RATE", "EMA_API_KEY", "OPENAI_API_KEY", "DEEPGRAM_API_KEY", "EMA_BACKEND",
	"EMA_WEBHOOK_URL", "EMA_WEBHOOK_TOKEN", "EMA_VALIDATE_PAYLOADS", "EMA_SQLITE_PATH",
	"EMA_MAX_RETRIES", "EMA_TURN_BOUNDARY", "EMA_IDLE_FINALIZE_AFTER", "EMA_RETAIN_TURNS",
	"EMA_TEARDOWN_TIMEOUT", "EMA_LOG_DIR", "EMA_LOG_LEVEL",
}

// unsetConfigEnv clears every variable Load reads and restores them after
// the test.
func unsetConfigEnv(t *testing.T) {
	t.Helper()

	for _, key := range configEnvKeys {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
}

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "ema-relay.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	unsetConfigEnv(t)
	t.Setenv("OPENAI_API_KEY", "sk-test")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("expected defaults to be valid, got %v", err)
	}

	if cfg.Transport.Dialect != DialectOpenAI || cfg.Transport.APIKey != "sk-test" {
		t.Fatalf("unexpected transport config: %+v", cfg.Transport)
	}
	if cfg.Backend.Kind != BackendDiscard || cfg.Backend.MaxRetries != DefaultMaxRetries {
		t.Fatalf("unexpected backend config: %+v", cfg.Backend)
	}
	if cfg.TurnBoundaryPolicy() != orchestration.TurnBoundaryFloorChange {
		t.Fatalf("expected floor change policy, got %s", cfg.TurnBoundaryPolicy())
	}
	if cfg.AudioEncoding() != realtime.DefaultEncoding() {
		t.Fatalf("expected default audio encoding, got %+v", cfg.AudioEncoding())
	}
}

func TestLoadFileThenEnvironment(t *testing.T) {
	unsetConfigEnv(t)
	path := writeConfigFile(t, `
transport:
  dialect: deepgram
  language: de
  encoding: MULAW
  sample_rate: 8000
backend:
  kind: webhook
  webhook_url: https://grading.example/utterances
  initial_backoff: 100ms
  max_backoff: 2s
engine:
  turn_boundary: user_round
  idle_finalize_after: 3s
`)
	t.Setenv("DEEPGRAM_API_KEY", "dg-key")
	t.Setenv("EMA_WEBHOOK_URL", "https://override.example/hook")
	t.Setenv("EMA_RETAIN_TURNS", "5")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	if cfg.Transport.Dialect != DialectDeepgram || cfg.Transport.Language != "de" || cfg.Transport.APIKey != "dg-key" {
		t.Fatalf("unexpected transport config: %+v", cfg.Transport)
	}
	if encoding := cfg.AudioEncoding(); encoding.Format != realtime.FormatMulaw || encoding.SampleRate != 8000 {
		t.Fatalf("unexpected audio encoding %+v", encoding)
	}
	if cfg.Backend.WebhookURL != "https://override.example/hook" {
		t.Fatalf("expected environment to override file, got %q", cfg.Backend.WebhookURL)
	}
	if cfg.Backend.InitialBackoff != 100*time.Millisecond || cfg.Backend.MaxBackoff != 2*time.Second {
		t.Fatalf("unexpected backoff: %s/%s", cfg.Backend.InitialBackoff, cfg.Backend.MaxBackoff)
	}
	if cfg.Backend.MaxRetries != DefaultMaxRetries {
		t.Fatalf("expected unset fields to keep defaults, got %d", cfg.Backend.MaxRetries)
	}
	if cfg.Engine.RetainTurns != 5 || cfg.Engine.IdleFinalizeAfter != 3*time.Second {
		t.Fatalf("unexpected engine config: %+v", cfg.Engine)
	}
	if cfg.TurnBoundaryPolicy() != orchestration.TurnBoundaryUserRound {
		t.Fatalf("expected user round policy, got %s", cfg.TurnBoundaryPolicy())
	}
}

func TestLoadRejectsMissingFile(t *testing.T) {
	unsetConfigEnv(t)

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected not-exist error, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	testCases := []struct {
		name     string
		mutate   func(*Config)
		expected string
	}{
		{name: "unknown dialect", mutate: func(c *Config) { c.Transport.Dialect = "sip" }, expected: "EMA_DIALECT"},
		{name: "missing api key", mutate: func(c *Config) { c.Transport.APIKey = "" }, expected: "API key"},
		{name: "webhook without url", mutate: func(c *Config) { c.Backend.Kind = BackendWebhook }, expected: "EMA_WEBHOOK_URL"},
		{name: "sqlite without path", mutate: func(c *Config) {
			c.Backend.Kind = BackendSQLite
			c.Backend.SQLitePath = ""
		}, expected: "EMA_SQLITE_PATH"},
		{name: "unknown backend", mutate: func(c *Config) { c.Backend.Kind = "kafka" }, expected: "EMA_BACKEND"},
		{name: "inverted backoff", mutate: func(c *Config) { c.Backend.MaxBackoff = time.Millisecond }, expected: "backoff"},
		{name: "unknown turn boundary", mutate: func(c *Config) { c.Engine.TurnBoundary = "whenever" }, expected: "turn boundary"},
		{name: "mulaw above 8kHz", mutate: func(c *Config) {
			c.Transport.Encoding = "mulaw"
			c.Transport.SampleRate = 16000
		}, expected: "EMA_AUDIO_ENCODING"},
		{name: "no retained turns", mutate: func(c *Config) { c.Engine.RetainTurns = 0 }, expected: "EMA_RETAIN_TURNS"},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			cfg := New()
			cfg.Transport.APIKey = "key"
			testCase.mutate(cfg)

			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), testCase.expected) {
				t.Fatalf("expected error mentioning %q, got %v", testCase.expected, err)
			}
		})
	}
}

func TestValidateReportsAllProblems(t *testing.T) {
	cfg := New()
	cfg.Transport.Dialect = "sip"
	cfg.Backend.Kind = "kafka"

	err := cfg.Validate()
	if err == nil {
		t.Fatalf("expected validation error")
	}
	for _, expected := range []string{"EMA_DIALECT", "API key", "EMA_BACKEND"} {
		if !strings.Contains(err.Error(), expected) {
			t.Fatalf("expected %q in %v", expected, err)
		}
	}
}

func TestGetEnvHelpersFallBackOnInvalidValues(t *testing.T) {
	t.Setenv("EMA_TEST_INT", "many")
	t.Setenv("EMA_TEST_BOOL", "maybe")
	t.Setenv("EMA_TEST_DURATION", "soon")

	if got := getEnvInt("EMA_TEST_INT", 7); got != 7 {
		t.Fatalf("expected int fallback, got %d", got)
	}
	if got := getEnvBool("EMA_TEST_BOOL", true); !got {
		t.Fatalf("expected bool fallback")
	}
	if got := getEnvDuration("EMA_TEST_DURATION", time.Second); got != time.Second {
		t.Fatalf("expected duration fallback, got %s", got)
	}

	t.Setenv("EMA_TEST_DURATION", " 250ms ")
	if got := getEnvDuration("EMA_TEST_DURATION", time.Second); got != 250*time.Millisecond {
		t.Fatalf("expected parsed duration, got %s", got)
	}
}
