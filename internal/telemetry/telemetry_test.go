package telemetry

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.opentelemetry.io/otel"
)

func TestParseLevel(t *testing.T) {
	testCases := []struct {
		value    string
		expected slog.Level
		err      bool
	}{
		{value: "debug", expected: slog.LevelDebug},
		{value: "INFO", expected: slog.LevelInfo},
		{value: " warn ", expected: slog.LevelWarn},
		{value: "error", expected: slog.LevelError},
		{value: "loud", err: true},
	}

	for _, testCase := range testCases {
		level, err := ParseLevel(testCase.value)
		if testCase.err {
			if err == nil {
				t.Fatalf("expected %q to be rejected", testCase.value)
			}
			continue
		}
		if err != nil || level != testCase.expected {
			t.Fatalf("expected %q to parse as %s, got %s (%v)", testCase.value, testCase.expected, level, err)
		}
	}
}

func TestInitLoggerWritesJSONToRotatedFile(t *testing.T) {
	previous := slog.Default()
	t.Cleanup(func() { slog.SetDefault(previous) })

	dir := filepath.Join(t.TempDir(), "logs")
	logger, closeLog, err := InitLogger(Config{Dir: dir, ServiceName: "relay-test", LogLevel: "debug"})
	if err != nil {
		t.Fatalf("failed to init logger: %v", err)
	}

	logger.Debug("utterance relayed", "item_id", "A1")
	if err := closeLog(); err != nil {
		t.Fatalf("failed to close log: %v", err)
	}

	content, err := os.ReadFile(filepath.Join(dir, "relay-test.log"))
	if err != nil {
		t.Fatalf("failed to read log file: %v", err)
	}
	if !strings.Contains(string(content), `"msg":"utterance relayed"`) || !strings.Contains(string(content), `"item_id":"A1"`) {
		t.Fatalf("unexpected log content: %s", content)
	}
}

func TestInitTelemetryExportsSpansOnShutdown(t *testing.T) {
	previousTracer := otel.GetTracerProvider()
	previousMeter := otel.GetMeterProvider()
	t.Cleanup(func() {
		otel.SetTracerProvider(previousTracer)
		otel.SetMeterProvider(previousMeter)
	})

	dir := t.TempDir()
	shutdown, err := InitTelemetry(context.Background(), Config{
		Dir:            dir,
		ServiceName:    "relay-test",
		ServiceVersion: "test",
		MetricInterval: time.Hour,
	})
	if err != nil {
		t.Fatalf("failed to init telemetry: %v", err)
	}

	_, span := otel.Tracer("telemetry-test").Start(context.Background(), "relay utterance")
	span.End()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := shutdown(ctx); err != nil {
		t.Fatalf("failed to shutdown telemetry: %v", err)
	}

	content, err := os.ReadFile(filepath.Join(dir, "relay-test_traces.log"))
	if err != nil {
		t.Fatalf("failed to read trace file: %v", err)
	}
	if !strings.Contains(string(content), "relay utterance") {
		t.Fatalf("expected exported span in trace file, got %s", content)
	}
}
