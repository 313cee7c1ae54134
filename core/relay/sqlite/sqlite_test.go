package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/danstonedev/EMRsim-chat-sub004/core/events"
	"github.com/danstonedev/EMRsim-chat-sub004/core/relay"
)

func openTestBackend(t *testing.T) *Backend {
	t.Helper()

	backend, err := Open(filepath.Join(t.TempDir(), "relays", "log.db"))
	if err != nil {
		t.Fatalf("failed to open backend: %v", err)
	}
	t.Cleanup(func() { backend.Close() })
	return backend
}

func TestRelayStoresPayload(t *testing.T) {
	t.Parallel()
	backend := openTestBackend(t)

	payload := relay.Payload{
		ItemID:      "A1",
		Speaker:     events.SpeakerUser,
		Text:        "hello world",
		IsFinal:     true,
		TimestampMs: 1_700_000_000_000,
		Confidence:  events.ConfidenceAuthoritative,
	}
	if err := backend.Relay(context.Background(), payload); err != nil {
		t.Fatalf("expected relay to succeed, got %v", err)
	}

	records, err := backend.Records(context.Background())
	if err != nil {
		t.Fatalf("failed to read records: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected one record, got %d", len(records))
	}
	if records[0].Payload != payload {
		t.Fatalf("expected stored payload %+v, got %+v", payload, records[0].Payload)
	}
}

func TestRelayIgnoresRepeatedItem(t *testing.T) {
	t.Parallel()
	backend := openTestBackend(t)

	first := relay.Payload{ItemID: "A2", Speaker: events.SpeakerUser, Text: "um", IsFinal: true, Confidence: events.ConfidenceDegraded}
	second := first
	second.Text = "umm"
	second.Confidence = events.ConfidenceAuthoritative

	for _, payload := range []relay.Payload{first, second} {
		if err := backend.Relay(context.Background(), payload); err != nil {
			t.Fatalf("expected relay to succeed, got %v", err)
		}
	}

	records, err := backend.Records(context.Background())
	if err != nil {
		t.Fatalf("failed to read records: %v", err)
	}
	if len(records) != 1 || records[0].Text != "um" {
		t.Fatalf("expected only the first delivery to be stored, got %+v", records)
	}
}

func TestDeduplicatorWithSQLiteBackend(t *testing.T) {
	t.Parallel()
	backend := openTestBackend(t)
	dedup := relay.NewDeduplicator(backend)

	for _, itemID := range []string{"A1", "A1", "A3"} {
		dedup.RelayIfNew(context.Background(), relay.Request{
			ItemID:     itemID,
			Speaker:    events.SpeakerAssistant,
			Text:       "reply " + itemID,
			Confidence: events.ConfidenceAuthoritative,
		})
	}

	records, err := backend.Records(context.Background())
	if err != nil {
		t.Fatalf("failed to read records: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected two records, got %d", len(records))
	}
}
