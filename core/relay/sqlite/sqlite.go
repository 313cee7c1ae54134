// Package sqlite stores relay payloads in a local SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/danstonedev/EMRsim-chat-sub004/core/events"
	"github.com/danstonedev/EMRsim-chat-sub004/core/relay"
	_ "modernc.org/sqlite"
)

// Backend appends each relayed utterance to the relays table. Rows are keyed
// by item id; a second insert of the same item is ignored.
type Backend struct {
	db  *sql.DB
	now func() time.Time
}

// Record is a stored relay row.
type Record struct {
	relay.Payload
	StoredAt time.Time
}

func Open(dbPath string) (*Backend, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	dsn := dbPath + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// A single writer avoids SQLITE_BUSY between concurrent relays.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	b := &Backend{db: db, now: time.Now}
	if err := b.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return b, nil
}

func (b *Backend) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS relays (
		item_id TEXT PRIMARY KEY,
		speaker TEXT NOT NULL,
		text TEXT NOT NULL,
		is_final INTEGER NOT NULL,
		timestamp_ms INTEGER NOT NULL,
		confidence TEXT NOT NULL,
		stored_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_relays_timestamp ON relays(timestamp_ms);
	`
	if _, err := b.db.Exec(query); err != nil {
		return fmt.Errorf("create relays table: %w", err)
	}
	return nil
}

func (b *Backend) Relay(ctx context.Context, payload relay.Payload) error {
	_, err := b.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO relays (item_id, speaker, text, is_final, timestamp_ms, confidence, stored_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		payload.ItemID,
		string(payload.Speaker),
		payload.Text,
		payload.IsFinal,
		payload.TimestampMs,
		string(payload.Confidence),
		b.now().UnixMilli(),
	)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("insert relay: %w", err)
		}
		return relay.Transient(fmt.Errorf("insert relay: %w", err))
	}
	return nil
}

// Records returns every stored row in timestamp order.
func (b *Backend) Records(ctx context.Context) ([]Record, error) {
	rows, err := b.db.QueryContext(ctx, `
		SELECT item_id, speaker, text, is_final, timestamp_ms, confidence, stored_at
		FROM relays
		ORDER BY timestamp_ms, stored_at`)
	if err != nil {
		return nil, fmt.Errorf("query relays: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var (
			record     Record
			speaker    string
			confidence string
			storedAt   int64
		)
		if err := rows.Scan(
			&record.ItemID,
			&speaker,
			&record.Text,
			&record.IsFinal,
			&record.TimestampMs,
			&confidence,
			&storedAt,
		); err != nil {
			return nil, fmt.Errorf("scan relay: %w", err)
		}
		record.Speaker = events.Speaker(speaker)
		record.Confidence = events.Confidence(confidence)
		record.StoredAt = time.UnixMilli(storedAt)
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate relays: %w", err)
	}

	return records, nil
}

func (b *Backend) Close() error {
	return b.db.Close()
}
