// Copyright 2026 Provenact Labs
//
// Postgres archive: a write-behind mirror of admitted events and anchored
// checkpoints for operator reporting.
//
// The archive is never on the admission path. A node with no DATABASE_URL
// runs without it; a node with one mirrors asynchronously and logs failures
// instead of surfacing them: the KV store remains the source of truth.

package archive

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/provenact/operator-node/pkg/event"
)

const schema = `
CREATE TABLE IF NOT EXISTS events (
    event_id      TEXT PRIMARY KEY,
    event_type    TEXT NOT NULL,
    item_id       TEXT,
    height        BIGINT NOT NULL,
    timestamp_ms  BIGINT NOT NULL,
    body          JSONB NOT NULL,
    admitted_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS events_item_idx ON events (item_id, height);

CREATE TABLE IF NOT EXISTS checkpoints (
    checkpoint_id TEXT PRIMARY KEY,
    merkle_root   TEXT NOT NULL,
    event_count   BIGINT NOT NULL,
    bitcoin_tx_id TEXT,
    block_height  BIGINT,
    body          JSONB NOT NULL,
    created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

// Archive mirrors protocol records into Postgres.
type Archive struct {
	db     *sql.DB
	logger *log.Logger
}

// Open connects, configures the pool, and applies the schema.
func Open(databaseURL string, logger *log.Logger) (*Archive, error) {
	if databaseURL == "" {
		return nil, fmt.Errorf("database URL cannot be empty")
	}
	if logger == nil {
		logger = log.New(log.Writer(), "[Archive] ", log.LstdFlags)
	}

	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply archive schema: %w", err)
	}

	logger.Printf("Archive connected")
	return &Archive{db: db, logger: logger}, nil
}

// Close releases the connection pool.
func (a *Archive) Close() error {
	return a.db.Close()
}

// RecordEvent mirrors one admitted event. Duplicate ids are ignored so the
// mirror tolerates replays after restarts.
func (a *Archive) RecordEvent(ctx context.Context, ev *event.Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}
	_, err = a.db.ExecContext(ctx, `
		INSERT INTO events (event_id, event_type, item_id, height, timestamp_ms, body)
		VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6)
		ON CONFLICT (event_id) DO NOTHING`,
		ev.EventID, string(ev.EventType), ev.ItemID, int64(ev.Height), ev.Timestamp, body)
	if err != nil {
		return fmt.Errorf("failed to archive event %s: %w", ev.EventID, err)
	}
	return nil
}

// RecordCheckpoint mirrors a checkpoint record (any JSON-encodable form).
func (a *Archive) RecordCheckpoint(ctx context.Context, checkpointID, merkleRoot string, eventCount uint64, bitcoinTxID string, blockHeight int64, record any) error {
	body, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to encode checkpoint: %w", err)
	}
	_, err = a.db.ExecContext(ctx, `
		INSERT INTO checkpoints (checkpoint_id, merkle_root, event_count, bitcoin_tx_id, block_height, body)
		VALUES ($1, $2, $3, NULLIF($4, ''), NULLIF($5, 0), $6)
		ON CONFLICT (checkpoint_id) DO UPDATE
		SET bitcoin_tx_id = EXCLUDED.bitcoin_tx_id,
		    block_height  = EXCLUDED.block_height,
		    body          = EXCLUDED.body`,
		checkpointID, merkleRoot, int64(eventCount), bitcoinTxID, blockHeight, body)
	if err != nil {
		return fmt.Errorf("failed to archive checkpoint %s: %w", checkpointID, err)
	}
	return nil
}

// EventCountByType returns admission totals for reporting dashboards.
func (a *Archive) EventCountByType(ctx context.Context) (map[string]int64, error) {
	rows, err := a.db.QueryContext(ctx, `SELECT event_type, COUNT(*) FROM events GROUP BY event_type`)
	if err != nil {
		return nil, fmt.Errorf("failed to query event counts: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var t string
		var n int64
		if err := rows.Scan(&t, &n); err != nil {
			return nil, fmt.Errorf("failed to scan event count row: %w", err)
		}
		counts[t] = n
	}
	return counts, rows.Err()
}
