// Package store persists request history in SQLite.
//
// DESIGN: A small append-mostly table of request events backs the /history
// endpoint. Writes happen after the response is finished and are best
// effort: a failed insert is logged, never surfaced to the caller.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/tokentrim/gateway/internal/monitoring"
)

const schema = `
CREATE TABLE IF NOT EXISTS request_history (
	id                 INTEGER PRIMARY KEY AUTOINCREMENT,
	request_id         TEXT NOT NULL,
	timestamp          TEXT NOT NULL,
	method             TEXT NOT NULL,
	path               TEXT NOT NULL,
	model              TEXT,
	status_code        INTEGER NOT NULL,
	streamed           INTEGER NOT NULL DEFAULT 0,
	compression_used   INTEGER NOT NULL DEFAULT 0,
	original_tokens    INTEGER NOT NULL DEFAULT 0,
	compressed_tokens  INTEGER NOT NULL DEFAULT 0,
	tokens_saved       INTEGER NOT NULL DEFAULT 0,
	success            INTEGER NOT NULL DEFAULT 0,
	error              TEXT,
	total_latency_ms   INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_request_history_ts ON request_history(timestamp);
`

// History is a SQLite-backed request event store.
type History struct {
	db *sql.DB
}

// Open opens (creating if necessary) the history database at path.
func Open(path string) (*History, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return nil, fmt.Errorf("create history dir: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open history db: %w", err)
	}
	// modernc sqlite serializes writes; a single connection avoids
	// SQLITE_BUSY under concurrent request recording.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init history schema: %w", err)
	}

	return &History{db: db}, nil
}

// Record inserts one completed request event.
func (h *History) Record(ctx context.Context, ev *monitoring.RequestEvent) error {
	_, err := h.db.ExecContext(ctx, `
		INSERT INTO request_history (
			request_id, timestamp, method, path, model, status_code, streamed,
			compression_used, original_tokens, compressed_tokens, tokens_saved,
			success, error, total_latency_ms
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.RequestID,
		ev.Timestamp.UTC().Format(time.RFC3339Nano),
		ev.Method,
		ev.Path,
		ev.Model,
		ev.StatusCode,
		boolToInt(ev.Streamed),
		boolToInt(ev.CompressionUsed),
		ev.OriginalTokens,
		ev.CompressedTokens,
		ev.TokensSaved,
		boolToInt(ev.Success),
		ev.Error,
		ev.TotalLatencyMs,
	)
	return err
}

// Recent returns the most recent request events, newest first.
func (h *History) Recent(ctx context.Context, limit int) ([]monitoring.RequestEvent, error) {
	rows, err := h.db.QueryContext(ctx, `
		SELECT request_id, timestamp, method, path, model, status_code, streamed,
		       compression_used, original_tokens, compressed_tokens, tokens_saved,
		       success, error, total_latency_ms
		FROM request_history
		ORDER BY id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var events []monitoring.RequestEvent
	for rows.Next() {
		var ev monitoring.RequestEvent
		var ts string
		var streamed, compressed, success int
		var model, errMsg sql.NullString
		if err := rows.Scan(
			&ev.RequestID, &ts, &ev.Method, &ev.Path, &model, &ev.StatusCode,
			&streamed, &compressed, &ev.OriginalTokens, &ev.CompressedTokens,
			&ev.TokensSaved, &success, &errMsg, &ev.TotalLatencyMs,
		); err != nil {
			return nil, err
		}
		if t, err := time.Parse(time.RFC3339Nano, ts); err == nil {
			ev.Timestamp = t
		}
		ev.Model = model.String
		ev.Error = errMsg.String
		ev.Streamed = streamed != 0
		ev.CompressionUsed = compressed != 0
		ev.Success = success != 0
		events = append(events, ev)
	}
	return events, rows.Err()
}

// Close closes the underlying database.
func (h *History) Close() error {
	return h.db.Close()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
