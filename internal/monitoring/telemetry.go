// Package monitoring - telemetry.go records events to JSONL files.
//
// DESIGN: Tracker writes structured events as JSONL (one JSON object per line):
//   - RequestEvent:     Every request through the gateway
//   - compress.Record:  Original vs compressed content per message
//
// Events are appended to files immediately after each event for real-time
// logging. Sink failures are logged and swallowed; telemetry never fails a
// request.
package monitoring

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/tokentrim/gateway/internal/compress"
)

// Tracker handles telemetry event recording to file and stdout.
type Tracker struct {
	config             TelemetryConfig
	requestLogPath     string
	compressionLogPath string
	initLogPath        string
	requestCount       int
	compressionCount   int
	mu                 sync.Mutex
}

// NewTracker creates a new telemetry tracker.
func NewTracker(cfg TelemetryConfig) (*Tracker, error) {
	t := &Tracker{config: cfg}

	if !cfg.Enabled {
		return t, nil
	}

	if cfg.LogPath != "" {
		if err := ensureLogFile(cfg.LogPath); err != nil {
			return nil, err
		}
		t.requestLogPath = cfg.LogPath
		t.initLogPath = filepath.Join(filepath.Dir(cfg.LogPath), "init.jsonl")
		if err := ensureLogFile(t.initLogPath); err != nil {
			return nil, err
		}
	}

	if cfg.CompressionLogPath != "" {
		if err := ensureLogFile(cfg.CompressionLogPath); err != nil {
			return nil, err
		}
		t.compressionLogPath = cfg.CompressionLogPath
	}

	return t, nil
}

// ensureLogFile creates the parent directory and an empty file if missing.
func ensureLogFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return err
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		f, err := os.Create(path)
		if err != nil {
			return err
		}
		_ = f.Close()
	}
	return nil
}

// appendJSONL appends a single JSON object as a line to the file.
func appendJSONL(path string, event any) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	data = append(data, '\n')

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	_, err = f.Write(data)
	return err
}

// RecordRequest records a request event.
func (t *Tracker) RecordRequest(event *RequestEvent) {
	if !t.config.Enabled {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.config.LogToStdout {
		reqID := event.RequestID
		if len(reqID) > 8 {
			reqID = reqID[:8]
		}
		log.Info().
			Str("request_id", reqID).
			Str("path", event.Path).
			Int("status", event.StatusCode).
			Bool("compressed", event.CompressionUsed).
			Int("tokens_saved", event.TokensSaved).
			Int64("total_ms", event.TotalLatencyMs).
			Msg("telemetry")
	}

	if t.requestLogPath != "" {
		if err := appendJSONL(t.requestLogPath, event); err != nil {
			log.Error().Err(err).Str("path", t.requestLogPath).Msg("telemetry: failed to write request event")
		} else {
			t.requestCount++
		}
	}
}

// RecordInit records a gateway initialization event to a dedicated init JSONL.
func (t *Tracker) RecordInit(event *InitEvent) {
	if !t.config.Enabled || t.initLogPath == "" || event == nil {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if err := appendJSONL(t.initLogPath, event); err != nil {
		log.Error().Err(err).Str("path", t.initLogPath).Msg("telemetry: failed to write init event")
	}
}

// RecordCompression records a per-message compression event.
// Implements compress.Sink.
func (t *Tracker) RecordCompression(rec compress.Record) {
	if !t.config.Enabled || t.compressionLogPath == "" {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if err := appendJSONL(t.compressionLogPath, rec); err != nil {
		log.Error().Err(err).Str("path", t.compressionLogPath).Msg("telemetry: failed to write compression event")
	} else {
		t.compressionCount++
	}
}

// CompressionLogEnabled returns true if compression logging is enabled.
func (t *Tracker) CompressionLogEnabled() bool {
	return t.config.Enabled && t.compressionLogPath != ""
}

// Close logs a session summary.
func (t *Tracker) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.requestLogPath != "" && t.requestCount > 0 {
		log.Info().
			Str("path", t.requestLogPath).
			Int("events", t.requestCount).
			Int("compressions", t.compressionCount).
			Msg("telemetry: session complete")
	}

	return nil
}
