package monitoring

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tokentrim/gateway/internal/compress"
)

func readJSONLines(t *testing.T, path string) []string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer func() { _ = f.Close() }()

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if line := scanner.Text(); line != "" {
			lines = append(lines, line)
		}
	}
	require.NoError(t, scanner.Err())
	return lines
}

func TestTrackerDisabledWritesNothing(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "requests.jsonl")

	tracker, err := NewTracker(TelemetryConfig{Enabled: false, LogPath: logPath})
	require.NoError(t, err)

	tracker.RecordRequest(&RequestEvent{RequestID: "req-1", Timestamp: time.Now()})
	tracker.RecordCompression(compress.Record{RequestID: "req-1"})
	assert.False(t, tracker.CompressionLogEnabled())

	_, statErr := os.Stat(logPath)
	assert.True(t, os.IsNotExist(statErr), "disabled tracker must not create the log file")
}

func TestTrackerWritesRequestEvents(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "requests.jsonl")

	tracker, err := NewTracker(TelemetryConfig{Enabled: true, LogPath: logPath})
	require.NoError(t, err)

	ev := &RequestEvent{
		RequestID:       "req-abc",
		Timestamp:       time.Now().UTC(),
		Method:          "POST",
		Path:            "/v1/chat/completions",
		StatusCode:      200,
		CompressionUsed: true,
		TokensSaved:     42,
		Success:         true,
	}
	tracker.RecordRequest(ev)
	tracker.RecordRequest(ev)

	lines := readJSONLines(t, logPath)
	require.Len(t, lines, 2)

	var got RequestEvent
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &got))
	assert.Equal(t, "req-abc", got.RequestID)
	assert.Equal(t, "/v1/chat/completions", got.Path)
	assert.Equal(t, 42, got.TokensSaved)
	assert.True(t, got.Success)
}

func TestTrackerRecordInit(t *testing.T) {
	dir := t.TempDir()

	tracker, err := NewTracker(TelemetryConfig{Enabled: true, LogPath: filepath.Join(dir, "requests.jsonl")})
	require.NoError(t, err)

	tracker.RecordInit(&InitEvent{
		Timestamp:       time.Now().UTC(),
		Event:           "gateway_start",
		ServerAddr:      "0.0.0.0:8000",
		UpstreamBaseURL: "https://api.openai.com/v1",
		KeepFraction:    0.5,
	})

	lines := readJSONLines(t, filepath.Join(dir, "init.jsonl"))
	require.Len(t, lines, 1)

	var got InitEvent
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &got))
	assert.Equal(t, "gateway_start", got.Event)
	assert.Equal(t, 0.5, got.KeepFraction)
}

func TestTrackerCompressionLog(t *testing.T) {
	dir := t.TempDir()
	compPath := filepath.Join(dir, "compression.jsonl")

	tracker, err := NewTracker(TelemetryConfig{Enabled: true, CompressionLogPath: compPath})
	require.NoError(t, err)
	assert.True(t, tracker.CompressionLogEnabled())

	tracker.RecordCompression(compress.Record{
		RequestID:        "req-xyz",
		MessageIndex:     1,
		OriginalText:     "one two three four",
		CompressedText:   "one three",
		OriginalTokens:   4,
		CompressedTokens: 2,
		KeepFraction:     0.5,
	})

	lines := readJSONLines(t, compPath)
	require.Len(t, lines, 1)

	var got compress.Record
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &got))
	assert.Equal(t, "req-xyz", got.RequestID)
	assert.Equal(t, 1, got.MessageIndex)
	assert.Equal(t, "one three", got.CompressedText)
	assert.Equal(t, 4, got.OriginalTokens)
}
