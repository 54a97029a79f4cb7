package store

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tokentrim/gateway/internal/monitoring"
)

func openTestHistory(t *testing.T) *History {
	t.Helper()
	h, err := Open(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = h.Close() })
	return h
}

func TestHistoryRecordAndRecent(t *testing.T) {
	h := openTestHistory(t)
	ctx := context.Background()

	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		ev := &monitoring.RequestEvent{
			RequestID:        fmt.Sprintf("req-%d", i),
			Timestamp:        base.Add(time.Duration(i) * time.Second),
			Method:           "POST",
			Path:             "/v1/chat/completions",
			Model:            "gpt-4",
			StatusCode:       200,
			Streamed:         i == 2,
			CompressionUsed:  true,
			OriginalTokens:   100,
			CompressedTokens: 40,
			TokensSaved:      60,
			Success:          true,
			TotalLatencyMs:   int64(10 + i),
		}
		require.NoError(t, h.Record(ctx, ev))
	}

	events, err := h.Recent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, events, 2)

	// Newest first.
	assert.Equal(t, "req-2", events[0].RequestID)
	assert.Equal(t, "req-1", events[1].RequestID)

	got := events[0]
	assert.Equal(t, "POST", got.Method)
	assert.Equal(t, "/v1/chat/completions", got.Path)
	assert.Equal(t, "gpt-4", got.Model)
	assert.Equal(t, 200, got.StatusCode)
	assert.True(t, got.Streamed)
	assert.True(t, got.CompressionUsed)
	assert.Equal(t, 100, got.OriginalTokens)
	assert.Equal(t, 40, got.CompressedTokens)
	assert.Equal(t, 60, got.TokensSaved)
	assert.True(t, got.Success)
	assert.Equal(t, int64(12), got.TotalLatencyMs)
	assert.True(t, got.Timestamp.Equal(base.Add(2*time.Second)))
}

func TestHistoryRecordFailure(t *testing.T) {
	h := openTestHistory(t)
	ctx := context.Background()

	ev := &monitoring.RequestEvent{
		RequestID:  "req-err",
		Timestamp:  time.Now(),
		Method:     "POST",
		Path:       "/v1/chat/completions",
		StatusCode: 502,
		Error:      "upstream request failed",
	}
	require.NoError(t, h.Record(ctx, ev))

	events, err := h.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.False(t, events[0].Success)
	assert.Equal(t, "upstream request failed", events[0].Error)
	assert.Empty(t, events[0].Model)
}

func TestHistoryRecentEmpty(t *testing.T) {
	h := openTestHistory(t)

	events, err := h.Recent(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestHistoryConcurrentRecord(t *testing.T) {
	h := openTestHistory(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ev := &monitoring.RequestEvent{
				RequestID:  fmt.Sprintf("req-%d", i),
				Timestamp:  time.Now(),
				Method:     "GET",
				Path:       "/v1/models",
				StatusCode: 200,
				Success:    true,
			}
			assert.NoError(t, h.Record(ctx, ev))
		}(i)
	}
	wg.Wait()

	events, err := h.Recent(ctx, 100)
	require.NoError(t, err)
	assert.Len(t, events, 10)
}
