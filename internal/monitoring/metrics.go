// Package monitoring - metrics.go provides simple counters.
//
// DESIGN: Lightweight in-memory counters for operational metrics:
//   - requests/successes: Total and successful request counts
//   - compressions:       Number of compressed messages
//   - tokens:             Original, compressed, and saved token counts
//
// These back the /stats endpoint; the Prometheus collector in prom.go
// exposes the same signals for scraping.
package monitoring

import (
	"fmt"
	"sync/atomic"
	"time"
)

// MetricsCollector collects operational metrics.
type MetricsCollector struct {
	startedAt time.Time

	requests     atomic.Int64
	successes    atomic.Int64
	compressions atomic.Int64

	totalOriginalTokens   atomic.Int64
	totalCompressedTokens atomic.Int64
	totalTokensSaved      atomic.Int64
}

// NewMetricsCollector creates a new metrics collector.
func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{startedAt: time.Now()}
}

// RecordRequest records a completed request.
func (mc *MetricsCollector) RecordRequest(success bool) {
	mc.requests.Add(1)
	if success {
		mc.successes.Add(1)
	}
}

// RecordCompression records one compressed message with its token counts.
func (mc *MetricsCollector) RecordCompression(original, compressed int) {
	mc.compressions.Add(1)
	mc.totalOriginalTokens.Add(int64(original))
	mc.totalCompressedTokens.Add(int64(compressed))
	mc.totalTokensSaved.Add(int64(original - compressed))
}

// StartedAt returns when the metrics collector was created.
func (mc *MetricsCollector) StartedAt() time.Time { return mc.startedAt }

// StatsResponse is the structured response for the /stats endpoint.
type StatsResponse struct {
	Uptime        string         `json:"uptime"`
	UptimeSeconds int64          `json:"uptime_seconds"`
	StartedAt     string         `json:"started_at"`
	Requests      RequestStats   `json:"requests"`
	Tokens        TokenStatsData `json:"tokens"`
	Compressions  int64          `json:"compressions"`
}

// RequestStats holds request count metrics.
type RequestStats struct {
	Total      int64 `json:"total"`
	Successful int64 `json:"successful"`
	Failed     int64 `json:"failed"`
}

// TokenStatsData holds token savings metrics.
type TokenStatsData struct {
	OriginalTokens   int64   `json:"original_tokens"`
	CompressedTokens int64   `json:"compressed_tokens"`
	TokensSaved      int64   `json:"tokens_saved"`
	SavingsPercent   float64 `json:"savings_percent"`
}

// TokenStats returns token savings metrics.
func (mc *MetricsCollector) TokenStats() TokenStatsData {
	original := mc.totalOriginalTokens.Load()
	compressed := mc.totalCompressedTokens.Load()
	saved := mc.totalTokensSaved.Load()

	var savingsPercent float64
	if original > 0 {
		savingsPercent = float64(saved) / float64(original) * 100
	}

	return TokenStatsData{
		OriginalTokens:   original,
		CompressedTokens: compressed,
		TokensSaved:      saved,
		SavingsPercent:   savingsPercent,
	}
}

// FullStats returns all metrics in a structured format for the /stats endpoint.
func (mc *MetricsCollector) FullStats() StatsResponse {
	uptime := time.Since(mc.startedAt)
	requests := mc.requests.Load()
	successes := mc.successes.Load()

	return StatsResponse{
		Uptime:        formatDuration(uptime),
		UptimeSeconds: int64(uptime.Seconds()),
		StartedAt:     mc.startedAt.Format(time.RFC3339),
		Requests: RequestStats{
			Total:      requests,
			Successful: successes,
			Failed:     requests - successes,
		},
		Tokens:       mc.TokenStats(),
		Compressions: mc.compressions.Load(),
	}
}

// formatDuration formats a duration as a human-readable string.
func formatDuration(d time.Duration) string {
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	minutes := int(d.Minutes()) % 60

	if days > 0 {
		return fmt.Sprintf("%dd %dh %dm", days, hours, minutes)
	}
	if hours > 0 {
		return fmt.Sprintf("%dh %dm", hours, minutes)
	}
	return fmt.Sprintf("%dm", minutes)
}
