// Package monitoring - types.go defines telemetry event shapes.
package monitoring

import "time"

// TelemetryConfig controls the Tracker sinks.
type TelemetryConfig struct {
	Enabled            bool
	LogPath            string // request events JSONL ("" disables)
	CompressionLogPath string // compression records JSONL ("" disables)
	LogToStdout        bool   // mirror request summaries to the logger
}

// RequestEvent records one inbound/outbound exchange through the gateway.
type RequestEvent struct {
	RequestID         string    `json:"request_id"`
	Timestamp         time.Time `json:"timestamp"`
	Method            string    `json:"method"`
	Path              string    `json:"path"`
	ClientIP          string    `json:"client_ip,omitempty"`
	Model             string    `json:"model,omitempty"`
	StatusCode        int       `json:"status_code"`
	Streamed          bool      `json:"streamed"`
	RequestBodySize   int       `json:"request_body_size"`
	ResponseBodySize  int       `json:"response_body_size,omitempty"`
	CompressionUsed   bool      `json:"compression_used"`
	OriginalTokens    int       `json:"original_tokens,omitempty"`
	CompressedTokens  int       `json:"compressed_tokens,omitempty"`
	TokensSaved       int       `json:"tokens_saved,omitempty"`
	KeepFraction      float64   `json:"keep_fraction,omitempty"`
	Success           bool      `json:"success"`
	Error             string    `json:"error,omitempty"`
	CompressLatencyMs int64     `json:"compress_latency_ms"`
	ForwardLatencyMs  int64     `json:"forward_latency_ms"`
	TotalLatencyMs    int64     `json:"total_latency_ms"`
}

// InitEvent records gateway startup parameters.
type InitEvent struct {
	Timestamp          time.Time `json:"timestamp"`
	Event              string    `json:"event"`
	ServerAddr         string    `json:"server_addr"`
	UpstreamBaseURL    string    `json:"upstream_base_url"`
	CompressionRatio   float64   `json:"compression_ratio"`
	KeepFraction       float64   `json:"keep_fraction"`
	CompressionEnabled bool      `json:"compression_enabled"`
	TelemetryPath      string    `json:"telemetry_path,omitempty"`
	CompressionLogPath string    `json:"compression_log_path,omitempty"`
	HistoryDBPath      string    `json:"history_db_path,omitempty"`
}
