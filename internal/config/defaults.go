// Package config - defaults.go centralizes magic numbers and default values.
//
// DESIGN: All default values that appear in multiple places should be defined here.
// This makes configuration more maintainable and auditable.
package config

import "time"

// =============================================================================
// SERVER DEFAULTS
// =============================================================================

// DefaultHost is the default listen address.
const DefaultHost = "0.0.0.0"

// DefaultPort is the default listen port.
const DefaultPort = 8000

// DefaultReadTimeout bounds how long the server waits for a request body.
const DefaultReadTimeout = 1 * time.Minute

// DefaultWriteTimeout must stay large enough for long streamed completions.
const DefaultWriteTimeout = 10 * time.Minute

// DefaultShutdownTimeout bounds graceful shutdown on SIGINT/SIGTERM.
const DefaultShutdownTimeout = 10 * time.Second

// =============================================================================
// UPSTREAM DEFAULTS
// =============================================================================

// DefaultUpstreamBaseURL is the upstream chat-completion API base.
const DefaultUpstreamBaseURL = "https://api.openai.com/v1"

// DefaultUpstreamTimeout bounds a single upstream exchange end to end.
const DefaultUpstreamTimeout = 300 * time.Second

// =============================================================================
// COMPRESSION DEFAULTS
// =============================================================================

// DefaultCompressionRatio of 1.0 means compression is disabled.
const DefaultCompressionRatio = 1.0

// TokenizerEncoding is the tiktoken encoding shared by GPT-4/GPT-3.5-turbo.
const TokenizerEncoding = "cl100k_base"

// =============================================================================
// HTTP AND NETWORKING
// =============================================================================

// DefaultBufferSize is the standard I/O buffer size for stream relays.
const DefaultBufferSize = 4096

// DefaultDialTimeout is the TCP dial timeout for upstream connections.
const DefaultDialTimeout = 30 * time.Second

// MaxRequestBodySize is the maximum allowed request body (50MB).
const MaxRequestBodySize = 50 * 1024 * 1024

// MaxResponseSize is the maximum allowed buffered upstream response body (50MB).
const MaxResponseSize = 50 * 1024 * 1024

// MaxErrorBodyLogLen limits error response body in logs to prevent bloat.
const MaxErrorBodyLogLen = 500

// =============================================================================
// HISTORY STORE
// =============================================================================

// DefaultHistoryLimit is how many request events /history returns by default.
const DefaultHistoryLimit = 100

// MaxHistoryLimit caps the /history page size.
const MaxHistoryLimit = 1000
