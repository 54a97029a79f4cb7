// HTTP request handling for the token-trimming proxy.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/tokentrim/gateway/internal/config"
	"github.com/tokentrim/gateway/internal/monitoring"
	"github.com/tokentrim/gateway/internal/utils"
)

// hopByHopHeaders are connection-scoped and must not be relayed.
var hopByHopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Proxy-Connection",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// writeError writes a JSON error response.
func (g *Gateway) writeError(w http.ResponseWriter, msg string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"error": map[string]string{"message": msg, "type": "gateway_error"},
	})
}

// handleHealth reports liveness. It touches neither the upstream nor the
// compressor.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{
		"status":       "healthy",
		"proxy_target": g.config.Upstream.BaseURL,
	})
}

// compressionStats aggregates per-message compression results for a request.
type compressionStats struct {
	used             bool
	messages         int
	originalTokens   int
	compressedTokens int
}

func (s compressionStats) saved() int {
	return s.originalTokens - s.compressedTokens
}

// handleChatCompletions processes a chat-completion request: validate,
// compress eligible messages, forward, relay.
func (g *Gateway) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()
	requestID := g.getRequestID(r)

	body, err := readBody(w, r)
	if err != nil {
		status, msg := bodyErrorStatus(err)
		g.finishRequest(requestStatus{r: r, requestID: requestID, startTime: startTime,
			statusCode: status, errMsg: msg})
		g.writeError(w, msg, status)
		return
	}

	if !isChatCompletionRequest(body) {
		g.finishRequest(requestStatus{r: r, requestID: requestID, startTime: startTime,
			requestBodySize: len(body), statusCode: http.StatusBadRequest, errMsg: "malformed chat completion request"})
		g.writeError(w, "invalid chat completion request: messages array required", http.StatusBadRequest)
		return
	}

	compressStart := time.Now()
	forwardBody, stats := g.compressUserMessages(requestID, body)
	compressLatency := time.Since(compressStart)

	isStreaming := gjson.GetBytes(body, "stream").Bool()

	log.Debug().
		Str("request_id", requestID).
		Bool("stream", isStreaming).
		Bool("compressed", stats.used).
		Int("tokens_saved", stats.saved()).
		Str("authorization", utils.MaskKey(r.Header.Get("Authorization"))).
		Msg("forwarding chat completion")

	ctx, cancel, exchangeTimer := g.boundExchange(r)
	defer cancel()
	defer exchangeTimer.Stop()

	forwardStart := time.Now()
	resp, err := g.forwardUpstream(ctx, r, forwardBody)
	if err != nil {
		g.finishRequest(requestStatus{r: r, requestID: requestID, startTime: startTime,
			requestBodySize: len(body), statusCode: http.StatusBadGateway, errMsg: err.Error(),
			stats: stats, compressLatency: compressLatency, forwardLatency: time.Since(forwardStart),
			model: gjson.GetBytes(body, "model").String()})
		g.writeError(w, "upstream request failed", http.StatusBadGateway)
		return
	}
	defer func() { _ = resp.Body.Close() }()

	streamed := isEventStream(resp.Header) || (isStreaming && resp.StatusCode < 300)
	if streamed {
		// Streams may legitimately outlive the exchange deadline.
		exchangeTimer.Stop()
	}
	responseSize, relayErr := g.relay(w, resp, streamed)

	status := resp.StatusCode
	errMsg := ""
	if relayErr != nil {
		status = http.StatusBadGateway
		errMsg = relayErr.Error()
	}
	g.finishRequest(requestStatus{r: r, requestID: requestID, startTime: startTime,
		requestBodySize: len(body), responseBodySize: responseSize,
		statusCode: status, streamed: streamed, stats: stats, errMsg: errMsg,
		compressLatency: compressLatency, forwardLatency: time.Since(forwardStart),
		model: gjson.GetBytes(body, "model").String()})
}

// boundExchange derives a context that is canceled when the configured
// upstream timeout elapses. The caller disarms the returned timer once it
// knows the response is a stream; buffered exchanges stay bounded through
// the body read.
func (g *Gateway) boundExchange(r *http.Request) (context.Context, context.CancelFunc, *time.Timer) {
	ctx, cancel := context.WithCancel(r.Context())
	timer := time.AfterFunc(g.config.Upstream.Timeout, cancel)
	return ctx, cancel, timer
}

// readBody drains the inbound body under the size cap.
func readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	r.Body = http.MaxBytesReader(w, r.Body, config.MaxRequestBodySize)
	return io.ReadAll(r.Body)
}

// bodyErrorStatus maps a body-read failure to a response status and message.
func bodyErrorStatus(err error) (int, string) {
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		return http.StatusRequestEntityTooLarge,
			fmt.Sprintf("request body exceeds %d bytes", maxErr.Limit)
	}
	return http.StatusBadRequest, "failed to read request"
}

// isChatCompletionRequest checks the minimal shape the forwarder relies on:
// a JSON object with a messages array.
func isChatCompletionRequest(body []byte) bool {
	if !gjson.ValidBytes(body) {
		return false
	}
	root := gjson.ParseBytes(body)
	if !root.IsObject() {
		return false
	}
	return root.Get("messages").IsArray()
}

// compressUserMessages rewrites the content of user-role messages through
// the compressor. Each message is handled independently; a failure on one
// leaves that message untouched and does not affect the others. All other
// bytes of the body are preserved verbatim.
func (g *Gateway) compressUserMessages(requestID string, body []byte) ([]byte, compressionStats) {
	var stats compressionStats
	if g.keepFraction >= 1.0 {
		return body, stats
	}

	out := body
	for i, msg := range gjson.GetBytes(body, "messages").Array() {
		if msg.Get("role").String() != "user" {
			continue
		}
		content := msg.Get("content")
		if content.Type != gjson.String {
			// Structured content (e.g. multimodal parts) passes through.
			continue
		}

		res := g.compressor.CompressMessage(requestID, i, content.String(), g.keepFraction)
		if res.Failed || !res.Compressed {
			continue
		}

		rewritten, err := sjson.SetBytes(out, fmt.Sprintf("messages.%d.content", i), res.Text)
		if err != nil {
			log.Warn().Err(err).Int("message_index", i).Msg("failed to rewrite message content")
			continue
		}
		out = rewritten

		stats.used = true
		stats.messages++
		stats.originalTokens += res.OriginalTokens
		stats.compressedTokens += res.CompressedTokens
		g.metrics.RecordCompression(res.OriginalTokens, res.CompressedTokens)
		g.prom.ObserveCompression(res.OriginalTokens, res.CompressedTokens)
	}

	return out, stats
}

// handlePassthrough forwards any non-chat-completion path to the upstream
// unchanged. No parsing, no compression.
func (g *Gateway) handlePassthrough(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()
	requestID := g.getRequestID(r)

	var body []byte
	if r.Body != nil {
		var err error
		body, err = readBody(w, r)
		if err != nil {
			status, msg := bodyErrorStatus(err)
			g.writeError(w, msg, status)
			return
		}
	}

	ctx, cancel, exchangeTimer := g.boundExchange(r)
	defer cancel()
	defer exchangeTimer.Stop()

	resp, err := g.forwardUpstream(ctx, r, body)
	if err != nil {
		g.finishRequest(requestStatus{r: r, requestID: requestID, startTime: startTime,
			requestBodySize: len(body), statusCode: http.StatusBadGateway, errMsg: err.Error()})
		g.writeError(w, "upstream request failed", http.StatusBadGateway)
		return
	}
	defer func() { _ = resp.Body.Close() }()

	streamed := isEventStream(resp.Header)
	if streamed {
		exchangeTimer.Stop()
	}
	responseSize, relayErr := g.relay(w, resp, streamed)

	status := resp.StatusCode
	errMsg := ""
	if relayErr != nil {
		status = http.StatusBadGateway
		errMsg = relayErr.Error()
	}
	g.finishRequest(requestStatus{r: r, requestID: requestID, startTime: startTime,
		requestBodySize: len(body), responseBodySize: responseSize,
		statusCode: status, streamed: streamed, errMsg: errMsg})
}

// forwardUpstream issues the outbound call. The caller-supplied headers,
// including the Authorization credential, are copied verbatim; only
// hop-by-hop headers and Host are dropped. The inbound request context is
// attached so a client disconnect cancels the upstream call.
func (g *Gateway) forwardUpstream(ctx context.Context, r *http.Request, body []byte) (*http.Response, error) {
	target := g.upstreamURL(r.URL.Path, r.URL.RawQuery)

	var reader io.Reader
	if len(body) > 0 {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, r.Method, target, reader)
	if err != nil {
		return nil, fmt.Errorf("build upstream request: %w", err)
	}

	// The body may have shrunk during compression; NewRequestWithContext
	// derives the outbound Content-Length from the reader, and the stale
	// inbound header is dropped in copyRequestHeaders.
	copyRequestHeaders(req.Header, r.Header)

	resp, err := g.httpClient.Do(req)
	if err != nil {
		log.Error().Err(err).Str("target", target).Msg("upstream request failed")
		return nil, err
	}

	if resp.StatusCode >= 400 {
		// Peek the error body for the log, then hand it back intact.
		peek, _ := io.ReadAll(io.LimitReader(resp.Body, config.MaxErrorBodyLogLen))
		rest, _ := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		resp.Body = io.NopCloser(io.MultiReader(bytes.NewReader(peek), bytes.NewReader(rest)))
		log.Error().
			Int("status", resp.StatusCode).
			Str("target", target).
			Str("response", string(peek)).
			Msg("upstream error response")
	}

	return resp, nil
}

// copyRequestHeaders copies inbound headers to the outbound request,
// dropping hop-by-hop headers. Host is not copied; the transport derives it
// from the target URL.
func copyRequestHeaders(dst, src http.Header) {
	for k, vv := range src {
		dst[k] = append([]string(nil), vv...)
	}
	for _, h := range hopByHopHeaders {
		dst.Del(h)
	}
	// Tokens named in Connection are also hop-by-hop.
	for _, token := range src.Values("Connection") {
		for _, name := range strings.Split(token, ",") {
			if name = strings.TrimSpace(name); name != "" {
				dst.Del(name)
			}
		}
	}
	dst.Del("Content-Length")
}

// copyResponseHeaders copies upstream response headers to the client,
// dropping hop-by-hop headers.
func copyResponseHeaders(w http.ResponseWriter, src http.Header) {
	for k, vv := range src {
		w.Header()[k] = append([]string(nil), vv...)
	}
	for _, h := range hopByHopHeaders {
		w.Header().Del(h)
	}
}

// isEventStream reports whether the upstream replied with SSE framing.
func isEventStream(h http.Header) bool {
	return strings.HasPrefix(h.Get("Content-Type"), "text/event-stream")
}

// relay writes the upstream response to the client, streamed or buffered.
// Returns the number of body bytes written (0 for streamed responses, whose
// size is not tracked). A failed buffered read answers the client with 502;
// a stream that breaks mid-way leaves the partial output standing and
// returns no error.
func (g *Gateway) relay(w http.ResponseWriter, resp *http.Response, streamed bool) (int, error) {
	if streamed {
		copyResponseHeaders(w, resp.Header)
		w.Header().Del("Content-Length")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("X-Accel-Buffering", "no")
		w.WriteHeader(resp.StatusCode)
		g.streamResponse(w, resp.Body)
		return 0, nil
	}

	responseBody, err := io.ReadAll(io.LimitReader(resp.Body, config.MaxResponseSize))
	if err != nil {
		log.Error().Err(err).Msg("failed to read upstream response")
		g.writeError(w, "upstream response failed", http.StatusBadGateway)
		return 0, fmt.Errorf("read upstream response: %w", err)
	}
	copyResponseHeaders(w, resp.Header)
	w.WriteHeader(resp.StatusCode)
	_, _ = w.Write(responseBody)
	return len(responseBody), nil
}

// streamResponse relays data from the upstream body to the client with
// per-chunk flushing. Chunks are written in arrival order; the loop ends
// when upstream closes, errors, or the client goes away. Partial output
// already sent stands.
func (g *Gateway) streamResponse(w http.ResponseWriter, reader io.Reader) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		log.Warn().Msg("streaming not supported, falling back to buffered")
		_, _ = io.Copy(w, reader)
		return
	}

	buf := make([]byte, config.DefaultBufferSize)
	for {
		n, err := reader.Read(buf)
		if n > 0 {
			if _, writeErr := w.Write(buf[:n]); writeErr != nil {
				log.Debug().Err(writeErr).Msg("client disconnected")
				break
			}
			flusher.Flush()
		}
		if err != nil {
			if err != io.EOF {
				log.Error().Err(err).Msg("upstream stream interrupted")
			}
			break
		}
	}
}

// getRequestID gets or generates a request ID.
func (g *Gateway) getRequestID(r *http.Request) string {
	if id := r.Header.Get("X-Request-ID"); id != "" {
		return id
	}
	return uuid.New().String()
}

// requestStatus collects everything finishRequest records.
type requestStatus struct {
	r                *http.Request
	requestID        string
	startTime        time.Time
	requestBodySize  int
	responseBodySize int
	statusCode       int
	streamed         bool
	errMsg           string
	model            string
	stats            compressionStats
	compressLatency  time.Duration
	forwardLatency   time.Duration
}

// finishRequest records telemetry, metrics, and history for one request.
// Sinks are best effort and never affect the response already written.
func (g *Gateway) finishRequest(s requestStatus) {
	success := s.errMsg == "" && s.statusCode < 400

	event := &monitoring.RequestEvent{
		RequestID:         s.requestID,
		Timestamp:         s.startTime,
		Method:            s.r.Method,
		Path:              s.r.URL.Path,
		ClientIP:          s.r.RemoteAddr,
		Model:             s.model,
		StatusCode:        s.statusCode,
		Streamed:          s.streamed,
		RequestBodySize:   s.requestBodySize,
		ResponseBodySize:  s.responseBodySize,
		CompressionUsed:   s.stats.used,
		OriginalTokens:    s.stats.originalTokens,
		CompressedTokens:  s.stats.compressedTokens,
		TokensSaved:       s.stats.saved(),
		KeepFraction:      g.keepFraction,
		Success:           success,
		Error:             s.errMsg,
		CompressLatencyMs: s.compressLatency.Milliseconds(),
		ForwardLatencyMs:  s.forwardLatency.Milliseconds(),
		TotalLatencyMs:    time.Since(s.startTime).Milliseconds(),
	}

	g.tracker.RecordRequest(event)
	g.metrics.RecordRequest(success)
	g.prom.ObserveRequest(s.r.URL.Path, strconv.Itoa(s.statusCode), time.Since(s.startTime))

	if g.history != nil {
		// The request context is done once the handler returns; use a short
		// independent deadline for the insert.
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := g.history.Record(ctx, event); err != nil {
			log.Error().Err(err).Msg("failed to record request history")
		}
	}
}
