// Package gateway implements the transparent proxy in front of an
// OpenAI-compatible chat-completion API.
//
// DESIGN: Request flow:
//   - handleChatCompletions(): Parse, compress user messages, forward
//   - handlePassthrough():     Forward any other path unchanged
//   - relayStreaming():        SSE relay loop with per-chunk flushing
//   - relayBuffered():         Whole-response relay
//
// Also includes health check, stats, history, and metrics endpoints.
package gateway

import (
	"net"
	"net/http"
	"net/url"
	"strings"

	"github.com/gorilla/mux"

	"github.com/tokentrim/gateway/internal/compress"
	"github.com/tokentrim/gateway/internal/config"
	"github.com/tokentrim/gateway/internal/monitoring"
	"github.com/tokentrim/gateway/internal/store"
)

// Gateway forwards chat-completion traffic to the configured upstream,
// compressing user message content on the way through.
//
// All fields are set at construction and read-only afterwards, so a single
// Gateway serves concurrent requests without locking.
type Gateway struct {
	config       *config.Config
	compressor   *compress.Compressor
	httpClient   *http.Client
	tracker      *monitoring.Tracker
	metrics      *monitoring.MetricsCollector
	prom         *monitoring.PromCollector
	history      *store.History // nil when history is disabled
	upstreamBase *url.URL
	keepFraction float64
}

// New creates a Gateway. history may be nil.
func New(cfg *config.Config, compressor *compress.Compressor, tracker *monitoring.Tracker,
	metrics *monitoring.MetricsCollector, prom *monitoring.PromCollector, history *store.History) (*Gateway, error) {

	base, err := url.Parse(cfg.Upstream.BaseURL)
	if err != nil {
		return nil, err
	}

	return &Gateway{
		config:     cfg,
		compressor: compressor,
		httpClient: &http.Client{
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout: config.DefaultDialTimeout,
				}).DialContext,
				// Bounds the wait for upstream response headers; the handlers
				// additionally bound buffered body reads via boundExchange.
				ResponseHeaderTimeout: cfg.Upstream.Timeout,
				ForceAttemptHTTP2:     true,
			},
		},
		tracker:      tracker,
		metrics:      metrics,
		prom:         prom,
		history:      history,
		upstreamBase: base,
		keepFraction: cfg.Compression.EffectiveKeepFraction(),
	}, nil
}

// Router builds the HTTP routing table.
//
// Operational endpoints are matched first; everything else falls through to
// the transparent proxy, mirroring the upstream API surface.
func (g *Gateway) Router() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/health", g.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/stats", g.handleStats).Methods(http.MethodGet)
	r.HandleFunc("/history", g.handleHistory).Methods(http.MethodGet)
	r.Handle("/metrics", g.prom.Handler()).Methods(http.MethodGet)

	r.HandleFunc("/v1/chat/completions", g.handleChatCompletions).Methods(http.MethodPost)
	r.HandleFunc("/chat/completions", g.handleChatCompletions).Methods(http.MethodPost)

	r.PathPrefix("/").HandlerFunc(g.handlePassthrough)

	return r
}

// upstreamURL joins the configured base URL with the inbound request path.
// A /v1 suffix on the base and a /v1 prefix on the path collapse to one, so
// clients may target the proxy with or without the version segment.
func (g *Gateway) upstreamURL(path, rawQuery string) string {
	base := strings.TrimSuffix(g.upstreamBase.String(), "/")
	if strings.HasSuffix(base, "/v1") && strings.HasPrefix(path, "/v1/") {
		path = strings.TrimPrefix(path, "/v1")
	}
	target := base + path
	if rawQuery != "" {
		target += "?" + rawQuery
	}
	return target
}
