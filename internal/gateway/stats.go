// Package gateway - stats.go exposes aggregated metrics and request history.
//
// GET /stats and GET /history are restricted to localhost to keep
// operational data off the public surface.
package gateway

import (
	"encoding/json"
	"net"
	"net/http"
	"strconv"

	"github.com/tokentrim/gateway/internal/config"
	"github.com/tokentrim/gateway/internal/monitoring"
)

// handleStats returns aggregated metrics as JSON.
func (g *Gateway) handleStats(w http.ResponseWriter, r *http.Request) {
	if !isLoopback(r.RemoteAddr) {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(g.metrics.FullStats())
}

// handleHistory returns recent request events from the SQLite store.
func (g *Gateway) handleHistory(w http.ResponseWriter, r *http.Request) {
	if !isLoopback(r.RemoteAddr) {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	if g.history == nil {
		g.writeError(w, "request history is not enabled", http.StatusNotFound)
		return
	}

	limit := config.DefaultHistoryLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			g.writeError(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = min(n, config.MaxHistoryLimit)
	}

	events, err := g.history.Recent(r.Context(), limit)
	if err != nil {
		g.writeError(w, "failed to query history", http.StatusInternalServerError)
		return
	}
	if events == nil {
		events = []monitoring.RequestEvent{}
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"count":  len(events),
		"events": events,
	})
}

// isLoopback reports whether remoteAddr is a loopback address.
func isLoopback(remoteAddr string) bool {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		host = remoteAddr
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
