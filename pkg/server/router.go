package server

import (
	"net/http"
	"strconv"
)

// NewMux builds the control surface's http.ServeMux, matching teacher
// main.go's flat mux.HandleFunc registration with no router middleware.
// Every route (save /metrics itself) is wrapped with instrument so
// HTTPRequestsTotal reflects real traffic.
func NewMux(h *Handlers) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", instrument("/healthz", h.metrics, h.HandleHealthz))
	mux.HandleFunc("/status", instrument("/status", h.metrics, h.HandleStatus))
	mux.HandleFunc("/objectives/", instrument("/objectives", h.metrics, h.HandleObjectives))
	mux.HandleFunc("/channels/", instrument("/channels", h.metrics, h.HandleChannels))
	mux.HandleFunc("/ingest", instrument("/ingest", h.metrics, h.HandleIngest))
	if h.metrics != nil {
		mux.Handle("/metrics", h.metrics.Handler())
	}
	return mux
}

// statusWriter captures the status code a handler wrote so instrument
// can label it after the fact; http.ResponseWriter exposes no getter.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// instrument wraps h so every request it serves increments
// HTTPRequestsTotal labeled by route and status class. A nil metrics
// (as in tests that don't care about counters) makes this a no-op
// pass-through.
func instrument(route string, metrics *Metrics, h http.HandlerFunc) http.HandlerFunc {
	if metrics == nil {
		return h
	}
	return func(w http.ResponseWriter, r *http.Request) {
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		h(sw, r)
		metrics.ObserveHTTPRequest(route, statusClass(sw.status))
	}
}

// statusClass buckets an HTTP status code into Prometheus's conventional
// "2xx"/"4xx"/... label value.
func statusClass(code int) string {
	if code < 100 || code > 599 {
		return "unknown"
	}
	return strconv.Itoa(code/100) + "xx"
}
