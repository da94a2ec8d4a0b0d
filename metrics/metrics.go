// Package metrics exposes prometheus instrumentation for the streaming
// pipeline. Collectors are registered once on the default registry.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// EventsTotal counts normalised events yielded to consumers.
	EventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tickflow", Subsystem: "stream", Name: "events_total",
		Help: "Number of normalised market events yielded",
	}, []string{"exchange", "kind"})

	// ErrorsTotal counts recoverable stream errors by classification.
	ErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tickflow", Subsystem: "stream", Name: "errors_total",
		Help: "Number of recoverable stream errors",
	}, []string{"exchange", "kind"})

	// GapsTotal counts detected order book sequence gaps.
	GapsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tickflow", Subsystem: "book", Name: "gaps_total",
		Help: "Number of order book sequence gaps detected",
	}, []string{"exchange"})

	// OutboundDroppedTotal counts outbound control messages dropped on a
	// transient send failure or a full queue.
	OutboundDroppedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tickflow", Subsystem: "stream", Name: "outbound_dropped_total",
		Help: "Number of outbound control messages dropped",
	}, []string{"exchange"})

	// ReconnectsTotal counts stream re-initialisations performed by the
	// builder layer.
	ReconnectsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tickflow", Subsystem: "stream", Name: "reconnects_total",
		Help: "Number of stream reconnect attempts",
	}, []string{"exchange"})
)

// Handler returns the HTTP handler serving the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
