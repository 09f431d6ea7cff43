// Package metrics exports turn engine observations to Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "turnkit"

// Collector implements dialogue.Recorder on a private registry.
type Collector struct {
	registry *prometheus.Registry

	turns           *prometheus.CounterVec
	generatedTokens prometheus.Counter
	turnDuration    *prometheus.HistogramVec
	firstClause     prometheus.Histogram
	evictions       prometheus.Counter
	alignments      prometheus.Counter
	sessions        prometheus.Gauge
	rejectedEvents  *prometheus.CounterVec
}

// New creates a collector with Go runtime and process collectors attached.
func New() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		turns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_total",
			Help:      "Agent turns by terminal reason",
		}, []string{"reason"}),
		generatedTokens: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "generated_tokens_total",
			Help:      "Tokens stored in memory for agent turns",
		}),
		turnDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "turn_duration_seconds",
			Help:      "Time from user turn to terminal agent turn",
			Buckets:   []float64{.1, .25, .5, 1, 2.5, 5, 10, 30},
		}, []string{"reason"}),
		firstClause: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "first_clause_seconds",
			Help:      "Time from user turn to the first committed agent clause",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5},
		}),
		evictions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "memory_evictions_total",
			Help:      "Utterances evicted from dialogue memory",
		}),
		alignments: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alignments_total",
			Help:      "Agent turns truncated to a playback marker",
		}),
		sessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Connected transport sessions",
		}),
		rejectedEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rejected_events_total",
			Help:      "Inbound events rejected by a transport",
		}, []string{"cause"}),
	}

	c.registry.MustRegister(
		c.turns, c.generatedTokens, c.turnDuration, c.firstClause,
		c.evictions, c.alignments, c.sessions, c.rejectedEvents,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return c
}

// ObserveTurn implements dialogue.Recorder.
func (c *Collector) ObserveTurn(reason string, tokens int, d time.Duration) {
	c.turns.WithLabelValues(reason).Inc()
	c.generatedTokens.Add(float64(tokens))
	c.turnDuration.WithLabelValues(reason).Observe(d.Seconds())
}

// ObserveFirstClause implements dialogue.Recorder.
func (c *Collector) ObserveFirstClause(d time.Duration) {
	c.firstClause.Observe(d.Seconds())
}

// AddEvictions implements dialogue.Recorder.
func (c *Collector) AddEvictions(n int) {
	c.evictions.Add(float64(n))
}

// IncAlignments implements dialogue.Recorder.
func (c *Collector) IncAlignments() {
	c.alignments.Inc()
}

// SessionOpened counts a connected transport session.
func (c *Collector) SessionOpened() { c.sessions.Inc() }

// SessionClosed counts a disconnected transport session.
func (c *Collector) SessionClosed() { c.sessions.Dec() }

// RejectEvent counts an inbound event dropped for cause.
func (c *Collector) RejectEvent(cause string) {
	c.rejectedEvents.WithLabelValues(cause).Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}
