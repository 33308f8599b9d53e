// Package metrics exposes node activity as Prometheus collectors.
//
// A nil *Metrics is valid and records nothing, so components can take one
// unconditionally.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/roach88/streamledger/internal/ir"
)

const namespace = "streamledger"

// ResultOK is the result label of a successful command. Failures are
// labelled with their error code.
const ResultOK = "ok"

// Metrics holds the node's collectors.
type Metrics struct {
	// Command pipeline
	Commands        *prometheus.CounterVec
	CommandDuration *prometheus.HistogramVec
	Replayed        prometheus.Counter

	// Chain position
	Height prometheus.Gauge

	// Ledger aggregates
	Streams *prometheus.GaugeVec
	Volume  prometheus.Gauge
}

// New creates the collectors and registers them with reg.
// Panics if registration fails (duplicate names on the same registry).
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Commands: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "commands",
				Name:      "total",
				Help:      "Mutating commands by kind and result (ok or error code)",
			},
			[]string{"kind", "result"},
		),
		CommandDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "commands",
				Name:      "duration_seconds",
				Help:      "Time to journal and apply a command",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"kind"},
		),
		Replayed: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "journal",
				Name:      "replayed_total",
				Help:      "Commands re-executed from the journal",
			},
		),
		Height: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "height",
				Help:      "Current block height of the node clock",
			},
		),
		Streams: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "ledger",
				Name:      "streams",
				Help:      "Recorded streams by state (total, completed, cancelled)",
			},
			[]string{"state"},
		),
		Volume: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "ledger",
				Name:      "volume",
				Help:      "Sum of creation-time totals across all streams",
			},
		),
	}

	reg.MustRegister(
		m.Commands,
		m.CommandDuration,
		m.Replayed,
		m.Height,
		m.Streams,
		m.Volume,
	)
	return m
}

// ObserveCommand records one command outcome. err may be nil.
func (m *Metrics) ObserveCommand(kind ir.CommandKind, err error, d time.Duration) {
	if m == nil {
		return
	}
	result := ResultOK
	if err != nil {
		result = string(ir.CodeOf(err))
		if result == "" {
			result = "internal"
		}
	}
	m.Commands.WithLabelValues(string(kind), result).Inc()
	m.CommandDuration.WithLabelValues(string(kind)).Observe(d.Seconds())
}

// ObserveReplay counts one replayed command.
func (m *Metrics) ObserveReplay() {
	if m == nil {
		return
	}
	m.Replayed.Inc()
}

// SetHeight publishes the clock height.
func (m *Metrics) SetHeight(h uint64) {
	if m == nil {
		return
	}
	m.Height.Set(float64(h))
}

// SetGlobal publishes the ledger's network-wide aggregate.
func (m *Metrics) SetGlobal(g ir.GlobalStats) {
	if m == nil {
		return
	}
	m.Streams.WithLabelValues("total").Set(float64(g.TotalStreams))
	m.Streams.WithLabelValues("completed").Set(float64(g.CompletedStreams))
	m.Streams.WithLabelValues("cancelled").Set(float64(g.CancelledStreams))
	m.Volume.Set(float64(g.TotalVolume))
}
