package session

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics are the Prometheus collectors of a Session. Each session registers
// them in its own registry, so that several sessions can live in one process.
type Metrics struct {
	registry *prometheus.Registry

	framesAdvanced prometheus.Counter
	rollbacks      prometheus.Counter
	rollbackDepth  prometheus.Histogram
	stalls         prometheus.Counter
	desyncs        prometheus.Counter
	disconnects    prometheus.Counter
	currentFrame   prometheus.Gauge
	confirmedFrame prometheus.Gauge
	framesAhead    prometheus.Gauge
}

func newMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		framesAdvanced: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "rewind",
			Name:      "frames_advanced_total",
			Help:      "Frames simulated for the first time.",
		}),
		rollbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "rewind",
			Name:      "rollbacks_total",
			Help:      "Rollbacks caused by mispredicted inputs.",
		}),
		rollbackDepth: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "rewind",
			Name:      "rollback_depth_frames",
			Help:      "Frames resimulated per rollback.",
			Buckets:   prometheus.LinearBuckets(1, 1, 12),
		}),
		stalls: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "rewind",
			Name:      "stalls_total",
			Help:      "Ticks that did not advance because of the prediction window.",
		}),
		desyncs: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "rewind",
			Name:      "desyncs_total",
			Help:      "Checksum mismatches with peers.",
		}),
		disconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "rewind",
			Name:      "player_disconnects_total",
			Help:      "Players that left the session.",
		}),
		currentFrame: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "rewind",
			Name:      "current_frame",
			Help:      "Next frame to simulate.",
		}),
		confirmedFrame: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "rewind",
			Name:      "confirmed_frame",
			Help:      "Last frame for which every input is known.",
		}),
		framesAhead: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "rewind",
			Name:      "frames_ahead",
			Help:      "Estimated number of frames this machine runs ahead of its peers.",
		}),
	}

	m.registry.MustRegister(
		m.framesAdvanced,
		m.rollbacks,
		m.rollbackDepth,
		m.stalls,
		m.desyncs,
		m.disconnects,
		m.currentFrame,
		m.confirmedFrame,
		m.framesAhead,
	)

	return m
}

// Registry returns the registry the collectors are registered in.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
