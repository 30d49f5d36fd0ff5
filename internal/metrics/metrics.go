package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	EventsIngested      prometheus.Counter
	DuplicatesAbsorbed  prometheus.Counter
	Paginations         *prometheus.CounterVec
	Denials             *prometheus.CounterVec
	PermissionRefreshes prometheus.Counter
	Artifacts           *prometheus.CounterVec
	ObservedRooms       prometheus.Gauge
	BridgeLatency       *prometheus.HistogramVec

	reg prometheus.Registerer
}

// New registers the engine collectors on reg. Each session gets its own
// registry so several engines can live in one process.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		reg: reg,
		EventsIngested: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "roomsync",
			Name:      "events_ingested_total",
			Help:      "Events newly merged into a room timeline.",
		}),
		DuplicatesAbsorbed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "roomsync",
			Name:      "duplicate_events_total",
			Help:      "Delivered events that were already in the timeline.",
		}),
		Paginations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "roomsync",
			Name:      "paginations_total",
			Help:      "Pagination requests by outcome.",
		}, []string{"outcome"}),
		Denials: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "roomsync",
			Name:      "permission_denials_total",
			Help:      "Denied mutations by where they were denied.",
		}, []string{"where", "action"}),
		PermissionRefreshes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "roomsync",
			Name:      "permission_refreshes_total",
			Help:      "Member and power level refetches.",
		}),
		Artifacts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "roomsync",
			Name:      "artifacts_total",
			Help:      "Optimistic artifacts by lifecycle step.",
		}, []string{"step"}),
		ObservedRooms: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "roomsync",
			Name:      "observed_rooms",
			Help:      "Rooms with a live subscription.",
		}),
		BridgeLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "roomsync",
			Name:      "bridge_call_seconds",
			Help:      "Latency of bridge calls.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op"}),
	}

	if reg != nil {
		reg.MustRegister(
			m.EventsIngested,
			m.DuplicatesAbsorbed,
			m.Paginations,
			m.Denials,
			m.PermissionRefreshes,
			m.Artifacts,
			m.ObservedRooms,
			m.BridgeLatency,
		)
	}
	return m
}

// TrackPending exports the number of artifacts still waiting for their
// server echo.
func (m *Metrics) TrackPending(pending func() int) {
	if m.reg == nil {
		return
	}
	m.reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "roomsync",
		Name:      "pending_artifacts",
		Help:      "Optimistic artifacts not yet matched or expired.",
	}, func() float64 { return float64(pending()) }))
}
