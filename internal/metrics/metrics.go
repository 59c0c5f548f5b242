// Package metrics exposes build instrumentation as Prometheus collectors on
// a dedicated registry. Gauges carry per-build sizes and are overwritten
// each build; counters accumulate across rebuilds within one process, which
// is what a watch loop wants.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "foodcore"

// Metrics holds every collector the compiler reports into.
type Metrics struct {
	registry *prometheus.Registry

	StageDuration    *prometheus.HistogramVec
	CatalogEntities  *prometheus.GaugeVec
	GraphPairings    prometheus.Gauge
	GraphNodes       *prometheus.GaugeVec
	EvidenceMapped   *prometheus.CounterVec
	EvidenceUnmapped *prometheus.CounterVec
	RecordsExcluded  *prometheus.CounterVec
	ProfilesBuilt    *prometheus.CounterVec
	BuildsTotal      prometheus.Counter
	BuildInfo        *prometheus.GaugeVec
}

// New constructs the collectors and registers them on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		StageDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "compiler",
				Name:      "stage_duration_seconds",
				Help:      "Wall-clock duration of each pipeline stage",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"stage"},
		),

		CatalogEntities: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "catalog",
				Name:      "entities",
				Help:      "Authored entities loaded in the last build, by class",
			},
			[]string{"class"},
		),

		GraphPairings: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "graph",
				Name:      "pairings",
				Help:      "Materialized (taxon, part) pairings in the last build",
			},
		),

		GraphNodes: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "graph",
				Name:      "nodes",
				Help:      "Canonical nodes in the last build, by kind",
			},
			[]string{"kind"},
		),

		EvidenceMapped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "mapper",
				Name:      "resolved_total",
				Help:      "Food entries resolved to a node, by resolution method",
			},
			[]string{"method"},
		),

		EvidenceUnmapped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "mapper",
				Name:      "unmapped_total",
				Help:      "Food entries left unmapped, by reason",
			},
			[]string{"reason"},
		),

		RecordsExcluded: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "rollup",
				Name:      "excluded_total",
				Help:      "Evidence records excluded from profiles, by reason",
			},
			[]string{"reason"},
		),

		ProfilesBuilt: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "rollup",
				Name:      "profiles_total",
				Help:      "Nutrient profiles produced, by aggregation method",
			},
			[]string{"method"},
		),

		BuildsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "compiler",
				Name:      "builds_total",
				Help:      "Completed builds since process start",
			},
		),

		BuildInfo: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "compiler",
				Name:      "build_info",
				Help:      "Constant 1 labeled with the last build's fingerprint",
			},
			[]string{"fingerprint"},
		),
	}

	m.registry.MustRegister(
		m.StageDuration,
		m.CatalogEntities,
		m.GraphPairings,
		m.GraphNodes,
		m.EvidenceMapped,
		m.EvidenceUnmapped,
		m.RecordsExcluded,
		m.ProfilesBuilt,
		m.BuildsTotal,
		m.BuildInfo,
	)
	return m
}

// Registry returns the dedicated Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveStage records one stage execution.
func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	m.StageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

// RecordCatalog sets the authored entity gauges for the current build.
func (m *Metrics) RecordCatalog(taxa, parts, transforms int) {
	m.CatalogEntities.WithLabelValues("taxa").Set(float64(taxa))
	m.CatalogEntities.WithLabelValues("parts").Set(float64(parts))
	m.CatalogEntities.WithLabelValues("transforms").Set(float64(transforms))
}

// RecordGraph sets the pairing and node gauges for the current build.
func (m *Metrics) RecordGraph(pairings, tp, tpt int) {
	m.GraphPairings.Set(float64(pairings))
	m.GraphNodes.WithLabelValues("tp").Set(float64(tp))
	m.GraphNodes.WithLabelValues("tpt").Set(float64(tpt))
}

// RecordMapped adds resolved food entries for one resolution method.
func (m *Metrics) RecordMapped(method string, n int) {
	m.EvidenceMapped.WithLabelValues(method).Add(float64(n))
}

// RecordUnmapped adds unmapped food entries for one reason.
func (m *Metrics) RecordUnmapped(reason string, n int) {
	m.EvidenceUnmapped.WithLabelValues(reason).Add(float64(n))
}

// RecordExcluded adds excluded evidence records for one reason.
func (m *Metrics) RecordExcluded(reason string, n int) {
	m.RecordsExcluded.WithLabelValues(reason).Add(float64(n))
}

// RecordProfiles adds produced profiles for one aggregation method.
func (m *Metrics) RecordProfiles(method string, n int) {
	m.ProfilesBuilt.WithLabelValues(method).Add(float64(n))
}

// RecordBuild marks a completed build with its fingerprint.
func (m *Metrics) RecordBuild(fingerprint string) {
	m.BuildsTotal.Inc()
	m.BuildInfo.Reset()
	m.BuildInfo.WithLabelValues(fingerprint).Set(1)
}

// Server serves /metrics during builds and watch loops.
type Server struct {
	server *http.Server
}

// NewServer binds the metrics handler to the given listen address.
func NewServer(listen string, m *Metrics) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	return &Server{server: &http.Server{Addr: listen, Handler: mux}}
}

// Start serves until Close and returns http.ErrServerClosed on shutdown.
func (s *Server) Start() error {
	return s.server.ListenAndServe()
}

// Close stops the server immediately.
func (s *Server) Close() error {
	return s.server.Close()
}
