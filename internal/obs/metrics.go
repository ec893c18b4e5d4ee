package obs

import "github.com/prometheus/client_golang/prometheus"

// Metrics is the engine's Prometheus surface: the metric families are
// exported fields that callers record into directly. NewMetrics(nil)
// still returns a usable *Metrics backed by a private registry.
type Metrics struct {
	reg *prometheus.Registry

	WatermarkLag     *prometheus.GaugeVec
	SlicesOpen       *prometheus.GaugeVec
	BackpressureHits *prometheus.CounterVec
	QueueDepth       *prometheus.GaugeVec
	WindowsEmitted   *prometheus.CounterVec
}

// NewMetrics registers the engine's metric families against reg. If
// reg is nil, a private registry is created so callers that don't want
// a shared /metrics endpoint can still use the returned recorders.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	m := &Metrics{
		reg: reg,
		WatermarkLag: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "nebula", Subsystem: "watermark", Name: "lag_seconds",
			Help: "wall clock minus global watermark, per origin",
		}, []string{"origin"}),
		SlicesOpen: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "nebula", Subsystem: "slicestore", Name: "open_slices",
			Help: "number of open slices, per partition",
		}, []string{"partition"}),
		BackpressureHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "nebula", Subsystem: "pipeline", Name: "backpressure_total",
			Help: "number of BackpressureRetry results returned by a stage",
		}, []string{"stage"}),
		QueueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "nebula", Subsystem: "queue", Name: "depth",
			Help: "approximate task queue depth, per worker",
		}, []string{"worker"}),
		WindowsEmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "nebula", Subsystem: "window", Name: "emitted_total",
			Help: "number of windows emitted, per partition",
		}, []string{"partition"}),
	}
	reg.MustRegister(m.WatermarkLag, m.SlicesOpen, m.BackpressureHits, m.QueueDepth, m.WindowsEmitted)
	return m
}

// Registry exposes the underlying registry for HTTP handler wiring,
// which lives outside the core per spec.md's scope.
func (m *Metrics) Registry() *prometheus.Registry { return m.reg }
