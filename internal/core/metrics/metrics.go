package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Session outcomes.
const (
	OutcomeDone   = "done"
	OutcomeFailed = "failed"
)

// Pipeline holds the prometheus collectors for the streaming pipeline.
// A nil *Pipeline is valid and records nothing.
type Pipeline struct {
	sessions        *prometheus.CounterVec
	ignored         prometheus.Counter
	activeSessions  prometheus.Gauge
	rowsEmitted     prometheus.Counter
	chunksEmitted   prometheus.Counter
	parseDuration   prometheus.Histogram
	ingestedTables  *prometheus.CounterVec
	ingestQueueSize prometheus.Gauge
}

// NewPipeline creates and registers the pipeline metrics on reg.
// A nil registerer disables metrics and returns nil.
func NewPipeline(reg prometheus.Registerer) *Pipeline {
	if reg == nil {
		return nil
	}

	m := &Pipeline{
		sessions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bitacora",
			Subsystem: "stream",
			Name:      "sessions_total",
			Help:      "Stream sessions by terminal outcome",
		}, []string{"outcome"}),

		ignored: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "bitacora",
			Subsystem: "stream",
			Name:      "ignored_requests_total",
			Help:      "Requests dropped because they were not an acceptable start request",
		}),

		activeSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "bitacora",
			Subsystem: "stream",
			Name:      "active_sessions",
			Help:      "Sessions between start and terminal message",
		}),

		rowsEmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "bitacora",
			Subsystem: "stream",
			Name:      "rows_emitted_total",
			Help:      "Rows emitted in chunk messages",
		}),

		chunksEmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "bitacora",
			Subsystem: "stream",
			Name:      "chunks_emitted_total",
			Help:      "Chunk messages emitted",
		}),

		parseDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "bitacora",
			Subsystem: "stream",
			Name:      "parse_duration_seconds",
			Help:      "Time spent parsing one document",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}),

		ingestedTables: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bitacora",
			Subsystem: "ingest",
			Name:      "tables_total",
			Help:      "Stored tables processed by the background ingestor, by final status",
		}, []string{"status"}),

		ingestQueueSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "bitacora",
			Subsystem: "ingest",
			Name:      "queue_length",
			Help:      "Table ids waiting for an ingest worker",
		}),
	}

	reg.MustRegister(
		m.sessions,
		m.ignored,
		m.activeSessions,
		m.rowsEmitted,
		m.chunksEmitted,
		m.parseDuration,
		m.ingestedTables,
		m.ingestQueueSize,
	)

	return m
}

func (m *Pipeline) SessionStarted() {
	if m == nil {
		return
	}
	m.activeSessions.Inc()
}

func (m *Pipeline) SessionFinished(outcome string) {
	if m == nil {
		return
	}
	m.activeSessions.Dec()
	m.sessions.WithLabelValues(outcome).Inc()
}

func (m *Pipeline) RequestIgnored() {
	if m == nil {
		return
	}
	m.ignored.Inc()
}

func (m *Pipeline) ChunkEmitted(rows int) {
	if m == nil {
		return
	}
	m.chunksEmitted.Inc()
	m.rowsEmitted.Add(float64(rows))
}

func (m *Pipeline) ObserveParse(d time.Duration) {
	if m == nil {
		return
	}
	m.parseDuration.Observe(d.Seconds())
}

func (m *Pipeline) TableIngested(status string) {
	if m == nil {
		return
	}
	m.ingestedTables.WithLabelValues(status).Inc()
}

func (m *Pipeline) SetIngestQueue(n int) {
	if m == nil {
		return
	}
	m.ingestQueueSize.Set(float64(n))
}
