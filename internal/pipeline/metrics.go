package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/rpattn/loadflow/internal/domain"
)

// Metrics are the run counters exported on /metrics.
type Metrics struct {
	runs     *prometheus.CounterVec
	rows     *prometheus.CounterVec
	handlers *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// NewMetrics registers the pipeline collectors with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "loadflow",
			Name:      "runs_total",
			Help:      "Pipeline runs by mode and final status.",
		}, []string{"mode", "status"}),
		rows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "loadflow",
			Name:      "rows_total",
			Help:      "Rows processed by outcome.",
		}, []string{"outcome"}),
		handlers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "loadflow",
			Name:      "postback_deliveries_total",
			Help:      "Postback handler invocations by type and result.",
		}, []string{"type", "result"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "loadflow",
			Name:      "run_duration_seconds",
			Help:      "Wall time of pipeline runs.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		}, []string{"mode"}),
	}
	if reg != nil {
		reg.MustRegister(m.runs, m.rows, m.handlers, m.duration)
	}
	return m
}

func (m *Metrics) observe(run domain.Run, postbacks []domain.PostbackResult) {
	if m == nil {
		return
	}
	mode := string(run.Mode)
	m.runs.WithLabelValues(mode, run.Status).Inc()

	s := run.Summary
	for outcome, n := range map[string]int{
		"valid":             s.Valid,
		"invalid":           s.Invalid,
		"submitted":         s.Submitted,
		"submission_failed": s.SubmissionFailed,
		"load_id_mapped":    s.LoadIDsMapped,
		"enriched":          s.Enriched,
	} {
		if n > 0 {
			m.rows.WithLabelValues(outcome).Add(float64(n))
		}
	}
	for _, p := range postbacks {
		result := "success"
		if !p.Success {
			result = "failure"
		}
		m.handlers.WithLabelValues(p.Type, result).Inc()
	}
	if run.FinishedAt != nil {
		m.duration.WithLabelValues(mode).Observe(run.FinishedAt.Sub(run.StartedAt).Seconds())
	}
}
