// Package metrics exposes Prometheus instruments for SQL statements and
// registry operations.
package metrics

import (
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Skryldev/student-registry/db"
)

const namespace = "student_registry"

// Metrics owns a private Prometheus registry so tests and multiple servers
// in one process never collide on the global one.
type Metrics struct {
	reg *prometheus.Registry

	queryDuration *prometheus.HistogramVec
	opTotal       *prometheus.CounterVec
	opDuration    *prometheus.HistogramVec
}

// New registers every instrument plus the Go runtime and process
// collectors.
func New() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		queryDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "db",
			Name:      "query_duration_seconds",
			Help:      "SQL statement latency by verb and outcome.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"statement", "outcome"}),
		opTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_total",
			Help:      "Registry operations by name, kind and outcome.",
		}, []string{"operation", "kind", "outcome"}),
		opDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "operation_duration_seconds",
			Help:      "Registry operation latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation", "kind"}),
	}
	m.reg.MustRegister(
		m.queryDuration,
		m.opTotal,
		m.opDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// RecordQuery implements db.MetricsCollector.
func (m *Metrics) RecordQuery(query string, d time.Duration, success bool) {
	m.queryDuration.WithLabelValues(StatementVerb(query), outcome(success)).Observe(d.Seconds())
}

// ObserveOperation records one completed registry operation.
func (m *Metrics) ObserveOperation(op, kind string, d time.Duration, success bool) {
	m.opTotal.WithLabelValues(op, kind, outcome(success)).Inc()
	m.opDuration.WithLabelValues(op, kind).Observe(d.Seconds())
}

// Registry returns the underlying Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

// StatementVerb returns the lower-cased first keyword of query, which keeps
// label cardinality bounded.
func StatementVerb(query string) string {
	fields := strings.Fields(query)
	if len(fields) == 0 {
		return "unknown"
	}
	return strings.ToLower(fields[0])
}

func outcome(success bool) string {
	if success {
		return "ok"
	}
	return "error"
}

var _ db.MetricsCollector = (*Metrics)(nil)
