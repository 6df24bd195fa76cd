// Package metrics exposes Prometheus instrumentation for the trading core.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the core's collectors. One instance is registered per
// process and shared by the cycle manager and status server.
type Metrics struct {
	CyclesTotal    *prometheus.CounterVec
	CycleDuration  prometheus.Histogram
	RegimeTotal    *prometheus.CounterVec
	SignalActions  *prometheus.CounterVec
	Executions     *prometheus.CounterVec
	PreExecAborts  prometheus.Counter
	CycleErrors    *prometheus.CounterVec
}

// New creates and registers the collectors on the given registerer.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		CyclesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tradecore",
			Name:      "cycles_total",
			Help:      "Trading cycles by outcome.",
		}, []string{"outcome"}),
		CycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "tradecore",
			Name:      "cycle_duration_seconds",
			Help:      "End-to-end trading cycle duration.",
			Buckets:   prometheus.DefBuckets,
		}),
		RegimeTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tradecore",
			Name:      "regime_classifications_total",
			Help:      "Regime classifications by regime.",
		}, []string{"regime"}),
		SignalActions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tradecore",
			Name:      "integrated_signals_total",
			Help:      "Integrated signals by action.",
		}, []string{"action"}),
		Executions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tradecore",
			Name:      "executions_total",
			Help:      "Order executions by result.",
		}, []string{"result"}),
		PreExecAborts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tradecore",
			Name:      "pre_execution_aborts_total",
			Help:      "Approved trades aborted by pre-execution verification.",
		}),
		CycleErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tradecore",
			Name:      "cycle_errors_total",
			Help:      "Cycle errors by class.",
		}, []string{"class"}),
	}
	reg.MustRegister(
		m.CyclesTotal, m.CycleDuration, m.RegimeTotal,
		m.SignalActions, m.Executions, m.PreExecAborts, m.CycleErrors,
	)
	return m
}
