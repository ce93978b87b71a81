package resources

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics exposes workflow admission and consumption counters.
type Metrics struct {
	// ActiveWorkflows tracks runs currently admitted.
	ActiveWorkflows prometheus.Gauge

	// Admissions counts admission decisions.
	// Labels: result (admitted|rejected)
	Admissions *prometheus.CounterVec

	// LimitViolations counts Check failures.
	// Labels: limit (execution_timeout|max_tokens|max_memory)
	LimitViolations *prometheus.CounterVec

	// TokensUsed counts tokens recorded against runs.
	TokensUsed prometheus.Counter

	// StepsCompleted counts executed graph steps.
	StepsCompleted prometheus.Counter

	// RunDuration observes the lifetime of released runs in seconds.
	RunDuration prometheus.Histogram
}

// NewMetrics registers the workflow metrics with reg. A nil registerer keeps
// the collectors unregistered, which is what tests want.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		ActiveWorkflows: factory.NewGauge(prometheus.GaugeOpts{
			Name: "chative_workflows_active",
			Help: "Number of workflow runs currently admitted",
		}),
		Admissions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "chative_workflow_admissions_total",
			Help: "Workflow admission decisions by result",
		}, []string{"result"}),
		LimitViolations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "chative_workflow_limit_violations_total",
			Help: "Resource limit violations by limit",
		}, []string{"limit"}),
		TokensUsed: factory.NewCounter(prometheus.CounterOpts{
			Name: "chative_workflow_tokens_total",
			Help: "Tokens recorded against workflow runs",
		}),
		StepsCompleted: factory.NewCounter(prometheus.CounterOpts{
			Name: "chative_workflow_steps_total",
			Help: "Graph steps completed across workflow runs",
		}),
		RunDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "chative_workflow_run_duration_seconds",
			Help:    "Lifetime of workflow runs in seconds",
			Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		}),
	}
}
