package observers

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/chative-core/workflow/internal/agent/graph"
	"github.com/chative-core/workflow/internal/agent/model"
)

type stepStartKey struct{}

// MetricsObserver records step latency and outcomes.
type MetricsObserver struct {
	// StepDuration observes step latency in seconds.
	// Labels: node
	StepDuration *prometheus.HistogramVec

	// StepOutcomes counts finished steps.
	// Labels: node, outcome (ok|recovered|aborted)
	StepOutcomes *prometheus.CounterVec
}

func NewMetricsObserver(reg prometheus.Registerer) *MetricsObserver {
	factory := promauto.With(reg)
	return &MetricsObserver{
		StepDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "chative_workflow_step_duration_seconds",
			Help:    "Graph step latency by node",
			Buckets: prometheus.DefBuckets,
		}, []string{"node"}),
		StepOutcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "chative_workflow_step_outcomes_total",
			Help: "Graph step outcomes by node",
		}, []string{"node", "outcome"}),
	}
}

func (o *MetricsObserver) OnStart(ctx context.Context, info graph.StepInfo, _ *model.ConversationState) context.Context {
	return context.WithValue(ctx, stepStartKey{}, time.Now())
}

func (o *MetricsObserver) OnEnd(ctx context.Context, info graph.StepInfo, snap graph.Snapshot) {
	outcome := "ok"
	if snap.Recovered != nil {
		outcome = "recovered"
	}
	o.observe(ctx, info, outcome)
}

func (o *MetricsObserver) OnError(ctx context.Context, info graph.StepInfo, _ error) {
	o.observe(ctx, info, "aborted")
}

func (o *MetricsObserver) observe(ctx context.Context, info graph.StepInfo, outcome string) {
	node := string(info.Node)
	if t, ok := ctx.Value(stepStartKey{}).(time.Time); ok {
		o.StepDuration.WithLabelValues(node).Observe(time.Since(t).Seconds())
	}
	o.StepOutcomes.WithLabelValues(node, outcome).Inc()
}
