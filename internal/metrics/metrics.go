package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/interceptor"
	"go.temporal.io/sdk/temporal"

	"github.com/tpr-labs/nriy/internal/execution"
)

const namespace = "nriy"

type Metrics struct {
	registry         *prometheus.Registry
	stageExecutions  *prometheus.CounterVec
	stageDuration    *prometheus.HistogramVec
	activityAttempts *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		stageExecutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stage_executions_total",
			Help:      "Stage executions started through the trigger, by terminal outcome.",
		}, []string{"stage", "outcome"}),
		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Wall time from stage start to terminal result.",
			Buckets:   []float64{0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}, []string{"stage"}),
		activityAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "activity_attempts_total",
			Help:      "Activity attempts run in-process or by the worker, by outcome.",
		}, []string{"activity", "outcome"}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.stageExecutions,
		m.stageDuration,
		m.activityAttempts,
	)
	return m
}

// ObserveStage records one terminal stage result. outcome is "ok" or an
// error kind.
func (m *Metrics) ObserveStage(stage string, outcome string, elapsed time.Duration) {
	m.stageExecutions.WithLabelValues(stage, outcome).Inc()
	m.stageDuration.WithLabelValues(stage).Observe(elapsed.Seconds())
}

// ActivityObserver counts attempts reported by an execution.Executor. The
// executor reports an exhausted final attempt with its RetriesExhausted error.
func (m *Metrics) ActivityObserver(activity string) func(execution.Attempt) {
	return func(attempt execution.Attempt) {
		outcome := "ok"
		switch {
		case attempt.Err != nil && attempt.Backoff > 0:
			outcome = "retry"
		case attempt.Err != nil:
			outcome = string(execution.KindOf(attempt.Err))
		}
		m.activityAttempts.WithLabelValues(activity, outcome).Inc()
	}
}

// WorkerInterceptor counts the activity attempts a Temporal worker runs into
// the same series as ActivityObserver.
func (m *Metrics) WorkerInterceptor() interceptor.WorkerInterceptor {
	return &workerInterceptor{metrics: m}
}

type workerInterceptor struct {
	interceptor.WorkerInterceptorBase
	metrics *Metrics
}

func (w *workerInterceptor) InterceptActivity(ctx context.Context, next interceptor.ActivityInboundInterceptor) interceptor.ActivityInboundInterceptor {
	i := &activityInbound{metrics: w.metrics}
	i.Next = next
	return i
}

type activityInbound struct {
	interceptor.ActivityInboundInterceptorBase
	metrics *Metrics
}

func (a *activityInbound) ExecuteActivity(ctx context.Context, in *interceptor.ExecuteActivityInput) (interface{}, error) {
	result, err := a.Next.ExecuteActivity(ctx, in)
	info := activity.GetInfo(ctx)
	a.metrics.activityAttempts.WithLabelValues(info.ActivityType.Name, workerOutcome(info.Attempt, info.RetryPolicy, err)).Inc()
	return result, err
}

func workerOutcome(attempt int32, policy *temporal.RetryPolicy, err error) string {
	switch {
	case err == nil:
		return "ok"
	case !execution.IsRetryable(err):
		return string(execution.KindOf(err))
	case policy != nil && policy.MaximumAttempts > 0 && attempt >= policy.MaximumAttempts:
		return string(execution.KindRetriesExhausted)
	default:
		return "retry"
	}
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
