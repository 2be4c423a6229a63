// Package metrics exports orchestration measurements through OpenTelemetry
// with a Prometheus reader.
package metrics

import (
	"context"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/ignatij/goscout/pkg/models"
	"github.com/ignatij/goscout/pkg/queue"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	otelglobal "go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
)

const meterName = "github.com/ignatij/goscout"

var (
	AttrAgent   = attribute.Key("agent")
	AttrOutcome = attribute.Key("outcome")
	AttrAction  = attribute.Key("action")
	AttrType    = attribute.Key("type")
	AttrLane    = attribute.Key("lane")
	AttrState   = attribute.Key("state")
)

// InitMeterProvider installs a global MeterProvider backed by a private
// Prometheus registry and returns the /metrics handler for it.
func InitMeterProvider(ctx context.Context, serviceName string) (http.Handler, error) {
	if serviceName == "" {
		serviceName = "goscout"
	}
	reg := prometheus.NewRegistry()
	exporter, err := otelprom.New(otelprom.WithRegisterer(reg))
	if err != nil {
		return nil, err
	}
	res, err := resource.New(ctx, resource.WithAttributes(semconv.ServiceName(serviceName)))
	if err != nil {
		return nil, err
	}
	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(exporter),
		sdkmetric.WithResource(res),
	)
	otelglobal.SetMeterProvider(provider)
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{EnableOpenMetrics: true}), nil
}

// Meter returns the global goscout meter.
func Meter() metric.Meter {
	return otelglobal.Meter(meterName)
}

// Metrics holds the instruments. It implements service.Recorder and
// provides hooks for the queue and the event hub.
type Metrics struct {
	dispatches       metric.Int64Counter
	dispatchDuration metric.Float64Histogram
	passes           metric.Int64Counter
	passAffected     metric.Int64Counter
	passDuration     metric.Float64Histogram
	summaries        metric.Int64Counter
	jobTransitions   metric.Int64Counter
	sseEvents        metric.Int64Counter
	sseGauge         metric.Int64ObservableGauge
	queueGauge       metric.Int64ObservableGauge

	sseConnections int64
	queueStats     atomic.Value // func() queue.Stats
}

func New(m metric.Meter) (*Metrics, error) {
	var err error
	mt := &Metrics{}
	if mt.dispatches, err = m.Int64Counter("goscout_dispatches_total", metric.WithDescription("Todo dispatch attempts by agent type and outcome")); err != nil {
		return nil, err
	}
	if mt.dispatchDuration, err = m.Float64Histogram("goscout_dispatch_duration_seconds", metric.WithDescription("Backend time per dispatch")); err != nil {
		return nil, err
	}
	if mt.passes, err = m.Int64Counter("goscout_scheduler_passes_total", metric.WithDescription("Scheduler passes by action")); err != nil {
		return nil, err
	}
	if mt.passAffected, err = m.Int64Counter("goscout_scheduler_affected_total", metric.WithDescription("Todos or scouts touched by scheduler passes")); err != nil {
		return nil, err
	}
	if mt.passDuration, err = m.Float64Histogram("goscout_scheduler_pass_duration_seconds", metric.WithDescription("Scheduler pass duration")); err != nil {
		return nil, err
	}
	if mt.summaries, err = m.Int64Counter("goscout_summaries_total", metric.WithDescription("Summaries written by type")); err != nil {
		return nil, err
	}
	if mt.jobTransitions, err = m.Int64Counter("goscout_job_transitions_total", metric.WithDescription("Queue job state changes")); err != nil {
		return nil, err
	}
	if mt.sseEvents, err = m.Int64Counter("goscout_sse_events_total", metric.WithDescription("Update events published")); err != nil {
		return nil, err
	}
	if mt.sseGauge, err = m.Int64ObservableGauge("goscout_sse_connections", metric.WithDescription("Open update feed connections")); err != nil {
		return nil, err
	}
	if mt.queueGauge, err = m.Int64ObservableGauge("goscout_queue_jobs", metric.WithDescription("Tracked queue jobs by state")); err != nil {
		return nil, err
	}
	_, err = m.RegisterCallback(mt.observe, mt.sseGauge, mt.queueGauge)
	if err != nil {
		return nil, err
	}
	return mt, nil
}

func (mt *Metrics) observe(ctx context.Context, o metric.Observer) error {
	o.ObserveInt64(mt.sseGauge, atomic.LoadInt64(&mt.sseConnections))
	stats, ok := mt.queueStats.Load().(func() queue.Stats)
	if !ok {
		return nil
	}
	s := stats()
	for state, n := range map[models.JobState]int{
		models.WaitingJobState:   s.Waiting,
		models.ActiveJobState:    s.Active,
		models.DelayedJobState:   s.Delayed,
		models.CompletedJobState: s.Completed,
		models.FailedJobState:    s.Failed,
	} {
		o.ObserveInt64(mt.queueGauge, int64(n), metric.WithAttributes(AttrState.String(string(state))))
	}
	return nil
}

// ObserveQueue registers the source of the queue depth gauge.
func (mt *Metrics) ObserveQueue(stats func() queue.Stats) {
	mt.queueStats.Store(stats)
}

func outcome(success bool) string {
	if success {
		return "success"
	}
	return "failure"
}

func (mt *Metrics) RecordDispatch(ctx context.Context, agent models.AgentType, success bool, elapsed time.Duration) {
	attrs := metric.WithAttributes(AttrAgent.String(string(agent)), AttrOutcome.String(outcome(success)))
	mt.dispatches.Add(ctx, 1, attrs)
	mt.dispatchDuration.Record(ctx, elapsed.Seconds(), attrs)
}

func (mt *Metrics) RecordSchedulerPass(ctx context.Context, action string, affected int, elapsed time.Duration) {
	attrs := metric.WithAttributes(AttrAction.String(action))
	mt.passes.Add(ctx, 1, attrs)
	mt.passAffected.Add(ctx, int64(affected), attrs)
	mt.passDuration.Record(ctx, elapsed.Seconds(), attrs)
}

func (mt *Metrics) RecordSummary(ctx context.Context, summaryType string, fallback bool) {
	mt.summaries.Add(ctx, 1, metric.WithAttributes(AttrType.String(summaryType), attribute.Bool("fallback", fallback)))
}

// JobTransition is the queue's OnTransition hook.
func (mt *Metrics) JobTransition(job models.Job) {
	mt.jobTransitions.Add(context.Background(), 1, metric.WithAttributes(
		AttrLane.String(job.Lane),
		AttrState.String(string(job.State)),
	))
}

// SSEConnection is the hub's OnSubscribe hook.
func (mt *Metrics) SSEConnection(delta int) {
	if atomic.AddInt64(&mt.sseConnections, int64(delta)) < 0 {
		atomic.StoreInt64(&mt.sseConnections, 0)
	}
}

// SSEEvent is the hub's OnPublish hook.
func (mt *Metrics) SSEEvent() {
	mt.sseEvents.Add(context.Background(), 1)
}
