package otel

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "planforge"

// Metrics holds all PlanForge metric instruments.
type Metrics struct {
	RunsStarted     metric.Int64Counter
	RunsCompleted   metric.Int64Counter
	RunsSkipped     metric.Int64Counter
	RunsFailed      metric.Int64Counter
	RunsRetried     metric.Int64Counter
	RunsThrottled   metric.Int64Counter
	FanoutPublished metric.Int64Counter
	FanoutDropped   metric.Int64Counter
	RunDuration     metric.Float64Histogram
}

// NewMetrics creates all metric instruments.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(meterName)
	m := &Metrics{}
	var err error

	m.RunsStarted, err = meter.Int64Counter("planforge.runs.started",
		metric.WithDescription("Number of runs started"))
	if err != nil {
		return nil, err
	}

	m.RunsCompleted, err = meter.Int64Counter("planforge.runs.completed",
		metric.WithDescription("Number of runs completed"))
	if err != nil {
		return nil, err
	}

	m.RunsSkipped, err = meter.Int64Counter("planforge.runs.skipped",
		metric.WithDescription("Number of runs ended by a skipped precondition"))
	if err != nil {
		return nil, err
	}

	m.RunsFailed, err = meter.Int64Counter("planforge.runs.failed",
		metric.WithDescription("Number of runs that exhausted their retry budget"))
	if err != nil {
		return nil, err
	}

	m.RunsRetried, err = meter.Int64Counter("planforge.runs.retried",
		metric.WithDescription("Number of run retry attempts"))
	if err != nil {
		return nil, err
	}

	m.RunsThrottled, err = meter.Int64Counter("planforge.runs.throttled",
		metric.WithDescription("Number of runs deferred or coalesced by a throttle window"))
	if err != nil {
		return nil, err
	}

	m.FanoutPublished, err = meter.Int64Counter("planforge.fanout.published",
		metric.WithDescription("Number of wake-up events published by fan-out"))
	if err != nil {
		return nil, err
	}

	m.FanoutDropped, err = meter.Int64Counter("planforge.fanout.dropped",
		metric.WithDescription("Number of wake-up events dropped by the hop budget"))
	if err != nil {
		return nil, err
	}

	m.RunDuration, err = meter.Float64Histogram("planforge.run.duration_seconds",
		metric.WithDescription("Run duration in seconds"))
	if err != nil {
		return nil, err
	}

	return m, nil
}
