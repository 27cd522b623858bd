package otel

import "go.opentelemetry.io/otel/metric"

// Metrics holds all clawboard metric instruments.
type Metrics struct {
	RoundDuration  metric.Float64Histogram
	TaskDuration   metric.Float64Histogram
	InvokeDuration metric.Float64Histogram
	InvokeFailures metric.Int64Counter
	JobsRetried    metric.Int64Counter
	ActiveJobs     metric.Int64UpDownCounter
}

// NewMetrics creates all metric instruments from the given meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	m.RoundDuration, err = meter.Float64Histogram("clawboard.meeting.round.duration",
		metric.WithDescription("Meeting round duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	m.TaskDuration, err = meter.Float64Histogram("clawboard.task.duration",
		metric.WithDescription("Task execution attempt duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	m.InvokeDuration, err = meter.Float64Histogram("clawboard.invoke.duration",
		metric.WithDescription("Agent runtime invocation duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	m.InvokeFailures, err = meter.Int64Counter("clawboard.invoke.failures",
		metric.WithDescription("Unsuccessful agent runtime invocations"),
	)
	if err != nil {
		return nil, err
	}

	m.JobsRetried, err = meter.Int64Counter("clawboard.jobs.retried",
		metric.WithDescription("Jobs scheduled for retry"),
	)
	if err != nil {
		return nil, err
	}

	m.ActiveJobs, err = meter.Int64UpDownCounter("clawboard.jobs.active",
		metric.WithDescription("Jobs currently held by a worker"),
	)
	if err != nil {
		return nil, err
	}

	return m, nil
}
