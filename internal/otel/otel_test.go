package otel

import (
	"context"
	"testing"
)

func TestInit_DisabledStillCountsMetrics(t *testing.T) {
	ctx := context.Background()
	p, err := Init(ctx, Config{Enabled: false}, "test")
	if err != nil {
		t.Fatalf("Init disabled: %v", err)
	}
	defer p.Shutdown(ctx)

	if p.TracerProvider != nil {
		t.Fatal("tracing should be off")
	}
	_, span := p.Tracer.Start(ctx, "noop")
	if span.SpanContext().IsValid() {
		t.Fatal("disabled tracer produced a recording span")
	}

	inst, err := p.NewInstruments()
	if err != nil {
		t.Fatalf("NewInstruments: %v", err)
	}
	inst.Metrics.JobsRetried.Add(ctx, 2)
	inst.Metrics.JobsRetried.Add(ctx, 1)
	inst.Metrics.TaskDuration.Record(ctx, 1.5)

	summary, err := p.Summary(ctx)
	if err != nil {
		t.Fatalf("Summary: %v", err)
	}
	if summary["clawboard.jobs.retried"] != 3 {
		t.Fatalf("jobs.retried = %v", summary["clawboard.jobs.retried"])
	}
	if summary["clawboard.task.duration.count"] != 1 {
		t.Fatalf("task.duration.count = %v", summary["clawboard.task.duration.count"])
	}
}

func TestInit_NoneExporterRecordsSpans(t *testing.T) {
	ctx := context.Background()
	p, err := Init(ctx, Config{Enabled: true, Exporter: "none", SampleRate: 5}, "test")
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	if p.TracerProvider == nil {
		t.Fatal("expected a tracer provider")
	}
	_, span := p.Tracer.Start(ctx, "meeting.round")
	if !span.SpanContext().IsValid() || !span.SpanContext().IsSampled() {
		t.Fatal("expected a sampled span")
	}
	span.End()

	if err := p.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if err := p.Shutdown(ctx); err != nil {
		t.Fatalf("second Shutdown: %v", err)
	}
}

func TestInit_UnknownExporter(t *testing.T) {
	if _, err := Init(context.Background(), Config{Enabled: true, Exporter: "carrier-pigeon"}, "test"); err == nil {
		t.Fatal("expected error for unknown exporter")
	}
}

func TestSampleRate(t *testing.T) {
	for in, want := range map[float64]float64{0: 1, -1: 1, 0.25: 0.25, 1: 1, 3: 1} {
		if got := sampleRate(in); got != want {
			t.Errorf("sampleRate(%v) = %v, want %v", in, got, want)
		}
	}
}

func TestSummaryAttrs_Sorted(t *testing.T) {
	got := SummaryAttrs(map[string]float64{"b": 2, "a": 1})
	if len(got) != 4 || got[0] != "a" || got[1] != 1.0 || got[2] != "b" {
		t.Fatalf("attrs = %v", got)
	}
}

func TestSpanHelpers(t *testing.T) {
	ctx := context.Background()
	p, err := Init(ctx, Config{Enabled: true, Exporter: "none"}, "test")
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	defer p.Shutdown(ctx)

	_, span := StartSpan(ctx, p.Tracer, "meeting.run",
		AttrProjectID.String("p1"),
		AttrThreadID.String("th1"),
	)
	EndSpan(span, nil)

	_, span = StartClientSpan(ctx, p.Tracer, "invoke.cli",
		AttrAdapter.String("cli"),
		AttrRole.String("pm"),
	)
	EndSpan(span, context.DeadlineExceeded)
}

func TestNoopInstruments(t *testing.T) {
	inst := NoopInstruments()
	_, span := StartSpan(context.Background(), inst.Tracer, "noop")
	EndSpan(span, nil)
	inst.Metrics.ActiveJobs.Add(context.Background(), 1)
}
