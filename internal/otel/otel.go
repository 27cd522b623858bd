// Package otel wires clawboard's tracing and metrics. Metrics are always
// collected in-process so the daemon can report totals at shutdown; spans
// are exported only when tracing is enabled.
package otel

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
	nooptrace "go.opentelemetry.io/otel/trace/noop"
)

const (
	TracerName = "clawboard"
	MeterName  = "clawboard"
)

type Config struct {
	Enabled     bool              `yaml:"enabled"`
	Exporter    string            `yaml:"exporter"` // otlp-http, stdout, none
	Endpoint    string            `yaml:"endpoint"`
	Insecure    bool              `yaml:"insecure"`
	Headers     map[string]string `yaml:"headers"`
	ServiceName string            `yaml:"service_name"`
	SampleRate  float64           `yaml:"sample_rate"`
}

// Provider owns the tracer and meter providers for one process.
type Provider struct {
	TracerProvider *sdktrace.TracerProvider // nil when tracing is disabled
	MeterProvider  metric.MeterProvider
	Tracer         trace.Tracer
	Meter          metric.Meter

	reader   *sdkmetric.ManualReader
	shutdown []func(context.Context) error
}

// Init builds the providers. version is recorded on the resource.
func Init(ctx context.Context, cfg Config, version string) (*Provider, error) {
	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = "clawboard"
	}
	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(serviceName),
			semconv.ServiceVersion(version),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("create resource: %w", err)
	}

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithResource(res), sdkmetric.WithReader(reader))
	p := &Provider{
		MeterProvider: mp,
		Meter:         mp.Meter(MeterName),
		reader:        reader,
		shutdown:      []func(context.Context) error{mp.Shutdown},
	}

	if !cfg.Enabled {
		p.Tracer = nooptrace.NewTracerProvider().Tracer(TracerName)
		return p, nil
	}

	exporter, err := createExporter(ctx, cfg)
	if err != nil {
		_ = mp.Shutdown(ctx)
		return nil, fmt.Errorf("create exporter: %w", err)
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(sampleRate(cfg.SampleRate)))),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))

	p.TracerProvider = tp
	p.Tracer = tp.Tracer(TracerName)
	p.shutdown = append(p.shutdown, tp.Shutdown)
	return p, nil
}

func sampleRate(r float64) float64 {
	if r <= 0 || r > 1 {
		return 1
	}
	return r
}

// Shutdown flushes spans and stops both providers.
func (p *Provider) Shutdown(ctx context.Context) error {
	var errs []error
	for _, fn := range p.shutdown {
		if err := fn(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	p.shutdown = nil
	return errors.Join(errs...)
}

// Summary collects current metric totals keyed by instrument name. Counters
// report their sum and histograms their observation count under "<name>.count".
func (p *Provider) Summary(ctx context.Context) (map[string]float64, error) {
	if p.reader == nil {
		return nil, nil
	}
	var rm metricdata.ResourceMetrics
	if err := p.reader.Collect(ctx, &rm); err != nil {
		return nil, err
	}
	out := map[string]float64{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			switch data := m.Data.(type) {
			case metricdata.Sum[int64]:
				for _, dp := range data.DataPoints {
					out[m.Name] += float64(dp.Value)
				}
			case metricdata.Sum[float64]:
				for _, dp := range data.DataPoints {
					out[m.Name] += dp.Value
				}
			case metricdata.Histogram[float64]:
				for _, dp := range data.DataPoints {
					out[m.Name+".count"] += float64(dp.Count)
				}
			}
		}
	}
	return out, nil
}

// SummaryAttrs flattens a summary into sorted slog-style key/value pairs.
func SummaryAttrs(summary map[string]float64) []any {
	keys := make([]string, 0, len(summary))
	for k := range summary {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]any, 0, 2*len(keys))
	for _, k := range keys {
		out = append(out, k, summary[k])
	}
	return out
}

func createExporter(ctx context.Context, cfg Config) (sdktrace.SpanExporter, error) {
	switch cfg.Exporter {
	case "otlp-http", "":
		endpoint := cfg.Endpoint
		if endpoint == "" {
			endpoint = "localhost:4318"
		}
		opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(endpoint)}
		if cfg.Insecure {
			opts = append(opts, otlptracehttp.WithInsecure())
		}
		if len(cfg.Headers) > 0 {
			opts = append(opts, otlptracehttp.WithHeaders(cfg.Headers))
		}
		return otlptracehttp.New(ctx, opts...)
	case "stdout":
		return stdouttrace.New(stdouttrace.WithPrettyPrint())
	case "none":
		return discardExporter{}, nil
	default:
		return nil, fmt.Errorf("unknown exporter: %s (supported: otlp-http, stdout, none)", cfg.Exporter)
	}
}

type discardExporter struct{}

func (discardExporter) ExportSpans(context.Context, []sdktrace.ReadOnlySpan) error { return nil }
func (discardExporter) Shutdown(context.Context) error                             { return nil }

// Instruments bundles the tracer and metric instruments handed to components.
type Instruments struct {
	Tracer  trace.Tracer
	Metrics *Metrics
}

func (p *Provider) NewInstruments() (*Instruments, error) {
	m, err := NewMetrics(p.Meter)
	if err != nil {
		return nil, err
	}
	return &Instruments{Tracer: p.Tracer, Metrics: m}, nil
}

// NoopInstruments returns instruments that record nothing.
func NoopInstruments() *Instruments {
	m, _ := NewMetrics(noop.NewMeterProvider().Meter(MeterName))
	return &Instruments{
		Tracer:  nooptrace.NewTracerProvider().Tracer(TracerName),
		Metrics: m,
	}
}
