// Package telemetry wires Prometheus metrics and an OpenTelemetry tracer for
// the registry/gateway dispatch path, grounded on the teacher's
// internal/telemetry/config.go provider shape but scoped to the two signals
// spec.md's command router and streaming proxy actually produce.
package telemetry

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// Config controls whether and how telemetry is exported.
type Config struct {
	Enabled      bool
	ServiceName  string
	OTLPEndpoint string
	OTLPInsecure bool
}

// DefaultServiceName names the service in exported traces when Config
// doesn't override it.
const DefaultServiceName = "yamf"

// Metrics is the fixed set of instruments the command router and streaming
// proxy record against (spec.md §4.j dispatch, §4.i proxy hops), exported
// both to Prometheus scrapers and, when a MeterProvider is supplied, to an
// OTLP collector.
type Metrics struct {
	CommandsTotal     *prometheus.CounterVec
	ProxyDurationSecs *prometheus.HistogramVec
	otelCommands      metric.Int64Counter
	otelProxyDuration metric.Float64Histogram
}

// NewMetrics registers yamf_commands_total and yamf_proxy_duration_seconds
// against reg (pass prometheus.DefaultRegisterer in production, a fresh
// prometheus.NewRegistry() in tests to avoid collisions across runs), and
// against mp's meter if mp is non-nil (a nil MeterProvider skips OTLP
// export entirely, matching Metrics' own nil-receiver-is-a-noop convention).
func NewMetrics(reg prometheus.Registerer, mp *MeterProvider) *Metrics {
	factory := promauto.With(reg)
	m := &Metrics{
		CommandsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "yamf_commands_total",
			Help: "Total number of dispatched commands, by command name and outcome.",
		}, []string{"command", "outcome"}),
		ProxyDurationSecs: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "yamf_proxy_duration_seconds",
			Help:    "Duration of streamed proxy calls to downstream instances.",
			Buckets: prometheus.DefBuckets,
		}, []string{"service"}),
	}
	if mp != nil {
		m.otelCommands, _ = mp.meter.Int64Counter("yamf_commands_total",
			metric.WithDescription("Total number of dispatched commands, by command name and outcome."))
		m.otelProxyDuration, _ = mp.meter.Float64Histogram("yamf_proxy_duration_seconds",
			metric.WithDescription("Duration of streamed proxy calls to downstream instances."),
			metric.WithUnit("s"))
	}
	return m
}

// RecordCommand increments CommandsTotal for cmd/outcome.
func (m *Metrics) RecordCommand(cmd, outcome string) {
	if m == nil {
		return
	}
	m.CommandsTotal.WithLabelValues(cmd, outcome).Inc()
	if m.otelCommands != nil {
		m.otelCommands.Add(context.Background(), 1,
			metric.WithAttributes(attribute.String("command", cmd), attribute.String("outcome", outcome)))
	}
}

// ObserveProxyDuration records a completed proxy call's duration in seconds.
func (m *Metrics) ObserveProxyDuration(service string, seconds float64) {
	if m == nil {
		return
	}
	m.ProxyDurationSecs.WithLabelValues(service).Observe(seconds)
	if m.otelProxyDuration != nil {
		m.otelProxyDuration.Record(context.Background(), seconds,
			metric.WithAttributes(attribute.String("service", service)))
	}
}

// Tracer wraps the OpenTelemetry tracer provider used to span each proxy hop
// (spec.md §4.i).
type Tracer struct {
	provider *sdktrace.TracerProvider
	tracer   trace.Tracer
}

// NewTracer builds a Tracer. When cfg.Enabled is false, it returns a Tracer
// backed by otel's no-op provider so callers never need to branch on
// whether tracing is configured.
func NewTracer(ctx context.Context, cfg Config) (*Tracer, error) {
	if !cfg.Enabled {
		return &Tracer{tracer: otel.Tracer(serviceNameOrDefault(cfg))}, nil
	}

	exporter, err := otlptracehttp.New(ctx,
		otlptracehttp.WithEndpoint(cfg.OTLPEndpoint),
		withInsecureIfConfigured(cfg.OTLPInsecure)...,
	)
	if err != nil {
		return nil, err
	}

	provider := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter))
	otel.SetTracerProvider(provider)
	return &Tracer{
		provider: provider,
		tracer:   provider.Tracer(serviceNameOrDefault(cfg)),
	}, nil
}

func withInsecureIfConfigured(insecure bool) []otlptracehttp.Option {
	if insecure {
		return []otlptracehttp.Option{otlptracehttp.WithInsecure()}
	}
	return nil
}

func serviceNameOrDefault(cfg Config) string {
	if cfg.ServiceName == "" {
		return DefaultServiceName
	}
	return cfg.ServiceName
}

// StartSpan starts a span for one proxy hop to service.
func (t *Tracer) StartSpan(ctx context.Context, service string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "proxy."+service)
}

// Shutdown flushes and stops the tracer provider, if one was created.
func (t *Tracer) Shutdown(ctx context.Context) error {
	if t.provider == nil {
		return nil
	}
	return t.provider.Shutdown(ctx)
}
