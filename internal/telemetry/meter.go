package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// DefaultMetricsInterval is how often accumulated metrics are exported to
// the OTLP collector, grounded on the teacher's internal/telemetry/meter.go.
const DefaultMetricsInterval = 60 * time.Second

// MeterProvider wraps the OTel meter used to export yamf_commands_total and
// yamf_proxy_duration_seconds over OTLP, alongside their Prometheus-scraped
// counterparts (spec.md §4.j, §4.i instrumentation).
type MeterProvider struct {
	provider *sdkmetric.MeterProvider
	meter    metric.Meter
}

// NewMeterProvider builds a MeterProvider. A disabled Config returns a
// provider backed by OTel's no-op meter, so Metrics never needs to branch on
// whether OTLP export is configured.
func NewMeterProvider(ctx context.Context, cfg Config) (*MeterProvider, error) {
	name := serviceNameOrDefault(cfg)
	if !cfg.Enabled {
		return &MeterProvider{meter: noop.NewMeterProvider().Meter(name)}, nil
	}

	opts := []otlpmetrichttp.Option{otlpmetrichttp.WithEndpoint(cfg.OTLPEndpoint)}
	if cfg.OTLPInsecure {
		opts = append(opts, otlpmetrichttp.WithInsecure())
	}
	exporter, err := otlpmetrichttp.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP metrics exporter: %w", err)
	}

	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(
			sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(DefaultMetricsInterval)),
		),
	)
	return &MeterProvider{provider: provider, meter: provider.Meter(name)}, nil
}

// Shutdown flushes and stops the meter provider, if one was created.
func (m *MeterProvider) Shutdown(ctx context.Context) error {
	if m == nil || m.provider == nil {
		return nil
	}
	return m.provider.Shutdown(ctx)
}
