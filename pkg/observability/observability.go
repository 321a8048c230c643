// Package observability provides OpenTelemetry metrics for the sync and
// telemetry engine: exchange counts, exchange failures, exchange
// latency and sensor callback volume. The engine runs unchanged with a
// nil or disabled provider.
package observability

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// Config configures the metrics provider.
type Config struct {
	ServiceName    string
	ServiceVersion string
	OTLPEndpoint   string // gRPC endpoint, e.g. "localhost:4317"
	Interval       time.Duration
	Enabled        bool
	Insecure       bool
}

// DefaultConfig returns defaults suitable for a paired-phone collector.
func DefaultConfig() *Config {
	return &Config{
		ServiceName:    "wearsync-engine",
		ServiceVersion: "1.0.0",
		OTLPEndpoint:   "localhost:4317",
		Interval:       30 * time.Second,
		Enabled:        false,
		Insecure:       true,
	}
}

// Provider owns the meter provider and the engine's instruments.
type Provider struct {
	config        *Config
	meterProvider *sdkmetric.MeterProvider
	logger        *slog.Logger

	exchangeCounter metric.Int64Counter
	errorCounter    metric.Int64Counter
	exchangeHist    metric.Float64Histogram
	sensorCounter   metric.Int64Counter
}

// New creates a metrics provider. A nil config or Enabled=false yields a
// provider whose record methods are no-ops.
func New(ctx context.Context, config *Config) (*Provider, error) {
	if config == nil {
		config = DefaultConfig()
	}
	p := &Provider{
		config: config,
		logger: slog.Default().With("component", "observability"),
	}
	if !config.Enabled {
		return p, nil
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(config.ServiceName),
			semconv.ServiceVersion(config.ServiceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(config.OTLPEndpoint)}
	if config.Insecure {
		opts = append(opts, otlpmetricgrpc.WithInsecure())
	}
	exporter, err := otlpmetricgrpc.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create metric exporter: %w", err)
	}

	p.meterProvider = sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter,
			sdkmetric.WithInterval(config.Interval),
		)),
	)
	otel.SetMeterProvider(p.meterProvider)

	meter := otel.Meter("wearsync.engine",
		metric.WithInstrumentationVersion(config.ServiceVersion),
	)
	if err := p.initInstruments(meter); err != nil {
		return nil, fmt.Errorf("failed to init instruments: %w", err)
	}

	p.logger.InfoContext(ctx, "observability initialized",
		"service", config.ServiceName,
		"endpoint", config.OTLPEndpoint,
	)
	return p, nil
}

func (p *Provider) initInstruments(meter metric.Meter) error {
	var err error

	p.exchangeCounter, err = meter.Int64Counter("wearsync.exchanges.total",
		metric.WithDescription("Total sync exchanges against the peer"),
		metric.WithUnit("{exchange}"),
	)
	if err != nil {
		return err
	}

	p.errorCounter, err = meter.Int64Counter("wearsync.exchange.errors.total",
		metric.WithDescription("Total failed exchanges by error kind"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return err
	}

	p.exchangeHist, err = meter.Float64Histogram("wearsync.exchange.duration",
		metric.WithDescription("Exchange duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.01, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0),
	)
	if err != nil {
		return err
	}

	p.sensorCounter, err = meter.Int64Counter("wearsync.sensor.callbacks.total",
		metric.WithDescription("Sensor callbacks merged into the metrics snapshot"),
		metric.WithUnit("{callback}"),
	)
	return err
}

// RecordExchange records one completed exchange and its duration.
func (p *Provider) RecordExchange(ctx context.Context, d time.Duration) {
	if p == nil || p.exchangeCounter == nil {
		return
	}
	p.exchangeCounter.Add(ctx, 1)
	p.exchangeHist.Record(ctx, d.Seconds())
}

// RecordExchangeError records one failed exchange by error kind.
func (p *Provider) RecordExchangeError(ctx context.Context, kind string) {
	if p == nil || p.errorCounter == nil {
		return
	}
	p.errorCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("error.kind", kind)))
}

// RecordSensorCallback records one merged sensor callback by source.
func (p *Provider) RecordSensorCallback(ctx context.Context, source string) {
	if p == nil || p.sensorCounter == nil {
		return
	}
	p.sensorCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("sensor.source", source)))
}

// Shutdown flushes and stops the meter provider.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p == nil || p.meterProvider == nil {
		return nil
	}
	return p.meterProvider.Shutdown(ctx)
}
