// Package telemetry records obra's OpenTelemetry metrics: fallback attempts, embedded
// items and HTTP requests. Instruments are created on a meter passed in by the
// caller; InitMeter installs a global provider that exports over OTLP/HTTP.
package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
)

// ScopeName is the instrumentation scope of every obra instrument.
const ScopeName = "github.com/matiasleandrokruk/obra"

// Outcome attribute values.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// Config configures metric export. An empty OTLPEndpoint keeps the global noop
// provider.
type Config struct {
	OTLPEndpoint string        `mapstructure:"otlp_endpoint"`
	Insecure     bool          `mapstructure:"insecure"`
	Interval     time.Duration `mapstructure:"interval" validate:"gte=0"`
}

// InitMeter installs a periodic OTLP/HTTP meter provider as the global provider.
// The returned shutdown func flushes pending metrics; it is a no-op when export is
// disabled.
func InitMeter(ctx context.Context, cfg Config, service, version string) (func(context.Context) error, error) {
	if cfg.OTLPEndpoint == "" {
		return func(context.Context) error { return nil }, nil
	}

	opts := []otlpmetrichttp.Option{otlpmetrichttp.WithEndpoint(cfg.OTLPEndpoint)}
	if cfg.Insecure {
		opts = append(opts, otlpmetrichttp.WithInsecure())
	}
	exporter, err := otlpmetrichttp.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("telemetry: create exporter: %w", err)
	}

	var readerOpts []sdkmetric.PeriodicReaderOption
	if cfg.Interval > 0 {
		readerOpts = append(readerOpts, sdkmetric.WithInterval(cfg.Interval))
	}
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter, readerOpts...)),
		sdkmetric.WithResource(resource.NewSchemaless(
			attribute.String("service.name", service),
			attribute.String("service.version", version),
		)),
	)
	otel.SetMeterProvider(mp)
	return mp.Shutdown, nil
}

// Meter returns obra's meter from the global provider.
func Meter() metric.Meter {
	return otel.Meter(ScopeName)
}

// Metrics holds obra's instruments. It implements llm.Recorder and
// knowledge.ItemRecorder.
type Metrics struct {
	attemptTotal    metric.Int64Counter
	attemptDuration metric.Float64Histogram
	embeddingTotal  metric.Int64Counter
	requestTotal    metric.Int64Counter
	requestDuration metric.Float64Histogram
}

// NewMetrics creates the instruments on meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	attemptTotal, err := meter.Int64Counter("llm.attempt.total",
		metric.WithDescription("Provider attempts made by the fallback chain"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating llm.attempt.total counter: %w", err)
	}

	attemptDuration, err := meter.Float64Histogram("llm.attempt.duration",
		metric.WithDescription("Duration of provider attempts in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating llm.attempt.duration histogram: %w", err)
	}

	embeddingTotal, err := meter.Int64Counter("embedding.item.total",
		metric.WithDescription("Texts embedded, by outcome"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating embedding.item.total counter: %w", err)
	}

	requestTotal, err := meter.Int64Counter("http.request.total",
		metric.WithDescription("HTTP requests served"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating http.request.total counter: %w", err)
	}

	requestDuration, err := meter.Float64Histogram("http.request.duration",
		metric.WithDescription("Duration of HTTP requests in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating http.request.duration histogram: %w", err)
	}

	return &Metrics{
		attemptTotal:    attemptTotal,
		attemptDuration: attemptDuration,
		embeddingTotal:  embeddingTotal,
		requestTotal:    requestTotal,
		requestDuration: requestDuration,
	}, nil
}

// RecordAttempt records one fallback attempt.
func (m *Metrics) RecordAttempt(ctx context.Context, tier, provider string, success bool, d time.Duration) {
	m.attemptTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("tier", tier),
		attribute.String("provider", provider),
		attribute.String("outcome", outcome(success)),
	))
	m.attemptDuration.Record(ctx, d.Seconds(), metric.WithAttributes(
		attribute.String("tier", tier),
		attribute.String("provider", provider),
	))
}

// RecordEmbedding counts one embedded text.
func (m *Metrics) RecordEmbedding(ctx context.Context, ok bool) {
	m.embeddingTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome(ok))))
}

// RecordRequest records one served HTTP request. route is the matched pattern, not
// the raw path.
func (m *Metrics) RecordRequest(ctx context.Context, method, route string, status int, d time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("route", route),
		attribute.Int("status", status),
	)
	m.requestTotal.Add(ctx, 1, attrs)
	m.requestDuration.Record(ctx, d.Seconds(), metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("route", route),
	))
}

func outcome(ok bool) string {
	if ok {
		return OutcomeSuccess
	}
	return OutcomeFailure
}
