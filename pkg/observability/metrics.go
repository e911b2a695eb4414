package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// ModelMetrics records the per-call timing breakdown a VLM request produces
// (§4.10: time-to-first-token, time-to-thinking-end, total time).
type ModelMetrics struct {
	ttft        metric.Float64Histogram
	thinkingEnd metric.Float64Histogram
	total       metric.Float64Histogram
	calls       metric.Int64Counter
}

// NewModelMetrics creates a MeterProvider backed by the Prometheus exporter
// and registers the VLM call instruments. Callers expose the returned
// registry's HTTP handler (via the exporter's reader) on their own mux.
func NewModelMetrics() (*ModelMetrics, *sdkmetric.MeterProvider, error) {
	exporter, err := prometheus.New()
	if err != nil {
		return nil, nil, fmt.Errorf("create prometheus exporter: %w", err)
	}

	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	meter := mp.Meter(DefaultServiceName)

	ttft, err := meter.Float64Histogram("phoneagent.model.time_to_first_token_seconds")
	if err != nil {
		return nil, nil, err
	}
	thinkingEnd, err := meter.Float64Histogram("phoneagent.model.time_to_thinking_end_seconds")
	if err != nil {
		return nil, nil, err
	}
	total, err := meter.Float64Histogram("phoneagent.model.total_time_seconds")
	if err != nil {
		return nil, nil, err
	}
	calls, err := meter.Int64Counter("phoneagent.model.calls_total")
	if err != nil {
		return nil, nil, err
	}

	return &ModelMetrics{ttft: ttft, thinkingEnd: thinkingEnd, total: total, calls: calls}, mp, nil
}

// RecordCall records one completed VLM call's timing breakdown.
func (m *ModelMetrics) RecordCall(ctx context.Context, mode string, ttft, thinkingEnd, total time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("mode", mode))
	m.ttft.Record(ctx, ttft.Seconds(), attrs)
	m.thinkingEnd.Record(ctx, thinkingEnd.Seconds(), attrs)
	m.total.Record(ctx, total.Seconds(), attrs)
	m.calls.Add(ctx, 1, attrs)
}
