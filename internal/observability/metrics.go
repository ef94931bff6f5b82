// Package observability wires OpenTelemetry metrics to a Prometheus /metrics endpoint.
package observability

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"doc-ingest-service/internal/entity"
)

const meterName = "doc-ingest-service"

// InitMetrics installs a global MeterProvider backed by a Prometheus exporter.
// It returns the /metrics handler and a shutdown function.
func InitMetrics() (http.Handler, func(context.Context) error, error) {
	exporter, err := prometheus.New()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(exporter),
	)
	otel.SetMeterProvider(provider)

	return promhttp.Handler(), provider.Shutdown, nil
}

// PipelineMetrics records terminal task outcomes in the worker.
type PipelineMetrics struct {
	finished metric.Int64Counter
	duration metric.Float64Histogram
}

func NewPipelineMetrics() (*PipelineMetrics, error) {
	meter := otel.Meter(meterName)

	finished, err := meter.Int64Counter("docingest.tasks.finished",
		metric.WithDescription("Tasks that reached a terminal state"),
	)
	if err != nil {
		return nil, err
	}
	duration, err := meter.Float64Histogram("docingest.task.duration",
		metric.WithDescription("Wall time from pickup to terminal state"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}
	return &PipelineMetrics{finished: finished, duration: duration}, nil
}

func (m *PipelineMetrics) TaskFinished(ctx context.Context, state entity.TaskState, elapsed time.Duration) {
	attrs := metric.WithAttributes(attribute.String("state", string(state)))
	m.finished.Add(ctx, 1, attrs)
	m.duration.Record(ctx, elapsed.Seconds(), attrs)
}

// UploadMetrics counts submissions by outcome ("queued", "rejected", "error").
type UploadMetrics struct {
	submitted metric.Int64Counter
	bytes     metric.Int64Counter
}

func NewUploadMetrics() (*UploadMetrics, error) {
	meter := otel.Meter(meterName)

	submitted, err := meter.Int64Counter("docingest.uploads",
		metric.WithDescription("Upload submissions by outcome"),
	)
	if err != nil {
		return nil, err
	}
	bytes, err := meter.Int64Counter("docingest.upload.bytes",
		metric.WithDescription("Bytes accepted for processing"),
		metric.WithUnit("By"),
	)
	if err != nil {
		return nil, err
	}
	return &UploadMetrics{submitted: submitted, bytes: bytes}, nil
}

func (m *UploadMetrics) UploadFinished(ctx context.Context, format entity.Format, outcome string, size int64) {
	m.submitted.Add(ctx, 1, metric.WithAttributes(
		attribute.String("format", string(format)),
		attribute.String("outcome", outcome),
	))
	if outcome == "queued" {
		m.bytes.Add(ctx, size, metric.WithAttributes(attribute.String("format", string(format))))
	}
}

// RegisterQueueDepth exposes the pending queue length as a gauge read on scrape.
func RegisterQueueDepth(depth func(ctx context.Context) (int64, error)) error {
	_, err := otel.Meter(meterName).Int64ObservableGauge("docingest.queue.depth",
		metric.WithDescription("Tasks waiting to be claimed"),
		metric.WithInt64Callback(func(ctx context.Context, obs metric.Int64Observer) error {
			n, err := depth(ctx)
			if err != nil {
				log.Printf("[metrics] queue_depth error=%v", err)
				return nil
			}
			obs.Observe(n)
			return nil
		}),
	)
	return err
}
