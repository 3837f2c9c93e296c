package scheduler

import (
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/tracksynth/tracksynth/internal/scheduler"

type instruments struct {
	generated metric.Int64Counter
	failures  metric.Int64Counter
	sinkErrs  metric.Int64Counter
}

// newInstruments uses the global meter provider (no-op if not configured).
func newInstruments() (*instruments, error) {
	m := otel.Meter(instrumentationName)

	generated, err := m.Int64Counter(
		"scheduler.records.generated",
		metric.WithDescription("Records produced by the scheduler"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating generated counter: %w", err)
	}

	failures, err := m.Int64Counter(
		"scheduler.encode.failures",
		metric.WithDescription("Records that carry the encoding error marker"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating failure counter: %w", err)
	}

	sinkErrs, err := m.Int64Counter(
		"scheduler.sink.errors",
		metric.WithDescription("Records the sink refused"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating sink error counter: %w", err)
	}

	return &instruments{generated: generated, failures: failures, sinkErrs: sinkErrs}, nil
}
