// Package replay re-emits a recorded sequence with its original pacing.
//
// The first recorded timestamp is pinned to the wall clock once, when the
// run starts. Every later item is due at that anchor plus its recorded offset
// (divided by the speed factor), so slow sends never accumulate drift and
// late items go out immediately without a catch-up burst.
package replay

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/tracksynth/tracksynth/internal/timeutil"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

const instrumentationName = "github.com/tracksynth/tracksynth/internal/replay"

// DefaultProgressEvery is how many sent records pass between progress logs.
const DefaultProgressEvery = 1000

// Sink receives the cleaned records.
type Sink interface {
	Send(ctx context.Context, v any) error
}

// Summary describes a finished (or interrupted) replay.
type Summary struct {
	Total       int
	Sent        int
	Failed      int
	Elapsed     time.Duration
	Interrupted bool

	// Lateness is how long after its due time each item was handed to the sink.
	MeanLateness time.Duration
	StdLateness  time.Duration
	MaxLateness  time.Duration
}

// Option configures a Replayer.
type Option func(*Replayer)

// WithClock replaces the wall clock, mainly for tests.
func WithClock(c timeutil.Clock) Option {
	return func(r *Replayer) { r.clock = c }
}

// WithSpeed plays the sequence speed times faster than recorded.
func WithSpeed(speed float64) Option {
	return func(r *Replayer) { r.speed = speed }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Replayer) { r.logger = l }
}

// WithProgressEvery sets how often progress is logged; zero disables it.
func WithProgressEvery(n int) Option {
	return func(r *Replayer) { r.progressEvery = n }
}

// Replayer sends prepared items to a sink at their recorded pace.
type Replayer struct {
	sink          Sink
	clock         timeutil.Clock
	speed         float64
	logger        *slog.Logger
	progressEvery int

	sent     metric.Int64Counter
	failed   metric.Int64Counter
	lateness metric.Float64Histogram
}

// New creates a Replayer writing to sink.
func New(sink Sink, opts ...Option) (*Replayer, error) {
	r := &Replayer{
		sink:          sink,
		clock:         timeutil.RealClock{},
		speed:         1,
		logger:        slog.Default(),
		progressEvery: DefaultProgressEvery,
	}
	for _, opt := range opts {
		opt(r)
	}
	if sink == nil {
		return nil, fmt.Errorf("replay sink is required")
	}
	if r.speed <= 0 {
		return nil, fmt.Errorf("replay speed must be positive, got %v", r.speed)
	}

	m := otel.Meter(instrumentationName)
	var err error
	if r.sent, err = m.Int64Counter("replay.records.sent",
		metric.WithDescription("Records handed to the sink")); err != nil {
		return nil, fmt.Errorf("creating sent counter: %w", err)
	}
	if r.failed, err = m.Int64Counter("replay.records.failed",
		metric.WithDescription("Records the sink refused")); err != nil {
		return nil, fmt.Errorf("creating failed counter: %w", err)
	}
	if r.lateness, err = m.Float64Histogram("replay.lateness",
		metric.WithDescription("Delay between due time and send"),
		metric.WithUnit("ms")); err != nil {
		return nil, fmt.Errorf("creating lateness histogram: %w", err)
	}
	return r, nil
}

// offset maps a recorded offset onto the wall clock.
func (r *Replayer) offset(recorded time.Duration) time.Duration {
	if r.speed == 1 {
		return recorded
	}
	return time.Duration(float64(recorded) / r.speed)
}

// waitUntil blocks until target or until ctx is done.
func (r *Replayer) waitUntil(ctx context.Context, target time.Time) error {
	d := r.clock.Until(target)
	if d <= 0 {
		return ctx.Err()
	}
	timer := r.clock.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C():
		return nil
	}
}

// Run replays items, which must already be in recorded order (see Prepare).
// It returns early with the context error if ctx is cancelled; no item is
// ever half sent.
func (r *Replayer) Run(ctx context.Context, items []Item) (Summary, error) {
	summary := Summary{Total: len(items)}
	if len(items) == 0 {
		r.logger.Info("Nothing to replay")
		return summary, nil
	}

	anchorRecorded := items[0].Recorded
	anchorWall := r.clock.Now()
	late := make([]float64, 0, len(items))

	r.logger.Info("Starting replay", "records", len(items), "speed", r.speed,
		"span", items[len(items)-1].Recorded.Sub(anchorRecorded))

	var runErr error
	for _, it := range items {
		target := anchorWall.Add(r.offset(it.Recorded.Sub(anchorRecorded)))
		if err := r.waitUntil(ctx, target); err != nil {
			runErr = err
			break
		}

		now := r.clock.Now()
		lateness := now.Sub(target)
		late = append(late, float64(lateness))
		r.lateness.Record(ctx, float64(lateness)/float64(time.Millisecond))

		if err := r.sink.Send(ctx, Clean(it.Data, now)); err != nil {
			summary.Failed++
			r.failed.Add(ctx, 1)
			r.logger.Warn("Failed to send record", "error", err)
		} else {
			summary.Sent++
			r.sent.Add(ctx, 1)
		}

		if done := summary.Sent + summary.Failed; r.progressEvery > 0 && done%r.progressEvery == 0 {
			r.logger.Info("Replay progress", "sent", summary.Sent, "failed", summary.Failed, "total", summary.Total)
		}
	}

	summary.Elapsed = r.clock.Now().Sub(anchorWall)
	summary.Interrupted = runErr != nil
	if len(late) > 0 {
		mean, std := stat.MeanStdDev(late, nil)
		summary.MeanLateness = time.Duration(mean)
		if len(late) > 1 {
			summary.StdLateness = time.Duration(std)
		}
		summary.MaxLateness = time.Duration(floats.Max(late))
	}

	r.logger.Info("Replay finished", "sent", summary.Sent, "failed", summary.Failed,
		"elapsed", summary.Elapsed, "maxLateness", summary.MaxLateness, "interrupted", summary.Interrupted)
	return summary, runErr
}
