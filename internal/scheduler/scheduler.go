// Package scheduler drives a fleet through simulated time and collects the
// records it emits.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sort"
	"time"

	"github.com/tracksynth/tracksynth/internal/encode"
	"github.com/tracksynth/tracksynth/internal/fleet"
	"github.com/tracksynth/tracksynth/internal/motion"
	"github.com/tracksynth/tracksynth/pkg/core"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	DefaultJitterFraction = 0.10
	DefaultStep           = 10 * time.Millisecond
	DefaultProgressEvery  = 100_000

	// timestampJitter bounds the per-record timing error of duration runs.
	timestampJitter = time.Millisecond
	// cancelCheckEvery is how many quota events pass between context checks.
	cancelCheckEvery = 1024
)

// Sink receives records as soon as they are produced.
type Sink interface {
	Send(ctx context.Context, v any) error
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithLogger sets the logger used for progress and failures.
func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) { s.logger = l }
}

// WithSink streams every record to sink in production order.
func WithSink(sink Sink) Option {
	return func(s *Scheduler) { s.sink = sink }
}

// WithJitter sets the fraction of the interval each reschedule may deviate by.
func WithJitter(fraction float64) Option {
	return func(s *Scheduler) { s.jitter = fraction }
}

// WithStep sets the cursor resolution of duration-bound runs.
func WithStep(step time.Duration) Option {
	return func(s *Scheduler) { s.step = step }
}

// WithStart sets the wall clock time simulated offset zero maps to.
func WithStart(t time.Time) Option {
	return func(s *Scheduler) { s.start = t.UTC() }
}

// WithProgressEvery sets how many records pass between progress logs.
func WithProgressEvery(n int) Option {
	return func(s *Scheduler) { s.progressEvery = n }
}

// Scheduler owns a fleet for the duration of one run. It is not safe for
// concurrent use.
type Scheduler struct {
	fleet  *fleet.Fleet
	rng    *rand.Rand
	sink   Sink
	logger *slog.Logger

	start         time.Time
	jitter        float64
	step          time.Duration
	progressEvery int

	inst     *instruments
	failures int
}

// New creates a scheduler over f. rng drives every random draw so a seeded
// rng gives a reproducible run.
func New(f *fleet.Fleet, rng *rand.Rand, opts ...Option) (*Scheduler, error) {
	s := &Scheduler{
		fleet:         f,
		rng:           rng,
		logger:        slog.Default(),
		start:         time.Now().UTC(),
		jitter:        DefaultJitterFraction,
		step:          DefaultStep,
		progressEvery: DefaultProgressEvery,
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.jitter < 0 || s.jitter >= 1 {
		return nil, fmt.Errorf("jitter fraction must be in [0,1), got %v", s.jitter)
	}
	if s.step <= 0 {
		return nil, fmt.Errorf("step must be positive, got %v", s.step)
	}

	inst, err := newInstruments()
	if err != nil {
		return nil, err
	}
	s.inst = inst
	return s, nil
}

// Failures returns how many records of the last run carry the error marker.
func (s *Scheduler) Failures() int {
	return s.failures
}

// nextInterval draws interval × (1 ± jitter).
func (s *Scheduler) nextInterval(interval time.Duration) time.Duration {
	f := 1 + (s.rng.Float64()*2-1)*s.jitter
	return time.Duration(float64(interval) * f)
}

// emit advances e by its nominal interval, encodes it at ts and hands the
// record to the sink.
func (s *Scheduler) emit(ctx context.Context, e *core.Entity, ts time.Time) core.Record {
	motion.Step(e, e.Interval, s.rng)

	rec, err := encode.Encode(e, ts, s.rng)
	attrs := metric.WithAttributes(attribute.String("class", string(e.Class)))
	s.inst.generated.Add(ctx, 1, attrs)
	if err != nil {
		s.failures++
		s.inst.failures.Add(ctx, 1, attrs)
		s.logger.Warn("Encoding failed", "class", e.Class, "id", e.ID, "error", err)
	}

	if s.sink != nil {
		if err := s.sink.Send(ctx, rec); err != nil {
			s.inst.sinkErrs.Add(ctx, 1, attrs)
			s.logger.Warn("Sink rejected record", "class", e.Class, "id", e.ID, "error", err)
		}
	}
	return rec
}

// RunDuration walks a simulated cursor from zero to d in fixed steps and
// emits every entity whose next emission has come due. The result is sorted
// by timestamp. If ctx is cancelled the records produced so far are
// returned, sorted, together with the context error.
func (s *Scheduler) RunDuration(ctx context.Context, d time.Duration) ([]core.Record, error) {
	s.failures = 0
	if d <= 0 {
		return []core.Record{}, nil
	}

	entities := s.fleet.Entities()
	records := make([]core.Record, 0, estimate(entities, d))

	s.logger.Info("Starting duration run", "entities", len(entities), "duration", d, "step", s.step)

	var runErr error
	for cursor := time.Duration(0); cursor < d; cursor += s.step {
		if err := ctx.Err(); err != nil {
			runErr = err
			break
		}
		for _, e := range entities {
			if cursor < e.NextEmission {
				continue
			}
			jitter := time.Duration((s.rng.Float64()*2 - 1) * float64(timestampJitter))
			ts := s.start.Add(e.NextEmission + jitter)

			records = append(records, s.emit(ctx, e, ts))
			e.NextEmission += s.nextInterval(e.Interval)

			s.progress(len(records), 0)
		}
	}

	sortRecords(records)
	s.logger.Info("Duration run finished", "records", len(records), "failures", s.failures, "interrupted", runErr != nil)
	return records, runErr
}

// RunQuota pops entities in due-time order until every class present in the
// fleet emitted exactly perClass records. An entity whose class already met
// its quota is put back at its next time without emitting. If ctx is
// cancelled the records produced so far are returned with the context error.
func (s *Scheduler) RunQuota(ctx context.Context, perClass int) ([]core.Record, error) {
	s.failures = 0
	if perClass <= 0 {
		return []core.Record{}, nil
	}

	q := newQuota(perClass, s.fleet.CountByClass())
	target := perClass * len(q.present)
	records := make([]core.Record, 0, target)

	events := make(eventQueue, 0, s.fleet.Len())
	for i, e := range s.fleet.Entities() {
		events.push(event{due: e.NextEmission, index: i})
	}

	s.logger.Info("Starting quota run", "entities", s.fleet.Len(), "perClass", perClass, "target", target)
	for _, c := range core.Classes() {
		if !s.fleet.Has(c) {
			s.logger.Warn("Class has no entities, quota counts as met", "class", c)
		}
	}

	var runErr error
	for iter := 0; !q.allMet(); iter++ {
		if iter%cancelCheckEvery == 0 {
			if err := ctx.Err(); err != nil {
				runErr = err
				break
			}
		}

		ev := events.pop()
		e := s.fleet.At(ev.index)
		next := ev.due + s.nextInterval(e.Interval)

		if !q.met(e.Class) {
			records = append(records, s.emit(ctx, e, s.start.Add(ev.due)))
			q.add(e.Class)
			s.progress(len(records), target)
		}

		e.NextEmission = next
		events.push(event{due: next, index: ev.index})
	}

	s.logger.Info("Quota run finished", "records", q.total(), "counts", q.snapshot(),
		"failures", s.failures, "interrupted", runErr != nil)
	return records, runErr
}

func (s *Scheduler) progress(n, target int) {
	if s.progressEvery <= 0 || n%s.progressEvery != 0 {
		return
	}
	if target > 0 {
		s.logger.Info("Generation progress", "generated", n, "target", target)
		return
	}
	s.logger.Info("Generation progress", "generated", n)
}

// estimate sizes the output buffer of a duration run.
func estimate(entities []*core.Entity, d time.Duration) int {
	var n int
	for _, e := range entities {
		if e.Interval > 0 {
			n += int(d/e.Interval) + 1
		}
	}
	return n
}

func sortRecords(records []core.Record) {
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].Time.Before(records[j].Time)
	})
}

// IsInterrupted reports whether err only signals a cancelled run, in which
// case the returned records are complete up to the interruption.
func IsInterrupted(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
