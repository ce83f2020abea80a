package ingest

import (
	"context"
	"errors"

	"github.com/jonboulle/clockwork"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/eddielth/turbine-fleet/fleet"
	"github.com/eddielth/turbine-fleet/generator"
	"github.com/eddielth/turbine-fleet/logger"
	"github.com/eddielth/turbine-fleet/metrics"
)

// Generator produces the sample set of one cycle and checks samples against their
// declared range or type
type Generator interface {
	Generate(ctx context.Context) (generator.Cycle, error)
	Validate(s generator.Sample) error
}

// Transformer rewrites generated values before they are written
type Transformer interface {
	Transform(assetName, externalID string, value fleet.Value, timestamp int64) (fleet.Value, error)
}

// Option customizes a Runner
type Option func(*Runner)

func WithTransformer(t Transformer) Option {
	return func(r *Runner) {
		r.transformer = t
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Runner) {
		r.metrics = m
	}
}

func WithTracer(tracer trace.Tracer) Option {
	return func(r *Runner) {
		r.tracer = tracer
	}
}

// WithClock sets the clock used to time cycles
func WithClock(clock clockwork.Clock) Option {
	return func(r *Runner) {
		r.clock = clock
	}
}

// Runner executes one ingestion cycle per call: generate, transform, batch write.
// Cycles keep no state between calls, so overlapping calls are safe.
type Runner struct {
	generator   Generator
	batcher     *Batcher
	transformer Transformer
	metrics     *metrics.Metrics
	tracer      trace.Tracer
	clock       clockwork.Clock
}

func NewRunner(gen Generator, store Writer, opts ...Option) *Runner {
	r := &Runner{
		generator: gen,
		batcher:   NewBatcher(store),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	if r.tracer == nil {
		r.tracer = otel.Tracer("github.com/eddielth/turbine-fleet/ingest")
	}
	if r.clock == nil {
		r.clock = clockwork.NewRealClock()
	}
	return r
}

// RunCycle runs the full cycle. A *PartialWriteError comes with a report of a successful
// cycle; a *generator.GenerationError or *FullWriteError means nothing usable was written.
func (r *Runner) RunCycle(ctx context.Context) (Report, error) {
	ctx, span := r.tracer.Start(ctx, "ingest.cycle")
	defer span.End()

	start := r.clock.Now()

	cycle, err := r.generator.Generate(ctx)
	if err == nil {
		err = r.transform(&cycle)
	}
	if err == nil {
		err = r.validate(cycle)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		r.metrics.ObserveCycle(metrics.CycleGenerationFailed, r.clock.Since(start), 0, 0, 0)
		logger.Error("ingestion cycle aborted: %v", err)
		return Report{}, err
	}

	span.SetAttributes(
		attribute.Int64("cycle.timestamp", cycle.Timestamp),
		attribute.Int("cycle.entries", len(cycle.Samples)),
	)

	report, err := r.batcher.Write(ctx, cycle)
	elapsed := r.clock.Since(start)
	span.SetAttributes(
		attribute.Int("cycle.succeeded", report.Succeeded),
		attribute.Int("cycle.failed", len(report.Failed)),
	)

	var partial *PartialWriteError
	switch {
	case err == nil:
		r.metrics.ObserveCycle(metrics.CycleOK, elapsed, report.Succeeded, 0, cycle.Timestamp)
		logger.Info("ingestion cycle %d wrote %d entries in %s", cycle.Timestamp, report.Succeeded, elapsed)
	case errors.As(err, &partial):
		r.metrics.ObserveCycle(metrics.CyclePartial, elapsed, report.Succeeded, len(report.Failed), cycle.Timestamp)
		logger.Warn("ingestion cycle %d wrote %d of %d entries in %s", cycle.Timestamp, report.Succeeded, report.Total, elapsed)
	default:
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		r.metrics.ObserveCycle(metrics.CycleFailed, elapsed, 0, report.Total, cycle.Timestamp)
		logger.Error("ingestion cycle %d failed: %v", cycle.Timestamp, err)
	}
	return report, err
}

// transform applies the configured scripts; a script failure aborts the cycle so that
// no property is skipped
func (r *Runner) transform(cycle *generator.Cycle) error {
	if r.transformer == nil {
		return nil
	}
	for i := range cycle.Samples {
		s := &cycle.Samples[i]
		v, err := r.transformer.Transform(s.AssetName, s.Property.ExternalID, s.Value, s.Timestamp)
		if err != nil {
			return &generator.GenerationError{Address: s.Address, Cause: err}
		}
		s.Value = v
	}
	return nil
}

// validate rejects the whole cycle when any sample left its declared range or type
func (r *Runner) validate(cycle generator.Cycle) error {
	for _, s := range cycle.Samples {
		if err := r.generator.Validate(s); err != nil {
			return err
		}
	}
	return nil
}
