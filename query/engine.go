// Package query evaluates threshold filters against the latest value of every asset property.
package query

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/eddielth/turbine-fleet/logger"
	"github.com/eddielth/turbine-fleet/metrics"
)

// AssetRef identifies a matched asset
type AssetRef struct {
	AssetID   string `json:"asset_id"`
	AssetName string `json:"asset_name"`
}

// Backend selects the assets whose latest values satisfy expr.
// Implementations read at most the latest value per (asset, property).
type Backend interface {
	Select(ctx context.Context, expr Expr) ([]AssetRef, error)
}

// Option customizes an Engine
type Option func(*Engine)

// WithMetrics records query outcomes
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

// WithTracer overrides the global tracer
func WithTracer(tracer trace.Tracer) Option {
	return func(e *Engine) {
		e.tracer = tracer
	}
}

// Engine is read-only; concurrent queries need no coordination and are never retried.
type Engine struct {
	backend Backend
	metrics *metrics.Metrics
	tracer  trace.Tracer
}

func NewEngine(backend Backend, opts ...Option) *Engine {
	e := &Engine{backend: backend}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	if e.tracer == nil {
		e.tracer = otel.Tracer("github.com/eddielth/turbine-fleet/query")
	}
	return e
}

// Query evaluates a FilterSpec and returns the matched assets by name ascending
func (e *Engine) Query(ctx context.Context, spec FilterSpec) ([]AssetRef, error) {
	if err := spec.Validate(); err != nil {
		e.metrics.ObserveQuery(metrics.QueryError, 0, 0)
		return nil, &QueryError{Cause: err}
	}
	logger.Debug("executing threshold query make=%s location=%s rpm>%g torque>%g wind_speed>%g wind_direction>%g",
		spec.Make, spec.Location, spec.RPMThreshold, spec.TorqueThreshold, spec.WindSpeedThreshold, spec.WindDirectionThreshold)
	return e.Evaluate(ctx, spec.Expr())
}

// Evaluate runs an arbitrary predicate
func (e *Engine) Evaluate(ctx context.Context, expr Expr) ([]AssetRef, error) {
	ctx, span := e.tracer.Start(ctx, "query.evaluate", trace.WithAttributes(
		attribute.String("query.predicate", expr.String()),
	))
	defer span.End()

	start := time.Now()
	refs, err := e.evaluate(ctx, expr)
	elapsed := time.Since(start)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		e.metrics.ObserveQuery(metrics.QueryError, elapsed, 0)
		logger.Error("threshold query failed: %v", err)
		return nil, err
	}

	span.SetAttributes(attribute.Int("query.matched", len(refs)))
	e.metrics.ObserveQuery(metrics.QueryOK, elapsed, len(refs))
	logger.Debug("threshold query matched %d assets in %s", len(refs), elapsed)
	return refs, nil
}

func (e *Engine) evaluate(ctx context.Context, expr Expr) ([]AssetRef, error) {
	if e.backend == nil {
		return nil, &QueryError{Cause: fmt.Errorf("no latest-value store configured")}
	}
	refs, err := e.backend.Select(ctx, expr)
	if err != nil {
		return nil, &QueryError{Cause: err}
	}
	refs, err = normalize(refs)
	if err != nil {
		return nil, &QueryError{Cause: err}
	}
	return refs, nil
}

// normalize checks the result set and orders it by asset name
func normalize(refs []AssetRef) ([]AssetRef, error) {
	out := make([]AssetRef, len(refs))
	copy(out, refs)

	seen := make(map[string]struct{}, len(out))
	for _, ref := range out {
		if ref.AssetID == "" || ref.AssetName == "" {
			return nil, fmt.Errorf("%w: row with empty asset id or name", ErrMalformedResult)
		}
		if _, dup := seen[ref.AssetName]; dup {
			return nil, fmt.Errorf("%w: asset %s returned twice", ErrMalformedResult, ref.AssetName)
		}
		seen[ref.AssetName] = struct{}{}
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].AssetName < out[j].AssetName
	})
	return out, nil
}
