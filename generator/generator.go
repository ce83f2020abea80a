// Package generator produces one synthetic sample per property per asset for every ingestion cycle.
package generator

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/eddielth/turbine-fleet/fleet"
	"github.com/eddielth/turbine-fleet/validator"
)

// Rand is the random source used for measurements. Float64 must return values in [0, 1).
type Rand interface {
	Float64() float64
}

// Sample is one generated property value
type Sample struct {
	AssetName string
	Property  fleet.PropertyDefinition
	Address   string
	Value     fleet.Value
	Timestamp int64
}

// Cycle is the full sample set of one ingestion cycle, sharing one timestamp
type Cycle struct {
	Timestamp int64
	Samples   []Sample
}

// Option customizes a Generator
type Option func(*Generator)

// WithRand injects the random source
func WithRand(r Rand) Option {
	return func(g *Generator) {
		g.rand = r
	}
}

// WithSeed uses a PCG source seeded with seed, making generation reproducible
func WithSeed(seed uint64) Option {
	return func(g *Generator) {
		g.rand = rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	}
}

// WithClock injects the clock used for cycle timestamps
func WithClock(clock clockwork.Clock) Option {
	return func(g *Generator) {
		g.clock = clock
	}
}

// Generator is pure apart from randomness and clock reads; it never mutates the registry.
type Generator struct {
	registry   *fleet.Registry
	ranges     map[string]Range
	attributes map[string]string
	validators map[string]validator.Validator
	clock      clockwork.Clock

	// guards rand, cycles may overlap
	mu   sync.Mutex
	rand Rand
}

// New checks that every property of the model can be produced: each measurement needs a
// range and each attribute a fleet-wide value.
func New(registry *fleet.Registry, ranges map[string]Range, attributes map[string]string, opts ...Option) (*Generator, error) {
	if registry == nil {
		return nil, fmt.Errorf("registry is required")
	}

	g := &Generator{
		registry:   registry,
		ranges:     make(map[string]Range, len(ranges)),
		attributes: make(map[string]string, len(attributes)),
		validators: make(map[string]validator.Validator),
	}

	model := registry.Model()
	for externalID, r := range ranges {
		prop, ok := model.Property(externalID)
		if !ok || prop.Kind != fleet.Measurement {
			return nil, fmt.Errorf("range given for %q which is not a measurement of model %s", externalID, model.Name())
		}
		if err := r.validate(); err != nil {
			return nil, fmt.Errorf("range for %s: %w", externalID, err)
		}
		g.ranges[externalID] = r
	}
	for externalID, value := range attributes {
		prop, ok := model.Property(externalID)
		if !ok || prop.Kind != fleet.Attribute {
			return nil, fmt.Errorf("attribute value given for %q which is not an attribute of model %s", externalID, model.Name())
		}
		g.attributes[externalID] = value
	}

	for _, prop := range model.Properties() {
		switch prop.Kind {
		case fleet.Measurement:
			r, ok := g.ranges[prop.ExternalID]
			if !ok {
				return nil, fmt.Errorf("measurement %s has no value range", prop.ExternalID)
			}
			if prop.DataType != fleet.Double {
				return nil, fmt.Errorf("measurement %s must be DOUBLE to be generated", prop.ExternalID)
			}
			g.validators[prop.ExternalID] = &validator.RangeValidator{Property: prop.ExternalID, Min: r.Min, Max: r.Max}
		case fleet.Attribute:
			if _, ok := g.attributes[prop.ExternalID]; !ok {
				return nil, fmt.Errorf("attribute %s has no fleet value", prop.ExternalID)
			}
			if prop.DataType != fleet.String {
				return nil, fmt.Errorf("attribute %s must be STRING to be generated", prop.ExternalID)
			}
			g.validators[prop.ExternalID] = &validator.TypeValidator{Property: prop}
		}
	}

	for _, opt := range opts {
		if opt != nil {
			opt(g)
		}
	}
	if g.clock == nil {
		g.clock = clockwork.NewRealClock()
	}
	if g.rand == nil {
		seed := uint64(time.Now().UnixNano())
		g.rand = rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	}

	return g, nil
}

// Generate draws one cycle. Every sample shares the cycle timestamp in whole seconds.
func (g *Generator) Generate(ctx context.Context) (cycle Cycle, err error) {
	if err := ctx.Err(); err != nil {
		return Cycle{}, &GenerationError{Cause: err}
	}

	now := g.clock.Now()
	ts := now.Unix()
	if now.IsZero() || ts <= 0 {
		return Cycle{}, &GenerationError{Cause: fmt.Errorf("%w: %v", ErrClock, now)}
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			cycle = Cycle{}
			err = &GenerationError{Cause: fmt.Errorf("%w: %v", ErrRandom, r)}
		}
	}()

	assets := g.registry.Assets()
	props := g.registry.Model().Properties()
	cycle = Cycle{
		Timestamp: ts,
		Samples:   make([]Sample, 0, len(assets)*len(props)),
	}

	for _, asset := range assets {
		for _, prop := range props {
			address := asset.Address(prop.ExternalID)

			var value fleet.Value
			if prop.Kind == fleet.Attribute {
				value = fleet.StringValue(g.attributeValue(asset, prop.ExternalID))
			} else {
				v, err := g.draw(g.ranges[prop.ExternalID])
				if err != nil {
					return Cycle{}, &GenerationError{Address: address, Cause: err}
				}
				value = fleet.DoubleValue(v)
			}

			cycle.Samples = append(cycle.Samples, Sample{
				AssetName: asset.Name,
				Property:  prop,
				Address:   address,
				Value:     value,
				Timestamp: ts,
			})
		}
	}

	return cycle, nil
}

// Validate checks a sample against the declared range or data type of its property.
// The ingestion runner calls it after transformation.
func (g *Generator) Validate(s Sample) error {
	v, ok := g.validators[s.Property.ExternalID]
	if !ok {
		return &GenerationError{Address: s.Address, Cause: fmt.Errorf("property %s is not part of model %s", s.Property.ExternalID, g.registry.Model().Name())}
	}
	if err := v.Validate(s.Value); err != nil {
		return &GenerationError{Address: s.Address, Cause: err}
	}
	return nil
}

func (g *Generator) attributeValue(asset fleet.Asset, externalID string) string {
	if v, ok := asset.Attributes[externalID]; ok {
		return v
	}
	return g.attributes[externalID]
}

func (g *Generator) draw(r Range) (float64, error) {
	f := g.rand.Float64()
	if math.IsNaN(f) || f < 0 || f >= 1 {
		return 0, fmt.Errorf("%w: %v", ErrRandom, f)
	}
	v := r.Min + f*(r.Max-r.Min)
	// rounding of Max-Min can push v past Max
	if v > r.Max {
		v = r.Max
	}
	return v, nil
}
