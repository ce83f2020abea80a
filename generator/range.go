package generator

import (
	"fmt"
	"math"

	"github.com/eddielth/turbine-fleet/fleet"
)

// Range is a closed interval [Min, Max] sampled uniformly
type Range struct {
	Min float64 `mapstructure:"min" json:"min"`
	Max float64 `mapstructure:"max" json:"max"`
}

func (r Range) validate() error {
	if math.IsNaN(r.Min) || math.IsNaN(r.Max) || math.IsInf(r.Min, 0) || math.IsInf(r.Max, 0) {
		return fmt.Errorf("range bounds must be finite, got [%v, %v]", r.Min, r.Max)
	}
	if r.Min > r.Max {
		return fmt.Errorf("range min %v is greater than max %v", r.Min, r.Max)
	}
	return nil
}

// Contains reports whether v lies in the closed interval
func (r Range) Contains(v float64) bool {
	return v >= r.Min && v <= r.Max
}

// DefaultRanges is the value-range table of the reference fleet
func DefaultRanges() map[string]Range {
	return map[string]Range{
		fleet.PropTorque:        {Min: 100, Max: 500}, // kN·m
		fleet.PropWindDirection: {Min: 0, Max: 360},   // degrees
		fleet.PropRPM:           {Min: 10, Max: 50},
		fleet.PropWindSpeed:     {Min: 5, Max: 25}, // m/s
	}
}

// DefaultAttributes are the attribute constants of the reference fleet
func DefaultAttributes() map[string]string {
	return map[string]string{
		fleet.PropMake:     "Amazon",
		fleet.PropLocation: "Renton",
	}
}
