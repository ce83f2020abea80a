package query

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"

	"github.com/eddielth/turbine-fleet/fleet"
)

// FilterSpec is the structured input of a threshold query
type FilterSpec struct {
	Make                   string  `json:"make" mapstructure:"make"`
	Location               string  `json:"location" mapstructure:"location"`
	RPMThreshold           float64 `json:"rpm_threshold" mapstructure:"rpm_threshold"`
	TorqueThreshold        float64 `json:"torque_threshold" mapstructure:"torque_threshold"`
	WindSpeedThreshold     float64 `json:"wind_speed_threshold" mapstructure:"wind_speed_threshold"`
	WindDirectionThreshold float64 `json:"wind_direction_threshold" mapstructure:"wind_direction_threshold"`
}

// DefaultFilterSpec returns the reference defaults
func DefaultFilterSpec() FilterSpec {
	return FilterSpec{
		Make:                   "Amazon",
		Location:               "Renton",
		RPMThreshold:           25,
		TorqueThreshold:        300,
		WindSpeedThreshold:     15,
		WindDirectionThreshold: 100,
	}
}

// ParseFilterSpec decodes a JSON object on top of defaults; absent fields keep their default
func ParseFilterSpec(data []byte, defaults FilterSpec) (FilterSpec, error) {
	spec := defaults
	if len(bytes.TrimSpace(data)) == 0 {
		return spec, nil
	}
	if err := json.Unmarshal(data, &spec); err != nil {
		return FilterSpec{}, fmt.Errorf("%w: %v", ErrInvalidFilter, err)
	}
	return spec, spec.Validate()
}

// Validate rejects non-finite thresholds
func (f FilterSpec) Validate() error {
	thresholds := map[string]float64{
		"rpm_threshold":            f.RPMThreshold,
		"torque_threshold":         f.TorqueThreshold,
		"wind_speed_threshold":     f.WindSpeedThreshold,
		"wind_direction_threshold": f.WindDirectionThreshold,
	}
	for name, v := range thresholds {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: %s must be finite, got %v", ErrInvalidFilter, name, v)
		}
	}
	return nil
}

// Expr builds the predicate
//
//	make = Make AND location = Location AND (
//	    rpm > RPMThreshold OR torque > TorqueThreshold OR
//	    (wind_speed > WindSpeedThreshold AND wind_direction > WindDirectionThreshold))
//
// The make filter is matched against the make property and the location filter against location.
func (f FilterSpec) Expr() Expr {
	return And{
		Equals{Property: fleet.PropMake, Value: f.Make},
		Equals{Property: fleet.PropLocation, Value: f.Location},
		Or{
			GreaterThan{Property: fleet.PropRPM, Threshold: f.RPMThreshold},
			GreaterThan{Property: fleet.PropTorque, Threshold: f.TorqueThreshold},
			And{
				GreaterThan{Property: fleet.PropWindSpeed, Threshold: f.WindSpeedThreshold},
				GreaterThan{Property: fleet.PropWindDirection, Threshold: f.WindDirectionThreshold},
			},
		},
	}
}
