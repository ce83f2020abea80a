package validator

import (
	"errors"
	"fmt"
	"math"
	"reflect"
	"strings"

	playground "github.com/go-playground/validator/v10"
	"go.uber.org/multierr"

	"github.com/eddielth/turbine-fleet/fleet"
)

// Validator checks a single property value
type Validator interface {
	Validate(value fleet.Value) error
}

// RangeValidator checks that a DOUBLE value lies in the closed interval [Min, Max]
type RangeValidator struct {
	Property string
	Min      float64
	Max      float64
}

// Validate reports values outside the interval, NaN, and non-double values
func (rv *RangeValidator) Validate(value fleet.Value) error {
	if value.Type != fleet.Double {
		return fmt.Errorf("property %s expects a DOUBLE value, got %s", rv.Property, value.Type)
	}
	if math.IsNaN(value.Double) || value.Double < rv.Min || value.Double > rv.Max {
		return fmt.Errorf("property %s value %f is not in range [%f, %f]", rv.Property, value.Double, rv.Min, rv.Max)
	}
	return nil
}

// TypeValidator checks that a value has the data type declared by the property
type TypeValidator struct {
	Property fleet.PropertyDefinition
}

func (tv *TypeValidator) Validate(value fleet.Value) error {
	if value.Type != tv.Property.DataType {
		return fmt.Errorf("property %s expects a %s value, got %s", tv.Property.ExternalID, tv.Property.DataType, value.Type)
	}
	return nil
}

var structValidator = newStructValidator()

func newStructValidator() *playground.Validate {
	v := playground.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		// Use the config key in error messages
		name := strings.SplitN(fld.Tag.Get("mapstructure"), ",", 2)[0]
		if name == "" || name == "-" {
			return fld.Name
		}
		return name
	})
	return v
}

// Struct validates the `validate` tags of a configuration struct
func Struct(value interface{}) error {
	err := structValidator.Struct(value)
	if err == nil {
		return nil
	}

	var validationErrs playground.ValidationErrors
	if !errors.As(err, &validationErrs) {
		return err
	}

	var result error
	for _, e := range validationErrs {
		result = multierr.Append(result, fmt.Errorf(
			"key=%q, value=\"%v\", failed %q validation",
			e.Namespace(),
			e.Value(),
			e.ActualTag(),
		))
	}
	return result
}
