package validator

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"

	"github.com/eddielth/turbine-fleet/fleet"
)

func TestRangeValidatorClosedInterval(t *testing.T) {
	rv := &RangeValidator{Property: "rpm", Min: 10, Max: 50}

	assert.NoError(t, rv.Validate(fleet.DoubleValue(10)))
	assert.NoError(t, rv.Validate(fleet.DoubleValue(50)))
	assert.NoError(t, rv.Validate(fleet.DoubleValue(27.3)))

	assert.Error(t, rv.Validate(fleet.DoubleValue(9.999)))
	assert.Error(t, rv.Validate(fleet.DoubleValue(50.001)))
	assert.Error(t, rv.Validate(fleet.DoubleValue(math.NaN())))
	assert.Error(t, rv.Validate(fleet.StringValue("10")))
}

func TestTypeValidator(t *testing.T) {
	tv := &TypeValidator{Property: fleet.PropertyDefinition{ExternalID: "make", DataType: fleet.String}}

	assert.NoError(t, tv.Validate(fleet.StringValue("Amazon")))
	assert.Error(t, tv.Validate(fleet.DoubleValue(1)))
}

type sampleConfig struct {
	Broker   string `mapstructure:"broker" validate:"required"`
	Interval int    `mapstructure:"interval" validate:"gt=0"`
}

func TestStructReportsConfigKeys(t *testing.T) {
	require.NoError(t, Struct(sampleConfig{Broker: "tcp://localhost:1883", Interval: 1}))

	err := Struct(sampleConfig{})
	require.Error(t, err)
	assert.Len(t, multierr.Errors(err), 2)
	assert.Contains(t, err.Error(), `"sampleConfig.broker"`)
	assert.Contains(t, err.Error(), `"sampleConfig.interval"`)
}
