package fleet

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddressIsPure(t *testing.T) {
	first := Address("Turbine-001", PropRPM)
	second := Address("Turbine-001", PropRPM)

	assert.Equal(t, "/Turbine-001/rpm", first)
	assert.Equal(t, first, second)

	asset, prop, err := ParseAddress(first)
	require.NoError(t, err)
	assert.Equal(t, "Turbine-001", asset)
	assert.Equal(t, PropRPM, prop)
}

func TestParseAddressRejectsMalformed(t *testing.T) {
	for _, address := range []string{"", "Turbine-001/rpm", "/Turbine-001", "/Turbine-001/", "//rpm", "/a/b/c"} {
		_, _, err := ParseAddress(address)
		assert.Error(t, err, address)
	}
}

func TestNewAssetModelValidation(t *testing.T) {
	_, err := NewAssetModel("m",
		PropertyDefinition{ExternalID: "a", DataType: Double, Kind: Measurement},
		PropertyDefinition{ExternalID: "a", DataType: Double, Kind: Measurement},
	)
	require.Error(t, err)

	_, err = NewAssetModel("m", PropertyDefinition{ExternalID: "a/b", DataType: Double, Kind: Measurement})
	require.Error(t, err)

	_, err = NewAssetModel("m", PropertyDefinition{ExternalID: "a", DataType: "INTEGER", Kind: Measurement})
	require.Error(t, err)

	model := WindTurbineModel()
	assert.Len(t, model.Properties(), 6)
	assert.Len(t, model.Attributes(), 2)
	assert.Len(t, model.Measurements(), 4)

	prop, ok := model.Property(PropTorque)
	require.True(t, ok)
	assert.Equal(t, "Torque_KiloNewton_Meter", prop.Name)
}

func TestRegistryAddressesAreUnique(t *testing.T) {
	reg, err := NewRegistryFromNames(WindTurbineModel(), TurbineNames(4)...)
	require.NoError(t, err)

	addresses := reg.Addresses()
	assert.Len(t, addresses, 24)

	seen := make(map[string]bool, len(addresses))
	for _, address := range addresses {
		assert.False(t, seen[address], "duplicate address %s", address)
		seen[address] = true
	}
}

func TestRegistryRejectsCollidingNames(t *testing.T) {
	model := WindTurbineModel()

	_, err := NewRegistryFromNames(model, "Turbine-001", "Turbine-001")
	require.Error(t, err)

	_, err = NewRegistryFromNames(model, "Turbine/001")
	require.Error(t, err)

	_, err = NewRegistryFromNames(model, "")
	require.Error(t, err)

	_, err = NewRegistry(model, AssetSpec{Name: "Turbine-001", Attributes: map[string]string{PropRPM: "1"}})
	require.Error(t, err)
}

func TestRegistryRejectsCollidingEntryIDs(t *testing.T) {
	model, err := NewAssetModel("m",
		PropertyDefinition{ExternalID: "b-c", DataType: Double, Kind: Measurement},
		PropertyDefinition{ExternalID: "c", DataType: Double, Kind: Measurement},
	)
	require.NoError(t, err)

	// A + b-c and A-b + c both start their entry ids with "A-b-c"
	_, err = NewRegistryFromNames(model, "A", "A-b")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "/A/b-c")
	assert.Contains(t, err.Error(), "/A-b/c")

	_, err = NewRegistryFromNames(model, "A", "B-b")
	assert.NoError(t, err)

	_, err = NewRegistryFromNames(WindTurbineModel(), TurbineNames(20)...)
	assert.NoError(t, err)
}

func TestRegistryResolve(t *testing.T) {
	reg, err := NewRegistry(WindTurbineModel(),
		AssetSpec{Name: "Turbine-001"},
		AssetSpec{Name: "Turbine-002", Attributes: map[string]string{PropLocation: "Elsewhere"}},
	)
	require.NoError(t, err)

	asset, prop, err := reg.Resolve("/Turbine-002/location")
	require.NoError(t, err)
	assert.Equal(t, "Turbine-002", asset.Name)
	assert.Equal(t, "Elsewhere", asset.Attributes[PropLocation])
	assert.Equal(t, String, prop.DataType)
	assert.Equal(t, AssetID("Turbine-002"), asset.ID)

	_, _, err = reg.Resolve("/Turbine-009/rpm")
	require.Error(t, err)
	_, _, err = reg.Resolve("/Turbine-001/pitch")
	require.Error(t, err)
}

func TestValueJSON(t *testing.T) {
	data, err := json.Marshal(DoubleValue(12.5))
	require.NoError(t, err)
	assert.JSONEq(t, `{"doubleValue": 12.5}`, string(data))

	var v Value
	require.NoError(t, json.Unmarshal([]byte(`{"stringValue":"Amazon"}`), &v))
	assert.Equal(t, StringValue("Amazon"), v)

	require.Error(t, json.Unmarshal([]byte(`{}`), &v))
}
