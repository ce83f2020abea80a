package fleet

import "fmt"

// External IDs of the wind turbine model
const (
	PropMake          = "make"
	PropLocation      = "location"
	PropTorque        = "torque"
	PropWindDirection = "wind_direction"
	PropRPM           = "rpm"
	PropWindSpeed     = "wind_speed"
)

// WindTurbineModelName is the name of the reference asset model
const WindTurbineModelName = "WindTurbine"

// WindTurbineProperties is the reference property schema
func WindTurbineProperties() []PropertyDefinition {
	return []PropertyDefinition{
		{Name: "Make", ExternalID: PropMake, DataType: String, Kind: Attribute},
		{Name: "Location", ExternalID: PropLocation, DataType: String, Kind: Attribute},
		{Name: "Torque_KiloNewton_Meter", ExternalID: PropTorque, DataType: Double, Kind: Measurement},
		{Name: "Wind_Direction", ExternalID: PropWindDirection, DataType: Double, Kind: Measurement},
		{Name: "RotationsPerMinute", ExternalID: PropRPM, DataType: Double, Kind: Measurement},
		{Name: "Wind_Speed", ExternalID: PropWindSpeed, DataType: Double, Kind: Measurement},
	}
}

// WindTurbineModel builds the reference model
func WindTurbineModel() *AssetModel {
	model, err := NewAssetModel(WindTurbineModelName, WindTurbineProperties()...)
	if err != nil {
		panic(fmt.Sprintf("invalid built-in wind turbine model: %v", err))
	}
	return model
}

// TurbineNames returns Turbine-001 .. Turbine-{n}
func TurbineNames(n int) []string {
	names := make([]string, 0, n)
	for i := 1; i <= n; i++ {
		names = append(names, fmt.Sprintf("Turbine-%03d", i))
	}
	return names
}
