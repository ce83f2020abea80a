package fleet

import (
	"errors"
	"fmt"
	"strings"
)

// DataType is the wire type of a property value
type DataType string

const (
	// String properties carry a StringValue
	String DataType = "STRING"
	// Double properties carry a DoubleValue
	Double DataType = "DOUBLE"
)

// PropertyKind tells static attributes apart from time-varying measurements
type PropertyKind string

const (
	Attribute   PropertyKind = "Attribute"
	Measurement PropertyKind = "Measurement"
)

// PropertyDefinition describes one property of an asset model
type PropertyDefinition struct {
	Name       string       `json:"name"`
	ExternalID string       `json:"external_id"`
	DataType   DataType     `json:"data_type"`
	Kind       PropertyKind `json:"kind"`
}

// AssetModel is a named, immutable property schema shared by all assets of the fleet
type AssetModel struct {
	name       string
	properties []PropertyDefinition
	index      map[string]int
}

// NewAssetModel validates the property list and builds an immutable model.
// External IDs must be unique and must not contain '/', since they form the last address segment.
func NewAssetModel(name string, properties ...PropertyDefinition) (*AssetModel, error) {
	if name == "" {
		return nil, errors.New("asset model name cannot be empty")
	}
	if len(properties) == 0 {
		return nil, fmt.Errorf("asset model %s has no properties", name)
	}

	model := &AssetModel{
		name:       name,
		properties: make([]PropertyDefinition, 0, len(properties)),
		index:      make(map[string]int, len(properties)),
	}

	for _, prop := range properties {
		if prop.ExternalID == "" {
			return nil, fmt.Errorf("property %q of model %s has no external id", prop.Name, name)
		}
		if strings.Contains(prop.ExternalID, "/") {
			return nil, fmt.Errorf("property external id %q cannot contain '/'", prop.ExternalID)
		}
		if _, exists := model.index[prop.ExternalID]; exists {
			return nil, fmt.Errorf("duplicate property external id %q in model %s", prop.ExternalID, name)
		}
		switch prop.DataType {
		case String, Double:
		default:
			return nil, fmt.Errorf("property %s has unsupported data type %q", prop.ExternalID, prop.DataType)
		}
		switch prop.Kind {
		case Attribute, Measurement:
		default:
			return nil, fmt.Errorf("property %s has unsupported kind %q", prop.ExternalID, prop.Kind)
		}
		if prop.Name == "" {
			prop.Name = prop.ExternalID
		}

		model.index[prop.ExternalID] = len(model.properties)
		model.properties = append(model.properties, prop)
	}

	return model, nil
}

// Name returns the model name
func (m *AssetModel) Name() string {
	return m.name
}

// Properties returns the ordered property definitions
func (m *AssetModel) Properties() []PropertyDefinition {
	out := make([]PropertyDefinition, len(m.properties))
	copy(out, m.properties)
	return out
}

// Property looks up a definition by external id
func (m *AssetModel) Property(externalID string) (PropertyDefinition, bool) {
	i, ok := m.index[externalID]
	if !ok {
		return PropertyDefinition{}, false
	}
	return m.properties[i], true
}

// Attributes returns the attribute definitions in model order
func (m *AssetModel) Attributes() []PropertyDefinition {
	return m.filter(Attribute)
}

// Measurements returns the measurement definitions in model order
func (m *AssetModel) Measurements() []PropertyDefinition {
	return m.filter(Measurement)
}

func (m *AssetModel) filter(kind PropertyKind) []PropertyDefinition {
	var out []PropertyDefinition
	for _, prop := range m.properties {
		if prop.Kind == kind {
			out = append(out, prop)
		}
	}
	return out
}
