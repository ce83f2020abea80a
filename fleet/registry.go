package fleet

import (
	"fmt"
	"strings"
)

// AssetSpec is the provisioning input for one asset
type AssetSpec struct {
	Name       string
	Attributes map[string]string
}

// Registry is the read-only fleet catalog. It is built once and passed explicitly to
// the generator, the store and the query engine.
type Registry struct {
	model  *AssetModel
	assets []Asset
	byName map[string]int
}

// NewRegistry provisions the fleet. Asset names must be unique, non-empty and free of '/'
// so that no two assets can produce the same address. No two (asset, property) pairs may
// join to the same "{asset}-{externalId}" prefix, which keeps batch entry ids unique.
func NewRegistry(model *AssetModel, specs ...AssetSpec) (*Registry, error) {
	if model == nil {
		return nil, fmt.Errorf("asset model is required")
	}

	reg := &Registry{
		model:  model,
		assets: make([]Asset, 0, len(specs)),
		byName: make(map[string]int, len(specs)),
	}
	entryPrefixes := make(map[string]string)

	for _, spec := range specs {
		if spec.Name == "" {
			return nil, fmt.Errorf("asset name cannot be empty")
		}
		if strings.Contains(spec.Name, "/") {
			return nil, fmt.Errorf("asset name %q cannot contain '/'", spec.Name)
		}
		if _, exists := reg.byName[spec.Name]; exists {
			return nil, fmt.Errorf("duplicate asset name %q", spec.Name)
		}

		var attrs map[string]string
		for key, value := range spec.Attributes {
			prop, ok := model.Property(key)
			if !ok || prop.Kind != Attribute {
				return nil, fmt.Errorf("asset %s overrides %q which is not an attribute of model %s", spec.Name, key, model.Name())
			}
			if attrs == nil {
				attrs = make(map[string]string, len(spec.Attributes))
			}
			attrs[key] = value
		}

		for _, prop := range model.Properties() {
			address := Address(spec.Name, prop.ExternalID)
			prefix := spec.Name + "-" + prop.ExternalID
			if other, dup := entryPrefixes[prefix]; dup {
				return nil, fmt.Errorf("addresses %s and %s share the entry id prefix %q", other, address, prefix)
			}
			entryPrefixes[prefix] = address
		}

		reg.byName[spec.Name] = len(reg.assets)
		reg.assets = append(reg.assets, Asset{
			ID:         AssetID(spec.Name),
			Name:       spec.Name,
			Model:      model,
			Attributes: attrs,
		})
	}

	return reg, nil
}

// NewRegistryFromNames provisions assets without attribute overrides
func NewRegistryFromNames(model *AssetModel, names ...string) (*Registry, error) {
	specs := make([]AssetSpec, 0, len(names))
	for _, name := range names {
		specs = append(specs, AssetSpec{Name: name})
	}
	return NewRegistry(model, specs...)
}

func (r *Registry) Model() *AssetModel {
	return r.model
}

// Assets returns the fleet in provisioning order
func (r *Registry) Assets() []Asset {
	out := make([]Asset, len(r.assets))
	copy(out, r.assets)
	return out
}

// Asset looks up an asset by name
func (r *Registry) Asset(name string) (Asset, bool) {
	i, ok := r.byName[name]
	if !ok {
		return Asset{}, false
	}
	return r.assets[i], true
}

func (r *Registry) Len() int {
	return len(r.assets)
}

// Resolve maps an address to its asset and property definition
func (r *Registry) Resolve(address string) (Asset, PropertyDefinition, error) {
	assetName, externalID, err := ParseAddress(address)
	if err != nil {
		return Asset{}, PropertyDefinition{}, err
	}
	asset, ok := r.Asset(assetName)
	if !ok {
		return Asset{}, PropertyDefinition{}, fmt.Errorf("unknown asset %q", assetName)
	}
	prop, ok := r.model.Property(externalID)
	if !ok {
		return Asset{}, PropertyDefinition{}, fmt.Errorf("asset %s has no property %q", assetName, externalID)
	}
	return asset, prop, nil
}

// Addresses lists every (asset, property) address of the fleet
func (r *Registry) Addresses() []string {
	props := r.model.Properties()
	out := make([]string, 0, len(r.assets)*len(props))
	for _, asset := range r.assets {
		for _, prop := range props {
			out = append(out, asset.Address(prop.ExternalID))
		}
	}
	return out
}
