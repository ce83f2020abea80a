package fleet

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// assetNamespace seeds the name-based asset IDs so that the same turbine name always maps to the same ID.
var assetNamespace = uuid.MustParse("6f0c1c6e-52d5-4f0a-9d57-3d1a4c2b8e11")

// Asset is a modelled turbine
type Asset struct {
	ID    string
	Name  string
	Model *AssetModel
	// Attributes overrides the fleet-wide attribute constants for this asset
	Attributes map[string]string
}

// Address returns the property address of this asset
func (a Asset) Address(externalID string) string {
	return Address(a.Name, externalID)
}

// AssetID derives the stable asset ID from its name
func AssetID(name string) string {
	return uuid.NewSHA1(assetNamespace, []byte(name)).String()
}

// Address derives the join key `/{assetName}/{externalId}`
func Address(assetName, externalID string) string {
	return "/" + assetName + "/" + externalID
}

// ParseAddress splits an address back into asset name and external id
func ParseAddress(address string) (assetName, externalID string, err error) {
	if !strings.HasPrefix(address, "/") {
		return "", "", fmt.Errorf("address %q must start with '/'", address)
	}
	parts := strings.Split(address[1:], "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("address %q is not of the form /{asset}/{property}", address)
	}
	return parts[0], parts[1], nil
}
