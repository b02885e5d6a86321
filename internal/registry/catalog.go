package registry

import (
	_ "embed"
	"fmt"
	"sync"

	"gopkg.in/yaml.v3"

	"streamd/pkg/types"
)

//go:embed catalog.yaml
var catalogYAML []byte

type catalogFile struct {
	Models []types.Model `yaml:"models"`
}

var (
	catalogOnce sync.Once
	catalog     []types.Model
	catalogErr  error
)

// ParseCatalog decodes a catalog document.
func ParseCatalog(b []byte) ([]types.Model, error) {
	var f catalogFile
	if err := yaml.Unmarshal(b, &f); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	seen := make(map[string]bool, len(f.Models))
	for i, m := range f.Models {
		if m.ID == "" {
			return nil, fmt.Errorf("catalog entry %d: missing id", i)
		}
		if seen[m.ID] {
			return nil, fmt.Errorf("catalog entry %d: duplicate id %q", i, m.ID)
		}
		seen[m.ID] = true
		if m.Name == "" {
			f.Models[i].Name = m.ID
		}
	}
	return f.Models, nil
}

// Catalog returns a copy of the built-in model catalog.
func Catalog() []types.Model {
	catalogOnce.Do(func() { catalog, catalogErr = ParseCatalog(catalogYAML) })
	if catalogErr != nil {
		panic(catalogErr)
	}
	out := make([]types.Model, len(catalog))
	copy(out, catalog)
	return out
}

// Lookup finds id in the built-in catalog.
func Lookup(id string) (types.Model, bool) {
	for _, m := range Catalog() {
		if m.ID == id {
			return m, true
		}
	}
	return types.Model{}, false
}
