package scenario

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// ErrInvalid is returned when a catalog fails validation.
var ErrInvalid = errors.New("invalid scenario catalog")

//go:embed builtin.yaml
var builtinYAML []byte

type catalogFile struct {
	Default   string      `yaml:"default"`
	Scenarios []*Scenario `yaml:"scenarios"`
}

// Catalog is an immutable set of scenarios with a default.
type Catalog struct {
	defaultID string
	byID      map[string]*Scenario
}

// Parse decodes and validates a YAML catalog.
func Parse(data []byte) (*Catalog, error) {
	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}
	if len(file.Scenarios) == 0 {
		return nil, fmt.Errorf("%w: no scenarios", ErrInvalid)
	}

	c := &Catalog{byID: make(map[string]*Scenario, len(file.Scenarios))}
	for _, s := range file.Scenarios {
		if s == nil {
			continue
		}
		s.applyDefaults()
		if err := s.validate(); err != nil {
			return nil, err
		}
		if _, dup := c.byID[s.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate scenario id %q", ErrInvalid, s.ID)
		}
		c.byID[s.ID] = s
	}

	c.defaultID = file.Default
	if c.defaultID == "" {
		c.defaultID = file.Scenarios[0].ID
	}
	if _, ok := c.byID[c.defaultID]; !ok {
		return nil, fmt.Errorf("%w: default scenario %q not defined", ErrInvalid, c.defaultID)
	}
	return c, nil
}

// Load reads a catalog from path, or the built-in catalog when path is empty.
func Load(path string) (*Catalog, error) {
	if path == "" {
		return Builtin(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog %s: %w", path, err)
	}
	return Parse(data)
}

// Builtin returns the catalog compiled into the binary.
func Builtin() *Catalog {
	c, err := Parse(builtinYAML)
	if err != nil {
		panic("scenario: built-in catalog is invalid: " + err.Error())
	}
	return c
}

// Lookup returns the scenario for id, or the default scenario when id is
// empty or unknown.
func (c *Catalog) Lookup(id string) *Scenario {
	if s, ok := c.byID[id]; ok {
		return s
	}
	return c.byID[c.defaultID]
}

// Has reports whether id names a scenario in the catalog.
func (c *Catalog) Has(id string) bool {
	_, ok := c.byID[id]
	return ok
}

// Default returns the default scenario.
func (c *Catalog) Default() *Scenario {
	return c.byID[c.defaultID]
}

// IDs returns the scenario ids in sorted order.
func (c *Catalog) IDs() []string {
	ids := make([]string, 0, len(c.byID))
	for id := range c.byID {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
