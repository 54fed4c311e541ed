package minter

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Variant is one design that can be minted
type Variant struct {
	ID       string            `yaml:"id" json:"id"`
	Name     string            `yaml:"name" json:"name"`
	Image    string            `yaml:"image" json:"image"`
	Metadata map[string]string `yaml:"metadata,omitempty" json:"metadata,omitempty"`
}

// Catalog is the fixed set of variants to choose from
type Catalog struct {
	Variants []Variant `yaml:"variants"`
}

// LoadCatalog reads a YAML catalog file
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	return ParseCatalog(data)
}

// ParseCatalog parses and validates a YAML catalog
func ParseCatalog(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}

	if len(c.Variants) == 0 {
		return nil, errors.New("catalog has no variants")
	}

	ids := make(map[string]bool, len(c.Variants))
	for i, v := range c.Variants {
		if v.ID == "" {
			return nil, fmt.Errorf("catalog variant %d has no id", i)
		}
		if ids[v.ID] {
			return nil, fmt.Errorf("duplicate catalog variant %q", v.ID)
		}
		ids[v.ID] = true
	}

	return &c, nil
}

// Len returns the number of variants
func (c *Catalog) Len() int {
	return len(c.Variants)
}

// At returns the i-th variant
func (c *Catalog) At(i int) Variant {
	return c.Variants[i]
}

// Find returns the variant with the given id
func (c *Catalog) Find(id string) (Variant, bool) {
	for _, v := range c.Variants {
		if v.ID == id {
			return v, true
		}
	}
	return Variant{}, false
}
