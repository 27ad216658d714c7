// Package merge folds provider payloads into flat output records. The field
// mapping is configuration data, not code: provider responses drifted between
// API generations (first_name vs a combined name, size vs employees_count),
// so every column lists candidate key paths and the first non-empty one wins.
package merge

import (
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"lead-enricher/internal/enrich"
)

// SplitRule derives a column from part of a whitespace-separated value, used
// for payloads that carry a combined name instead of first/last fields.
type SplitRule struct {
	Paths []string `yaml:"paths"`
	// Part is "first" (first token) or "last" (everything after it).
	Part string `yaml:"part"`
}

// Field maps one output column to key paths within one endpoint's payload.
// Paths are dot paths into the primary response object.
type Field struct {
	Column   string     `yaml:"column"`
	Endpoint string     `yaml:"endpoint"`
	Paths    []string   `yaml:"paths"`
	Split    *SplitRule `yaml:"split,omitempty"`
}

// ExtrasRule preserves unmapped top-level payload fields of one endpoint
// under a column prefix.
type ExtrasRule struct {
	Endpoint string `yaml:"endpoint"`
	Prefix   string `yaml:"prefix"`
}

// Mapping is the full field-mapping table.
type Mapping struct {
	Fields []Field      `yaml:"fields"`
	Extras []ExtrasRule `yaml:"extras"`
}

// Columns returns the declared output columns in mapping order.
func (m Mapping) Columns() []string {
	cols := make([]string, 0, len(m.Fields))
	for _, f := range m.Fields {
		cols = append(cols, f.Column)
	}
	return cols
}

// Validate rejects mappings that would produce ambiguous output.
func (m Mapping) Validate() error {
	if len(m.Fields) == 0 {
		return fmt.Errorf("mapping declares no fields")
	}
	seen := make(map[string]bool, len(m.Fields))
	for _, f := range m.Fields {
		col := strings.TrimSpace(f.Column)
		if col == "" {
			return fmt.Errorf("mapping field with empty column name")
		}
		if seen[col] {
			return fmt.Errorf("duplicate mapping column %q", col)
		}
		seen[col] = true
		if strings.TrimSpace(f.Endpoint) == "" {
			return fmt.Errorf("column %q: endpoint is required", col)
		}
		if len(f.Paths) == 0 && f.Split == nil {
			return fmt.Errorf("column %q: needs paths or a split rule", col)
		}
		if f.Split != nil {
			if f.Split.Part != "first" && f.Split.Part != "last" {
				return fmt.Errorf("column %q: split part must be first or last, got %q", col, f.Split.Part)
			}
			if len(f.Split.Paths) == 0 {
				return fmt.Errorf("column %q: split rule needs paths", col)
			}
		}
	}
	return nil
}

// consumedRoots returns the top-level payload keys a mapping claims for an
// endpoint. Anything else surfaces through the extras rule.
func (m Mapping) consumedRoots(endpoint enrich.Endpoint) map[string]bool {
	roots := make(map[string]bool)
	add := func(path string) {
		if root, _, _ := strings.Cut(path, "."); root != "" {
			roots[root] = true
		}
	}
	for _, f := range m.Fields {
		if f.Endpoint != string(endpoint) {
			continue
		}
		for _, p := range f.Paths {
			add(p)
		}
		if f.Split != nil {
			for _, p := range f.Split.Paths {
				add(p)
			}
		}
	}
	return roots
}

func (m Mapping) extrasRule(endpoint enrich.Endpoint) (ExtrasRule, bool) {
	for _, r := range m.Extras {
		if r.Endpoint == string(endpoint) {
			return r, true
		}
	}
	return ExtrasRule{}, false
}

// ReadMapping parses a mapping table.
func ReadMapping(r io.Reader) (Mapping, error) {
	var m Mapping
	dec := yaml.NewDecoder(r)
	if err := dec.Decode(&m); err != nil {
		return Mapping{}, fmt.Errorf("parse mapping: %w", err)
	}
	if err := m.Validate(); err != nil {
		return Mapping{}, err
	}
	return m, nil
}

// LoadMappingFile reads a mapping table from disk.
func LoadMappingFile(path string) (Mapping, error) {
	f, err := os.Open(path)
	if err != nil {
		return Mapping{}, fmt.Errorf("open mapping file: %w", err)
	}
	defer func() {
		_ = f.Close()
	}()
	return ReadMapping(f)
}

const defaultMappingYAML = `
fields:
  - column: first_name
    endpoint: person
    paths: [first_name]
    split: {paths: [name, full_name], part: first}
  - column: last_name
    endpoint: person
    paths: [last_name]
    split: {paths: [name, full_name], part: last}
  - column: headline
    endpoint: person
    paths: [headline]
  - column: location_city
    endpoint: person
    paths: [location.city, location_city]
  - column: location_country
    endpoint: person
    paths: [location.country, location_country]
  - column: company_name
    endpoint: company
    paths: [name, company_name]
  - column: company_website
    endpoint: company
    paths: [website]
  - column: company_industry
    endpoint: company
    paths: [industry]
  - column: company_size
    endpoint: company
    paths: [size, employees_count]
extras:
  - endpoint: person
    prefix: ""
  - endpoint: company
    prefix: "company_"
`

// DefaultMapping returns the built-in field-mapping table.
func DefaultMapping() Mapping {
	m, err := ReadMapping(strings.NewReader(defaultMappingYAML))
	if err != nil {
		panic(fmt.Sprintf("built-in mapping is invalid: %v", err))
	}
	return m
}
