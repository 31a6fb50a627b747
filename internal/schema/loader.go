package schema

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// CurrentSchemaVersion is the latest schema file format version.
const CurrentSchemaVersion = 1

// File is the on-disk layout of a schema file.
type File struct {
	Version int       `yaml:"version,omitempty"`
	Schemas []*Schema `yaml:"schemas"`
}

// Load loads schemas from a YAML file, or from every *.yaml/*.yml file in a
// directory. The result is validated and enriched with localized SCD properties.
func Load(path string) (Lookup, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read schema path %s: %w", path, err)
	}

	var files []string
	if info.IsDir() {
		entries, err := os.ReadDir(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read schema directory %s: %w", path, err)
		}
		for _, e := range entries {
			ext := strings.ToLower(filepath.Ext(e.Name()))
			if !e.IsDir() && (ext == ".yaml" || ext == ".yml") {
				files = append(files, filepath.Join(path, e.Name()))
			}
		}
		sort.Strings(files)
	} else {
		files = []string{path}
	}

	var schemas []*Schema
	for _, f := range files {
		loaded, err := loadFile(f)
		if err != nil {
			return nil, err
		}
		schemas = append(schemas, loaded...)
	}

	return Build(schemas)
}

// Parse builds a lookup from YAML content.
func Parse(data []byte) (Lookup, error) {
	var file File
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse schema: %w", err)
	}
	return Build(file.Schemas)
}

// Build applies defaults, validates, and enriches a set of schemas.
func Build(schemas []*Schema) (Lookup, error) {
	seen := make(map[string]bool, len(schemas))
	for _, s := range schemas {
		if s == nil {
			continue
		}
		if seen[s.ID] {
			return nil, fmt.Errorf("duplicate schema id %q", s.ID)
		}
		seen[s.ID] = true
		if s.Kind == "" {
			s.Kind = KindEvent
		}
		if s.Name == "" {
			s.Name = s.ID
		}
	}

	l := NewLookup(nonNil(schemas)...)
	if issues := l.Validate(); len(issues) > 0 {
		return nil, &InvalidError{Issues: issues}
	}
	l.EnrichRelatedSCDProps()
	return l, nil
}

func loadFile(path string) ([]*Schema, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read schema file %s: %w", path, err)
	}

	var file File
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse schema file %s: %w", path, err)
	}
	if len(file.Schemas) > 0 {
		return file.Schemas, nil
	}

	// A file may also hold a single bare schema document.
	var single Schema
	if err := yaml.Unmarshal(data, &single); err != nil {
		return nil, fmt.Errorf("failed to parse schema file %s: %w", path, err)
	}
	if single.ID == "" {
		return nil, nil
	}
	return []*Schema{&single}, nil
}

func nonNil(schemas []*Schema) []*Schema {
	out := schemas[:0:0]
	for _, s := range schemas {
		if s != nil {
			out = append(out, s)
		}
	}
	return out
}
