// Package loader reads declarative graph definitions from YAML or JSON and
// compiles them through a handler registry.
package loader

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/aretw0/pergola/pkg/graph"
	"github.com/aretw0/pergola/pkg/registry"
	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"
)

// Load reads a definition file, choosing the format by extension.
func Load(path string) (*Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read graph definition: %w", err)
	}
	def, err := Parse(data, filepath.Ext(path))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return def, nil
}

// LoadPlan reads and compiles a definition file with its declared interrupt policy.
func LoadPlan(path string, reg *registry.Registry) (*graph.Plan, error) {
	def, err := Load(path)
	if err != nil {
		return nil, err
	}
	return def.Compile(reg)
}

// Parse decodes a definition. ext selects JSON for ".json"; anything else is YAML.
func Parse(data []byte, ext string) (*Definition, error) {
	var raw map[string]any
	if strings.EqualFold(ext, ".json") {
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("failed to parse json: %w", err)
		}
	} else {
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("failed to parse yaml: %w", err)
		}
	}
	if raw == nil {
		return nil, fmt.Errorf("empty graph definition")
	}
	return Decode(raw)
}

// Decode maps a generic document onto a Definition. Unknown keys are errors,
// so a misspelled "interupt" does not silently disable a pause.
func Decode(raw map[string]any) (*Definition, error) {
	var def Definition
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		ErrorUnused: true,
		Result:      &def,
	})
	if err != nil {
		return nil, err
	}
	if err := dec.Decode(raw); err != nil {
		return nil, fmt.Errorf("invalid graph definition: %w", err)
	}
	return &def, nil
}
