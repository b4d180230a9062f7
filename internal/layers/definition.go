// Package layers owns the overlay layer definitions of a map view and keeps
// the surface's rendering layers in step with their visibility flags.
package layers

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// QueryParams are the WMS parameters a layer is rendered and queried with.
type QueryParams struct {
	Layers      string `yaml:"layers" json:"layers"`
	Styles      string `yaml:"styles" json:"styles"`
	Format      string `yaml:"format" json:"format"`
	Transparent bool   `yaml:"transparent" json:"transparent"`
	Version     string `yaml:"version" json:"version"`
}

type Definition struct {
	ID      string      `yaml:"id" json:"id"`
	Name    string      `yaml:"name" json:"name"`
	Params  QueryParams `yaml:"params" json:"params"`
	Visible bool        `yaml:"visible" json:"visible"`
}

type file struct {
	Layers []Definition `yaml:"layers"`
}

// Defaults returns the overlays the geoportal ships with.
func Defaults() []Definition {
	mk := func(id, name string, visible bool) Definition {
		return Definition{
			ID:   id,
			Name: name,
			Params: QueryParams{
				Layers:      id,
				Format:      "image/png",
				Transparent: true,
				Version:     "1.3.0",
			},
			Visible: visible,
		}
	}
	return []Definition{
		mk("boundary", "Boundaries", true),
		mk("attraction", "Attractions", false),
		mk("museum", "Museums", false),
		mk("park", "Parks", false),
	}
}

// Load reads layer definitions from a YAML file.
func Load(path string) ([]Definition, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read layers file: %w", err)
	}
	defs, err := Parse(b)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return defs, nil
}

func Parse(b []byte) ([]Definition, error) {
	var f file
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("parse layers yaml: %w", err)
	}
	for i := range f.Layers {
		normalize(&f.Layers[i])
	}
	if err := Validate(f.Layers); err != nil {
		return nil, err
	}
	return f.Layers, nil
}

// Validate checks ids are present and unique.
func Validate(defs []Definition) error {
	if len(defs) == 0 {
		return fmt.Errorf("no layers configured")
	}
	seen := make(map[string]struct{}, len(defs))
	for i, d := range defs {
		if strings.TrimSpace(d.ID) == "" {
			return fmt.Errorf("layer %d: missing id", i)
		}
		if _, dup := seen[d.ID]; dup {
			return fmt.Errorf("layer %d: duplicate id %q", i, d.ID)
		}
		seen[d.ID] = struct{}{}
		if strings.TrimSpace(d.Params.Layers) == "" {
			return fmt.Errorf("layer %q: missing params.layers", d.ID)
		}
	}
	return nil
}

func normalize(d *Definition) {
	d.ID = strings.TrimSpace(d.ID)
	if d.Name == "" {
		d.Name = d.ID
	}
	if d.Params.Layers == "" {
		d.Params.Layers = d.ID
	}
	if d.Params.Format == "" {
		d.Params.Format = "image/png"
	}
	if d.Params.Version == "" {
		d.Params.Version = "1.3.0"
	}
}
