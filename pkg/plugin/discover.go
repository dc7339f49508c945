package plugin

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"
)

// manifest is the on-disk shape of a plugin descriptor: everything
// Descriptor carries, plus the factory key that resolves it to a
// constructor registered with the host.
type manifest struct {
	ID           string   `yaml:"id"`
	Name         string   `yaml:"name"`
	Version      string   `yaml:"version"`
	Category     string   `yaml:"category"`
	Dependencies []string `yaml:"dependencies"`
	Capabilities []string `yaml:"capabilities"`
	SemanticTags []string `yaml:"semanticTags"`
	Factory      string   `yaml:"factory"`
}

// Discover reads every *.yaml/*.yml manifest under dir and returns the
// descriptors they declare, sorted by id for a deterministic discovery
// order before topoSort reorders them by dependency (spec §4.2:
// "discover plugin packages at a known directory").
func Discover(dir string) ([]Descriptor, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("plugin: reading manifest directory: %w", err)
	}

	var descriptors []Descriptor
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := filepath.Ext(entry.Name())
		if ext != ".yaml" && ext != ".yml" {
			continue
		}

		path := filepath.Join(dir, entry.Name())
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("plugin: reading manifest %s: %w", path, err)
		}

		var m manifest
		if err := yaml.Unmarshal(raw, &m); err != nil {
			return nil, fmt.Errorf("plugin: parsing manifest %s: %w", path, err)
		}

		descriptors = append(descriptors, Descriptor{
			ID:           m.ID,
			Name:         m.Name,
			Version:      m.Version,
			Category:     Category(m.Category),
			Dependencies: m.Dependencies,
			Capabilities: m.Capabilities,
			SemanticTags: m.SemanticTags,
			factory:      m.Factory,
		})
	}

	sort.Slice(descriptors, func(i, j int) bool { return descriptors[i].ID < descriptors[j].ID })
	return descriptors, nil
}
