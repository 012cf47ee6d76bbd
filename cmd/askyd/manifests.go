package main

import (
	"gopkg.in/yaml.v3"

	"github.com/evrenesat/asky/pkg/models"
)

// manifestFile is the on-disk shape of plugins.manifest_path: a list of
// plugin manifests under a single "plugins" key.
type manifestFile struct {
	Plugins []models.Manifest `yaml:"plugins"`
}

func decodeManifests(data []byte) ([]models.Manifest, error) {
	var f manifestFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, err
	}
	return f.Plugins, nil
}
