package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// LoadYAML loads configuration from a YAML file. Duration fields accept
// Go duration strings such as "10s".
func LoadYAML(path string, target interface{}) error {
	// #nosec G304 -- path comes from the operator's own config setting
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read YAML file %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, target); err != nil {
		return fmt.Errorf("failed to unmarshal YAML %s: %w", path, err)
	}

	return nil
}
