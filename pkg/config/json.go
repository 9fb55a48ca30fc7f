package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
)

// LoadJSON loads configuration from a JSON file. Duration fields are
// integer nanoseconds in JSON.
func LoadJSON(path string, target interface{}) error {
	// #nosec G304 -- path comes from the operator's own config setting
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read JSON file %s: %w", path, err)
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(target); err != nil {
		return fmt.Errorf("failed to unmarshal JSON %s: %w", path, err)
	}

	return nil
}
