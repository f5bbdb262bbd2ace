package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	json5 "github.com/yosuke-furukawa/json5/encoding/json5"
	"gopkg.in/yaml.v3"
)

// loadFile decodes the config file at path into cfg. The format is chosen
// by extension: .json/.json5 are parsed as JSON5, everything else as YAML.
// Environment references in the file ($VAR or ${VAR}) are expanded before
// parsing.
func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	expanded := os.ExpandEnv(string(data))

	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".json5":
		if err := json5.Unmarshal([]byte(expanded), cfg); err != nil {
			return fmt.Errorf("failed to parse config: %w", err)
		}
	default:
		if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
			return fmt.Errorf("failed to parse config: %w", err)
		}
	}
	return nil
}
