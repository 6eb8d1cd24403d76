// Package cmd holds the configuration loading and local-mode wiring shared by
// the service entrypoints.
package cmd

import (
	_ "embed" // Required for go:embed
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/tinywideclouds/go-vitals-service/vitalsservice/config"
	"gopkg.in/yaml.v3"
)

//go:embed config.yaml
var configFile []byte

// Load parses the embedded config.yaml and maps it to the base AppConfig
// (Stage 1). Environment overrides are applied separately.
func Load(logger zerolog.Logger) (*config.AppConfig, error) {
	return parse(configFile, logger)
}

// LoadFile is Load for a config file on disk.
func LoadFile(path string, logger zerolog.Logger) (*config.AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	return parse(data, logger)
}

func parse(data []byte, logger zerolog.Logger) (*config.AppConfig, error) {
	var yamlCfg config.YamlConfig
	if err := yaml.Unmarshal(data, &yamlCfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal yaml config: %w", err)
	}
	return config.NewConfigFromYaml(&yamlCfg, logger)
}
