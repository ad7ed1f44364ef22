package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v2"
)

type Config struct {
	DataDir       string `yaml:"dataDir"`
	MinimumFreeGB int    `yaml:"minimumFreeGB"`
	LogLevel      string `yaml:"logLevel"`
}

// Load reads the YAML config file, falling back to defaults when the file
// or individual fields are absent.
func Load(path string) (Config, error) {
	config := Config{
		DataDir:       "./revgraph-data",
		MinimumFreeGB: 1,
		LogLevel:      "info",
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return config, nil
	}
	if err != nil {
		return config, fmt.Errorf("read config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &config); err != nil {
		return config, fmt.Errorf("parse config %s: %w", path, err)
	}

	if config.DataDir == "" {
		config.DataDir = "./revgraph-data"
	}
	if config.MinimumFreeGB == 0 {
		config.MinimumFreeGB = 1
	}
	if config.LogLevel == "" {
		config.LogLevel = "info"
	}

	return config, nil
}
