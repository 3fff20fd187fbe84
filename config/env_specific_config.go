package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// ConfigFileEnv names an explicit YAML config file. Without it the loader
// looks for config/config.<environment>.yaml.
const ConfigFileEnv = "CONFIG_FILE"

// configFilePath returns the YAML file to layer under the environment, or ""
// when there is none. An explicit CONFIG_FILE must exist.
func configFilePath(environment string) (string, error) {
	if explicit := os.Getenv(ConfigFileEnv); explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("configuration file not found: %s", explicit)
		}
		return explicit, nil
	}
	if environment == "" {
		environment = string(EnvDevelopment)
	}

	configDir := "config"
	if os.Getenv("CONTAINER") == "true" {
		configDir = "/app/config"
	}
	path := filepath.Join(configDir, fmt.Sprintf("config.%s.yaml", environment))
	if _, err := os.Stat(path); err != nil {
		return "", nil
	}
	return path, nil
}

// mergeConfigFile reads a YAML file keyed by the yaml tags of Config into v.
// Environment variables still take precedence over file values.
func mergeConfigFile(v *viper.Viper, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	var values map[string]interface{}
	if err := yaml.Unmarshal(data, &values); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	if err := v.MergeConfigMap(values); err != nil {
		return fmt.Errorf("failed to merge config file %s: %w", path, err)
	}
	return nil
}
