package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"happa/pkg/logging"
)

const (
	userConfigDir  = ".config/happa"
	configFileName = "config.yaml"
)

func GetDefaultConfigPathOrPanic() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		panic(fmt.Errorf("could not determine user config directory: %w", err))
	}

	return filepath.Join(homeDir, userConfigDir)
}

// LoadConfig loads config.yaml from configPath, overlaid on the defaults.
func LoadConfig(configPath string) (HappaConfig, error) {
	configFilePath := filepath.Join(configPath, configFileName)
	config := GetDefaultConfig()

	data, err := os.ReadFile(configFilePath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			logging.Debug("ConfigLoader", "No config.yaml found at %s, using defaults", configFilePath)
			return config, config.Validate(configFilePath)
		}
		return HappaConfig{}, &ConfigurationError{
			FilePath:  configFilePath,
			ErrorType: "io",
			Message:   err.Error(),
			Err:       err,
		}
	}

	if err := yaml.Unmarshal(data, &config); err != nil {
		return HappaConfig{}, &ConfigurationError{
			FilePath:    configFilePath,
			ErrorType:   "parse",
			Message:     err.Error(),
			Suggestions: []string{"Durations are written like 60s or 2m", "Check indentation of the mapi and legacy sections"},
			Err:         err,
		}
	}

	if err := config.Validate(configFilePath); err != nil {
		return HappaConfig{}, err
	}

	logging.Debug("ConfigLoader", "Loaded configuration from %s", configFilePath)
	return config, nil
}

// Save writes the configuration to configPath/config.yaml.
func Save(configPath string, config HappaConfig) error {
	if err := os.MkdirAll(configPath, 0o700); err != nil {
		return err
	}
	data, err := yaml.Marshal(&config)
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(configPath, configFileName), data, 0o600)
}
