package config

import (
	"fmt"
	"strings"
)

// ConfigurationError describes a configuration file that could not be used.
type ConfigurationError struct {
	FilePath    string
	ErrorType   string // parse, validation, io
	Message     string
	Suggestions []string
	Err         error
}

// Error implements the error interface
func (ce *ConfigurationError) Error() string {
	return fmt.Sprintf("[%s] %s: %s", ce.ErrorType, ce.FilePath, ce.Message)
}

func (ce *ConfigurationError) Unwrap() error {
	return ce.Err
}

// DetailedError returns the message with suggestions, one per line.
func (ce *ConfigurationError) DetailedError() string {
	parts := []string{
		fmt.Sprintf("Configuration error in %s", ce.FilePath),
		fmt.Sprintf("  Type: %s", ce.ErrorType),
		fmt.Sprintf("  Error: %s", ce.Message),
	}
	if len(ce.Suggestions) > 0 {
		parts = append(parts, "  Suggestions:")
		for _, s := range ce.Suggestions {
			parts = append(parts, "    - "+s)
		}
	}
	return strings.Join(parts, "\n")
}
