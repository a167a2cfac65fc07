package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// ErrInvalidConfig is wrapped by every validation failure.
var ErrInvalidConfig = errors.New("invalid configuration")

// validOutputs are the accepted values of the output key.
var validOutputs = []string{"auto", "text", "markdown", "json"}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.CompilerPath) == "" {
		return fmt.Errorf("%w: compiler_path is required", ErrInvalidConfig)
	}
	if c.Timeout < 0 {
		return fmt.Errorf("%w: timeout must not be negative, got %s", ErrInvalidConfig, c.Timeout)
	}
	if c.Jobs < 1 {
		return fmt.Errorf("%w: jobs must be at least 1, got %d", ErrInvalidConfig, c.Jobs)
	}
	if strings.TrimSpace(c.LanguageID) == "" {
		return fmt.Errorf("%w: language_id is required", ErrInvalidConfig)
	}
	if !isValidOutput(c.OutputFormat) {
		return fmt.Errorf("%w: output must be one of %s, got %q",
			ErrInvalidConfig, strings.Join(validOutputs, "|"), c.OutputFormat)
	}
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}

func isValidOutput(s string) bool {
	if s == "" {
		return true
	}
	for _, v := range validOutputs {
		if strings.EqualFold(s, v) {
			return true
		}
	}
	return false
}

// ParseLogLevel parses debug, info, warn or error. Empty means info.
func ParseLogLevel(s string) (slog.Level, error) {
	if strings.TrimSpace(s) == "" {
		return slog.LevelInfo, nil
	}
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return 0, fmt.Errorf("%w: log_level %q: %w", ErrInvalidConfig, s, err)
	}
	return lvl, nil
}
