// Package config provides configuration management for the Clafer CLI.
//
// Values are merged from defaults, an optional .clafer.yaml file, CLAFER_
// environment variables and explicitly set command-line flags, in increasing
// order of precedence.
package config

import "time"

// Config holds all CLI configuration options.
type Config struct {
	CompilerPath string        `koanf:"compiler_path"`
	CompilerArgs []string      `koanf:"compiler_args"`
	Timeout      time.Duration `koanf:"timeout"`
	LanguageID   string        `koanf:"language_id"`
	Extensions   []string      `koanf:"extensions"`
	LogLevel     string        `koanf:"log_level"`
	OutputFormat string        `koanf:"output"`
	Jobs         int           `koanf:"jobs"`
	NotifyClean  bool          `koanf:"notify_clean"`

	// ConfigFile is the file the values were read from, if any.
	ConfigFile string `koanf:"-"`
}

// Default configuration values.
const (
	DefaultCompilerPath = "clafer"
	DefaultTimeout      = time.Minute
	DefaultLanguageID   = "clafer"
	DefaultExtension    = ".cfr"
	DefaultLogLevel     = "info"
	DefaultOutput       = "auto" // Auto-detect: TTY=text, non-TTY=markdown
	DefaultJobs         = 4
)

// Default returns the configuration used when nothing overrides it.
func Default() *Config {
	return &Config{
		CompilerPath: DefaultCompilerPath,
		CompilerArgs: []string{},
		Timeout:      DefaultTimeout,
		LanguageID:   DefaultLanguageID,
		Extensions:   []string{DefaultExtension},
		LogLevel:     DefaultLogLevel,
		OutputFormat: DefaultOutput,
		Jobs:         DefaultJobs,
		NotifyClean:  true,
	}
}
