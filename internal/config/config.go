// Package config loads the YAML configuration of the protobridge command.
//
// Configuration comes from a single file named by the --config flag or the
// PROTOBRIDGE_CONFIG environment variable. There is no automatic discovery;
// without either, Default is used as is.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"

	"github.com/anirudhraja/protobridge"
	"github.com/anirudhraja/protobridge/codec"
)

// EnvVar names the environment variable holding the config file path.
const EnvVar = "PROTOBRIDGE_CONFIG"

// Config is the command configuration.
type Config struct {
	// Schema says where message types come from.
	Schema SchemaConfig `yaml:"schema"`

	// Input configures JSON reading.
	Input InputConfig `yaml:"input"`

	// Output configures JSON writing.
	Output OutputConfig `yaml:"output"`

	// Codec configures limits and checks shared by the JSON and binary readers.
	Codec CodecConfig `yaml:"codec"`

	// Log configures the stderr logger.
	Log LogConfig `yaml:"log"`
}

// SchemaConfig lists the schema sources. Snapshot and Files may both be set;
// the snapshot is loaded first.
type SchemaConfig struct {
	// ProtoPaths are the directories searched for .proto files and imports.
	ProtoPaths []string `yaml:"proto_paths"`

	// Files are .proto files to load, relative to ProtoPaths.
	Files []string `yaml:"files"`

	// Snapshot is a compiled registry snapshot written by "protobridge snapshot".
	Snapshot string `yaml:"snapshot"`
}

// InputConfig configures JSON reading.
type InputConfig struct {
	// Mode is "located" or "streaming".
	// Default: located
	Mode string `yaml:"mode"`

	// Relaxed accepts comments and trailing commas.
	Relaxed bool `yaml:"relaxed"`
}

// OutputConfig configures JSON writing.
type OutputConfig struct {
	// Indent pretty-prints output with this string per level; empty is compact.
	Indent string `yaml:"indent"`
}

// CodecConfig mirrors codec.Options.
type CodecConfig struct {
	// MaxDepth bounds message nesting; negative disables the check.
	// Default: 100
	MaxDepth int `yaml:"max_depth"`

	// RequireInitialized rejects messages that lack a required field.
	RequireInitialized bool `yaml:"require_initialized"`
}

// LogConfig configures logging.
type LogConfig struct {
	// Level is one of debug, info, warn, error.
	// Default: info
	Level string `yaml:"level"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Schema: SchemaConfig{ProtoPaths: []string{"."}},
		Input:  InputConfig{Mode: string(protobridge.Located)},
		Codec:  CodecConfig{MaxDepth: codec.DefaultMaxDepth},
		Log:    LogConfig{Level: "info"},
	}
}

// Load loads the file named by PROTOBRIDGE_CONFIG, or returns Default when
// the variable is unset.
func Load() (*Config, error) {
	path := os.Getenv(EnvVar)
	if path == "" {
		return Default(), nil
	}
	return LoadFile(path)
}

// LoadFile loads configuration from path over Default and validates it.
// ${VAR} and ${VAR:-default} are expanded in path fields.
func LoadFile(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	cfg.expandVariables()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) expandVariables() {
	for i, p := range c.Schema.ProtoPaths {
		c.Schema.ProtoPaths[i] = expandVars(p)
	}
	for i, f := range c.Schema.Files {
		c.Schema.Files[i] = expandVars(f)
	}
	c.Schema.Snapshot = expandVars(c.Schema.Snapshot)
}

var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

func expandVars(s string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if value := os.Getenv(parts[1]); value != "" {
			return value
		}
		return parts[2]
	})
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	switch protobridge.InputMode(c.Input.Mode) {
	case protobridge.Located, protobridge.Streaming:
	default:
		errs = append(errs, fmt.Errorf("input.mode: unknown mode %q", c.Input.Mode))
	}
	if _, err := c.LogLevel(); err != nil {
		errs = append(errs, err)
	}
	if c.Codec.MaxDepth == 0 {
		errs = append(errs, errors.New("codec.max_depth must be non-zero"))
	}

	return errors.Join(errs...)
}

// LogLevel parses Log.Level.
func (c *Config) LogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Log.Level)); err != nil {
		return 0, fmt.Errorf("log.level: %w", err)
	}
	return level, nil
}

// BridgeOptions converts the configuration into Bridge options. The logger
// receives the codec's debug records.
func (c *Config) BridgeOptions(logger *slog.Logger) protobridge.Options {
	return protobridge.Options{
		Input:   protobridge.InputMode(c.Input.Mode),
		Relaxed: c.Input.Relaxed,
		Indent:  c.Output.Indent,
		Codec: codec.Options{
			MaxDepth:           c.Codec.MaxDepth,
			RequireInitialized: c.Codec.RequireInitialized,
			Logger:             logger,
		},
	}
}
