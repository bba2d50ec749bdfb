// Package config loads codefacts settings from an optional TOML file.
// Command-line flags override whatever the file sets.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"runtime"
	"strings"

	"github.com/BurntSushi/toml"
)

// FileName is the config file looked up in the working directory.
const FileName = "codefacts.toml"

// DefaultStorePath is used when neither the file nor a flag names a store.
const DefaultStorePath = ".codefacts/index.db"

type Config struct {
	Store string      `toml:"store"`
	Scan  ScanConfig  `toml:"scan"`
	Query QueryConfig `toml:"query"`
	Watch WatchConfig `toml:"watch"`
}

type ScanConfig struct {
	Root         string   `toml:"root"`
	ChangedOnly  bool     `toml:"changed_only"`
	Workers      int      `toml:"workers"`
	ExtraIgnores []string `toml:"extra_ignores"`
}

type QueryConfig struct {
	MaxRows   int `toml:"max_rows"`
	TimeoutMS int `toml:"timeout_ms"`
}

type WatchConfig struct {
	DebounceMS int `toml:"debounce_ms"`
}

// Default returns the built-in settings.
func Default() *Config {
	return &Config{
		Store: DefaultStorePath,
		Scan: ScanConfig{
			Root:    ".",
			Workers: runtime.NumCPU(),
		},
		Query: QueryConfig{
			MaxRows:   1000,
			TimeoutMS: 30000,
		},
		Watch: WatchConfig{
			DebounceMS: 500,
		},
	}
}

// Load reads path over the defaults. A missing file is not an error when
// optional is true. CODEFACTS_STORE overrides the store path.
func Load(path string, optional bool) (*Config, error) {
	cfg := Default()
	if path != "" {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			if !(optional && errors.Is(err, fs.ErrNotExist)) {
				return nil, fmt.Errorf("config: load %s: %w", path, err)
			}
		}
	}
	if store := os.Getenv("CODEFACTS_STORE"); store != "" {
		cfg.Store = store
	}
	cfg.fillDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) fillDefaults() {
	d := Default()
	if c.Scan.Workers <= 0 {
		c.Scan.Workers = d.Scan.Workers
	}
	if c.Watch.DebounceMS <= 0 {
		c.Watch.DebounceMS = d.Watch.DebounceMS
	}
}

// ValidationError names one invalid setting.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateErrors is every invalid setting found by Validate.
type ValidateErrors []ValidationError

func (e ValidateErrors) Error() string {
	msgs := make([]string, len(e))
	for i, err := range e {
		msgs[i] = err.Error()
	}
	return "config: " + strings.Join(msgs, "; ")
}

// Validate reports settings that cannot work.
func (c *Config) Validate() error {
	var errs ValidateErrors
	if strings.TrimSpace(c.Store) == "" {
		errs = append(errs, ValidationError{Field: "store", Message: "must not be empty"})
	}
	if c.Query.MaxRows < 0 {
		errs = append(errs, ValidationError{Field: "query.max_rows", Message: "must not be negative"})
	}
	if c.Query.TimeoutMS < 0 {
		errs = append(errs, ValidationError{Field: "query.timeout_ms", Message: "must not be negative"})
	}
	if len(errs) > 0 {
		return errs
	}
	return nil
}
