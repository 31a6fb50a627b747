// Package config handles sdb project configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/aidanlsb/semanticdb/internal/dialect"
	"github.com/aidanlsb/semanticdb/internal/logicform"
)

// FileName is the config file looked up from the working directory upwards.
const FileName = "sdb.toml"

// EnvPath overrides config discovery when set.
const EnvPath = "SDB_CONFIG"

// Backend kinds.
const (
	BackendSQL      = "sql"
	BackendDocument = "docstore"
)

// Config represents an sdb project configuration.
type Config struct {
	Backend  BackendConfig  `toml:"backend"`
	Schema   SchemaConfig   `toml:"schema"`
	Totality TotalityConfig `toml:"totality"`
	Sort     SortConfig     `toml:"sort"`
	Log      LogConfig      `toml:"log"`
	UI       UIConfig       `toml:"ui"`

	// dir is the directory relative paths resolve against.
	dir string
}

// BackendConfig selects where logic forms run.
type BackendConfig struct {
	// Kind is "sql" or "docstore".
	Kind string `toml:"kind"`

	// Dialect is one of the dialect names; only used by the sql backend.
	Dialect string `toml:"dialect"`

	// DSN is the database/sql data source. For sqlite it is a file path or
	// ":memory:".
	DSN string `toml:"dsn"`

	// Data is an optional dataset file loaded at startup. The document store
	// lives in memory, so it needs one to have anything to query.
	Data string `toml:"data"`
}

// SchemaConfig locates the schema definitions.
type SchemaConfig struct {
	// Path is a YAML file or a directory of YAML files.
	Path string `toml:"path"`
}

// TotalityConfig controls not-happened row synthesis.
type TotalityConfig struct {
	Enabled       bool `toml:"enabled"`
	MaxDimensions int  `toml:"max_dimensions"`
}

// SortConfig controls in-memory sorting.
type SortConfig struct {
	// Locale collates string sort keys, e.g. "en" or "de-CH".
	Locale string `toml:"locale"`
}

// LogConfig controls diagnostic logging on stderr.
type LogConfig struct {
	Level string `toml:"level"`
}

// UIConfig represents optional CLI theming preferences.
type UIConfig struct {
	// Accent is an ANSI color code ("0" to "255") or a hex color ("#RRGGBB").
	Accent string `toml:"accent"`

	// CodeTheme sets the Glamour/Chroma theme for rendered SQL in explain.
	CodeTheme string `toml:"code_theme"`
}

// Default returns the configuration used when no file exists: a sqlite
// database next to a schema.yaml in the current directory.
func Default() *Config {
	return &Config{
		Backend: BackendConfig{
			Kind:    BackendSQL,
			Dialect: "sqlite",
			DSN:     "sdb.db",
		},
		Schema:   SchemaConfig{Path: "schema.yaml"},
		Totality: TotalityConfig{MaxDimensions: logicform.TotalityDimensionArityUpperBound},
		Log:      LogConfig{Level: "warn"},
		dir:      ".",
	}
}

// Load loads the configuration at path, or discovers one when path is
// empty. Returns the default config if no file exists.
func Load(path string) (*Config, error) {
	if path == "" {
		path = Discover()
	}
	if path == "" {
		return Default(), nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg := Default()
		cfg.dir = filepath.Dir(path)
		return cfg, nil
	}
	return LoadFrom(path)
}

// LoadFrom loads the configuration from a specific path. Unset fields keep
// their defaults.
func LoadFrom(path string) (*Config, error) {
	cfg := Default()
	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, fmt.Errorf("config %s: unknown keys: %s", path, strings.Join(keys, ", "))
	}
	cfg.dir = filepath.Dir(path)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Discover returns $SDB_CONFIG, or the nearest sdb.toml in the working
// directory or one of its parents, or "" when there is none.
func Discover() string {
	if p := strings.TrimSpace(os.Getenv(EnvPath)); p != "" {
		return p
	}
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}
	for {
		candidate := filepath.Join(dir, FileName)
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

// Validate checks the settings that cannot be caught by decoding.
func (c *Config) Validate() error {
	switch c.Backend.Kind {
	case BackendSQL:
		if _, err := dialect.Get(c.Backend.Dialect); err != nil {
			return fmt.Errorf("backend.dialect: %w", err)
		}
		if strings.TrimSpace(c.Backend.DSN) == "" {
			return fmt.Errorf("backend.dsn is required for the sql backend")
		}
	case BackendDocument:
	default:
		return fmt.Errorf("backend.kind must be %q or %q, got %q", BackendSQL, BackendDocument, c.Backend.Kind)
	}
	if c.Totality.MaxDimensions < 0 {
		return fmt.Errorf("totality.max_dimensions must not be negative")
	}
	return nil
}

// Dir returns the directory relative paths resolve against.
func (c *Config) Dir() string {
	if c.dir == "" {
		return "."
	}
	return c.dir
}

// ResolvePath makes p absolute against the config directory. Empty and
// absolute paths are returned unchanged.
func (c *Config) ResolvePath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.Dir(), filepath.FromSlash(p))
}

// SchemaPath returns the resolved schema path.
func (c *Config) SchemaPath() string {
	return c.ResolvePath(c.Schema.Path)
}

// DataPath returns the resolved startup dataset path, or "".
func (c *Config) DataPath() string {
	return c.ResolvePath(c.Backend.Data)
}

// DSN returns the data source, resolving sqlite file paths against the
// config directory.
func (c *Config) DSN() string {
	dsn := c.Backend.DSN
	if c.Backend.Dialect != "sqlite" || dsn == ":memory:" || strings.HasPrefix(dsn, "file:") {
		return dsn
	}
	return c.ResolvePath(dsn)
}
