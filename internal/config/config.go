// Package config loads the application configuration from YAML or CUE.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"cuelang.org/go/cue/cuecontext"
	"gopkg.in/yaml.v3"

	"github.com/roach88/sparsemap/internal/accesscontrol"
	"github.com/roach88/sparsemap/internal/authorizable"
	"github.com/roach88/sparsemap/internal/rowid"
)

// Backends.
const (
	BackendMemory = "memory"
	BackendSQLite = "sqlite"
	BackendBadger = "badger"
)

// Config describes which store to open and how to address it.
//
// Tags carry both yaml (for yaml.v3) and json (for CUE Decode) names.
type Config struct {
	// Backend is one of memory, sqlite or badger.
	Backend string `yaml:"backend" json:"backend"`

	// Path is the SQLite database file or Badger directory.
	Path string `yaml:"path,omitempty" json:"path,omitempty"`

	// Statements optionally replaces the embedded SQLite statement set.
	Statements string `yaml:"statements,omitempty" json:"statements,omitempty"`

	// DDL optionally replaces the embedded SQLite schema script.
	DDL string `yaml:"ddl,omitempty" json:"ddl,omitempty"`

	// RowIDHash is a digest name, "+nfc" appended to normalize row keys.
	RowIDHash string `yaml:"rowid_hash,omitempty" json:"rowid_hash,omitempty"`

	Keyspace           string `yaml:"keyspace,omitempty" json:"keyspace,omitempty"`
	AuthorizableFamily string `yaml:"authorizable_family,omitempty" json:"authorizable_family,omitempty"`

	Content Content `yaml:"content,omitempty" json:"content,omitempty"`

	// User is the identity CLI commands act as.
	User string `yaml:"user,omitempty" json:"user,omitempty"`

	// Admin is the administrator id; it bypasses access checks.
	Admin string `yaml:"admin,omitempty" json:"admin,omitempty"`

	// AdminPassword is set on the administrator when the repository
	// creates it. Empty creates it without a password.
	AdminPassword string `yaml:"admin_password,omitempty" json:"admin_password,omitempty"`
}

// Content configures file-backed body storage. An empty Dir disables
// streaming.
type Content struct {
	Dir       string `yaml:"dir,omitempty" json:"dir,omitempty"`
	BlockSize int64  `yaml:"block_size,omitempty" json:"block_size,omitempty"`
}

// Default returns an in-memory configuration acting as the administrator.
func Default() *Config {
	c := &Config{Backend: BackendMemory}
	c.applyDefaults()
	return c
}

func (c *Config) applyDefaults() {
	if c.Backend == "" {
		c.Backend = BackendMemory
	}
	if c.RowIDHash == "" {
		c.RowIDHash = rowid.DefaultAlgorithm
	}
	if c.Keyspace == "" {
		c.Keyspace = authorizable.DefaultKeyspace
	}
	if c.AuthorizableFamily == "" {
		c.AuthorizableFamily = authorizable.DefaultFamily
	}
	if c.Admin == "" {
		c.Admin = accesscontrol.AdminUser
	}
	if c.User == "" {
		c.User = c.Admin
	}
}

// Validate reports the first invalid field.
func (c *Config) Validate() error {
	switch c.Backend {
	case BackendMemory:
	case BackendSQLite, BackendBadger:
		if c.Path == "" {
			return fmt.Errorf("path: required for backend %q", c.Backend)
		}
	default:
		return fmt.Errorf("backend: unknown backend %q: must be %s, %s or %s",
			c.Backend, BackendMemory, BackendSQLite, BackendBadger)
	}
	if (c.Statements != "" || c.DDL != "") && c.Backend != BackendSQLite {
		return fmt.Errorf("statements/ddl: only apply to backend %q", BackendSQLite)
	}
	if _, err := rowid.New(c.RowIDHash); err != nil {
		return fmt.Errorf("rowid_hash: %w", err)
	}
	if c.Content.BlockSize < 0 {
		return fmt.Errorf("content.block_size: must not be negative")
	}
	if strings.Contains(c.Admin, authorizable.ListSeparator) {
		return fmt.Errorf("admin: invalid id %q", c.Admin)
	}
	return nil
}

// Load reads a YAML (.yaml, .yml) or CUE (.cue) config file. Relative
// paths inside it are resolved against the file's directory.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	c, err := Parse(data, strings.TrimPrefix(filepath.Ext(path), "."))
	if err != nil {
		return nil, err
	}
	c.resolvePaths(filepath.Dir(path))
	return c, nil
}

// Parse decodes, defaults and validates a config in format "yaml" or "cue".
func Parse(data []byte, format string) (*Config, error) {
	var c Config
	switch format {
	case "yaml", "yml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&c); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	case "cue":
		v := cuecontext.New().CompileBytes(data)
		if err := v.Err(); err != nil {
			return nil, fmt.Errorf("failed to compile CUE config: %w", err)
		}
		if err := v.Decode(&c); err != nil {
			return nil, fmt.Errorf("failed to decode CUE config: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config format %q: must be yaml or cue", format)
	}
	c.applyDefaults()
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &c, nil
}

func (c *Config) resolvePaths(base string) {
	for _, p := range []*string{&c.Path, &c.Statements, &c.DDL, &c.Content.Dir} {
		if *p != "" && !filepath.IsAbs(*p) {
			*p = filepath.Join(base, *p)
		}
	}
}
