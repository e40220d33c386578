package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// NOTE: This file provides the configuration model and YAML-based load/save
// behavior, including first-run config creation and 0600 permissions.

// StoreConfig selects where events are persisted.
type StoreConfig struct {
	// Backend is "file" (default) or "sqlite".
	Backend string `yaml:"backend" json:"backend"`
	// Path is a directory for the file backend and a database file for
	// sqlite. Relative paths are resolved against the config file directory.
	Path string `yaml:"path" json:"path"`
	// Key is the storage key of the event blob.
	Key string `yaml:"key" json:"key"`
}

// NotifyConfig controls how fired reminders are rendered.
type NotifyConfig struct {
	// Desktop enables native desktop notifications in addition to the log.
	Desktop bool `yaml:"desktop" json:"desktop"`
	// FallbackTitle is shown when a trigger carries no title.
	FallbackTitle string `yaml:"fallback_title" json:"fallback_title"`
	// Heading is the notification title; the event title is the body.
	Heading string `yaml:"heading" json:"heading"`
}

// PermissionConfig controls the exact-trigger grant.
type PermissionConfig struct {
	// Mode is "always" (default; no grant needed) or "file".
	Mode string `yaml:"mode" json:"mode"`
	// Marker is the grant file used in "file" mode.
	Marker string `yaml:"marker" json:"marker"`
}

// BasicAuthConfig holds HTTP Basic Auth credentials for the HTTP API.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address of the daemon API. Empty disables it.
	Listen string `yaml:"listen" json:"listen"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level" json:"log_level"`

	Store      StoreConfig      `yaml:"store" json:"store"`
	Notify     NotifyConfig     `yaml:"notify" json:"notify"`
	Permission PermissionConfig `yaml:"permission" json:"permission"`

	// BasicAuth, if non-nil, enables HTTP Basic Authentication on all endpoints
	// except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`
}

const (
	defaultListen   = "127.0.0.1:8177"
	defaultLogLevel = "info"
	defaultStoreDir = "store"
	defaultDBFile   = "keydates.db"
	defaultMarker   = "exact-triggers.granted"
	defaultHeading  = "Event Reminder"
)

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:   defaultListen,
		LogLevel: defaultLogLevel,
		Store: StoreConfig{
			Backend: "file",
			Path:    defaultStoreDir,
			Key:     "eventList",
		},
		Notify: NotifyConfig{
			Desktop:       false,
			FallbackTitle: defaultHeading,
			Heading:       defaultHeading,
		},
		Permission: PermissionConfig{
			Mode:   "always",
			Marker: defaultMarker,
		},
		BasicAuth: nil,
	}
}

// DefaultPath is the config location used when --config is not given:
// $KEYDATES_CONFIG, else <user config dir>/keydates/config.yaml.
func DefaultPath() string {
	if p := os.Getenv("KEYDATES_CONFIG"); p != "" {
		return p
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		return "keydates.yaml"
	}
	return filepath.Join(dir, "keydates", "config.yaml")
}

// Normalize fills in missing/zero values with sensible defaults so that
// partially-filled configs (e.g., older versions) still behave correctly.
func (c *Config) Normalize() {
	c.LogLevel = strings.ToLower(strings.TrimSpace(c.LogLevel))
	if c.LogLevel == "" {
		c.LogLevel = defaultLogLevel
	}

	switch c.Store.Backend {
	case "file", "sqlite":
		// ok
	case "":
		c.Store.Backend = "file"
	default:
		// Unknown backend is reported by store.OpenBackend; keep it as typed.
	}
	if c.Store.Path == "" {
		if c.Store.Backend == "sqlite" {
			c.Store.Path = defaultDBFile
		} else {
			c.Store.Path = defaultStoreDir
		}
	}
	if c.Store.Key == "" {
		c.Store.Key = "eventList"
	}

	if c.Notify.FallbackTitle == "" {
		c.Notify.FallbackTitle = defaultHeading
	}
	if c.Notify.Heading == "" {
		c.Notify.Heading = defaultHeading
	}

	switch c.Permission.Mode {
	case "always", "file":
	default:
		// 알 수 없는 값은 권한 검사 없이 동작하도록 always 로 되돌린다.
		c.Permission.Mode = "always"
	}
	if c.Permission.Marker == "" {
		c.Permission.Marker = defaultMarker
	}
}

// Resolve makes relative paths absolute against the directory of the config
// file at cfgPath.
func (c *Config) Resolve(cfgPath string) {
	base := filepath.Dir(cfgPath)
	if !filepath.IsAbs(c.Store.Path) {
		c.Store.Path = filepath.Join(base, c.Store.Path)
	}
	if !filepath.IsAbs(c.Permission.Marker) {
		c.Permission.Marker = filepath.Join(base, c.Permission.Marker)
	}
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist:
//   - create parent directory if needed
//   - write a default config with 0600 perms
//   - return the default config
//   - If the file exists:
//   - read YAML and unmarshal into Config
//   - normalize defaults
//
// In both cases relative paths in the result are resolved against the
// config file's directory; the file on disk keeps them relative.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			// First run: create default config file.
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				// Even if save fails, return cfg with error so caller can decide.
				cfg.Resolve(path)
				return cfg, err
			}
			cfg.Resolve(path)
			return cfg, nil
		}
		return nil, err
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	cfg.Normalize()
	cfg.Resolve(path)

	return cfg, nil
}

// Save writes the given configuration to the specified path.
//
// Implementation details:
//   - Ensures parent directory exists (0700).
//   - Marshals cfg to YAML.
//   - Writes atomically via a temp file + rename.
//   - Ensures final file permissions are 0600.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".keydates-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	// Ensure we clean up temp file on error.
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}

	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}

	return os.Rename(tmpName, path)
}

// Save is a convenience method on Config that delegates to the package-level
// Save function.
func (c *Config) Save(path string) error {
	return Save(path, c)
}
