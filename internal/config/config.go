// Package config loads musicwa settings from defaults, an optional
// musicwa.toml, MUSICWA_* environment variables and command-line flags.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/spf13/viper"
)

// FileName is the config file base name searched for.
const FileName = "musicwa"

// Keys.
const (
	KeyRoot          = "root"
	KeyListen        = "listen"
	KeyStaticDir     = "static_dir"
	KeyServerURL     = "server_url"
	KeyIndexEnabled  = "index.enabled"
	KeyIndexPath     = "index.path"
	KeyWatchEnabled  = "watch.enabled"
	KeyWatchDebounce = "watch.debounce"
	KeyClientTimeout = "client.timeout"
	KeyLogFile       = "log.file"
	KeyLogMaxSize    = "log.max_size_mb"
	KeyLogMaxBackups = "log.max_backups"
	KeyLogMaxAge     = "log.max_age_days"
)

// Config is the effective configuration.
type Config struct {
	Root      string       `toml:"root"`
	Listen    string       `toml:"listen"`
	StaticDir string       `toml:"static_dir"`
	ServerURL string       `toml:"server_url"`
	Index     IndexConfig  `toml:"index"`
	Watch     WatchConfig  `toml:"watch"`
	Client    ClientConfig `toml:"client"`
	Log       LogConfig    `toml:"log"`

	// File is the config file that was read, if any.
	File string `toml:"-"`
}

// IndexConfig controls the SQLite label and search index.
type IndexConfig struct {
	Enabled bool `toml:"enabled"`
	// Path defaults to <root>/.musicwa/index.db.
	Path string `toml:"path"`
}

// WatchConfig controls the store watcher used by serve.
type WatchConfig struct {
	Enabled  bool     `toml:"enabled"`
	Debounce Duration `toml:"debounce"`
}

// ClientConfig controls HTTP client behavior.
type ClientConfig struct {
	Timeout Duration `toml:"timeout"`
}

// LogConfig controls the optional rotating log file.
type LogConfig struct {
	File       string `toml:"file"`
	MaxSizeMB  int    `toml:"max_size_mb"`
	MaxBackups int    `toml:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days"`
}

// Duration is a time.Duration that encodes as a string in TOML.
type Duration time.Duration

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// Std returns the duration as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// SetDefaults registers default values on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault(KeyRoot, "db")
	v.SetDefault(KeyListen, "127.0.0.1:12989")
	v.SetDefault(KeyStaticDir, "")
	v.SetDefault(KeyServerURL, "http://127.0.0.1:12989")
	v.SetDefault(KeyIndexEnabled, true)
	v.SetDefault(KeyIndexPath, "")
	v.SetDefault(KeyWatchEnabled, true)
	v.SetDefault(KeyWatchDebounce, "100ms")
	v.SetDefault(KeyClientTimeout, "30s")
	v.SetDefault(KeyLogFile, "")
	v.SetDefault(KeyLogMaxSize, 10)
	v.SetDefault(KeyLogMaxBackups, 3)
	v.SetDefault(KeyLogMaxAge, 28)
}

// NewViper returns a viper instance with defaults, env binding and config
// file search paths set up. file, if non-empty, is used instead of searching.
func NewViper(file string) *viper.Viper {
	v := viper.New()
	SetDefaults(v)

	v.SetEnvPrefix("MUSICWA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName(FileName)
		v.SetConfigType("toml")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", "musicwa"))
		}
	}
	return v
}

// Load reads the config file, if any, and decodes the effective config.
// A missing config file is not an error unless it was named explicitly.
func Load(v *viper.Viper) (*Config, error) {
	if named := v.ConfigFileUsed(); named != "" {
		if _, err := os.Stat(named); err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}
	return FromViper(v)
}

// FromViper decodes the effective config from values already in v.
func FromViper(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		Root:      v.GetString(KeyRoot),
		Listen:    v.GetString(KeyListen),
		StaticDir: v.GetString(KeyStaticDir),
		ServerURL: v.GetString(KeyServerURL),
		Index: IndexConfig{
			Enabled: v.GetBool(KeyIndexEnabled),
			Path:    v.GetString(KeyIndexPath),
		},
		Watch: WatchConfig{
			Enabled:  v.GetBool(KeyWatchEnabled),
			Debounce: Duration(v.GetDuration(KeyWatchDebounce)),
		},
		Client: ClientConfig{
			Timeout: Duration(v.GetDuration(KeyClientTimeout)),
		},
		Log: LogConfig{
			File:       v.GetString(KeyLogFile),
			MaxSizeMB:  v.GetInt(KeyLogMaxSize),
			MaxBackups: v.GetInt(KeyLogMaxBackups),
			MaxAgeDays: v.GetInt(KeyLogMaxAge),
		},
		File: v.ConfigFileUsed(),
	}

	// DB_PATH is the historical name for the store root.
	if root := os.Getenv("DB_PATH"); root != "" && os.Getenv("MUSICWA_ROOT") == "" {
		cfg.Root = root
	}
	return cfg, cfg.Validate()
}

// Validate checks values that would otherwise fail later in confusing ways.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Root) == "" {
		return fmt.Errorf("config: %s must not be empty", KeyRoot)
	}
	if c.Watch.Debounce < 0 {
		return fmt.Errorf("config: %s must not be negative", KeyWatchDebounce)
	}
	if c.Client.Timeout <= 0 {
		return fmt.Errorf("config: %s must be positive", KeyClientTimeout)
	}
	return nil
}

// IndexPath returns the index database path, or "" when the index is off.
func (c *Config) IndexPath() string {
	if !c.Index.Enabled {
		return ""
	}
	if c.Index.Path != "" {
		return c.Index.Path
	}
	return filepath.Join(c.Root, ".musicwa", "index.db")
}

// Encode renders the config as TOML.
func (c *Config) Encode() ([]byte, error) {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(c); err != nil {
		return nil, fmt.Errorf("failed to encode config: %w", err)
	}
	return buf.Bytes(), nil
}

// Decode parses a TOML config file body on top of the defaults.
func Decode(data []byte) (*Config, error) {
	v := viper.New()
	SetDefaults(v)
	v.SetConfigType("toml")
	if err := v.ReadConfig(bytes.NewReader(data)); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return FromViper(v)
}

// Default returns the built-in configuration.
func Default() *Config {
	v := viper.New()
	SetDefaults(v)
	cfg, _ := FromViper(v)
	return cfg
}

// WriteDefault writes the default config to path. It refuses to overwrite an
// existing file unless force is set.
func WriteDefault(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config file %s already exists", path)
		}
	}
	data, err := Default().Encode()
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}
