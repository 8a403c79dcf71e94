// Package config loads davsync settings. Environment variables (DAVSYNC_*)
// override the YAML file, which overrides the defaults.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/cyp0633/libcaldora-sync/resource"
	homedir "github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

const (
	// EnvPrefix prefixes every environment override, e.g. DAVSYNC_SERVER_URL.
	EnvPrefix = "DAVSYNC"
	// FileName is the config file name without extension.
	FileName = "davsync"
)

type Config struct {
	Server  ServerConfig  `mapstructure:"server" yaml:"server"`
	Store   StoreConfig   `mapstructure:"store" yaml:"store"`
	Sync    SyncConfig    `mapstructure:"sync" yaml:"sync"`
	Network NetworkConfig `mapstructure:"network" yaml:"network"`
	Log     LogConfig     `mapstructure:"log" yaml:"log"`
	HTTP    HTTPConfig    `mapstructure:"http" yaml:"http"`
}

type ServerConfig struct {
	URL       string        `mapstructure:"url" yaml:"url"`
	Username  string        `mapstructure:"username" yaml:"username"`
	Password  string        `mapstructure:"password" yaml:"-"`
	Timeout   time.Duration `mapstructure:"timeout" yaml:"timeout"`
	UserAgent string        `mapstructure:"user_agent" yaml:"user_agent"`
}

type StoreConfig struct {
	// Path of the SQLite database. "~" is expanded.
	Path string `mapstructure:"path" yaml:"path"`
}

type SyncConfig struct {
	// Interval between full syncs in daemon mode.
	Interval         time.Duration `mapstructure:"interval" yaml:"interval"`
	WindowPast       time.Duration `mapstructure:"window_past" yaml:"window_past"`
	WindowFuture     time.Duration `mapstructure:"window_future" yaml:"window_future"`
	RefreshThreshold time.Duration `mapstructure:"refresh_threshold" yaml:"refresh_threshold"`
	MaxCacheAge      time.Duration `mapstructure:"max_cache_age" yaml:"max_cache_age"`
}

type NetworkConfig struct {
	ProbeInterval time.Duration `mapstructure:"probe_interval" yaml:"probe_interval"`
}

type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
	// File, when set, receives logs instead of stderr, rotated at MaxSizeMB.
	File       string `mapstructure:"file" yaml:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups" yaml:"max_backups"`
}

type HTTPConfig struct {
	Listen string `mapstructure:"listen" yaml:"listen"`
}

// SetDefaults registers every key so environment variables can override
// keys that are absent from the file.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.url", "")
	v.SetDefault("server.username", "")
	v.SetDefault("server.password", "")
	v.SetDefault("server.timeout", 30*time.Second)
	v.SetDefault("server.user_agent", "davsync")
	v.SetDefault("store.path", filepath.Join("~", ".local", "share", "davsync", "davsync.db"))
	v.SetDefault("sync.interval", 15*time.Minute)
	v.SetDefault("sync.window_past", 31*24*time.Hour)
	v.SetDefault("sync.window_future", 92*24*time.Hour)
	v.SetDefault("sync.refresh_threshold", 5*time.Minute)
	v.SetDefault("sync.max_cache_age", 24*time.Hour)
	v.SetDefault("network.probe_interval", 2*time.Minute)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 10)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("http.listen", "127.0.0.1:8089")
}

// New returns a viper instance with defaults and environment binding.
func New() *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	SetDefaults(v)
	return v
}

// ReadFile reads file into v. An empty file name searches the working
// directory and ~/.config/davsync; finding nothing there is not an error.
func ReadFile(v *viper.Viper, file string) error {
	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("failed to read config %s: %w", file, err)
		}
		return nil
	}

	v.SetConfigName(FileName)
	v.AddConfigPath(".")
	if home, err := homedir.Dir(); err == nil {
		v.AddConfigPath(filepath.Join(home, ".config", "davsync"))
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("failed to read config: %w", err)
	}
	return nil
}

// Decode unmarshals and validates the settings held by v.
func Decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	path, err := homedir.Expand(cfg.Store.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to expand store path: %w", err)
	}
	cfg.Store.Path = path

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Load is New, ReadFile and Decode in one step.
func Load(file string) (*Config, *viper.Viper, error) {
	v := New()
	if err := ReadFile(v, file); err != nil {
		return nil, nil, err
	}
	cfg, err := Decode(v)
	if err != nil {
		return nil, nil, err
	}
	return cfg, v, nil
}

// Validate checks everything that does not need the network. A missing
// server URL is allowed: commands that only read the cache work without it.
func (c *Config) Validate() error {
	if c.Server.URL != "" {
		u, err := url.Parse(c.Server.URL)
		if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
			return fmt.Errorf("server.url must be an absolute http(s) URL (got %q)", c.Server.URL)
		}
	}
	if c.Store.Path == "" {
		return errors.New("store.path is required")
	}
	if c.Server.Timeout <= 0 {
		return fmt.Errorf("server.timeout must be positive (got %s)", c.Server.Timeout)
	}
	if c.Sync.Interval < time.Minute {
		return fmt.Errorf("sync.interval must be at least 1m (got %s)", c.Sync.Interval)
	}
	if c.Sync.WindowPast < 0 || c.Sync.WindowFuture <= 0 {
		return errors.New("sync.window_past must not be negative and sync.window_future must be positive")
	}
	if _, err := ParseLevel(c.Log.Level); err != nil {
		return err
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("log.format must be text or json (got %q)", c.Log.Format)
	}
	return nil
}

// RequireServer reports an error when no server is configured.
func (c *Config) RequireServer() error {
	if c.Server.URL == "" {
		return fmt.Errorf("server.url is required (set it in %s.yaml or %s_SERVER_URL)", FileName, EnvPrefix)
	}
	return nil
}

// Window returns the event window around now.
func (c *Config) Window(now time.Time) resource.DateRange {
	return resource.DateRange{Start: now.Add(-c.Sync.WindowPast), End: now.Add(c.Sync.WindowFuture)}
}

// ParseLevel maps a level name to a slog level.
func ParseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("log.level must be debug, info, warn or error (got %q)", s)
	}
	return level, nil
}
