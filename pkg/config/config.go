// Package config loads witmproxy's runtime configuration from a file and
// the environment via spf13/viper; CLI flag overrides are applied by the
// command on top of the loaded Config.
package config

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Default values. All finite: no upstream operation is allowed to wait
// indefinitely.
const (
	DefaultListenAddr        = "127.0.0.1:0"
	DefaultUpstreamConnect   = 30 * time.Second
	DefaultUpstreamTotal     = 60 * time.Second
	DefaultH2KeepAlive       = 60 * time.Second
	DefaultH2KeepAliveTO     = 20 * time.Second
	DefaultLeafCacheCapacity = 1000
)

// Config is the fully-resolved runtime configuration for a witmproxy
// process. Zero values are not valid; use Load or Default.
type Config struct {
	// AppDir is the root directory holding ca.crt, ca.key, the plugin
	// database, services.json, and the daemon log.
	AppDir string `mapstructure:"app_dir"`

	// ListenAddr is the address the proxy front-end binds to.
	ListenAddr string `mapstructure:"listen_addr"`

	// DBPath is the SQLite file backing the plugin registry. Defaults to
	// <AppDir>/witmproxy.db.
	DBPath string `mapstructure:"db_path"`

	// LogFilePath is the append-only JSONL event log. Defaults to
	// <AppDir>/witmproxy.log.
	LogFilePath string `mapstructure:"log_file_path"`

	// LeafCacheCapacity bounds the CA's in-memory leaf certificate cache.
	LeafCacheCapacity int `mapstructure:"leaf_cache_capacity"`

	Upstream UpstreamConfig `mapstructure:"upstream"`
}

// UpstreamConfig holds the timeouts the shared upstream HTTPS client uses
// when forwarding a (possibly plugin-mutated) request toward the origin.
type UpstreamConfig struct {
	ConnectTimeout     time.Duration `mapstructure:"connect_timeout"`
	TotalTimeout       time.Duration `mapstructure:"total_timeout"`
	H2KeepAlive        time.Duration `mapstructure:"h2_keep_alive"`
	H2KeepAliveTimeout time.Duration `mapstructure:"h2_keep_alive_timeout"`
}

// Default returns a Config populated with this package's defaults rooted
// at appDir.
func Default(appDir string) *Config {
	return &Config{
		AppDir:            appDir,
		ListenAddr:        DefaultListenAddr,
		DBPath:            filepath.Join(appDir, "witmproxy.db"),
		LogFilePath:       filepath.Join(appDir, "witmproxy.log"),
		LeafCacheCapacity: DefaultLeafCacheCapacity,
		Upstream: UpstreamConfig{
			ConnectTimeout:     DefaultUpstreamConnect,
			TotalTimeout:       DefaultUpstreamTotal,
			H2KeepAlive:        DefaultH2KeepAlive,
			H2KeepAliveTimeout: DefaultH2KeepAliveTO,
		},
	}
}

// Load reads configuration from path (if non-empty), the WITMPROXY_ env
// prefix, and finally this package's defaults, with env over config file
// over default. No flags are bound to this viper instance.
func Load(path, appDir string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("WITMPROXY")
	v.AutomaticEnv()

	def := Default(appDir)
	v.SetDefault("app_dir", def.AppDir)
	v.SetDefault("listen_addr", def.ListenAddr)
	v.SetDefault("db_path", def.DBPath)
	v.SetDefault("log_file_path", def.LogFilePath)
	v.SetDefault("leaf_cache_capacity", def.LeafCacheCapacity)
	v.SetDefault("upstream.connect_timeout", def.Upstream.ConnectTimeout)
	v.SetDefault("upstream.total_timeout", def.Upstream.TotalTimeout)
	v.SetDefault("upstream.h2_keep_alive", def.Upstream.H2KeepAlive)
	v.SetDefault("upstream.h2_keep_alive_timeout", def.Upstream.H2KeepAliveTimeout)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, nil
}
