// Package config loads the daemon's process-wide settings: the sqlite
// database location, the HTTP control API's bind address, and the default
// log level. Per-connection settings (host, credentials, paths, interval)
// are never read from here; they live exclusively in the Store.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	EnvPrefix         = "SFTPSYNCD"
	DefaultConfigName = "config"
	DefaultConfigType = "yaml"
)

// Config is the process-wide configuration, bound from flags, environment
// variables (SFTPSYNCD_*), and an optional config.yaml, in that precedence
// order (flags win).
type Config struct {
	DataDir       string `mapstructure:"data_dir"`
	DatabasePath  string `mapstructure:"database_path"`
	ListenAddr    string `mapstructure:"listen_addr"`
	LogLevel      string `mapstructure:"log_level"`
	StartTray     bool   `mapstructure:"start_tray"`
	UpdateFeedURL string `mapstructure:"update_feed_url"`
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".sftpsyncd"
	}
	return filepath.Join(home, ".sftpsyncd")
}

// Default returns the built-in configuration used when no flag, env var,
// or config file overrides a field.
func Default() Config {
	dataDir := defaultDataDir()
	return Config{
		DataDir:       dataDir,
		DatabasePath:  filepath.Join(dataDir, "sftpsyncd.db"),
		ListenAddr:    "127.0.0.1:38090",
		LogLevel:      "info",
		StartTray:     true,
		UpdateFeedURL: "",
	}
}

// BindFlags registers the daemon's persistent flags on cmd and binds them
// into v, following OpenMined-syftbox's cobra+viper wiring: flags take
// precedence over the config file and environment.
func BindFlags(cmd *cobra.Command, v *viper.Viper) {
	def := Default()
	cmd.PersistentFlags().String("data-dir", def.DataDir, "directory for the database and default config file")
	cmd.PersistentFlags().String("listen-addr", def.ListenAddr, "control API bind address")
	cmd.PersistentFlags().String("log-level", def.LogLevel, "debug, info, warn, or error")
	cmd.PersistentFlags().Bool("start-tray", def.StartTray, "start the system tray controller")
	cmd.PersistentFlags().String("update-feed-url", def.UpdateFeedURL, "JSON feed URL polled for new releases")

	_ = v.BindPFlag("data_dir", cmd.PersistentFlags().Lookup("data-dir"))
	_ = v.BindPFlag("listen_addr", cmd.PersistentFlags().Lookup("listen-addr"))
	_ = v.BindPFlag("log_level", cmd.PersistentFlags().Lookup("log-level"))
	_ = v.BindPFlag("start_tray", cmd.PersistentFlags().Lookup("start-tray"))
	_ = v.BindPFlag("update_feed_url", cmd.PersistentFlags().Lookup("update-feed-url"))
}

// Load reads config.yaml from dataDir (if present), layers in environment
// variables prefixed SFTPSYNCD_, and returns the merged Config. A missing
// config file is not an error.
func Load(v *viper.Viper, dataDir string) (Config, error) {
	def := Default()
	v.SetDefault("data_dir", def.DataDir)
	v.SetDefault("database_path", filepath.Join(dataDir, "sftpsyncd.db"))
	v.SetDefault("listen_addr", def.ListenAddr)
	v.SetDefault("log_level", def.LogLevel)
	v.SetDefault("start_tray", def.StartTray)
	v.SetDefault("update_feed_url", def.UpdateFeedURL)

	v.SetConfigName(DefaultConfigName)
	v.SetConfigType(DefaultConfigType)
	v.AddConfigPath(dataDir)
	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return Config{}, fmt.Errorf("config: read %s/%s.%s: %w", dataDir, DefaultConfigName, DefaultConfigType, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: unmarshal: %w", err)
	}
	if cfg.DatabasePath == "" {
		cfg.DatabasePath = filepath.Join(cfg.DataDir, "sftpsyncd.db")
	}
	return cfg, nil
}
