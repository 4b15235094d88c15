package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// LogSettings controls rotation of per-service child output logs.
// Rotation parameters follow lumberjack semantics.
type LogSettings struct {
	MaxSizeMB  int  `mapstructure:"max_size_mb"`
	MaxBackups int  `mapstructure:"max_backups"`
	MaxAgeDays int  `mapstructure:"max_age_days"`
	Compress   bool `mapstructure:"compress"`
}

// MetricsSettings controls the Prometheus surface and the resource sampler.
type MetricsSettings struct {
	Enabled        bool          `mapstructure:"enabled"`
	SampleInterval time.Duration `mapstructure:"sample_interval"`
}

// Settings is the global daemon configuration, one TOML file.
type Settings struct {
	ConfigDir   string          `mapstructure:"config_dir"`
	SocketPath  string          `mapstructure:"socket_path"`
	ScratchDir  string          `mapstructure:"scratch_dir"`
	LogDir      string          `mapstructure:"log_dir"`
	AutoUpdate  bool            `mapstructure:"auto_update"`
	GithubToken string          `mapstructure:"github_token"`
	HTTPListen  string          `mapstructure:"http_listen"`
	PidFile     string          `mapstructure:"pid_file"`
	Log         LogSettings     `mapstructure:"log"`
	Metrics     MetricsSettings `mapstructure:"metrics"`
}

// DefaultSettingsPath is where LoadSettings looks when no path is given.
func DefaultSettingsPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "shepd.toml"
	}
	return filepath.Join(home, ".shepd", "shepd.toml")
}

// DefaultSettings returns the settings used when no file exists.
func DefaultSettings() Settings {
	s := Settings{
		AutoUpdate: true,
		Metrics:    MetricsSettings{Enabled: true},
	}
	applyDefaults(&s)
	return s
}

// LoadSettings reads the TOML settings file. An empty path falls back to
// DefaultSettingsPath; a missing default file yields pure defaults.
func LoadSettings(path string) (Settings, error) {
	var s Settings
	if path == "" {
		path = DefaultSettingsPath()
		if _, err := os.Stat(path); err != nil {
			return DefaultSettings(), nil
		}
	}
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("toml")
	v.SetDefault("auto_update", true)
	v.SetDefault("metrics.enabled", true)
	if err := v.ReadInConfig(); err != nil {
		return s, fmt.Errorf("read settings %s: %w", path, err)
	}
	if err := v.Unmarshal(&s); err != nil {
		return s, fmt.Errorf("parse settings %s: %w", path, err)
	}
	applyDefaults(&s)
	return s, nil
}

func applyDefaults(s *Settings) {
	if s.ConfigDir == "" {
		s.ConfigDir = "~/.shepd/services"
	}
	if s.LogDir == "" {
		s.LogDir = "~/.shepd/logs"
	}
	if s.ScratchDir == "" {
		s.ScratchDir = filepath.Join(os.TempDir(), "shepd-downloads")
	}
	if s.GithubToken == "" {
		s.GithubToken = os.Getenv("GITHUB_TOKEN")
	}
	if s.Metrics.SampleInterval <= 0 {
		s.Metrics.SampleInterval = 5 * time.Second
	}
	s.ConfigDir = ExpandHome(s.ConfigDir)
	s.LogDir = ExpandHome(s.LogDir)
	s.ScratchDir = ExpandHome(s.ScratchDir)
	s.SocketPath = ExpandHome(s.SocketPath)
	s.PidFile = ExpandHome(s.PidFile)
}

// ExpandHome resolves a leading ~/ against the user's home directory.
func ExpandHome(p string) string {
	if len(p) < 2 || p[0] != '~' || p[1] != '/' {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	return filepath.Join(home, p[2:])
}
