package config

import (
	"strings"

	"github.com/loykin/shepd/internal/errdefs"
)

const (
	// DefaultCheckIntervalSeconds is applied when a config omits the interval.
	DefaultCheckIntervalSeconds = 300
	// MinCheckIntervalSeconds is the lowest accepted polling interval.
	MinCheckIntervalSeconds = 60
)

// AppConfig describes one supervised service. Stored as <name>.json in the
// config directory and consumed read-only by the daemon.
type AppConfig struct {
	Name                 string            `json:"name"`
	Repository           string            `json:"repository"`
	CheckIntervalSeconds int               `json:"checkIntervalSeconds,omitempty"`
	AutoStart            bool              `json:"autoStart,omitempty"`
	AutoRestart          bool              `json:"autoRestart,omitempty"`
	BinaryPath           string            `json:"binaryPath"`
	WorkingDirectory     string            `json:"workingDirectory,omitempty"`
	Args                 []string          `json:"args,omitempty"`
	Env                  map[string]string `json:"env,omitempty"`
}

// Normalize fills defaulted fields in place.
func (c *AppConfig) Normalize() {
	if c.CheckIntervalSeconds == 0 {
		c.CheckIntervalSeconds = DefaultCheckIntervalSeconds
	}
}

// Validate checks the config shape. Binary existence is checked at start
// time, not here.
func (c AppConfig) Validate() error {
	if c.Name == "" {
		return errdefs.Validationf("service name is required")
	}
	if !SafeName(c.Name) {
		return errdefs.Validationf("invalid service name %q", c.Name)
	}
	if err := ValidateRepository(c.Repository); err != nil {
		return err
	}
	if c.CheckIntervalSeconds != 0 && c.CheckIntervalSeconds < MinCheckIntervalSeconds {
		return errdefs.Validationf("checkIntervalSeconds must be >= %d, got %d",
			MinCheckIntervalSeconds, c.CheckIntervalSeconds)
	}
	if c.BinaryPath == "" {
		return errdefs.Validationf("binaryPath is required")
	}
	for k := range c.Env {
		if k == "" || strings.ContainsAny(k, "= \t") {
			return errdefs.Validationf("invalid env key %q", k)
		}
	}
	return nil
}

// SafeName accepts names usable as a filename stem and a wire identifier.
func SafeName(name string) bool {
	if name == "" || len(name) > 128 {
		return false
	}
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9':
		case r == '-' || r == '_' || r == '.':
		default:
			return false
		}
	}
	return name[0] != '.'
}

// ValidateRepository requires the owner/repo shape used by the release API.
func ValidateRepository(repo string) error {
	parts := strings.Split(repo, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return errdefs.Validationf("repository must be owner/repo, got %q", repo)
	}
	for _, p := range parts {
		if strings.ContainsAny(p, " \t") {
			return errdefs.Validationf("repository must be owner/repo, got %q", repo)
		}
	}
	return nil
}
