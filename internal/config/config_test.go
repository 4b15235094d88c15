package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/shepd/internal/errdefs"
)

func validConfig() AppConfig {
	return AppConfig{
		Name:       "web",
		Repository: "acme/web",
		BinaryPath: "/opt/web/bin/web",
	}
}

func TestValidateOK(t *testing.T) {
	cfg := validConfig()
	cfg.CheckIntervalSeconds = 60
	cfg.Args = []string{"--port", "8080"}
	cfg.Env = map[string]string{"PORT": "8080"}
	require.NoError(t, cfg.Validate())
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]func(*AppConfig){
		"empty name":         func(c *AppConfig) { c.Name = "" },
		"bad name chars":     func(c *AppConfig) { c.Name = "web server" },
		"dot prefix":         func(c *AppConfig) { c.Name = ".web" },
		"empty repository":   func(c *AppConfig) { c.Repository = "" },
		"no slash":           func(c *AppConfig) { c.Repository = "acmeweb" },
		"extra slash":        func(c *AppConfig) { c.Repository = "a/b/c" },
		"empty owner":        func(c *AppConfig) { c.Repository = "/web" },
		"interval too small": func(c *AppConfig) { c.CheckIntervalSeconds = 30 },
		"negative interval":  func(c *AppConfig) { c.CheckIntervalSeconds = -1 },
		"no binary":          func(c *AppConfig) { c.BinaryPath = "" },
		"bad env key":        func(c *AppConfig) { c.Env = map[string]string{"A=B": "x"} },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := validConfig()
			mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.True(t, errdefs.IsValidation(err), "want ValidationError, got %T", err)
		})
	}
}

func TestNormalizeDefaultsInterval(t *testing.T) {
	cfg := validConfig()
	cfg.Normalize()
	assert.Equal(t, DefaultCheckIntervalSeconds, cfg.CheckIntervalSeconds)

	cfg = validConfig()
	cfg.CheckIntervalSeconds = 120
	cfg.Normalize()
	assert.Equal(t, 120, cfg.CheckIntervalSeconds)
}

func TestSafeName(t *testing.T) {
	assert.True(t, SafeName("web"))
	assert.True(t, SafeName("api-v2_1.beta"))
	assert.False(t, SafeName(""))
	assert.False(t, SafeName("../etc"))
	assert.False(t, SafeName("a/b"))
	assert.False(t, SafeName("a b"))
}
