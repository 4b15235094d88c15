package env

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMergeOverridesBase(t *testing.T) {
	e := New()
	e.SetBase(map[string]string{"PATH": "/usr/bin", "HOME": "/home/u"})

	got := e.Merge(map[string]string{"HOME": "/srv/app", "MODE": "prod"})
	assert.Equal(t, []string{"HOME=/srv/app", "MODE=prod", "PATH=/usr/bin"}, got)
}

func TestMergeExpandsVars(t *testing.T) {
	e := New()
	e.SetBase(map[string]string{"ROOT": "/srv"})

	got := e.Merge(map[string]string{"DATA": "${ROOT}/data", "MISS": "${NOPE}"})
	assert.Contains(t, got, "DATA=/srv/data")
	// Unknown references are left as-is.
	assert.Contains(t, got, "MISS=${NOPE}")
}

func TestMergeSkipsEmptyKeys(t *testing.T) {
	e := New()
	e.SetBase(map[string]string{"A": "1"})

	got := e.Merge(map[string]string{"": "x"})
	assert.Equal(t, []string{"A=1"}, got)
}

func TestMergeUsesOSBaseByDefault(t *testing.T) {
	t.Setenv("SHEPD_ENV_PROBE", "1")
	got := New().Merge(nil)
	assert.Contains(t, got, "SHEPD_ENV_PROBE=1")
}
