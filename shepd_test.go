//go:build !windows

package shepd

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultSettings(t *testing.T) {
	st := DefaultSettings()
	assert.True(t, st.AutoUpdate)
	assert.True(t, st.Metrics.Enabled)
	assert.NotEmpty(t, st.ConfigDir)
	assert.NotEmpty(t, st.LogDir)
	assert.NotEmpty(t, st.ScratchDir)
}

func TestNewDaemonAndClientFacade(t *testing.T) {
	base := t.TempDir()
	st := DefaultSettings()
	st.ConfigDir = filepath.Join(base, "services")
	st.SocketPath = filepath.Join(base, "shepd.sock")
	st.ScratchDir = filepath.Join(base, "downloads")
	st.LogDir = filepath.Join(base, "logs")
	st.Metrics.Enabled = false

	d, err := NewDaemon("facade-test", st)
	require.NoError(t, err)
	assert.Equal(t, st.SocketPath, d.SocketPath())

	c := NewClient(ClientOptions{SocketPath: st.SocketPath})
	require.NotNil(t, c)
	assert.Equal(t, st.SocketPath, c.SocketPath())
}

func TestDefaultSocketPath(t *testing.T) {
	assert.NotEmpty(t, DefaultSocketPath())
}
