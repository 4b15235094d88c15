//go:build !windows

package rpc

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConnectNoSocketFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "absent.sock")
	c := NewClient(ClientConfig{SocketPath: path})

	err := c.Connect(context.Background())
	require.Error(t, err)
	assert.True(t, IsDaemonNotRunning(err))
}

func TestConnectStaleSocket(t *testing.T) {
	// The path exists but nothing listens behind it; unix(7) reports
	// ECONNREFUSED for that, same as a leftover socket after a crash.
	path := filepath.Join(t.TempDir(), "stale.sock")
	require.NoError(t, os.WriteFile(path, []byte{}, 0o600))

	c := NewClient(ClientConfig{SocketPath: path})
	err := c.Connect(context.Background())
	require.Error(t, err)
	assert.False(t, IsDaemonNotRunning(err))
	var refused *ConnectionRefusedError
	assert.ErrorAs(t, err, &refused)
}

func TestCallWithoutConnect(t *testing.T) {
	path := filepath.Join(t.TempDir(), "absent.sock")
	c := NewClient(ClientConfig{SocketPath: path})

	_, err := c.Call(context.Background(), "ping", nil)
	require.Error(t, err)
	assert.True(t, IsDaemonNotRunning(err))
}

func TestCallAfterClose(t *testing.T) {
	path := testSocket(t)
	startServer(t, path)
	c := connect(t, ClientConfig{SocketPath: path})

	require.NoError(t, c.Close())
	_, err := c.Call(context.Background(), "ping", nil)
	assert.ErrorIs(t, err, ErrConnectionClosed)
	// Close is idempotent.
	assert.NoError(t, c.Close())
}

func TestPendingCallsRejectedOnServerClose(t *testing.T) {
	path := testSocket(t)
	s := NewServer(path)
	block := make(chan struct{})
	s.Handle("hang", func(context.Context, *Conn, json.RawMessage) (any, error) {
		<-block
		return nil, nil
	})
	require.NoError(t, s.Start())
	t.Cleanup(func() { close(block) })

	c := connect(t, ClientConfig{SocketPath: path, Timeout: 30 * time.Second})
	done := make(chan error, 1)
	go func() {
		_, err := c.Call(context.Background(), "hang", nil)
		done <- err
	}()

	// Let the request land, then drop the server.
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, s.Close())

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrConnectionClosed)
	case <-time.After(5 * time.Second):
		t.Fatal("pending call never rejected")
	}
}

func TestContextCancelRejectsCall(t *testing.T) {
	path := testSocket(t)
	s := NewServer(path)
	block := make(chan struct{})
	s.Handle("hang", func(context.Context, *Conn, json.RawMessage) (any, error) {
		<-block
		return nil, nil
	})
	require.NoError(t, s.Start())
	t.Cleanup(func() { _ = s.Close() })
	t.Cleanup(func() { close(block) })

	c := connect(t, ClientConfig{SocketPath: path})
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err := c.Call(ctx, "hang", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestAutoReconnect(t *testing.T) {
	path := testSocket(t)
	s := NewServer(path)
	require.NoError(t, s.Start())

	c := connect(t, ClientConfig{
		SocketPath:           path,
		AutoReconnect:        true,
		ReconnectDelay:       50 * time.Millisecond,
		MaxReconnectAttempts: 10,
	})
	var res PingResult
	require.NoError(t, c.CallResult(context.Background(), "ping", nil, &res))

	// Bounce the server; a fresh one reuses the same socket path.
	require.NoError(t, s.Close())
	s2 := NewServer(path)
	require.NoError(t, s2.Start())
	t.Cleanup(func() { _ = s2.Close() })

	require.Eventually(t, func() bool {
		return c.Connected()
	}, 5*time.Second, 50*time.Millisecond, "client never reconnected")

	require.NoError(t, c.CallResult(context.Background(), "ping", nil, &res))
	assert.True(t, res.Pong)
}

func TestNoReconnectWhenDisabled(t *testing.T) {
	path := testSocket(t)
	s := NewServer(path)
	require.NoError(t, s.Start())

	c := connect(t, ClientConfig{SocketPath: path})
	require.NoError(t, s.Close())

	require.Eventually(t, func() bool { return !c.Connected() },
		2*time.Second, 20*time.Millisecond)
	time.Sleep(200 * time.Millisecond)
	assert.False(t, c.Connected())
}
