//go:build !windows

package daemon

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/shepd/internal/config"
	"github.com/loykin/shepd/internal/rpc"
)

func testSettings(t *testing.T) config.Settings {
	t.Helper()
	base := t.TempDir()
	return config.Settings{
		ConfigDir:  filepath.Join(base, "services"),
		SocketPath: filepath.Join(base, "shepd.sock"),
		ScratchDir: filepath.Join(base, "downloads"),
		LogDir:     filepath.Join(base, "logs"),
	}
}

func startDaemon(t *testing.T) (*Daemon, config.Settings) {
	t.Helper()
	st := testSettings(t)
	d, err := New("test", st)
	require.NoError(t, err)
	require.NoError(t, d.Start())
	t.Cleanup(d.Shutdown)
	return d, st
}

func dialDaemon(t *testing.T, d *Daemon, onEvent rpc.NotificationHandler) *rpc.Client {
	t.Helper()
	c := rpc.NewClient(rpc.ClientConfig{
		SocketPath:     d.SocketPath(),
		Timeout:        10 * time.Second,
		OnNotification: onEvent,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, c.Connect(ctx))
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func shService(name, script string) config.AppConfig {
	return config.AppConfig{
		Name:       name,
		Repository: "acme/" + name,
		BinaryPath: "/bin/sh",
		Args:       []string{"-c", script},
	}
}

func TestPingAndVersion(t *testing.T) {
	d, _ := startDaemon(t)
	c := dialDaemon(t, d, nil)

	var ping PingResult
	require.NoError(t, c.CallResult(context.Background(), "daemon.ping", nil, &ping))
	assert.True(t, ping.Pong)

	var ver VersionResult
	require.NoError(t, c.CallResult(context.Background(), "daemon.getVersion", nil, &ver))
	assert.Equal(t, "test", ver.Version)
}

func TestDaemonStatus(t *testing.T) {
	d, st := startDaemon(t)
	c := dialDaemon(t, d, nil)

	var got DaemonStatusResult
	require.NoError(t, c.CallResult(context.Background(), "daemon.getStatus", nil, &got))
	assert.Equal(t, "test", got.Version)
	assert.Greater(t, got.PID, 0)
	assert.Equal(t, st.SocketPath, got.SocketPath)
	assert.Equal(t, st.ConfigDir, got.ConfigDir)
	assert.GreaterOrEqual(t, got.Connections, 1)
}

func TestUnknownMethod(t *testing.T) {
	d, _ := startDaemon(t)
	c := dialDaemon(t, d, nil)

	_, err := c.Call(context.Background(), "daemon.doesNotExist", nil)
	require.Error(t, err)
	var rpcErr *rpc.Error
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, rpc.CodeMethodNotFound, rpcErr.Code)
}

func TestServiceAddListGetRemove(t *testing.T) {
	d, st := startDaemon(t)
	c := dialDaemon(t, d, nil)
	ctx := context.Background()

	cfg := shService("web", "sleep 60")
	var ok OKResult
	require.NoError(t, c.CallResult(ctx, "service.add", cfg, &ok))
	assert.True(t, ok.OK)

	// Config file written to the store directory.
	assert.FileExists(t, filepath.Join(st.ConfigDir, "web.json"))

	// Duplicate add is rejected with the exists code.
	_, err := c.Call(ctx, "service.add", cfg)
	require.Error(t, err)
	var rpcErr *rpc.Error
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, rpc.CodeServiceExists, rpcErr.Code)

	var list ServiceListResult
	require.NoError(t, c.CallResult(ctx, "service.list", nil, &list))
	require.Len(t, list.Services, 1)
	assert.Equal(t, "web", list.Services[0].Name)

	var got config.AppConfig
	require.NoError(t, c.CallResult(ctx, "service.get", ServiceParams{Name: "web"}, &got))
	assert.Equal(t, "/bin/sh", got.BinaryPath)

	require.NoError(t, c.CallResult(ctx, "service.remove", ServiceParams{Name: "web"}, &ok))
	require.NoError(t, c.CallResult(ctx, "service.list", nil, &list))
	assert.Empty(t, list.Services)

	_, err = c.Call(ctx, "service.get", ServiceParams{Name: "web"})
	require.Error(t, err)
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, rpc.CodeServiceNotFound, rpcErr.Code)
}

func TestServiceStartStopStatus(t *testing.T) {
	d, _ := startDaemon(t)
	c := dialDaemon(t, d, nil)
	ctx := context.Background()

	require.NoError(t, c.CallResult(ctx, "service.add", shService("web", "sleep 60"), nil))

	var st supervisorStatus
	require.NoError(t, c.CallResult(ctx, "service.start", ServiceParams{Name: "web"}, &st))
	assert.Equal(t, "running", st.Status)
	assert.Greater(t, st.PID, 0)

	require.NoError(t, c.CallResult(ctx, "service.getStatus", ServiceParams{Name: "web"}, &st))
	assert.Equal(t, "running", st.Status)

	var all StatusAllResult
	require.NoError(t, c.CallResult(ctx, "service.getAllStatuses", nil, &all))
	require.Len(t, all.Statuses, 1)

	require.NoError(t, c.CallResult(ctx, "service.stop", ServiceParams{Name: "web"}, &st))
	assert.Equal(t, "stopped", st.Status)

	// Stopping again maps the process error to the operation code.
	_, err := c.Call(ctx, "service.stop", ServiceParams{Name: "web"})
	require.Error(t, err)
	var rpcErr *rpc.Error
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, rpc.CodeOperationFailed, rpcErr.Code)
	assert.Contains(t, rpcErr.Message, "not running")
}

// supervisorStatus decodes the wire shape of a service status without
// importing the supervisor package in assertions.
type supervisorStatus struct {
	Name     string `json:"name"`
	Status   string `json:"status"`
	PID      int    `json:"pid"`
	Restarts int    `json:"restarts"`
}

func TestMissingParams(t *testing.T) {
	d, _ := startDaemon(t)
	c := dialDaemon(t, d, nil)

	_, err := c.Call(context.Background(), "service.start", nil)
	require.Error(t, err)
	var rpcErr *rpc.Error
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, rpc.CodeInvalidParams, rpcErr.Code)
}

func TestServiceEventsDelivered(t *testing.T) {
	d, _ := startDaemon(t)

	events := make(chan string, 16)
	c := dialDaemon(t, d, func(method string, params json.RawMessage) {
		events <- method
	})
	ctx := context.Background()

	require.NoError(t, c.CallResult(ctx, "event.subscribe",
		rpc.SubscribeParams{Events: []string{"service.started", "service.stopped"}}, nil))

	require.NoError(t, c.CallResult(ctx, "service.add", shService("web", "sleep 60"), nil))
	require.NoError(t, c.CallResult(ctx, "service.start", ServiceParams{Name: "web"}, nil))

	waitEvent := func(want string) {
		t.Helper()
		deadline := time.After(5 * time.Second)
		for {
			select {
			case got := <-events:
				if got == want {
					return
				}
			case <-deadline:
				t.Fatalf("no %s event", want)
			}
		}
	}
	waitEvent("service.started")

	require.NoError(t, c.CallResult(ctx, "service.stop", ServiceParams{Name: "web"}, nil))
	waitEvent("service.stopped")
}

func TestLogGet(t *testing.T) {
	d, _ := startDaemon(t)
	c := dialDaemon(t, d, nil)
	ctx := context.Background()

	require.NoError(t, c.CallResult(ctx, "service.add",
		shService("chatty", "echo hello-from-chatty; sleep 60"), nil))
	require.NoError(t, c.CallResult(ctx, "service.start", ServiceParams{Name: "chatty"}, nil))

	require.Eventually(t, func() bool {
		var logs LogLinesResult
		if err := c.CallResult(ctx, "log.get", LogGetParams{Name: "chatty"}, &logs); err != nil {
			return false
		}
		for _, line := range logs.Lines {
			if strings.Contains(line, "hello-from-chatty") {
				return true
			}
		}
		return false
	}, 5*time.Second, 100*time.Millisecond)
}

func TestWatcherPicksUpDroppedConfig(t *testing.T) {
	d, st := startDaemon(t)
	c := dialDaemon(t, d, nil)
	ctx := context.Background()

	cfg := shService("dropped", "sleep 60")
	b, err := json.Marshal(cfg)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(st.ConfigDir, "dropped.json"), b, 0o600))

	require.Eventually(t, func() bool {
		var stResult supervisorStatus
		err := c.CallResult(ctx, "service.getStatus", ServiceParams{Name: "dropped"}, &stResult)
		return err == nil && stResult.Status == "stopped"
	}, 10*time.Second, 100*time.Millisecond, "watcher never registered the dropped config")
}

func TestShutdownRequestedViaRPC(t *testing.T) {
	d, _ := startDaemon(t)
	c := dialDaemon(t, d, nil)

	var ok OKResult
	require.NoError(t, c.CallResult(context.Background(), "daemon.shutdown", nil, &ok))
	assert.True(t, ok.OK)

	select {
	case <-d.ShutdownRequested():
	case <-time.After(2 * time.Second):
		t.Fatal("shutdown channel never closed")
	}
}
