// Package client is the typed control client for the shepd daemon. It
// wraps the socket RPC transport with one method per daemon capability
// and is the same surface the CLI uses.
package client

import (
	"context"
	"encoding/json"
	"time"

	"github.com/loykin/shepd/internal/rpc"
)

// EventHandler receives pushed daemon notifications after Subscribe.
// It runs on the transport read loop and must not block.
type EventHandler func(event string, params json.RawMessage)

// Options configures a Client. The zero value talks to the default
// socket with the default request timeout and no reconnection.
type Options struct {
	SocketPath           string
	Timeout              time.Duration
	AutoReconnect        bool
	MaxReconnectAttempts int
	ReconnectDelay       time.Duration
	OnEvent              EventHandler
}

type Client struct {
	rpc *rpc.Client
}

func New(opts Options) *Client {
	cfg := rpc.ClientConfig{
		SocketPath:           opts.SocketPath,
		Timeout:              opts.Timeout,
		AutoReconnect:        opts.AutoReconnect,
		MaxReconnectAttempts: opts.MaxReconnectAttempts,
		ReconnectDelay:       opts.ReconnectDelay,
	}
	if opts.OnEvent != nil {
		cfg.OnNotification = rpc.NotificationHandler(opts.OnEvent)
	}
	return &Client{rpc: rpc.NewClient(cfg)}
}

// Connect dials the daemon socket. rpc.IsDaemonNotRunning distinguishes
// a missing socket from a stale one.
func (c *Client) Connect(ctx context.Context) error {
	return c.rpc.Connect(ctx)
}

func (c *Client) Close() error       { return c.rpc.Close() }
func (c *Client) SocketPath() string { return c.rpc.SocketPath() }

func (c *Client) Ping(ctx context.Context) error {
	return c.rpc.CallResult(ctx, "daemon.ping", nil, nil)
}

func (c *Client) Version(ctx context.Context) (string, error) {
	var out struct {
		Version string `json:"version"`
	}
	err := c.rpc.CallResult(ctx, "daemon.getVersion", nil, &out)
	return out.Version, err
}

func (c *Client) DaemonStatus(ctx context.Context) (DaemonStatus, error) {
	var out DaemonStatus
	err := c.rpc.CallResult(ctx, "daemon.getStatus", nil, &out)
	return out, err
}

// ShutdownDaemon asks the daemon to exit.
func (c *Client) ShutdownDaemon(ctx context.Context) error {
	return c.rpc.CallResult(ctx, "daemon.shutdown", nil, nil)
}

func (c *Client) AddService(ctx context.Context, cfg ServiceConfig) error {
	return c.rpc.CallResult(ctx, "service.add", cfg, nil)
}

func (c *Client) RemoveService(ctx context.Context, name string) error {
	return c.rpc.CallResult(ctx, "service.remove", named(name), nil)
}

func (c *Client) ListServices(ctx context.Context) ([]ServiceConfig, error) {
	var out struct {
		Services []ServiceConfig `json:"services"`
	}
	err := c.rpc.CallResult(ctx, "service.list", nil, &out)
	return out.Services, err
}

func (c *Client) GetService(ctx context.Context, name string) (ServiceConfig, error) {
	var out ServiceConfig
	err := c.rpc.CallResult(ctx, "service.get", named(name), &out)
	return out, err
}

func (c *Client) StartService(ctx context.Context, name string) (ServiceStatus, error) {
	var out ServiceStatus
	err := c.rpc.CallResult(ctx, "service.start", named(name), &out)
	return out, err
}

func (c *Client) StopService(ctx context.Context, name string) (ServiceStatus, error) {
	var out ServiceStatus
	err := c.rpc.CallResult(ctx, "service.stop", named(name), &out)
	return out, err
}

func (c *Client) RestartService(ctx context.Context, name string) (ServiceStatus, error) {
	var out ServiceStatus
	err := c.rpc.CallResult(ctx, "service.restart", named(name), &out)
	return out, err
}

func (c *Client) ServiceStatus(ctx context.Context, name string) (ServiceStatus, error) {
	var out ServiceStatus
	err := c.rpc.CallResult(ctx, "service.getStatus", named(name), &out)
	return out, err
}

func (c *Client) AllServiceStatuses(ctx context.Context) ([]ServiceStatus, error) {
	var out struct {
		Statuses []ServiceStatus `json:"statuses"`
	}
	err := c.rpc.CallResult(ctx, "service.getAllStatuses", nil, &out)
	return out.Statuses, err
}

func (c *Client) CheckUpdate(ctx context.Context, name string) (UpdateCheck, error) {
	var out UpdateCheck
	err := c.rpc.CallResult(ctx, "update.check", named(name), &out)
	return out, err
}

func (c *Client) ApplyUpdate(ctx context.Context, name string) (UpdateApply, error) {
	var out UpdateApply
	err := c.rpc.CallResult(ctx, "update.apply", named(name), &out)
	return out, err
}

func (c *Client) Logs(ctx context.Context, name string, lines int) (LogLines, error) {
	var out LogLines
	params := struct {
		Name  string `json:"name"`
		Lines int    `json:"lines,omitempty"`
	}{name, lines}
	err := c.rpc.CallResult(ctx, "log.get", params, &out)
	return out, err
}

// StreamLogs starts a server-side follow; lines arrive as log.line
// events on the OnEvent handler (subscribe to them first).
func (c *Client) StreamLogs(ctx context.Context, name string, initialLines int) error {
	params := struct {
		Name         string `json:"name"`
		InitialLines int    `json:"initialLines,omitempty"`
	}{name, initialLines}
	return c.rpc.CallResult(ctx, "log.stream", params, nil)
}

func (c *Client) StopLogStream(ctx context.Context, name string) error {
	return c.rpc.CallResult(ctx, "log.stopStream", named(name), nil)
}

// Subscribe replaces the connection's event and service filters. Empty
// slices subscribe to every event for every service.
func (c *Client) Subscribe(ctx context.Context, events, services []string) error {
	params := struct {
		Events   []string `json:"events,omitempty"`
		Services []string `json:"services,omitempty"`
	}{events, services}
	return c.rpc.CallResult(ctx, "event.subscribe", params, nil)
}

func (c *Client) Unsubscribe(ctx context.Context) error {
	return c.rpc.CallResult(ctx, "event.unsubscribe", nil, nil)
}

func named(name string) any {
	return struct {
		Name string `json:"name"`
	}{name}
}
