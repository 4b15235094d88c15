package daemon

import (
	"context"
	"encoding/json"

	"github.com/loykin/shepd/internal/config"
	"github.com/loykin/shepd/internal/errdefs"
	"github.com/loykin/shepd/internal/metrics"
	"github.com/loykin/shepd/internal/rpc"
	"github.com/loykin/shepd/internal/supervisor"
)

// Wire parameter and result shapes, one concrete type per method.

type ServiceParams struct {
	Name string `json:"name"`
}

type LogGetParams struct {
	Name  string `json:"name"`
	Lines int    `json:"lines,omitempty"`
}

type LogStreamParams struct {
	Name         string `json:"name"`
	InitialLines int    `json:"initialLines,omitempty"`
}

type PingResult struct {
	Pong bool `json:"pong"`
}

type VersionResult struct {
	Version string `json:"version"`
}

type OKResult struct {
	OK bool `json:"ok"`
}

type DaemonStatusResult struct {
	Version       string `json:"version"`
	PID           int    `json:"pid"`
	UptimeSeconds int64  `json:"uptime"`
	Services      int    `json:"services"`
	Connections   int    `json:"connections"`
	SocketPath    string `json:"socketPath"`
	ConfigDir     string `json:"configDir"`
}

type ServiceListResult struct {
	Services []config.AppConfig `json:"services"`
}

type StatusAllResult struct {
	Statuses []supervisor.Status `json:"statuses"`
}

type LogLinesResult struct {
	Service string   `json:"service"`
	Lines   []string `json:"lines"`
}

type StreamResult struct {
	Service   string `json:"service"`
	Streaming bool   `json:"streaming"`
}

type UpdateApplyResult struct {
	Service string `json:"service"`
	Applied bool   `json:"applied"`
	Version string `json:"version,omitempty"`
	Message string `json:"message,omitempty"`
}

// Notification payloads.

type ServiceEvent struct {
	Service  string `json:"service"`
	PID      int    `json:"pid,omitempty"`
	ExitCode int    `json:"exitCode,omitempty"`
	Error    string `json:"error,omitempty"`
}

type UpdateEvent struct {
	Service        string `json:"service"`
	CurrentVersion string `json:"currentVersion,omitempty"`
	LatestVersion  string `json:"latestVersion,omitempty"`
	Tag            string `json:"tag,omitempty"`
	Error          string `json:"error,omitempty"`
}

type ConfigEvent struct {
	Service string `json:"service"`
	Change  string `json:"change"`
}

type LogLineEvent struct {
	Service string `json:"service"`
	Line    string `json:"line"`
}

func (d *Daemon) registerMethods() {
	d.handle("daemon.ping", d.handlePing)
	d.handle("daemon.getVersion", d.handleGetVersion)
	d.handle("daemon.getStatus", d.handleDaemonStatus)
	d.handle("daemon.shutdown", d.handleShutdown)

	d.handle("service.add", d.handleServiceAdd)
	d.handle("service.remove", d.handleServiceRemove)
	d.handle("service.list", d.handleServiceList)
	d.handle("service.get", d.handleServiceGet)
	d.handle("service.start", d.handleServiceStart)
	d.handle("service.stop", d.handleServiceStop)
	d.handle("service.restart", d.handleServiceRestart)
	d.handle("service.getStatus", d.handleServiceStatus)
	d.handle("service.getAllStatuses", d.handleServiceStatusAll)

	d.handle("update.check", d.handleUpdateCheck)
	d.handle("update.apply", d.handleUpdateApply)

	d.handle("log.get", d.handleLogGet)
	d.handle("log.stream", d.handleLogStream)
	d.handle("log.stopStream", d.handleLogStopStream)

	d.handle("event.subscribe", d.handleSubscribe)
	d.handle("event.unsubscribe", d.handleUnsubscribe)
}

// handle wraps a method handler with the request counter.
func (d *Daemon) handle(method string, h rpc.HandlerFunc) {
	d.srv.Handle(method, func(ctx context.Context, c *rpc.Conn, params json.RawMessage) (any, error) {
		result, err := h(ctx, c, params)
		metrics.IncRPCRequest(method, err != nil)
		return result, err
	})
}

func decodeParams(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return rpc.Errorf(rpc.CodeInvalidParams, "decode params: %v", err)
	}
	return nil
}

func serviceName(raw json.RawMessage) (string, error) {
	var p ServiceParams
	if err := decodeParams(raw, &p); err != nil {
		return "", err
	}
	if p.Name == "" {
		return "", rpc.Errorf(rpc.CodeInvalidParams, "service name is required")
	}
	return p.Name, nil
}

func (d *Daemon) handlePing(context.Context, *rpc.Conn, json.RawMessage) (any, error) {
	return PingResult{Pong: true}, nil
}

func (d *Daemon) handleGetVersion(context.Context, *rpc.Conn, json.RawMessage) (any, error) {
	return VersionResult{Version: d.version}, nil
}

func (d *Daemon) handleDaemonStatus(context.Context, *rpc.Conn, json.RawMessage) (any, error) {
	return DaemonStatusResult{
		Version:       d.version,
		PID:           d.pid(),
		UptimeSeconds: d.daemonUptime(),
		Services:      len(d.sup.StatusAll()),
		Connections:   d.srv.ConnCount(),
		SocketPath:    d.srv.Path(),
		ConfigDir:     d.store.Dir(),
	}, nil
}

func (d *Daemon) handleShutdown(context.Context, *rpc.Conn, json.RawMessage) (any, error) {
	d.shutdownOnce.Do(func() { close(d.shutdownCh) })
	return OKResult{OK: true}, nil
}

func (d *Daemon) handleServiceAdd(_ context.Context, _ *rpc.Conn, raw json.RawMessage) (any, error) {
	var cfg config.AppConfig
	if err := decodeParams(raw, &cfg); err != nil {
		return nil, err
	}
	if d.store.Exists(cfg.Name) {
		return nil, errdefs.AlreadyExists("service", cfg.Name)
	}
	if err := d.store.Save(cfg); err != nil {
		return nil, err
	}
	cfg.Normalize()
	// Register now rather than waiting out the watcher debounce; the
	// watcher's created event is then treated as a config refresh.
	if err := d.sup.Register(cfg); err != nil && !errdefs.IsAlreadyExists(err) {
		return nil, err
	}
	d.addMonitor(cfg)
	if cfg.AutoStart {
		if err := d.sup.Start(cfg.Name); err != nil {
			return nil, err
		}
	}
	return OKResult{OK: true}, nil
}

func (d *Daemon) handleServiceRemove(_ context.Context, _ *rpc.Conn, raw json.RawMessage) (any, error) {
	name, err := serviceName(raw)
	if err != nil {
		return nil, err
	}
	if !d.store.Exists(name) {
		return nil, errdefs.NotFound("service", name)
	}
	d.stopFollow(name)
	d.removeMonitor(name)
	_ = d.sup.Remove(name)
	if err := d.store.Delete(name); err != nil {
		return nil, err
	}
	return OKResult{OK: true}, nil
}

func (d *Daemon) handleServiceList(context.Context, *rpc.Conn, json.RawMessage) (any, error) {
	configs, err := d.store.List()
	if err != nil {
		return nil, err
	}
	return ServiceListResult{Services: configs}, nil
}

func (d *Daemon) handleServiceGet(_ context.Context, _ *rpc.Conn, raw json.RawMessage) (any, error) {
	name, err := serviceName(raw)
	if err != nil {
		return nil, err
	}
	return d.store.Load(name)
}

func (d *Daemon) handleServiceStart(_ context.Context, _ *rpc.Conn, raw json.RawMessage) (any, error) {
	name, err := serviceName(raw)
	if err != nil {
		return nil, err
	}
	if err := d.sup.Start(name); err != nil {
		return nil, err
	}
	return d.ServiceStatus(name)
}

func (d *Daemon) handleServiceStop(_ context.Context, _ *rpc.Conn, raw json.RawMessage) (any, error) {
	name, err := serviceName(raw)
	if err != nil {
		return nil, err
	}
	if err := d.sup.Stop(name); err != nil {
		return nil, err
	}
	return d.ServiceStatus(name)
}

func (d *Daemon) handleServiceRestart(_ context.Context, _ *rpc.Conn, raw json.RawMessage) (any, error) {
	name, err := serviceName(raw)
	if err != nil {
		return nil, err
	}
	if err := d.sup.Restart(name); err != nil {
		return nil, err
	}
	return d.ServiceStatus(name)
}

func (d *Daemon) handleServiceStatus(_ context.Context, _ *rpc.Conn, raw json.RawMessage) (any, error) {
	name, err := serviceName(raw)
	if err != nil {
		return nil, err
	}
	return d.ServiceStatus(name)
}

func (d *Daemon) handleServiceStatusAll(context.Context, *rpc.Conn, json.RawMessage) (any, error) {
	return StatusAllResult{Statuses: d.AllServiceStatuses()}, nil
}

func (d *Daemon) handleUpdateCheck(ctx context.Context, _ *rpc.Conn, raw json.RawMessage) (any, error) {
	name, err := serviceName(raw)
	if err != nil {
		return nil, err
	}
	return d.checkService(ctx, name)
}

func (d *Daemon) handleUpdateApply(ctx context.Context, _ *rpc.Conn, raw json.RawMessage) (any, error) {
	name, err := serviceName(raw)
	if err != nil {
		return nil, err
	}
	return d.applyUpdate(ctx, name)
}

func (d *Daemon) handleLogGet(_ context.Context, _ *rpc.Conn, raw json.RawMessage) (any, error) {
	var p LogGetParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	if p.Name == "" {
		return nil, rpc.Errorf(rpc.CodeInvalidParams, "service name is required")
	}
	if _, err := d.sup.Status(p.Name); err != nil {
		return nil, err
	}
	lines := p.Lines
	if lines <= 0 {
		lines = 50
	}
	out, err := d.readLogTail(p.Name, lines)
	if err != nil {
		return nil, errdefs.Install("read service log", err)
	}
	return LogLinesResult{Service: p.Name, Lines: out}, nil
}

func (d *Daemon) handleLogStream(_ context.Context, _ *rpc.Conn, raw json.RawMessage) (any, error) {
	var p LogStreamParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	if p.Name == "" {
		return nil, rpc.Errorf(rpc.CodeInvalidParams, "service name is required")
	}
	if _, err := d.sup.Status(p.Name); err != nil {
		return nil, err
	}
	d.startFollow(p.Name, p.InitialLines)
	return StreamResult{Service: p.Name, Streaming: true}, nil
}

func (d *Daemon) handleLogStopStream(_ context.Context, _ *rpc.Conn, raw json.RawMessage) (any, error) {
	name, err := serviceName(raw)
	if err != nil {
		return nil, err
	}
	d.stopFollow(name)
	return StreamResult{Service: name, Streaming: false}, nil
}

func (d *Daemon) handleSubscribe(_ context.Context, c *rpc.Conn, raw json.RawMessage) (any, error) {
	var p rpc.SubscribeParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	c.Subscribe(p.Events, p.Services)
	return rpc.SubscribeResult{Subscribed: true, Events: p.Events, Services: p.Services}, nil
}

func (d *Daemon) handleUnsubscribe(_ context.Context, c *rpc.Conn, _ json.RawMessage) (any, error) {
	c.Unsubscribe()
	return rpc.SubscribeResult{Subscribed: false}, nil
}
