package daemon

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/loykin/shepd/internal/config"
	"github.com/loykin/shepd/internal/metrics"
	"github.com/loykin/shepd/internal/release"
	"github.com/loykin/shepd/internal/rpc"
)

// serviceMonitor pairs one release monitor with its check scheduler.
// applyMu serializes the stop/install/start sequence per service; the
// pipeline's single flight covers the download itself.
type serviceMonitor struct {
	mon    *release.Monitor
	cancel context.CancelFunc

	applyMu sync.Mutex

	mu         sync.Mutex
	latestSeen string
}

func (m *serviceMonitor) latest() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.latestSeen
}

func (m *serviceMonitor) setLatest(v string) {
	m.mu.Lock()
	m.latestSeen = v
	m.mu.Unlock()
}

func (d *Daemon) monitor(name string) *serviceMonitor {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.monitors[name]
}

// addMonitor creates the release monitor and its periodic check loop for
// one registered service. An invalid repository is logged, not fatal:
// the service can still be supervised without updates.
func (d *Daemon) addMonitor(cfg config.AppConfig) {
	mon, err := release.NewMonitor(cfg.Repository, release.Options{Token: d.settings.GithubToken})
	if err != nil {
		slog.Warn("release monitor disabled", "service", cfg.Name, "error", err)
		return
	}
	ctx, cancel := context.WithCancel(d.ctx)
	m := &serviceMonitor{mon: mon, cancel: cancel}

	d.mu.Lock()
	if old, ok := d.monitors[cfg.Name]; ok {
		old.cancel()
		m.mon.SetCurrentVersion(old.mon.CurrentVersion())
	}
	d.monitors[cfg.Name] = m
	d.mu.Unlock()

	interval := time.Duration(cfg.CheckIntervalSeconds) * time.Second
	if interval <= 0 {
		interval = config.DefaultCheckIntervalSeconds * time.Second
	}
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				d.scheduledCheck(ctx, cfg.Name)
			}
		}
	}()
}

func (d *Daemon) removeMonitor(name string) {
	d.mu.Lock()
	m, ok := d.monitors[name]
	if ok {
		delete(d.monitors, name)
	}
	d.mu.Unlock()
	if ok {
		m.cancel()
	}
}

// scheduledCheck is one tick of the per-service poll: check, announce,
// and apply when auto-update is on.
func (d *Daemon) scheduledCheck(ctx context.Context, name string) {
	check, err := d.checkService(ctx, name)
	if err != nil {
		slog.Warn("update check failed", "service", name, "error", err)
		return
	}
	if !check.Available {
		return
	}
	if !d.settings.AutoUpdate {
		return
	}
	if _, err := d.applyUpdate(ctx, name); err != nil {
		slog.Error("auto-update failed", "service", name, "error", err)
	}
}

// checkService polls the release source once and announces availability.
func (d *Daemon) checkService(ctx context.Context, name string) (release.Check, error) {
	m := d.monitor(name)
	if m == nil {
		if _, err := d.sup.Status(name); err != nil {
			return release.Check{}, err
		}
		return release.Check{}, rpc.Errorf(rpc.CodeOperationFailed, "no release monitor for %s", name)
	}
	check, err := m.mon.CheckForUpdate(ctx)
	if err != nil {
		return check, err
	}
	m.setLatest(check.LatestVersion)
	if check.Available {
		d.srv.Notify("update.available", UpdateEvent{
			Service:        name,
			CurrentVersion: check.CurrentVersion,
			LatestVersion:  check.LatestVersion,
			Tag:            check.Release.Tag,
		}, func(c *rpc.Conn) bool { return c.AllowsService(name) })
	}
	return check, nil
}

// applyUpdate runs the full pipeline for one service: stop if running,
// install with rollback, move the version baseline, restart. A failed
// install leaves the restored previous binary running again.
func (d *Daemon) applyUpdate(ctx context.Context, name string) (UpdateApplyResult, error) {
	m := d.monitor(name)
	if m == nil {
		if _, err := d.sup.Status(name); err != nil {
			return UpdateApplyResult{}, err
		}
		return UpdateApplyResult{}, rpc.Errorf(rpc.CodeOperationFailed, "no release monitor for %s", name)
	}
	m.applyMu.Lock()
	defer m.applyMu.Unlock()

	check, err := m.mon.CheckForUpdate(ctx)
	if err != nil {
		return UpdateApplyResult{}, err
	}
	m.setLatest(check.LatestVersion)
	if !check.Available {
		return UpdateApplyResult{Service: name, Applied: false, Message: "already up to date"}, nil
	}

	cfg, err := d.sup.Config(name)
	if err != nil {
		return UpdateApplyResult{}, err
	}

	byService := func(c *rpc.Conn) bool { return c.AllowsService(name) }
	d.srv.Notify("update.started", UpdateEvent{
		Service:        name,
		CurrentVersion: check.CurrentVersion,
		LatestVersion:  check.LatestVersion,
		Tag:            check.Release.Tag,
	}, byService)

	d.sup.SetUpdating(name, true)
	defer d.sup.SetUpdating(name, false)

	wasRunning := false
	if st, err := d.sup.Status(name); err == nil && st.PID > 0 {
		wasRunning = true
		if err := d.sup.Stop(name); err != nil {
			return UpdateApplyResult{}, err
		}
	}

	target := config.ExpandHome(cfg.BinaryPath)
	begin := time.Now()
	installErr := d.pipeline.DownloadAndInstall(ctx, name, check.Release, target)
	metrics.ObserveInstall(name, time.Since(begin).Seconds(), installErr)

	if installErr != nil {
		d.srv.Notify("update.failed", UpdateEvent{
			Service:       name,
			LatestVersion: check.LatestVersion,
			Tag:           check.Release.Tag,
			Error:         installErr.Error(),
		}, byService)
		// The pipeline restored the backup, so the previous binary can
		// come back up.
		if wasRunning {
			if err := d.sup.Start(name); err != nil {
				slog.Error("restart after failed update", "service", name, "error", err)
			}
		}
		return UpdateApplyResult{}, installErr
	}

	m.mon.SetCurrentVersion(check.LatestVersion)
	if wasRunning {
		if err := d.sup.Start(name); err != nil {
			return UpdateApplyResult{}, err
		}
	}
	d.srv.Notify("update.completed", UpdateEvent{
		Service:        name,
		CurrentVersion: check.LatestVersion,
		Tag:            check.Release.Tag,
	}, byService)
	slog.Info("update applied", "service", name, "version", check.LatestVersion)
	return UpdateApplyResult{Service: name, Applied: true, Version: check.LatestVersion}, nil
}
