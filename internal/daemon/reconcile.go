package daemon

import (
	"log/slog"

	"github.com/loykin/shepd/internal/errdefs"
	"github.com/loykin/shepd/internal/rpc"
	"github.com/loykin/shepd/internal/watcher"
)

// reconcile turns one debounced filesystem event into supervisor state.
// Invoked from the watcher's timer goroutines, one event at a time per
// file.
func (d *Daemon) reconcile(ev watcher.Event) {
	byService := func(c *rpc.Conn) bool { return c.AllowsService(ev.Name) }
	d.srv.Notify("config.changed", ConfigEvent{Service: ev.Name, Change: string(ev.Type)}, byService)

	switch ev.Type {
	case watcher.Created:
		d.reconcileCreated(ev.Name)
	case watcher.Updated:
		d.reconcileUpdated(ev.Name, byService)
	case watcher.Deleted:
		d.reconcileDeleted(ev.Name)
	}
}

func (d *Daemon) reconcileCreated(name string) {
	cfg, err := d.store.Load(name)
	if err != nil {
		slog.Warn("ignoring unreadable new config", "service", name, "error", err)
		return
	}
	if err := d.sup.Register(cfg); err != nil {
		if !errdefs.IsAlreadyExists(err) {
			slog.Warn("register failed", "service", name, "error", err)
			return
		}
		// service.add already registered it; refresh the config instead.
		if err := d.sup.UpdateConfig(cfg); err != nil {
			slog.Warn("config refresh failed", "service", name, "error", err)
			return
		}
	} else {
		d.addMonitor(cfg)
	}
	slog.Info("config created", "service", name)
	if cfg.AutoStart {
		if st, err := d.sup.Status(name); err == nil && st.PID == 0 {
			if err := d.sup.Start(name); err != nil {
				slog.Error("auto-start failed", "service", name, "error", err)
			}
		}
	}
}

func (d *Daemon) reconcileUpdated(name string, byService func(*rpc.Conn) bool) {
	cfg, err := d.store.Load(name)
	if err != nil {
		slog.Warn("ignoring unreadable config change", "service", name, "error", err)
		return
	}
	prev, prevErr := d.sup.Config(name)
	if err := d.sup.UpdateConfig(cfg); err != nil {
		if !errdefs.IsNotFound(err) {
			slog.Warn("config reload failed", "service", name, "error", err)
			return
		}
		if err := d.sup.Register(cfg); err != nil {
			slog.Warn("register failed", "service", name, "error", err)
			return
		}
	}
	if prevErr != nil || prev.Repository != cfg.Repository ||
		prev.CheckIntervalSeconds != cfg.CheckIntervalSeconds {
		d.addMonitor(cfg)
	}
	slog.Info("config reloaded", "service", name)
	d.srv.Notify("config.reloaded", ConfigEvent{Service: name, Change: "reloaded"}, byService)

	// A running service restarts so the new run spec takes effect.
	if st, err := d.sup.Status(name); err == nil && st.PID > 0 {
		if err := d.sup.Restart(name); err != nil {
			slog.Error("restart after config change failed", "service", name, "error", err)
		}
	}
}

func (d *Daemon) reconcileDeleted(name string) {
	d.stopFollow(name)
	d.removeMonitor(name)
	if err := d.sup.Remove(name); err != nil && !errdefs.IsNotFound(err) {
		slog.Warn("remove failed", "service", name, "error", err)
		return
	}
	slog.Info("config deleted, service removed", "service", name)
}
