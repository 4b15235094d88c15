// Package daemon is the composition root: it wires the supervisor, the
// config store and watcher, the release monitors, the update pipeline,
// and the RPC server, and exposes every capability as a socket method.
package daemon

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/loykin/shepd/internal/config"
	"github.com/loykin/shepd/internal/env"
	"github.com/loykin/shepd/internal/logger"
	"github.com/loykin/shepd/internal/metrics"
	"github.com/loykin/shepd/internal/rpc"
	"github.com/loykin/shepd/internal/server"
	"github.com/loykin/shepd/internal/supervisor"
	"github.com/loykin/shepd/internal/update"
	"github.com/loykin/shepd/internal/watcher"
)

const scratchSweepInterval = time.Hour

type Daemon struct {
	version  string
	settings config.Settings
	logCfg   logger.Config

	store    *config.Store
	sup      *supervisor.Supervisor
	srv      *rpc.Server
	pipeline *update.Pipeline
	sampler  *metrics.Sampler
	watcher  *watcher.Watcher
	httpSrv  *http.Server

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	monitors  map[string]*serviceMonitor
	follows   map[string]context.CancelFunc
	startedAt time.Time

	shutdownOnce sync.Once
	shutdownCh   chan struct{}
	closeOnce    sync.Once

	wg sync.WaitGroup
}

func New(version string, st config.Settings) (*Daemon, error) {
	store, err := config.NewStore(st.ConfigDir)
	if err != nil {
		return nil, err
	}
	pipeline, err := update.NewPipeline(update.Options{ScratchDir: st.ScratchDir})
	if err != nil {
		return nil, err
	}
	logCfg := logger.Config{
		Dir:        st.LogDir,
		MaxSizeMB:  st.Log.MaxSizeMB,
		MaxBackups: st.Log.MaxBackups,
		MaxAgeDays: st.Log.MaxAgeDays,
		Compress:   st.Log.Compress,
	}
	e := env.New()
	e.FromOS()
	sup := supervisor.New(supervisor.Options{Env: e, Log: logCfg})

	ctx, cancel := context.WithCancel(context.Background())
	d := &Daemon{
		version:    version,
		settings:   st,
		logCfg:     logCfg,
		store:      store,
		sup:        sup,
		srv:        rpc.NewServer(st.SocketPath),
		pipeline:   pipeline,
		ctx:        ctx,
		cancel:     cancel,
		monitors:   make(map[string]*serviceMonitor),
		follows:    make(map[string]context.CancelFunc),
		shutdownCh: make(chan struct{}),
	}
	if st.Metrics.Enabled {
		d.sampler = metrics.NewSampler(st.Metrics.SampleInterval)
	}
	d.registerMethods()
	sup.Subscribe(d.onSupervisorEvent)
	return d, nil
}

func (d *Daemon) SocketPath() string { return d.srv.Path() }

// ShutdownRequested is closed when a client asks the daemon to exit via
// daemon.shutdown. The process owner reacts by calling Shutdown.
func (d *Daemon) ShutdownRequested() <-chan struct{} { return d.shutdownCh }

// Start brings every subsystem up: metrics, registered services, the
// socket server, the config watcher, auto-started services, and the
// periodic update and cleanup schedulers.
func (d *Daemon) Start() error {
	d.mu.Lock()
	d.startedAt = time.Now()
	d.mu.Unlock()

	if d.settings.Metrics.Enabled {
		if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
			return err
		}
		if err := d.sampler.RegisterMetrics(prometheus.DefaultRegisterer); err != nil {
			return err
		}
		d.sampler.Start(d.ctx, d.sup.PIDs)
	}

	configs, err := d.store.List()
	if err != nil {
		return err
	}
	for _, cfg := range configs {
		if err := d.sup.Register(cfg); err != nil {
			slog.Warn("skipping service", "service", cfg.Name, "error", err)
			continue
		}
		d.addMonitor(cfg)
	}

	if err := d.srv.Start(); err != nil {
		return err
	}

	w, err := watcher.New(watcher.Options{Dir: d.store.Dir(), Ext: config.Ext}, d.reconcile)
	if err != nil {
		return err
	}
	if err := w.Start(); err != nil {
		return err
	}
	d.watcher = w

	for _, cfg := range configs {
		if !cfg.AutoStart {
			continue
		}
		if err := d.sup.Start(cfg.Name); err != nil {
			slog.Error("auto-start failed", "service", cfg.Name, "error", err)
		}
	}

	if d.settings.HTTPListen != "" {
		d.httpSrv = server.NewServer(d.settings.HTTPListen, d)
		slog.Info("ops endpoint listening", "addr", d.settings.HTTPListen)
	}

	d.wg.Add(1)
	go d.housekeeping()

	slog.Info("daemon started", "version", d.version, "services", len(configs), "socket", d.srv.Path())
	return nil
}

// housekeeping sweeps stale scratch downloads and keeps the connection
// gauge fresh.
func (d *Daemon) housekeeping() {
	defer d.wg.Done()
	_ = d.pipeline.CleanupDownloads()
	sweep := time.NewTicker(scratchSweepInterval)
	gauge := time.NewTicker(10 * time.Second)
	defer sweep.Stop()
	defer gauge.Stop()
	for {
		select {
		case <-d.ctx.Done():
			return
		case <-sweep.C:
			if err := d.pipeline.CleanupDownloads(); err != nil {
				slog.Warn("scratch cleanup failed", "error", err)
			}
		case <-gauge.C:
			metrics.SetConnections(d.srv.ConnCount())
		}
	}
}

// Shutdown broadcasts the shutdown notification, then stops subsystems
// in reverse dependency order. Safe to call more than once.
func (d *Daemon) Shutdown() {
	d.closeOnce.Do(func() {
		slog.Info("daemon shutting down")
		d.srv.Notify("daemon.shutdown", struct{}{}, nil)

		d.cancel()
		d.stopAllFollows()
		if d.sampler != nil {
			d.sampler.Stop()
		}
		d.sup.Shutdown()
		if d.watcher != nil {
			_ = d.watcher.Close()
		}
		_ = d.srv.Close()
		if d.httpSrv != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			_ = d.httpSrv.Shutdown(ctx)
			cancel()
		}
		d.wg.Wait()
	})
}

func (d *Daemon) onSupervisorEvent(ev supervisor.Event) {
	byService := func(c *rpc.Conn) bool { return c.AllowsService(ev.Service) }
	switch ev.Type {
	case supervisor.Started:
		d.srv.Notify("service.started", ServiceEvent{Service: ev.Service, PID: ev.PID}, byService)
	case supervisor.Stopped:
		d.srv.Notify("service.stopped", ServiceEvent{Service: ev.Service, ExitCode: ev.ExitCode}, byService)
	case supervisor.Errored:
		p := ServiceEvent{Service: ev.Service, ExitCode: ev.ExitCode}
		if ev.Err != nil {
			p.Error = ev.Err.Error()
		}
		d.srv.Notify("service.error", p, byService)
	}
}

// ServiceStatus implements server.StatusProvider with version and
// resource decoration.
func (d *Daemon) ServiceStatus(name string) (supervisor.Status, error) {
	st, err := d.sup.Status(name)
	if err != nil {
		return st, err
	}
	return d.decorate(st), nil
}

func (d *Daemon) AllServiceStatuses() []supervisor.Status {
	all := d.sup.StatusAll()
	for i := range all {
		all[i] = d.decorate(all[i])
	}
	return all
}

func (d *Daemon) decorate(st supervisor.Status) supervisor.Status {
	if m := d.monitor(st.Name); m != nil {
		st.CurrentVersion = m.mon.CurrentVersion()
		st.LatestVersion = m.latest()
	}
	if d.sampler != nil && st.PID > 0 {
		if s, ok := d.sampler.Latest(st.Name); ok {
			st.CPUPercent = s.CPUPercent
			st.MemoryMB = s.MemoryMB
		}
	}
	return st
}

func (d *Daemon) daemonUptime() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.startedAt.IsZero() {
		return 0
	}
	return int64(time.Since(d.startedAt).Seconds())
}

func (d *Daemon) pid() int { return os.Getpid() }
