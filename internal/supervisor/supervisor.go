// Package supervisor owns the live child processes, one per service name.
// Each service runs a serialized control loop; a monitor goroutine per
// spawn observes the exit and feeds the auto-restart policy.
package supervisor

import (
	"log/slog"
	"sync"
	"time"

	"github.com/loykin/shepd/internal/config"
	"github.com/loykin/shepd/internal/env"
	"github.com/loykin/shepd/internal/errdefs"
	"github.com/loykin/shepd/internal/logger"
)

const (
	DefaultSpawnTimeout = 10 * time.Second
	DefaultStartConfirm = 500 * time.Millisecond
	DefaultStopTimeout  = 30 * time.Second
	// DefaultRestartDelay is a fixed interval, not a backoff; the attempt
	// cap bounds the total spawns.
	DefaultRestartDelay = 5 * time.Second
	DefaultMaxRestarts  = 5
)

// Options tunes the supervisor. Zero durations pick the defaults above.
type Options struct {
	Env          *env.Env
	Log          logger.Config
	SpawnTimeout time.Duration
	StartConfirm time.Duration
	StopTimeout  time.Duration
	RestartDelay time.Duration
	MaxRestarts  int
}

// Status is the on-demand projection of one table entry. Version and
// resource fields are filled by the daemon, not tracked here.
type Status struct {
	Name           string     `json:"name"`
	Status         string     `json:"status"`
	PID            int        `json:"pid,omitempty"`
	UptimeSeconds  int64      `json:"uptime,omitempty"`
	StartedAt      *time.Time `json:"startedAt,omitempty"`
	Restarts       int        `json:"restarts"`
	CurrentVersion string     `json:"currentVersion,omitempty"`
	LatestVersion  string     `json:"latestVersion,omitempty"`
	LastError      string     `json:"lastError,omitempty"`
	CPUPercent     float64    `json:"cpuPercent,omitempty"`
	MemoryMB       float64    `json:"memoryMB,omitempty"`
}

type Supervisor struct {
	opts Options
	env  *env.Env

	mu        sync.Mutex
	services  map[string]*service
	listeners []Listener
	closed    bool

	events chan Event
	done   chan struct{}
}

func New(opts Options) *Supervisor {
	if opts.SpawnTimeout <= 0 {
		opts.SpawnTimeout = DefaultSpawnTimeout
	}
	if opts.StartConfirm <= 0 {
		opts.StartConfirm = DefaultStartConfirm
	}
	if opts.StopTimeout <= 0 {
		opts.StopTimeout = DefaultStopTimeout
	}
	if opts.RestartDelay <= 0 {
		opts.RestartDelay = DefaultRestartDelay
	}
	if opts.MaxRestarts <= 0 {
		opts.MaxRestarts = DefaultMaxRestarts
	}
	e := opts.Env
	if e == nil {
		e = env.New()
	}
	s := &Supervisor{
		opts:     opts,
		env:      e,
		services: make(map[string]*service),
		events:   make(chan Event, 64),
		done:     make(chan struct{}),
	}
	go s.dispatch()
	return s
}

// Subscribe adds a lifecycle listener.
func (s *Supervisor) Subscribe(l Listener) {
	s.mu.Lock()
	s.listeners = append(s.listeners, l)
	s.mu.Unlock()
}

// Register adds a stopped table entry for cfg. The config is validated
// here; binary existence is checked at start time.
func (s *Supervisor) Register(cfg config.AppConfig) error {
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errdefs.Process(cfg.Name, "supervisor is shut down", nil)
	}
	if _, ok := s.services[cfg.Name]; ok {
		return errdefs.AlreadyExists("service", cfg.Name)
	}
	s.services[cfg.Name] = newService(s, cfg)
	return nil
}

// UpdateConfig replaces the stored config used by subsequent starts.
func (s *Supervisor) UpdateConfig(cfg config.AppConfig) error {
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return err
	}
	svc, err := s.lookup(cfg.Name)
	if err != nil {
		return err
	}
	return svc.control(ctrlMsg{action: actionUpdate, cfg: &cfg})
}

// Start spawns the registered service. An explicit start resets the
// auto-restart counter.
func (s *Supervisor) Start(name string) error {
	svc, err := s.lookup(name)
	if err != nil {
		return err
	}
	return svc.control(ctrlMsg{action: actionStart, explicit: true})
}

// Stop terminates the service gracefully, escalating to SIGKILL after
// the stop timeout.
func (s *Supervisor) Stop(name string) error {
	svc, err := s.lookup(name)
	if err != nil {
		return err
	}
	return svc.control(ctrlMsg{action: actionStop})
}

// Restart is stop-if-running followed by an explicit start.
func (s *Supervisor) Restart(name string) error {
	svc, err := s.lookup(name)
	if err != nil {
		return err
	}
	return svc.control(ctrlMsg{action: actionRestart, explicit: true})
}

// Remove stops the service if needed and deletes its table entry.
func (s *Supervisor) Remove(name string) error {
	svc, err := s.lookup(name)
	if err != nil {
		return err
	}
	_ = svc.control(ctrlMsg{action: actionShutdown})
	s.mu.Lock()
	delete(s.services, name)
	s.mu.Unlock()
	return nil
}

// SetUpdating marks the service as mid-install so status projects
// "updating" instead of the underlying state.
func (s *Supervisor) SetUpdating(name string, v bool) {
	svc, err := s.lookup(name)
	if err != nil {
		return
	}
	svc.mu.Lock()
	svc.updating = v
	svc.mu.Unlock()
}

// Config returns the stored config for name.
func (s *Supervisor) Config(name string) (config.AppConfig, error) {
	svc, err := s.lookup(name)
	if err != nil {
		return config.AppConfig{}, err
	}
	svc.mu.Lock()
	defer svc.mu.Unlock()
	return svc.cfg, nil
}

// Status projects one live table entry.
func (s *Supervisor) Status(name string) (Status, error) {
	svc, err := s.lookup(name)
	if err != nil {
		return Status{}, err
	}
	return svc.status(), nil
}

// StatusAll projects every entry, sorted by registration map order being
// unstable; callers sort if they need determinism.
func (s *Supervisor) StatusAll() []Status {
	s.mu.Lock()
	svcs := make([]*service, 0, len(s.services))
	for _, svc := range s.services {
		svcs = append(svcs, svc)
	}
	s.mu.Unlock()
	out := make([]Status, 0, len(svcs))
	for _, svc := range svcs {
		out = append(out, svc.status())
	}
	return out
}

// PIDs returns the live process ids, one per running service, for the
// resource sampler.
func (s *Supervisor) PIDs() map[string]int {
	s.mu.Lock()
	svcs := make([]*service, 0, len(s.services))
	for _, svc := range s.services {
		svcs = append(svcs, svc)
	}
	s.mu.Unlock()
	out := make(map[string]int)
	for _, svc := range svcs {
		svc.mu.Lock()
		if svc.state == stateRunning && svc.pid > 0 {
			out[svc.name] = svc.pid
		}
		svc.mu.Unlock()
	}
	return out
}

// Shutdown stops all tracked processes concurrently, clears the table,
// and detaches all listeners.
func (s *Supervisor) Shutdown() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	svcs := make([]*service, 0, len(s.services))
	for _, svc := range s.services {
		svcs = append(svcs, svc)
	}
	s.services = make(map[string]*service)
	s.mu.Unlock()

	var wg sync.WaitGroup
	for _, svc := range svcs {
		wg.Add(1)
		go func(svc *service) {
			defer wg.Done()
			_ = svc.control(ctrlMsg{action: actionShutdown})
		}(svc)
	}
	wg.Wait()

	s.mu.Lock()
	s.listeners = nil
	s.mu.Unlock()
	close(s.events)
	<-s.done
}

func (s *Supervisor) lookup(name string) (*service, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	svc, ok := s.services[name]
	if !ok {
		return nil, errdefs.NotFound("service", name)
	}
	return svc, nil
}

// emit queues an event for dispatch; a full queue drops rather than
// blocking a control loop.
func (s *Supervisor) emit(ev Event) {
	select {
	case s.events <- ev:
	default:
		slog.Warn("supervisor: event queue full, dropping", "type", ev.Type, "service", ev.Service)
	}
}

func (s *Supervisor) dispatch() {
	defer close(s.done)
	for ev := range s.events {
		s.mu.Lock()
		ls := make([]Listener, len(s.listeners))
		copy(ls, s.listeners)
		s.mu.Unlock()
		for _, l := range ls {
			l(ev)
		}
	}
}
