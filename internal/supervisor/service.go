package supervisor

import (
	"errors"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/loykin/shepd/internal/config"
	"github.com/loykin/shepd/internal/errdefs"
	"github.com/loykin/shepd/internal/logger"
	"github.com/loykin/shepd/internal/metrics"
)

type state int

const (
	stateStopped state = iota
	stateStarting
	stateRunning
	stateStopping
	stateRestarting
	stateErrored
)

func (s state) String() string {
	switch s {
	case stateStopped:
		return "stopped"
	case stateStarting:
		return "starting"
	case stateRunning:
		return "running"
	case stateStopping:
		return "stopping"
	case stateRestarting:
		return "restarting"
	case stateErrored:
		return "errored"
	default:
		return "unknown"
	}
}

type ctrlAction int

const (
	actionStart ctrlAction = iota
	actionStop
	actionRestart
	actionUpdate
	actionShutdown
)

type ctrlMsg struct {
	action   ctrlAction
	cfg      *config.AppConfig
	explicit bool
	reply    chan error
}

type exitMsg struct {
	gen int
	err error
}

// service is one table entry. The loop goroutine owns cmd, sink, and the
// restart timer; the mutex guards the fields status readers touch.
type service struct {
	sup  *Supervisor
	name string

	ctrl      chan ctrlMsg
	exitCh    chan exitMsg
	restartCh chan int
	done      chan struct{}

	mu        sync.Mutex
	cfg       config.AppConfig
	state     state
	pid       int
	startedAt time.Time
	restarts  int
	lastErr   error
	updating  bool
	gen       int
	stopReq   bool

	// loop-owned
	cmd          *exec.Cmd
	sink         *logger.ServiceLog
	restartTimer *time.Timer
}

func newService(sup *Supervisor, cfg config.AppConfig) *service {
	s := &service{
		sup:       sup,
		name:      cfg.Name,
		cfg:       cfg,
		ctrl:      make(chan ctrlMsg),
		exitCh:    make(chan exitMsg, 1),
		restartCh: make(chan int, 1),
		done:      make(chan struct{}),
	}
	go s.loop()
	return s
}

// control sends one command to the loop and waits for its outcome.
func (s *service) control(msg ctrlMsg) error {
	msg.reply = make(chan error, 1)
	select {
	case s.ctrl <- msg:
		return <-msg.reply
	case <-s.done:
		return errdefs.Process(s.name, "service removed", nil)
	}
}

func (s *service) loop() {
	for {
		select {
		case msg := <-s.ctrl:
			var err error
			switch msg.action {
			case actionStart:
				err = s.doStart(msg.explicit)
			case actionStop:
				err = s.doStop()
			case actionRestart:
				if s.currentState() == stateRunning || s.currentState() == stateRestarting {
					err = s.doStop()
				}
				if err == nil {
					err = s.doStart(msg.explicit)
				}
			case actionUpdate:
				s.mu.Lock()
				s.cfg = *msg.cfg
				s.mu.Unlock()
			case actionShutdown:
				st := s.currentState()
				if st == stateRunning || st == stateRestarting {
					_ = s.doStop()
				}
				s.cancelRestartTimer()
				msg.reply <- nil
				close(s.done)
				return
			}
			msg.reply <- err

		case em := <-s.exitCh:
			s.handleExit(em)

		case gen := <-s.restartCh:
			s.handleRestartTick(gen)
		}
	}
}

func (s *service) currentState() state {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *service) setState(next state) {
	s.mu.Lock()
	prev := s.state
	s.state = next
	s.mu.Unlock()
	metrics.SetServiceState(s.name, prev.String(), false)
	metrics.SetServiceState(s.name, next.String(), true)
}

// doStart spawns the child and waits through the confirmation window.
// Runs on the loop goroutine only.
func (s *service) doStart(explicit bool) error {
	s.mu.Lock()
	st := s.state
	cfg := s.cfg
	s.mu.Unlock()

	switch st {
	case stateRunning, stateStarting:
		return errdefs.Process(s.name, "already running", nil)
	case stateStopping:
		return errdefs.Process(s.name, "stop in progress", nil)
	case stateRestarting:
		s.cancelRestartTimer()
	}

	binary := config.ExpandHome(cfg.BinaryPath)
	if _, err := os.Stat(binary); err != nil {
		return errdefs.Validationf("binary %s does not exist", binary)
	}

	sink, err := s.sup.opts.Log.Open(s.name)
	if err != nil {
		return errdefs.Process(s.name, "open service log", err)
	}

	cmd := exec.Command(binary, cfg.Args...)
	if cfg.WorkingDirectory != "" {
		cmd.Dir = config.ExpandHome(cfg.WorkingDirectory)
	}
	cmd.Env = s.sup.env.Merge(cfg.Env)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	stdout := sink.Stream("stdout")
	stderr := sink.Stream("stderr")
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	s.setState(stateStarting)
	s.mu.Lock()
	s.stopReq = false
	s.mu.Unlock()

	startErr := make(chan error, 1)
	go func() { startErr <- cmd.Start() }()
	select {
	case err := <-startErr:
		if err != nil {
			_ = sink.Close()
			s.failStart(errdefs.Process(s.name, "spawn failed", err))
			return s.lastError()
		}
	case <-time.After(s.sup.opts.SpawnTimeout):
		// Reap the stray child if the start ever completes.
		go func() {
			if err := <-startErr; err == nil {
				_ = cmd.Process.Kill()
				_ = cmd.Wait()
			}
			_ = sink.Close()
		}()
		s.failStart(errdefs.Timeout("spawn "+s.name, s.sup.opts.SpawnTimeout))
		return s.lastError()
	}

	s.mu.Lock()
	s.gen++
	gen := s.gen
	s.mu.Unlock()
	s.cmd = cmd
	s.sink = sink

	go func() {
		err := cmd.Wait()
		_ = stdout.Close()
		_ = stderr.Close()
		s.exitCh <- exitMsg{gen: gen, err: err}
	}()

	// The process must still be up at the end of the confirmation window
	// for the start to count.
	select {
	case em := <-s.exitCh:
		s.finalizeExit()
		perr := errdefs.Process(s.name, "exited during start confirmation", em.err)
		s.failStart(perr)
		return perr
	case <-time.After(s.sup.opts.StartConfirm):
	}

	s.mu.Lock()
	s.state = stateRunning
	s.pid = cmd.Process.Pid
	s.startedAt = time.Now()
	s.lastErr = nil
	if explicit {
		s.restarts = 0
	}
	pid := s.pid
	s.mu.Unlock()
	metrics.SetServiceState(s.name, stateStarting.String(), false)
	metrics.SetServiceState(s.name, stateRunning.String(), true)
	metrics.IncServiceStart(s.name)

	slog.Info("service started", "service", s.name, "pid", pid)
	s.sup.emit(Event{Type: Started, Service: s.name, PID: pid})
	return nil
}

func (s *service) failStart(err error) {
	s.mu.Lock()
	s.state = stateStopped
	s.pid = 0
	s.lastErr = err
	s.mu.Unlock()
}

func (s *service) lastError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// doStop terminates the child: SIGTERM to the process group, SIGKILL
// after the stop timeout. Runs on the loop goroutine only.
func (s *service) doStop() error {
	s.mu.Lock()
	st := s.state
	pid := s.pid
	s.mu.Unlock()

	if st == stateRestarting {
		// Cancel the pending respawn instead of signaling a dead process.
		s.cancelRestartTimer()
		s.setState(stateStopped)
		return nil
	}
	if st != stateRunning && st != stateStarting {
		return errdefs.Process(s.name, "not running", nil)
	}

	s.mu.Lock()
	s.stopReq = true
	s.mu.Unlock()
	s.setState(stateStopping)

	_ = syscall.Kill(-pid, syscall.SIGTERM)
	var em exitMsg
	select {
	case em = <-s.exitCh:
	case <-time.After(s.sup.opts.StopTimeout):
		slog.Warn("service ignored SIGTERM, killing", "service", s.name, "pid", pid)
		_ = syscall.Kill(-pid, syscall.SIGKILL)
		em = <-s.exitCh
	}

	s.finalizeExit()
	code := exitCode(em.err)
	s.mu.Lock()
	s.state = stateStopped
	s.pid = 0
	s.mu.Unlock()
	metrics.SetServiceState(s.name, stateStopping.String(), false)
	metrics.SetServiceState(s.name, stateStopped.String(), true)
	metrics.IncServiceStop(s.name)

	slog.Info("service stopped", "service", s.name, "code", code)
	s.sup.emit(Event{Type: Stopped, Service: s.name, ExitCode: code})
	return nil
}

// handleExit deals with an exit the loop did not ask for.
func (s *service) handleExit(em exitMsg) {
	s.mu.Lock()
	if em.gen != s.gen {
		s.mu.Unlock()
		return
	}
	cfg := s.cfg
	restarts := s.restarts
	stopReq := s.stopReq
	s.pid = 0
	s.mu.Unlock()
	s.finalizeExit()

	code := exitCode(em.err)
	s.sup.emit(Event{Type: Stopped, Service: s.name, ExitCode: code})

	if stopReq || code == 0 {
		s.setState(stateStopped)
		return
	}

	perr := errdefs.Process(s.name, "exited unexpectedly", em.err)
	s.mu.Lock()
	s.lastErr = perr
	s.mu.Unlock()

	if cfg.AutoRestart && restarts < s.sup.opts.MaxRestarts {
		s.scheduleRestart()
		return
	}
	s.setState(stateErrored)
	slog.Error("service errored", "service", s.name, "code", code, "restarts", restarts)
	s.sup.emit(Event{Type: Errored, Service: s.name, ExitCode: code, Err: perr})
}

func (s *service) scheduleRestart() {
	s.mu.Lock()
	s.restarts++
	attempt := s.restarts
	gen := s.gen
	s.mu.Unlock()
	s.setState(stateRestarting)
	metrics.IncServiceRestart(s.name)

	slog.Info("scheduling restart", "service", s.name, "attempt", attempt, "delay", s.sup.opts.RestartDelay)
	s.restartTimer = time.AfterFunc(s.sup.opts.RestartDelay, func() {
		select {
		case s.restartCh <- gen:
		default:
		}
	})
}

func (s *service) handleRestartTick(gen int) {
	s.mu.Lock()
	ok := s.state == stateRestarting && gen == s.gen
	cfg := s.cfg
	restarts := s.restarts
	s.mu.Unlock()
	if !ok {
		return
	}
	s.setState(stateStopped)
	if err := s.doStart(false); err != nil {
		slog.Warn("auto-restart failed", "service", s.name, "error", err)
		if cfg.AutoRestart && restarts < s.sup.opts.MaxRestarts {
			s.scheduleRestart()
			return
		}
		s.setState(stateErrored)
		s.sup.emit(Event{Type: Errored, Service: s.name, Err: err})
	}
}

func (s *service) cancelRestartTimer() {
	if s.restartTimer != nil {
		s.restartTimer.Stop()
		s.restartTimer = nil
	}
	select {
	case <-s.restartCh:
	default:
	}
}

func (s *service) finalizeExit() {
	if s.sink != nil {
		_ = s.sink.Close()
		s.sink = nil
	}
	s.cmd = nil
}

func (s *service) status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Status{Name: s.name, Restarts: s.restarts}
	switch {
	case s.updating:
		st.Status = "updating"
	case s.state == stateRunning || s.state == stateStarting || s.state == stateStopping:
		st.Status = "running"
	case s.state == stateErrored:
		st.Status = "error"
	default:
		st.Status = "stopped"
	}
	if s.state == stateRunning {
		st.PID = s.pid
		started := s.startedAt
		st.StartedAt = &started
		st.UptimeSeconds = int64(time.Since(started).Seconds())
	}
	if s.lastErr != nil {
		st.LastError = s.lastErr.Error()
	}
	return st
}

func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var ee *exec.ExitError
	if errors.As(err, &ee) {
		return ee.ExitCode()
	}
	return -1
}
