//go:build !windows

package supervisor

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/shepd/internal/config"
	"github.com/loykin/shepd/internal/errdefs"
	"github.com/loykin/shepd/internal/logger"
)

func testSupervisor(t *testing.T) *Supervisor {
	t.Helper()
	s := New(Options{
		Log:          logger.Config{Dir: t.TempDir()},
		StartConfirm: 50 * time.Millisecond,
		RestartDelay: 50 * time.Millisecond,
		StopTimeout:  2 * time.Second,
		MaxRestarts:  2,
	})
	t.Cleanup(s.Shutdown)
	return s
}

func shConfig(name, script string) config.AppConfig {
	return config.AppConfig{
		Name:       name,
		Repository: "acme/" + name,
		BinaryPath: "/bin/sh",
		Args:       []string{"-c", script},
	}
}

type eventRecorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *eventRecorder) add(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *eventRecorder) waitFor(t *testing.T, typ EventType, service string) Event {
	t.Helper()
	var got Event
	require.Eventually(t, func() bool {
		r.mu.Lock()
		defer r.mu.Unlock()
		for _, ev := range r.events {
			if ev.Type == typ && ev.Service == service {
				got = ev
				return true
			}
		}
		return false
	}, 5*time.Second, 20*time.Millisecond, "no %s event for %s", typ, service)
	return got
}

func TestRegisterValidatesAndRejectsDuplicates(t *testing.T) {
	s := testSupervisor(t)

	require.NoError(t, s.Register(shConfig("web", "sleep 60")))

	err := s.Register(shConfig("web", "sleep 60"))
	require.Error(t, err)
	assert.True(t, errdefs.IsAlreadyExists(err))

	bad := shConfig("api", "sleep 60")
	bad.Repository = "not-a-repo"
	err = s.Register(bad)
	require.Error(t, err)
	assert.True(t, errdefs.IsValidation(err))
}

func TestStartStopLifecycle(t *testing.T) {
	s := testSupervisor(t)
	require.NoError(t, s.Register(shConfig("web", "sleep 60")))

	require.NoError(t, s.Start("web"))

	st, err := s.Status("web")
	require.NoError(t, err)
	assert.Equal(t, "running", st.Status)
	assert.Greater(t, st.PID, 0)
	assert.NotNil(t, st.StartedAt)

	require.NoError(t, s.Stop("web"))
	st, err = s.Status("web")
	require.NoError(t, err)
	assert.Equal(t, "stopped", st.Status)
	assert.Zero(t, st.PID)
}

func TestStartAlreadyRunning(t *testing.T) {
	s := testSupervisor(t)
	require.NoError(t, s.Register(shConfig("web", "sleep 60")))
	require.NoError(t, s.Start("web"))

	err := s.Start("web")
	require.Error(t, err)
	assert.True(t, errdefs.IsProcess(err))
	assert.Contains(t, err.Error(), "already running")
}

func TestStopNotRunning(t *testing.T) {
	s := testSupervisor(t)
	require.NoError(t, s.Register(shConfig("web", "sleep 60")))

	err := s.Stop("web")
	require.Error(t, err)
	assert.True(t, errdefs.IsProcess(err))
	assert.Contains(t, err.Error(), "not running")
}

func TestStartUnknownService(t *testing.T) {
	s := testSupervisor(t)
	err := s.Start("ghost")
	require.Error(t, err)
	assert.True(t, errdefs.IsNotFound(err))
}

func TestStartMissingBinary(t *testing.T) {
	s := testSupervisor(t)
	cfg := shConfig("web", "")
	cfg.BinaryPath = "/nonexistent/binary"
	require.NoError(t, s.Register(cfg))

	err := s.Start("web")
	require.Error(t, err)
	assert.True(t, errdefs.IsValidation(err))
}

func TestStartRejectsEarlyExit(t *testing.T) {
	s := testSupervisor(t)
	// Exits before the confirmation window ends.
	require.NoError(t, s.Register(shConfig("flaky", "exit 1")))

	err := s.Start("flaky")
	require.Error(t, err)
	assert.True(t, errdefs.IsProcess(err))

	st, serr := s.Status("flaky")
	require.NoError(t, serr)
	assert.Equal(t, "stopped", st.Status)
	assert.NotEmpty(t, st.LastError)
}

func TestRestart(t *testing.T) {
	s := testSupervisor(t)
	require.NoError(t, s.Register(shConfig("web", "sleep 60")))
	require.NoError(t, s.Start("web"))

	st1, err := s.Status("web")
	require.NoError(t, err)

	require.NoError(t, s.Restart("web"))
	st2, err := s.Status("web")
	require.NoError(t, err)
	assert.Equal(t, "running", st2.Status)
	assert.NotEqual(t, st1.PID, st2.PID)

	// Restart also works from stopped.
	require.NoError(t, s.Stop("web"))
	require.NoError(t, s.Restart("web"))
	st3, err := s.Status("web")
	require.NoError(t, err)
	assert.Equal(t, "running", st3.Status)
}

func TestAutoRestartAfterCrash(t *testing.T) {
	s := testSupervisor(t)
	rec := &eventRecorder{}
	s.Subscribe(rec.add)

	cfg := shConfig("crashy", "sleep 0.2; exit 1")
	cfg.AutoRestart = true
	require.NoError(t, s.Register(cfg))
	require.NoError(t, s.Start("crashy"))

	// Crash, then a respawn with the counter bumped.
	require.Eventually(t, func() bool {
		st, err := s.Status("crashy")
		return err == nil && st.Restarts >= 1
	}, 5*time.Second, 20*time.Millisecond)

	rec.waitFor(t, Stopped, "crashy")
}

func TestAutoRestartCapLeadsToError(t *testing.T) {
	s := testSupervisor(t)
	rec := &eventRecorder{}
	s.Subscribe(rec.add)

	// Survives the confirmation window once per spawn, then crashes.
	cfg := shConfig("doomed", "sleep 0.1; exit 7")
	cfg.AutoRestart = true
	require.NoError(t, s.Register(cfg))
	require.NoError(t, s.Start("doomed"))

	rec.waitFor(t, Errored, "doomed")
	st, err := s.Status("doomed")
	require.NoError(t, err)
	assert.Equal(t, "error", st.Status)
	assert.Equal(t, 2, st.Restarts)
}

func TestExplicitStartResetsRestartCounter(t *testing.T) {
	s := testSupervisor(t)
	cfg := shConfig("crashy", "sleep 0.1; exit 1")
	cfg.AutoRestart = true
	require.NoError(t, s.Register(cfg))
	require.NoError(t, s.Start("crashy"))

	require.Eventually(t, func() bool {
		st, err := s.Status("crashy")
		return err == nil && st.Status == "error"
	}, 10*time.Second, 20*time.Millisecond)

	// Swap to a stable command and start again explicitly.
	stable := shConfig("crashy", "sleep 60")
	stable.AutoRestart = true
	require.NoError(t, s.UpdateConfig(stable))
	require.NoError(t, s.Start("crashy"))

	st, err := s.Status("crashy")
	require.NoError(t, err)
	assert.Equal(t, "running", st.Status)
	assert.Zero(t, st.Restarts)
}

func TestStopCancelsPendingRestart(t *testing.T) {
	s := New(Options{
		Log:          logger.Config{Dir: t.TempDir()},
		StartConfirm: 50 * time.Millisecond,
		RestartDelay: 10 * time.Second, // long enough to catch mid-wait
		StopTimeout:  2 * time.Second,
		MaxRestarts:  2,
	})
	t.Cleanup(s.Shutdown)

	cfg := shConfig("crashy", "sleep 0.1; exit 1")
	cfg.AutoRestart = true
	require.NoError(t, s.Register(cfg))
	require.NoError(t, s.Start("crashy"))

	require.Eventually(t, func() bool {
		st, err := s.Status("crashy")
		return err == nil && st.Restarts == 1
	}, 5*time.Second, 20*time.Millisecond)

	require.NoError(t, s.Stop("crashy"))
	st, err := s.Status("crashy")
	require.NoError(t, err)
	assert.Equal(t, "stopped", st.Status)

	// No respawn sneaks in afterwards.
	time.Sleep(200 * time.Millisecond)
	st, err = s.Status("crashy")
	require.NoError(t, err)
	assert.Equal(t, "stopped", st.Status)
	assert.Zero(t, st.PID)
}

func TestUpdatingStatusOverride(t *testing.T) {
	s := testSupervisor(t)
	require.NoError(t, s.Register(shConfig("web", "sleep 60")))

	s.SetUpdating("web", true)
	st, err := s.Status("web")
	require.NoError(t, err)
	assert.Equal(t, "updating", st.Status)

	s.SetUpdating("web", false)
	st, err = s.Status("web")
	require.NoError(t, err)
	assert.Equal(t, "stopped", st.Status)
}

func TestRemoveStopsAndForgets(t *testing.T) {
	s := testSupervisor(t)
	require.NoError(t, s.Register(shConfig("web", "sleep 60")))
	require.NoError(t, s.Start("web"))

	require.NoError(t, s.Remove("web"))
	_, err := s.Status("web")
	require.Error(t, err)
	assert.True(t, errdefs.IsNotFound(err))
}

func TestStatusAllAndPIDs(t *testing.T) {
	s := testSupervisor(t)
	require.NoError(t, s.Register(shConfig("a", "sleep 60")))
	require.NoError(t, s.Register(shConfig("b", "sleep 60")))
	require.NoError(t, s.Start("a"))

	all := s.StatusAll()
	assert.Len(t, all, 2)

	pids := s.PIDs()
	require.Len(t, pids, 1)
	assert.Greater(t, pids["a"], 0)
}

func TestLifecycleEvents(t *testing.T) {
	s := testSupervisor(t)
	rec := &eventRecorder{}
	s.Subscribe(rec.add)

	require.NoError(t, s.Register(shConfig("web", "sleep 60")))
	require.NoError(t, s.Start("web"))
	started := rec.waitFor(t, Started, "web")
	assert.Greater(t, started.PID, 0)

	require.NoError(t, s.Stop("web"))
	rec.waitFor(t, Stopped, "web")
}

func TestShutdownStopsEverything(t *testing.T) {
	s := New(Options{
		Log:          logger.Config{Dir: t.TempDir()},
		StartConfirm: 50 * time.Millisecond,
		StopTimeout:  2 * time.Second,
	})
	require.NoError(t, s.Register(shConfig("a", "sleep 60")))
	require.NoError(t, s.Register(shConfig("b", "sleep 60")))
	require.NoError(t, s.Start("a"))
	require.NoError(t, s.Start("b"))

	s.Shutdown()

	_, err := s.Status("a")
	assert.True(t, errdefs.IsNotFound(err))
	err = s.Register(shConfig("c", "sleep 60"))
	require.Error(t, err)
}
