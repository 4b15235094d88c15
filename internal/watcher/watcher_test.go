package watcher

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) add(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) all() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

func (r *recorder) waitFor(t *testing.T, typ EventType, name string) Event {
	t.Helper()
	var got Event
	require.Eventually(t, func() bool {
		for _, ev := range r.all() {
			if ev.Type == typ && ev.Name == name {
				got = ev
				return true
			}
		}
		return false
	}, 3*time.Second, 20*time.Millisecond, "no %s event for %s", typ, name)
	return got
}

func startWatcher(t *testing.T, dir string) *recorder {
	t.Helper()
	rec := &recorder{}
	w, err := New(Options{Dir: dir, Debounce: 50 * time.Millisecond}, rec.add)
	require.NoError(t, err)
	require.NoError(t, w.Start())
	t.Cleanup(func() { _ = w.Close() })
	return rec
}

func TestWatcherLifecycleEvents(t *testing.T) {
	dir := t.TempDir()
	rec := startWatcher(t, dir)

	path := filepath.Join(dir, "web.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"name":"web"}`), 0o644))
	ev := rec.waitFor(t, Created, "web")
	assert.Equal(t, path, ev.Path)

	// Different size so the snapshot comparison cannot miss it.
	require.NoError(t, os.WriteFile(path, []byte(`{"name":"web","autoStart":true}`), 0o644))
	rec.waitFor(t, Updated, "web")

	require.NoError(t, os.Remove(path))
	rec.waitFor(t, Deleted, "web")
}

func TestWatcherIgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	rec := startWatcher(t, dir)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".tmp-web.json"), []byte("x"), 0o644))

	time.Sleep(300 * time.Millisecond)
	assert.Empty(t, rec.all())
}

func TestWatcherDebouncesBursts(t *testing.T) {
	dir := t.TempDir()
	rec := startWatcher(t, dir)

	path := filepath.Join(dir, "api.json")
	for i := 0; i < 5; i++ {
		require.NoError(t, os.WriteFile(path, []byte{byte('a' + i)}, 0o644))
		time.Sleep(5 * time.Millisecond)
	}

	rec.waitFor(t, Created, "api")
	time.Sleep(300 * time.Millisecond)

	var created int
	for _, ev := range rec.all() {
		if ev.Type == Created && ev.Name == "api" {
			created++
		}
	}
	assert.Equal(t, 1, created, "burst must collapse into one created event")
}

func TestWatcherSeesPreexistingAsUpdated(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "db.json")
	require.NoError(t, os.WriteFile(path, []byte("one"), 0o644))

	rec := startWatcher(t, dir)

	require.NoError(t, os.WriteFile(path, []byte("longer content"), 0o644))
	rec.waitFor(t, Updated, "db")
}

func TestWatcherUnchangedFileNoEvent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "same.json")
	require.NoError(t, os.WriteFile(path, []byte("abc"), 0o644))
	info, err := os.Stat(path)
	require.NoError(t, err)

	rec := startWatcher(t, dir)

	// Rewrite identical bytes and restore mtime so the snapshot matches.
	require.NoError(t, os.WriteFile(path, []byte("abc"), 0o644))
	require.NoError(t, os.Chtimes(path, info.ModTime(), info.ModTime()))

	time.Sleep(300 * time.Millisecond)
	assert.Empty(t, rec.all())
}
