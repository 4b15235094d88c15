package watcher

import (
	"sync"
	"time"
)

// debouncer coalesces bursts of notifications per key: each Add resets the
// key's timer, and fire runs once the window passes quietly. fire is called
// outside the lock.
type debouncer struct {
	mu     sync.Mutex
	window time.Duration
	timers map[string]*time.Timer
	fire   func(key string)
}

func newDebouncer(window time.Duration, fire func(key string)) *debouncer {
	return &debouncer{
		window: window,
		timers: make(map[string]*time.Timer),
		fire:   fire,
	}
}

func (d *debouncer) Add(key string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timers == nil {
		return
	}
	if t, ok := d.timers[key]; ok {
		t.Stop()
	}
	d.timers[key] = time.AfterFunc(d.window, func() {
		d.mu.Lock()
		if d.timers == nil {
			d.mu.Unlock()
			return
		}
		delete(d.timers, key)
		d.mu.Unlock()
		d.fire(key)
	})
}

// Stop cancels pending timers and rejects further Adds.
func (d *debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, t := range d.timers {
		t.Stop()
	}
	d.timers = nil
}
