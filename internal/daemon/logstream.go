package daemon

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/loykin/shepd/internal/logger"
	"github.com/loykin/shepd/internal/rpc"
)

const followPollInterval = 500 * time.Millisecond

func (d *Daemon) readLogTail(name string, lines int) ([]string, error) {
	return logger.ReadLastLines(d.logCfg.Path(name), lines)
}

// startFollow begins (or replaces) the log follow for one service. The
// follow emits log.line notifications to subscribers whose service
// filter admits the name, until stopFollow or daemon shutdown cancels
// it.
func (d *Daemon) startFollow(name string, initialLines int) {
	if initialLines <= 0 {
		initialLines = 50
	}
	ctx, cancel := context.WithCancel(d.ctx)

	d.mu.Lock()
	if old, ok := d.follows[name]; ok {
		old()
	}
	d.follows[name] = cancel
	d.mu.Unlock()

	d.wg.Add(1)
	go d.follow(ctx, name, initialLines)
}

func (d *Daemon) stopFollow(name string) {
	d.mu.Lock()
	cancel, ok := d.follows[name]
	if ok {
		delete(d.follows, name)
	}
	d.mu.Unlock()
	if ok {
		cancel()
	}
}

func (d *Daemon) stopAllFollows() {
	d.mu.Lock()
	cancels := make([]context.CancelFunc, 0, len(d.follows))
	for _, c := range d.follows {
		cancels = append(cancels, c)
	}
	d.follows = make(map[string]context.CancelFunc)
	d.mu.Unlock()
	for _, c := range cancels {
		c()
	}
}

// follow yields the tail first, then polls for growth and emits each new
// complete line. Rotation (the file shrinking) resets the offset.
func (d *Daemon) follow(ctx context.Context, name string, initialLines int) {
	defer d.wg.Done()
	path := d.logCfg.Path(name)
	byService := func(c *rpc.Conn) bool { return c.AllowsService(name) }
	emit := func(line string) {
		d.srv.Notify("log.line", LogLineEvent{Service: name, Line: line}, byService)
	}

	lines, err := logger.ReadLastLines(path, initialLines)
	if err != nil {
		slog.Warn("log follow: tail failed", "service", name, "error", err)
	}
	for _, line := range lines {
		emit(line)
	}

	var offset int64
	if fi, err := os.Stat(path); err == nil {
		offset = fi.Size()
	}

	ticker := time.NewTicker(followPollInterval)
	defer ticker.Stop()
	var partial []byte
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		fi, err := os.Stat(path)
		if err != nil {
			continue
		}
		size := fi.Size()
		if size < offset {
			// rotated or truncated
			offset = 0
			partial = nil
		}
		if size == offset {
			continue
		}
		chunk, err := readRange(path, offset, size)
		if err != nil {
			slog.Debug("log follow: read failed", "service", name, "error", err)
			continue
		}
		offset = size
		partial = append(partial, chunk...)
		for {
			i := bytes.IndexByte(partial, '\n')
			if i < 0 {
				break
			}
			emit(string(bytes.TrimSuffix(partial[:i], []byte("\r"))))
			partial = partial[i+1:]
		}
	}
}

func readRange(path string, from, to int64) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()
	buf := make([]byte, to-from)
	n, err := f.ReadAt(buf, from)
	if err != nil && n == 0 {
		return nil, err
	}
	return buf[:n], nil
}
