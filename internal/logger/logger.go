package logger

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	lj "gopkg.in/natefinch/lumberjack.v2"
)

// Default rotation parameters, lumberjack semantics.
const (
	DefaultMaxSizeMB  = 10 // MB
	DefaultMaxBackups = 3  // number of backup files
	DefaultMaxAgeDays = 7  // days
)

const lineTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// Config describes the per-service log directory and rotation policy.
// Each service writes one combined file Dir/<name>.log; stdout and stderr
// are tagged per line instead of split into separate files.
type Config struct {
	Dir        string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// Path returns the log file for a service name.
func (c Config) Path(name string) string {
	return filepath.Join(c.Dir, name+".log")
}

// Open returns the rotated log sink for one service.
func (c Config) Open(name string) (*ServiceLog, error) {
	if c.Dir == "" {
		return nil, fmt.Errorf("log dir not configured")
	}
	if err := os.MkdirAll(c.Dir, 0o750); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	return &ServiceLog{
		path: c.Path(name),
		w: &lj.Logger{
			Filename:   c.Path(name),
			MaxSize:    valOr(c.MaxSizeMB, DefaultMaxSizeMB),
			MaxBackups: valOr(c.MaxBackups, DefaultMaxBackups),
			MaxAge:     valOr(c.MaxAgeDays, DefaultMaxAgeDays),
			Compress:   c.Compress,
		},
	}, nil
}

// ServiceLog is the shared sink both child streams write through. Lines are
// timestamped and stream-tagged; the mutex keeps interleaved writes whole.
type ServiceLog struct {
	mu   sync.Mutex
	path string
	w    io.WriteCloser
}

func (l *ServiceLog) Path() string { return l.path }

// Stream returns the writer for one child stream ("stdout" or "stderr").
// Each stream keeps its own partial-line buffer.
func (l *ServiceLog) Stream(tag string) io.WriteCloser {
	return &streamWriter{log: l, tag: tag}
}

func (l *ServiceLog) writeLine(tag string, line []byte) {
	l.mu.Lock()
	defer l.mu.Unlock()
	ts := time.Now().Format(lineTimeFormat)
	_, _ = fmt.Fprintf(l.w, "%s [%s] %s\n", ts, tag, line)
}

func (l *ServiceLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Close()
}

type streamWriter struct {
	log *ServiceLog
	tag string
	buf []byte
}

func (w *streamWriter) Write(p []byte) (int, error) {
	w.buf = append(w.buf, p...)
	for {
		i := bytes.IndexByte(w.buf, '\n')
		if i < 0 {
			break
		}
		line := bytes.TrimSuffix(w.buf[:i], []byte("\r"))
		w.log.writeLine(w.tag, line)
		w.buf = w.buf[i+1:]
	}
	return len(p), nil
}

// Close flushes a trailing unterminated line.
func (w *streamWriter) Close() error {
	if len(w.buf) > 0 {
		w.log.writeLine(w.tag, bytes.TrimSuffix(w.buf, []byte("\r")))
		w.buf = nil
	}
	return nil
}

func valOr(v int, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
