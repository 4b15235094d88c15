package logger

import (
	"os"
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var lineRe = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}\.\d{3}[Z+-]`)

func TestServiceLogTagsAndTimestamps(t *testing.T) {
	cfg := Config{Dir: t.TempDir()}
	log, err := cfg.Open("web")
	require.NoError(t, err)

	out := log.Stream("stdout")
	errs := log.Stream("stderr")
	_, err = out.Write([]byte("hello\nwor"))
	require.NoError(t, err)
	_, err = errs.Write([]byte("oops\n"))
	require.NoError(t, err)
	_, err = out.Write([]byte("ld\n"))
	require.NoError(t, err)
	require.NoError(t, out.Close())
	require.NoError(t, errs.Close())
	require.NoError(t, log.Close())

	b, err := os.ReadFile(cfg.Path("web"))
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(b)), "\n")
	require.Len(t, lines, 3)
	for _, l := range lines {
		assert.Regexp(t, lineRe, l)
	}
	assert.Contains(t, lines[0], "[stdout] hello")
	assert.Contains(t, lines[1], "[stderr] oops")
	assert.Contains(t, lines[2], "[stdout] world")
}

func TestStreamCloseFlushesPartial(t *testing.T) {
	cfg := Config{Dir: t.TempDir()}
	log, err := cfg.Open("api")
	require.NoError(t, err)

	w := log.Stream("stdout")
	_, err = w.Write([]byte("no newline"))
	require.NoError(t, err)
	require.NoError(t, w.Close())
	require.NoError(t, log.Close())

	b, err := os.ReadFile(cfg.Path("api"))
	require.NoError(t, err)
	assert.Contains(t, string(b), "[stdout] no newline")
}

func TestReadLastLines(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/svc.log"

	var sb strings.Builder
	for i := 1; i <= 100; i++ {
		sb.WriteString("line-")
		sb.WriteString(strings.Repeat("x", i%7))
		sb.WriteString("\n")
	}
	require.NoError(t, os.WriteFile(path, []byte(sb.String()), 0o644))

	got, err := ReadLastLines(path, 10)
	require.NoError(t, err)
	require.Len(t, got, 10)

	all, err := ReadLastLines(path, 1000)
	require.NoError(t, err)
	assert.Len(t, all, 100)
	assert.Equal(t, all[len(all)-10:], got)
}

func TestReadLastLinesMissingFile(t *testing.T) {
	got, err := ReadLastLines(t.TempDir()+"/absent.log", 5)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestReadLastLinesUnterminatedTail(t *testing.T) {
	path := t.TempDir() + "/svc.log"
	require.NoError(t, os.WriteFile(path, []byte("a\nb\npartial"), 0o644))

	got, err := ReadLastLines(path, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "partial"}, got)
}
