// Package env composes the environment handed to supervised children:
// the daemon's own environment as the base, with per-service overrides
// applied on top and ${VAR} references expanded against the merged set.
package env

import (
	"os"
	"sort"
	"strings"
)

type Env struct {
	base map[string]string
}

func New() *Env {
	return &Env{}
}

// FromOS caches the current process environment as the base.
func (e *Env) FromOS() {
	base := make(map[string]string)
	for _, kv := range os.Environ() {
		if i := strings.IndexByte(kv, '='); i > 0 {
			base[kv[:i]] = kv[i+1:]
		}
	}
	e.base = base
}

// SetBase replaces the base map, mainly for tests.
func (e *Env) SetBase(base map[string]string) {
	e.base = base
}

// Merge returns the final "K=V" slice for one child: base, then overrides,
// then a single ${VAR} expansion pass over the merged map (no recursion).
// The result is sorted for stable exec and logging.
func (e *Env) Merge(overrides map[string]string) []string {
	if e.base == nil {
		e.FromOS()
	}
	m := make(map[string]string, len(e.base)+len(overrides))
	for k, v := range e.base {
		m[k] = v
	}
	for k, v := range overrides {
		if k == "" {
			continue
		}
		m[k] = v
	}
	out := make([]string, 0, len(m))
	for k, v := range m {
		out = append(out, k+"="+expand(v, m))
	}
	sort.Strings(out)
	return out
}

func expand(s string, m map[string]string) string {
	if !strings.Contains(s, "${") {
		return s
	}
	for k, v := range m {
		s = strings.ReplaceAll(s, "${"+k+"}", v)
	}
	return s
}
