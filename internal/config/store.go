package config

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/loykin/shepd/internal/errdefs"
)

// Ext is the config file extension the store and the watcher agree on.
const Ext = ".json"

// Store keeps one JSON file per service under a single directory.
type Store struct {
	dir string
}

func NewStore(dir string) (*Store, error) {
	if dir == "" {
		return nil, errdefs.Validationf("config directory is required")
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create config dir: %w", err)
	}
	return &Store{dir: dir}, nil
}

func (s *Store) Dir() string { return s.dir }

// Path returns the file backing a service name.
func (s *Store) Path(name string) string {
	return filepath.Join(s.dir, name+Ext)
}

func (s *Store) Exists(name string) bool {
	if !SafeName(name) {
		return false
	}
	_, err := os.Stat(s.Path(name))
	return err == nil
}

func (s *Store) Load(name string) (AppConfig, error) {
	var cfg AppConfig
	if !SafeName(name) {
		return cfg, errdefs.Validationf("invalid service name %q", name)
	}
	b, err := os.ReadFile(s.Path(name))
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, errdefs.NotFound("service", name)
		}
		return cfg, fmt.Errorf("read config %s: %w", name, err)
	}
	if err := json.Unmarshal(b, &cfg); err != nil {
		return cfg, errdefs.Validationf("parse config %s: %v", name, err)
	}
	if cfg.Name == "" {
		cfg.Name = name
	}
	if cfg.Name != name {
		return cfg, errdefs.Validationf("config %s names service %q", name, cfg.Name)
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Save validates and writes the config atomically (temp file + rename).
func (s *Store) Save(cfg AppConfig) error {
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return err
	}
	b, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("encode config %s: %w", cfg.Name, err)
	}
	b = append(b, '\n')
	tmp, err := os.CreateTemp(s.dir, "."+cfg.Name+"-*")
	if err != nil {
		return fmt.Errorf("write config %s: %w", cfg.Name, err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(b); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("write config %s: %w", cfg.Name, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("write config %s: %w", cfg.Name, err)
	}
	if err := os.Rename(tmpPath, s.Path(cfg.Name)); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("write config %s: %w", cfg.Name, err)
	}
	return nil
}

func (s *Store) Delete(name string) error {
	if !SafeName(name) {
		return errdefs.Validationf("invalid service name %q", name)
	}
	if err := os.Remove(s.Path(name)); err != nil {
		if os.IsNotExist(err) {
			return errdefs.NotFound("service", name)
		}
		return fmt.Errorf("delete config %s: %w", name, err)
	}
	return nil
}

// List loads every readable config, sorted by name. Files that fail to
// parse are logged and skipped so one bad file cannot hide the rest.
func (s *Store) List() ([]AppConfig, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("read config dir: %w", err)
	}
	var out []AppConfig
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), Ext) {
			continue
		}
		name := strings.TrimSuffix(e.Name(), Ext)
		if strings.HasPrefix(name, ".") {
			continue
		}
		cfg, err := s.Load(name)
		if err != nil {
			slog.Warn("skipping unreadable config", "name", name, "error", err)
			continue
		}
		out = append(out, cfg)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}
