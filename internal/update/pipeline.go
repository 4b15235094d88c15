// Package update downloads release assets and swaps installed binaries with
// backup and rollback. Installs for the same service are single flight.
package update

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/loykin/shepd/internal/errdefs"
	"github.com/loykin/shepd/internal/release"
)

// BackupSuffix is appended to the installed binary while a swap is in
// flight; it is removed again once the new binary is in place.
const BackupSuffix = ".backup"

// ScratchMaxAge is how long finished or abandoned downloads may linger.
const ScratchMaxAge = 24 * time.Hour

// assetSuffixes is the selection priority after the exactly-named patterns;
// earlier entries win.
var assetSuffixes = []string{"-darwin-arm64", "-darwin-x64", "-darwin", "-macos", "-mac"}

// Options tunes a Pipeline. HTTPClient defaults to http.DefaultClient so
// large downloads are not cut off by a global timeout; the caller bounds
// them with the context instead.
type Options struct {
	ScratchDir string
	HTTPClient *http.Client
}

type Pipeline struct {
	scratch string
	hc      *http.Client
	group   singleflight.Group

	// rename seam for install-failure tests
	mv func(src, dst string) error
}

func NewPipeline(opts Options) (*Pipeline, error) {
	if opts.ScratchDir == "" {
		return nil, errdefs.Validationf("scratch directory is required")
	}
	if err := os.MkdirAll(opts.ScratchDir, 0o750); err != nil {
		return nil, fmt.Errorf("create scratch dir: %w", err)
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = http.DefaultClient
	}
	return &Pipeline{scratch: opts.ScratchDir, hc: hc, mv: moveFile}, nil
}

func (p *Pipeline) ScratchDir() string { return p.scratch }

// SelectAsset picks the best matching asset for a service name using the
// ordered pattern priority, most specific platform first, bare name last.
func SelectAsset(name string, assets []release.Asset) (release.Asset, bool) {
	patterns := make([]string, 0, len(assetSuffixes)+1)
	for _, s := range assetSuffixes {
		patterns = append(patterns, name+s)
	}
	patterns = append(patterns, name)
	for _, want := range patterns {
		for _, a := range assets {
			if a.Name == want {
				return a, true
			}
		}
	}
	return release.Asset{}, false
}

// DownloadAndInstall fetches the right asset of rel and swaps it into
// targetPath. Concurrent calls for the same service coalesce into one
// install; distinct services proceed independently.
func (p *Pipeline) DownloadAndInstall(ctx context.Context, service string, rel *release.Release, targetPath string) error {
	_, err, _ := p.group.Do(service, func() (any, error) {
		return nil, p.install(ctx, service, rel, targetPath)
	})
	return err
}

func (p *Pipeline) install(ctx context.Context, service string, rel *release.Release, target string) error {
	asset, ok := SelectAsset(service, rel.Assets)
	if !ok {
		return errdefs.Download(fmt.Sprintf("no compatible binary for %s in release %s", service, rel.Tag), nil)
	}

	tmp, err := p.download(ctx, asset)
	if err != nil {
		return err
	}
	defer func() { _ = os.Remove(tmp) }()

	backup := target + BackupSuffix
	hadPrevious := false
	if _, err := os.Stat(target); err == nil {
		if err := os.Rename(target, backup); err != nil {
			return errdefs.Install(fmt.Sprintf("back up %s", target), err)
		}
		hadPrevious = true
	}

	restore := func() {
		if !hadPrevious {
			return
		}
		if err := os.Rename(backup, target); err != nil {
			slog.Error("restore backup failed", "service", service, "target", target, "error", err)
		}
	}

	if err := p.mv(tmp, target); err != nil {
		restore()
		return errdefs.Install(fmt.Sprintf("move binary into %s", target), err)
	}
	if err := os.Chmod(target, 0o755); err != nil {
		_ = os.Remove(target)
		restore()
		return errdefs.Install(fmt.Sprintf("mark %s executable", target), err)
	}
	if hadPrevious {
		_ = os.Remove(backup)
	}
	slog.Info("installed release", "service", service, "tag", rel.Tag, "asset", asset.Name, "target", target)
	return nil
}

// download streams one asset into the scratch directory and verifies the
// advertised size. Partial or mismatched files are deleted.
func (p *Pipeline) download(ctx context.Context, asset release.Asset) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, asset.DownloadURL, nil)
	if err != nil {
		return "", errdefs.Download("build request for "+asset.Name, err)
	}
	resp, err := p.hc.Do(req)
	if err != nil {
		return "", errdefs.Download("fetch "+asset.Name, err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", errdefs.Download(fmt.Sprintf("fetch %s: server responded %s", asset.Name, resp.Status), nil)
	}

	f, err := os.CreateTemp(p.scratch, filepath.Base(asset.Name)+"-*")
	if err != nil {
		return "", errdefs.Download("create scratch file", err)
	}
	path := f.Name()
	n, err := io.Copy(f, resp.Body)
	cerr := f.Close()
	if err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(path)
		return "", errdefs.Download("write "+asset.Name, err)
	}
	if n != asset.Size {
		_ = os.Remove(path)
		return "", errdefs.Download(fmt.Sprintf("size mismatch for %s: got %d bytes, advertised %d", asset.Name, n, asset.Size), nil)
	}
	slog.Debug("downloaded asset", "asset", asset.Name, "bytes", n)
	return path, nil
}

// CleanupDownloads removes scratch files older than ScratchMaxAge.
func (p *Pipeline) CleanupDownloads() error {
	entries, err := os.ReadDir(p.scratch)
	if err != nil {
		return fmt.Errorf("read scratch dir: %w", err)
	}
	cutoff := time.Now().Add(-ScratchMaxAge)
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			if err := os.Remove(filepath.Join(p.scratch, e.Name())); err != nil {
				slog.Warn("cleanup: remove stale download failed", "file", e.Name(), "error", err)
			}
		}
	}
	return nil
}

// Checksum returns the streaming SHA-256 hex digest of the file at path.
func Checksum(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hash %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// moveFile renames src onto dst, copying through a sibling temp file when
// the rename crosses filesystems.
func moveFile(src, dst string) error {
	err := os.Rename(src, dst)
	if err == nil {
		return nil
	}
	var lerr *os.LinkError
	if !errors.As(err, &lerr) || !errors.Is(lerr.Err, syscall.EXDEV) {
		return err
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func() { _ = in.Close() }()
	tmp, err := os.CreateTemp(filepath.Dir(dst), ".install-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	if _, err := io.Copy(tmp, in); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, dst); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	_ = os.Remove(src)
	return nil
}
