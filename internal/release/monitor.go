// Package release polls the GitHub releases API for one repository and
// decides whether a newer version than the tracked baseline exists.
package release

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/loykin/shepd/internal/errdefs"
)

const (
	defaultBaseURL = "https://api.github.com"
	perPage        = 100
	userAgent      = "shepd"
)

// Asset is one downloadable artifact attached to a release. Field names
// follow the GitHub API wire format.
type Asset struct {
	Name        string `json:"name"`
	Size        int64  `json:"size"`
	DownloadURL string `json:"browser_download_url"`
	ContentType string `json:"content_type"`
}

// Release is an immutable snapshot of one published release.
type Release struct {
	Tag         string    `json:"tag_name"`
	Name        string    `json:"name"`
	Body        string    `json:"body"`
	PublishedAt time.Time `json:"published_at"`
	Assets      []Asset   `json:"assets"`
}

// Check is the outcome of one update poll.
type Check struct {
	Available      bool     `json:"available"`
	CurrentVersion string   `json:"currentVersion"`
	LatestVersion  string   `json:"latestVersion,omitempty"`
	Release        *Release `json:"release,omitempty"`
}

// Options tunes a Monitor. Zero values pick the real GitHub API and a
// 30-second HTTP timeout.
type Options struct {
	Token          string
	BaseURL        string
	HTTPClient     *http.Client
	CurrentVersion string
}

// Monitor tracks one owner/repo reference and a current-version baseline.
type Monitor struct {
	mu      sync.Mutex
	owner   string
	repo    string
	current string
	token   string
	baseURL string
	hc      *http.Client
}

func NewMonitor(repository string, opts Options) (*Monitor, error) {
	parts := strings.Split(repository, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return nil, errdefs.Validationf("repository must be owner/repo, got %q", repository)
	}
	m := &Monitor{
		owner:   parts[0],
		repo:    parts[1],
		current: Normalize(opts.CurrentVersion),
		token:   opts.Token,
		baseURL: opts.BaseURL,
		hc:      opts.HTTPClient,
	}
	if m.baseURL == "" {
		m.baseURL = defaultBaseURL
	}
	if m.hc == nil {
		m.hc = &http.Client{Timeout: 30 * time.Second}
	}
	return m, nil
}

func (m *Monitor) Repository() string { return m.owner + "/" + m.repo }

func (m *Monitor) CurrentVersion() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// SetCurrentVersion moves the baseline, called after a successful install.
func (m *Monitor) SetCurrentVersion(v string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current = Normalize(v)
}

// LatestRelease fetches the newest release. A repository with no releases
// (404) yields (nil, nil).
func (m *Monitor) LatestRelease(ctx context.Context) (*Release, error) {
	url := fmt.Sprintf("%s/repos/%s/%s/releases/latest", m.baseURL, m.owner, m.repo)
	var rel Release
	found, err := m.getJSON(ctx, url, &rel)
	if err != nil || !found {
		return nil, err
	}
	return &rel, nil
}

// AllReleases fetches the full paginated list, newest first.
func (m *Monitor) AllReleases(ctx context.Context) ([]Release, error) {
	var all []Release
	for page := 1; ; page++ {
		url := fmt.Sprintf("%s/repos/%s/%s/releases?per_page=%d&page=%d",
			m.baseURL, m.owner, m.repo, perPage, page)
		var batch []Release
		found, err := m.getJSON(ctx, url, &batch)
		if err != nil {
			return nil, err
		}
		if !found {
			break
		}
		all = append(all, batch...)
		if len(batch) < perPage {
			break
		}
	}
	return all, nil
}

// CheckForUpdate compares the newest release against the baseline.
func (m *Monitor) CheckForUpdate(ctx context.Context) (Check, error) {
	current := m.CurrentVersion()
	latest, err := m.LatestRelease(ctx)
	if err != nil {
		return Check{CurrentVersion: current}, err
	}
	if latest == nil {
		return Check{CurrentVersion: current}, nil
	}
	return Check{
		Available:      Newer(latest.Tag, current),
		CurrentVersion: current,
		LatestVersion:  Normalize(latest.Tag),
		Release:        latest,
	}, nil
}

// getJSON fetches url into out. Returns found=false for 404 without error.
func (m *Monitor) getJSON(ctx context.Context, url string, out any) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("User-Agent", userAgent)
	if m.token != "" {
		req.Header.Set("Authorization", "Bearer "+m.token)
	}
	resp, err := m.hc.Do(req)
	if err != nil {
		return false, fmt.Errorf("fetch %s/%s: %w", m.owner, m.repo, err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode == http.StatusNotFound {
		return false, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return false, fmt.Errorf("fetch %s/%s: github responded %s", m.owner, m.repo, resp.Status)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return false, fmt.Errorf("read response: %w", err)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return false, fmt.Errorf("decode response: %w", err)
	}
	return true, nil
}
