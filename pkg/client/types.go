package client

import "time"

// ServiceConfig mirrors the daemon's per-service configuration file.
type ServiceConfig struct {
	Name                 string            `json:"name"`
	Repository           string            `json:"repository"`
	CheckIntervalSeconds int               `json:"checkIntervalSeconds,omitempty"`
	AutoStart            bool              `json:"autoStart,omitempty"`
	AutoRestart          bool              `json:"autoRestart,omitempty"`
	BinaryPath           string            `json:"binaryPath"`
	WorkingDirectory     string            `json:"workingDirectory,omitempty"`
	Args                 []string          `json:"args,omitempty"`
	Env                  map[string]string `json:"env,omitempty"`
}

// ServiceStatus is the daemon's on-demand projection for one service.
type ServiceStatus struct {
	Name           string     `json:"name"`
	Status         string     `json:"status"`
	PID            int        `json:"pid,omitempty"`
	UptimeSeconds  int64      `json:"uptime,omitempty"`
	StartedAt      *time.Time `json:"startedAt,omitempty"`
	Restarts       int        `json:"restarts"`
	CurrentVersion string     `json:"currentVersion,omitempty"`
	LatestVersion  string     `json:"latestVersion,omitempty"`
	LastError      string     `json:"lastError,omitempty"`
	CPUPercent     float64    `json:"cpuPercent,omitempty"`
	MemoryMB       float64    `json:"memoryMB,omitempty"`
}

// DaemonStatus describes the daemon process itself.
type DaemonStatus struct {
	Version       string `json:"version"`
	PID           int    `json:"pid"`
	UptimeSeconds int64  `json:"uptime"`
	Services      int    `json:"services"`
	Connections   int    `json:"connections"`
	SocketPath    string `json:"socketPath"`
	ConfigDir     string `json:"configDir"`
}

// Asset is one downloadable artifact attached to a release.
type Asset struct {
	Name        string `json:"name"`
	Size        int64  `json:"size"`
	DownloadURL string `json:"browser_download_url"`
	ContentType string `json:"content_type"`
}

// Release is one published release snapshot.
type Release struct {
	Tag         string    `json:"tag_name"`
	Name        string    `json:"name"`
	Body        string    `json:"body"`
	PublishedAt time.Time `json:"published_at"`
	Assets      []Asset   `json:"assets"`
}

// UpdateCheck is the outcome of one update poll.
type UpdateCheck struct {
	Available      bool     `json:"available"`
	CurrentVersion string   `json:"currentVersion"`
	LatestVersion  string   `json:"latestVersion,omitempty"`
	Release        *Release `json:"release,omitempty"`
}

// UpdateApply reports what update.apply did.
type UpdateApply struct {
	Service string `json:"service"`
	Applied bool   `json:"applied"`
	Version string `json:"version,omitempty"`
	Message string `json:"message,omitempty"`
}

// LogLines is a log.get response.
type LogLines struct {
	Service string   `json:"service"`
	Lines   []string `json:"lines"`
}
