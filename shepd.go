// Package shepd exposes the embeddable surface of the shepd service
// supervisor: the daemon composition root, the typed socket client, and
// the configuration types they share.
package shepd

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	icfg "github.com/loykin/shepd/internal/config"
	"github.com/loykin/shepd/internal/daemon"
	"github.com/loykin/shepd/internal/metrics"
	"github.com/loykin/shepd/internal/rpc"
	"github.com/loykin/shepd/pkg/client"
)

// Re-export core types for external consumers.
// These are aliases so conversions are zero-cost.

type Settings = icfg.Settings

type ServiceConfig = icfg.AppConfig

type Daemon = daemon.Daemon

type Client = client.Client

type ClientOptions = client.Options

// DefaultSettings returns settings with every path resolved to its
// per-user default location.
func DefaultSettings() Settings { return icfg.DefaultSettings() }

// LoadSettings reads the TOML settings file at path, or the default
// location when path is empty.
func LoadSettings(path string) (Settings, error) { return icfg.LoadSettings(path) }

// NewDaemon builds an unstarted daemon from settings. Call Start to
// bring the subsystems up and Shutdown to tear them down.
func NewDaemon(version string, st Settings) (*Daemon, error) { return daemon.New(version, st) }

// NewClient builds a socket client. Call Connect before issuing calls.
func NewClient(opts ClientOptions) *Client { return client.New(opts) }

// DefaultSocketPath is where a daemon with empty settings listens.
func DefaultSocketPath() string { return rpc.DefaultSocketPath() }

// IsDaemonNotRunning reports whether a client error means no daemon is
// listening (the socket file does not exist).
func IsDaemonNotRunning(err error) bool { return rpc.IsDaemonNotRunning(err) }

// Metrics helpers (public facade)

func RegisterMetrics(r prometheus.Registerer) error { return metrics.Register(r) }
func RegisterMetricsDefault() error                 { return metrics.Register(prometheus.DefaultRegisterer) }

// ServeMetrics serves /metrics on addr from the default registry in the
// caller's goroutine.
func ServeMetrics(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return srv.ListenAndServe()
}
