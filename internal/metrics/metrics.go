package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Package-level Prometheus collectors, registered via Register.
var (
	regOK atomic.Bool

	serviceStarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "shepd",
			Subsystem: "service",
			Name:      "starts_total",
			Help:      "Number of successful service starts.",
		}, []string{"service"},
	)
	serviceStops = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "shepd",
			Subsystem: "service",
			Name:      "stops_total",
			Help:      "Number of service stops (graceful or kill).",
		}, []string{"service"},
	)
	serviceRestarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "shepd",
			Subsystem: "service",
			Name:      "restarts_total",
			Help:      "Number of auto restarts scheduled after unexpected exits.",
		}, []string{"service"},
	)
	serviceStates = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "shepd",
			Subsystem: "service",
			Name:      "state",
			Help:      "Current service state (1 = active state, 0 = inactive).",
		}, []string{"service", "state"},
	)
	updateInstalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "shepd",
			Subsystem: "update",
			Name:      "installs_total",
			Help:      "Number of update installs by outcome.",
		}, []string{"service", "outcome"},
	)
	updateDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "shepd",
			Subsystem: "update",
			Name:      "install_duration_seconds",
			Help:      "Wall time of download-and-install runs.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"service"},
	)
	rpcRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "shepd",
			Subsystem: "rpc",
			Name:      "requests_total",
			Help:      "Number of RPC requests served, by method and outcome.",
		}, []string{"method", "outcome"},
	)
	rpcConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "shepd",
			Subsystem: "rpc",
			Name:      "connections",
			Help:      "Currently attached control connections.",
		},
	)
)

// Register registers all metrics with the provided registerer. Safe to
// call more than once; duplicates are ignored.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{
		serviceStarts, serviceStops, serviceRestarts, serviceStates,
		updateInstalls, updateDuration, rpcRequests, rpcConnections,
	}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	regOK.Store(true)
	return nil
}

// Handler serves the DefaultGatherer; the caller wires the route.
func Handler() http.Handler { return promhttp.Handler() }

// Helpers below no-op until Register has been called.

func IncServiceStart(service string) {
	if regOK.Load() {
		serviceStarts.WithLabelValues(service).Inc()
	}
}

func IncServiceStop(service string) {
	if regOK.Load() {
		serviceStops.WithLabelValues(service).Inc()
	}
}

func IncServiceRestart(service string) {
	if regOK.Load() {
		serviceRestarts.WithLabelValues(service).Inc()
	}
}

func SetServiceState(service, state string, active bool) {
	if regOK.Load() {
		var v float64
		if active {
			v = 1
		}
		serviceStates.WithLabelValues(service, state).Set(v)
	}
}

func ObserveInstall(service string, seconds float64, err error) {
	if !regOK.Load() {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	updateInstalls.WithLabelValues(service, outcome).Inc()
	updateDuration.WithLabelValues(service).Observe(seconds)
}

func IncRPCRequest(method string, failed bool) {
	if !regOK.Load() {
		return
	}
	outcome := "ok"
	if failed {
		outcome = "error"
	}
	rpcRequests.WithLabelValues(method, outcome).Inc()
}

func SetConnections(n int) {
	if regOK.Load() {
		rpcConnections.Set(float64(n))
	}
}
