package metrics

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shirou/gopsutil/v4/process"
)

// Sample is the latest resource reading for one supervised child.
type Sample struct {
	PID        int       `json:"pid"`
	CPUPercent float64   `json:"cpuPercent"`
	MemoryMB   float64   `json:"memoryMB"`
	NumThreads int32     `json:"numThreads"`
	Taken      time.Time `json:"taken"`
}

// Sampler periodically reads CPU and memory for the supervisor's live
// pids and exports them as gauges. Only the latest sample per service is
// kept; history belongs to the scrape backend.
type Sampler struct {
	interval time.Duration

	cpuGauge *prometheus.GaugeVec
	memGauge *prometheus.GaugeVec

	mu     sync.Mutex
	latest map[string]Sample

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func NewSampler(interval time.Duration) *Sampler {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Sampler{
		interval: interval,
		latest:   make(map[string]Sample),
		stopCh:   make(chan struct{}),
		cpuGauge: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "shepd",
				Subsystem: "service",
				Name:      "cpu_percent",
				Help:      "CPU usage percentage per supervised service.",
			}, []string{"service"},
		),
		memGauge: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "shepd",
				Subsystem: "service",
				Name:      "memory_mb",
				Help:      "Resident memory in MB per supervised service.",
			}, []string{"service"},
		),
	}
}

func (s *Sampler) RegisterMetrics(r prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{s.cpuGauge, s.memGauge} {
		if err := r.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	return nil
}

// Start launches the sample loop. pids supplies the live process table
// snapshot on every tick.
func (s *Sampler) Start(ctx context.Context, pids func() map[string]int) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stopCh:
				return
			case <-ticker.C:
				s.collect(pids())
			}
		}
	}()
}

func (s *Sampler) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	s.wg.Wait()
}

func (s *Sampler) collect(pids map[string]int) {
	now := time.Now()
	fresh := make(map[string]Sample, len(pids))
	for name, pid := range pids {
		if pid <= 0 {
			continue
		}
		sample, err := readProcess(pid)
		if err != nil {
			slog.Debug("resource sample failed", "service", name, "pid", pid, "error", err)
			continue
		}
		sample.Taken = now
		fresh[name] = sample
		s.cpuGauge.WithLabelValues(name).Set(sample.CPUPercent)
		s.memGauge.WithLabelValues(name).Set(sample.MemoryMB)
	}

	s.mu.Lock()
	for name := range s.latest {
		if _, ok := fresh[name]; !ok {
			s.cpuGauge.DeleteLabelValues(name)
			s.memGauge.DeleteLabelValues(name)
		}
	}
	s.latest = fresh
	s.mu.Unlock()
}

// Latest returns the most recent sample for one service, if any.
func (s *Sampler) Latest(name string) (Sample, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sample, ok := s.latest[name]
	return sample, ok
}

func readProcess(pid int) (Sample, error) {
	proc, err := process.NewProcess(int32(pid))
	if err != nil {
		return Sample{}, err
	}
	sample := Sample{PID: pid}
	if cpu, err := proc.CPUPercent(); err == nil {
		sample.CPUPercent = cpu
	}
	mem, err := proc.MemoryInfo()
	if err != nil {
		return Sample{}, err
	}
	sample.MemoryMB = float64(mem.RSS) / 1024 / 1024
	if threads, err := proc.NumThreads(); err == nil {
		sample.NumThreads = threads
	}
	return sample, nil
}
