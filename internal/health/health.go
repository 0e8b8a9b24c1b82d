// Package health reports service liveness, dependency reachability and host
// resource usage.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"
)

// Check is one dependency check. Required checks make the service unhealthy
// when they fail; optional ones only mark it degraded.
type Check struct {
	Name     string
	Required bool
	Ping     func(ctx context.Context) error
}

type SystemMetrics struct {
	CPUUsagePercent    float64 `json:"cpu_usage_percent"`
	MemoryUsagePercent float64 `json:"memory_usage_percent"`
	MemoryUsedBytes    uint64  `json:"memory_used_bytes"`
	MemoryTotalBytes   uint64  `json:"memory_total_bytes"`
	LoadAvg1m          float64 `json:"load_1m"`
	LoadAvg5m          float64 `json:"load_5m"`
	LoadAvg15m         float64 `json:"load_15m"`
	BackupDiskUsed     uint64  `json:"backup_disk_used_bytes"`
	BackupDiskFree     uint64  `json:"backup_disk_free_bytes"`
	BackupDiskPercent  float64 `json:"backup_disk_usage_percent"`
}

type Report struct {
	Status        string            `json:"status"`
	UptimeSeconds int64             `json:"uptime_seconds"`
	Dependencies  map[string]string `json:"dependencies"`
	System        *SystemMetrics    `json:"system,omitempty"`
}

const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

type Checker struct {
	mu        sync.RWMutex
	checks    []Check
	backupDir string
	started   time.Time
	collect   func(backupDir string) *SystemMetrics
}

func NewChecker(backupDir string) *Checker {
	return &Checker{
		backupDir: backupDir,
		started:   time.Now(),
		collect:   CollectSystem,
	}
}

func (c *Checker) Add(check Check) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checks = append(c.checks, check)
}

func (c *Checker) Uptime() time.Duration {
	return time.Since(c.started)
}

func (c *Checker) Check(ctx context.Context) Report {
	c.mu.RLock()
	checks := append([]Check(nil), c.checks...)
	c.mu.RUnlock()

	report := Report{
		Status:        StatusHealthy,
		UptimeSeconds: int64(c.Uptime().Seconds()),
		Dependencies:  make(map[string]string, len(checks)),
	}

	for _, check := range checks {
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		err := check.Ping(pingCtx)
		cancel()

		if err == nil {
			report.Dependencies[check.Name] = "connected"
			continue
		}
		report.Dependencies[check.Name] = "disconnected: " + err.Error()
		switch {
		case check.Required:
			report.Status = StatusUnhealthy
		case report.Status == StatusHealthy:
			report.Status = StatusDegraded
		}
	}

	if c.collect != nil {
		report.System = c.collect(c.backupDir)
	}
	return report
}

// ServeHTTP answers 503 only when a required dependency is down.
func (c *Checker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	report := c.Check(r.Context())

	w.Header().Set("Content-Type", "application/json")
	if report.Status == StatusUnhealthy {
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}
	_ = json.NewEncoder(w).Encode(report)
}

// CollectSystem samples host metrics. Individual sampling failures leave their
// fields zero.
func CollectSystem(backupDir string) *SystemMetrics {
	m := &SystemMetrics{}

	if cpuPercent, err := cpu.Percent(0, false); err == nil && len(cpuPercent) > 0 {
		m.CPUUsagePercent = cpuPercent[0]
	}

	if memStats, err := mem.VirtualMemory(); err == nil {
		m.MemoryUsagePercent = memStats.UsedPercent
		m.MemoryUsedBytes = memStats.Used
		m.MemoryTotalBytes = memStats.Total
	}

	if loadStats, err := load.Avg(); err == nil {
		m.LoadAvg1m = loadStats.Load1
		m.LoadAvg5m = loadStats.Load5
		m.LoadAvg15m = loadStats.Load15
	}

	if backupDir != "" {
		if usage, err := disk.Usage(backupDir); err == nil {
			m.BackupDiskUsed = usage.Used
			m.BackupDiskFree = usage.Free
			m.BackupDiskPercent = usage.UsedPercent
		}
	}

	return m
}

// Server exposes the checker on its own port.
type Server struct {
	checker *Checker
	server  *http.Server
}

func NewServer(checker *Checker) *Server {
	return &Server{checker: checker}
}

func (s *Server) Start(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/health", s.checker)

	s.server = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	return s.server.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}
