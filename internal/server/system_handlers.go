package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/aristath/frontier/internal/database"
	"github.com/aristath/frontier/internal/modules/marketdata"
	"github.com/aristath/frontier/internal/scheduler"
)

// SystemHandlers handles system status and job trigger requests
type SystemHandlers struct {
	log       zerolog.Logger
	dataDir   string
	cacheDB   *database.DB
	datasets  *marketdata.Service
	startedAt time.Time

	mu        sync.RWMutex
	jobs      map[string]scheduler.Job
	jobStatus func() []scheduler.JobStatus
}

// NewSystemHandlers creates a new system handlers instance
func NewSystemHandlers(log zerolog.Logger, dataDir string, cacheDB *database.DB, datasets *marketdata.Service) *SystemHandlers {
	return &SystemHandlers{
		log:       log.With().Str("component", "system_handlers").Logger(),
		dataDir:   dataDir,
		cacheDB:   cacheDB,
		datasets:  datasets,
		startedAt: time.Now(),
		jobs:      make(map[string]scheduler.Job),
	}
}

// SetJobs registers job instances for manual triggering, keyed by name
func (h *SystemHandlers) SetJobs(jobs ...scheduler.Job) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, job := range jobs {
		if job != nil {
			h.jobs[job.Name()] = job
		}
	}
}

// SetJobStatus sets the source of per-job state
func (h *SystemHandlers) SetJobStatus(status func() []scheduler.JobStatus) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.jobStatus = status
}

// SystemStatusResponse represents system status
type SystemStatusResponse struct {
	Status        string                `json:"status"`
	UptimeSeconds int64                 `json:"uptime_seconds"`
	GoVersion     string                `json:"go_version"`
	Goroutines    int                   `json:"goroutines"`
	CPUPercent    float64               `json:"cpu_percent"`
	MemoryPercent float64               `json:"memory_percent"`
	DiskFreeGB    float64               `json:"disk_free_gb,omitempty"`
	Sources       []string              `json:"sources,omitempty"`
	Jobs          []string              `json:"jobs"`
	JobStatus     []scheduler.JobStatus `json:"job_status,omitempty"`
	CacheDB       *database.Stats       `json:"cache_db,omitempty"`
	CacheHealthy  *bool                 `json:"cache_healthy,omitempty"`
}

// GetSystemStatusSnapshot collects the current system status
func (h *SystemHandlers) GetSystemStatusSnapshot(ctx context.Context) SystemStatusResponse {
	cpuPercent, memPercent := h.getSystemStats()

	response := SystemStatusResponse{
		Status:        "healthy",
		UptimeSeconds: int64(time.Since(h.startedAt).Seconds()),
		GoVersion:     runtime.Version(),
		Goroutines:    runtime.NumGoroutine(),
		CPUPercent:    cpuPercent,
		MemoryPercent: memPercent,
		Jobs:          h.jobNames(),
	}

	if h.dataDir != "" {
		if usage, err := disk.UsageWithContext(ctx, h.dataDir); err == nil {
			response.DiskFreeGB = float64(usage.Free) / 1e9
		} else {
			h.log.Warn().Err(err).Str("dir", h.dataDir).Msg("Failed to get disk usage")
		}
	}

	h.mu.RLock()
	jobStatus := h.jobStatus
	h.mu.RUnlock()
	if jobStatus != nil {
		response.JobStatus = jobStatus()
	}

	if h.datasets != nil {
		response.Sources = h.datasets.Sources()
	}

	if h.cacheDB != nil {
		healthy := h.cacheDB.QuickCheck(ctx) == nil
		response.CacheHealthy = &healthy
		if !healthy {
			response.Status = "degraded"
		}
		if stats, err := h.cacheDB.GetStats(); err == nil {
			response.CacheDB = stats
		} else {
			h.log.Warn().Err(err).Msg("Failed to get cache database stats")
		}
	}

	return response
}

// HandleSystemStatus returns comprehensive system status
func (h *SystemHandlers) HandleSystemStatus(w http.ResponseWriter, r *http.Request) {
	h.log.Debug().Msg("Getting system status")
	h.writeJSON(w, http.StatusOK, h.GetSystemStatusSnapshot(r.Context()))
}

// HandleListJobs lists the jobs that can be triggered manually
func (h *SystemHandlers) HandleListJobs(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"jobs": h.jobNames(),
	})
}

// HandleTriggerJob runs a registered job immediately
// POST /api/system/jobs/{name}
func (h *SystemHandlers) HandleTriggerJob(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	h.mu.RLock()
	job, ok := h.jobs[name]
	h.mu.RUnlock()
	if !ok {
		http.Error(w, "Unknown job: "+name, http.StatusNotFound)
		return
	}

	h.log.Info().Str("job", name).Msg("Manually triggering job")

	start := time.Now()
	if err := job.Run(); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, scheduler.ErrJobRunning) {
			status = http.StatusConflict
		} else {
			h.log.Error().Err(err).Str("job", name).Msg("Job failed")
		}
		h.writeJSON(w, status, map[string]interface{}{
			"status":  "error",
			"job":     name,
			"message": err.Error(),
		})
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":      "success",
		"job":         name,
		"duration_ms": time.Since(start).Milliseconds(),
	})
}

func (h *SystemHandlers) jobNames() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	names := make([]string, 0, len(h.jobs))
	for name := range h.jobs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// getSystemStats calculates CPU and RAM usage percentages
// Uses a short interval (100ms) so the endpoint stays responsive
func (h *SystemHandlers) getSystemStats() (float64, float64) {
	cpuPercent, err := cpu.Percent(100*time.Millisecond, false)
	if err != nil {
		h.log.Warn().Err(err).Msg("Failed to get CPU percentage")
		cpuPercent = []float64{0}
	}

	memStat, err := mem.VirtualMemory()
	if err != nil {
		h.log.Warn().Err(err).Msg("Failed to get memory statistics")
		return 0, 0
	}

	cpuAvg := 0.0
	if len(cpuPercent) > 0 {
		cpuAvg = cpuPercent[0]
	}

	return cpuAvg, memStat.UsedPercent
}

func (h *SystemHandlers) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}
