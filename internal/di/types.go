// Package di provides dependency injection wiring and initialization.
package di

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/aristath/frontier/internal/clientdata"
	"github.com/aristath/frontier/internal/database"
	"github.com/aristath/frontier/internal/modules/marketdata"
	"github.com/aristath/frontier/internal/modules/optimization"
	"github.com/aristath/frontier/internal/reliability"
	"github.com/aristath/frontier/internal/scheduler"
)

// Container holds all dependencies for the application.
//
// Exactly one of CacheDB and Redis is set, matching the configured cache
// backend. Archiver is nil when no archive bucket is configured.
type Container struct {
	// Cache backends
	CacheDB *database.DB
	Redis   *redis.Client
	Store   clientdata.Store

	// Metrics
	Registry *prometheus.Registry

	// Services
	Sources   *marketdata.Sources
	Optimizer *optimization.OptimizerService
	Datasets  *marketdata.Service
	Archiver  *reliability.DatasetArchiver

	// DefaultKey is the dataset kept warm by the refresh job.
	DefaultKey marketdata.DatasetKey
}

// JobInstances holds the scheduled jobs for manual triggering via API.
// ArchiveRotation and CacheMaintenance are nil when their backend is absent.
type JobInstances struct {
	RefreshDataset   *scheduler.RefreshDatasetJob
	CacheCleanup     *clientdata.CleanupJob
	CacheMaintenance *reliability.CacheMaintenanceJob
	ArchiveRotation  *reliability.ArchiveRotationJob
}

// Close releases the cache backend.
func (c *Container) Close() error {
	if c.CacheDB != nil {
		return c.CacheDB.Close()
	}
	if c.Redis != nil {
		return c.Redis.Close()
	}
	return nil
}

// All returns the configured jobs.
func (j *JobInstances) All() []scheduler.Job {
	jobs := []scheduler.Job{j.RefreshDataset, j.CacheCleanup}
	if j.CacheMaintenance != nil {
		jobs = append(jobs, j.CacheMaintenance)
	}
	if j.ArchiveRotation != nil {
		jobs = append(jobs, j.ArchiveRotation)
	}
	return jobs
}
