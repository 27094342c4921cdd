package di

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/aristath/frontier/internal/clientdata"
	"github.com/aristath/frontier/internal/config"
	"github.com/aristath/frontier/internal/reliability"
	"github.com/aristath/frontier/internal/scheduler"
)

type scheduledJob struct {
	schedule string
	job      scheduler.Job
}

// RegisterJobs creates the background jobs and schedules them
// Returns JobInstances for manual triggering via API
func RegisterJobs(container *Container, cfg *config.Config, sched *scheduler.Scheduler, log zerolog.Logger) (*JobInstances, error) {
	if container == nil {
		return nil, fmt.Errorf("container cannot be nil")
	}

	instances := &JobInstances{
		RefreshDataset: scheduler.NewRefreshDatasetJob(container.Datasets, container.DefaultKey, log),
		CacheCleanup:   clientdata.NewCleanupJob(container.Store, log),
	}
	if container.CacheDB != nil {
		instances.CacheMaintenance = reliability.NewCacheMaintenanceJob(container.CacheDB, cfg.DataDir, log)
	}
	if container.Archiver != nil {
		instances.ArchiveRotation = reliability.NewArchiveRotationJob(container.Archiver, cfg.Archive.RetentionDays, log)
	}

	schedules := []scheduledJob{
		{cfg.RefreshSchedule, instances.RefreshDataset},
		{cfg.CleanupSchedule, instances.CacheCleanup},
	}
	if instances.CacheMaintenance != nil {
		schedules = append(schedules, scheduledJob{cfg.MaintenanceSchedule, instances.CacheMaintenance})
	}
	if instances.ArchiveRotation != nil {
		schedules = append(schedules, scheduledJob{cfg.MaintenanceSchedule, instances.ArchiveRotation})
	}

	sched.SetMetrics(scheduler.NewMetrics(container.Registry))
	for _, s := range schedules {
		if err := sched.AddJob(s.schedule, s.job); err != nil {
			return nil, fmt.Errorf("failed to schedule %s: %w", s.job.Name(), err)
		}
	}

	log.Info().Int("jobs", len(schedules)).Msg("Jobs registered")
	return instances, nil
}
