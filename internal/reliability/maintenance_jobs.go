package reliability

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/disk"

	"github.com/aristath/frontier/internal/database"
)

// CacheMaintenanceJob performs daily maintenance of the SQLite dataset cache
type CacheMaintenanceJob struct {
	db      *database.DB
	dataDir string
	// minFreeGB below which the job fails
	minFreeGB float64
	// freelist share of pages that triggers VACUUM
	vacuumRatio float64
	log         zerolog.Logger
}

// NewCacheMaintenanceJob creates a new cache maintenance job
func NewCacheMaintenanceJob(db *database.DB, dataDir string, log zerolog.Logger) *CacheMaintenanceJob {
	return &CacheMaintenanceJob{
		db:          db,
		dataDir:     dataDir,
		minFreeGB:   0.5,
		vacuumRatio: 0.25,
		log:         log.With().Str("job", "cache_maintenance").Logger(),
	}
}

// Name returns the job name for scheduler
func (j *CacheMaintenanceJob) Name() string {
	return "cache_maintenance"
}

// Run executes the cache maintenance job
func (j *CacheMaintenanceJob) Run() error {
	j.log.Info().Msg("Starting cache maintenance")
	startTime := time.Now()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	// Step 1: Integrity check
	if err := j.db.HealthCheck(ctx); err != nil {
		j.log.Error().Err(err).Msg("Cache database failed integrity check")
		return err
	}

	// Step 2: WAL checkpoint (prevent bloat)
	if err := j.db.WALCheckpoint("TRUNCATE"); err != nil {
		j.log.Warn().Err(err).Msg("WAL checkpoint failed")
	}

	// Step 3: Reclaim space once expired rows leave enough free pages
	if err := j.vacuumIfFragmented(); err != nil {
		j.log.Warn().Err(err).Msg("VACUUM failed")
	}

	// Step 4: Check disk space
	if err := j.checkDiskSpace(ctx); err != nil {
		return err
	}

	if stats, err := j.db.GetStats(); err == nil {
		j.log.Info().
			Float64("size_mb", float64(stats.SizeBytes)/1024/1024).
			Float64("wal_size_mb", float64(stats.WALSizeBytes)/1024/1024).
			Msg("Cache database metrics")
	}

	j.log.Info().
		Dur("duration_ms", time.Since(startTime)).
		Msg("Cache maintenance completed")

	return nil
}

func (j *CacheMaintenanceJob) vacuumIfFragmented() error {
	var pageCount, freePages int64
	if err := j.db.Conn().QueryRow("PRAGMA page_count").Scan(&pageCount); err != nil {
		return err
	}
	if err := j.db.Conn().QueryRow("PRAGMA freelist_count").Scan(&freePages); err != nil {
		return err
	}
	if pageCount == 0 || float64(freePages)/float64(pageCount) < j.vacuumRatio {
		return nil
	}

	if _, err := j.db.Conn().Exec("VACUUM"); err != nil {
		return fmt.Errorf("VACUUM failed: %w", err)
	}
	j.log.Info().
		Int64("pages_before", pageCount).
		Int64("free_pages", freePages).
		Msg("VACUUM completed")
	return nil
}

// checkDiskSpace verifies sufficient disk space is available
func (j *CacheMaintenanceJob) checkDiskSpace(ctx context.Context) error {
	usage, err := disk.UsageWithContext(ctx, j.dataDir)
	if err != nil {
		return fmt.Errorf("failed to stat filesystem: %w", err)
	}

	availableGB := float64(usage.Free) / 1e9
	j.log.Debug().Float64("available_gb", availableGB).Msg("Disk space check")

	if availableGB < j.minFreeGB {
		j.log.Error().
			Float64("available_gb", availableGB).
			Msg("CRITICAL: Insufficient disk space for the dataset cache")
		return fmt.Errorf("CRITICAL: Only %.2f GB free in %s", availableGB, j.dataDir)
	}
	if availableGB < 10*j.minFreeGB {
		j.log.Warn().
			Float64("available_gb", availableGB).
			Msg("Disk space running low")
	}
	return nil
}

// ArchiveRotationJob deletes dataset archives past their retention
type ArchiveRotationJob struct {
	archiver      *DatasetArchiver
	retentionDays int
	log           zerolog.Logger
}

// NewArchiveRotationJob creates a new archive rotation job
func NewArchiveRotationJob(archiver *DatasetArchiver, retentionDays int, log zerolog.Logger) *ArchiveRotationJob {
	return &ArchiveRotationJob{
		archiver:      archiver,
		retentionDays: retentionDays,
		log:           log.With().Str("job", "archive_rotation").Logger(),
	}
}

// Name returns the job name for scheduler
func (j *ArchiveRotationJob) Name() string {
	return "archive_rotation"
}

// Run executes the archive rotation job
func (j *ArchiveRotationJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	deleted, err := j.archiver.RotateOldArchives(ctx, j.retentionDays)
	if err != nil {
		return fmt.Errorf("archive rotation failed: %w", err)
	}
	j.log.Debug().Int("deleted", deleted).Msg("Archive rotation finished")
	return nil
}
