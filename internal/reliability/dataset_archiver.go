// Package reliability archives datasets to object storage and maintains the
// local cache database.
package reliability

import (
	"context"
	"crypto/sha256"
	"fmt"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// minArchivesToKeep survive rotation regardless of age.
const minArchivesToKeep = 3

// ArchiveInfo describes one archived dataset CSV.
type ArchiveInfo struct {
	Key          string    `json:"key"`
	Dataset      string    `json:"dataset"`
	LastModified time.Time `json:"last_modified"`
	SizeBytes    int64     `json:"size_bytes"`
	AgeHours     int64     `json:"age_hours"`
}

// DatasetArchiver uploads dataset CSV snapshots under a key prefix.
type DatasetArchiver struct {
	store  ObjectStore
	prefix string
	now    func() time.Time
	log    zerolog.Logger
}

// NewDatasetArchiver creates an archiver writing below prefix.
func NewDatasetArchiver(store ObjectStore, prefix string, log zerolog.Logger) *DatasetArchiver {
	return &DatasetArchiver{
		store:  store,
		prefix: strings.Trim(prefix, "/"),
		now:    time.Now,
		log:    log.With().Str("service", "dataset_archive").Logger(),
	}
}

// Archive uploads data as prefix/name and returns its location.
func (a *DatasetArchiver) Archive(ctx context.Context, name string, data []byte) (string, error) {
	key := path.Join(a.prefix, name)
	location, err := a.store.Upload(ctx, key, data, "text/csv")
	if err != nil {
		return "", err
	}

	a.log.Info().
		Str("key", key).
		Int("size_bytes", len(data)).
		Str("checksum", fmt.Sprintf("sha256:%x", sha256.Sum256(data))).
		Msg("Dataset archived")

	return location, nil
}

// ListArchives lists archived CSVs, newest first.
func (a *DatasetArchiver) ListArchives(ctx context.Context) ([]ArchiveInfo, error) {
	listPrefix := a.prefix
	if listPrefix != "" {
		listPrefix += "/"
	}
	objects, err := a.store.List(ctx, listPrefix)
	if err != nil {
		return nil, fmt.Errorf("failed to list dataset archives: %w", err)
	}

	now := a.now()
	archives := make([]ArchiveInfo, 0, len(objects))
	for _, obj := range objects {
		if obj.Key == nil || !strings.HasSuffix(*obj.Key, ".csv") {
			continue
		}
		info := ArchiveInfo{
			Key:     *obj.Key,
			Dataset: strings.TrimPrefix(*obj.Key, listPrefix),
		}
		if obj.LastModified != nil {
			info.LastModified = *obj.LastModified
			info.AgeHours = int64(now.Sub(info.LastModified).Hours())
		}
		if obj.Size != nil {
			info.SizeBytes = *obj.Size
		}
		archives = append(archives, info)
	}

	sort.Slice(archives, func(i, j int) bool {
		return archives[i].LastModified.After(archives[j].LastModified)
	})
	return archives, nil
}

// RotateOldArchives deletes archives older than retentionDays, keeping the
// newest few regardless of age. retentionDays 0 keeps everything.
func (a *DatasetArchiver) RotateOldArchives(ctx context.Context, retentionDays int) (int, error) {
	if retentionDays <= 0 {
		return 0, nil
	}

	archives, err := a.ListArchives(ctx)
	if err != nil {
		return 0, err
	}
	if len(archives) <= minArchivesToKeep {
		a.log.Debug().Int("count", len(archives)).Msg("Too few archives to rotate")
		return 0, nil
	}

	cutoff := a.now().AddDate(0, 0, -retentionDays)
	deleted := 0
	for _, archive := range archives[minArchivesToKeep:] {
		if !archive.LastModified.Before(cutoff) {
			continue
		}
		if err := a.store.Delete(ctx, archive.Key); err != nil {
			a.log.Error().Err(err).Str("key", archive.Key).Msg("Failed to delete old archive")
			continue
		}
		deleted++
	}

	a.log.Info().
		Int("deleted", deleted).
		Int("remaining", len(archives)-deleted).
		Int("retention_days", retentionDays).
		Msg("Dataset archive rotation completed")

	return deleted, nil
}
