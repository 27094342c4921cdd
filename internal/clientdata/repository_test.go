package clientdata

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/aristath/frontier/internal/database"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRepository(t *testing.T) (*Repository, *time.Time) {
	t.Helper()
	db, err := database.New(database.Config{
		Path:    filepath.Join(t.TempDir(), "cache.db"),
		Profile: database.ProfileCache,
		Name:    "cache",
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, db.Migrate())

	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	repo := NewRepository(db.Conn())
	repo.now = func() time.Time { return now }
	return repo, &now
}

func TestRepository_PutAndGet(t *testing.T) {
	repo, _ := setupRepository(t)
	ctx := context.Background()

	require.NoError(t, repo.Put(ctx, "yahoo:a", "yahoo", []byte("payload"), time.Hour))

	data, ok, err := repo.Get(ctx, "yahoo:a")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("payload"), data)

	_, ok, err = repo.Get(ctx, "yahoo:missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRepository_PutReplaces(t *testing.T) {
	repo, _ := setupRepository(t)
	ctx := context.Background()

	require.NoError(t, repo.Put(ctx, "k", "yahoo", []byte("v1"), time.Hour))
	require.NoError(t, repo.Put(ctx, "k", "yahoo", []byte("v2"), time.Hour))

	data, ok, err := repo.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("v2"), data)
}

func TestRepository_PutRequiresKey(t *testing.T) {
	repo, _ := setupRepository(t)
	assert.Error(t, repo.Put(context.Background(), "", "yahoo", nil, time.Hour))
}

func TestRepository_ExpiredOnlyStale(t *testing.T) {
	repo, now := setupRepository(t)
	ctx := context.Background()

	require.NoError(t, repo.Put(ctx, "k", "yahoo", []byte("old"), time.Hour))
	*now = now.Add(2 * time.Hour)

	_, ok, err := repo.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok, "expired entry must not be fresh")

	data, ok, err := repo.GetStale(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("old"), data)
}

func TestRepository_DeleteExpired(t *testing.T) {
	repo, now := setupRepository(t)
	ctx := context.Background()

	require.NoError(t, repo.Put(ctx, "short", "yahoo", []byte("1"), time.Hour))
	require.NoError(t, repo.Put(ctx, "long", "yahoo", []byte("2"), 48*time.Hour))
	*now = now.Add(2 * time.Hour)

	deleted, err := repo.DeleteExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	_, ok, _ := repo.GetStale(ctx, "short")
	assert.False(t, ok)
	_, ok, _ = repo.Get(ctx, "long")
	assert.True(t, ok)
}

func TestRepository_DeleteAndDeleteSource(t *testing.T) {
	repo, _ := setupRepository(t)
	ctx := context.Background()

	require.NoError(t, repo.Put(ctx, "yahoo:1", "yahoo", []byte("1"), time.Hour))
	require.NoError(t, repo.Put(ctx, "yahoo:2", "yahoo", []byte("2"), time.Hour))
	require.NoError(t, repo.Put(ctx, "csv:1", "csv", []byte("3"), time.Hour))

	require.NoError(t, repo.Delete(ctx, "yahoo:1"))
	_, ok, _ := repo.GetStale(ctx, "yahoo:1")
	assert.False(t, ok)

	deleted, err := repo.DeleteSource(ctx, "yahoo")
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	_, ok, _ = repo.Get(ctx, "csv:1")
	assert.True(t, ok, "other sources are untouched")
}

func TestCleanupJob_Run(t *testing.T) {
	repo, now := setupRepository(t)
	ctx := context.Background()

	require.NoError(t, repo.Put(ctx, "k", "yahoo", []byte("1"), time.Minute))
	*now = now.Add(time.Hour)

	job := NewCleanupJob(repo, zerolog.Nop())
	assert.Equal(t, "dataset_cache_cleanup", job.Name())
	require.NoError(t, job.Run())

	_, ok, err := repo.GetStale(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
}
