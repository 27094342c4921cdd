package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("FRONTIER_DATA_DIR", t.TempDir())

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8001, cfg.Port)
	assert.Equal(t, 252, cfg.PeriodsPerYear)
	assert.Equal(t, []string{"SPY", "TLT", "EEM", "VNQ", "GLD"}, cfg.DefaultTickers)
	assert.Equal(t, time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC), cfg.DefaultStart)
	assert.Equal(t, time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC), cfg.DefaultEnd)
	assert.Equal(t, 24*time.Hour, cfg.DatasetTTL)
	assert.Equal(t, "sqlite", cfg.Cache.Backend)
	assert.Equal(t, "0 0 2 * * *", cfg.MaintenanceSchedule)
	assert.Equal(t, 90, cfg.Archive.RetentionDays)
	assert.False(t, cfg.Archive.Enabled())
	assert.Contains(t, cfg.CachePath(), "cache.db")
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("FRONTIER_DATA_DIR", t.TempDir())
	t.Setenv("GO_PORT", "9000")
	t.Setenv("DEFAULT_TICKERS", "spy, tlt ,,")
	t.Setenv("DATASET_TTL", "90m")
	t.Setenv("CACHE_BACKEND", "Redis")
	t.Setenv("ARCHIVE_BUCKET", "archive")
	t.Setenv("DEV_MODE", "true")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Port)
	assert.Equal(t, []string{"spy", "tlt"}, cfg.DefaultTickers)
	assert.Equal(t, 90*time.Minute, cfg.DatasetTTL)
	assert.Equal(t, "redis", cfg.Cache.Backend)
	assert.True(t, cfg.Archive.Enabled())
	assert.True(t, cfg.DevMode)
}

func TestLoad_Invalid(t *testing.T) {
	tests := map[string]map[string]string{
		"bad date":        {"DEFAULT_START": "01/01/2020"},
		"reversed range":  {"DEFAULT_START": "2024-01-01", "DEFAULT_END": "2023-01-01"},
		"unknown backend": {"CACHE_BACKEND": "memcached"},
		"half credentials": {
			"ARCHIVE_BUCKET":        "b",
			"ARCHIVE_ACCESS_KEY_ID": "id",
		},
		"bad periods": {"PERIODS_PER_YEAR": "0"},
	}
	for name, env := range tests {
		t.Run(name, func(t *testing.T) {
			t.Setenv("FRONTIER_DATA_DIR", t.TempDir())
			for k, v := range env {
				t.Setenv(k, v)
			}
			_, err := Load()
			assert.Error(t, err)
		})
	}
}
