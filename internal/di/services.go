package di

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"

	"github.com/aristath/frontier/internal/clients/yahoo"
	"github.com/aristath/frontier/internal/config"
	"github.com/aristath/frontier/internal/modules/marketdata"
	"github.com/aristath/frontier/internal/modules/optimization"
	"github.com/aristath/frontier/internal/reliability"
)

// InitializeServices creates metrics, price sources, the optimizer and the
// dataset service
func InitializeServices(container *Container, cfg *config.Config, log zerolog.Logger) error {
	if container == nil {
		return fmt.Errorf("container cannot be nil")
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	container.Registry = reg

	// Price sources: Yahoo over HTTP plus per-ticker CSV files under DataDir/prices
	container.Sources = marketdata.NewSources(
		marketdata.NewYahooSource(yahoo.NewClient(cfg.YahooBaseURL, log)),
		marketdata.NewCSVSource(filepath.Join(cfg.DataDir, "prices")),
	)

	container.Optimizer = optimization.NewOptimizerService(
		cfg.PeriodsPerYear,
		optimization.NewMetrics(reg),
		log,
	)

	var archiver marketdata.Archiver
	if cfg.Archive.Enabled() {
		client, err := reliability.NewR2Client(context.Background(), cfg.Archive, log)
		if err != nil {
			return fmt.Errorf("failed to create archive client: %w", err)
		}
		container.Archiver = reliability.NewDatasetArchiver(client, cfg.Archive.Prefix, log)
		archiver = container.Archiver
		log.Info().Str("bucket", cfg.Archive.Bucket).Msg("Dataset archive enabled")
	}

	container.Datasets = marketdata.NewService(
		container.Sources,
		container.Store,
		container.Optimizer,
		archiver,
		marketdata.NewMetrics(reg),
		marketdata.Config{
			TTL:            cfg.DatasetTTL,
			ArchiveOnFetch: cfg.Archive.OnFetch,
		},
		log,
	)

	key, err := marketdata.NewDatasetKey(cfg.DefaultSource, cfg.DefaultStart, cfg.DefaultEnd, cfg.DefaultTickers)
	if err != nil {
		return fmt.Errorf("invalid default dataset: %w", err)
	}
	if _, err := container.Sources.Get(key.Source); err != nil {
		return fmt.Errorf("invalid default dataset: %w", err)
	}
	container.DefaultKey = key

	return nil
}
