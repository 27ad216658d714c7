// Package app wires the configured collaborators into complete runs.
package app

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"lead-enricher/internal/cache"
	"lead-enricher/internal/config"
	"lead-enricher/internal/coresignal"
	"lead-enricher/internal/enrich"
	"lead-enricher/internal/merge"
	"lead-enricher/internal/pipeline"
)

// RunLocal enriches a local input CSV into a local output CSV.
func RunLocal(ctx context.Context, cfg config.Config, inputPath, outputPath string, logger *zap.Logger) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	runLogger := logger.With(zap.String("run_id", uuid.NewString()))
	start := time.Now()

	store, err := cache.Open(cfg.CacheOptions(), runLogger)
	if err != nil {
		return fmt.Errorf("open cache: %w", err)
	}
	defer func() {
		_ = store.Close()
	}()

	client, err := coresignal.New(coresignal.Config{
		BaseURL:        cfg.APIBaseURL,
		APIKey:         cfg.APIKey,
		MaxConcurrent:  cfg.MaxConcurrent,
		MaxRetries:     cfg.MaxRetries,
		RequestTimeout: cfg.RequestTimeout,
		RateLimitRPS:   cfg.RateLimitRPS,
		BackoffInitial: cfg.BackoffInitial,
		BackoffMax:     cfg.BackoffMax,
	}, runLogger)
	if err != nil {
		return fmt.Errorf("provider client: %w", err)
	}

	mapping := merge.DefaultMapping()
	if cfg.MappingPath != "" {
		if mapping, err = merge.LoadMappingFile(cfg.MappingPath); err != nil {
			return err
		}
	}
	merger, err := merge.New(mapping, cfg.Freshness)
	if err != nil {
		return err
	}

	inF, err := os.Open(inputPath)
	if err != nil {
		return err
	}
	defer func() {
		_ = inF.Close()
	}()
	rows, header, err := pipeline.ReadInputCSV(inF)
	if err != nil {
		return err
	}
	runLogger.Info("run start",
		zap.Int("rows", len(rows)),
		zap.String("cache_backend", cfg.CacheBackend),
		zap.Int("workers", cfg.Workers),
		zap.Duration("cache_ttl", cfg.CacheTTL))

	orch := pipeline.New(store, client, merger, pipeline.Options{
		Workers: cfg.Workers,
		TTL:     cfg.CacheTTL,
	}, runLogger)

	// Records are collected before writing: the output header carries the
	// union of extras columns, which is only known once every row is done.
	records := make([]enrich.Record, 0, len(rows))
	statusCounts := map[string]int{}
	err = orch.Run(ctx, rows, func(rec enrich.Record) error {
		records = append(records, rec)
		statusCounts[rec.Status]++
		runLogger.Debug("row enriched",
			zap.Int("row", len(records)),
			zap.String("status", rec.Status),
			zap.Bool("stale", rec.Stale))
		return nil
	})
	if err != nil {
		return err
	}

	outF, err := os.Create(outputPath)
	if err != nil {
		return err
	}
	defer func() {
		_ = outF.Close()
	}()
	if err := pipeline.WriteRecordsCSV(outF, header, merger.Columns(), records); err != nil {
		return err
	}
	if err := outF.Close(); err != nil {
		return err
	}

	oStats, cStats := orch.Stats(), client.Stats()
	runLogger.Info("run complete",
		zap.Int("rows", len(records)),
		zap.Int("ok", statusCounts[enrich.RecordOK]),
		zap.Int("partial", statusCounts[enrich.RecordPartial]),
		zap.Int("errors", statusCounts[enrich.RecordError]),
		zap.Int64("cache_hits", oStats.CacheHits),
		zap.Int64("fetches", oStats.Fetches),
		zap.Int64("requests", cStats.Requests),
		zap.Int64("retries", cStats.Retries),
		zap.Int64("rate_limit_hits", cStats.RateLimitHits),
		zap.Duration("elapsed", time.Since(start).Round(time.Millisecond)))
	return nil
}

// RunSweep deletes expired cache entries, once or on a cron schedule.
func RunSweep(ctx context.Context, cfg config.Config, schedule string, logger *zap.Logger) error {
	store, err := cache.Open(cfg.CacheOptions(), logger)
	if err != nil {
		return fmt.Errorf("open cache: %w", err)
	}
	defer func() {
		_ = store.Close()
	}()

	sweeper := cache.NewSweeper(store, cfg.CacheTTL, logger)
	if schedule == "" {
		removed, err := sweeper.RunOnce(ctx)
		if err != nil {
			return err
		}
		logger.Info("sweep complete", zap.Int("removed", removed))
		return nil
	}
	return sweeper.RunSchedule(ctx, schedule)
}
