package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/uzadolat/courtharvest/internal/aggregate"
	"github.com/uzadolat/courtharvest/internal/api"
	"github.com/uzadolat/courtharvest/internal/artifact"
	"github.com/uzadolat/courtharvest/internal/config"
	"github.com/uzadolat/courtharvest/internal/extract"
	"github.com/uzadolat/courtharvest/internal/harvest"
	"github.com/uzadolat/courtharvest/internal/listing"
	"github.com/uzadolat/courtharvest/internal/logging"
	"github.com/uzadolat/courtharvest/internal/metrics"
	"github.com/uzadolat/courtharvest/internal/pipeline"
	"github.com/uzadolat/courtharvest/internal/ratectl"
	"github.com/uzadolat/courtharvest/internal/store"
)

type harvestFlags struct {
	sections      []string
	startPage     int
	endPage       int
	workers       int
	skipArtifacts bool
	overwrite     bool
}

// newHarvestCmd creates the 'harvest' subcommand.
func newHarvestCmd() *cobra.Command {
	var flags harvestFlags
	cmd := &cobra.Command{
		Use:   "harvest",
		Short: "Harvest decision listings, documents and text",
		Long: `Enumerates the configured listing sections page by page, downloads each
decision's PDF, extracts its text and commits one metadata file per page.
Already-committed pages are skipped, so rerunning after an interruption
resumes exactly where the previous run stopped.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runHarvest(cmd.Context(), flags)
		},
	}

	cmd.Flags().StringSliceVar(&flags.sections, "section", nil, "section tags to harvest (default: all configured)")
	cmd.Flags().IntVar(&flags.startPage, "start-page", 0, "first page index to harvest")
	cmd.Flags().IntVar(&flags.endPage, "end-page", harvest.EndPageUnbounded, "last page index, inclusive (-1 runs until an empty page)")
	cmd.Flags().IntVar(&flags.workers, "workers", 0, "record worker pool size (default: config)")
	cmd.Flags().BoolVar(&flags.skipArtifacts, "skip-artifacts", false, "harvest listing metadata only, no PDF downloads")
	cmd.Flags().BoolVar(&flags.overwrite, "overwrite", false, "reprocess pages even when already committed")
	return cmd
}

func runHarvest(parent context.Context, flags harvestFlags) error {
	cfg, baseLogger, err := loadEnvironment()
	if err != nil {
		return err
	}
	defer baseLogger.Sync() //nolint:errcheck

	logger, runID := logging.ForRun(baseLogger)
	metrics.Init()

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	sections, err := resolveSections(cfg, flags.sections)
	if err != nil {
		return err
	}
	workers := flags.workers
	if workers <= 0 {
		workers = cfg.Harvest.Workers
	}

	tracker := api.NewStatusTracker()
	opsServer := api.NewServer(tracker, logger)
	go func() {
		if err := opsServer.ListenAndServe(ctx, cfg.Server.Port); err != nil {
			logger.Warn("ops server stopped", zap.Error(err))
		}
	}()

	var cache store.CompletionCache
	if cfg.Redis.Addr != "" {
		redisCache, err := store.NewRedisCache(ctx, cfg.Redis.Addr)
		if err != nil {
			logger.Warn("completion cache unavailable, continuing with disk only", zap.Error(err))
		} else {
			cache = redisCache
			defer redisCache.Close() //nolint:errcheck
		}
	}

	fileStore, err := store.New(store.Config{DownloadDir: cfg.Harvest.DownloadDir}, cache, logger)
	if err != nil {
		return fmt.Errorf("init store: %w", err)
	}

	controller := ratectl.New(ratectl.Config{
		BaseDelay:        cfg.BaseDelay(),
		MinDelay:         cfg.MinDelay(),
		MaxDelay:         cfg.MaxDelay(),
		BackoffFactor:    cfg.Rate.BackoffFactor,
		DecayFactor:      cfg.Rate.DecayFactor,
		SuccessThreshold: cfg.Rate.SuccessThreshold,
	})
	lister := listing.New(controller, listing.Config{
		PageSize:    cfg.HTTP.PageSize,
		Timeout:     cfg.ListingTimeout(),
		MaxAttempts: cfg.HTTP.MaxAttempts,
		UserAgent:   cfg.HTTP.UserAgent,
	}, logger)
	fetcher := artifact.New(controller, artifact.Config{
		Timeout:     cfg.ArtifactTimeout(),
		MaxAttempts: cfg.HTTP.MaxAttempts,
		MaxBytes:    cfg.MaxArtifactBytes(),
		UserAgent:   cfg.HTTP.UserAgent,
	}, logger)
	processor := pipeline.NewProcessor(fetcher, extract.NewPDF(), fileStore, nil, logger)
	scheduler := pipeline.NewScheduler(lister, processor, fileStore, nil, pipeline.SchedulerConfig{
		MaxWorkers:                 workers,
		AbortOnPageFailure:         cfg.Harvest.AbortOnPageFailure,
		MaxConsecutivePageFailures: cfg.Harvest.MaxConsecutivePageFailures,
	}, logger)

	params := harvest.RunParams{
		StartPage:         flags.startPage,
		EndPage:           flags.endPage,
		DownloadArtifacts: !flags.skipArtifacts,
		MaxWorkers:        workers,
		Overwrite:         flags.overwrite,
	}
	for _, s := range sections {
		params.Sections = append(params.Sections, s.Tag)
	}

	logger.Info("harvest starting",
		zap.Strings("sections", params.Sections),
		zap.Int("start_page", params.StartPage),
		zap.Int("end_page", params.EndPage),
		zap.Int("workers", workers),
		zap.Bool("download_artifacts", params.DownloadArtifacts),
		zap.String("download_dir", cfg.Harvest.DownloadDir),
	)
	tracker.Started(runID, params.Sections)

	summary, runErr := scheduler.Run(ctx, sections, params)
	summary.RunID = runID
	tracker.Finished(summary, runErr != nil)
	logSummary(logger, summary)

	if runErr != nil {
		return fmt.Errorf("harvest: %w", runErr)
	}

	// Rebuild the manifest even after Ctrl-C: committed pages are durable and
	// the manifest should reflect them.
	manifest, err := aggregate.New(cfg.Harvest.DownloadDir, nil, logger).Build(context.WithoutCancel(ctx))
	if err != nil {
		return fmt.Errorf("aggregate: %w", err)
	}
	logger.Info("manifest rebuilt", zap.Int("decisions", len(manifest.Decisions)))

	if errors.Is(ctx.Err(), context.Canceled) {
		logger.Info("harvest interrupted, rerun to resume")
	}
	return nil
}

func resolveSections(cfg config.Config, tags []string) ([]harvest.Section, error) {
	if len(tags) == 0 {
		return cfg.Harvest.Sections, nil
	}
	var sections []harvest.Section
	for _, tag := range tags {
		section, err := cfg.SectionByTag(tag)
		if err != nil {
			return nil, err
		}
		sections = append(sections, section)
	}
	return sections, nil
}

func logSummary(logger *zap.Logger, s harvest.RunSummary) {
	logger.Info("harvest finished",
		zap.Strings("sections", s.Sections),
		zap.Int("pages_attempted", s.PagesAttempted),
		zap.Int("pages_completed", s.PagesCompleted),
		zap.Int("pages_skipped", s.PagesSkipped),
		zap.Int("failed_pages", len(s.FailedPages)),
		zap.Int("records_succeeded", s.RecordsSucceeded),
		zap.Int("records_failed", s.RecordsFailed),
		zap.Int("texts_extracted", s.TextsExtracted),
		zap.Int("extraction_failures", s.ExtractionFailures),
		zap.Duration("elapsed", s.FinishedAt.Sub(s.StartedAt)),
	)
	for _, gap := range s.FailedPages {
		logger.Warn("page gap recorded",
			zap.String("section", gap.Section),
			zap.Int("page", gap.Index),
		)
	}
}
