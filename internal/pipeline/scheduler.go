package pipeline

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/uzadolat/courtharvest/internal/harvest"
	"github.com/uzadolat/courtharvest/internal/metrics"
)

// RecordProcessor is the per-record workflow invoked by scheduler workers.
type RecordProcessor interface {
	Process(ctx context.Context, d harvest.Decision, opts ProcessOptions) (harvest.Outcome, error)
}

// SchedulerConfig controls page enumeration.
type SchedulerConfig struct {
	// MaxWorkers bounds the record worker pool shared by a page's fan-out.
	MaxWorkers int
	// AbortOnPageFailure stops the run when a page exhausts its listing
	// retries instead of recording it as a gap.
	AbortOnPageFailure bool
	// MaxConsecutivePageFailures ends a section after this many failed
	// pages in a row. Without it an unbounded range would advance forever
	// against a dead server.
	MaxConsecutivePageFailures int
	// LargeSectionWarning triggers a volume warning when a section reports
	// more elements than this on its first page.
	LargeSectionWarning int64
}

func (c *SchedulerConfig) applyDefaults() {
	if c.MaxWorkers <= 0 {
		c.MaxWorkers = 4
	}
	if c.LargeSectionWarning <= 0 {
		c.LargeSectionWarning = 50000
	}
	if c.MaxConsecutivePageFailures <= 0 {
		c.MaxConsecutivePageFailures = 10
	}
}

// Scheduler enumerates pages for one or more sections and fans each page's
// records out across the worker pool. Pages are committed in index order;
// records within a page complete in any order behind a join barrier.
type Scheduler struct {
	lister    harvest.Lister
	processor RecordProcessor
	store     harvest.ResumeStore
	clock     harvest.Clock
	cfg       SchedulerConfig
	logger    *zap.Logger
}

// NewScheduler builds a Scheduler.
func NewScheduler(
	lister harvest.Lister,
	processor RecordProcessor,
	store harvest.ResumeStore,
	clock harvest.Clock,
	cfg SchedulerConfig,
	logger *zap.Logger,
) *Scheduler {
	cfg.applyDefaults()
	if clock == nil {
		clock = harvest.SystemClock{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		lister:    lister,
		processor: processor,
		store:     store,
		clock:     clock,
		cfg:       cfg,
		logger:    logger,
	}
}

// Run harvests the given sections sequentially under one shared rate budget.
// It returns a merged summary; the error is non-nil only for failures that
// jeopardize storage consistency (or when AbortOnPageFailure fires).
func (s *Scheduler) Run(ctx context.Context, sections []harvest.Section, params harvest.RunParams) (harvest.RunSummary, error) {
	summary := harvest.RunSummary{StartedAt: s.clock.Now()}
	for _, section := range sections {
		summary.Sections = append(summary.Sections, section.Tag)
		sectionSummary, err := s.runSection(ctx, section, params)
		summary.Merge(sectionSummary)
		if err != nil {
			summary.FinishedAt = s.clock.Now()
			return summary, err
		}
		if ctx.Err() != nil {
			break
		}
	}
	summary.FinishedAt = s.clock.Now()
	return summary, nil
}

// Section state machine: Pending -> Fetching -> Dispatched -> Completed|Failed.
// Completed pages advance the index; Failed pages are recorded as gaps and
// skipped so one bad page cannot halt a multi-week run.
func (s *Scheduler) runSection(ctx context.Context, section harvest.Section, params harvest.RunParams) (harvest.RunSummary, error) {
	var summary harvest.RunSummary
	summary.StartedAt = s.clock.Now()
	defer func() { summary.FinishedAt = s.clock.Now() }()

	log := s.logger.With(zap.String("section", section.Tag))
	log.Info("section started",
		zap.Int("start_page", params.StartPage),
		zap.Int("end_page", params.EndPage),
		zap.Int("workers", s.cfg.MaxWorkers),
		zap.Bool("overwrite", params.Overwrite),
		zap.Bool("download_artifacts", params.DownloadArtifacts),
	)

	firstFetch := true
	consecutiveFailures := 0
	for index := params.StartPage; ; index++ {
		if ctx.Err() != nil {
			log.Info("stop requested, not starting new pages", zap.Int("next_page", index))
			break
		}
		if params.EndPage != harvest.EndPageUnbounded && index > params.EndPage {
			break
		}

		// Skip rule: a committed page costs one completeness check and no
		// network calls, which is what makes resumption cheap.
		if !params.Overwrite && s.store.IsPageComplete(ctx, section.Tag, index) {
			summary.PagesSkipped++
			metrics.IncPage(section.Tag, "skipped")
			log.Debug("page already complete", zap.Int("page", index))
			continue
		}

		page, err := s.lister.FetchPage(ctx, section, index)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			var pfe *harvest.PageFetchError
			if !errors.As(err, &pfe) {
				return summary, fmt.Errorf("section %s: %w", section.Tag, err)
			}
			summary.PagesAttempted++
			summary.FailedPages = append(summary.FailedPages, harvest.PageRef{Section: section.Tag, Index: index})
			metrics.IncPage(section.Tag, "failed")
			log.Warn("page failed, recorded as gap", zap.Int("page", index), zap.Error(err))
			if s.cfg.AbortOnPageFailure {
				return summary, err
			}
			consecutiveFailures++
			if consecutiveFailures >= s.cfg.MaxConsecutivePageFailures {
				log.Error("too many consecutive page failures, ending section",
					zap.Int("failures", consecutiveFailures))
				break
			}
			continue
		}
		summary.PagesAttempted++
		consecutiveFailures = 0

		if firstFetch {
			firstFetch = false
			s.logSectionVolume(log, page)
		}

		if page.Empty() {
			log.Info("empty page, end of section", zap.Int("page", index))
			break
		}

		outcomes, complete, err := s.dispatchPage(ctx, section, page, params)
		if err != nil {
			return summary, err
		}
		if !complete {
			// Stop arrived mid-page: some records never ran, so the page
			// must not be committed. The next run reprocesses it fully.
			log.Info("page abandoned before completion", zap.Int("page", index))
			break
		}

		if err := s.store.WritePage(ctx, page, outcomes); err != nil {
			return summary, fmt.Errorf("commit page %s/%d: %w", section.Tag, index, err)
		}
		summary.PagesCompleted++
		metrics.IncPage(section.Tag, "completed")
		tally(&summary, outcomes, params.DownloadArtifacts)
	}

	log.Info("section finished",
		zap.Int("pages_completed", summary.PagesCompleted),
		zap.Int("pages_skipped", summary.PagesSkipped),
		zap.Int("failed_pages", len(summary.FailedPages)),
		zap.Int("records_succeeded", summary.RecordsSucceeded),
	)
	return summary, nil
}

// dispatchPage fans the page's records out across the worker pool and waits
// for every launched record to reach a terminal outcome. complete is false
// when cancellation interfered with the page: either some records were never
// launched, or the stop arrived while records were in flight, in which case
// their failures are cancel artifacts rather than real outcomes and the page
// must not be committed.
func (s *Scheduler) dispatchPage(
	ctx context.Context,
	section harvest.Section,
	page harvest.Page,
	params harvest.RunParams,
) ([]harvest.Outcome, bool, error) {
	opts := ProcessOptions{
		Section:      section.Tag,
		SkipArtifact: !params.DownloadArtifacts,
	}

	outcomes := make([]harvest.Outcome, len(page.Decisions))
	launched := 0

	var g errgroup.Group
	g.SetLimit(s.cfg.MaxWorkers)
	for i, d := range page.Decisions {
		if ctx.Err() != nil {
			break
		}
		launched++
		i, d := i, d
		g.Go(func() error {
			metrics.WorkerStarted()
			defer metrics.WorkerStopped()
			out, err := s.processor.Process(ctx, d, opts)
			if err != nil {
				return err
			}
			outcomes[i] = out
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, false, fmt.Errorf("page %s/%d: %w", section.Tag, page.Index, err)
	}
	if ctx.Err() != nil {
		return outcomes[:launched], false, nil
	}
	return outcomes[:launched], launched == len(page.Decisions), nil
}

func (s *Scheduler) logSectionVolume(log *zap.Logger, page harvest.Page) {
	log.Info("section volume",
		zap.Int("total_pages", page.TotalPages),
		zap.Int64("total_elements", page.TotalElements),
	)
	if page.TotalElements > s.cfg.LargeSectionWarning {
		// Rough estimate at ~100KB per decision PDF.
		estimatedGB := float64(page.TotalElements) * 100 * 1024 / (1 << 30)
		log.Warn("large section, consider an explicit page range",
			zap.Int64("total_elements", page.TotalElements),
			zap.Float64("estimated_size_gb", estimatedGB),
		)
	}
}

func tally(summary *harvest.RunSummary, outcomes []harvest.Outcome, downloadArtifacts bool) {
	for _, o := range outcomes {
		if o.Success {
			summary.RecordsSucceeded++
		} else {
			summary.RecordsFailed++
		}
		if o.ExtractionSuccess {
			summary.TextsExtracted++
		} else if downloadArtifacts && o.Success && o.FailureReason == "" {
			// Valid record whose document yielded no usable text.
			summary.ExtractionFailures++
		}
	}
}
