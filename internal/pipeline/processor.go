// Package pipeline orchestrates the harvest: per-record processing and
// page-level scheduling over a bounded worker pool.
package pipeline

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/uzadolat/courtharvest/internal/harvest"
	"github.com/uzadolat/courtharvest/internal/metrics"
)

// ProcessOptions tune one record's workflow.
type ProcessOptions struct {
	// Section tags metrics and logs.
	Section string
	// SkipArtifact skips the fetch/extract steps (metadata-only mode).
	SkipArtifact bool
}

// Processor executes the full per-record workflow: fetch, extract, persist.
type Processor struct {
	fetcher   harvest.ArtifactFetcher
	extractor harvest.Extractor
	store     harvest.ResumeStore
	clock     harvest.Clock
	logger    *zap.Logger
}

// NewProcessor builds a Processor.
func NewProcessor(
	fetcher harvest.ArtifactFetcher,
	extractor harvest.Extractor,
	store harvest.ResumeStore,
	clock harvest.Clock,
	logger *zap.Logger,
) *Processor {
	if clock == nil {
		clock = harvest.SystemClock{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Processor{
		fetcher:   fetcher,
		extractor: extractor,
		store:     store,
		clock:     clock,
		logger:    logger,
	}
}

// Process resolves one record to a terminal Outcome. Fetch and extraction
// failures are absorbed into the Outcome; the returned error is non-nil only
// for storage failures, which must halt the run rather than corrupt it.
func (p *Processor) Process(ctx context.Context, d harvest.Decision, opts ProcessOptions) (harvest.Outcome, error) {
	out := harvest.Outcome{
		DecisionID: d.ID,
		CaseNumber: d.CaseNumber,
		StartedAt:  p.clock.Now(),
	}

	if opts.SkipArtifact {
		out.Success = true
		out.FinishedAt = p.clock.Now()
		metrics.IncRecord(opts.Section, "metadata_only")
		return out, nil
	}

	data, err := p.fetcher.Fetch(ctx, d.PDFURL)
	if err != nil {
		out.Success = false
		out.FailureReason = harvest.ReasonFetchFailed
		out.FinishedAt = p.clock.Now()
		metrics.IncRecord(opts.Section, harvest.ReasonFetchFailed)
		p.logger.Warn("artifact fetch failed",
			zap.String("section", opts.Section),
			zap.String("case", d.CaseNumber),
			zap.String("id", d.ID),
			zap.Error(err),
		)
		return out, nil
	}
	metrics.AddArtifactBytes(opts.Section, len(data))

	text, err := p.extractor.Extract(data)
	if err != nil {
		// An unreadable document is still a valid, recorded record.
		out.Success = true
		out.ExtractionSuccess = false
		out.FinishedAt = p.clock.Now()
		metrics.IncRecord(opts.Section, "extraction_failed")
		p.logger.Warn("text extraction failed",
			zap.String("section", opts.Section),
			zap.String("case", d.CaseNumber),
			zap.String("id", d.ID),
			zap.Error(err),
		)
		return out, nil
	}

	path, relPath, err := p.store.WriteText(d, text)
	if err != nil {
		var se *harvest.StorageError
		if errors.As(err, &se) {
			return out, err
		}
		out.Success = false
		out.FailureReason = harvest.ReasonPersistFailed
		out.FinishedAt = p.clock.Now()
		metrics.IncRecord(opts.Section, harvest.ReasonPersistFailed)
		return out, nil
	}

	out.Success = true
	out.ExtractionSuccess = true
	out.TextPath = path
	out.TextRelPath = relPath
	out.FinishedAt = p.clock.Now()
	metrics.IncRecord(opts.Section, "success")
	p.logger.Debug("record processed",
		zap.String("section", opts.Section),
		zap.String("case", d.CaseNumber),
		zap.Int("text_chars", len(text)),
	)
	return out, nil
}
