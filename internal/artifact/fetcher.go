// Package artifact downloads decision documents, sharing the pipeline's
// rate budget and retry discipline.
package artifact

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/uzadolat/courtharvest/internal/harvest"
	"github.com/uzadolat/courtharvest/internal/metrics"
)

// Config controls the artifact fetcher.
type Config struct {
	// Timeout bounds each attempt. Exceeding it is treated as a throttling
	// signal for backoff purposes.
	Timeout time.Duration
	// MaxAttempts bounds retries per artifact, initial attempt included.
	MaxAttempts int
	// MaxBytes caps a single artifact body.
	MaxBytes int64
	// UserAgent is sent on every request.
	UserAgent string
}

func (c *Config) applyDefaults() {
	if c.Timeout <= 0 {
		c.Timeout = 60 * time.Second
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.MaxBytes <= 0 {
		c.MaxBytes = 50 << 20
	}
	if c.UserAgent == "" {
		c.UserAgent = "courtharvest/1.0"
	}
}

// Fetcher downloads one artifact per call.
type Fetcher struct {
	httpClient *http.Client
	rc         harvest.RateController
	cfg        Config
	logger     *zap.Logger
}

// New builds a Fetcher on the shared rate controller.
func New(rc harvest.RateController, cfg Config, logger *zap.Logger) *Fetcher {
	cfg.applyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fetcher{
		httpClient: &http.Client{},
		rc:         rc,
		cfg:        cfg,
		logger:     logger,
	}
}

// Fetch downloads the artifact at url. Not-found is terminal and returned
// immediately wrapping harvest.ErrNotFound; transient and throttled failures
// retry up to MaxAttempts with the rate controller between attempts.
func (f *Fetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	var lastErr error
	for attempt := 1; attempt <= f.cfg.MaxAttempts; attempt++ {
		if err := f.rc.Wait(ctx); err != nil {
			return nil, err
		}

		data, err := f.doAttempt(ctx, url)
		if err == nil {
			f.rc.Report(harvest.ErrorClassNone, true)
			return data, nil
		}

		class := harvest.ClassOf(err)
		f.rc.Report(class, false)
		if class == harvest.ErrorClassNotFound {
			return nil, fmt.Errorf("artifact %s: %w", url, harvest.ErrNotFound)
		}
		lastErr = err
		if !class.Retryable() {
			break
		}
		metrics.IncRetry("artifact", string(class))
		f.logger.Warn("artifact fetch retry",
			zap.String("url", url),
			zap.Int("attempt", attempt),
			zap.String("class", string(class)),
			zap.Duration("delay", f.rc.Delay()),
			zap.Error(err),
		)
	}
	return nil, fmt.Errorf("artifact %s: %w: %w", url, harvest.ErrRetryExhausted, lastErr)
}

func (f *Fetcher) doAttempt(ctx context.Context, url string) ([]byte, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, f.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &harvest.FetchError{URL: url, Class: harvest.ErrorClassFatal, Err: err}
	}
	req.Header.Set("User-Agent", f.cfg.UserAgent)

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, &harvest.FetchError{URL: url, Class: harvest.ClassifyTransport(err), Err: err}
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		return nil, &harvest.FetchError{
			URL:        url,
			StatusCode: resp.StatusCode,
			Class:      harvest.ClassifyStatus(resp.StatusCode),
		}
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, f.cfg.MaxBytes+1))
	if err != nil {
		return nil, &harvest.FetchError{URL: url, Class: harvest.ClassifyTransport(err), Err: err}
	}
	if int64(len(data)) > f.cfg.MaxBytes {
		return nil, &harvest.FetchError{
			URL:   url,
			Class: harvest.ErrorClassFatal,
			Err:   fmt.Errorf("artifact exceeds %d bytes", f.cfg.MaxBytes),
		}
	}
	return data, nil
}
