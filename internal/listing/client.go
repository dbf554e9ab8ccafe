// Package listing implements the paginated listing API client for both
// publication API generations.
package listing

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/uzadolat/courtharvest/internal/harvest"
	"github.com/uzadolat/courtharvest/internal/metrics"
)

// Config controls the listing client.
type Config struct {
	// PageSize is the number of records requested per page.
	PageSize int
	// Timeout bounds each attempt, not the whole retry loop.
	Timeout time.Duration
	// MaxAttempts bounds retries per page, initial attempt included.
	MaxAttempts int
	// UserAgent is sent on every request.
	UserAgent string
}

func (c *Config) applyDefaults() {
	if c.PageSize <= 0 {
		c.PageSize = 30
	}
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.UserAgent == "" {
		c.UserAgent = "courtharvest/1.0"
	}
}

// Client fetches listing pages, honoring the shared rate budget between
// attempts.
type Client struct {
	httpClient *http.Client
	rc         harvest.RateController
	cfg        Config
	clock      harvest.Clock
	logger     *zap.Logger
}

// New builds a Client. The rate controller is required; every request waits
// on it first.
func New(rc harvest.RateController, cfg Config, logger *zap.Logger) *Client {
	cfg.applyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		httpClient: &http.Client{},
		rc:         rc,
		cfg:        cfg,
		clock:      harvest.SystemClock{},
		logger:     logger,
	}
}

// FetchPage retrieves one page of record descriptors. Transient failures are
// retried up to MaxAttempts with the rate controller between attempts;
// exhausting them yields a *harvest.PageFetchError naming the page. A page
// with zero records is valid and marks the end of the section.
func (c *Client) FetchPage(ctx context.Context, section harvest.Section, index int) (harvest.Page, error) {
	if index < 0 {
		return harvest.Page{}, fmt.Errorf("page index %d: must be >= 0", index)
	}
	pageURL, err := c.buildURL(section, index)
	if err != nil {
		return harvest.Page{}, err
	}

	var lastErr error
	for attempt := 1; attempt <= c.cfg.MaxAttempts; attempt++ {
		if err := c.rc.Wait(ctx); err != nil {
			return harvest.Page{}, err
		}

		body, err := c.doAttempt(ctx, pageURL)
		if err == nil {
			c.rc.Report(harvest.ErrorClassNone, true)
			page, perr := parsePage(section, index, body)
			if perr != nil {
				return harvest.Page{}, fmt.Errorf("page %s/%d: %w", section.Tag, index, perr)
			}
			page.FetchedAt = c.clock.Now()
			return page, nil
		}

		class := harvest.ClassOf(err)
		c.rc.Report(class, false)
		lastErr = err
		if !class.Retryable() {
			break
		}
		metrics.IncRetry("listing", string(class))
		c.logger.Warn("listing fetch retry",
			zap.String("section", section.Tag),
			zap.Int("page", index),
			zap.Int("attempt", attempt),
			zap.String("class", string(class)),
			zap.Duration("delay", c.rc.Delay()),
			zap.Error(err),
		)
	}

	return harvest.Page{}, &harvest.PageFetchError{
		Section: section.Tag,
		Index:   index,
		Err:     fmt.Errorf("%w: %w", harvest.ErrRetryExhausted, lastErr),
	}
}

func (c *Client) buildURL(section harvest.Section, index int) (string, error) {
	base, err := url.Parse(section.BaseURL)
	if err != nil {
		return "", fmt.Errorf("section %s: parse base url: %w", section.Tag, err)
	}
	u := base.JoinPath(section.ListPath)
	q := u.Query()
	q.Set("size", strconv.Itoa(c.cfg.PageSize))
	q.Set("page", strconv.Itoa(index))
	if section.CourtType != "" {
		q.Set("court_type", section.CourtType)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (c *Client) doAttempt(ctx context.Context, pageURL string) ([]byte, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, &harvest.FetchError{URL: pageURL, Class: harvest.ErrorClassFatal, Err: err}
	}
	req.Header.Set("User-Agent", c.cfg.UserAgent)
	req.Header.Set("Accept", "application/json, text/plain, */*")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &harvest.FetchError{URL: pageURL, Class: harvest.ClassifyTransport(err), Err: err}
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		return nil, &harvest.FetchError{
			URL:        pageURL,
			StatusCode: resp.StatusCode,
			Class:      harvest.ClassifyStatus(resp.StatusCode),
		}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &harvest.FetchError{URL: pageURL, Class: harvest.ClassifyTransport(err), Err: err}
	}
	return body, nil
}
