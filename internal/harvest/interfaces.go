package harvest

import (
	"context"
	"time"
)

// Lister fetches one page of record descriptors from the listing API.
type Lister interface {
	FetchPage(ctx context.Context, section Section, index int) (Page, error)
}

// ArtifactFetcher downloads the binary artifact for one record.
type ArtifactFetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// Extractor converts artifact bytes to text. Treated as pure; failures come
// back as *ExtractionError.
type Extractor interface {
	Extract(data []byte) (string, error)
}

// RateController is the single rate budget shared by every worker in the
// pool. Wait blocks the caller for the current delay before a network call;
// Report adjusts the delay from the call's outcome.
type RateController interface {
	Wait(ctx context.Context) error
	Report(class ErrorClass, ok bool)
	Delay() time.Duration
}

// ResumeStore tracks which pages are durably processed. Committing a page is
// the only operation that makes IsPageComplete return true for its index.
type ResumeStore interface {
	IsPageComplete(ctx context.Context, section string, index int) bool
	WritePage(ctx context.Context, page Page, outcomes []Outcome) error
	WriteText(decision Decision, text string) (path string, relPath string, err error)
}

// Clock returns the current time (swapped out in tests).
type Clock interface {
	Now() time.Time
}

// SystemClock is the real Clock.
type SystemClock struct{}

// Now returns the current wall-clock time.
func (SystemClock) Now() time.Time { return time.Now() }
