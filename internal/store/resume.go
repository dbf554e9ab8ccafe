// Package store persists harvested pages and extracted text. The filesystem
// is the source of truth for resume state: a page is complete exactly when
// its committed metadata file exists and parses.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/uzadolat/courtharvest/internal/harvest"
)

// Subdirectories of the download dir.
const (
	MetadataDirName = "metadata"
	TextDirName     = "extracted_text"
	// ManifestFileName is the aggregated corpus index at the download root.
	ManifestFileName = "all_decisions.json"
)

const textSeparator = "================================================================================"

// CompletionCache is an optional fast path over the metadata directory.
// The filesystem stays authoritative; the cache only saves re-validating
// files already known good.
type CompletionCache interface {
	IsComplete(ctx context.Context, section string, index int) (bool, error)
	MarkComplete(ctx context.Context, section string, index int) error
	Invalidate(ctx context.Context, section string, index int) error
}

// Config locates the store on disk.
type Config struct {
	// DownloadDir is the root of the harvested corpus.
	DownloadDir string `mapstructure:"download_dir"`
}

// FileStore implements harvest.ResumeStore on a local directory tree.
type FileStore struct {
	downloadDir string
	metadataDir string
	textDir     string
	cache       CompletionCache
	logger      *zap.Logger
}

// New creates the directory layout and returns a FileStore. cache may be nil.
func New(cfg Config, cache CompletionCache, logger *zap.Logger) (*FileStore, error) {
	if strings.TrimSpace(cfg.DownloadDir) == "" {
		return nil, fmt.Errorf("download directory is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &FileStore{
		downloadDir: cfg.DownloadDir,
		metadataDir: filepath.Join(cfg.DownloadDir, MetadataDirName),
		textDir:     filepath.Join(cfg.DownloadDir, TextDirName),
		cache:       cache,
		logger:      logger,
	}
	for _, dir := range []string{s.downloadDir, s.metadataDir, s.textDir} {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("create store dir %s: %w", dir, err)
		}
	}
	return s, nil
}

// PageFileName returns the committed metadata file name for a page.
func PageFileName(section string, index int) string {
	return fmt.Sprintf("page_%s_%04d.json", section, index)
}

// ParsePageFileName inverts PageFileName. ok is false for names that are not
// committed page files (temp files included).
func ParsePageFileName(name string) (section string, index int, ok bool) {
	if !strings.HasPrefix(name, "page_") || !strings.HasSuffix(name, ".json") {
		return "", 0, false
	}
	stem := strings.TrimSuffix(strings.TrimPrefix(name, "page_"), ".json")
	cut := strings.LastIndex(stem, "_")
	if cut <= 0 {
		return "", 0, false
	}
	idx, err := strconv.Atoi(stem[cut+1:])
	if err != nil || idx < 0 {
		return "", 0, false
	}
	return stem[:cut], idx, true
}

// MetadataDir returns the directory holding committed page files.
func (s *FileStore) MetadataDir() string { return s.metadataDir }

// DownloadDir returns the corpus root.
func (s *FileStore) DownloadDir() string { return s.downloadDir }

// IsPageComplete reports whether the page's metadata file is committed. The
// cache, when present, short-circuits re-validation of files already seen;
// a missing file always wins over a stale cache entry.
func (s *FileStore) IsPageComplete(ctx context.Context, section string, index int) bool {
	path := filepath.Join(s.metadataDir, PageFileName(section, index))
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		s.invalidateCache(ctx, section, index)
		return false
	}

	if s.cache != nil {
		if hit, err := s.cache.IsComplete(ctx, section, index); err == nil && hit {
			return true
		}
	}

	if !s.validPageFile(path) {
		return false
	}
	s.markCache(ctx, section, index)
	return true
}

// WritePage atomically commits metadata for a fully processed page. Every
// record must have reached a terminal outcome; the write goes to a temp file
// in the same directory and is renamed into place, so a crash mid-write
// never leaves a page observable as complete.
func (s *FileStore) WritePage(ctx context.Context, page harvest.Page, outcomes []harvest.Outcome) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("write page: %w", err)
	}
	if len(outcomes) != len(page.Decisions) {
		return fmt.Errorf("write page %s/%d: %d outcomes for %d records",
			page.Section, page.Index, len(outcomes), len(page.Decisions))
	}

	entries := mergeOutcomes(page, outcomes)
	payload, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal page %s/%d: %w", page.Section, page.Index, err)
	}

	target := filepath.Join(s.metadataDir, PageFileName(page.Section, page.Index))
	if err := s.atomicWrite(target, payload); err != nil {
		return err
	}
	s.markCache(ctx, page.Section, page.Index)
	s.logger.Info("page committed",
		zap.String("section", page.Section),
		zap.Int("page", page.Index),
		zap.Int("records", len(entries)),
	)
	return nil
}

// WriteText persists one record's extracted text under a deterministic name
// derived from the case number and id, prefixed with a short metadata header.
func (s *FileStore) WriteText(decision harvest.Decision, text string) (string, string, error) {
	name := harvest.SafeFilename(decision) + ".txt"
	target := filepath.Join(s.textDir, name)

	var b strings.Builder
	judge := decision.ResponsibleJudge
	if judge == "" {
		judge = "Not specified"
	}
	fmt.Fprintf(&b, "CASE: %s\n", decision.CaseNumber)
	fmt.Fprintf(&b, "COURT: %s\n", decision.CourtNameUz)
	fmt.Fprintf(&b, "JUDGE: %s\n", judge)
	fmt.Fprintf(&b, "DATE: %s\n", decision.HearingDate)
	fmt.Fprintf(&b, "RESULT: %s\n", decision.Result)
	b.WriteString(textSeparator + "\n\n")
	b.WriteString(text)

	if err := os.WriteFile(target, []byte(b.String()), 0o600); err != nil {
		return "", "", &harvest.StorageError{Path: target, Err: err}
	}
	return filepath.ToSlash(filepath.Join(TextDirName, name)),
		filepath.ToSlash(filepath.Join("..", TextDirName, name)),
		nil
}

func (s *FileStore) atomicWrite(target string, payload []byte) error {
	tmp, err := os.CreateTemp(s.metadataDir, filepath.Base(target)+".tmp-*")
	if err != nil {
		return &harvest.StorageError{Path: target, Err: err}
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) //nolint:errcheck

	if _, err := tmp.Write(payload); err != nil {
		tmp.Close() //nolint:errcheck,gosec
		return &harvest.StorageError{Path: tmpName, Err: err}
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close() //nolint:errcheck,gosec
		return &harvest.StorageError{Path: tmpName, Err: err}
	}
	if err := tmp.Close(); err != nil {
		return &harvest.StorageError{Path: tmpName, Err: err}
	}
	if err := os.Rename(tmpName, target); err != nil {
		return &harvest.StorageError{Path: target, Err: err}
	}
	return nil
}

func (s *FileStore) validPageFile(path string) bool {
	data, err := os.ReadFile(path) // #nosec G304 -- path is derived from the store's own layout.
	if err != nil {
		return false
	}
	var entries []harvest.Decision
	if err := json.Unmarshal(data, &entries); err != nil {
		s.logger.Warn("unreadable page metadata, treating as incomplete",
			zap.String("path", path), zap.Error(err))
		return false
	}
	return true
}

func (s *FileStore) markCache(ctx context.Context, section string, index int) {
	if s.cache == nil {
		return
	}
	if err := s.cache.MarkComplete(ctx, section, index); err != nil {
		s.logger.Debug("completion cache write failed", zap.Error(err))
	}
}

func (s *FileStore) invalidateCache(ctx context.Context, section string, index int) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx, section, index); err != nil {
		s.logger.Debug("completion cache invalidate failed", zap.Error(err))
	}
}

// mergeOutcomes folds terminal outcomes back into the page's descriptors,
// producing the entries persisted in the page metadata file. Extracted text
// itself never lands in metadata; only the text file paths do.
func mergeOutcomes(page harvest.Page, outcomes []harvest.Outcome) []harvest.Decision {
	byID := make(map[string]harvest.Outcome, len(outcomes))
	for _, o := range outcomes {
		byID[o.DecisionID] = o
	}
	entries := make([]harvest.Decision, 0, len(page.Decisions))
	for _, d := range page.Decisions {
		if o, found := byID[d.ID]; found {
			d.TextFilePath = o.TextPath
			d.TextFileRelativePath = o.TextRelPath
			d.TextExtractionSuccess = o.ExtractionSuccess
			d.FailureReason = o.FailureReason
		}
		entries = append(entries, d)
	}
	return entries
}
