// Package aggregate builds the corpus-wide manifest from committed page
// metadata files.
package aggregate

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"go.uber.org/zap"

	"github.com/uzadolat/courtharvest/internal/harvest"
	"github.com/uzadolat/courtharvest/internal/store"
)

// Aggregator concatenates page metadata into a single manifest. It only ever
// reads committed page files, so it can run while a harvest is in flight; the
// manifest simply reflects whatever was committed at scan time.
type Aggregator struct {
	downloadDir string
	metadataDir string
	clock       harvest.Clock
	logger      *zap.Logger
}

// New builds an Aggregator over a download directory.
func New(downloadDir string, clock harvest.Clock, logger *zap.Logger) *Aggregator {
	if clock == nil {
		clock = harvest.SystemClock{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Aggregator{
		downloadDir: downloadDir,
		metadataDir: filepath.Join(downloadDir, store.MetadataDirName),
		clock:       clock,
		logger:      logger,
	}
}

type pageFile struct {
	section string
	index   int
	name    string
}

// Build scans the metadata directory, orders pages by section then index, and
// writes the combined manifest to all_decisions.json at the download root.
// Rebuilding is idempotent: the manifest is always regenerated from scratch.
func (a *Aggregator) Build(ctx context.Context) (harvest.Manifest, error) {
	manifest := harvest.Manifest{GeneratedAt: a.clock.Now()}

	pages, err := a.scan()
	if err != nil {
		return manifest, err
	}

	seen := map[string]bool{}
	for _, p := range pages {
		if err := ctx.Err(); err != nil {
			return manifest, fmt.Errorf("aggregate: %w", err)
		}
		decisions, err := a.readPage(p.name)
		if err != nil {
			// A page that fails to parse here was not a committed page; the
			// harvester will redo it. Leave it out rather than fail the build.
			a.logger.Warn("skipping unreadable page file",
				zap.String("file", p.name), zap.Error(err))
			continue
		}
		if !seen[p.section] {
			seen[p.section] = true
			manifest.Sections = append(manifest.Sections, p.section)
		}
		manifest.Pages++
		manifest.Decisions = append(manifest.Decisions, decisions...)
	}

	if err := a.writeManifest(manifest); err != nil {
		return manifest, err
	}
	a.logger.Info("manifest written",
		zap.Int("pages", manifest.Pages),
		zap.Int("decisions", len(manifest.Decisions)),
		zap.Strings("sections", manifest.Sections),
	)
	return manifest, nil
}

// scan lists committed page files in deterministic order. Temp files and
// anything else that is not a committed page file is ignored.
func (a *Aggregator) scan() ([]pageFile, error) {
	entries, err := os.ReadDir(a.metadataDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read metadata dir: %w", err)
	}

	var pages []pageFile
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		section, index, ok := store.ParsePageFileName(e.Name())
		if !ok {
			continue
		}
		pages = append(pages, pageFile{section: section, index: index, name: e.Name()})
	}
	sort.Slice(pages, func(i, j int) bool {
		if pages[i].section != pages[j].section {
			return pages[i].section < pages[j].section
		}
		return pages[i].index < pages[j].index
	})
	return pages, nil
}

func (a *Aggregator) readPage(name string) ([]harvest.Decision, error) {
	data, err := os.ReadFile(filepath.Join(a.metadataDir, name)) // #nosec G304 -- name comes from our own directory scan.
	if err != nil {
		return nil, err
	}
	var decisions []harvest.Decision
	if err := json.Unmarshal(data, &decisions); err != nil {
		return nil, err
	}
	return decisions, nil
}

func (a *Aggregator) writeManifest(manifest harvest.Manifest) error {
	payload, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal manifest: %w", err)
	}
	target := filepath.Join(a.downloadDir, store.ManifestFileName)

	tmp, err := os.CreateTemp(a.downloadDir, store.ManifestFileName+".tmp-*")
	if err != nil {
		return &harvest.StorageError{Path: target, Err: err}
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) //nolint:errcheck

	if _, err := tmp.Write(payload); err != nil {
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
