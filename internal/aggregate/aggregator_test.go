package aggregate_test

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uzadolat/courtharvest/internal/aggregate"
	"github.com/uzadolat/courtharvest/internal/harvest"
	"github.com/uzadolat/courtharvest/internal/store"
)

func writePage(t *testing.T, dir, section string, index int, ids ...string) {
	t.Helper()
	var decisions []harvest.Decision
	for _, id := range ids {
		decisions = append(decisions, harvest.Decision{ID: id, CaseNumber: "4-10/" + id})
	}
	data, err := json.Marshal(decisions)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(
		filepath.Join(dir, store.MetadataDirName, store.PageFileName(section, index)),
		data, 0o600))
}

func newCorpusDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, store.MetadataDirName), 0o750))
	return dir
}

func TestBuildConcatenatesPagesInOrder(t *testing.T) {
	t.Parallel()

	dir := newCorpusDir(t)
	writePage(t, dir, "new", 1, "c", "d")
	writePage(t, dir, "new", 0, "a", "b")
	writePage(t, dir, "old", 0, "e")

	agg := aggregate.New(dir, nil, nil)
	manifest, err := agg.Build(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3, manifest.Pages)
	assert.Equal(t, []string{"new", "old"}, manifest.Sections)
	var ids []string
	for _, d := range manifest.Decisions {
		ids = append(ids, d.ID)
	}
	assert.Equal(t, []string{"a", "b", "c", "d", "e"}, ids)

	// The manifest lands on disk too.
	data, err := os.ReadFile(filepath.Join(dir, store.ManifestFileName))
	require.NoError(t, err)
	var onDisk harvest.Manifest
	require.NoError(t, json.Unmarshal(data, &onDisk))
	assert.Len(t, onDisk.Decisions, 5)
}

func TestBuildIgnoresTempAndForeignFiles(t *testing.T) {
	t.Parallel()

	dir := newCorpusDir(t)
	writePage(t, dir, "new", 0, "a")
	metaDir := filepath.Join(dir, store.MetadataDirName)
	require.NoError(t, os.WriteFile(filepath.Join(metaDir, "page_new_0001.json.tmp-42"), []byte("[{"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(metaDir, "notes.txt"), []byte("x"), 0o600))

	manifest, err := aggregate.New(dir, nil, nil).Build(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, manifest.Pages)
	assert.Len(t, manifest.Decisions, 1)
}

func TestBuildSkipsUnreadablePage(t *testing.T) {
	t.Parallel()

	dir := newCorpusDir(t)
	writePage(t, dir, "new", 0, "a")
	require.NoError(t, os.WriteFile(
		filepath.Join(dir, store.MetadataDirName, store.PageFileName("new", 1)),
		[]byte(`{"not":"an array"}`), 0o600))

	manifest, err := aggregate.New(dir, nil, nil).Build(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, manifest.Pages)
}

func TestBuildEmptyCorpus(t *testing.T) {
	t.Parallel()

	manifest, err := aggregate.New(t.TempDir(), nil, nil).Build(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, manifest.Pages)
	assert.Empty(t, manifest.Decisions)
}

func TestBuildIsIdempotent(t *testing.T) {
	t.Parallel()

	dir := newCorpusDir(t)
	writePage(t, dir, "new", 0, "a")

	agg := aggregate.New(dir, nil, nil)
	_, err := agg.Build(context.Background())
	require.NoError(t, err)

	writePage(t, dir, "new", 1, "b")
	manifest, err := agg.Build(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, manifest.Pages, "rebuild picks up newly committed pages")
}
