package listing_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uzadolat/courtharvest/internal/harvest"
	"github.com/uzadolat/courtharvest/internal/listing"
)

// nopRate satisfies harvest.RateController without delaying tests.
type nopRate struct {
	reports atomic.Int32
}

func (n *nopRate) Wait(context.Context) error { return nil }
func (n *nopRate) Report(harvest.ErrorClass, bool) {
	n.reports.Add(1)
}
func (n *nopRate) Delay() time.Duration { return 0 }

func newSection(tag string, kind harvest.SectionKind, baseURL string) harvest.Section {
	return harvest.Section{
		Tag:       tag,
		Kind:      kind,
		BaseURL:   baseURL,
		ListPath:  "/publications/list",
		CourtType: "ECONOMIC",
	}
}

func newPageBody(t *testing.T, n int) []byte {
	t.Helper()
	content := make([]map[string]any, 0, n)
	for i := 0; i < n; i++ {
		content = append(content, map[string]any{
			"id":          fmt.Sprintf("dec-%04d", i),
			"case_number": fmt.Sprintf("4-10-2024/%d", i),
			"court_names": map[string]string{"uz": "Iqtisodiy sud", "ru": "Экономический суд"},
			"hearing_date": "2024-05-11",
			"result":      "Qanoatlantirilgan",
			"instance":    "FIRST",
			"pdf": map[string]any{
				"id":   fmt.Sprintf("pdf-%04d", i),
				"name": "decision.pdf",
				"size": 4096,
			},
		})
	}
	body, err := json.Marshal(map[string]any{
		"content":       content,
		"totalPages":    27000,
		"totalElements": 810000,
	})
	require.NoError(t, err)
	return body
}

func TestFetchPageNewDialect(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/publications/list", r.URL.Path)
		assert.Equal(t, "30", r.URL.Query().Get("size"))
		assert.Equal(t, "5", r.URL.Query().Get("page"))
		assert.Equal(t, "ECONOMIC", r.URL.Query().Get("court_type"))
		_, _ = w.Write(newPageBody(t, 3))
	}))
	defer srv.Close()

	client := listing.New(&nopRate{}, listing.Config{}, nil)
	page, err := client.FetchPage(context.Background(), newSection("new", harvest.SectionKindNew, srv.URL), 5)
	require.NoError(t, err)

	assert.Equal(t, "new", page.Section)
	assert.Equal(t, 5, page.Index)
	assert.Equal(t, 27000, page.TotalPages)
	assert.Equal(t, int64(810000), page.TotalElements)
	assert.False(t, page.FetchedAt.IsZero())
	require.Len(t, page.Decisions, 3)

	d := page.Decisions[0]
	assert.Equal(t, "dec-0000", d.ID)
	assert.Equal(t, "Iqtisodiy sud", d.CourtNameUz)
	assert.Equal(t, "Экономический суд", d.CourtNameRu)
	assert.Equal(t, srv.URL+"/public/onStream/pdf-0000", d.PDFURL)
}

func TestFetchPageOldDialectStringWrapped(t *testing.T) {
	t.Parallel()

	inner := map[string]any{
		"content": []map[string]any{
			{
				"id":          917355,
				"caseNumber":  "4-10-2005/118",
				"dbName":      "Toshkent shahar sudi",
				"judge":       "A. Karimov",
				"hearingDate": int64(1609459200000), // 2021-01-01T00:00:00Z
				"result":      "Rad etilgan",
				"category":    "iqtisodiy",
				"attachmentsList": []map[string]any{
					{"fileData": map[string]any{"id": 5521, "name": "decision.pdf", "size": 2048}},
				},
			},
			{
				// No attachment: skipped, not an error.
				"id":              917356,
				"caseNumber":      "4-10-2005/119",
				"attachmentsList": []map[string]any{},
			},
		},
		"totalPages":    1518,
		"totalElements": 45523,
	}
	innerJSON, err := json.Marshal(inner)
	require.NoError(t, err)
	// The old API double-encodes: data is a JSON string of the envelope.
	body, err := json.Marshal(map[string]any{"data": string(innerJSON)})
	require.NoError(t, err)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(body)
	}))
	defer srv.Close()

	client := listing.New(&nopRate{}, listing.Config{}, nil)
	page, err := client.FetchPage(context.Background(), newSection("old", harvest.SectionKindOld, srv.URL), 0)
	require.NoError(t, err)

	require.Len(t, page.Decisions, 1)
	d := page.Decisions[0]
	assert.Equal(t, "917355", d.ID)
	assert.Equal(t, "5521", d.PDFID)
	assert.Equal(t, "2021-01-01T00:00:00Z", d.HearingDate)
	assert.Equal(t, "FIRST", d.Instance)
	assert.Equal(t, srv.URL+"/api/file/download/5521/", d.PDFURL)
	require.Len(t, d.Categories, 1)
	assert.Equal(t, "iqtisodiy", d.Categories[0]["uz"])
}

func TestFetchPageEmptyIsValid(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"content":[],"totalPages":2,"totalElements":60}`))
	}))
	defer srv.Close()

	client := listing.New(&nopRate{}, listing.Config{}, nil)
	page, err := client.FetchPage(context.Background(), newSection("new", harvest.SectionKindNew, srv.URL), 2)
	require.NoError(t, err)
	assert.True(t, page.Empty())
}

func TestFetchPageRetriesTransient(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write(newPageBody(t, 1))
	}))
	defer srv.Close()

	client := listing.New(&nopRate{}, listing.Config{MaxAttempts: 3}, nil)
	page, err := client.FetchPage(context.Background(), newSection("new", harvest.SectionKindNew, srv.URL), 0)
	require.NoError(t, err)
	assert.Len(t, page.Decisions, 1)
	assert.Equal(t, int32(3), calls.Load())
}

func TestFetchPageExhaustsRetries(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	client := listing.New(&nopRate{}, listing.Config{MaxAttempts: 3}, nil)
	_, err := client.FetchPage(context.Background(), newSection("new", harvest.SectionKindNew, srv.URL), 7)

	var pfe *harvest.PageFetchError
	require.ErrorAs(t, err, &pfe)
	assert.Equal(t, "new", pfe.Section)
	assert.Equal(t, 7, pfe.Index)
	assert.True(t, errors.Is(err, harvest.ErrRetryExhausted))
	assert.Equal(t, int32(3), calls.Load())
}

func TestFetchPageFatalNotRetried(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	client := listing.New(&nopRate{}, listing.Config{MaxAttempts: 3}, nil)
	_, err := client.FetchPage(context.Background(), newSection("new", harvest.SectionKindNew, srv.URL), 0)
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestFetchPageNegativeIndex(t *testing.T) {
	t.Parallel()

	client := listing.New(&nopRate{}, listing.Config{}, nil)
	_, err := client.FetchPage(context.Background(), newSection("new", harvest.SectionKindNew, "http://unused"), -1)
	assert.Error(t, err)
}
