package artifact_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uzadolat/courtharvest/internal/artifact"
	"github.com/uzadolat/courtharvest/internal/harvest"
)

type nopRate struct {
	throttles atomic.Int32
}

func (n *nopRate) Wait(context.Context) error { return nil }
func (n *nopRate) Report(class harvest.ErrorClass, ok bool) {
	if !ok && class.Throttling() {
		n.throttles.Add(1)
	}
}
func (n *nopRate) Delay() time.Duration { return 0 }

func TestFetchSuccess(t *testing.T) {
	t.Parallel()

	payload := []byte("%PDF-1.4 fake body")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write(payload)
	}))
	defer srv.Close()

	f := artifact.New(&nopRate{}, artifact.Config{}, nil)
	data, err := f.Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, payload, data)
}

func TestFetchNotFoundIsTerminal(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	f := artifact.New(&nopRate{}, artifact.Config{MaxAttempts: 3}, nil)
	_, err := f.Fetch(context.Background(), srv.URL)
	require.ErrorIs(t, err, harvest.ErrNotFound)
	assert.Equal(t, int32(1), calls.Load(), "not-found must not be retried")
}

func TestFetchRetriesServerError(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	rc := &nopRate{}
	f := artifact.New(rc, artifact.Config{MaxAttempts: 3}, nil)
	data, err := f.Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, []byte("ok"), data)
	assert.Equal(t, int32(2), rc.throttles.Load(), "503s feed the backoff signal")
}

func TestFetchExhaustsRetries(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	f := artifact.New(&nopRate{}, artifact.Config{MaxAttempts: 2}, nil)
	_, err := f.Fetch(context.Background(), srv.URL)
	require.ErrorIs(t, err, harvest.ErrRetryExhausted)
	assert.Equal(t, int32(2), calls.Load())
}

func TestFetchTimeoutIsThrottlingSignal(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	rc := &nopRate{}
	f := artifact.New(rc, artifact.Config{Timeout: 30 * time.Millisecond, MaxAttempts: 2}, nil)
	_, err := f.Fetch(context.Background(), srv.URL)
	require.Error(t, err)
	assert.Positive(t, rc.throttles.Load(), "timeouts count as throttling-adjacent")
}

func TestFetchRejectsOversizedBody(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write(make([]byte, 2048))
	}))
	defer srv.Close()

	f := artifact.New(&nopRate{}, artifact.Config{MaxBytes: 1024}, nil)
	_, err := f.Fetch(context.Background(), srv.URL)
	assert.Error(t, err)
}
