package ingest

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smartdevs17/notfound-triage/internal/config"
	"github.com/smartdevs17/notfound-triage/internal/metrics"
	"github.com/smartdevs17/notfound-triage/internal/models"
)

type fakeHandler struct {
	mu    sync.Mutex
	hits  []models.Hit
	block chan struct{}
	err   error
}

func (f *fakeHandler) RecordHit(ctx context.Context, hit models.Hit) (*models.LogEntry, error) {
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hits = append(f.hits, hit)
	if f.err != nil {
		return nil, f.err
	}
	return &models.LogEntry{Path: hit.RequestPath, Hits: int64(len(f.hits)), Device: models.DeviceDesktop}, nil
}

func (f *fakeHandler) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.hits)
}

func TestStopDrainsQueue(t *testing.T) {
	h := &fakeHandler{}
	r := NewRecorder(h, &config.IngestConfig{Workers: 3, QueueSize: 500}, metrics.NewManager())
	require.NoError(t, r.Start())

	for i := 0; i < 200; i++ {
		require.True(t, r.Submit(models.Hit{RequestPath: "/missing"}))
	}
	require.NoError(t, r.Stop())

	assert.Equal(t, 200, h.count())
	stats := r.GetStats()
	assert.Equal(t, uint64(200), stats.Accepted)
	assert.Equal(t, uint64(200), stats.Recorded)
	assert.False(t, stats.Running)
}

func TestSubmitDropsWhenQueueIsFull(t *testing.T) {
	h := &fakeHandler{block: make(chan struct{})}
	r := NewRecorder(h, &config.IngestConfig{Workers: 1, QueueSize: 2}, nil)
	require.NoError(t, r.Start())

	done := make(chan int)
	go func() {
		ok := 0
		for i := 0; i < 20; i++ {
			if r.Submit(models.Hit{RequestPath: "/x"}) {
				ok++
			}
		}
		done <- ok
	}()

	var accepted int
	select {
	case accepted = <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Submit blocked on a full queue")
	}

	close(h.block)
	require.NoError(t, r.Stop())

	assert.LessOrEqual(t, accepted, 3)
	stats := r.GetStats()
	assert.Equal(t, uint64(20-accepted), stats.Dropped)
	assert.Equal(t, accepted, h.count())
}

func TestSubmitAfterStopIsDropped(t *testing.T) {
	r := NewRecorder(&fakeHandler{}, &config.IngestConfig{}, nil)
	assert.False(t, r.Submit(models.Hit{RequestPath: "/x"}))

	require.NoError(t, r.Start())
	assert.Error(t, r.Start())
	require.NoError(t, r.Stop())
	require.NoError(t, r.Stop())

	assert.False(t, r.Submit(models.Hit{RequestPath: "/x"}))
	assert.Equal(t, uint64(2), r.GetStats().Dropped)
}

func TestHandlerErrorsAreSwallowed(t *testing.T) {
	h := &fakeHandler{err: errors.New("disk on fire")}
	r := NewRecorder(h, &config.IngestConfig{Workers: 1, QueueSize: 10}, metrics.NewManager())
	require.NoError(t, r.Start())

	assert.True(t, r.Submit(models.Hit{RequestPath: "/a"}))
	require.NoError(t, r.Stop())

	stats := r.GetStats()
	assert.Equal(t, uint64(1), stats.Failed)
	assert.Equal(t, uint64(0), stats.Recorded)
}

func TestSubmitStampsMissingTimestamp(t *testing.T) {
	h := &fakeHandler{}
	r := NewRecorder(h, &config.IngestConfig{Workers: 1, QueueSize: 1}, nil)
	require.NoError(t, r.Start())

	before := time.Now().UTC()
	r.Submit(models.Hit{RequestPath: "/t"})
	require.NoError(t, r.Stop())

	require.Equal(t, 1, h.count())
	assert.False(t, h.hits[0].Timestamp.Before(before))
}

type submitRecorder struct {
	hits []models.Hit
}

func (s *submitRecorder) Submit(hit models.Hit) bool {
	s.hits = append(s.hits, hit)
	return true
}

func TestCaptureNotFound(t *testing.T) {
	site := http.NewServeMux()
	site.HandleFunc("/exists", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("hello"))
	})
	site.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	sub := &submitRecorder{}
	h := CaptureNotFound(sub, site)

	req := httptest.NewRequest(http.MethodGet, "/exists", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, sub.hits)

	req = httptest.NewRequest(http.MethodGet, "/old-page?utm=1", nil)
	req.Header.Set("User-Agent", "Googlebot/2.1")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	require.Len(t, sub.hits, 1)
	assert.Equal(t, "/old-page?utm=1", sub.hits[0].RequestPath)
	assert.Equal(t, "Googlebot/2.1", sub.hits[0].UserAgent)
	assert.False(t, sub.hits[0].Timestamp.IsZero())
}
