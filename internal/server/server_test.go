package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smartdevs17/notfound-triage/internal/config"
	"github.com/smartdevs17/notfound-triage/internal/metrics"
	"github.com/smartdevs17/notfound-triage/internal/models"
	"github.com/smartdevs17/notfound-triage/internal/pattern"
	"github.com/smartdevs17/notfound-triage/internal/query"
	"github.com/smartdevs17/notfound-triage/internal/storage"
	"github.com/smartdevs17/notfound-triage/internal/triage"
)

type testServer struct {
	srv *HTTPServer
	svc *triage.Service
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	store := storage.NewMemoryStorage()
	require.NoError(t, store.Connect())

	mm := metrics.NewManager()
	svc := triage.NewService(store, pattern.NewMatcher(), nil, mm, triage.Options{ExportTimeout: time.Second})
	require.NoError(t, svc.LoadPatterns(context.Background()))

	srv, err := NewHTTPServer(&config.ServerConfig{
		EnableHealth:  true,
		EnableMetrics: true,
		CORSOrigins:   []string{"*"},
	}, svc, nil, nil, mm)
	require.NoError(t, err)
	return &testServer{srv: srv, svc: svc}
}

func (ts *testServer) do(t *testing.T, method, target string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, target, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	ts.srv.Handler().ServeHTTP(rec, req)
	return rec
}

func (ts *testServer) hit(t *testing.T, path, ua string) {
	t.Helper()
	rec := ts.do(t, http.MethodPost, "/api/v1/hits", map[string]string{"request_path": path, "user_agent": ua})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, dst interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), dst), rec.Body.String())
}

func TestHitsAndListing(t *testing.T) {
	ts := newTestServer(t)
	for i := 0; i < 5; i++ {
		ts.hit(t, "/old-page", "Mozilla/5.0")
	}
	ts.hit(t, "/config.bak", "Mozilla/5.0")
	ts.hit(t, "/config.bak", "Mozilla/5.0")

	rec := ts.do(t, http.MethodGet, "/api/v1/entries?sort=top&hide_spam=true", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var res query.Result
	decode(t, rec, &res)
	require.Len(t, res.Items, 1)
	assert.Equal(t, "/old-page", res.Items[0].Path)
	assert.Equal(t, int64(5), res.Items[0].Hits)
	assert.Equal(t, 1, res.TotalPages)
	assert.Equal(t, query.DefaultPerPage, res.PerPage)

	rec = ts.do(t, http.MethodGet, "/api/v1/entries?page=5", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	decode(t, rec, &res)
	assert.Empty(t, res.Items)
	assert.Equal(t, 1, res.TotalPages)

	rec = ts.do(t, http.MethodGet, "/api/v1/entries?page=576460752303423489", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	res = query.Result{}
	decode(t, rec, &res)
	assert.Empty(t, res.Items)
}

func TestHitRequiresPath(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(t, http.MethodPost, "/api/v1/hits", map[string]string{"user_agent": "x"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	var body errorResponse
	decode(t, rec, &body)
	assert.Equal(t, "VALIDATION_ERROR", body.Code)
}

func TestGetAndDeleteEntryByEscapedPath(t *testing.T) {
	ts := newTestServer(t)
	ts.hit(t, "/blog/2019/post", "Mozilla/5.0")

	target := "/api/v1/entries/" + url.PathEscape("/blog/2019/post")
	rec := ts.do(t, http.MethodGet, target, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var entry models.LogEntry
	decode(t, rec, &entry)
	assert.Equal(t, "/blog/2019/post", entry.Path)

	rec = ts.do(t, http.MethodDelete, target, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = ts.do(t, http.MethodDelete, target, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(t, http.MethodGet, target, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPatternLifecycle(t *testing.T) {
	ts := newTestServer(t)
	ts.hit(t, "/wp-login.php", "Mozilla/5.0")

	rec := ts.do(t, http.MethodPost, "/api/v1/patterns", map[string]string{"type": "regex", "pattern": "([a-z"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	var errBody errorResponse
	decode(t, rec, &errBody)
	assert.Equal(t, "INVALID_PATTERN", errBody.Code)

	rec = ts.do(t, http.MethodPost, "/api/v1/patterns", map[string]string{"type": "wildcard", "pattern": "/wp-*"})
	require.Equal(t, http.StatusCreated, rec.Code)
	var p models.IgnorePattern
	decode(t, rec, &p)
	assert.NotEmpty(t, p.ID)

	rec = ts.do(t, http.MethodGet, "/api/v1/entries?ignored=hide", nil)
	var res query.Result
	decode(t, rec, &res)
	assert.Empty(t, res.Items)
	assert.Equal(t, 1, res.IgnoredCount)

	rec = ts.do(t, http.MethodDelete, "/api/v1/patterns/"+p.ID, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = ts.do(t, http.MethodDelete, "/api/v1/patterns/"+p.ID, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(t, http.MethodGet, "/api/v1/patterns", nil)
	var list struct {
		Total int `json:"total"`
	}
	decode(t, rec, &list)
	assert.Equal(t, 0, list.Total)
}

func TestIgnoreUnignore(t *testing.T) {
	ts := newTestServer(t)
	ts.hit(t, "/old-page", "Mozilla/5.0")

	rec := ts.do(t, http.MethodPost, "/api/v1/entries/ignore", map[string]string{"path": "/old-page"})
	require.Equal(t, http.StatusOK, rec.Code)
	var entry models.LogEntry
	decode(t, rec, &entry)
	assert.True(t, entry.IsIgnored)

	rec = ts.do(t, http.MethodPost, "/api/v1/entries/unignore", map[string]string{"path": "/old-page"})
	require.Equal(t, http.StatusOK, rec.Code)
	decode(t, rec, &entry)
	assert.False(t, entry.IsIgnored)

	rec = ts.do(t, http.MethodPost, "/api/v1/entries/ignore", map[string]string{"path": "/missing"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRedirectConflict(t *testing.T) {
	ts := newTestServer(t)
	ts.hit(t, "/old-page", "Mozilla/5.0")

	body := map[string]string{"path": "/old-page", "target": "https://example.com/new-page", "status": "permanent"}
	rec := ts.do(t, http.MethodPost, "/api/v1/entries/redirect", body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var result models.RedirectResult
	decode(t, rec, &result)
	assert.True(t, result.EntryDeleted)

	rec = ts.do(t, http.MethodPost, "/api/v1/entries/redirect", body)
	assert.Equal(t, http.StatusConflict, rec.Code)
	var errBody errorResponse
	decode(t, rec, &errBody)
	assert.Equal(t, "DUPLICATE_SOURCE", errBody.Code)

	rec = ts.do(t, http.MethodGet, "/api/v1/redirects", nil)
	var list struct {
		Redirects []*models.Redirect `json:"redirects"`
	}
	decode(t, rec, &list)
	require.Len(t, list.Redirects, 1)

	rec = ts.do(t, http.MethodDelete, "/api/v1/redirects/"+url.PathEscape("/old-page"), nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestExportDownload(t *testing.T) {
	ts := newTestServer(t)
	ts.hit(t, "/old-page", "Mozilla/5.0")

	rec := ts.do(t, http.MethodGet, "/api/v1/export?format=csv", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Disposition"), `filename="404-log-`)
	assert.True(t, strings.HasPrefix(rec.Body.String(), "path,hits,"))
	assert.Contains(t, rec.Body.String(), "/old-page")

	rec = ts.do(t, http.MethodGet, "/api/v1/export?format=xml", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestClearEntries(t *testing.T) {
	ts := newTestServer(t)
	ts.hit(t, "/a", "Mozilla/5.0")

	rec := ts.do(t, http.MethodDelete, "/api/v1/entries", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Deleted int64 `json:"deleted"`
	}
	decode(t, rec, &body)
	assert.Equal(t, int64(1), body.Deleted)

	rec = ts.do(t, http.MethodDelete, "/api/v1/entries", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHealthStatsAndMetrics(t *testing.T) {
	ts := newTestServer(t)
	ts.hit(t, "/a", "Mozilla/5.0")

	rec := ts.do(t, http.MethodGet, "/api/v1/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"healthy"`)

	rec = ts.do(t, http.MethodGet, "/api/v1/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var stats struct {
		Storage storage.StorageStats `json:"storage"`
	}
	decode(t, rec, &stats)
	assert.Equal(t, int64(1), stats.Storage.TotalEntries)

	rec = ts.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "triage_http_requests_total")
}

func TestCORSPreflight(t *testing.T) {
	ts := newTestServer(t)

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/entries", nil)
	req.Header.Set("Origin", "https://admin.example.com")
	req.Header.Set("Access-Control-Request-Method", "DELETE")
	rec := httptest.NewRecorder()
	ts.srv.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}
