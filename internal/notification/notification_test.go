package notification

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smartdevs17/notfound-triage/internal/metrics"
	"github.com/smartdevs17/notfound-triage/internal/models"
)

type capturedRequest struct {
	payload   WebhookPayload
	requestID string
	custom    string
}

type webhookRecorder struct {
	mu       sync.Mutex
	requests []capturedRequest
}

func (wr *webhookRecorder) handler(status func(n int) int) http.HandlerFunc {
	var calls int32
	return func(w http.ResponseWriter, r *http.Request) {
		n := int(atomic.AddInt32(&calls, 1))
		var p WebhookPayload
		_ = json.NewDecoder(r.Body).Decode(&p)

		wr.mu.Lock()
		wr.requests = append(wr.requests, capturedRequest{
			payload:   p,
			requestID: r.Header.Get("X-Request-ID"),
			custom:    r.Header.Get("X-Site"),
		})
		wr.mu.Unlock()

		w.WriteHeader(status(n))
	}
}

func (wr *webhookRecorder) snapshot() []capturedRequest {
	wr.mu.Lock()
	defer wr.mu.Unlock()
	return append([]capturedRequest(nil), wr.requests...)
}

func testConfig(url string) *NotificationManagerConfig {
	return &NotificationManagerConfig{
		WebhookURL:          url,
		Headers:             map[string]string{"X-Site": "blog"},
		Workers:             2,
		QueueSize:           10,
		NotificationTimeout: 2 * time.Second,
		RetryAttempts:       3,
		RetryDelay:          time.Millisecond,
	}
}

func TestNotifyDeliversWebhook(t *testing.T) {
	rec := &webhookRecorder{}
	srv := httptest.NewServer(rec.handler(func(int) int { return http.StatusOK }))
	defer srv.Close()

	nm := NewNotificationManager(testConfig(srv.URL), metrics.NewManager())
	require.NoError(t, nm.Start(context.Background()))

	result := &models.RedirectResult{
		Redirect:     &models.Redirect{Source: "/old-page", Target: "https://example.com/new-page", Status: models.StatusPermanent},
		EntryDeleted: true,
	}
	n := NewRedirectCreated(result, "/old-page")
	require.True(t, nm.Notify(n))
	require.NoError(t, nm.Stop())

	reqs := rec.snapshot()
	require.Len(t, reqs, 1)
	assert.Equal(t, "redirect.created", reqs[0].payload.Type)
	assert.Equal(t, "/old-page", reqs[0].payload.Data["source"])
	assert.Equal(t, float64(301), reqs[0].payload.Data["http_status"])
	assert.Equal(t, true, reqs[0].payload.Data["entry_deleted"])
	assert.Equal(t, n.ID, reqs[0].requestID)
	assert.NotEmpty(t, n.ID)
	assert.Equal(t, "blog", reqs[0].custom)

	stats := nm.GetStats()
	assert.Equal(t, uint64(1), stats.TotalNotificationsSent)
	assert.Equal(t, uint64(0), stats.TotalNotificationsFailed)
}

func TestWebhookRetriesServerErrors(t *testing.T) {
	rec := &webhookRecorder{}
	srv := httptest.NewServer(rec.handler(func(n int) int {
		if n < 3 {
			return http.StatusServiceUnavailable
		}
		return http.StatusAccepted
	}))
	defer srv.Close()

	sender := NewWebhookSender(testConfig(srv.URL), NewNotificationLogger())
	n := &models.Notification{ID: "fixed-id", Type: models.NotificationEntryThreshold}

	require.NoError(t, sender.SendWebhook(context.Background(), n))
	assert.Equal(t, 3, n.Attempts)

	reqs := rec.snapshot()
	require.Len(t, reqs, 3)
	for _, r := range reqs {
		assert.Equal(t, "fixed-id", r.requestID)
	}
}

func TestWebhookDoesNotRetryClientErrors(t *testing.T) {
	rec := &webhookRecorder{}
	srv := httptest.NewServer(rec.handler(func(int) int { return http.StatusBadRequest }))
	defer srv.Close()

	sender := NewWebhookSender(testConfig(srv.URL), NewNotificationLogger())
	n := &models.Notification{ID: "x", Type: models.NotificationEntryThreshold}

	err := sender.SendWebhook(context.Background(), n)
	require.Error(t, err)
	assert.Equal(t, 1, n.Attempts)
	assert.Len(t, rec.snapshot(), 1)
}

func TestFailedDeliveryIsCounted(t *testing.T) {
	rec := &webhookRecorder{}
	srv := httptest.NewServer(rec.handler(func(int) int { return http.StatusInternalServerError }))
	defer srv.Close()

	nm := NewNotificationManager(testConfig(srv.URL), nil)
	require.NoError(t, nm.Start(context.Background()))

	entry := &models.LogEntry{Path: "/hot", Hits: 100}
	require.True(t, nm.Notify(NewEntryThreshold(entry, 100)))
	require.NoError(t, nm.Stop())

	stats := nm.GetStats()
	assert.Equal(t, uint64(1), stats.TotalNotificationsFailed)
	require.NotNil(t, stats.LastError)
	assert.Len(t, rec.snapshot(), 3)
}

func TestNotifyNeverBlocks(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	cfg := testConfig(srv.URL)
	cfg.Workers = 1
	cfg.QueueSize = 1
	nm := NewNotificationManager(cfg, nil)
	require.NoError(t, nm.Start(context.Background()))

	accepted := 0
	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			if nm.Notify(&models.Notification{Type: models.NotificationEntryThreshold}) {
				accepted++
			}
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Notify blocked on a full queue")
	}

	close(release)
	require.NoError(t, nm.Stop())

	assert.LessOrEqual(t, accepted, 2)
	assert.GreaterOrEqual(t, nm.GetStats().TotalNotificationsDropped, uint64(8))
}

func TestLifecycle(t *testing.T) {
	nm := NewNotificationManager(&NotificationManagerConfig{}, nil)
	assert.Error(t, nm.Start(context.Background()), "start without URL")
	assert.False(t, nm.Notify(&models.Notification{}))
	assert.NoError(t, nm.Stop())

	nm = NewNotificationManager(testConfig("http://127.0.0.1:0"), nil)
	require.NoError(t, nm.Start(context.Background()))
	assert.True(t, nm.IsHealthy())
	assert.Error(t, nm.Start(context.Background()), "double start")
	require.NoError(t, nm.Stop())
	assert.False(t, nm.IsHealthy())
	assert.False(t, nm.Notify(&models.Notification{}))
}

func TestRetryDelayBackoff(t *testing.T) {
	ws := NewWebhookSender(&NotificationManagerConfig{RetryDelay: time.Second}, NewNotificationLogger())
	assert.Equal(t, time.Second, ws.calculateRetryDelay(2))
	assert.Equal(t, 2*time.Second, ws.calculateRetryDelay(3))
	assert.Equal(t, 4*time.Second, ws.calculateRetryDelay(4))
	assert.Equal(t, maxRetryDelay, ws.calculateRetryDelay(20))

	var nop Notifier = NopNotifier{}
	assert.False(t, nop.Notify(&models.Notification{}))
	assert.True(t, nop.IsHealthy())
}
