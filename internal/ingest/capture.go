package ingest

import (
	"net/http"
	"time"

	"github.com/felixge/httpsnoop"

	"github.com/smartdevs17/notfound-triage/internal/models"
)

// Submitter accepts hits without blocking. *Recorder satisfies it.
type Submitter interface {
	Submit(hit models.Hit) bool
}

// CaptureNotFound wraps a site handler and submits a hit for every response
// that ends with 404. The submission happens after the response is written
// and never blocks it.
func CaptureNotFound(sub Submitter, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m := httpsnoop.CaptureMetrics(next, w, r)
		if m.Code != http.StatusNotFound {
			return
		}
		sub.Submit(models.Hit{
			RequestPath: r.URL.RequestURI(),
			UserAgent:   r.UserAgent(),
			Timestamp:   time.Now().UTC(),
		})
	})
}
