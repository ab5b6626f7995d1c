// Package ingest moves not-found hits off the request path. Submit hands a hit
// to a bounded queue and returns immediately; workers write it to storage.
package ingest

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/smartdevs17/notfound-triage/internal/config"
	"github.com/smartdevs17/notfound-triage/internal/metrics"
	"github.com/smartdevs17/notfound-triage/internal/models"
	"github.com/smartdevs17/notfound-triage/pkg/utils"
)

// HitHandler records one hit synchronously. *triage.Service satisfies it.
type HitHandler interface {
	RecordHit(ctx context.Context, hit models.Hit) (*models.LogEntry, error)
}

// Recorder implements the asynchronous write path
type Recorder struct {
	handler HitHandler
	config  *config.IngestConfig
	metrics *metrics.Manager
	logger  *logrus.Entry

	mu      sync.RWMutex
	running bool
	queue   chan models.Hit
	wg      sync.WaitGroup

	accepted atomic.Uint64
	dropped  atomic.Uint64
	recorded atomic.Uint64
	failed   atomic.Uint64
}

// RecorderStats provides write path statistics
type RecorderStats struct {
	Running    bool   `json:"running"`
	Accepted   uint64 `json:"accepted"`
	Dropped    uint64 `json:"dropped"`
	Recorded   uint64 `json:"recorded"`
	Failed     uint64 `json:"failed"`
	QueueDepth int    `json:"queue_depth"`
	QueueSize  int    `json:"queue_size"`
}

// NewRecorder creates a recorder. metricsManager may be nil.
func NewRecorder(handler HitHandler, cfg *config.IngestConfig, metricsManager *metrics.Manager) *Recorder {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1024
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Second
	}

	return &Recorder{
		handler: handler,
		config:  cfg,
		metrics: metricsManager,
		logger:  utils.GetLogger().WithField("component", "ingest_recorder"),
	}
}

// Start launches the workers
func (r *Recorder) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running {
		return utils.NewAppError(utils.ErrCodeInternal, "Recorder already running", "")
	}

	r.queue = make(chan models.Hit, r.config.QueueSize)
	r.running = true
	for i := 0; i < r.config.Workers; i++ {
		r.wg.Add(1)
		go r.worker(r.queue)
	}

	r.logger.WithFields(logrus.Fields{
		"workers":    r.config.Workers,
		"queue_size": r.config.QueueSize,
	}).Info("Hit recorder started")
	return nil
}

// Stop stops accepting hits and waits until every queued hit is written
func (r *Recorder) Stop() error {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return nil
	}
	r.running = false
	close(r.queue)
	r.mu.Unlock()

	r.wg.Wait()

	r.logger.WithFields(logrus.Fields{
		"recorded": r.recorded.Load(),
		"dropped":  r.dropped.Load(),
		"failed":   r.failed.Load(),
	}).Info("Hit recorder stopped")
	return nil
}

// Submit queues hit without blocking. It returns false when the hit was
// dropped because the recorder is stopped or the queue is full.
func (r *Recorder) Submit(hit models.Hit) bool {
	if hit.Timestamp.IsZero() {
		hit.Timestamp = time.Now().UTC()
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	if !r.running {
		r.drop()
		return false
	}

	select {
	case r.queue <- hit:
		r.accepted.Add(1)
		if r.metrics != nil {
			r.metrics.GetPrometheusMetrics().UpdateIngestQueueDepth(len(r.queue))
		}
		return true
	default:
		r.drop()
		return false
	}
}

func (r *Recorder) drop() {
	if n := r.dropped.Add(1); n == 1 || n%1000 == 0 {
		r.logger.WithField("dropped_total", n).Warn("Dropping not-found hit, ingest queue unavailable")
	}
	if r.metrics != nil {
		r.metrics.GetPrometheusMetrics().RecordHitDropped()
	}
}

// GetStats returns write path statistics
func (r *Recorder) GetStats() *RecorderStats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := &RecorderStats{
		Running:   r.running,
		Accepted:  r.accepted.Load(),
		Dropped:   r.dropped.Load(),
		Recorded:  r.recorded.Load(),
		Failed:    r.failed.Load(),
		QueueSize: r.config.QueueSize,
	}
	if r.queue != nil {
		stats.QueueDepth = len(r.queue)
	}
	return stats
}

func (r *Recorder) worker(queue <-chan models.Hit) {
	defer r.wg.Done()
	for hit := range queue {
		r.process(hit)
		if r.metrics != nil {
			r.metrics.GetPrometheusMetrics().UpdateIngestQueueDepth(len(queue))
		}
	}
}

// process writes one hit. Failures are logged and counted, never retried:
// losing a count is preferable to backing up the queue.
func (r *Recorder) process(hit models.Hit) {
	ctx, cancel := context.WithTimeout(context.Background(), r.config.WriteTimeout)
	defer cancel()

	start := time.Now()
	entry, err := r.handler.RecordHit(ctx, hit)
	if err != nil {
		r.failed.Add(1)
		r.logger.WithFields(logrus.Fields{
			"path":  hit.RequestPath,
			"error": err,
		}).Error("Failed to record not-found hit")
		if r.metrics != nil {
			r.metrics.GetPrometheusMetrics().RecordHitFailed()
		}
		return
	}

	r.recorded.Add(1)
	if r.metrics != nil && entry != nil {
		r.metrics.GetPrometheusMetrics().RecordHit(entry.Device, entry.IsIgnored, time.Since(start))
	}
}
