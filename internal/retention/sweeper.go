// Package retention prunes log entries that have not been hit for a while.
package retention

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/smartdevs17/notfound-triage/internal/config"
	"github.com/smartdevs17/notfound-triage/internal/metrics"
	"github.com/smartdevs17/notfound-triage/pkg/utils"
)

// Pruner deletes entries last seen before cutoff. storage.Storage satisfies it.
type Pruner interface {
	DeleteEntriesBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Sweeper runs Sweep on a fixed interval until stopped
type Sweeper struct {
	pruner  Pruner
	config  *config.RetentionConfig
	metrics *metrics.Manager
	logger  *logrus.Entry
	now     func() time.Time

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewSweeper creates a sweeper. metricsManager may be nil.
func NewSweeper(pruner Pruner, cfg *config.RetentionConfig, metricsManager *metrics.Manager) *Sweeper {
	return &Sweeper{
		pruner:  pruner,
		config:  cfg,
		metrics: metricsManager,
		logger:  utils.GetLogger().WithField("component", "retention_sweeper"),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Start sweeps once immediately and then on every interval
func (s *Sweeper) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return utils.NewAppError(utils.ErrCodeInternal, "Retention sweeper already running", "")
	}
	if s.config.MaxAge <= 0 || s.config.SweepInterval <= 0 {
		return utils.NewAppError(utils.ErrCodeConfiguration, "Retention max age and sweep interval must be positive", "")
	}

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.running = true

	go s.loop(ctx, s.done)

	s.logger.WithFields(logrus.Fields{
		"max_age":  s.config.MaxAge,
		"interval": s.config.SweepInterval,
	}).Info("Retention sweeper started")
	return nil
}

// Stop stops the loop and waits for an in-flight sweep
func (s *Sweeper) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.cancel()
	done := s.done
	s.mu.Unlock()

	<-done
	s.logger.Info("Retention sweeper stopped")
	return nil
}

func (s *Sweeper) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.config.SweepInterval)
	defer ticker.Stop()

	_, _ = s.Sweep(ctx)
	for {
		select {
		case <-ticker.C:
			_, _ = s.Sweep(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// Sweep deletes every entry whose last hit is older than the max age
func (s *Sweeper) Sweep(ctx context.Context) (int64, error) {
	cutoff := s.now().Add(-s.config.MaxAge)

	n, err := s.pruner.DeleteEntriesBefore(ctx, cutoff)
	if err != nil {
		s.logger.WithFields(logrus.Fields{
			"cutoff": cutoff,
			"error":  err,
		}).Error("Retention sweep failed")
		return 0, err
	}

	if s.metrics != nil {
		s.metrics.GetPrometheusMetrics().RecordRetentionDeleted(n)
	}
	if n > 0 {
		s.logger.WithFields(logrus.Fields{
			"deleted": n,
			"cutoff":  cutoff,
		}).Info("Pruned stale log entries")
	}
	return n, nil
}
