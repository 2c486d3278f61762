package worker

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/pagesmith/orchestrator/internal/metrics"
	"github.com/pagesmith/orchestrator/internal/service"
)

// Reaper periodically evicts terminal jobs past their retention TTL from the
// in-memory index. Artifacts in the blob store are untouched; their retention
// is external. When a stage timeout is configured it also fails jobs stuck on
// one stage past the deadline, which bounds index growth from silent workers.
type Reaper struct {
	index        *service.JobIndex
	interval     time.Duration
	ttl          time.Duration
	stageTimeout time.Duration
	metrics      *metrics.Metrics
	log          *zap.Logger
}

func NewReaper(index *service.JobIndex, interval, ttl, stageTimeout time.Duration,
	m *metrics.Metrics, log *zap.Logger) *Reaper {
	return &Reaper{
		index:        index,
		interval:     interval,
		ttl:          ttl,
		stageTimeout: stageTimeout,
		metrics:      m,
		log:          log,
	}
}

func (r *Reaper) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.log.Info("reaper started",
		zap.Duration("interval", r.interval),
		zap.Duration("ttl", r.ttl))

	for {
		select {
		case <-ctx.Done():
			r.log.Info("reaper stopped")
			return
		case <-ticker.C:
			r.tick()
		}
	}
}

func (r *Reaper) tick() {
	if stale := r.index.SweepStale(r.stageTimeout); len(stale) > 0 {
		for range stale {
			r.metrics.JobsFailed.Inc()
		}
		r.log.Warn("failed stale jobs", zap.Strings("job_ids", stale))
	}

	if removed := r.index.Reap(r.ttl); removed > 0 {
		r.log.Info("reaped terminal jobs", zap.Int("count", removed))
	}
}
