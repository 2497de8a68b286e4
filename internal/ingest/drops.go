package ingest

import (
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/JakeFAU/frame-ingest/internal/frame"
	"github.com/JakeFAU/frame-ingest/internal/metrics"
)

// DropReporter records queue evictions. Every eviction is counted; warnings are rate limited.
type DropReporter struct {
	logger  *zap.Logger
	limiter *rate.Limiter
	pending atomic.Uint64
	total   atomic.Uint64
}

// NewDropReporter creates a DropReporter that logs at most once per interval.
func NewDropReporter(logger *zap.Logger, interval time.Duration) *DropReporter {
	if logger == nil {
		logger = zap.NewNop()
	}
	if interval <= 0 {
		interval = time.Second
	}
	metrics.Init()
	return &DropReporter{
		logger:  logger,
		limiter: rate.NewLimiter(rate.Every(interval), 1),
	}
}

// Evicted is installed as the queue's evict hook.
func (r *DropReporter) Evicted(f frame.Frame) {
	metrics.ObserveFrameDropped()
	r.total.Add(1)
	r.pending.Add(1)
	if !r.limiter.Allow() {
		return
	}
	r.logger.Warn("queue full, dropped oldest frames",
		zap.Uint64("dropped", r.pending.Swap(0)),
		zap.Uint64("last_seq", f.Seq),
		zap.Uint64("dropped_total", r.total.Load()),
	)
}

// Total reports the number of evictions seen.
func (r *DropReporter) Total() uint64 {
	return r.total.Load()
}
