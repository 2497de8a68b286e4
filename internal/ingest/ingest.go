// Package ingest turns raw ingress payloads into queued frames.
//
// The Ingestor is the only path from a transport adapter into the queue. It decodes a payload, offers every
// decoded frame to the queue (which never blocks), and reports what happened so the adapter can acknowledge
// the producer exactly once. Persistence happens later and never influences the result.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/JakeFAU/frame-ingest/internal/frame"
	"github.com/JakeFAU/frame-ingest/internal/metrics"
	"github.com/JakeFAU/frame-ingest/internal/wire"
)

// ErrShuttingDown is returned for payloads that arrive after Close.
var ErrShuttingDown = errors.New("ingestor shutting down")

// Payload results reported in frames_payloads_total.
const (
	ResultOK        = "ok"
	ResultPartial   = "partial"
	ResultMalformed = "malformed"
)

// Result summarizes one ingested payload.
type Result struct {
	Declared uint32
	Decoded  int
	Accepted int
	Short    bool
	// Err holds the decode error for partial or malformed payloads.
	Err error
}

// Status classifies the result for metrics and logs.
func (r Result) Status() string {
	switch {
	case r.Err == nil:
		return ResultOK
	case errors.Is(r.Err, wire.ErrTruncatedFrame):
		return ResultPartial
	default:
		return ResultMalformed
	}
}

// Stats is a snapshot of ingestor counters.
type Stats struct {
	Payloads  uint64 `json:"payloads"`
	Accepted  uint64 `json:"frames_accepted"`
	Truncated uint64 `json:"payloads_truncated"`
}

// Ingestor decodes payloads and pushes their frames onto the queue.
type Ingestor struct {
	decoder *wire.Decoder
	queue   frame.Queue
	logger  *zap.Logger

	mu       sync.RWMutex
	closed   bool
	inflight sync.WaitGroup

	payloads  atomic.Uint64
	accepted  atomic.Uint64
	truncated atomic.Uint64
}

// New constructs an Ingestor.
func New(decoder *wire.Decoder, queue frame.Queue, logger *zap.Logger) *Ingestor {
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()
	return &Ingestor{
		decoder: decoder,
		queue:   queue,
		logger:  logger,
	}
}

// Ingest decodes payload and offers each frame to the queue in payload order.
// Malformed and truncated payloads are not errors: whatever decoded is enqueued and the decode error is
// carried in the Result. The only error is ErrShuttingDown.
func (i *Ingestor) Ingest(payload []byte) (Result, error) {
	i.mu.RLock()
	if i.closed {
		i.mu.RUnlock()
		return Result{}, ErrShuttingDown
	}
	i.inflight.Add(1)
	i.mu.RUnlock()
	defer i.inflight.Done()

	batch, err := i.decoder.Decode(payload)
	result := Result{
		Declared: batch.Declared,
		Decoded:  len(batch.Frames),
		Short:    batch.Short,
		Err:      err,
	}
	if err != nil {
		i.truncated.Add(1)
		metrics.ObserveTruncatedBatch()
		i.logger.Warn("payload truncated",
			zap.Int("payload_bytes", len(payload)),
			zap.Uint32("declared", batch.Declared),
			zap.Int("decoded", len(batch.Frames)),
			zap.Error(err),
		)
	}

	for _, f := range batch.Frames {
		if pushErr := i.queue.Push(f); pushErr != nil {
			i.logger.Warn("enqueue frame failed", zap.Uint64("seq", f.Seq), zap.Error(pushErr))
			break
		}
		result.Accepted++
	}

	i.payloads.Add(1)
	i.accepted.Add(uint64(result.Accepted))
	metrics.ObservePayload(string(i.decoder.Mode()), result.Status())
	metrics.ObserveFramesAccepted(result.Accepted)
	metrics.SetQueueDepth(i.queue.Len())
	i.logger.Debug("payload ingested",
		zap.Int("payload_bytes", len(payload)),
		zap.Int("accepted", result.Accepted),
		zap.Bool("short", result.Short),
	)
	return result, nil
}

// Close rejects new payloads and waits for in-flight ones to finish enqueuing.
func (i *Ingestor) Close(ctx context.Context) error {
	i.mu.Lock()
	i.closed = true
	i.mu.Unlock()

	done := make(chan struct{})
	go func() {
		i.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("wait for in-flight payloads: %w", ctx.Err())
	}
}

// Stats returns a snapshot of the ingestor counters.
func (i *Ingestor) Stats() Stats {
	return Stats{
		Payloads:  i.payloads.Load(),
		Accepted:  i.accepted.Load(),
		Truncated: i.truncated.Load(),
	}
}
