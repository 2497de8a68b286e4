package ingest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/JakeFAU/frame-ingest/internal/frame"
	queuemem "github.com/JakeFAU/frame-ingest/internal/queue/memory"
	"github.com/JakeFAU/frame-ingest/internal/wire"
)

func TestIngestBatchEnqueuesFramesInOrder(t *testing.T) {
	t.Parallel()

	queue := queuemem.NewQueue(8)
	ing := New(wire.NewDecoder(wire.ModeBatch, 0), queue, zap.NewNop())

	payload := []byte{0, 0, 0, 2, 0, 0, 0, 3, 'a', 'b', 'c', 0, 0, 0, 2, 'x', 'y'}
	res, err := ing.Ingest(payload)
	require.NoError(t, err)
	require.NoError(t, res.Err)
	require.Equal(t, ResultOK, res.Status())
	require.Equal(t, uint32(2), res.Declared)
	require.Equal(t, 2, res.Accepted)
	require.Equal(t, 2, queue.Len())

	first, err := queue.Pop(context.Background())
	require.NoError(t, err)
	second, err := queue.Pop(context.Background())
	require.NoError(t, err)
	require.Equal(t, []byte("abc"), first.Data)
	require.Equal(t, []byte("xy"), second.Data)
	require.Less(t, first.Seq, second.Seq)

	require.Equal(t, Stats{Payloads: 1, Accepted: 2}, ing.Stats())
}

func TestIngestTruncatedBatchKeepsCompleteFrames(t *testing.T) {
	t.Parallel()

	queue := queuemem.NewQueue(8)
	ing := New(wire.NewDecoder(wire.ModeBatch, 0), queue, zap.NewNop())

	payload, err := wire.EncodeBatch([][]byte{[]byte("one"), []byte("two"), []byte("three")})
	require.NoError(t, err)
	res, err := ing.Ingest(payload[:len(payload)-2])
	require.NoError(t, err)
	require.ErrorIs(t, res.Err, wire.ErrTruncatedFrame)
	require.Equal(t, ResultPartial, res.Status())
	require.Equal(t, 2, res.Accepted)
	require.Equal(t, 2, queue.Len())
	require.Equal(t, uint64(1), ing.Stats().Truncated)
}

func TestIngestMalformedHeaderEnqueuesNothing(t *testing.T) {
	t.Parallel()

	queue := queuemem.NewQueue(8)
	ing := New(wire.NewDecoder(wire.ModeBatch, 0), queue, zap.NewNop())

	res, err := ing.Ingest([]byte{0, 1})
	require.NoError(t, err)
	require.ErrorIs(t, res.Err, wire.ErrTruncatedHeader)
	require.Equal(t, ResultMalformed, res.Status())
	require.Zero(t, res.Accepted)
	require.Zero(t, queue.Len())
}

func TestIngestFixedModeFlagsShortPayload(t *testing.T) {
	t.Parallel()

	queue := queuemem.NewQueue(8)
	ing := New(wire.NewDecoder(wire.ModeFixed, 16), queue, zap.NewNop())

	res, err := ing.Ingest(make([]byte, 10))
	require.NoError(t, err)
	require.True(t, res.Short)
	require.Equal(t, 1, res.Accepted)

	res, err = ing.Ingest(make([]byte, 16))
	require.NoError(t, err)
	require.False(t, res.Short)
	require.Equal(t, 2, queue.Len())
}

func TestIngestOverflowKeepsNewest(t *testing.T) {
	t.Parallel()

	drops := NewDropReporter(zap.NewNop(), time.Hour)
	queue := queuemem.NewQueue(2, queuemem.WithEvictHook(drops.Evicted))
	ing := New(wire.NewDecoder(wire.ModeBatch, 0), queue, zap.NewNop())

	payload, err := wire.EncodeBatch([][]byte{[]byte("A"), []byte("B"), []byte("C")})
	require.NoError(t, err)
	res, err := ing.Ingest(payload)
	require.NoError(t, err)
	require.Equal(t, 3, res.Accepted)
	require.Equal(t, uint64(1), drops.Total())
	require.Equal(t, uint64(1), queue.Dropped())

	b, err := queue.Pop(context.Background())
	require.NoError(t, err)
	c, err := queue.Pop(context.Background())
	require.NoError(t, err)
	require.Equal(t, []byte("B"), b.Data)
	require.Equal(t, []byte("C"), c.Data)
}

func TestIngestAfterCloseIsRejected(t *testing.T) {
	t.Parallel()

	queue := queuemem.NewQueue(8)
	ing := New(wire.NewDecoder(wire.ModeBatch, 0), queue, zap.NewNop())
	require.NoError(t, ing.Close(context.Background()))

	_, err := ing.Ingest([]byte{0, 0, 0, 0})
	require.ErrorIs(t, err, ErrShuttingDown)
	require.Zero(t, queue.Len())
}

func TestCloseWaitsForInFlightPayload(t *testing.T) {
	t.Parallel()

	queue := &gatedQueue{entered: make(chan struct{}), release: make(chan struct{})}
	ing := New(wire.NewDecoder(wire.ModeFixed, 0), queue, zap.NewNop())

	ingested := make(chan struct{})
	go func() {
		_, _ = ing.Ingest([]byte("frame"))
		close(ingested)
	}()
	<-queue.entered

	closed := make(chan error, 1)
	go func() { closed <- ing.Close(context.Background()) }()

	select {
	case <-closed:
		t.Fatal("Close returned while a payload was still enqueuing")
	case <-time.After(30 * time.Millisecond):
	}

	close(queue.release)
	require.NoError(t, <-closed)
	<-ingested
	require.Equal(t, 1, queue.pushed)
}

func TestCloseHonorsContext(t *testing.T) {
	t.Parallel()

	queue := &gatedQueue{entered: make(chan struct{}), release: make(chan struct{})}
	ing := New(wire.NewDecoder(wire.ModeFixed, 0), queue, zap.NewNop())
	go func() { _, _ = ing.Ingest([]byte("frame")) }()
	<-queue.entered
	defer close(queue.release)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, ing.Close(ctx), context.DeadlineExceeded)
}

func TestDropReporterRateLimitsWarnings(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.WarnLevel)
	drops := NewDropReporter(zap.New(core), time.Hour)
	for i := range 5 {
		drops.Evicted(frame.Frame{Seq: uint64(i + 1)})
	}
	require.Equal(t, uint64(5), drops.Total())
	require.Equal(t, 1, logs.Len())
	require.Equal(t, "queue full, dropped oldest frames", logs.All()[0].Message)
}

// gatedQueue blocks Push until release is closed.
type gatedQueue struct {
	entered chan struct{}
	release chan struct{}
	pushed  int
}

func (q *gatedQueue) Push(frame.Frame) error {
	close(q.entered)
	<-q.release
	q.pushed++
	return nil
}

func (q *gatedQueue) Pop(ctx context.Context) (frame.Frame, error) {
	<-ctx.Done()
	return frame.Frame{}, ctx.Err()
}

func (q *gatedQueue) Len() int { return 0 }

func (q *gatedQueue) Close() {}
