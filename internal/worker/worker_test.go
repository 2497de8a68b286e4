package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.uber.org/zap"

	"github.com/JakeFAU/frame-ingest/internal/frame"
	"github.com/JakeFAU/frame-ingest/internal/imagecodec"
	pubmem "github.com/JakeFAU/frame-ingest/internal/publisher/memory"
	queuemem "github.com/JakeFAU/frame-ingest/internal/queue/memory"
	storemem "github.com/JakeFAU/frame-ingest/internal/storage/memory"
)

var testLayout = frame.Layout{Width: 2, Height: 2, Channels: 1, Input: frame.InputRaw}

func newTestEncoder(t *testing.T, format imagecodec.Format) *imagecodec.Encoder {
	t.Helper()
	enc, err := imagecodec.New(imagecodec.Config{Layout: testLayout, Format: format})
	require.NoError(t, err)
	return enc
}

func runUntilDone(t *testing.T, run func()) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		run()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop")
	}
}

func TestWorker_PersistsFramesUntilQueueDrained(t *testing.T) {
	t.Parallel()

	queue := queuemem.NewQueue(8)
	require.NoError(t, queue.Push(frame.Frame{Seq: 1, Data: []byte{0, 1, 2, 3}}))
	require.NoError(t, queue.Push(frame.Frame{Seq: 2, Data: []byte{4, 5, 6, 7}}))
	queue.Close()

	blobs := storemem.NewBlobStore()
	index := storemem.NewArtifactIndex(0)
	publisher := pubmem.New()
	clock := &fakeClock{now: time.Date(2024, 1, 2, 3, 4, 5, 6, time.UTC)}

	w := New(
		queue,
		newTestEncoder(t, imagecodec.FormatPNG),
		blobs,
		index,
		publisher,
		&fakeHasher{hash: "abc123"},
		clock,
		&fakeIDs{},
		Config{BlobPrefix: "/frames/", Topic: "artifacts"},
		zap.NewNop(),
	)

	runUntilDone(t, func() { w.Run(context.Background()) })

	require.Equal(t, []string{
		"frames/frame_20240102_030405.000000006_0000000001.png",
		"frames/frame_20240102_030405.000000006_0000000002.png",
	}, blobs.Paths())

	data, contentType, ok := blobs.Get("frames/frame_20240102_030405.000000006_0000000001.png")
	require.True(t, ok)
	require.Equal(t, "image/png", contentType)
	require.NotEmpty(t, data)

	recent, err := index.RecentArtifacts(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	for _, a := range recent {
		require.Equal(t, "abc123", a.Digest)
		require.Equal(t, "png", a.Format)
		require.Equal(t, "gray8", a.PixelFormat)
		require.Equal(t, 2, a.Width)
		require.Equal(t, clock.now, a.PersistedAt)
		require.Contains(t, a.URI, "memory://")
	}

	msgs := publisher.Messages()
	require.Len(t, msgs, 2)
	require.Equal(t, "artifacts", msgs[0].Topic)
	payload, ok := msgs[0].Payload.(map[string]any)
	require.True(t, ok)
	require.Equal(t, "abc123", payload["digest"])
	require.Equal(t, "id-1", payload["artifact_id"])
}

func TestWorker_RecordsEncodeDurationHistogram(t *testing.T) {
	t.Parallel()

	queue := queuemem.NewQueue(8)
	require.NoError(t, queue.Push(frame.Frame{Seq: 1, Data: []byte{0, 1, 2, 3}}))
	require.NoError(t, queue.Push(frame.Frame{Seq: 2, Data: []byte{1, 2}}))
	require.NoError(t, queue.Push(frame.Frame{Seq: 3, Data: []byte{4, 5, 6, 7}}))
	queue.Close()

	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { require.NoError(t, provider.Shutdown(context.Background())) })

	w := New(
		queue,
		newTestEncoder(t, imagecodec.FormatPNG),
		storemem.NewBlobStore(),
		nil,
		nil,
		nil,
		&fakeClock{now: time.Unix(100, 0)},
		nil,
		Config{Meter: provider.Meter("worker-test")},
		zap.NewNop(),
	)
	runUntilDone(t, func() { w.Run(context.Background()) })

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	counts := map[bool]uint64{}
	found := false
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != "frame.encode.duration" {
				continue
			}
			found = true
			require.Equal(t, "s", m.Unit)
			hist, ok := m.Data.(metricdata.Histogram[float64])
			require.True(t, ok)
			for _, dp := range hist.DataPoints {
				format, ok := dp.Attributes.Value("format")
				require.True(t, ok)
				require.Equal(t, "png", format.AsString())
				failed, ok := dp.Attributes.Value("error")
				require.True(t, ok)
				counts[failed.AsBool()] += dp.Count
			}
		}
	}
	require.True(t, found, "encode duration histogram not collected")
	require.Equal(t, map[bool]uint64{false: 2, true: 1}, counts)
}

func TestWorker_DecodeFailureDoesNotStopLoop(t *testing.T) {
	t.Parallel()

	queue := queuemem.NewQueue(8)
	require.NoError(t, queue.Push(frame.Frame{Seq: 1, Data: []byte{1, 2}}))
	require.NoError(t, queue.Push(frame.Frame{Seq: 2, Data: []byte{1, 2, 3, 4}}))
	queue.Close()

	blobs := storemem.NewBlobStore()
	w := New(
		queue,
		newTestEncoder(t, imagecodec.FormatRawLZ4),
		blobs,
		nil,
		nil,
		nil,
		&fakeClock{now: time.Unix(100, 0)},
		nil,
		Config{},
		zap.NewNop(),
	)

	runUntilDone(t, func() { w.Run(context.Background()) })

	paths := blobs.Paths()
	require.Len(t, paths, 1)
	require.Equal(t, "frame_19700101_000140.000000000_0000000002.raw.lz4", paths[0])
}

func TestWorker_StoreFailureIsReportedAndLoopContinues(t *testing.T) {
	t.Parallel()

	queue := queuemem.NewQueue(8)
	require.NoError(t, queue.Push(frame.Frame{Seq: 1, Data: []byte{1, 2, 3, 4}}))
	require.NoError(t, queue.Push(frame.Frame{Seq: 2, Data: []byte{1, 2, 3, 4}}))
	queue.Close()

	blobs := &fakeBlobStore{failFirst: errors.New("disk full")}
	index := storemem.NewArtifactIndex(0)
	w := New(
		queue,
		newTestEncoder(t, imagecodec.FormatPNG),
		blobs,
		index,
		nil,
		nil,
		&fakeClock{now: time.Unix(200, 0)},
		nil,
		Config{},
		zap.NewNop(),
	)

	runUntilDone(t, func() { w.Run(context.Background()) })

	require.Equal(t, 2, blobs.calls())
	recent, err := index.RecentArtifacts(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	require.Equal(t, uint64(2), recent[0].Seq)
	require.Equal(t, "frame-0000000002", recent[0].ID)
}

func TestWorker_NeverOverwritesExistingArtifact(t *testing.T) {
	t.Parallel()

	queue := queuemem.NewQueue(8)
	// Same seq and a frozen clock produce the same object path twice.
	require.NoError(t, queue.Push(frame.Frame{Seq: 9, Data: []byte{1, 1, 1, 1}}))
	require.NoError(t, queue.Push(frame.Frame{Seq: 9, Data: []byte{2, 2, 2, 2}}))
	queue.Close()

	blobs := storemem.NewBlobStore()
	w := New(
		queue,
		newTestEncoder(t, imagecodec.FormatRawZstd),
		blobs,
		nil,
		nil,
		nil,
		&fakeClock{now: time.Unix(300, 0)},
		nil,
		Config{},
		zap.NewNop(),
	)

	runUntilDone(t, func() { w.Run(context.Background()) })

	paths := blobs.Paths()
	require.Len(t, paths, 1)
	data, _, ok := blobs.Get(paths[0])
	require.True(t, ok)
	dec, err := zstd.NewReader(nil)
	require.NoError(t, err)
	defer dec.Close()
	raw, err := dec.DecodeAll(data, nil)
	require.NoError(t, err)
	require.Equal(t, []byte{1, 1, 1, 1}, raw)
}

func TestWorker_NotifyFailureKeepsArtifact(t *testing.T) {
	t.Parallel()

	queue := queuemem.NewQueue(8)
	require.NoError(t, queue.Push(frame.Frame{Seq: 1, Data: []byte{1, 2, 3, 4}}))
	queue.Close()

	blobs := storemem.NewBlobStore()
	index := storemem.NewArtifactIndex(0)
	w := New(
		queue,
		newTestEncoder(t, imagecodec.FormatPNG),
		blobs,
		index,
		&failingPublisher{err: errors.New("broker down")},
		nil,
		&fakeClock{now: time.Unix(400, 0)},
		nil,
		Config{Topic: "artifacts"},
		zap.NewNop(),
	)

	runUntilDone(t, func() { w.Run(context.Background()) })

	require.Len(t, blobs.Paths(), 1)
	recent, err := index.RecentArtifacts(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, recent, 1)
}

func TestWorker_RunStopsOnContextCancel(t *testing.T) {
	t.Parallel()

	queue := queuemem.NewQueue(8)
	w := New(
		queue,
		newTestEncoder(t, imagecodec.FormatPNG),
		storemem.NewBlobStore(),
		nil,
		nil,
		nil,
		&fakeClock{},
		nil,
		Config{},
		zap.NewNop(),
	)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	runUntilDone(t, func() { w.Run(ctx) })
}

func TestWorkerBuildBlobPath(t *testing.T) {
	t.Parallel()

	ts := time.Date(2025, 12, 31, 23, 59, 58, 123456789, time.FixedZone("x", 3600))
	w := &Worker{cfg: Config{BlobPrefix: "out"}}
	require.Equal(t, "out/frame_20251231_225958.123456789_0000000042.png", w.buildBlobPath(ts, 42, "png"))

	w.cfg.BlobPrefix = ""
	require.Equal(t, "frame_20251231_225958.123456789_0000000042.jpg", w.buildBlobPath(ts, 42, "jpg"))
}

type fakeBlobStore struct {
	mu        sync.Mutex
	failFirst error
	n         int
}

func (b *fakeBlobStore) PutObject(_ context.Context, path string, _ string, _ []byte) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.n++
	if b.n == 1 && b.failFirst != nil {
		return "", b.failFirst
	}
	return "fake://" + path, nil
}

func (b *fakeBlobStore) calls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.n
}

type failingPublisher struct {
	err error
}

func (p *failingPublisher) Publish(context.Context, string, any) (string, error) {
	return "", p.err
}

type fakeHasher struct {
	hash string
}

func (h *fakeHasher) Hash([]byte) (string, error) {
	return h.hash, nil
}

type fakeIDs struct {
	mu sync.Mutex
	n  int
}

func (g *fakeIDs) NewID() (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("id-%d", g.n), nil
}

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	return c.now
}
