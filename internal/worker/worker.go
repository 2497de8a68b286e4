// Package worker implements the frame persistence loop.
package worker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/frame-ingest/internal/frame"
	"github.com/JakeFAU/frame-ingest/internal/imagecodec"
	"github.com/JakeFAU/frame-ingest/internal/metrics"
)

// Failure stages reported in frames_failed_total.
const (
	StageDecode = "decode"
	StageStore  = "store"
	StageIndex  = "index"
	StageNotify = "notify"
)

const (
	timestampLayout     = "20060102_150405.000000000"
	instrumentationName = "github.com/JakeFAU/frame-ingest/internal/worker"
)

// Config controls Worker behavior.
type Config struct {
	BlobPrefix string
	Topic      string
	// Meter records OTel instruments. Nil uses the global MeterProvider.
	Meter metric.Meter
}

// Worker consumes frames from the queue and writes each one as an artifact.
type Worker struct {
	queue     frame.Queue
	encoder   *imagecodec.Encoder
	blobStore frame.BlobStore
	index     frame.ArtifactIndex
	publisher frame.Publisher
	hasher    frame.Hasher
	clock     frame.Clock
	ids       frame.IDGenerator
	cfg       Config
	logger    *zap.Logger
	tracer    trace.Tracer

	encodeDuration metric.Float64Histogram
}

// New constructs a Worker. index, publisher, hasher and ids are optional.
func New(
	queue frame.Queue,
	encoder *imagecodec.Encoder,
	blobStore frame.BlobStore,
	index frame.ArtifactIndex,
	publisher frame.Publisher,
	hasher frame.Hasher,
	clock frame.Clock,
	ids frame.IDGenerator,
	cfg Config,
	logger *zap.Logger,
) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()
	meter := cfg.Meter
	if meter == nil {
		meter = otel.Meter(instrumentationName)
	}
	encodeDuration, err := meter.Float64Histogram("frame.encode.duration",
		metric.WithDescription("Time spent encoding a frame into its artifact format."),
		metric.WithUnit("s"),
	)
	if err != nil {
		logger.Warn("create encode duration histogram failed", zap.Error(err))
		encodeDuration = noop.Float64Histogram{}
	}
	return &Worker{
		queue:     queue,
		encoder:   encoder,
		blobStore: blobStore,
		index:     index,
		publisher: publisher,
		hasher:    hasher,
		clock:     clock,
		ids:       ids,
		cfg:       cfg,
		logger:    logger,
		tracer:    otel.Tracer(instrumentationName),

		encodeDuration: encodeDuration,
	}
}

// Run blocks, persisting frames until the queue is closed and drained or the context finishes.
func (w *Worker) Run(ctx context.Context) {
	for {
		f, err := w.queue.Pop(ctx)
		if err != nil {
			if errors.Is(err, frame.ErrQueueClosed) || ctx.Err() != nil {
				return
			}
			w.logger.Error("queue pop failed", zap.Error(err))
			continue
		}
		metrics.SetQueueDepth(w.queue.Len())
		w.logger.Debug("dequeued frame", zap.Uint64("seq", f.Seq), zap.Int("bytes", f.Len()))
		w.processFrame(ctx, f)
	}
}

func (w *Worker) processFrame(ctx context.Context, f frame.Frame) {
	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()

	start := time.Now()
	ctx, span := w.tracer.Start(ctx, "frame.persist", trace.WithAttributes(
		attribute.Int64("frame.seq", int64(f.Seq)),
		attribute.Int("frame.bytes", f.Len()),
	))
	defer span.End()

	artifact, err := w.persist(ctx, f)
	if err != nil {
		stage := StageStore
		if errors.Is(err, imagecodec.ErrDecode) {
			stage = StageDecode
		}
		metrics.ObserveFailure(stage)
		span.RecordError(err)
		span.SetStatus(codes.Error, stage)
		w.logger.Error("persist frame failed",
			zap.Uint64("seq", f.Seq),
			zap.String("stage", stage),
			zap.Error(err),
		)
		return
	}
	metrics.ObservePersisted(artifact.Format, artifact.Bytes, time.Since(start))
	span.SetAttributes(attribute.String("artifact.uri", artifact.URI))
	w.logger.Debug("frame persisted",
		zap.Uint64("seq", f.Seq),
		zap.String("path", artifact.Path),
		zap.String("uri", artifact.URI),
	)

	if err := w.recordArtifact(ctx, artifact); err != nil {
		metrics.ObserveFailure(StageIndex)
		span.RecordError(err)
		w.logger.Error("record artifact failed", zap.Uint64("seq", f.Seq), zap.String("uri", artifact.URI), zap.Error(err))
	}
	if err := w.publishResult(ctx, artifact); err != nil {
		metrics.ObserveFailure(StageNotify)
		span.RecordError(err)
		w.logger.Error("publish artifact failed", zap.Uint64("seq", f.Seq), zap.String("uri", artifact.URI), zap.Error(err))
	}
}

func (w *Worker) persist(ctx context.Context, f frame.Frame) (frame.Artifact, error) {
	encodeStart := time.Now()
	encoded, err := w.encoder.Encode(f.Data)
	w.encodeDuration.Record(ctx, time.Since(encodeStart).Seconds(), metric.WithAttributes(
		attribute.String("format", string(w.encoder.Format())),
		attribute.Bool("error", err != nil),
	))
	if err != nil {
		return frame.Artifact{}, fmt.Errorf("encode frame %d: %w", f.Seq, err)
	}

	now := w.clock.Now()
	blobPath := w.buildBlobPath(now, f.Seq, encoded.Ext)
	uri, err := w.blobStore.PutObject(ctx, blobPath, encoded.ContentType, encoded.Data)
	if err != nil {
		return frame.Artifact{}, fmt.Errorf("put object: %w", err)
	}

	artifact := frame.Artifact{
		Seq:         f.Seq,
		Path:        blobPath,
		URI:         uri,
		Format:      string(w.encoder.Format()),
		ContentType: encoded.ContentType,
		Width:       encoded.Width,
		Height:      encoded.Height,
		PixelFormat: encoded.PixelFormat,
		Bytes:       len(encoded.Data),
		ReceivedAt:  f.ReceivedAt,
		PersistedAt: now,
	}
	if w.hasher != nil {
		digest, err := w.hasher.Hash(encoded.Data)
		if err != nil {
			w.logger.Warn("hash artifact failed", zap.Uint64("seq", f.Seq), zap.Error(err))
		}
		artifact.Digest = digest
	}
	if w.ids != nil {
		id, err := w.ids.NewID()
		if err != nil {
			w.logger.Warn("generate artifact id failed", zap.Uint64("seq", f.Seq), zap.Error(err))
		}
		artifact.ID = id
	}
	if artifact.ID == "" {
		artifact.ID = fmt.Sprintf("frame-%010d", f.Seq)
	}
	return artifact, nil
}

func (w *Worker) buildBlobPath(ts time.Time, seq uint64, ext string) string {
	name := fmt.Sprintf("frame_%s_%010d.%s", ts.UTC().Format(timestampLayout), seq, ext)
	prefix := strings.Trim(w.cfg.BlobPrefix, "/")
	if prefix == "" {
		return name
	}
	return prefix + "/" + name
}

func (w *Worker) recordArtifact(ctx context.Context, artifact frame.Artifact) error {
	if w.index == nil {
		return nil
	}
	if err := w.index.RecordArtifact(ctx, artifact); err != nil {
		return fmt.Errorf("record artifact: %w", err)
	}
	return nil
}

func (w *Worker) publishResult(ctx context.Context, artifact frame.Artifact) error {
	if w.cfg.Topic == "" || w.publisher == nil {
		return nil
	}
	payload := map[string]any{
		"artifact_id":  artifact.ID,
		"seq":          artifact.Seq,
		"uri":          artifact.URI,
		"format":       artifact.Format,
		"content_type": artifact.ContentType,
		"bytes":        artifact.Bytes,
		"digest":       artifact.Digest,
		"timestamp":    artifact.PersistedAt.Format(time.RFC3339Nano),
	}
	if _, err := w.publisher.Publish(ctx, w.cfg.Topic, payload); err != nil {
		return fmt.Errorf("publish payload: %w", err)
	}
	w.logger.Debug("artifact published",
		zap.String("artifact_id", artifact.ID),
		zap.Uint64("seq", artifact.Seq),
		zap.String("uri", artifact.URI),
	)
	return nil
}
