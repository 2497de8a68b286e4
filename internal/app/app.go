// Package app wires the ingestion pipeline together and owns its lifecycle.
//
// Startup order is queue, workers, pool, listener, serve. Shutdown runs in reverse: the HTTP server stops
// accepting and waits for handlers, the ingestor rejects late payloads, the queue closes, the pool drains
// within the configured budget, and finally outbound clients and telemetry are closed.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/frame-ingest/internal/api"
	"github.com/JakeFAU/frame-ingest/internal/clock/system"
	"github.com/JakeFAU/frame-ingest/internal/config"
	"github.com/JakeFAU/frame-ingest/internal/dispatcher"
	"github.com/JakeFAU/frame-ingest/internal/frame"
	"github.com/JakeFAU/frame-ingest/internal/hash"
	"github.com/JakeFAU/frame-ingest/internal/id/uuid"
	"github.com/JakeFAU/frame-ingest/internal/imagecodec"
	"github.com/JakeFAU/frame-ingest/internal/ingest"
	"github.com/JakeFAU/frame-ingest/internal/logging"
	"github.com/JakeFAU/frame-ingest/internal/publisher"
	amqppublisher "github.com/JakeFAU/frame-ingest/internal/publisher/amqp"
	memorypublisher "github.com/JakeFAU/frame-ingest/internal/publisher/memory"
	gcppublisher "github.com/JakeFAU/frame-ingest/internal/publisher/pubsub"
	queueMemory "github.com/JakeFAU/frame-ingest/internal/queue/memory"
	gcsstorage "github.com/JakeFAU/frame-ingest/internal/storage/gcs"
	localstorage "github.com/JakeFAU/frame-ingest/internal/storage/local"
	memoryStorage "github.com/JakeFAU/frame-ingest/internal/storage/memory"
	miniostorage "github.com/JakeFAU/frame-ingest/internal/storage/minio"
	pgstore "github.com/JakeFAU/frame-ingest/internal/storage/postgres"
	"github.com/JakeFAU/frame-ingest/internal/telemetry"
	"github.com/JakeFAU/frame-ingest/internal/wire"
	"github.com/JakeFAU/frame-ingest/internal/worker"
)

// Option customizes Build.
type Option func(*App)

// WithLogger injects a logger instead of building one from config.
func WithLogger(logger *zap.Logger) Option {
	return func(a *App) {
		a.logger = logger
	}
}

// WithClock overrides the clock used for artifact names.
func WithClock(clock frame.Clock) Option {
	return func(a *App) {
		a.clock = clock
	}
}

// App contains the application's dependencies.
type App struct {
	cfg    config.Config
	logger *zap.Logger
	clock  frame.Clock

	queue      *queueMemory.Queue
	ingestor   *ingest.Ingestor
	dispatch   *dispatcher.Dispatcher
	apiServer  *api.Server
	httpServer *http.Server
	blobStore  frame.BlobStore
	index      frame.ArtifactIndex
	publisher  frame.Publisher
	telemetry  *telemetry.Providers

	mu       sync.Mutex
	listener net.Listener

	// closers run in reverse order during Close.
	closers   []namedCloser
	closeOnce sync.Once
}

type namedCloser struct {
	name  string
	close func() error
}

// Build creates the application's dependencies. It fails if the output location cannot be prepared.
func Build(ctx context.Context, cfg config.Config, opts ...Option) (*App, error) {
	a := &App{cfg: cfg}
	for _, opt := range opts {
		opt(a)
	}
	if a.logger == nil {
		logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
		if err != nil {
			return nil, fmt.Errorf("logger init failed: %w", err)
		}
		zap.ReplaceGlobals(logger)
		a.logger = logger
	}
	if a.clock == nil {
		a.clock = system.New()
	}
	a.logger.Info("building application dependencies",
		zap.Int("port", cfg.Server.Port),
		zap.String("mode", cfg.Ingress.Mode),
		zap.String("storage", cfg.Storage.Backend),
		zap.String("format", cfg.Output.Format),
		zap.Int("workers", cfg.Workers.Count),
		zap.Int("queue_capacity", cfg.Queue.Capacity),
	)

	if err := a.build(ctx); err != nil {
		if closeErr := a.closeResources(); closeErr != nil {
			a.logger.Warn("cleanup after failed build", zap.Error(closeErr))
		}
		return nil, err
	}
	return a, nil
}

func (a *App) build(ctx context.Context) error {
	if a.cfg.Telemetry.Enabled {
		tp, err := telemetry.Init(ctx, telemetry.Config{
			ServiceName: a.cfg.Telemetry.ServiceName,
			ProjectID:   a.cfg.Telemetry.ProjectID,
		})
		if err != nil {
			return fmt.Errorf("telemetry init failed: %w", err)
		}
		a.telemetry = tp
	}

	mode, err := wire.ParseMode(a.cfg.Ingress.Mode)
	if err != nil {
		return fmt.Errorf("ingress mode: %w", err)
	}
	layout := frame.Layout{
		Width:    a.cfg.Frame.Width,
		Height:   a.cfg.Frame.Height,
		Channels: a.cfg.Frame.Channels,
		Input:    frame.InputKind(a.cfg.Frame.Input),
	}
	format, err := imagecodec.ParseFormat(a.cfg.Output.Format)
	if err != nil {
		return fmt.Errorf("output format: %w", err)
	}
	encoder, err := imagecodec.New(imagecodec.Config{
		Layout:      layout,
		Format:      format,
		JPEGQuality: a.cfg.Output.JPEGQuality,
	})
	if err != nil {
		return fmt.Errorf("image encoder init failed: %w", err)
	}
	hasher, err := hash.New(a.cfg.Output.Digest)
	if err != nil {
		return fmt.Errorf("output.digest: %w", err)
	}

	if a.blobStore, err = a.setupStorage(ctx); err != nil {
		return err
	}
	if a.index, err = a.setupIndex(ctx); err != nil {
		return err
	}
	topic, err := a.setupPublisher(ctx)
	if err != nil {
		return err
	}

	drops := ingest.NewDropReporter(a.logger.Named("queue"), time.Second)
	a.queue = queueMemory.NewQueue(a.cfg.Queue.Capacity, queueMemory.WithEvictHook(drops.Evicted))

	frameSize := 0
	if layout.Input != frame.InputEncoded {
		frameSize = layout.FrameSize()
	}
	a.ingestor = ingest.New(wire.NewDecoder(mode, frameSize), a.queue, a.logger.Named("ingest"))

	workerCfg := worker.Config{
		BlobPrefix: a.cfg.Storage.Prefix,
		Topic:      topic,
	}
	ids := uuid.New()
	workers := make([]*worker.Worker, 0, a.cfg.Workers.Count)
	for i := 0; i < a.cfg.Workers.Count; i++ {
		workers = append(workers, worker.New(
			a.queue,
			encoder,
			a.blobStore,
			a.index,
			a.publisher,
			hasher,
			a.clock,
			ids,
			workerCfg,
			a.logger.Named("worker").With(zap.Int("index", i)),
		))
	}
	a.dispatch = dispatcher.New(a.queue, workers)

	var artifacts api.ArtifactReader
	if reader, ok := a.index.(api.ArtifactReader); ok {
		artifacts = reader
	}
	a.apiServer = api.NewServer(a.ingestor, a.queue, artifacts, a.cfg, a.logger.Named("api"))
	a.httpServer = &http.Server{
		Handler:           a.apiServer.Handler(),
		ReadHeaderTimeout: a.cfg.Server.ReadHeaderTimeout,
		ReadTimeout:       a.cfg.Server.ReadTimeout,
	}
	if a.httpServer.ReadHeaderTimeout <= 0 {
		a.httpServer.ReadHeaderTimeout = 5 * time.Second
	}
	return nil
}

func (a *App) setupStorage(ctx context.Context) (frame.BlobStore, error) {
	switch a.cfg.Storage.Backend {
	case "gcs":
		a.logger.Info("using GCS storage backend", zap.String("bucket", a.cfg.Storage.GCS.Bucket))
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		a.addCloser("gcs client", client.Close)
		store, err := gcsstorage.New(client, gcsstorage.Config{Bucket: a.cfg.Storage.GCS.Bucket})
		if err != nil {
			return nil, fmt.Errorf("gcs blob store init failed: %w", err)
		}
		if err := store.CheckBucket(ctx); err != nil {
			return nil, fmt.Errorf("gcs bucket check failed: %w", err)
		}
		return store, nil
	case "minio":
		m := a.cfg.Storage.MinIO
		a.logger.Info("using MinIO storage backend", zap.String("endpoint", m.Endpoint), zap.String("bucket", m.Bucket))
		store, err := miniostorage.New(miniostorage.Config{
			Endpoint:  m.Endpoint,
			AccessKey: m.AccessKey,
			SecretKey: m.SecretKey,
			UseSSL:    m.UseSSL,
			Bucket:    m.Bucket,
			Region:    m.Region,
		})
		if err != nil {
			return nil, fmt.Errorf("minio blob store init failed: %w", err)
		}
		if err := store.EnsureBucket(ctx); err != nil {
			return nil, fmt.Errorf("minio bucket init failed: %w", err)
		}
		return store, nil
	case "memory":
		a.logger.Info("using in-memory storage backend")
		return memoryStorage.NewBlobStore(), nil
	default:
		a.logger.Info("using local storage backend", zap.String("path", a.cfg.Storage.Local.Dir))
		store, err := localstorage.New(localstorage.Config{BaseDir: a.cfg.Storage.Local.Dir})
		if err != nil {
			return nil, fmt.Errorf("local blob store init failed: %w", err)
		}
		return store, nil
	}
}

func (a *App) setupIndex(ctx context.Context) (frame.ArtifactIndex, error) {
	if a.cfg.Index.DSN == "" {
		a.logger.Info("no index DSN configured, keeping recent artifacts in memory",
			zap.Int("retention", a.cfg.Storage.Memory.Retention))
		return memoryStorage.NewArtifactIndex(a.cfg.Storage.Memory.Retention), nil
	}
	store, err := pgstore.NewArtifactStore(ctx, pgstore.ArtifactStoreConfig{
		DSN:             a.cfg.Index.DSN,
		Table:           a.cfg.Index.Table,
		MaxConns:        a.cfg.Index.MaxConns,
		MinConns:        a.cfg.Index.MinConns,
		MaxConnLifetime: a.cfg.Index.MaxConnLifetime,
	})
	if err != nil {
		return nil, fmt.Errorf("artifact index init failed: %w", err)
	}
	a.addCloser("artifact index", func() error {
		store.Close()
		return nil
	})
	if err := store.EnsureSchema(ctx); err != nil {
		return nil, fmt.Errorf("artifact index schema failed: %w", err)
	}
	a.logger.Info("artifact index initialized", zap.String("table", a.cfg.Index.Table))
	return store, nil
}

// setupPublisher installs the notification backend and returns the topic workers publish to.
func (a *App) setupPublisher(ctx context.Context) (string, error) {
	n := a.cfg.Notify
	encoding, err := publisher.ParseEncoding(n.Encoding)
	if err != nil {
		return "", fmt.Errorf("notify encoding: %w", err)
	}
	switch n.Backend {
	case "pubsub":
		client, err := pubsub.NewClient(ctx, n.PubSub.ProjectID)
		if err != nil {
			return "", fmt.Errorf("pubsub client init failed: %w", err)
		}
		a.addCloser("pubsub client", client.Close)
		p := gcppublisher.New(client.Topic(n.PubSub.TopicName), encoding)
		a.addCloser("pubsub publisher", p.Close)
		a.publisher = p
		a.logger.Info("Pub/Sub publisher initialized",
			zap.String("project", n.PubSub.ProjectID),
			zap.String("topic", n.PubSub.TopicName),
		)
		return n.PubSub.TopicName, nil
	case "amqp":
		p, conn, err := amqppublisher.Dial(n.AMQP.URL, amqppublisher.Config{
			Exchange:   n.AMQP.Exchange,
			RoutingKey: n.AMQP.RoutingKey,
			Encoding:   encoding,
		})
		if err != nil {
			return "", fmt.Errorf("amqp publisher init failed: %w", err)
		}
		a.addCloser("amqp connection", conn.Close)
		a.addCloser("amqp channel", p.Close)
		a.publisher = p
		a.logger.Info("AMQP publisher initialized", zap.String("exchange", n.AMQP.Exchange))
		if n.AMQP.RoutingKey != "" {
			return n.AMQP.RoutingKey, nil
		}
		return n.Topic, nil
	case "memory":
		a.publisher = memorypublisher.New()
		a.logger.Info("using in-memory publisher")
		return n.Topic, nil
	default:
		a.logger.Info("artifact notifications disabled")
		return "", nil
	}
}

func (a *App) addCloser(name string, fn func() error) {
	a.closers = append(a.closers, namedCloser{name: name, close: fn})
}

// Listen binds the configured address. Run calls it when it has not been called yet.
func (a *App) Listen() (net.Addr, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.listener != nil {
		return a.listener.Addr(), nil
	}
	ln, err := net.Listen("tcp", a.cfg.Server.Addr())
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", a.cfg.Server.Addr(), err)
	}
	a.listener = ln
	return ln.Addr(), nil
}

// Queue exposes the frame queue for diagnostics.
func (a *App) Queue() *queueMemory.Queue {
	return a.queue
}

// BlobStore exposes the configured artifact store.
func (a *App) BlobStore() frame.BlobStore {
	return a.blobStore
}

// Publisher exposes the configured notification publisher, which may be nil.
func (a *App) Publisher() frame.Publisher {
	return a.publisher
}

// Run starts the pool and the HTTP server, then blocks until ctx is canceled or a signal arrives.
// It returns after the shutdown sequence completes.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	addr, err := a.Listen()
	if err != nil {
		return err
	}

	// Workers are running before any shutdown path can call Drain.
	a.dispatch.Start(context.WithoutCancel(ctx))
	a.logger.Info("dispatcher started", zap.Int("workers", a.dispatch.Size()))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.dispatch.Wait()
		a.logger.Info("dispatcher stopped")
		return nil
	})
	g.Go(func() error {
		a.logger.Info("http server started", zap.String("addr", addr.String()), zap.Bool("tls", a.cfg.Server.TLSEnabled()))
		var serveErr error
		if a.cfg.Server.TLSEnabled() {
			serveErr = a.httpServer.ServeTLS(a.listener, a.cfg.Server.TLSCertFile, a.cfg.Server.TLSKeyFile)
		} else {
			serveErr = a.httpServer.Serve(a.listener)
		}
		if serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", serveErr)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		return a.shutdown()
	})
	if err := g.Wait(); err != nil {
		return err
	}
	return nil
}

func (a *App) shutdown() error {
	a.logger.Info("shutdown initiated")
	a.apiServer.SetReady(false)

	var errs []error
	httpCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Shutdown.Timeout)
	defer cancel()
	if err := a.httpServer.Shutdown(httpCtx); err != nil {
		errs = append(errs, fmt.Errorf("server shutdown: %w", err))
	}
	if err := a.ingestor.Close(httpCtx); err != nil {
		errs = append(errs, fmt.Errorf("ingestor close: %w", err))
	}

	pending := a.queue.Len()
	drainCtx, cancelDrain := context.WithTimeout(context.Background(), a.cfg.Shutdown.DrainTimeout)
	defer cancelDrain()
	if err := a.dispatch.Drain(drainCtx); err != nil {
		a.logger.Warn("queue drain incomplete", zap.Error(err))
	} else {
		a.logger.Info("queue drained", zap.Int("frames", pending), zap.Uint64("dropped_total", a.queue.Dropped()))
	}

	if err := a.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Close releases outbound clients and telemetry. It is safe to call more than once.
func (a *App) Close() error {
	var err error
	a.closeOnce.Do(func() {
		a.mu.Lock()
		if a.listener != nil {
			// Serve closes the listener on Shutdown; this covers Listen without Run.
			_ = a.listener.Close()
		}
		a.mu.Unlock()
		err = a.closeResources()
		if a.telemetry != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if tErr := a.telemetry.Shutdown(ctx); tErr != nil {
				a.logger.Warn("telemetry shutdown failed", zap.Error(tErr))
			}
		}
		a.logger.Info("shutdown complete")
		if syncErr := a.logger.Sync(); syncErr != nil && !isIgnorableSyncError(syncErr) {
			a.logger.Warn("logger sync failed", zap.Error(syncErr))
		}
	})
	return err
}

func (a *App) closeResources() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		c := a.closers[i]
		if err := c.close(); err != nil {
			a.logger.Warn("close failed", zap.String("resource", c.name), zap.Error(err))
			errs = append(errs, fmt.Errorf("close %s: %w", c.name, err))
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// isIgnorableSyncError filters the EINVAL/ENOTTY zap reports when stderr is a terminal.
func isIgnorableSyncError(err error) bool {
	return errors.Is(err, syscall.EINVAL) || errors.Is(err, syscall.ENOTTY) || errors.Is(err, io.ErrClosedPipe)
}
