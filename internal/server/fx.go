// Package server provides the core application server and dependency wiring.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"github.com/jackc/pgx/v5/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/JakeFAU/newsletter-archive/internal/api"
	"github.com/JakeFAU/newsletter-archive/internal/challenge"
	"github.com/JakeFAU/newsletter-archive/internal/clock/system"
	"github.com/JakeFAU/newsletter-archive/internal/config"
	"github.com/JakeFAU/newsletter-archive/internal/dispatcher"
	"github.com/JakeFAU/newsletter-archive/internal/enricher"
	"github.com/JakeFAU/newsletter-archive/internal/feed"
	collyfetcher "github.com/JakeFAU/newsletter-archive/internal/fetcher/colly"
	"github.com/JakeFAU/newsletter-archive/internal/hash/sha256"
	"github.com/JakeFAU/newsletter-archive/internal/id/uuid"
	"github.com/JakeFAU/newsletter-archive/internal/ingest"
	redislock "github.com/JakeFAU/newsletter-archive/internal/lock/redis"
	"github.com/JakeFAU/newsletter-archive/internal/logging"
	"github.com/JakeFAU/newsletter-archive/internal/metrics"
	"github.com/JakeFAU/newsletter-archive/internal/newsletter"
	"github.com/JakeFAU/newsletter-archive/internal/notify"
	"github.com/JakeFAU/newsletter-archive/internal/parser"
	"github.com/JakeFAU/newsletter-archive/internal/policy/ratelimit"
	"github.com/JakeFAU/newsletter-archive/internal/policy/retry"
	"github.com/JakeFAU/newsletter-archive/internal/push/webpush"
	queueMemory "github.com/JakeFAU/newsletter-archive/internal/queue/memory"
	queuePubsub "github.com/JakeFAU/newsletter-archive/internal/queue/pubsub"
	"github.com/JakeFAU/newsletter-archive/internal/reconcile"
	"github.com/JakeFAU/newsletter-archive/internal/scheduler"
	gcsstorage "github.com/JakeFAU/newsletter-archive/internal/storage/gcs"
	localstorage "github.com/JakeFAU/newsletter-archive/internal/storage/local"
	memoryStorage "github.com/JakeFAU/newsletter-archive/internal/storage/memory"
	pgstore "github.com/JakeFAU/newsletter-archive/internal/storage/postgres"
	"github.com/JakeFAU/newsletter-archive/internal/worker"
)

// maxTaskBackoffFactor caps task backoff at this multiple of ingest.task_backoff.
const maxTaskBackoffFactor = 8

// App contains the application's dependencies.
type App struct {
	cfg    *config.Config
	logger *zap.Logger

	clock newsletter.Clock
	ids   newsletter.IDGenerator

	issues        newsletter.IssueStore
	subscriptions newsletter.SubscriptionStore
	blobs         newsletter.BlobStore
	guard         ingest.Guard
	notifier      *notify.Notifier
	service       *ingest.Service

	queue      newsletter.Queue
	closeQueue func()
	dispatch   *dispatcher.Dispatcher
	schedule   *scheduler.Scheduler
	apiServer  *api.Server

	pool         *pgxpool.Pool
	storage      *storage.Client
	pubsubClient *pubsub.Client
	redis        *goredis.Client
}

// NewApp creates a new App with the given configuration.
func NewApp(cfg *config.Config, logger *zap.Logger) (*App, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	// Only non-sensitive fields are logged.
	type sanitizedConfig struct {
		ServerPort     int    `json:"server_port"`
		StorageBackend string `json:"storage_backend"`
		QueueBackend   string `json:"queue_backend"`
		Database       bool   `json:"database"`
		PushEnabled    bool   `json:"push_enabled"`
	}
	safeCfg := sanitizedConfig{
		ServerPort:     cfg.Server.Port,
		StorageBackend: cfg.Storage.Backend,
		QueueBackend:   cfg.Queue.Backend,
		Database:       cfg.DB.DSN != "",
		PushEnabled:    cfg.Push.Enabled,
	}
	logger.Info("creating application", zap.Any("config", safeCfg))
	return &App{
		cfg:    cfg,
		logger: logger,
		clock:  system.New(),
		ids:    uuid.New(),
	}, nil
}

// Logger returns the application logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Ingester runs ingestion and detail sweeps.
type Ingester interface {
	RunIngestion(ctx context.Context) (ingest.Result, error)
	RetryMissingDetails(ctx context.Context) (ingest.RetryResult, error)
}

// Ingest returns the ingestion service used by every trigger.
func (a *App) Ingest() Ingester {
	return a.service
}

// Handler returns the HTTP handler.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// Run starts the HTTP server, the dispatcher and the scheduler, and blocks
// until the context is canceled or a termination signal arrives.
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("application started")
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		a.logger.Info("dispatcher started")
		a.dispatch.Run(ctx)
	}()

	if a.schedule != nil {
		go func() {
			if err := a.schedule.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				a.logger.Error("scheduler stopped", zap.Error(err))
			}
		}()
	} else {
		a.logger.Info("scheduled ingestion disabled")
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout())
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}

	return a.Close(shutdownCtx)
}

func (a *App) shutdownTimeout() time.Duration {
	if a.cfg.Server.ShutdownTimeout > 0 {
		return a.cfg.Server.ShutdownTimeout
	}
	return 10 * time.Second
}

// Close releases every client opened by Build. It is safe to call on a
// partially built App.
func (a *App) Close(_ context.Context) error {
	if a.closeQueue != nil {
		a.closeQueue()
	}
	a.closeInfrastructure()
	if err := a.logger.Sync(); err != nil {
		a.logger.Debug("logger sync failed", zap.Error(err))
	}
	a.logger.Info("shutdown complete")
	return nil
}

func (a *App) closeInfrastructure() {
	if a.pubsubClient != nil {
		if err := a.pubsubClient.Close(); err != nil {
			a.logger.Warn("pubsub client close failed", zap.Error(err))
		}
	}
	if a.storage != nil {
		if err := a.storage.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Warn("redis client close failed", zap.Error(err))
		}
	}
	if a.pool != nil {
		a.pool.Close()
	}
}

// Build creates the application's dependencies.
func Build(ctx context.Context, cfg *config.Config) (*App, error) {
	logger, err := logging.New(logging.Config{Development: cfg.Logging.Development, Level: cfg.Logging.Level})
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	zap.ReplaceGlobals(logger)
	return BuildWithLogger(ctx, cfg, logger)
}

// BuildWithLogger is Build with a caller-supplied logger.
func BuildWithLogger(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	app, err := NewApp(cfg, logging.OrNop(logger))
	if err != nil {
		return nil, fmt.Errorf("app init failed: %w", err)
	}
	metrics.Init()
	app.logger.Info("building application dependencies")

	steps := []func(context.Context, *App) error{
		setupDatabase,
		setupStorage,
		setupGuard,
		setupNotifier,
		setupIngest,
		setupQueue,
		setupDispatcher,
		setupAPI,
	}
	for _, step := range steps {
		if err := step(ctx, app); err != nil {
			_ = app.Close(ctx)
			return nil, err
		}
	}
	return app, nil
}

func setupDatabase(ctx context.Context, app *App) error {
	if app.cfg.DB.DSN == "" {
		app.logger.Warn("no database DSN configured, using in-memory stores")
		app.issues = memoryStorage.NewIssueStore()
		app.subscriptions = memoryStorage.NewSubscriptionStore(app.clock)
		return nil
	}
	if app.cfg.DB.AutoMigrate {
		if err := pgstore.Migrate(ctx, app.cfg.DB.DSN); err != nil {
			return fmt.Errorf("database migration failed: %w", err)
		}
		app.logger.Info("database migrations applied")
	}
	var err error
	app.pool, err = pgstore.Connect(ctx, pgstore.Config{
		DSN:      app.cfg.DB.DSN,
		MaxConns: int32(app.cfg.DB.MaxOpenConns), //nolint:gosec // bounded by config validation
	})
	if err != nil {
		return fmt.Errorf("database init failed: %w", err)
	}
	issues, err := pgstore.NewIssueStore(app.pool)
	if err != nil {
		return fmt.Errorf("issue store init failed: %w", err)
	}
	subs, err := pgstore.NewSubscriptionStore(app.pool)
	if err != nil {
		return fmt.Errorf("subscription store init failed: %w", err)
	}
	app.issues, app.subscriptions = issues, subs
	app.logger.Info("postgres stores initialized", zap.Int("max_conns", app.cfg.DB.MaxOpenConns))
	return nil
}

func setupStorage(ctx context.Context, app *App) error {
	var err error
	switch app.cfg.Storage.Backend {
	case "gcs":
		app.logger.Info("using GCS snapshot storage")
		app.storage, err = storage.NewClient(ctx)
		if err != nil {
			return fmt.Errorf("gcs client init failed: %w", err)
		}
		app.blobs, err = gcsstorage.New(app.storage, gcsstorage.Config{Bucket: app.cfg.Storage.GCSBucket})
		if err != nil {
			return fmt.Errorf("gcs blob store init failed: %w", err)
		}
		app.logger.Debug("GCS snapshot storage", zap.String("bucket", app.cfg.Storage.GCSBucket))
	case "local":
		app.logger.Info("using local snapshot storage")
		app.blobs, err = localstorage.New(localstorage.Config{BaseDir: app.cfg.Storage.LocalDir})
		if err != nil {
			return fmt.Errorf("local blob store init failed: %w", err)
		}
		app.logger.Debug("local snapshot storage", zap.String("path", app.cfg.Storage.LocalDir))
	default:
		app.logger.Info("using in-memory snapshot storage")
		app.blobs = memoryStorage.NewBlobStore()
	}
	return nil
}

func setupGuard(ctx context.Context, app *App) error {
	if app.cfg.Lock.RedisAddr == "" {
		app.logger.Info("using in-process run guard")
		app.guard = ingest.NewLocalGuard()
		return nil
	}
	app.redis = goredis.NewClient(&goredis.Options{Addr: app.cfg.Lock.RedisAddr})
	if err := app.redis.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	lock, err := redislock.New(app.redis, app.ids, redislock.Config{
		Key: app.cfg.Lock.Key,
		TTL: app.cfg.Lock.TTL,
	}, app.logger)
	if err != nil {
		return fmt.Errorf("run lock init failed: %w", err)
	}
	app.guard = lock
	app.logger.Info("using redis run lock", zap.String("addr", app.cfg.Lock.RedisAddr), zap.String("key", app.cfg.Lock.Key))
	return nil
}

func setupNotifier(_ context.Context, app *App) error {
	var sender newsletter.PushSender
	if app.cfg.Push.Enabled {
		webSender, err := webpush.New(webpush.Config{
			VAPIDPublicKey:  app.cfg.Push.VAPIDPublicKey,
			VAPIDPrivateKey: app.cfg.Push.VAPIDPrivateKey,
			Subject:         app.cfg.Push.Subject,
			TTL:             app.cfg.Push.TTL,
			Urgency:         app.cfg.Push.Urgency,
		})
		if err != nil {
			return fmt.Errorf("web push init failed: %w", err)
		}
		sender = webSender
		app.logger.Info("web push enabled", zap.String("subject", app.cfg.Push.Subject))
	} else {
		app.logger.Warn("web push disabled, notifications are only logged")
		sender = logSender{logger: app.logger.Named("push")}
	}
	app.notifier = notify.New(app.subscriptions, sender, notify.Config{
		Icon:           app.cfg.Push.Icon,
		URL:            app.cfg.Site.URL,
		MaxConcurrency: app.cfg.Push.MaxConcurrency,
		Timeout:        app.cfg.Push.Timeout,
	}, app.logger)
	return nil
}

func setupIngest(_ context.Context, app *App) error {
	cfg := app.cfg
	headers := cfg.SourceHeaders()
	policy := retry.Policy{
		MaxRetries:       cfg.Retry.MaxRetries,
		BaseDelay:        cfg.Retry.BackoffInitial,
		MaxDelay:         cfg.Retry.BackoffMax,
		ChallengeRetries: cfg.Retry.ChallengeRetries,
		ChallengeDelay:   cfg.Retry.ChallengeDelay,
	}
	fetcher := collyfetcher.New(collyfetcher.Config{
		UserAgent: cfg.Source.UserAgent,
		Headers:   headers,
		Timeout:   cfg.Source.DetailTimeout,
		Detector:  challenge.New(cfg.Source.ChallengeMarkers),
	})
	app.logger.Info("using colly fetcher", zap.String("user_agent", cfg.Source.UserAgent))

	var pacer newsletter.Pacer
	if cfg.Source.MinInterval > 0 {
		pacer = ratelimit.New(ratelimit.Config{MinInterval: cfg.Source.MinInterval})
		app.logger.Info("upstream pacing enabled", zap.Duration("min_interval", cfg.Source.MinInterval))
	}

	listing, err := parser.NewListingParser(parser.Config{
		BaseURL:    cfg.Source.BaseURL,
		LinkPrefix: cfg.Source.LinkPrefix,
	}, app.logger)
	if err != nil {
		return fmt.Errorf("listing parser init failed: %w", err)
	}
	details := enricher.New(fetcher, pacer, policy, enricher.Config{
		Headers: headers,
		Timeout: cfg.Source.DetailTimeout,
	}, app.logger)
	reconciler := reconcile.New(app.issues, details, app.clock, reconcile.Config{BatchSize: cfg.Ingest.BatchSize}, app.logger)

	app.service, err = ingest.NewService(ingest.Deps{
		Fetcher:    fetcher,
		Pacer:      pacer,
		Policy:     policy,
		Parser:     listing,
		Store:      app.issues,
		Reconciler: reconciler,
		Notifier:   app.notifier,
		Guard:      app.guard,
		Blobs:      app.blobs,
		Hasher:     sha256.New(),
		Clock:      app.clock,
		IDs:        app.ids,
		Logger:     app.logger,
	}, ingest.Config{
		ArchiveURL:     cfg.Source.ArchiveURL,
		Headers:        headers,
		ListingTimeout: cfg.Source.ListingTimeout,
		RunTimeout:     cfg.Ingest.RunTimeout,
		Snapshot:       cfg.Ingest.Snapshot,
		SnapshotPrefix: cfg.Storage.Prefix,
	})
	if err != nil {
		return fmt.Errorf("ingest service init failed: %w", err)
	}
	app.logger.Info("ingest service ready",
		zap.String("archive_url", cfg.Source.ArchiveURL),
		zap.Int("batch_size", cfg.Ingest.BatchSize),
		zap.Bool("snapshot", cfg.Ingest.Snapshot))
	return nil
}

func setupQueue(ctx context.Context, app *App) error {
	if app.cfg.Queue.Backend != "pubsub" {
		q := queueMemory.NewQueue(app.cfg.Queue.Depth)
		app.queue, app.closeQueue = q, q.Close
		app.logger.Info("using in-memory task queue", zap.Int("depth", app.cfg.Queue.Depth))
		return nil
	}
	var err error
	app.pubsubClient, err = pubsub.NewClient(ctx, app.cfg.PubSub.ProjectID)
	if err != nil {
		return fmt.Errorf("pubsub client init failed: %w", err)
	}
	q, err := queuePubsub.New(app.pubsubClient, queuePubsub.Config{
		TopicID:        app.cfg.PubSub.TopicName,
		SubscriptionID: app.cfg.PubSub.SubscriptionID,
		MaxOutstanding: app.cfg.Ingest.Workers,
	}, app.logger)
	if err != nil {
		return fmt.Errorf("pubsub queue init failed: %w", err)
	}
	app.queue, app.closeQueue = q, q.Close
	app.logger.Info("using Pub/Sub task queue",
		zap.String("project", app.cfg.PubSub.ProjectID),
		zap.String("topic", app.cfg.PubSub.TopicName),
		zap.String("subscription", app.cfg.PubSub.SubscriptionID))
	return nil
}

func setupDispatcher(_ context.Context, app *App) error {
	backoff := retry.Policy{
		BaseDelay: app.cfg.Ingest.TaskBackoff,
		MaxDelay:  app.cfg.Ingest.TaskBackoff * maxTaskBackoffFactor,
	}
	workerCfg := worker.Config{
		MaxAttempts: app.cfg.Ingest.MaxAttempts,
		Backoff: func(attempt int) time.Duration {
			return backoff.Backoff(attempt - 1)
		},
	}
	app.logger.Info("worker config",
		zap.Int("workers", app.cfg.Ingest.Workers),
		zap.Int("max_attempts", workerCfg.MaxAttempts),
		zap.Duration("task_backoff", app.cfg.Ingest.TaskBackoff))

	workers := make([]*worker.Worker, 0, app.cfg.Ingest.Workers)
	for i := 0; i < app.cfg.Ingest.Workers; i++ {
		workers = append(workers, worker.New(
			app.queue,
			app.service,
			workerCfg,
			app.logger.With(zap.Int("index", i)),
		))
	}
	app.dispatch = dispatcher.New(app.queue, workers, app.ids, app.clock)

	if app.cfg.Ingest.ScheduleEnabled {
		app.schedule = scheduler.New(app.dispatch, app.cfg.Ingest.Interval, app.logger)
	}
	return nil
}

func setupAPI(_ context.Context, app *App) error {
	app.apiServer = api.NewServer(api.Deps{
		Issues:        app.issues,
		Subscriptions: app.subscriptions,
		Subscriber:    app.notifier,
		Runner:        app.service,
		Tasks:         app.dispatch,
		Clock:         app.clock,
		Ready:         app.ready,
		Logger:        app.logger,
	}, api.Config{
		AuthEnabled:    app.cfg.Auth.Enabled,
		APIKey:         app.cfg.Auth.APIKey,
		RequestTimeout: app.cfg.Server.RequestTimeout,
		Site: feed.Site{
			Title:       app.cfg.Site.Title,
			URL:         app.cfg.Site.URL,
			Description: app.cfg.Site.Description,
		},
	})
	return nil
}

func (a *App) ready(ctx context.Context) error {
	if a.pool != nil {
		if err := a.pool.Ping(ctx); err != nil {
			return fmt.Errorf("postgres: %w", err)
		}
	}
	if a.redis != nil {
		if err := a.redis.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis: %w", err)
		}
	}
	return nil
}

// logSender stands in for Web Push when it is disabled.
type logSender struct {
	logger *zap.Logger
}

func (s logSender) Send(_ context.Context, sub newsletter.Subscription, payload []byte) error {
	s.logger.Info("push disabled, notification not sent",
		zap.Int64("subscription_id", sub.ID),
		zap.Int("payload_bytes", len(payload)))
	return nil
}
