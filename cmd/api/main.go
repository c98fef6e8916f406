package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"backend-yatube/internal/config"
	"backend-yatube/internal/db"
	"backend-yatube/internal/events"
	"backend-yatube/internal/logging"
	"backend-yatube/internal/media"
	"backend-yatube/internal/posts"
	"backend-yatube/internal/server"

	"github.com/gofiber/fiber/v2"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

var mainDepsProvider = defaultDeps
var mainRunner = realMain

func main() {
	mainRunner(mainDepsProvider())
}

// Resources are the external connections handed to Run. Nil members disable
// the feature that needs them.
type Resources struct {
	Logger *logrus.Logger
	DB     *pgxpool.Pool
	Redis  *redis.Client
	Images *media.MinioStore
	Events *events.Publisher
}

type mainDeps struct {
	loadConfig      func() config.Config
	newLogger       func(level string) *logrus.Logger
	connectPostgres func(config.Config) (*pgxpool.Pool, error)
	connectRedis    func(config.Config) *redis.Client
	connectMedia    func(context.Context, config.Config) (*media.MinioStore, error)
	notify          func(chan<- os.Signal, ...os.Signal)
	run             func(context.Context, config.Config, Resources, <-chan os.Signal, ListenFunc) error
}

func defaultDeps() mainDeps {
	return mainDeps{
		loadConfig:      config.Load,
		newLogger:       logging.New,
		connectPostgres: db.ConnectPostgres,
		connectRedis:    db.ConnectRedis,
		connectMedia:    connectMedia,
		notify:          signal.Notify,
		run:             Run,
	}
}

func realMain(deps mainDeps) {
	cfg := deps.loadConfig()
	logger := deps.newLogger(cfg.LogLevel)
	res := Resources{Logger: logger}

	pg, err := deps.connectPostgres(cfg)
	if err != nil {
		logger.WithError(err).Error("postgres connection failed")
	}
	res.DB = pg
	res.Redis = deps.connectRedis(cfg)

	if cfg.S3Endpoint != "" {
		store, err := deps.connectMedia(context.Background(), cfg)
		if err != nil {
			logger.WithError(err).Error("object storage unavailable, image uploads disabled")
		}
		res.Images = store
	}

	if brokers := events.ParseBrokers(cfg.KafkaBrokers); len(brokers) > 0 {
		res.Events = events.NewPublisher(brokers, cfg.KafkaPostsTopic, logger)
	}

	signals := make(chan os.Signal, 1)
	deps.notify(signals, syscall.SIGINT, syscall.SIGTERM)

	if err := deps.run(context.Background(), cfg, res, signals, nil); err != nil {
		logger.WithError(err).Error("server exited with error")
	}
}

func connectMedia(ctx context.Context, cfg config.Config) (*media.MinioStore, error) {
	store, err := media.NewMinioStore(media.Config{
		Endpoint:  cfg.S3Endpoint,
		AccessKey: cfg.S3AccessKey,
		SecretKey: cfg.S3SecretKey,
		Bucket:    cfg.S3Bucket,
		UseSSL:    cfg.S3UseSSL,
	})
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := store.EnsureBucket(ctx); err != nil {
		return nil, err
	}
	return store, nil
}

type ListenFunc func(app *fiber.App, addr string) error

var defaultListen ListenFunc = func(app *fiber.App, addr string) error {
	return app.Listen(addr)
}

var shutdownFn = func(app *fiber.App, ctx context.Context) error {
	return app.ShutdownWithContext(ctx)
}

var migrateFn = db.Migrate

// Run starts the HTTP server and waits for termination signals.
func Run(ctx context.Context, cfg config.Config, res Resources, signals <-chan os.Signal, listen ListenFunc) error {
	logger := res.Logger
	if logger == nil {
		logger = logging.New(cfg.LogLevel)
	}

	if cfg.AutoMigrate && res.DB != nil {
		if err := migrateFn(ctx, res.DB); err != nil {
			return err
		}
		logger.Info("schema applied")
	}

	opts := server.Options{Logger: logger}
	if res.Images != nil {
		opts.ImageStore = res.Images
	}
	if res.Events != nil {
		opts.Notifiers = []posts.Notifier{res.Events}
	}

	var q db.Querier
	if res.DB != nil {
		q = res.DB
	}
	srv := server.NewServer(cfg, q, res.Redis, opts)

	if listen == nil {
		listen = defaultListen
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- listen(srv.App, cfg.ServerPort)
	}()

	select {
	case <-signals:
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			srv.Close()
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := shutdownFn(srv.App, shutdownCtx)
	srv.Close()
	if res.Events != nil {
		if cerr := res.Events.Close(); cerr != nil {
			logger.WithError(cerr).Warn("kafka writer close failed")
		}
	}
	if res.DB != nil {
		res.DB.Close()
	}
	if res.Redis != nil {
		_ = res.Redis.Close()
	}
	return err
}
