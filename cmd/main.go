package main

import (
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/threadvault/threadvault/config"
	"github.com/threadvault/threadvault/internal/pkg/cache"
	"github.com/threadvault/threadvault/internal/pkg/kafka"
	"github.com/threadvault/threadvault/internal/pkg/workerpool"
	"github.com/threadvault/threadvault/internal/repository"
	"github.com/threadvault/threadvault/internal/service"
	"github.com/threadvault/threadvault/internal/storage"
	logger "github.com/threadvault/threadvault/middleware/log"
	"github.com/threadvault/threadvault/utils/snowflake"
)

func main() {
	cfg, err := config.LoadConfig("./config.toml")
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	zlog, err := logger.NewLogger(&cfg.Logging)
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer zlog.Close()

	dsn := storage.BuildDSN(cfg.Postgres.Host, cfg.Postgres.Port, cfg.Postgres.User, cfg.Postgres.Password, cfg.Postgres.DBName)
	db, err := storage.InitPostgres(dsn, cfg.Postgres.MaxIdleConns, cfg.Postgres.MaxOpenConns)
	if err != nil {
		zlog.Fatal("failed to init postgres", zap.Error(err))
	}

	redisClient, err := storage.InitRedis(&cfg.Redis)
	if err != nil {
		zlog.Fatal("failed to init redis", zap.Error(err))
	}
	defer redisClient.Close()

	messageRepo := repository.NewMessageRepository(db)
	historyRepo := repository.NewHistoryRepository(db)
	notificationRepo := repository.NewNotificationRepository(db)

	readCache := cache.NewRedisCache(redisClient)

	// The event stream is optional: without Kafka the core still runs,
	// notifications just stay in-process.
	var publisher service.EventPublisher
	if len(cfg.Kafka.Brokers) > 0 {
		producer, err := kafka.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		if err != nil {
			zlog.Warn("kafka unavailable, running without event stream", zap.Error(err))
		} else {
			defer producer.Close()
			publisher = producer
		}
	}

	pool := workerpool.New(cfg.WorkerPool.Size, cfg.WorkerPool.QueueSize, zlog)
	pool.Start()
	defer pool.Stop()

	notifier := service.NewNotifier(notificationRepo, pool, publisher, zlog)

	snowflakeGen, err := snowflake.NewGenerator(snowflake.Config{
		WorkerID:     cfg.Snowflake.WorkerID,
		DatacenterID: cfg.Snowflake.DatacenterID,
	})
	if err != nil {
		zlog.Fatal("failed to build id generator", zap.Error(err))
	}

	app := &App{
		Messages: service.NewMessageService(
			messageRepo,
			historyRepo,
			notifier,
			readCache,
			snowflakeGen,
			cfg.Messaging,
			time.Duration(cfg.Cache.TTLSeconds)*time.Second,
			zlog,
		),
		Notifications: service.NewNotificationService(notificationRepo),
		log:           zlog,
	}

	zlog.Info("threadvault core ready",
		zap.Int("workers", cfg.WorkerPool.Size),
		zap.Int("cache_ttl_seconds", cfg.Cache.TTLSeconds))

	app.Run()
}

// App is the composition root. A request-handling layer embeds it and
// calls into the two service surfaces.
type App struct {
	Messages      service.IMessageService
	Notifications service.INotificationService

	log *logger.Logger
}

// Run holds the process open until asked to stop. Deferred cleanup in
// main drains the fan-out workers on the way out.
func (a *App) Run() {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	a.log.Info("shutting down, draining fan-out workers")
}
