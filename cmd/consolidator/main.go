package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	mqcontracts "notifyqueue/contracts/mq"
	"notifyqueue/internal/compose"
	"notifyqueue/internal/config"
	"notifyqueue/internal/consolidation"
	"notifyqueue/internal/delivery"
	"notifyqueue/internal/directory"
	"notifyqueue/internal/handler"
	"notifyqueue/internal/httpserver"
	"notifyqueue/internal/mqhandler"
	"notifyqueue/internal/repository"
	"notifyqueue/internal/scheduler"
	"notifyqueue/pkg/db"
	"notifyqueue/pkg/logger"
	"notifyqueue/pkg/mq"
	"notifyqueue/pkg/outbox"
	"notifyqueue/pkg/redis"
	"notifyqueue/pkg/util"
)

type store interface {
	repository.NotificationStore
	repository.ContactStore
	Migrate(ctx context.Context) error
}

func main() {
	runOnce := flag.Bool("run-once", false, "run one consolidation pass and exit")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		// logger 依赖配置，这里只能用默认 logger
		logger.NewLogger().Fatal("Failed to load config", zap.Error(err))
	}

	log := logger.NewWithOptions(cfg.Log)
	defer log.Sync()

	log.Info("Starting notifyqueue consolidator...",
		zap.String("store", cfg.Store.Driver),
		zap.String("delivery", cfg.Delivery.Driver),
		zap.String("directory", cfg.Directory.Driver),
		zap.Bool("mq_enabled", cfg.MQ.Enabled),
		zap.Bool("redis_enabled", cfg.Redis.Enabled),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// MQ Publisher（可选）
	var publisher *mq.Publisher
	if cfg.MQ.Enabled {
		publisher, err = mq.NewPublisher(cfg.MQ.URL)
		if err != nil {
			log.Fatal("Failed to init MQ publisher", zap.Error(err))
		}
		defer publisher.Close()
	}

	// Store
	var (
		st         store
		outboxRepo *outbox.Repository
	)
	switch cfg.Store.Driver {
	case config.StoreDriverSQLite:
		if dir := filepath.Dir(cfg.Store.SQLitePath); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				log.Fatal("Failed to create sqlite directory", zap.Error(err))
			}
		}
		sqlDB, err := repository.OpenSQLite(cfg.Store.SQLitePath)
		if err != nil {
			log.Fatal("Failed to open sqlite store", zap.Error(err))
		}
		defer sqlDB.Close()
		st = repository.NewSQLiteNotificationRepository(sqlDB, log)
	default:
		log.Info("Initializing database connection...")
		pool, err := db.NewConnection(cfg.DB, log)
		if err != nil {
			log.Fatal("Failed to init DB", zap.Error(err))
		}
		defer pool.Close()
		pgRepo := repository.NewPostgresNotificationRepository(pool, log)
		if cfg.Outbox.Enabled {
			outboxRepo = outbox.NewRepository(pool)
			pgRepo = pgRepo.WithOutbox(outboxRepo)
		}
		st = pgRepo
	}
	if err := st.Migrate(ctx); err != nil {
		log.Fatal("Failed to migrate store", zap.Error(err))
	}
	log.Info("Store ready")

	// Redis（可选）：去重、重试计数、联系人缓存
	var rdb *goredis.Client
	if cfg.Redis.Enabled {
		rdb, err = redis.NewRedisClient(cfg.Redis)
		if err != nil {
			log.Fatal("Failed to init Redis", zap.Error(err))
		}
		defer rdb.Close()
	}

	// Directory
	var dir directory.Directory
	var contactCache handler.Invalidator
	switch cfg.Directory.Driver {
	case config.DirectoryDriverStatic:
		dir = directory.NewStaticDirectory(cfg.Directory.Static)
	default:
		dir = directory.NewStoreDirectory(st)
	}
	if rdb != nil {
		cached := directory.NewCachedDirectory(rdb, dir, cfg.Directory.CacheTTL, log)
		dir, contactCache = cached, cached
	}

	// Delivery adapter
	var relay delivery.Publisher
	if publisher != nil {
		relay = publisher
	}
	sender, err := delivery.New(cfg.Delivery, relay, log)
	if err != nil {
		log.Fatal("Failed to init delivery adapter", zap.Error(err))
	}

	compositor, err := compose.NewCompositor(cfg.Compose.Organization, cfg.Compose.Timezone)
	if err != nil {
		log.Fatal("Failed to init compositor", zap.Error(err))
	}
	engine := consolidation.NewEngine(st, dir, compositor, sender, log,
		consolidation.WithWorkers(cfg.Consolidation.Workers),
	)

	if *runOnce {
		summary, err := engine.Run(ctx, time.Now())
		if err != nil {
			log.Fatal("Consolidation run failed", zap.Error(err))
		}
		log.Info("Consolidation run finished", zap.Any("summary", summary))
		return
	}

	g, gctx := errgroup.WithContext(ctx)

	// Scheduler
	daily, err := scheduler.NewDaily(cfg.Scheduler, func(ctx context.Context, now time.Time) {
		if _, err := engine.Run(ctx, now); err != nil {
			log.Error("Scheduled consolidation run failed", zap.Error(err))
		}
	}, log)
	if err != nil {
		log.Fatal("Failed to init scheduler", zap.Error(err))
	}
	g.Go(func() error {
		daily.Start(gctx)
		return nil
	})

	// Outbox dispatcher
	if outboxRepo != nil && publisher != nil {
		dispatcher := outbox.NewDispatcher(outboxRepo, publisher, log).
			WithInterval(cfg.Outbox.Interval).
			WithBatchSize(cfg.Outbox.BatchSize)
		g.Go(func() error {
			dispatcher.Start(gctx)
			return nil
		})
	}

	// MQ Consumer for notification.requested
	var consumer *mq.Consumer
	if cfg.Intake.Enabled {
		var (
			deduper      mqhandler.Deduper
			retryCounter mqhandler.RetryCounter
		)
		if rdb != nil {
			deduper = util.NewDeduper(rdb, 24*time.Hour, log)
			retryCounter = util.NewRetryCounter(rdb, time.Hour)
		}
		requestedHandler := mqhandler.NewNotificationRequestedHandler(st, deduper, retryCounter, cfg.Intake.MaxRetries, log)

		log.Info("Initializing MQ consumer for notification.requested...",
			zap.String("queue", mqcontracts.QueueNotificationRequested),
			zap.String("routing_key", mqcontracts.RoutingKeyNotificationRequested),
		)
		consumer, err = mq.NewConsumer(cfg.MQ.URL, mqcontracts.QueueNotificationRequested, mqcontracts.RoutingKeyNotificationRequested, log)
		if err != nil {
			log.Fatal("Failed to init consumer", zap.Error(err))
		}
		defer consumer.Close()
		consumer.SetHandler(requestedHandler.Handle)

		g.Go(func() error {
			return consumer.StartConsuming(gctx)
		})
	}

	// HTTP Server
	log.Info("Initializing HTTP server...", zap.String("port", cfg.Server.Port))
	router := httpserver.NewRouter(log,
		handler.NewNotificationHandler(st, log),
		handler.NewMonitoringHandler(st, log),
		handler.NewConsolidationHandler(engine, log),
		handler.NewContactHandler(st, contactCache, log),
		cfg.JWT.Secret,
		st,
	)
	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           router.Engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	g.Go(func() error {
		log.Info("HTTP server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	log.Info("consolidator is fully initialized and running")

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case <-gctx.Done():
		log.Error("A component stopped unexpectedly", zap.Error(context.Cause(gctx)))
	}

	log.Info("Shutting down consolidator gracefully...")
	if consumer != nil {
		consumer.Stop()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown error", zap.Error(err))
	} else {
		log.Info("HTTP server stopped")
	}

	// 停止调度器和 dispatcher；进行中的收件人批次会提交，其余留到下一次运行
	cancel()
	if err := g.Wait(); err != nil {
		log.Error("Component exited with error", zap.Error(err))
	}

	log.Info("consolidator shutdown complete")
}
