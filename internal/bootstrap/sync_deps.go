package bootstrap

import (
	"context"
	"strings"
	"time"

	"sync_server/adapter/out/apply"
	"sync_server/adapter/out/messaging"
	"sync_server/adapter/out/mongodb"
	"sync_server/adapter/out/persistence"
	"sync_server/config"
	"sync_server/core/port/out"
	"sync_server/core/service/conflict"
	"sync_server/core/service/dispatch"
	"sync_server/core/service/offline"
	"sync_server/core/service/queue"
	"sync_server/core/service/status"
	"sync_server/infra/database"
	"sync_server/pkg/cache"
	"sync_server/pkg/httputil"
	"sync_server/pkg/logger"
	"sync_server/pkg/metrics"
	"sync_server/pkg/retry"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib" // pgx driver for database/sql
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
)

type Dependencies struct {
	Config  *config.Config
	DB      *pgxpool.Pool
	SQLDB   *sqlx.DB
	Redis   *redis.Client
	MongoDB *mongo.Client

	// Repositories
	QueueRepo    out.QueueRepository
	ConflictRepo out.ConflictRepository
	StatusRepo   out.StatusRepository
	ReportRepo   out.ReportRepository

	// Outbound adapters
	Apply        out.ApplyPort
	Notifier     out.DeviceNotifierPort
	OfflineCache out.OfflineCachePort
	Producer     out.TriggerProducer

	// Services
	QueueService    *queue.Service
	StatusService   *status.Service
	ConflictService *conflict.Service
	DispatchService *dispatch.Service
	OfflineService  *offline.Service
}

func NewDependencies(cfg *config.Config) (*Dependencies, func(), error) {
	deps := &Dependencies{Config: cfg}
	var cleanups []func()

	// Database (pgxpool)
	db, err := database.NewPostgres(cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	deps.DB = db
	cleanups = append(cleanups, func() { db.Close() })

	// Schema migrations run before anything touches the tables.
	if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		db.Close()
		return nil, nil, err
	}

	// Database (sqlx for the persistence adapters)
	// Simple protocol avoids prepared statement conflicts with PgBouncer.
	logger.Debug("Connecting to database via sqlx...")
	sqlxURL := cfg.DatabaseURL
	if strings.Contains(sqlxURL, "?") {
		sqlxURL += "&default_query_exec_mode=simple_protocol"
	} else {
		sqlxURL += "?default_query_exec_mode=simple_protocol"
	}
	sqlDB, err := sqlx.Connect("pgx", sqlxURL)
	if err != nil {
		db.Close()
		return nil, nil, err
	}
	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetConnMaxLifetime(30 * time.Minute)
	sqlDB.SetConnMaxIdleTime(5 * time.Minute)

	deps.SQLDB = sqlDB
	cleanups = append(cleanups, func() { sqlDB.Close() })

	// Register with global pool monitor
	metrics.RegisterPool("postgres", sqlDB.DB)

	logger.Info("sqlx database connection successful (pool: max=%d, idle=%d)", 25, 10)

	// Redis
	if cfg.RedisURL != "" {
		redisClient, err := database.NewRedis(cfg.RedisURL)
		if err != nil {
			logger.Warn("Redis connection failed, running without cache and streams: %v", err)
		} else {
			deps.Redis = redisClient
			cleanups = append(cleanups, func() { redisClient.Close() })

			deps.Notifier = messaging.NewRedisDeviceNotifier(redisClient, cfg.NotifyStreamMax)
			deps.OfflineCache = messaging.NewRedisOfflineCache(cache.NewRedisCache(redisClient))
			deps.Producer = messaging.NewRedisProducer(redisClient)
			logger.Info("Redis initialized (device notify, offline cache, sync trigger stream)")
		}
	}

	// MongoDB (sync cycle report archive)
	if cfg.MongoDBURL != "" {
		mongoClient, err := mongodb.NewClient(cfg.MongoDBURL)
		if err != nil {
			logger.Warn("MongoDB connection failed, sync reports disabled: %v", err)
		} else {
			deps.MongoDB = mongoClient
			cleanups = append(cleanups, func() {
				mongoClient.Disconnect(context.Background())
			})

			reportAdapter := mongodb.NewReportAdapter(mongoClient.Database(cfg.MongoDBName))
			if err := reportAdapter.EnsureIndexes(context.Background()); err != nil {
				logger.Warn("Failed to ensure report indexes: %v", err)
			}
			deps.ReportRepo = reportAdapter
			logger.Info("MongoDB report archive initialized")
		}
	}

	// Repositories (Postgres)
	deps.QueueRepo = persistence.NewQueueAdapter(sqlDB)
	deps.ConflictRepo = persistence.NewConflictAdapter(sqlDB)
	deps.StatusRepo = persistence.NewStatusAdapter(sqlDB)

	// Apply backend
	applyCfg := httputil.DefaultClientConfig()
	applyCfg.ResponseTimeout = time.Duration(cfg.ApplyTimeoutSec) * time.Second
	deps.Apply = apply.NewHTTPApplyAdapter(cfg.ApplyBaseURL, applyCfg)

	// Services
	deps.QueueService = queue.NewService(deps.QueueRepo, deps.StatusRepo, cfg.SyncBatchSize)
	deps.StatusService = status.NewService(deps.StatusRepo, deps.QueueRepo)
	deps.ConflictService = conflict.NewService(deps.ConflictRepo)
	deps.OfflineService = offline.NewService(deps.OfflineCache, cfg.OfflineCacheTTL)
	deps.DispatchService = dispatch.NewService(
		deps.QueueService,
		deps.StatusService,
		deps.ConflictService,
		deps.Apply,
		deps.Notifier,
		deps.ReportRepo,
		retry.NewPolicy(),
		cfg.SyncMaxRetries,
	)

	cleanup := func() {
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
	}

	return deps, cleanup, nil
}

func (d *Dependencies) HealthCheck(ctx context.Context) error {
	if err := d.DB.Ping(ctx); err != nil {
		return err
	}
	if d.Redis != nil {
		if err := d.Redis.Ping(ctx).Err(); err != nil {
			return err
		}
	}
	return nil
}
