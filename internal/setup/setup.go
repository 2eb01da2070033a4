// Package setup bootstraps the shared dependencies of every cherry process.
package setup

import (
	"context"
	"fmt"
	"log"

	"github.com/cherryfeed/cherry/internal/cache"
	"github.com/cherryfeed/cherry/internal/database"
	"github.com/cherryfeed/cherry/internal/digest"
	"github.com/cherryfeed/cherry/internal/persona"
	"github.com/cherryfeed/cherry/internal/queue"
	"github.com/cherryfeed/cherry/internal/ratelimit"
	"github.com/cherryfeed/cherry/internal/redis"
	"github.com/cherryfeed/cherry/internal/setup/config"
	"github.com/cherryfeed/cherry/internal/setup/telemetry"
	"github.com/cherryfeed/cherry/internal/summarize"
	"github.com/cherryfeed/cherry/internal/summarize/llm"
	"github.com/cherryfeed/cherry/internal/watchlist"
	"github.com/cherryfeed/cherry/internal/worker/core"
	"github.com/redis/rueidis"
	"go.uber.org/zap"
)

// App bundles the core dependencies and services of a process.
type App struct {
	Config       *config.Config
	Logger       *zap.Logger
	DBLogger     *zap.Logger
	DB           database.Client
	RedisManager *redis.Manager
	Cache        *cache.Layer
	Monitor      *core.Monitor
	Queue        *queue.Manager
	Limiter      *ratelimit.Limiter
	Memo         *summarize.Memo
	Pipeline     *summarize.Pipeline
	Watchlists   *watchlist.Service
	Personas     *persona.Service
	Digests      *digest.Service
	LogManager   *telemetry.Manager
}

// InitializeApp loads the configuration and wires every subsystem in
// dependency order. The suffix names the process inside its service type.
func InitializeApp(ctx context.Context, serviceType telemetry.ServiceType, logDir, suffix string) (*App, error) {
	cfg, configDir, err := config.LoadConfig()
	if err != nil {
		return nil, err
	}

	// Logging comes first to capture setup issues
	logManager := telemetry.NewManager(serviceType, logDir, &cfg.Common.Debug, suffix)

	logger, dbLogger, err := logManager.GetLoggers()
	if err != nil {
		return nil, err
	}

	logger.Info("Loaded configuration", zap.String("configDir", configDir))

	db, err := database.NewConnection(ctx, &cfg.Common.PostgreSQL, dbLogger)
	if err != nil {
		logManager.Close()
		return nil, err
	}

	app := Build(cfg, db, redis.NewManager(&cfg.Common.Redis, logger), logger)
	app.DBLogger = dbLogger
	app.LogManager = logManager

	return app, nil
}

// Build wires the services over an open database and Redis manager.
func Build(cfg *config.Config, db database.Client, redisManager *redis.Manager, logger *zap.Logger) *App {
	repo := db.Model()

	layer := cache.New(redisManager.ClientOrNil(redis.CacheDBIndex), logger)
	if !layer.Available() {
		logger.Warn("Redis is unavailable, running without the cache layer")
	}

	var statusClient rueidis.Client
	if c, err := redisManager.GetClient(redis.WorkerStatusDBIndex); err == nil {
		statusClient = c
	}

	jobs := queue.NewManager(redisManager.ClientOrNil(redis.CacheDBIndex), repo.Job(), logger)
	jobs.SetMaxAttempts(cfg.Worker.MaxAttempts)

	digestCfg := &cfg.Common.Digest

	limiter := ratelimit.New(layer)
	memo := summarize.NewMemo(layer, summarize.DefaultMemoTTL)

	var collaborator summarize.Summarizer
	if cfg.Common.OpenAI.APIKey != "" {
		collaborator = llm.New(&cfg.Common.OpenAI, cfg.Common.Retry, logger)
	}
	pipeline := summarize.New(collaborator, logger)

	invalidator := digest.NewInvalidator(layer, repo.DigestCache(), logger)
	watchlists := watchlist.NewService(repo.Watchlist(), layer, invalidator, config.Seconds(digestCfg.WatchlistTTL), logger)
	personas := persona.NewService(repo.Persona(), layer, config.Seconds(digestCfg.PersonaTTL), logger)

	digests := digest.NewService(digest.Dependencies{
		Candidates: repo.Content(),
		Store:      repo.DigestCache(),
		Watchlists: watchlists,
		Personas:   personas,
		Summarizer: pipeline,
		Cache:      layer,
		Memo:       memo,
		Limiter:    limiter,
	}, digest.OptionsFromConfig(digestCfg), logger)

	return &App{
		Config:       cfg,
		Logger:       logger,
		DBLogger:     logger,
		DB:           db,
		RedisManager: redisManager,
		Cache:        layer,
		Monitor:      core.NewMonitor(statusClient, logger),
		Queue:        jobs,
		Limiter:      limiter,
		Memo:         memo,
		Pipeline:     pipeline,
		Watchlists:   watchlists,
		Personas:     personas,
		Digests:      digests,
	}
}

// Cleanup shuts components down in reverse initialization order. Errors are
// logged so every component gets its attempt.
func (a *App) Cleanup() {
	if err := a.Logger.Sync(); err != nil {
		log.Printf("Failed to sync logger: %v", err)
	}

	if err := a.DB.Close(); err != nil {
		log.Printf("Failed to close database connection: %v", err)
	}

	// Redis goes last as other components might need it during cleanup
	a.RedisManager.Close()

	if a.LogManager != nil {
		a.LogManager.Close()
	}
}

// HealthCheck reports whether the system of record answers. The cache is
// reported separately since the engine runs without it.
func (a *App) HealthCheck(ctx context.Context) (dbOK, cacheOK bool, err error) {
	if pingErr := a.DB.Ping(ctx); pingErr != nil {
		err = fmt.Errorf("database ping failed: %w", pingErr)
	} else {
		dbOK = true
	}

	return dbOK, a.Cache.HealthCheck(ctx), err
}
