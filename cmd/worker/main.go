package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/cherryfeed/cherry/internal/ingest"
	"github.com/cherryfeed/cherry/internal/queue"
	"github.com/cherryfeed/cherry/internal/setup"
	"github.com/cherryfeed/cherry/internal/setup/config"
	"github.com/cherryfeed/cherry/internal/setup/telemetry"
	"github.com/cherryfeed/cherry/internal/worker/jobs"
	"github.com/cherryfeed/cherry/internal/worker/pool"
	"github.com/urfave/cli/v3"
	"go.uber.org/zap"
)

const (
	// WorkerLogDir specifies where worker log files are stored.
	WorkerLogDir = "logs/worker_logs"

	// PoolWorker executes queued jobs.
	PoolWorker = "pool"

	// IngestWorker polls the configured feeds.
	IngestWorker = "ingest"
)

func main() {
	if err := run(); err != nil {
		log.Printf("Error: %v", err)
		os.Exit(1)
	}
}

func run() error {
	app := &cli.Command{
		Name:  "worker",
		Usage: "Start the cherry worker",
		Commands: []*cli.Command{
			{
				Name:  PoolWorker,
				Usage: "Start the job worker pool",
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:    "workers",
						Aliases: []string{"w"},
						Usage:   "Number of workers to start (defaults to the configured count)",
					},
				},
				Action: func(ctx context.Context, c *cli.Command) error {
					return runPool(ctx, int(c.Int("workers")))
				},
			},
			{
				Name:  IngestWorker,
				Usage: "Start the feed ingester",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "once",
						Usage: "Poll every feed once and exit",
					},
				},
				Action: func(ctx context.Context, c *cli.Command) error {
					return runIngest(ctx, c.Bool("once"))
				},
			},
		},
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return app.Run(ctx, os.Args)
}

// runPool starts the worker pool and blocks until the context ends.
func runPool(ctx context.Context, count int) error {
	app, err := setup.InitializeApp(ctx, telemetry.ServiceWorker, WorkerLogDir, PoolWorker)
	if err != nil {
		return err
	}
	defer app.Cleanup()

	opts := pool.OptionsFromConfig(&app.Config.Worker)
	if count > 0 {
		opts.Size = count
	}

	workerLogger := app.LogManager.GetWorkerLogger("pool")

	p := pool.New(app.Queue, app.DB.Model().Job(), app.Monitor, opts, workerLogger)
	p.OnPermanentFailure = func(job *queue.Job, err error) {
		workerLogger.Warn("Job dropped after final attempt",
			zap.String("jobID", job.ID),
			zap.String("type", job.Type.String()),
			zap.Error(err))
	}

	handlers := &jobs.Handlers{
		Digests:     app.Digests,
		Invalidator: app.Digests,
		Summarizer:  app.Pipeline,
		Memo:        app.Memo,
		Watchlists:  app.Watchlists,
		Logger:      workerLogger,
	}
	handlers.Register(p)

	p.Start(ctx)
	app.Logger.Info("Started worker pool", zap.Int("workers", opts.Size))

	<-ctx.Done()

	app.Logger.Info("Stopping worker pool...")
	p.Stop()
	app.Logger.Info("All workers have finished")

	return nil
}

// runIngest polls the feeds on the configured interval.
func runIngest(ctx context.Context, once bool) error {
	app, err := setup.InitializeApp(ctx, telemetry.ServiceWorker, WorkerLogDir, IngestWorker)
	if err != nil {
		return err
	}
	defer app.Cleanup()

	cfg := &app.Config.Worker.Ingest
	repo := app.DB.Model()

	ingester := ingest.New(
		ingest.NewHTTPFetcher(config.Millis(cfg.Timeout)),
		repo.Content(),
		repo.Watchlist(),
		app.Watchlists,
		app.Queue,
		ingest.OptionsFromConfig(cfg),
		app.LogManager.GetWorkerLogger("ingest"),
	)

	if once {
		stats := ingester.Poll(ctx)
		app.Logger.Info("Ingest finished",
			zap.Int("feeds", stats.Feeds),
			zap.Int("failed", stats.Failed),
			zap.Int("new", stats.New),
			zap.Int("pings", stats.Pings))
		return nil
	}

	app.Logger.Info("Started feed ingester", zap.Int("feeds", len(cfg.Feeds)))
	ingester.Run(ctx)

	return nil
}
