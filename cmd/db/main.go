package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/cherryfeed/cherry/internal/database"
	"github.com/cherryfeed/cherry/internal/database/migrations"
	"github.com/cherryfeed/cherry/internal/database/types/enum"
	"github.com/cherryfeed/cherry/internal/setup/config"
	"github.com/uptrace/bun/migrate"
	"github.com/urfave/cli/v3"
	"go.uber.org/zap"
)

const defaultFailureCount = 5

func main() {
	if err := run(); err != nil {
		log.Printf("Error: %v", err)
		os.Exit(1)
	}
}

// tool holds what every subcommand needs.
type tool struct {
	db       database.Client
	migrator *migrate.Migrator
	logger   *zap.Logger
}

func run() error {
	t, err := newTool()
	if err != nil {
		return fmt.Errorf("failed to set up cherry database tool: %w", err)
	}
	defer t.db.Close()

	return newApp(t).Run(context.Background(), os.Args)
}

// newApp wires the subcommands to t.
func newApp(t *tool) *cli.Command {
	return &cli.Command{
		Name:  "db",
		Usage: "Manage the cherry schema and stored digest state",
		Commands: []*cli.Command{
			{
				Name:  "init",
				Usage: "Create the bun migration bookkeeping tables",
				Action: func(ctx context.Context, _ *cli.Command) error {
					return t.migrator.Init(ctx)
				},
			},
			{
				Name:   "migrate",
				Usage:  "Apply pending schema migrations",
				Action: t.migrate,
			},
			{
				Name:   "rollback",
				Usage:  "Revert the most recently applied migration group",
				Action: t.rollback,
			},
			{
				Name:  "status",
				Usage: "Report schema version, stored digests, queued jobs and recent failures",
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:  "failures",
						Usage: "number of recent job failures to list",
						Value: defaultFailureCount,
					},
				},
				Action: t.status,
			},
			{
				Name:  "purge",
				Usage: "Delete digests past their expiry from the digest cache table",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "dry-run",
						Usage: "only count what would be deleted",
					},
				},
				Action: t.purge,
			},
		},
	}
}

func (t *tool) migrate(ctx context.Context, _ *cli.Command) error {
	if err := t.migrator.Lock(ctx); err != nil {
		return err
	}
	defer t.migrator.Unlock(ctx) //nolint:errcheck // -

	group, err := t.migrator.Migrate(ctx)
	if err != nil {
		return err
	}

	if group.IsZero() {
		t.logger.Info("Schema already at the latest migration")
		return nil
	}

	t.logger.Info("Applied migrations", zap.String("group", group.String()))
	return nil
}

func (t *tool) rollback(ctx context.Context, _ *cli.Command) error {
	if err := t.migrator.Lock(ctx); err != nil {
		return err
	}
	defer t.migrator.Unlock(ctx) //nolint:errcheck // -

	group, err := t.migrator.Rollback(ctx)
	if err != nil {
		return err
	}

	if group.IsZero() {
		t.logger.Info("Nothing applied, no group reverted")
		return nil
	}

	t.logger.Info("Reverted migration group", zap.String("group", group.String()))
	return nil
}

func (t *tool) status(ctx context.Context, c *cli.Command) error {
	ms, err := t.migrator.MigrationsWithStatus(ctx)
	if err != nil {
		return err
	}

	t.logger.Info("Schema",
		zap.Int("applied", len(ms.Applied())),
		zap.String("unapplied", ms.Unapplied().String()),
		zap.String("lastGroup", ms.LastGroup().String()))

	// Counting needs the tables, which an unmigrated schema lacks
	if len(ms.Unapplied()) > 0 {
		t.logger.Warn("Unapplied migrations, skipping digest and job counts")
		return nil
	}

	fresh, expired, err := t.db.Model().DigestCache().CountEntries(ctx, time.Now())
	if err != nil {
		return err
	}
	t.logger.Info("Stored digests", zap.Int("fresh", fresh), zap.Int("expired", expired))

	for _, jobType := range enum.JobTypeProcessingOrder() {
		queued, err := t.db.Model().Job().CountJobs(ctx, jobType)
		if err != nil {
			return err
		}
		t.logger.Info("Fallback queue", zap.String("jobType", jobType.String()), zap.Int("queued", queued))
	}

	failures, err := t.db.Model().Job().ListFailures(ctx, "", int(c.Int("failures")))
	if err != nil {
		return err
	}
	for _, failure := range failures {
		t.logger.Info("Job failure",
			zap.String("jobID", failure.JobID),
			zap.String("jobType", failure.JobType.String()),
			zap.Int("attempts", failure.Attempts),
			zap.Time("failedAt", failure.FailedAt),
			zap.String("error", failure.LastError))
	}

	return nil
}

func (t *tool) purge(ctx context.Context, c *cli.Command) error {
	now := time.Now()

	if c.Bool("dry-run") {
		_, expired, err := t.db.Model().DigestCache().CountEntries(ctx, now)
		if err != nil {
			return err
		}
		t.logger.Info("Expired digests eligible for purge", zap.Int("count", expired))
		return nil
	}

	removed, err := t.db.Model().DigestCache().PurgeExpired(ctx, now)
	if err != nil {
		return err
	}

	t.logger.Info("Purge finished", zap.Int64("removed", removed))
	return nil
}

// newTool connects without auto-migration so the subcommands control the schema.
func newTool() (*tool, error) {
	cfg, _, err := config.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := zap.NewDevelopment()
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	pgCfg := cfg.Common.PostgreSQL
	pgCfg.AutoMigrate = false

	db, err := database.NewConnection(context.Background(), &pgCfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	return &tool{
		db:       db,
		migrator: migrate.NewMigrator(db.DB(), migrations.Migrations),
		logger:   logger.Named("db_tool"),
	}, nil
}
