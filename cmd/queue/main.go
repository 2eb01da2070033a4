package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/cherryfeed/cherry/internal/database/types/enum"
	"github.com/cherryfeed/cherry/internal/queue"
	"github.com/cherryfeed/cherry/internal/setup"
	"github.com/cherryfeed/cherry/internal/setup/telemetry"
	"github.com/urfave/cli/v3"
	"go.uber.org/zap"
)

// QueueLogDir specifies where queue log files are stored.
const QueueLogDir = "logs/queue_logs"

var (
	// ErrNoUsers indicates no user IDs were given.
	ErrNoUsers = errors.New("at least one user ID is required")
	// ErrWatchArgs indicates the watch command got the wrong arguments.
	ErrWatchArgs = errors.New("USER KIND VALUE arguments required")
	// ErrUnknownJobType indicates the --type flag named no job type.
	ErrUnknownJobType = errors.New("unknown job type")
)

func main() {
	if err := run(); err != nil {
		log.Printf("Error: %v", err)
		os.Exit(1)
	}
}

func run() error {
	app := &cli.Command{
		Name:  "queue",
		Usage: "Schedule and inspect background jobs",
		Commands: []*cli.Command{
			{
				Name:      "digest",
				Usage:     "Queue digest generation for users",
				ArgsUsage: "[USER...]",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "file",
						Aliases: []string{"f"},
						Usage:   "Read user IDs from a file, one per line",
					},
					&cli.IntFlag{
						Name:  "max-items",
						Usage: "Highlight limit of the generated digests",
					},
					&cli.DurationFlag{
						Name:  "since",
						Usage: "Start the window this long ago instead of at the last visit",
					},
				},
				Action: withApp(queueDigests),
			},
			{
				Name:      "watch",
				Usage:     "Queue a watchlist mutation",
				ArgsUsage: "USER KIND VALUE",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "action",
						Value: string(enum.WatchlistActionAdd),
						Usage: "add, update or remove",
					},
					&cli.FloatFlag{
						Name:  "weight",
						Usage: "Entry weight between 0 and 2",
					},
				},
				Action: withApp(queueWatch),
			},
			{
				Name:   "stats",
				Usage:  "Show queue lengths and worker status",
				Action: withApp(showStats),
			},
			{
				Name:  "failures",
				Usage: "List permanently failed jobs",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "type",
						Value: string(enum.JobTypeDigestGeneration),
						Usage: "Job type to list",
					},
					&cli.IntFlag{
						Name:  "limit",
						Value: 20,
						Usage: "Maximum failures to list",
					},
				},
				Action: withApp(showFailures),
			},
		},
	}

	return app.Run(context.Background(), os.Args)
}

// withApp initializes the application around a command action.
func withApp(action func(ctx context.Context, c *cli.Command, app *setup.App) error) cli.ActionFunc {
	return func(ctx context.Context, c *cli.Command) error {
		app, err := setup.InitializeApp(ctx, telemetry.ServiceCLI, QueueLogDir, c.Name)
		if err != nil {
			return fmt.Errorf("failed to initialize application: %w", err)
		}
		defer app.Cleanup()

		return action(ctx, c, app)
	}
}

func queueDigests(ctx context.Context, c *cli.Command, app *setup.App) error {
	users := c.Args().Slice()

	if path := c.String("file"); path != "" {
		fromFile, err := readUserIDs(path)
		if err != nil {
			return err
		}
		users = append(users, fromFile...)
	}

	if len(users) == 0 {
		return ErrNoUsers
	}

	var start *time.Time
	if since := c.Duration("since"); since > 0 {
		t := time.Now().Add(-since)
		start = &t
	}

	queued := 0
	for _, userID := range users {
		id, err := app.Queue.Enqueue(ctx, queue.DigestPayload{
			UserID:      userID,
			WindowStart: start,
			MaxItems:    int(c.Int("max-items")),
		}, queue.PriorityHigh)
		if err != nil {
			app.Logger.Error("Failed to queue digest", zap.String("userID", userID), zap.Error(err))
			continue
		}

		queued++
		fmt.Printf("%s\t%s\n", userID, id)
	}

	fmt.Printf("Queued %d of %d digests\n", queued, len(users))
	return nil
}

func queueWatch(ctx context.Context, c *cli.Command, app *setup.App) error {
	if c.Args().Len() != 3 {
		return ErrWatchArgs
	}

	entry := queue.WatchlistEntryPayload{
		Kind:  enum.WatchKind(c.Args().Get(1)),
		Value: c.Args().Get(2),
	}
	if c.IsSet("weight") {
		weight := c.Float("weight")
		entry.Weight = &weight
	}

	id, err := app.Queue.Enqueue(ctx, queue.WatchlistPayload{
		UserID: c.Args().Get(0),
		Action: enum.WatchlistAction(c.String("action")),
		Entry:  entry,
	}, queue.PriorityNormal)
	if err != nil {
		return fmt.Errorf("failed to queue watchlist update: %w", err)
	}

	fmt.Printf("Queued watchlist update %s\n", id)
	return nil
}

func showStats(ctx context.Context, _ *cli.Command, app *setup.App) error {
	fmt.Println("Queues:")
	for _, jobType := range enum.JobTypeProcessingOrder() {
		n, err := app.Queue.Length(ctx, jobType)
		if err != nil {
			return fmt.Errorf("failed to read %s queue: %w", jobType, err)
		}
		fmt.Printf("  %-20s %d\n", jobType, n)
	}

	statuses, err := app.Monitor.GetAllStatuses(ctx)
	if err != nil {
		return fmt.Errorf("failed to read worker status: %w", err)
	}

	now := time.Now()
	fmt.Printf("Workers (%d):\n", len(statuses))
	for _, s := range statuses {
		state := "healthy"
		switch {
		case s.IsStale(now):
			state = "offline"
		case !s.IsHealthy:
			state = "unhealthy"
		}

		fmt.Printf("  %s\t%s\tprocessed=%d failed=%d\t%s\n",
			s.WorkerID, state, s.Processed, s.Failed, s.CurrentTask)
	}

	return nil
}

func showFailures(ctx context.Context, c *cli.Command, app *setup.App) error {
	jobType := enum.JobType(c.String("type"))
	if !jobType.IsAJobType() {
		return fmt.Errorf("%w: %s", ErrUnknownJobType, jobType)
	}

	failures, err := app.DB.Model().Job().ListFailures(ctx, jobType, int(c.Int("limit")))
	if err != nil {
		return fmt.Errorf("failed to list failures: %w", err)
	}

	for _, f := range failures {
		fmt.Printf("%s\t%s\tattempts=%d\t%s\n", f.FailedAt.Format(time.RFC3339), f.JobID, f.Attempts, f.LastError)
	}
	fmt.Printf("%d failures\n", len(failures))

	return nil
}

// readUserIDs reads one user ID per line, skipping blanks and # comments.
func readUserIDs(path string) ([]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	var users []string

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		users = append(users, line)
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	return users, nil
}
