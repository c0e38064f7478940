package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/rollup/internal/app"
	"github.com/odyssey-erp/rollup/internal/hierarchy"
	"github.com/odyssey-erp/rollup/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	backends, closeBackends, err := app.ConnectBackends(ctx, cfg)
	if err != nil {
		logger.Error("connect backends", slog.Any("error", err))
		os.Exit(1)
	}
	defer closeBackends()

	services := app.NewServices(cfg, backends, nil, logger)
	dailyJob := jobs.NewRollupDailyJob(services.Orchestrator, backends.Hierarchy, logger, services.JobMetrics)
	rebuildJob := jobs.NewRollupRebuildJob(services.Orchestrator, logger, services.JobMetrics)

	cron, err := jobs.RollupSchedule{
		string(hierarchy.IntervalHourly):     cfg.CronHourly,
		string(hierarchy.IntervalTwiceDaily): cfg.CronTwiceDaily,
		string(hierarchy.IntervalDaily):      cfg.CronDaily,
	}.CronRegistrations()
	if err != nil {
		logger.Error("build rollup schedule", slog.Any("error", err))
		os.Exit(1)
	}
	for i := range cron {
		cron[i].Options = []asynq.Option{asynq.MaxRetry(3)}
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts:   asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:      logger,
		Concurrency: cfg.WorkerConcurrency,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskRollupDaily, Handler: dailyJob.Handle},
			{Type: jobs.TaskRollupRebuild, Handler: rebuildJob.Handle},
		},
		Cron: cron,
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("starting worker", slog.Int("cron_entries", len(cron)))
	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
