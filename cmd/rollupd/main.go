package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/rollup/cmd/rollupd/cli"
	"github.com/odyssey-erp/rollup/internal/app"
	"github.com/odyssey-erp/rollup/internal/observability"
	"github.com/odyssey-erp/rollup/internal/platform/db"
	rolluphttp "github.com/odyssey-erp/rollup/internal/rollup/http"
	"github.com/odyssey-erp/rollup/jobs"
)

const usage = `usage: rollupd <command> [flags]

commands:
  serve       run the admin HTTP API (default)
  rebuild     recompute a date range for one tenant
  jobs        trigger or inspect background tasks
  bootstrap   create the shared tables and a tenant partition`

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
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

	cmd, args := "serve", os.Args[1:]
	if len(args) > 0 {
		cmd, args = args[0], args[1:]
	}
	switch cmd {
	case "serve":
		os.Exit(serve(ctx, stop, cfg, logger))
	case "rebuild":
		os.Exit(rebuild(ctx, cfg, logger, args))
	case "jobs":
		os.Exit(jobsCommand(ctx, cfg, args))
	case "bootstrap":
		os.Exit(bootstrap(ctx, cfg, logger, args))
	default:
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}
}

func serve(ctx context.Context, stop context.CancelFunc, cfg *app.Config, logger *slog.Logger) int {
	backends, closeBackends, err := app.ConnectBackends(ctx, cfg)
	if err != nil {
		logger.Error("connect backends", slog.Any("error", err))
		return 1
	}
	defer closeBackends()

	metrics := observability.NewMetrics()
	services := app.NewServices(cfg, backends, metrics.Registerer(), logger)

	redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr}
	jobsClient, err := jobs.NewClient(redisOpts)
	if err != nil {
		logger.Error("init jobs client", slog.Any("error", err))
		return 1
	}
	defer func() {
		if err := jobsClient.Close(); err != nil {
			logger.Warn("jobs client close", slog.Any("error", err))
		}
	}()
	inspector := asynq.NewInspector(redisOpts)
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	router := app.NewRouter(app.RouterParams{
		Logger: logger,
		Config: cfg,
		RollupHandler: rolluphttp.NewHandler(rolluphttp.Config{
			Runner:         services.Orchestrator,
			Syncer:         services.Syncer,
			Hierarchy:      services.Hierarchies,
			Jobs:           jobsClient,
			RunLog:         services.RunLog,
			Logger:         logger,
			MaxRebuildDays: cfg.RollupMaxRebuildDays,
		}),
		JobHandler: jobs.NewHandler(inspector, logger),
		Metrics:    metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
		return 1
	}
	return 0
}

func rebuild(ctx context.Context, cfg *app.Config, logger *slog.Logger, args []string) int {
	fs := flag.NewFlagSet("rebuild", flag.ContinueOnError)
	tenant := fs.Int64("tenant", 0, "Required: tenant id")
	from := fs.String("from", "", "Required: first day (YYYY-MM-DD)")
	to := fs.String("to", "", "Last day (YYYY-MM-DD), defaults to --from")
	syncParents := fs.Bool("sync", false, "Push every rebuilt day to the parent")
	jsonOut := fs.Bool("json", false, "Print the result as JSON")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	backends, closeBackends, err := app.ConnectBackends(ctx, cfg)
	if err != nil {
		logger.Error("connect backends", slog.Any("error", err))
		return 1
	}
	defer closeBackends()
	services := app.NewServices(cfg, backends, nil, logger)

	return cli.RebuildCommand(ctx, services.Orchestrator, cli.RebuildOptions{
		TenantID:   *tenant,
		From:       *from,
		To:         *to,
		Sync:       *syncParents,
		JSONOutput: *jsonOut,
	})
}

func jobsCommand(ctx context.Context, cfg *app.Config, args []string) int {
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "usage: rollupd jobs trigger <task> [flags] | rollupd jobs inspect")
		return 2
	}
	helper, err := cli.NewJobsCLI(cfg.RedisAddr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "jobs: %v\n", err)
		return 1
	}
	defer func() { _ = helper.Close() }()

	enc := json.NewEncoder(os.Stdout)
	switch args[0] {
	case "inspect":
		stats, err := helper.InspectQueue(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "jobs inspect: %v\n", err)
			return 1
		}
		scheduled, err := helper.ListScheduled(ctx, 20)
		if err != nil {
			fmt.Fprintf(os.Stderr, "jobs inspect: %v\n", err)
			return 1
		}
		ids := make([]string, 0, len(scheduled))
		for _, info := range scheduled {
			ids = append(ids, info.Type+"/"+info.ID)
		}
		_ = enc.Encode(map[string]any{"queue": stats, "scheduled": ids})
		return 0
	case "trigger":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "usage: rollupd jobs trigger <rollup:daily|rollup:rebuild> [flags]")
			return 2
		}
		fs := flag.NewFlagSet("trigger", flag.ContinueOnError)
		var opts cli.TriggerOptions
		fs.Int64Var(&opts.TenantID, "tenant", 0, "Tenant id, all scheduled tenants when empty")
		fs.StringVar(&opts.Interval, "interval", "", "Sync interval for rollup:daily")
		fs.StringVar(&opts.Date, "date", "", "Day for rollup:daily (YYYY-MM-DD)")
		fs.StringVar(&opts.From, "from", "", "First day for rollup:rebuild")
		fs.StringVar(&opts.To, "to", "", "Last day for rollup:rebuild")
		fs.BoolVar(&opts.Sync, "sync", true, "Push results to the parent")
		if err := fs.Parse(args[2:]); err != nil {
			return 2
		}
		info, err := helper.Trigger(ctx, args[1], opts)
		if err != nil {
			fmt.Fprintf(os.Stderr, "jobs trigger: %v\n", err)
			return 1
		}
		_ = enc.Encode(map[string]string{"task_id": info.ID, "queue": info.Queue})
		return 0
	default:
		fmt.Fprintf(os.Stderr, "jobs: unknown subcommand %q\n", args[0])
		return 2
	}
}

func bootstrap(ctx context.Context, cfg *app.Config, logger *slog.Logger, args []string) int {
	fs := flag.NewFlagSet("bootstrap", flag.ContinueOnError)
	tenant := fs.Int64("tenant", 0, "Tenant whose partition is created, shared tables only when empty")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	pool, err := db.New(ctx, cfg.PGDSN, db.Options{})
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		return 1
	}
	defer pool.Close()
	if err := ensureSchemas(ctx, pool, *tenant); err != nil {
		logger.Error("bootstrap", slog.Any("error", err))
		return 1
	}
	logger.Info("bootstrap complete", slog.Int64("tenant_id", *tenant))
	return 0
}

func ensureSchemas(ctx context.Context, pool *pgxpool.Pool, tenantID int64) error {
	if err := db.EnsureShared(ctx, pool); err != nil {
		return err
	}
	if tenantID > 0 {
		return db.EnsureTenant(ctx, pool, tenantID)
	}
	return nil
}
