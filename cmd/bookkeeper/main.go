package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/bookkeeper/cmd/bookkeeper/cli"
	"github.com/odyssey-erp/bookkeeper/internal/app"
	"github.com/odyssey-erp/bookkeeper/internal/platform/db"
	"github.com/odyssey-erp/bookkeeper/internal/store/postgres"
	"github.com/odyssey-erp/bookkeeper/jobs"
)

const usage = `usage: bookkeeper [command]

commands:
  serve                       run the HTTP API (default)
  migrate                     apply database migrations
  reconcile [-scope] [-json]  check balances and stock in-process
  jobs trigger [-scope]       enqueue a reconciliation for the worker
  jobs stats                  print queue statistics`

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

	args := os.Args[1:]
	command := "serve"
	if len(args) > 0 {
		command, args = args[0], args[1:]
	}

	switch command {
	case "serve":
		err = serve(ctx, cfg, logger)
	case "migrate":
		err = migrate(ctx, cfg, logger)
	case "reconcile":
		os.Exit(reconcile(ctx, cfg, logger, args))
	case "jobs":
		err = jobsCommand(ctx, cfg, args)
	default:
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}
	if err != nil {
		logger.Error(command+" failed", slog.Any("error", err))
		os.Exit(1)
	}
}

func serve(ctx context.Context, cfg *app.Config, logger *slog.Logger) error {
	svc, err := app.Build(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer svc.Close()

	var jobHandler *jobs.Handler
	if svc.Redis != nil {
		client := jobs.NewClient(cfg.Redis().AsynqOpt())
		defer client.Close()
		inspector := asynq.NewInspector(cfg.Redis().AsynqOpt())
		defer inspector.Close()
		jobHandler = jobs.NewHandler(inspector, client, logger)
	} else {
		jobHandler = jobs.NewHandler(nil, nil, logger)
	}

	router := app.NewRouter(app.RouterParams{
		Logger:         logger,
		Config:         cfg,
		PostingHandler: svc.PostingHandler(),
		JobHandler:     jobHandler,
		Pool:           svc.Pool,
		Metrics:        svc.Metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr), slog.String("store", cfg.StoreDriver))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.AppShutdownTimeout)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func migrate(ctx context.Context, cfg *app.Config, logger *slog.Logger) error {
	if cfg.StoreDriver != app.DriverPostgres {
		return fmt.Errorf("migrate needs STORE_DRIVER=%s", app.DriverPostgres)
	}
	pool, err := db.New(ctx, cfg.Database())
	if err != nil {
		return err
	}
	defer pool.Close()
	applied, err := postgres.New(pool).Migrate(ctx)
	if err != nil {
		return err
	}
	logger.Info("migrations complete", slog.Int("applied", len(applied)), slog.Any("names", applied))
	return nil
}

func reconcile(ctx context.Context, cfg *app.Config, logger *slog.Logger, args []string) int {
	fs := flag.NewFlagSet("reconcile", flag.ContinueOnError)
	scope := fs.String("scope", string(jobs.ScopeAll), "all, ledgers or items")
	asJSON := fs.Bool("json", false, "print the report as JSON")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	svc, err := app.Build(ctx, cfg, logger)
	if err != nil {
		logger.Error("reconcile setup", slog.Any("error", err))
		return 1
	}
	defer svc.Close()
	return cli.ReconcileCommand(ctx, svc.Reconciler, cli.ReconcileOptions{Scope: *scope, JSONOutput: *asJSON})
}

func jobsCommand(ctx context.Context, cfg *app.Config, args []string) error {
	if len(args) == 0 {
		return errors.New(usage)
	}
	jc := cli.NewJobsCLI(cfg.Redis().AsynqOpt())
	defer jc.Close()

	switch args[0] {
	case "trigger":
		fs := flag.NewFlagSet("jobs trigger", flag.ContinueOnError)
		scope := fs.String("scope", string(jobs.ScopeAll), "all, ledgers or items")
		if err := fs.Parse(args[1:]); err != nil {
			return err
		}
		info, err := jc.Trigger(ctx, *scope)
		if err != nil {
			return err
		}
		fmt.Printf("enqueued %s (%s)\n", info.ID, info.Type)
		return nil
	case "stats":
		stats, err := jc.InspectQueue(ctx)
		if err != nil {
			return err
		}
		return json.NewEncoder(os.Stdout).Encode(stats)
	default:
		return fmt.Errorf("unknown jobs command %q", args[0])
	}
}
