package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/eventguard/eventguard/internal/app"
	"github.com/eventguard/eventguard/internal/guard"
	jobmetrics "github.com/eventguard/eventguard/internal/jobs"
	"github.com/eventguard/eventguard/internal/observability"
	"github.com/eventguard/eventguard/internal/rbac"
	"github.com/eventguard/eventguard/jobs"
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

	if cfg.RedisAddr == "" {
		logger.Error("worker requires REDIS_ADDR")
		os.Exit(1)
	}

	observed := observability.NewMetrics()
	rt, err := guard.Open(ctx, cfg, logger, observed.Registerer())
	if err != nil {
		logger.Error("open guard", slog.Any("error", err))
		os.Exit(1)
	}
	defer rt.Close()

	if rt.Pool != nil {
		if _, err := rt.Migrate(ctx); err != nil {
			logger.Error("migrate", slog.Any("error", err))
			os.Exit(1)
		}
		if _, err := rt.SyncCatalog(ctx); err != nil {
			logger.Error("sync catalog", slog.Any("error", err))
			os.Exit(1)
		}
	}

	metrics := jobmetrics.NewMetrics(observed.Registerer())
	warmupJob := jobs.NewPermissionsWarmupJob(rt.Service, logger, metrics)
	handlers := []jobs.TaskHandler{
		{Type: jobs.TaskPermissionsWarmup, Handler: warmupJob.Handle},
	}

	warmupTask, err := jobs.NewPermissionsWarmupTask(0)
	if err != nil {
		logger.Error("build warmup task", slog.Any("error", err))
		os.Exit(1)
	}
	cron := []jobs.CronRegistration{
		{Spec: cfg.Jobs.WarmupCron, Task: warmupTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
	}
	if sweeper, ok := rt.Service.Cache().Sweeper(); ok {
		sweepJob := jobs.NewCacheSweepJob(sweeper, logger, metrics)
		handlers = append(handlers, jobs.TaskHandler{Type: jobs.TaskPermissionsCacheSweep, Handler: sweepJob.Handle})
		if cfg.Cache.SweepInterval > 0 {
			cron = append(cron, jobs.CronRegistration{
				Spec: "@every " + cfg.Cache.SweepInterval.String(),
				Task: jobs.NewCacheSweepTask(),
			})
		}
	}

	redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr}
	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts:   redisOpts,
		Logger:      logger,
		Concurrency: cfg.Jobs.Concurrency,
		Handlers:    handlers,
		Cron:        cron,
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	if cfg.Ops.Addr != "" {
		inspector := asynq.NewInspector(redisOpts)
		defer inspector.Close()
		srv := opsServer(cfg, logger, rt, observed, inspector)
		go func() {
			logger.Info("ops listener", slog.String("addr", cfg.Ops.Addr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("ops listener", slog.Any("error", err))
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}

func opsServer(cfg *app.Config, logger *slog.Logger, rt *guard.Runtime, metrics *observability.Metrics, inspector jobs.QueueInspector) *http.Server {
	params := app.RouterParams{
		Logger:  logger,
		Config:  cfg,
		Metrics: metrics,
		Jobs:    jobs.NewHandler(inspector, logger),
	}
	if header := cfg.Ops.SubjectHeader; header != "" {
		params.Permissions = rbac.NewPermissionsHandler(logger, rbac.Middleware{
			Resolver: rt.Service.Resolver(),
			Logger:   logger,
			Subject: func(r *http.Request) (string, bool) {
				subject := r.Header.Get(header)
				return subject, subject != ""
			},
		})
	}
	return &http.Server{
		Addr:              cfg.Ops.Addr,
		Handler:           app.NewRouter(params),
		ReadHeaderTimeout: 10 * time.Second,
	}
}
