package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/eventguard/eventguard/cmd/eventguard/cli"
	"github.com/eventguard/eventguard/internal/app"
	"github.com/eventguard/eventguard/internal/guard"
	"github.com/eventguard/eventguard/jobs"
)

func main() {
	os.Exit(run())
}

func run() int {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		return cli.ExitError
	}
	logger := app.NewLoggerTo(cfg, os.Stderr)
	if !cfg.UsesPostgres() {
		logger.Warn("PG_DSN not set, changes are kept in memory and lost on exit")
	}

	rt, err := guard.Open(ctx, cfg, logger, nil)
	if err != nil {
		logger.Error("open guard", slog.Any("error", err))
		return cli.ExitError
	}
	defer rt.Close()

	opts := []cli.Option{}
	if cfg.RedisAddr != "" {
		client, err := jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
		if err != nil {
			logger.Error("init job client", slog.Any("error", err))
			return cli.ExitError
		}
		defer func() {
			if err := client.Close(); err != nil {
				logger.Warn("job client close", slog.Any("error", err))
			}
		}()
		opts = append(opts, cli.WithEnqueuer(client))
	}
	return cli.New(rt, opts...).Run(ctx, os.Args[1:])
}
