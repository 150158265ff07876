package task

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"propdesk-affiliate/pkg/config"
	"propdesk-affiliate/pkg/metrics"

	"github.com/hibiken/asynq"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	QueueCritical = "critical"
	QueueDefault  = "default"
	QueueLow      = "low"
)

// Client lets a process enqueue post-actions. Both the API and the worker
// load it.
var Client = fx.Module("asynq:client",
	fx.Provide(registerClient, NewEnqueuer),
)

// Server runs the handlers that service modules attach to *asynq.ServeMux.
var Server = fx.Module("asynq:server",
	fx.Provide(registerServerMux),
	fx.Invoke(registerAsynqServer),
)

func redisOpt(cfg *config.Config) asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}
}

func registerClient(lc fx.Lifecycle, cfg *config.Config) (*asynq.Client, error) {
	client := asynq.NewClient(redisOpt(cfg))
	if err := client.Ping(); err != nil {
		return nil, fmt.Errorf("asynq client: %w", err)
	}
	zap.L().Info("[Asynq] client connected", zap.String("addr", cfg.Redis.Addr))

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return client.Close()
		},
	})
	return client, nil
}

func registerServerMux() *asynq.ServeMux {
	return asynq.NewServeMux()
}

// serverConfig weights broker calls above emails and milestone sweeps, and
// above event fan-out.
func serverConfig(cfg *config.Config) asynq.Config {
	concurrency := cfg.Task.Concurrency
	if concurrency <= 0 {
		concurrency = 10
	}

	return asynq.Config{
		Concurrency:    concurrency,
		RetryDelayFunc: asynq.DefaultRetryDelayFunc,
		Queues: map[string]int{
			QueueCritical: 6,
			QueueDefault:  3,
			QueueLow:      1,
		},
		IsFailure: func(err error) bool {
			return !errors.Is(err, asynq.SkipRetry)
		},
		ErrorHandler: asynq.ErrorHandlerFunc(handleError),
	}
}

func handleError(ctx context.Context, task *asynq.Task, err error) {
	retried, _ := asynq.GetRetryCount(ctx)
	maxRetry, _ := asynq.GetMaxRetry(ctx)
	final := retried >= maxRetry || errors.Is(err, asynq.SkipRetry)
	metrics.TaskFailures.WithLabelValues(task.Type(), strconv.FormatBool(final)).Inc()

	log := zap.L().With(zap.String("task_type", task.Type()), zap.Int("retried", retried), zap.Error(err))
	if !final {
		log.Warn("asynq task failed, will retry")
		return
	}
	log.Error("asynq task permanently failed")
}

func registerAsynqServer(lc fx.Lifecycle, cfg *config.Config, mux *asynq.ServeMux) {
	server := asynq.NewServer(redisOpt(cfg), serverConfig(cfg))

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := server.Start(mux); err != nil {
				return fmt.Errorf("asynq server: %w", err)
			}
			zap.L().Info("[Asynq] server started", zap.String("addr", cfg.Redis.Addr), zap.Int("concurrency", cfg.Task.Concurrency))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			server.Shutdown()
			return nil
		},
	})
}
