package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"clipfactory/internal/events"
	"clipfactory/internal/stageexec"
	"clipfactory/internal/types"
	"clipfactory/log"
	apperrors "clipfactory/pkg/errors"
)

// Workers runs one asynq server per stage that has a handler.
type Workers struct {
	config   Config
	store    stageexec.StateStore
	bus      events.Bus
	handlers map[types.Stage]types.StageHandler
	servers  map[types.Stage]*asynq.Server
}

func NewWorkers(cfg Config, store stageexec.StateStore, bus events.Bus, handlers map[types.Stage]types.StageHandler) *Workers {
	w := &Workers{
		config:   cfg,
		store:    store,
		bus:      bus,
		handlers: handlers,
		servers:  map[types.Stage]*asynq.Server{},
	}
	for stage := range handlers {
		w.servers[stage] = asynq.NewServer(cfg.redisOpt(), w.serverConfig(stage))
	}
	return w
}

func (w *Workers) serverConfig(stage types.Stage) asynq.Config {
	return asynq.Config{
		Concurrency:    stageexec.ConcurrencyFor(w.config.Concurrency, stage),
		Queues:         map[string]int{QueueName(stage): 1},
		RetryDelayFunc: RetryDelayFunc(w.config.Retry),
		IsFailure:      IsFailure,
		Logger:         log.GetLogger().Sugar(),
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			id, _ := asynq.GetTaskID(ctx)
			log.GetLogger().Warn("queue: task error",
				zap.String("type", task.Type()),
				zap.String("task_id", id),
				zap.Error(err))
		}),
	}
}

// Start launches every stage server without blocking.
func (w *Workers) Start() error {
	for stage, server := range w.servers {
		limit := w.config.RateLimits[stage]
		mux := asynq.NewServeMux()
		mux.Handle(TypeName(stage), w.Handler(stage, w.handlers[stage], limit))
		if err := server.Start(mux); err != nil {
			w.Shutdown()
			return fmt.Errorf("start %s worker: %w", stage, err)
		}
		log.GetLogger().Info("queue: worker started",
			zap.String("stage", stage.String()),
			zap.String("redis_addr", w.config.RedisAddr),
			zap.Int("concurrency", stageexec.ConcurrencyFor(w.config.Concurrency, stage)))
	}
	return nil
}

func (w *Workers) Shutdown() {
	for _, server := range w.servers {
		server.Shutdown()
	}
}

// Handler adapts a stage handler to asynq. Unrecoverable errors are marked
// with SkipRetry so asynq archives the task at once.
func (w *Workers) Handler(stage types.Stage, handler types.StageHandler, limit stageexec.RateLimit) asynq.Handler {
	limiter := limit.Limiter()
	return asynq.HandlerFunc(func(ctx context.Context, t *asynq.Task) error {
		var payload types.StagePayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return fmt.Errorf("failed to unmarshal payload: %w: %w", err, asynq.SkipRetry)
		}

		retried, hasRetry := asynq.GetRetryCount(ctx)
		maxRetry, _ := asynq.GetMaxRetry(ctx)
		id, _ := asynq.GetTaskID(ctx)

		_, err := stageexec.Run(ctx, stageexec.Options{
			Store:   w.store,
			Bus:     w.bus,
			Handler: handler,
			Task: &types.StageTask{
				ID:      id,
				Stage:   stage,
				Payload: payload,
				Attempt: retried + 1,
			},
			Limiter: limiter,
			MaxWait: limit.Wait(),
			Final:   hasRetry && retried >= maxRetry,
		})
		return classify(err)
	})
}

func classify(err error) error {
	if err == nil {
		return nil
	}
	if apperrors.IsUnrecoverable(err) {
		return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
	}
	return err
}

// RetryDelayFunc plugs the stage retry policy into asynq.
func RetryDelayFunc(policy stageexec.RetryPolicy) asynq.RetryDelayFunc {
	return func(n int, err error, _ *asynq.Task) time.Duration {
		return policy.Delay(n, err)
	}
}

// IsFailure keeps rate-limit deferrals out of the retry count.
func IsFailure(err error) bool {
	return !apperrors.Is(err, apperrors.CodeRateLimited)
}
