// Package queue provides the Redis-backed stage broker using Asynq.
// Every stage owns a queue and an asynq server sized to its pool.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"clipfactory/internal/stageexec"
	"clipfactory/internal/types"
	"clipfactory/log"
	apperrors "clipfactory/pkg/errors"
)

const typePrefix = "stage:"

// Config holds Redis configuration and the per-stage runtime policy.
type Config struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	Retry       stageexec.RetryPolicy
	Retention   time.Duration
	Timeout     time.Duration
	Concurrency map[types.Stage]int
	RateLimits  map[types.Stage]stageexec.RateLimit
}

// DefaultConfig returns default queue configuration
func DefaultConfig() Config {
	return Config{
		RedisAddr:   "localhost:6379",
		Retry:       stageexec.DefaultRetryPolicy(),
		Retention:   24 * time.Hour,
		Timeout:     60 * time.Minute,
		Concurrency: map[types.Stage]int{},
		RateLimits:  map[types.Stage]stageexec.RateLimit{},
	}
}

func (c Config) redisOpt() asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     c.RedisAddr,
		Password: c.RedisPassword,
		DB:       c.RedisDB,
	}
}

func TypeName(stage types.Stage) string { return typePrefix + stage.String() }

func QueueName(stage types.Stage) string { return stage.String() }

// TaskID is the dedup key asynq enforces while a task is live or retained.
func TaskID(stage types.Stage, idempotencyKey string) string {
	return stage.String() + ":" + idempotencyKey
}

// Broker enqueues stage tasks and inspects their state.
type Broker struct {
	client    *asynq.Client
	inspector *asynq.Inspector
	config    Config
}

func NewBroker(cfg Config) *Broker {
	return &Broker{
		client:    asynq.NewClient(cfg.redisOpt()),
		inspector: asynq.NewInspector(cfg.redisOpt()),
		config:    cfg,
	}
}

// Enqueue submits one unit of work. A task id that already exists is
// reported as a duplicate rather than an error.
func (b *Broker) Enqueue(ctx context.Context, stage types.Stage, payload types.StagePayload, idempotencyKey string) (types.EnqueueResult, error) {
	if idempotencyKey == "" {
		return types.EnqueueResult{}, apperrors.Wrap(apperrors.CodeInvalidParams, "idempotency key is required", nil)
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return types.EnqueueResult{}, fmt.Errorf("failed to marshal payload: %w", err)
	}

	id := TaskID(stage, idempotencyKey)
	task := asynq.NewTask(TypeName(stage), data,
		asynq.TaskID(id),
		asynq.Queue(QueueName(stage)),
		asynq.MaxRetry(b.config.Retry.MaxRetry),
		asynq.Timeout(b.config.Timeout),
		asynq.Retention(b.config.Retention),
	)

	info, err := b.client.EnqueueContext(ctx, task)
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		log.GetLogger().Info("queue: duplicate task ignored", zap.String("task_id", id))
		return types.EnqueueResult{TaskID: id, Duplicate: true}, nil
	}
	if err != nil {
		return types.EnqueueResult{}, apperrors.Transient("failed to enqueue task", err)
	}

	log.GetLogger().Info("queue: task enqueued",
		zap.String("task_id", info.ID),
		zap.String("queue", info.Queue),
		zap.String("root_id", payload.RootID))
	return types.EnqueueResult{TaskID: info.ID}, nil
}

type TaskStatus struct {
	ID            string    `json:"id"`
	Queue         string    `json:"queue"`
	State         string    `json:"state"`
	Retried       int       `json:"retried"`
	MaxRetry      int       `json:"maxRetry"`
	LastErr       string    `json:"lastErr,omitempty"`
	NextProcessAt time.Time `json:"nextProcessAt,omitempty"`
}

func (b *Broker) TaskInfo(_ context.Context, stage types.Stage, idempotencyKey string) (*TaskStatus, error) {
	info, err := b.inspector.GetTaskInfo(QueueName(stage), TaskID(stage, idempotencyKey))
	if errors.Is(err, asynq.ErrTaskNotFound) || errors.Is(err, asynq.ErrQueueNotFound) {
		return nil, apperrors.ErrNotFound
	}
	if err != nil {
		return nil, apperrors.Transient("failed to inspect task", err)
	}
	return &TaskStatus{
		ID:            info.ID,
		Queue:         info.Queue,
		State:         info.State.String(),
		Retried:       info.Retried,
		MaxRetry:      info.MaxRetry,
		LastErr:       info.LastErr,
		NextProcessAt: info.NextProcessAt,
	}, nil
}

type QueueStats struct {
	Stage     types.Stage `json:"stage"`
	Pending   int         `json:"pending"`
	Active    int         `json:"active"`
	Scheduled int         `json:"scheduled"`
	Retry     int         `json:"retry"`
	Archived  int         `json:"archived"`
	Completed int         `json:"completed"`
}

// Stats reports every stage queue; queues that were never used read as empty.
func (b *Broker) Stats(_ context.Context) ([]QueueStats, error) {
	out := make([]QueueStats, 0, len(types.AllStages))
	for _, stage := range types.AllStages {
		stats := QueueStats{Stage: stage}
		info, err := b.inspector.GetQueueInfo(QueueName(stage))
		if err != nil && !errors.Is(err, asynq.ErrQueueNotFound) {
			return nil, apperrors.Transient("failed to inspect queue", err)
		}
		if info != nil {
			stats.Pending = info.Pending
			stats.Active = info.Active
			stats.Scheduled = info.Scheduled
			stats.Retry = info.Retry
			stats.Archived = info.Archived
			stats.Completed = info.Completed
		}
		out = append(out, stats)
	}
	return out, nil
}

// Close gracefully shuts down the client side
func (b *Broker) Close() error {
	if err := b.inspector.Close(); err != nil {
		return err
	}
	return b.client.Close()
}
