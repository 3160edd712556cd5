// Package taskrunner is an in-process stage broker. It honours the same
// contract as the asynq broker (task id dedup, per-stage pools, retries,
// rate-limit deferral) and is used by tests and single-binary setups.
package taskrunner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"clipfactory/internal/events"
	"clipfactory/internal/stageexec"
	"clipfactory/internal/types"
	"clipfactory/log"
	apperrors "clipfactory/pkg/errors"
)

const defaultQueueSize = 128

var (
	ErrRunnerStopped = errors.New("task runner stopped")
	ErrQueueFull     = errors.New("task queue is full")
)

// Config controls in-process task runner behavior.
type Config struct {
	QueueSize   int
	Concurrency map[types.Stage]int
	Retry       stageexec.RetryPolicy
	RateLimits  map[types.Stage]stageexec.RateLimit
}

// DefaultConfig returns a desktop-friendly default config.
func DefaultConfig() Config {
	return Config{
		QueueSize: defaultQueueSize,
		Retry:     stageexec.DefaultRetryPolicy(),
	}
}

type queuedTask struct {
	id      string
	stage   types.Stage
	payload types.StagePayload
	attempt int
}

type stagePool struct {
	queue   chan queuedTask
	handler types.StageHandler
	limit   stageexec.RateLimit
	limiter *rate.Limiter
}

// Runner executes queued tasks with in-memory workers.
type Runner struct {
	config Config
	store  stageexec.StateStore
	bus    events.Bus
	pools  map[types.Stage]*stagePool

	mu   sync.Mutex
	seen map[string]struct{}

	ctx    context.Context
	cancel context.CancelFunc

	workerWg sync.WaitGroup
	inflight atomic.Int64
	closed   atomic.Bool
}

// New creates and starts a task runner with one pool per handled stage.
func New(cfg Config, store stageexec.StateStore, bus events.Bus, handlers map[types.Stage]types.StageHandler) *Runner {
	cfg = normalizeConfig(cfg)
	ctx, cancel := context.WithCancel(context.Background())

	runner := &Runner{
		config: cfg,
		store:  store,
		bus:    bus,
		pools:  map[types.Stage]*stagePool{},
		seen:   map[string]struct{}{},
		ctx:    ctx,
		cancel: cancel,
	}

	for stage, handler := range handlers {
		limit := cfg.RateLimits[stage]
		pool := &stagePool{
			queue:   make(chan queuedTask, cfg.QueueSize),
			handler: handler,
			limit:   limit,
			limiter: limit.Limiter(),
		}
		runner.pools[stage] = pool
		for i := 0; i < stageexec.ConcurrencyFor(cfg.Concurrency, stage); i++ {
			runner.workerWg.Add(1)
			go runner.worker(i+1, pool)
		}
	}

	return runner
}

func normalizeConfig(cfg Config) Config {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}
	if cfg.Retry.Base <= 0 || cfg.Retry.Cap <= 0 {
		retry := stageexec.DefaultRetryPolicy()
		retry.MaxRetry = cfg.Retry.MaxRetry
		cfg.Retry = retry
	}
	return cfg
}

// Enqueue accepts a task once per task id for the runner's lifetime.
func (r *Runner) Enqueue(_ context.Context, stage types.Stage, payload types.StagePayload, idempotencyKey string) (types.EnqueueResult, error) {
	if idempotencyKey == "" {
		return types.EnqueueResult{}, apperrors.Wrap(apperrors.CodeInvalidParams, "idempotency key is required", nil)
	}
	pool, ok := r.pools[stage]
	if !ok {
		return types.EnqueueResult{}, fmt.Errorf("no handler registered for stage %s", stage)
	}
	if r.closed.Load() {
		return types.EnqueueResult{}, ErrRunnerStopped
	}

	id := stage.String() + ":" + idempotencyKey
	r.mu.Lock()
	if _, dup := r.seen[id]; dup {
		r.mu.Unlock()
		log.GetLogger().Info("[TaskRunner] duplicate task ignored", zap.String("task_id", id))
		return types.EnqueueResult{TaskID: id, Duplicate: true}, nil
	}
	r.seen[id] = struct{}{}
	r.mu.Unlock()

	r.inflight.Add(1)
	select {
	case pool.queue <- queuedTask{id: id, stage: stage, payload: payload, attempt: 1}:
		log.GetLogger().Info("[TaskRunner] task submitted",
			zap.String("task_id", id),
			zap.String("root_id", payload.RootID))
		return types.EnqueueResult{TaskID: id}, nil
	default:
		r.inflight.Add(-1)
		r.mu.Lock()
		delete(r.seen, id)
		r.mu.Unlock()
		return types.EnqueueResult{}, ErrQueueFull
	}
}

func (r *Runner) worker(workerID int, pool *stagePool) {
	defer r.workerWg.Done()

	for {
		select {
		case <-r.ctx.Done():
			return
		case task := <-pool.queue:
			r.processTask(workerID, pool, task)
		}
	}
}

func (r *Runner) processTask(workerID int, pool *stagePool, task queuedTask) {
	final := task.attempt > r.config.Retry.MaxRetry
	_, err := stageexec.Run(r.ctx, stageexec.Options{
		Store:   r.store,
		Bus:     r.bus,
		Handler: pool.handler,
		Task: &types.StageTask{
			ID:      task.id,
			Stage:   task.stage,
			Payload: task.payload,
			Attempt: task.attempt,
		},
		Limiter: pool.limiter,
		MaxWait: pool.limit.Wait(),
		Final:   final,
	})

	switch {
	case err == nil:
		log.GetLogger().Info("[TaskRunner] task completed",
			zap.Int("worker_id", workerID),
			zap.String("task_id", task.id))
		r.inflight.Add(-1)
	case apperrors.Is(err, apperrors.CodeRateLimited):
		// Deferred, not failed: the attempt number stays the same.
		r.retryLater(pool, task, r.config.Retry.Delay(task.attempt-1, err))
	case !final && apperrors.IsRetryable(err):
		delay := r.config.Retry.Delay(task.attempt-1, err)
		log.GetLogger().Warn("[TaskRunner] task will retry",
			zap.Int("worker_id", workerID),
			zap.String("task_id", task.id),
			zap.Duration("delay", delay),
			zap.Error(err))
		task.attempt++
		r.retryLater(pool, task, delay)
	default:
		log.GetLogger().Error("[TaskRunner] task failed",
			zap.Int("worker_id", workerID),
			zap.String("task_id", task.id),
			zap.Error(err))
		r.inflight.Add(-1)
	}
}

func (r *Runner) retryLater(pool *stagePool, task queuedTask, delay time.Duration) {
	time.AfterFunc(delay, func() {
		select {
		case <-r.ctx.Done():
			r.inflight.Add(-1)
		case pool.queue <- task:
		}
	})
}

// Wait blocks until every accepted task has finished, including retries.
func (r *Runner) Wait(ctx context.Context) error {
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()
	for r.inflight.Load() > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}

// Close stops workers and rejects new tasks.
func (r *Runner) Close() {
	if !r.closed.CompareAndSwap(false, true) {
		return
	}

	r.cancel()
	r.workerWg.Wait()
}

// Pending returns the number of queued tasks waiting for workers.
func (r *Runner) Pending() int {
	total := 0
	for _, pool := range r.pools {
		total += len(pool.queue)
	}
	return total
}
