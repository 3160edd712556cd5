// Package stageexec runs one stage attempt: rate gate, state persistence,
// progress fan-out and terminal classification. Both brokers share it so
// that asynq and the in-process runner apply identical semantics.
package stageexec

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"clipfactory/internal/events"
	"clipfactory/internal/types"
	"clipfactory/log"
	apperrors "clipfactory/pkg/errors"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// StateStore persists per-stage state of a PipelineJob.
type StateStore interface {
	UpdateStage(ctx context.Context, rootID string, stage types.Stage, mutate func(*types.StageState)) error
}

type Options struct {
	Store   StateStore
	Bus     events.Bus
	Handler types.StageHandler
	Task    *types.StageTask

	// Limiter gates the start of the attempt. A reservation longer than
	// MaxWait is cancelled and surfaces as a rate-limit error.
	Limiter *rate.Limiter
	MaxWait time.Duration

	// Final is set when no retry follows this attempt.
	Final bool
}

// Run executes the handler once and returns its result. The returned error
// keeps its classification so the caller can decide on a retry.
func Run(ctx context.Context, opts Options) (any, error) {
	if opts.Handler == nil {
		return nil, fmt.Errorf("stage handler unavailable")
	}
	if opts.Task == nil {
		return nil, fmt.Errorf("stage task is required")
	}
	task := opts.Task
	task.Final = opts.Final

	if err := gate(ctx, opts.Limiter, opts.MaxWait); err != nil {
		log.GetLogger().Info("stage: rate limited",
			zap.String("root_id", task.Payload.RootID),
			zap.String("stage", task.Stage.String()),
			zap.Duration("retry_after", apperrors.RetryAfter(err)))
		return nil, err
	}

	jobID := JobID(task)
	logger := log.GetLogger().With(
		zap.String("root_id", task.Payload.RootID),
		zap.String("job_id", jobID),
		zap.String("stage", task.Stage.String()),
		zap.Int("attempt", task.Attempt),
	)
	logger.Info("stage: started")

	persist(ctx, opts, func(state *types.StageState) {
		state.Status = types.StageStatusActive
		state.Progress = 0
		state.Attempt = task.Attempt
		state.ErrorCode = 0
		state.LastError = ""
	})

	reporter := newReporter(ctx, opts, jobID)
	task.Progress = reporter

	started := time.Now()
	result, err := opts.Handler.Handle(ctx, task)
	if err != nil {
		return nil, handleFailure(ctx, logger, opts, jobID, err)
	}

	persist(ctx, opts, func(state *types.StageState) {
		state.Status = types.StageStatusCompleted
		state.Progress = 100
		state.ErrorCode = 0
		state.LastError = ""
	})

	var raw json.RawMessage
	if result != nil {
		if data, mErr := json.Marshal(result); mErr == nil {
			raw = data
		} else {
			logger.Warn("stage: result not serializable", zap.Error(mErr))
		}
	}
	publish(ctx, opts.Bus, events.Event{
		JobID:    jobID,
		RootID:   task.Payload.RootID,
		Stage:    task.Stage,
		Kind:     events.KindCompleted,
		Progress: 100,
		Result:   raw,
	})

	logger.Info("stage: completed", zap.Duration("elapsed", time.Since(started)))
	return result, nil
}

func handleFailure(ctx context.Context, logger *zap.Logger, opts Options, jobID string, stageErr error) error {
	task := opts.Task
	code := apperrors.GetCode(stageErr)
	message := stageErr.Error()
	terminal := opts.Final || apperrors.IsUnrecoverable(stageErr)

	if !terminal {
		logger.Warn("stage: attempt failed, will retry", zap.Int("code", code), zap.Error(stageErr))
		persist(ctx, opts, func(state *types.StageState) {
			state.Status = types.StageStatusPending
			state.ErrorCode = code
			state.LastError = message
		})
		return stageErr
	}

	logger.Error("stage: failed", zap.Int("code", code), zap.Error(stageErr))
	persist(ctx, opts, func(state *types.StageState) {
		state.Status = types.StageStatusFailed
		state.ErrorCode = code
		state.LastError = message
	})
	publish(ctx, opts.Bus, events.Event{
		JobID:  jobID,
		RootID: task.Payload.RootID,
		Stage:  task.Stage,
		Kind:   events.KindFailed,
		Code:   code,
		Error:  apperrors.GetMessage(stageErr),
	})
	return stageErr
}

// JobID is the id progress is published under: the export record for the
// export fan-out, the root for chain stages.
func JobID(task *types.StageTask) string {
	if task.Stage == types.StageExport && task.Payload.ExportID != "" {
		return task.Payload.ExportID
	}
	return task.Payload.RootID
}

func gate(ctx context.Context, limiter *rate.Limiter, maxWait time.Duration) error {
	if limiter == nil {
		return nil
	}
	reservation := limiter.Reserve()
	if !reservation.OK() {
		return apperrors.RateLimited("stage limiter burst exceeded", time.Second, nil)
	}
	delay := reservation.Delay()
	if delay == 0 {
		return nil
	}
	if delay > maxWait {
		reservation.Cancel()
		return apperrors.RateLimited("stage limiter exhausted", delay, nil)
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		reservation.Cancel()
		return ctx.Err()
	}
}

// Export state lives on the ExportRecord, not the job's stage table.
func persist(ctx context.Context, opts Options, mutate func(*types.StageState)) {
	if opts.Store == nil || opts.Task.Stage == types.StageExport {
		return
	}
	if err := opts.Store.UpdateStage(ctx, opts.Task.Payload.RootID, opts.Task.Stage, mutate); err != nil {
		log.GetLogger().Error("stage: persist state failed",
			zap.String("root_id", opts.Task.Payload.RootID),
			zap.String("stage", opts.Task.Stage.String()),
			zap.Error(err))
	}
}

func publish(ctx context.Context, bus events.Bus, ev events.Event) {
	if bus == nil {
		return
	}
	if err := bus.Publish(ctx, ev); err != nil && !errors.Is(err, context.Canceled) {
		log.GetLogger().Warn("stage: publish event failed", zap.String("job_id", ev.JobID), zap.Error(err))
	}
}

type reporter struct {
	ctx   context.Context
	opts  Options
	jobID string

	mu   sync.Mutex
	last int
}

func newReporter(ctx context.Context, opts Options, jobID string) *reporter {
	return &reporter{ctx: ctx, opts: opts, jobID: jobID, last: -1}
}

// Report drops values that do not advance the percentage. 100 is reserved
// for the completed event.
func (r *reporter) Report(percent int, message string) {
	if percent > 99 {
		percent = 99
	}
	if percent < 0 {
		percent = 0
	}
	r.mu.Lock()
	if percent <= r.last {
		r.mu.Unlock()
		return
	}
	r.last = percent
	r.mu.Unlock()

	persist(r.ctx, r.opts, func(state *types.StageState) {
		state.Progress = percent
	})
	publish(r.ctx, r.opts.Bus, events.Event{
		JobID:    r.jobID,
		RootID:   r.opts.Task.Payload.RootID,
		Stage:    r.opts.Task.Stage,
		Kind:     events.KindProgress,
		Progress: percent,
		Message:  message,
	})
}
