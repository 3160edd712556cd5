package types

import "context"

// StagePayload is the single-item payload every stage receives.
type StagePayload struct {
	RootID         string            `json:"rootId"`
	SourceRef      string            `json:"sourceRef,omitempty"`
	ClipID         string            `json:"clipId,omitempty"`
	UserID         string            `json:"userId,omitempty"`
	ExportID       string            `json:"exportId,omitempty"`
	IdempotencyKey string            `json:"idempotencyKey,omitempty"`
	Meta           map[string]string `json:"meta,omitempty"`
}

type EnqueueResult struct {
	TaskID    string `json:"taskId"`
	Duplicate bool   `json:"duplicate"`
}

// Broker accepts units of work. The task id is "<stage>:<idempotencyKey>";
// enqueueing an id that already exists is a no-op reported as Duplicate.
type Broker interface {
	Enqueue(ctx context.Context, stage Stage, payload StagePayload, idempotencyKey string) (EnqueueResult, error)
}

// ProgressReporter accepts integer percentages; values below the last
// reported one are ignored.
type ProgressReporter interface {
	Report(percent int, message string)
}

// Limiter is the stage's shared token bucket.
type Limiter interface {
	Wait(ctx context.Context) error
}

type StageTask struct {
	ID       string
	Stage    Stage
	Payload  StagePayload
	Attempt  int
	Progress ProgressReporter
	Limiter  Limiter

	// Final is set on the last attempt the runtime will make.
	Final bool
}

// Wait blocks on the stage limiter if one is configured.
func (t *StageTask) Wait(ctx context.Context) error {
	if t.Limiter == nil {
		return nil
	}
	return t.Limiter.Wait(ctx)
}

func (t *StageTask) Report(percent int, message string) {
	if t.Progress != nil {
		t.Progress.Report(percent, message)
	}
}

type StageHandler interface {
	Handle(ctx context.Context, task *StageTask) (any, error)
}

type StageHandlerFunc func(ctx context.Context, task *StageTask) (any, error)

func (f StageHandlerFunc) Handle(ctx context.Context, task *StageTask) (any, error) {
	return f(ctx, task)
}
