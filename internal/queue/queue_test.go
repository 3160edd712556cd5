package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"clipfactory/internal/events"
	"clipfactory/internal/stageexec"
	"clipfactory/internal/types"
	apperrors "clipfactory/pkg/errors"
)

func TestTaskNaming(t *testing.T) {
	assert.Equal(t, "render:abc", TaskID(types.StageRender, "abc"))
	assert.Equal(t, "stage:texts", TypeName(types.StageTexts))
	assert.Equal(t, "export", QueueName(types.StageExport))
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 3, cfg.Retry.MaxRetry)
	assert.Equal(t, 24*time.Hour, cfg.Retention)
	assert.Equal(t, 10*time.Second, cfg.Retry.Base)
	assert.Equal(t, 10*time.Minute, cfg.Retry.Cap)
}

func TestRetryDelayFunc(t *testing.T) {
	delay := RetryDelayFunc(stageexec.DefaultRetryPolicy())
	task := asynq.NewTask(TypeName(types.StageRank), nil)

	assert.Equal(t, 10*time.Second, delay(0, errors.New("x"), task))
	assert.Equal(t, 80*time.Second, delay(3, errors.New("x"), task))
	assert.Equal(t, 10*time.Minute, delay(12, errors.New("x"), task))
	assert.Equal(t, 2*time.Second, delay(1, apperrors.RateLimited("limiter", 2*time.Second, nil), task))
}

func TestIsFailure(t *testing.T) {
	assert.False(t, IsFailure(apperrors.RateLimited("limiter", time.Second, nil)))
	assert.True(t, IsFailure(apperrors.Transient("5xx", nil)))
	assert.True(t, IsFailure(errors.New("plain")))
}

func TestClassify(t *testing.T) {
	assert.NoError(t, classify(nil))

	err := classify(apperrors.ErrCredentialsMissing)
	assert.ErrorIs(t, err, asynq.SkipRetry)
	assert.True(t, apperrors.Is(err, apperrors.CodeCredentialsMissing))

	err = classify(apperrors.Transient("timeout", nil))
	assert.NotErrorIs(t, err, asynq.SkipRetry)
}

func TestHandlerRunsStage(t *testing.T) {
	bus := events.NewMemoryBus()
	ch, cancel, err := bus.Subscribe(context.Background(), events.JobTopic("root-1"))
	require.NoError(t, err)
	defer cancel()

	var got *types.StageTask
	handler := types.StageHandlerFunc(func(_ context.Context, task *types.StageTask) (any, error) {
		got = task
		return nil, nil
	})
	w := NewWorkers(DefaultConfig(), nil, bus, nil)
	h := w.Handler(types.StageScenes, handler, stageexec.RateLimit{})

	task := asynq.NewTask(TypeName(types.StageScenes), []byte(`{"rootId":"root-1"}`))
	require.NoError(t, h.ProcessTask(context.Background(), task))
	require.NotNil(t, got)
	assert.Equal(t, "root-1", got.Payload.RootID)
	assert.Equal(t, 1, got.Attempt)

	ev := <-ch
	assert.Equal(t, events.KindCompleted, ev.Kind)
}

func TestHandlerSkipsRetryOnUnrecoverable(t *testing.T) {
	handler := types.StageHandlerFunc(func(context.Context, *types.StageTask) (any, error) {
		return nil, apperrors.ErrUpstreamRankDataMissing
	})
	w := NewWorkers(DefaultConfig(), nil, nil, nil)
	h := w.Handler(types.StageRender, handler, stageexec.RateLimit{})

	err := h.ProcessTask(context.Background(), asynq.NewTask(TypeName(types.StageRender), []byte(`{"rootId":"r"}`)))
	assert.ErrorIs(t, err, asynq.SkipRetry)

	err = h.ProcessTask(context.Background(), asynq.NewTask(TypeName(types.StageRender), []byte(`not json`)))
	assert.ErrorIs(t, err, asynq.SkipRetry)
}
