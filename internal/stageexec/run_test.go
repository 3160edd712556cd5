package stageexec

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"clipfactory/internal/events"
	"clipfactory/internal/types"
	apperrors "clipfactory/pkg/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

type memStates struct {
	mu     sync.Mutex
	states map[types.Stage]types.StageState
	writes int
}

func newMemStates() *memStates {
	return &memStates{states: map[types.Stage]types.StageState{}}
}

func (m *memStates) UpdateStage(_ context.Context, _ string, stage types.Stage, mutate func(*types.StageState)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	state := m.states[stage]
	state.Stage = stage
	mutate(&state)
	m.states[stage] = state
	m.writes++
	return nil
}

func (m *memStates) get(stage types.Stage) types.StageState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.states[stage]
}

func drain(ch <-chan events.Event) []events.Event {
	var out []events.Event
	for {
		select {
		case ev := <-ch:
			out = append(out, ev)
		default:
			return out
		}
	}
}

func subscribe(t *testing.T, bus events.Bus, topic string) <-chan events.Event {
	t.Helper()
	ch, cancel, err := bus.Subscribe(context.Background(), topic)
	require.NoError(t, err)
	t.Cleanup(cancel)
	return ch
}

func newTask(stage types.Stage) *types.StageTask {
	return &types.StageTask{
		ID:      stage.String() + ":root-1",
		Stage:   stage,
		Payload: types.StagePayload{RootID: "root-1"},
		Attempt: 1,
	}
}

func TestRunSuccessPublishesMonotonicProgress(t *testing.T) {
	store := newMemStates()
	bus := events.NewMemoryBus()
	ch := subscribe(t, bus, events.JobTopic("root-1"))

	handler := types.StageHandlerFunc(func(ctx context.Context, task *types.StageTask) (any, error) {
		task.Report(10, "a")
		task.Report(5, "ignored")
		task.Report(10, "ignored")
		task.Report(60, "b")
		task.Report(150, "capped")
		return map[string]int{"clips": 3}, nil
	})

	result, err := Run(context.Background(), Options{Store: store, Bus: bus, Handler: handler, Task: newTask(types.StageRender)})
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"clips": 3}, result)

	evs := drain(ch)
	require.Len(t, evs, 4)
	assert.Equal(t, []int{10, 60, 99, 100}, []int{evs[0].Progress, evs[1].Progress, evs[2].Progress, evs[3].Progress})
	assert.Equal(t, events.KindCompleted, evs[3].Kind)
	assert.JSONEq(t, `{"clips":3}`, string(evs[3].Result))

	state := store.get(types.StageRender)
	assert.Equal(t, types.StageStatusCompleted, state.Status)
	assert.Equal(t, 100, state.Progress)
	assert.Equal(t, 1, state.Attempt)
}

func TestRunRetryableFailureStaysPending(t *testing.T) {
	store := newMemStates()
	bus := events.NewMemoryBus()
	ch := subscribe(t, bus, events.JobTopic("root-1"))

	handler := types.StageHandlerFunc(func(context.Context, *types.StageTask) (any, error) {
		return nil, apperrors.Transient("model timeout", errors.New("deadline"))
	})
	_, err := Run(context.Background(), Options{Store: store, Bus: bus, Handler: handler, Task: newTask(types.StageTexts)})
	require.Error(t, err)
	assert.True(t, apperrors.IsRetryable(err))

	state := store.get(types.StageTexts)
	assert.Equal(t, types.StageStatusPending, state.Status)
	assert.Equal(t, apperrors.CodeUpstreamTransient, state.ErrorCode)
	assert.Contains(t, state.LastError, "model timeout")
	assert.Empty(t, drain(ch))
}

func TestRunFinalAttemptFails(t *testing.T) {
	store := newMemStates()
	bus := events.NewMemoryBus()
	ch := subscribe(t, bus, events.RootTopic("root-1"))

	handler := types.StageHandlerFunc(func(context.Context, *types.StageTask) (any, error) {
		return nil, apperrors.Transient("still down", nil)
	})
	_, err := Run(context.Background(), Options{Store: store, Bus: bus, Handler: handler, Task: newTask(types.StageTexts), Final: true})
	require.Error(t, err)

	assert.Equal(t, types.StageStatusFailed, store.get(types.StageTexts).Status)
	evs := drain(ch)
	require.Len(t, evs, 1)
	assert.Equal(t, events.KindFailed, evs[0].Kind)
	assert.Equal(t, apperrors.CodeUpstreamTransient, evs[0].Code)
}

func TestRunUnrecoverableFailsImmediately(t *testing.T) {
	store := newMemStates()
	bus := events.NewMemoryBus()
	ch := subscribe(t, bus, events.JobTopic("root-1"))

	handler := types.StageHandlerFunc(func(context.Context, *types.StageTask) (any, error) {
		return nil, apperrors.ErrNoTranscriptSegments
	})
	_, err := Run(context.Background(), Options{Store: store, Bus: bus, Handler: handler, Task: newTask(types.StageScenes)})
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.CodeNoTranscriptSegments))

	state := store.get(types.StageScenes)
	assert.Equal(t, types.StageStatusFailed, state.Status)
	assert.Equal(t, apperrors.CodeNoTranscriptSegments, state.ErrorCode)
	evs := drain(ch)
	require.Len(t, evs, 1)
	assert.Equal(t, events.KindFailed, evs[0].Kind)
}

func TestRunRateGateRejectsLongWait(t *testing.T) {
	store := newMemStates()
	limiter := rate.NewLimiter(rate.Every(time.Hour), 1)
	require.True(t, limiter.Allow())

	called := false
	handler := types.StageHandlerFunc(func(context.Context, *types.StageTask) (any, error) {
		called = true
		return nil, nil
	})
	_, err := Run(context.Background(), Options{
		Store:   store, Handler: handler, Task: newTask(types.StageTranscribe),
		Limiter: limiter, MaxWait: time.Second,
	})
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.CodeRateLimited))
	assert.Greater(t, apperrors.RetryAfter(err), 30*time.Minute)
	assert.False(t, called)
	assert.Zero(t, store.writes)

	// The cancelled reservation returns its token to the bucket.
	assert.Greater(t, limiter.Tokens(), -0.5)
}

func TestRunRateGateWaitsShortDelay(t *testing.T) {
	limiter := rate.NewLimiter(rate.Every(20*time.Millisecond), 1)
	require.True(t, limiter.Allow())

	handler := types.StageHandlerFunc(func(context.Context, *types.StageTask) (any, error) {
		return "ok", nil
	})
	result, err := Run(context.Background(), Options{
		Handler: handler, Task: newTask(types.StageRank), Limiter: limiter, MaxWait: time.Second,
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", result)
}

func TestExportPublishesUnderExportID(t *testing.T) {
	store := newMemStates()
	bus := events.NewMemoryBus()
	ch := subscribe(t, bus, events.JobTopic("exp-9"))

	task := newTask(types.StageExport)
	task.Payload.ExportID = "exp-9"
	handler := types.StageHandlerFunc(func(_ context.Context, task *types.StageTask) (any, error) {
		task.Report(50, "uploading")
		return nil, nil
	})
	_, err := Run(context.Background(), Options{Store: store, Bus: bus, Handler: handler, Task: task})
	require.NoError(t, err)

	evs := drain(ch)
	require.Len(t, evs, 2)
	assert.Equal(t, "exp-9", evs[0].JobID)
	assert.Equal(t, "root-1", evs[0].RootID)
	assert.Zero(t, store.writes)
}
