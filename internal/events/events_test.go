package events

import (
	"context"
	"testing"
	"time"

	"clipfactory/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func receive(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(time.Second):
		t.Fatal("no event received")
		return Event{}
	}
}

func TestTopics(t *testing.T) {
	ev := Event{JobID: "exp-1", RootID: "root-1"}
	assert.Equal(t, []string{"job:exp-1", "root:root-1"}, ev.Topics())

	ev = Event{JobID: "exp-1"}
	assert.Equal(t, []string{"job:exp-1"}, ev.Topics())
}

func TestMemoryBusDeliversToJobAndRoot(t *testing.T) {
	bus := NewMemoryBus()
	ctx := context.Background()

	jobCh, cancelJob, err := bus.Subscribe(ctx, JobTopic("exp-1"))
	require.NoError(t, err)
	defer cancelJob()
	rootCh, cancelRoot, err := bus.Subscribe(ctx, RootTopic("root-1"))
	require.NoError(t, err)
	defer cancelRoot()

	require.NoError(t, bus.Publish(ctx, Event{
		JobID: "exp-1", RootID: "root-1", Stage: types.StageExport, Kind: KindProgress, Progress: 40,
	}))

	got := receive(t, jobCh)
	assert.Equal(t, 40, got.Progress)
	assert.False(t, got.Time.IsZero())
	assert.Equal(t, types.StageExport, receive(t, rootCh).Stage)
}

func TestMemoryBusCancelClosesChannel(t *testing.T) {
	bus := NewMemoryBus()
	ch, cancel, err := bus.Subscribe(context.Background(), JobTopic("a"))
	require.NoError(t, err)
	cancel()
	cancel()

	_, ok := <-ch
	assert.False(t, ok)
	assert.NoError(t, bus.Publish(context.Background(), Event{JobID: "a", Kind: KindCompleted}))
}

func TestMemoryBusContextEndsSubscription(t *testing.T) {
	bus := NewMemoryBus()
	ctx, cancel := context.WithCancel(context.Background())
	ch, _, err := bus.Subscribe(ctx, JobTopic("a"))
	require.NoError(t, err)
	cancel()

	select {
	case _, ok := <-ch:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("subscription not closed")
	}
}

func TestMemoryBusDropsWhenSubscriberIsFull(t *testing.T) {
	bus := NewMemoryBus()
	ch, cancel, err := bus.Subscribe(context.Background(), JobTopic("a"))
	require.NoError(t, err)
	defer cancel()

	for i := 0; i < subscriberBuffer+10; i++ {
		require.NoError(t, bus.Publish(context.Background(), Event{JobID: "a", Progress: i}))
	}
	assert.Len(t, ch, subscriberBuffer)
	assert.Equal(t, 0, receive(t, ch).Progress)
}

func TestTerminal(t *testing.T) {
	assert.True(t, Event{Kind: KindFailed}.Terminal())
	assert.True(t, Event{Kind: KindCompleted}.Terminal())
	assert.False(t, Event{Kind: KindProgress}.Terminal())
}

func TestRedisChannelNames(t *testing.T) {
	bus := NewRedisBus(nil, "")
	assert.Equal(t, "clipfactory:events:job:abc", bus.Channel(JobTopic("abc")))
	assert.Equal(t, "clipfactory:events:root:r1", bus.Channel(RootTopic("r1")))
}
