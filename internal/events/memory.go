package events

import (
	"context"
	"sync"
	"time"

	"clipfactory/log"

	"go.uber.org/zap"
)

const subscriberBuffer = 64

type MemoryBus struct {
	mu   sync.RWMutex
	subs map[string]map[chan Event]struct{}
}

func NewMemoryBus() *MemoryBus {
	return &MemoryBus{subs: map[string]map[chan Event]struct{}{}}
}

// Publish never blocks; a subscriber whose buffer is full misses the event.
func (b *MemoryBus) Publish(_ context.Context, ev Event) error {
	if ev.Time.IsZero() {
		ev.Time = time.Now().UTC()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, topic := range ev.Topics() {
		for ch := range b.subs[topic] {
			select {
			case ch <- ev:
			default:
				log.GetLogger().Warn("events: subscriber lagging, dropping event",
					zap.String("topic", topic), zap.String("kind", string(ev.Kind)))
			}
		}
	}
	return nil
}

func (b *MemoryBus) Subscribe(ctx context.Context, topic string) (<-chan Event, func(), error) {
	ch := make(chan Event, subscriberBuffer)
	b.mu.Lock()
	if b.subs[topic] == nil {
		b.subs[topic] = map[chan Event]struct{}{}
	}
	b.subs[topic][ch] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs[topic], ch)
			if len(b.subs[topic]) == 0 {
				delete(b.subs, topic)
			}
			b.mu.Unlock()
			close(ch)
		})
	}
	go func() {
		<-ctx.Done()
		cancel()
	}()
	return ch, cancel, nil
}
