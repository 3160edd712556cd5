package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"clipfactory/log"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const DefaultChannelPrefix = "clipfactory:events:"

// RedisBus publishes every event on clipfactory:events:job:<id> and
// clipfactory:events:root:<rootId>.
type RedisBus struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisBus(client redis.UniversalClient, prefix string) *RedisBus {
	if prefix == "" {
		prefix = DefaultChannelPrefix
	}
	return &RedisBus{client: client, prefix: prefix}
}

func (b *RedisBus) Channel(topic string) string { return b.prefix + topic }

func (b *RedisBus) Publish(ctx context.Context, ev Event) error {
	if ev.Time.IsZero() {
		ev.Time = time.Now().UTC()
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("events marshal: %w", err)
	}
	for _, topic := range ev.Topics() {
		if err := b.client.Publish(ctx, b.Channel(topic), data).Err(); err != nil {
			return fmt.Errorf("events publish %s: %w", topic, err)
		}
	}
	return nil
}

func (b *RedisBus) Subscribe(ctx context.Context, topic string) (<-chan Event, func(), error) {
	ps := b.client.Subscribe(ctx, b.Channel(topic))
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, nil, fmt.Errorf("events subscribe %s: %w", topic, err)
	}

	out := make(chan Event, subscriberBuffer)
	subCtx, cancel := context.WithCancel(ctx)
	go func() {
		defer close(out)
		defer ps.Close()
		msgs := ps.Channel()
		for {
			select {
			case <-subCtx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var ev Event
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					log.GetLogger().Warn("events: undecodable message", zap.String("channel", msg.Channel), zap.Error(err))
					continue
				}
				select {
				case out <- ev:
				case <-subCtx.Done():
					return
				}
			}
		}
	}()
	return out, cancel, nil
}
