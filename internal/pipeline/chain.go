package pipeline

import (
	"context"
	"errors"
	"sync"

	"clipfactory/internal/types"
	"clipfactory/log"

	"go.uber.org/zap"
)

// Chainer decides what runs after a stage completes.
type Chainer interface {
	OnStageComplete(ctx context.Context, rootID string, stage types.Stage) error
}

// DecentralizedChainer lets each completing handler enqueue its successor
// with the root id as idempotency key.
type DecentralizedChainer struct {
	broker types.Broker
}

func NewDecentralizedChainer(broker types.Broker) *DecentralizedChainer {
	return &DecentralizedChainer{broker: broker}
}

func (c *DecentralizedChainer) OnStageComplete(ctx context.Context, rootID string, stage types.Stage) error {
	next, ok := stage.Next()
	if !ok {
		return nil
	}
	res, err := c.broker.Enqueue(ctx, next, types.StagePayload{RootID: rootID}, rootID)
	if err != nil {
		return err
	}
	log.GetLogger().Info("pipeline: next stage enqueued",
		zap.String("root_id", rootID),
		zap.String("from", stage.String()),
		zap.String("to", next.String()),
		zap.Bool("duplicate", res.Duplicate))
	return nil
}

var ErrBrokerUnset = errors.New("pipeline: broker not set")

// LateBroker forwards to a broker assigned after construction. The
// in-process runner needs the stage handlers, and the handlers need a
// broker to chain with.
type LateBroker struct {
	mu     sync.RWMutex
	broker types.Broker
}

func (l *LateBroker) Set(b types.Broker) {
	l.mu.Lock()
	l.broker = b
	l.mu.Unlock()
}

func (l *LateBroker) Enqueue(ctx context.Context, stage types.Stage, payload types.StagePayload, idempotencyKey string) (types.EnqueueResult, error) {
	l.mu.RLock()
	b := l.broker
	l.mu.RUnlock()
	if b == nil {
		return types.EnqueueResult{}, ErrBrokerUnset
	}
	return b.Enqueue(ctx, stage, payload, idempotencyKey)
}
