// Package events fans stage progress out to subscribers keyed by job id and
// root id. MemoryBus serves a single process; RedisBus relays across
// processes over pub/sub.
package events

import (
	"context"
	"encoding/json"
	"time"

	"clipfactory/internal/types"
)

type Kind string

const (
	KindProgress  Kind = "progress"
	KindCompleted Kind = "completed"
	KindFailed    Kind = "failed"
)

type Event struct {
	JobID    string          `json:"jobId"`
	RootID   string          `json:"rootId"`
	Stage    types.Stage     `json:"stage"`
	Kind     Kind            `json:"kind"`
	Progress int             `json:"progress"`
	Message  string          `json:"message,omitempty"`
	Result   json.RawMessage `json:"result,omitempty"`
	Code     int             `json:"code,omitempty"`
	Error    string          `json:"error,omitempty"`
	Time     time.Time       `json:"time"`
}

// Terminal reports whether the event ends a stage.
func (e Event) Terminal() bool {
	return e.Kind == KindCompleted || e.Kind == KindFailed
}

func JobTopic(jobID string) string   { return "job:" + jobID }
func RootTopic(rootID string) string { return "root:" + rootID }

// Topics lists where an event is delivered. Job and root topics never
// collide because they carry different prefixes.
func (e Event) Topics() []string {
	topics := []string{JobTopic(e.JobID)}
	if e.RootID != "" {
		topics = append(topics, RootTopic(e.RootID))
	}
	return topics
}

type Bus interface {
	Publish(ctx context.Context, ev Event) error
	// Subscribe delivers events for topic until cancel is called or ctx ends.
	Subscribe(ctx context.Context, topic string) (<-chan Event, func(), error)
}
