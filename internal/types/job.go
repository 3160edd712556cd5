package types

import (
	"encoding/json"
	"time"
)

type StageStatus string

const (
	StageStatusPending   StageStatus = "pending"
	StageStatusActive    StageStatus = "active"
	StageStatusCompleted StageStatus = "completed"
	StageStatusFailed    StageStatus = "failed"
)

// PipelineJob is one source video's run through the chain. RootID is derived
// from the normalized source reference so re-submission dedupes.
type PipelineJob struct {
	Id          uint         `gorm:"primaryKey" json:"-"`
	RootID      string       `gorm:"uniqueIndex;size:32" json:"rootId"`
	SourceRef   string       `json:"sourceRef"`
	Meta        string       `json:"-"`
	StageStates []StageState `gorm:"foreignKey:RootID;references:RootID" json:"stageStates"`
	CreatedAt   time.Time    `json:"createdAt"`
	UpdatedAt   time.Time    `json:"updatedAt"`
}

type StageState struct {
	Id        uint        `gorm:"primaryKey" json:"-"`
	RootID    string      `gorm:"uniqueIndex:idx_root_stage;size:32" json:"-"`
	Stage     Stage       `gorm:"uniqueIndex:idx_root_stage;size:16" json:"stage"`
	Status    StageStatus `gorm:"size:16" json:"status"`
	Progress  int         `json:"progress"`
	Attempt   int         `json:"attempt"`
	ErrorCode int         `json:"errorCode,omitempty"`
	LastError string      `json:"lastError,omitempty"`
	UpdatedAt time.Time   `json:"updatedAt"`
}

func (j *PipelineJob) MetaMap() map[string]string {
	out := map[string]string{}
	if j.Meta != "" {
		_ = json.Unmarshal([]byte(j.Meta), &out)
	}
	return out
}

func (j *PipelineJob) State(stage Stage) (StageState, bool) {
	for _, state := range j.StageStates {
		if state.Stage == stage {
			return state, true
		}
	}
	return StageState{}, false
}

// Overall folds the per-stage states into one job state and percentage.
func (j *PipelineJob) Overall() (string, int) {
	total := 0
	running := false
	for _, stage := range PipelineStages {
		state, ok := j.State(stage)
		if !ok {
			continue
		}
		switch state.Status {
		case StageStatusFailed:
			return "failed", total / len(PipelineStages)
		case StageStatusCompleted:
			total += 100
		case StageStatusActive:
			running = true
			total += state.Progress
		case StageStatusPending:
			running = true
		}
	}
	progress := total / len(PipelineStages)
	if last, ok := j.State(PipelineStages[len(PipelineStages)-1]); ok && last.Status == StageStatusCompleted {
		return "completed", 100
	}
	if running || progress > 0 {
		return "running", progress
	}
	return "queued", 0
}
