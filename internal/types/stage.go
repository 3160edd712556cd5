package types

import "fmt"

// Stage is one unit of the fixed processing chain.
type Stage string

const (
	StageIngest     Stage = "ingest"
	StageTranscribe Stage = "transcribe"
	StageScenes     Stage = "scenes"
	StageRank       Stage = "rank"
	StageRender     Stage = "render"
	StageTexts      Stage = "texts"
	StageExport     Stage = "export"
)

// PipelineStages is the main chain in execution order. Export fans out per
// clip and is not part of it.
var PipelineStages = []Stage{
	StageIngest,
	StageTranscribe,
	StageScenes,
	StageRank,
	StageRender,
	StageTexts,
}

// AllStages lists every stage that owns a worker pool.
var AllStages = append(append([]Stage{}, PipelineStages...), StageExport)

// Next returns the stage that follows s in the main chain.
func (s Stage) Next() (Stage, bool) {
	for i, stage := range PipelineStages {
		if stage == s && i+1 < len(PipelineStages) {
			return PipelineStages[i+1], true
		}
	}
	return "", false
}

// Previous returns the stage whose artifacts s consumes.
func (s Stage) Previous() (Stage, bool) {
	for i, stage := range PipelineStages {
		if stage == s && i > 0 {
			return PipelineStages[i-1], true
		}
	}
	return "", false
}

func (s Stage) String() string { return string(s) }

func ParseStage(raw string) (Stage, error) {
	for _, stage := range AllStages {
		if string(stage) == raw {
			return stage, nil
		}
	}
	return "", fmt.Errorf("unknown stage %q", raw)
}
