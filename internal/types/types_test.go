package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStageNext(t *testing.T) {
	next, ok := StageIngest.Next()
	require.True(t, ok)
	assert.Equal(t, StageTranscribe, next)

	next, ok = StageRender.Next()
	require.True(t, ok)
	assert.Equal(t, StageTexts, next)

	_, ok = StageTexts.Next()
	assert.False(t, ok)
	_, ok = StageExport.Next()
	assert.False(t, ok)

	prev, ok := StageRank.Previous()
	require.True(t, ok)
	assert.Equal(t, StageScenes, prev)
}

func TestParseStage(t *testing.T) {
	stage, err := ParseStage("export")
	require.NoError(t, err)
	assert.Equal(t, StageExport, stage)

	_, err = ParseStage("translate")
	assert.Error(t, err)
}

func TestTranscriptSanitize(t *testing.T) {
	tr := Transcript{
		Duration: 10,
		Segments: []Segment{
			{Start: 5, End: 12, Text: " tail "},
			{Start: 1, End: 2, Text: "first"},
			{Start: 3, End: 3, Text: "zero length"},
			{Start: 4, End: 4.5, Text: "   "},
		},
	}
	tr.Sanitize()

	require.Len(t, tr.Segments, 2)
	assert.Equal(t, "first", tr.Segments[0].Text)
	assert.Equal(t, "tail", tr.Segments[1].Text)
	assert.Equal(t, 10.0, tr.Segments[1].End)
}

func TestTranscriptTextBetween(t *testing.T) {
	tr := Transcript{Segments: []Segment{
		{Start: 0, End: 2, Text: "a"},
		{Start: 2, End: 4, Text: "b"},
		{Start: 4, End: 6, Text: "c"},
	}}
	assert.Equal(t, "a b", tr.TextBetween(1, 4))
	assert.Equal(t, "c", tr.TextBetween(4, 10))
}

func TestExportTransitions(t *testing.T) {
	t.Run("happy path", func(t *testing.T) {
		rec := &ExportRecord{Status: ExportQueued}
		require.NoError(t, rec.Transition(ExportUploading))
		require.NoError(t, rec.Transition(ExportProcessing))
		require.NoError(t, rec.Transition(ExportDone))
		assert.True(t, rec.Status.Terminal())
	})

	t.Run("auth failure skips uploading", func(t *testing.T) {
		rec := &ExportRecord{Status: ExportQueued}
		require.NoError(t, rec.Transition(ExportFailed))
		assert.Error(t, rec.Transition(ExportUploading))
	})

	t.Run("no backwards moves", func(t *testing.T) {
		rec := &ExportRecord{Status: ExportProcessing}
		assert.Error(t, rec.Transition(ExportUploading))
		assert.Error(t, rec.Transition(ExportQueued))
		assert.Equal(t, ExportProcessing, rec.Status)
	})

	t.Run("done cannot fail", func(t *testing.T) {
		rec := &ExportRecord{Status: ExportDone}
		assert.Error(t, rec.Transition(ExportFailed))
	})
}

func TestPipelineJobOverall(t *testing.T) {
	job := &PipelineJob{}
	state, progress := job.Overall()
	assert.Equal(t, "queued", state)
	assert.Equal(t, 0, progress)

	job.StageStates = []StageState{
		{Stage: StageIngest, Status: StageStatusCompleted, Progress: 100},
		{Stage: StageTranscribe, Status: StageStatusActive, Progress: 50},
	}
	state, progress = job.Overall()
	assert.Equal(t, "running", state)
	assert.Equal(t, 25, progress)

	job.StageStates[1].Status = StageStatusFailed
	state, _ = job.Overall()
	assert.Equal(t, "failed", state)

	job.StageStates = nil
	for _, stage := range PipelineStages {
		job.StageStates = append(job.StageStates, StageState{Stage: stage, Status: StageStatusCompleted, Progress: 100})
	}
	state, progress = job.Overall()
	assert.Equal(t, "completed", state)
	assert.Equal(t, 100, progress)
}
