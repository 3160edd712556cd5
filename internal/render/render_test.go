package render

import (
	"context"
	"errors"
	"os"
	"strings"
	"sync"
	"testing"

	"clipfactory/internal/media"
	"clipfactory/internal/objectstore"
	"clipfactory/internal/types"
	apperrors "clipfactory/pkg/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fileRunner writes a placeholder to the output path (the last argument).
type fileRunner struct {
	mu     sync.Mutex
	calls  [][]string
	failOn string
}

func (r *fileRunner) Run(_ context.Context, args []string, onProgress media.ProgressFunc) (string, error) {
	r.mu.Lock()
	r.calls = append(r.calls, args)
	r.mu.Unlock()
	out := args[len(args)-1]
	if r.failOn != "" && strings.Contains(strings.Join(args, " "), r.failOn) {
		return "boom", errors.New("exit status 1")
	}
	if onProgress != nil {
		onProgress(5)
	}
	return "", os.WriteFile(out, []byte("data"), 0o644)
}

func (r *fileRunner) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

type recorder struct {
	mu   sync.Mutex
	pcts []int
}

func (r *recorder) Report(pct int, _ string) {
	r.mu.Lock()
	r.pcts = append(r.pcts, pct)
	r.mu.Unlock()
}

func items(n int) []types.RankedItem {
	out := make([]types.RankedItem, n)
	for i := range out {
		id := "scene_0" + string(rune('0'+i))
		out[i] = types.RankedItem{SceneCandidate: types.SceneCandidate{ID: id, Start: float64(i) * 40, End: float64(i)*40 + 30}}
	}
	return out
}

func setup(t *testing.T, runner *fileRunner) (*Orchestrator, *objectstore.FileStore, string) {
	t.Helper()
	store, err := objectstore.NewFileStore(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, store.Put(context.Background(), objectstore.SourceKey("root"), []byte("video")))
	work := t.TempDir()
	o := NewOrchestrator(DefaultConfig(), runner, store, work)
	o.numCPU = func() int { return 6 }
	return o, store, work
}

func transcript() *types.Transcript {
	return &types.Transcript{Segments: []types.Segment{{Start: 0, End: 200, Text: "hello there"}}}
}

func TestRenderProducesClipsAndThumbnails(t *testing.T) {
	runner := &fileRunner{}
	o, store, work := setup(t, runner)
	rec := &recorder{}

	res, err := o.Render(context.Background(), Request{RootID: "root", Items: items(4), Transcript: transcript(), HasAudio: true, Progress: rec})
	require.NoError(t, err)
	assert.Equal(t, 4, res.ClipsGenerated)
	assert.Empty(t, res.Failed)
	assert.Equal(t, 8, runner.count())

	for _, clip := range res.Clips {
		ok, err := store.Exists(context.Background(), clip.VideoKey)
		require.NoError(t, err)
		assert.True(t, ok)
		ok, err = store.Exists(context.Background(), clip.ThumbnailKey)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, 30.0, clip.Duration)
	}

	joined := strings.Join(runner.calls[0], " ")
	if !strings.Contains(joined, "-filter_complex") {
		joined = strings.Join(runner.calls[1], " ")
	}
	assert.Contains(t, joined, "-threads 2")
	assert.Contains(t, joined, "loudnorm=I=-14:TP=-1.5:LRA=11")
	assert.Contains(t, joined, "force_style=")

	entries, err := os.ReadDir(work)
	require.NoError(t, err)
	assert.Empty(t, entries, "temp dir removed")

	require.NotEmpty(t, rec.pcts)
	assert.Equal(t, 100, rec.pcts[len(rec.pcts)-1])
	for _, p := range rec.pcts {
		assert.LessOrEqual(t, p, 100)
	}
}

func TestRenderSkipsWhenClipsExist(t *testing.T) {
	runner := &fileRunner{}
	o, store, _ := setup(t, runner)
	require.NoError(t, store.Put(context.Background(), objectstore.ClipVideoKey("root", "scene_00"), []byte("x")))

	res, err := o.Render(context.Background(), Request{RootID: "root", Items: items(2)})
	require.NoError(t, err)
	assert.True(t, res.Skipped)
	assert.Zero(t, res.ClipsGenerated)
	assert.Zero(t, runner.count())

	res, err = o.Render(context.Background(), Request{RootID: "root", Items: items(2), ClipIDs: []string{"scene_01"}})
	require.NoError(t, err)
	assert.Equal(t, 1, res.ClipsGenerated)
	assert.Equal(t, "scene_01", res.Clips[0].ClipID)
}

func TestRenderIsolatesClipFailures(t *testing.T) {
	runner := &fileRunner{failOn: "scene_01.mp4"}
	o, _, _ := setup(t, runner)

	res, err := o.Render(context.Background(), Request{RootID: "root", Items: items(3), Transcript: transcript()})
	require.NoError(t, err)
	assert.Equal(t, 2, res.ClipsGenerated)
	require.Len(t, res.Failed, 1)
	assert.Equal(t, "scene_01", res.Failed[0].ClipID)
}

func TestRenderAllFailedIsRetryable(t *testing.T) {
	runner := &fileRunner{failOn: "-filter_complex"}
	o, _, work := setup(t, runner)

	_, err := o.Render(context.Background(), Request{RootID: "root", Items: items(2)})
	require.Error(t, err)
	assert.True(t, apperrors.IsRetryable(err))

	entries, err := os.ReadDir(work)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestRenderRequiresItems(t *testing.T) {
	o, _, _ := setup(t, &fileRunner{})
	_, err := o.Render(context.Background(), Request{RootID: "root"})
	assert.Equal(t, apperrors.CodeUpstreamRankDataMissing, apperrors.GetCode(err))
}

func TestVideoGraphModes(t *testing.T) {
	cfg := DefaultConfig()
	crop := videoGraph(cfg, "/tmp/a.ass")
	assert.Contains(t, crop, "crop=1080:1920")
	assert.NotContains(t, crop, "boxblur")

	cfg.Mode = ModeBlur
	blur := videoGraph(cfg, "/tmp/a.ass")
	assert.Contains(t, blur, "boxblur")
	assert.Contains(t, blur, "overlay=(W-w)/2:(H-h)/2")
	assert.True(t, strings.HasSuffix(blur, "[v]"))
}

func TestEscapeFilterPath(t *testing.T) {
	assert.Equal(t, `C\:/work/it\'s.ass`, escapeFilterPath(`C:\work\it's.ass`))
}

func TestThumbnailSeeksToMiddle(t *testing.T) {
	args := thumbnailArgs("clip.mp4", "clip.jpg", 30)
	assert.Equal(t, []string{"-y", "-ss", "15.000", "-i", "clip.mp4", "-frames:v", "1", "-q:v", "3", "clip.jpg"}, args)
}
