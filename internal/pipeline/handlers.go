package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"clipfactory/internal/appdirs"
	"clipfactory/internal/media"
	"clipfactory/internal/objectstore"
	"clipfactory/internal/render"
	"clipfactory/internal/subtitle"
	"clipfactory/internal/texts"
	"clipfactory/internal/types"
	"clipfactory/log"
	apperrors "clipfactory/pkg/errors"

	"github.com/samber/lo"
	"go.uber.org/zap"
)

// Job meta keys understood by the chain.
const (
	MetaAutoExport = "auto_export"
	MetaUserID     = "user_id"
	MetaLanguage   = "language"
)

type SceneSegmenter interface {
	Segment(ctx context.Context, tr *types.Transcript, audioPath string) (*types.ScenesResult, error)
}

type ClipRanker interface {
	Rank(ctx context.Context, candidates []types.SceneCandidate, tr *types.Transcript) (*types.RankResult, error)
}

type ClipRenderer interface {
	Render(ctx context.Context, req render.Request) (*types.RenderResult, error)
}

type TextGenerator interface {
	Generate(ctx context.Context, req texts.Request) (*types.TextsResult, error)
}

type ClipExporter interface {
	Export(ctx context.Context, exportID string, progress types.ProgressReporter) (*types.ExportRecord, error)
	Abandon(ctx context.Context, exportID string, cause error) error
}

// ExportRequester creates export records and enqueues their tasks.
type ExportRequester interface {
	RequestExport(ctx context.Context, rootID, clipID, userID string) (*types.ExportRecord, error)
}

type JobReader interface {
	GetJob(ctx context.Context, rootID string) (*types.PipelineJob, error)
}

type Config struct {
	Language string `toml:"language"`
	// MaxSourceSeconds rejects sources longer than this at ingest.
	MaxSourceSeconds float64 `toml:"max_source_seconds"`
	// ChunkSeconds splits longer audio before transcription.
	ChunkSeconds int `toml:"chunk_seconds"`
}

func DefaultConfig() Config {
	return Config{
		MaxSourceSeconds: 4 * 3600,
		ChunkSeconds:     600,
	}
}

type Deps struct {
	Store       types.ObjectStore
	Jobs        JobReader
	Runner      media.Runner
	Prober      media.Prober
	Fetcher     SourceFetcher
	Transcriber types.Transcriber
	Scenes      SceneSegmenter
	Ranker      ClipRanker
	Renderer    ClipRenderer
	Texts       TextGenerator
	// TextsLimiter paces individual model calls inside the texts stage.
	TextsLimiter types.Limiter
	Exporter     ClipExporter
	Exports      ExportRequester
	Chainer      Chainer
	Paths        appdirs.Paths
	Config       Config
}

// Handlers implements every stage of the chain plus the export fan-out.
type Handlers struct {
	deps Deps
}

func NewHandlers(deps Deps) *Handlers {
	if deps.Config.ChunkSeconds <= 0 {
		deps.Config.ChunkSeconds = DefaultConfig().ChunkSeconds
	}
	if deps.Config.MaxSourceSeconds <= 0 {
		deps.Config.MaxSourceSeconds = DefaultConfig().MaxSourceSeconds
	}
	return &Handlers{deps: deps}
}

// Map returns the handler for each stage, ready for a broker's workers.
func (h *Handlers) Map() map[types.Stage]types.StageHandler {
	return map[types.Stage]types.StageHandler{
		types.StageIngest:     types.StageHandlerFunc(h.Ingest),
		types.StageTranscribe: types.StageHandlerFunc(h.Transcribe),
		types.StageScenes:     types.StageHandlerFunc(h.Scenes),
		types.StageRank:       types.StageHandlerFunc(h.Rank),
		types.StageRender:     types.StageHandlerFunc(h.Render),
		types.StageTexts:      types.StageHandlerFunc(h.Texts),
		types.StageExport:     types.StageHandlerFunc(h.Export),
	}
}

type IngestResult struct {
	Duration float64 `json:"duration"`
	HasAudio bool    `json:"hasAudio"`
	Reused   bool    `json:"reused,omitempty"`
}

// Ingest stores the source video, its probe and a 16 kHz mono audio track.
func (h *Handlers) Ingest(ctx context.Context, task *types.StageTask) (any, error) {
	root := task.Payload.RootID
	var probe media.ProbeResult
	if ok, err := h.loadJSON(ctx, objectstore.ProbeKey(root), &probe); err != nil {
		return nil, err
	} else if ok {
		if exists, err := h.deps.Store.Exists(ctx, objectstore.AudioKey(root)); err != nil {
			return nil, err
		} else if exists {
			return &IngestResult{Duration: probe.Duration, HasAudio: probe.HasAudio, Reused: true}, h.chain(ctx, root, task.Stage)
		}
	}

	work, cleanup, err := h.workDir(root, task.Stage)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	source := filepath.Join(work, "source.mp4")
	sourceKey := objectstore.SourceKey(root)
	stored, err := h.deps.Store.Exists(ctx, sourceKey)
	if err != nil {
		return nil, err
	}
	if stored {
		err = h.deps.Store.GetFile(ctx, sourceKey, source)
	} else {
		ref, refErr := h.sourceRef(ctx, task)
		if refErr != nil {
			return nil, refErr
		}
		err = h.deps.Fetcher.Fetch(ctx, ref, source)
	}
	if err != nil {
		return nil, err
	}
	task.Report(30, "source fetched")

	probed, err := h.deps.Prober.Probe(ctx, source)
	if err != nil {
		return nil, err
	}
	if probed.Duration > h.deps.Config.MaxSourceSeconds {
		return nil, apperrors.WrapWithDetail(apperrors.CodeAudioTooLong, apperrors.ErrAudioTooLong.Message,
			fmt.Sprintf("%.0fs > %.0fs", probed.Duration, h.deps.Config.MaxSourceSeconds), nil)
	}
	if !probed.HasAudio {
		return nil, apperrors.WrapWithDetail(apperrors.CodeUnsupportedSource, "source has no audio track", root, nil)
	}

	if !stored {
		if err := h.deps.Store.PutFile(ctx, sourceKey, source); err != nil {
			return nil, err
		}
	}
	task.Report(50, "source stored")

	audio := filepath.Join(work, "audio.wav")
	if err := media.ExtractAudio(ctx, h.deps.Runner, source, audio); err != nil {
		return nil, err
	}
	if err := h.deps.Store.PutFile(ctx, objectstore.AudioKey(root), audio); err != nil {
		return nil, err
	}
	if err := h.putJSON(ctx, objectstore.ProbeKey(root), probed); err != nil {
		return nil, err
	}
	task.Report(95, "audio extracted")

	return &IngestResult{Duration: probed.Duration, HasAudio: probed.HasAudio}, h.chain(ctx, root, task.Stage)
}

type TranscribeResult struct {
	Language string `json:"language"`
	Segments int    `json:"segments"`
	Reused   bool   `json:"reused,omitempty"`
}

// Transcribe writes transcript.json plus SRT and VTT renderings. Audio
// longer than ChunkSeconds is split and the chunk transcripts are shifted
// by their offsets before merging.
func (h *Handlers) Transcribe(ctx context.Context, task *types.StageTask) (any, error) {
	root := task.Payload.RootID
	var existing types.Transcript
	if ok, err := h.loadJSON(ctx, objectstore.TranscriptKey(root), &existing); err != nil {
		return nil, err
	} else if ok {
		return &TranscribeResult{Language: existing.Language, Segments: len(existing.Segments), Reused: true}, h.chain(ctx, root, task.Stage)
	}

	var probe media.ProbeResult
	if ok, err := h.loadJSON(ctx, objectstore.ProbeKey(root), &probe); err != nil {
		return nil, err
	} else if !ok {
		return nil, apperrors.WrapWithDetail(apperrors.CodeArtifactMissing, apperrors.ErrArtifactMissing.Message, objectstore.ProbeKey(root), nil)
	}

	work, cleanup, err := h.workDir(root, task.Stage)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	audio := filepath.Join(work, "audio.wav")
	if err := h.deps.Store.GetFile(ctx, objectstore.AudioKey(root), audio); err != nil {
		return nil, err
	}

	language := h.language(ctx, root)
	chunks := []media.AudioChunk{{Path: audio}}
	if probe.Duration > float64(h.deps.Config.ChunkSeconds) {
		chunks, err = media.SplitAudio(ctx, h.deps.Runner, audio, filepath.Join(work, "chunks"), h.deps.Config.ChunkSeconds)
		if err != nil {
			return nil, err
		}
	}

	tr := &types.Transcript{Language: language, Duration: probe.Duration}
	for i, chunk := range chunks {
		part, err := h.deps.Transcriber.Transcribe(ctx, chunk.Path, language)
		if err != nil {
			return nil, err
		}
		if tr.Language == "" {
			tr.Language = part.Language
		}
		for _, seg := range part.Segments {
			seg.Start += chunk.Offset
			seg.End += chunk.Offset
			tr.Segments = append(tr.Segments, seg)
		}
		task.Report(10+80*(i+1)/len(chunks), fmt.Sprintf("transcribed chunk %d/%d", i+1, len(chunks)))
	}

	tr.Sanitize()
	if len(tr.Segments) == 0 {
		return nil, apperrors.ErrNoTranscriptSegments
	}

	if err := h.deps.Store.Put(ctx, objectstore.SRTKey(root), subtitle.RenderSRT(tr.Segments)); err != nil {
		return nil, err
	}
	if err := h.deps.Store.Put(ctx, objectstore.VTTKey(root), subtitle.RenderVTT(tr.Segments)); err != nil {
		return nil, err
	}
	// transcript.json last: its presence marks the stage complete.
	if err := h.putJSON(ctx, objectstore.TranscriptKey(root), tr); err != nil {
		return nil, err
	}

	log.GetLogger().Info("pipeline: transcript stored",
		zap.String("root_id", root), zap.Int("segments", len(tr.Segments)), zap.Int("chunks", len(chunks)))
	return &TranscribeResult{Language: tr.Language, Segments: len(tr.Segments)}, h.chain(ctx, root, task.Stage)
}

// Scenes runs segmentation on the stored transcript and audio.
func (h *Handlers) Scenes(ctx context.Context, task *types.StageTask) (any, error) {
	root := task.Payload.RootID
	var existing types.ScenesResult
	if ok, err := h.loadJSON(ctx, objectstore.ScenesKey(root), &existing); err != nil {
		return nil, err
	} else if ok {
		return &existing, h.chain(ctx, root, task.Stage)
	}

	tr, err := h.transcript(ctx, root)
	if err != nil {
		return nil, err
	}

	work, cleanup, err := h.workDir(root, task.Stage)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	audio := filepath.Join(work, "audio.wav")
	if err := h.deps.Store.GetFile(ctx, objectstore.AudioKey(root), audio); err != nil {
		if !apperrors.Is(err, apperrors.CodeArtifactMissing) {
			return nil, err
		}
		log.GetLogger().Warn("pipeline: audio missing, skipping silence detection", zap.String("root_id", root))
		audio = ""
	}
	task.Report(10, "inputs loaded")

	result, err := h.deps.Scenes.Segment(ctx, tr, audio)
	if err != nil {
		return nil, err
	}
	if err := h.putJSON(ctx, objectstore.ScenesKey(root), result); err != nil {
		return nil, err
	}
	return result, h.chain(ctx, root, task.Stage)
}

// Rank scores and selects candidates from scenes.json.
func (h *Handlers) Rank(ctx context.Context, task *types.StageTask) (any, error) {
	root := task.Payload.RootID
	var existing types.RankResult
	if ok, err := h.loadJSON(ctx, objectstore.RankKey(root), &existing); err != nil {
		return nil, err
	} else if ok {
		return &existing, h.chain(ctx, root, task.Stage)
	}

	var scenes types.ScenesResult
	if ok, err := h.loadJSON(ctx, objectstore.ScenesKey(root), &scenes); err != nil {
		return nil, err
	} else if !ok || len(scenes.Candidates) == 0 {
		return nil, apperrors.ErrUpstreamRankDataMissing
	}
	tr, err := h.transcript(ctx, root)
	if err != nil {
		return nil, err
	}
	task.Report(10, "inputs loaded")

	result, err := h.deps.Ranker.Rank(ctx, scenes.Candidates, tr)
	if err != nil {
		return nil, err
	}
	if err := h.putJSON(ctx, objectstore.RankKey(root), result); err != nil {
		return nil, err
	}
	return result, h.chain(ctx, root, task.Stage)
}

// Render cuts every ranked clip, or only Payload.ClipID when set. A
// targeted re-render does not advance the chain.
func (h *Handlers) Render(ctx context.Context, task *types.StageTask) (any, error) {
	root := task.Payload.RootID
	var ranked types.RankResult
	if ok, err := h.loadJSON(ctx, objectstore.RankKey(root), &ranked); err != nil {
		return nil, err
	} else if !ok {
		return nil, apperrors.ErrUpstreamRankDataMissing
	}
	tr, err := h.transcript(ctx, root)
	if err != nil {
		return nil, err
	}
	var probe media.ProbeResult
	if _, err := h.loadJSON(ctx, objectstore.ProbeKey(root), &probe); err != nil {
		return nil, err
	}

	req := render.Request{
		RootID:     root,
		Items:      ranked.Items,
		Transcript: tr,
		HasAudio:   probe.HasAudio,
		Progress:   task,
	}
	if task.Payload.ClipID != "" {
		req.ClipIDs = []string{task.Payload.ClipID}
	}
	result, err := h.deps.Renderer.Render(ctx, req)
	if err != nil {
		return nil, err
	}
	if task.Payload.ClipID != "" {
		return result, nil
	}
	return result, h.chain(ctx, root, task.Stage)
}

// Texts generates copy for every ranked clip and, when the job asked for
// it, fans out one export per rendered clip.
func (h *Handlers) Texts(ctx context.Context, task *types.StageTask) (any, error) {
	root := task.Payload.RootID
	var ranked types.RankResult
	if ok, err := h.loadJSON(ctx, objectstore.RankKey(root), &ranked); err != nil {
		return nil, err
	} else if !ok {
		return nil, apperrors.ErrUpstreamRankDataMissing
	}

	key := task.Payload.IdempotencyKey
	if key == "" {
		key = root
	}
	result, err := h.deps.Texts.Generate(ctx, texts.Request{
		RootID:         root,
		IdempotencyKey: key,
		Items:          ranked.Items,
		Limiter:        h.deps.TextsLimiter,
		Progress:       task,
	})
	if err != nil {
		return nil, err
	}

	if err := h.autoExport(ctx, root, ranked.Items); err != nil {
		return nil, err
	}
	return result, h.chain(ctx, root, task.Stage)
}

func (h *Handlers) autoExport(ctx context.Context, root string, items []types.RankedItem) error {
	if h.deps.Exports == nil || h.deps.Jobs == nil {
		return nil
	}
	job, err := h.deps.Jobs.GetJob(ctx, root)
	if err != nil {
		if apperrors.Is(err, apperrors.CodeNotFound) {
			return nil
		}
		return err
	}
	meta := job.MetaMap()
	userID := strings.TrimSpace(meta[MetaUserID])
	if !strings.EqualFold(meta[MetaAutoExport], "true") || userID == "" {
		return nil
	}

	keys, err := h.deps.Store.List(ctx, objectstore.ClipsPrefix(root))
	if err != nil {
		return err
	}
	rendered := lo.Associate(lo.Filter(keys, func(k string, _ int) bool { return objectstore.IsClipVideo(k) }),
		func(k string) (string, struct{}) { return objectstore.ClipIDFromKey(k), struct{}{} })

	requested := 0
	for _, item := range items {
		if _, ok := rendered[item.ID]; !ok {
			continue
		}
		if _, err := h.deps.Exports.RequestExport(ctx, root, item.ID, userID); err != nil {
			return err
		}
		requested++
	}
	log.GetLogger().Info("pipeline: auto export requested",
		zap.String("root_id", root), zap.String("user_id", userID), zap.Int("clips", requested))
	return nil
}

// Export publishes one clip. The export record carries its own state.
func (h *Handlers) Export(ctx context.Context, task *types.StageTask) (any, error) {
	if task.Payload.ExportID == "" {
		return nil, apperrors.Wrap(apperrors.CodeInvalidParams, "export id is required", nil)
	}
	rec, err := h.deps.Exporter.Export(ctx, task.Payload.ExportID, task)
	if err == nil {
		return rec, nil
	}
	// Unrecoverable errors already failed the record; rate-limit deferrals
	// are not attempts.
	if task.Final && apperrors.IsRetryable(err) && !apperrors.Is(err, apperrors.CodeRateLimited) {
		if aErr := h.deps.Exporter.Abandon(ctx, task.Payload.ExportID, err); aErr != nil {
			log.GetLogger().Error("pipeline: mark export failed",
				zap.String("export_id", task.Payload.ExportID), zap.Error(aErr))
		}
	}
	return nil, err
}

func (h *Handlers) chain(ctx context.Context, root string, stage types.Stage) error {
	if h.deps.Chainer == nil {
		return nil
	}
	return h.deps.Chainer.OnStageComplete(ctx, root, stage)
}

func (h *Handlers) sourceRef(ctx context.Context, task *types.StageTask) (string, error) {
	if task.Payload.SourceRef != "" {
		return task.Payload.SourceRef, nil
	}
	if h.deps.Jobs == nil {
		return "", apperrors.Wrap(apperrors.CodeInvalidParams, "source reference missing", nil)
	}
	job, err := h.deps.Jobs.GetJob(ctx, task.Payload.RootID)
	if err != nil {
		return "", err
	}
	return job.SourceRef, nil
}

func (h *Handlers) language(ctx context.Context, root string) string {
	if h.deps.Jobs != nil {
		if job, err := h.deps.Jobs.GetJob(ctx, root); err == nil {
			if lang := job.MetaMap()[MetaLanguage]; lang != "" {
				return lang
			}
		}
	}
	return h.deps.Config.Language
}

func (h *Handlers) transcript(ctx context.Context, root string) (*types.Transcript, error) {
	var tr types.Transcript
	ok, err := h.loadJSON(ctx, objectstore.TranscriptKey(root), &tr)
	if err != nil {
		return nil, err
	}
	if !ok || len(tr.Segments) == 0 {
		return nil, apperrors.ErrNoTranscriptSegments
	}
	return &tr, nil
}

func (h *Handlers) workDir(root string, stage types.Stage) (string, func(), error) {
	dir := appdirs.WorkDirFor(h.deps.Paths, root, stage.String())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", nil, apperrors.Wrap(apperrors.CodeArtifactWrite, "stage work dir", err)
	}
	return dir, func() { _ = os.RemoveAll(dir) }, nil
}

func (h *Handlers) loadJSON(ctx context.Context, key string, out any) (bool, error) {
	data, err := h.deps.Store.Get(ctx, key)
	if apperrors.Is(err, apperrors.CodeArtifactMissing) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return false, apperrors.WrapWithDetail(apperrors.CodeArtifactMissing, "corrupt artifact", key, err)
	}
	return true, nil
}

func (h *Handlers) putJSON(ctx context.Context, key string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	return h.deps.Store.Put(ctx, key, data)
}
