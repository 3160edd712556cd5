// Package render cuts ranked clips out of the source video in small parallel
// batches, burning in subtitles and producing a thumbnail for each.
package render

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"

	"clipfactory/internal/media"
	"clipfactory/internal/objectstore"
	"clipfactory/internal/subtitle"
	"clipfactory/internal/types"
	"clipfactory/log"
	apperrors "clipfactory/pkg/errors"

	"github.com/samber/lo"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	renderShare = 90
	uploadShare = 10
)

type Orchestrator struct {
	cfg     Config
	runner  media.Runner
	store   types.ObjectStore
	workDir string
	numCPU  func() int
}

func NewOrchestrator(cfg Config, runner media.Runner, store types.ObjectStore, workDir string) *Orchestrator {
	return &Orchestrator{
		cfg:     cfg.normalized(),
		runner:  runner,
		store:   store,
		workDir: workDir,
		numCPU:  runtime.NumCPU,
	}
}

type Request struct {
	RootID     string
	Items      []types.RankedItem
	Transcript *types.Transcript
	HasAudio   bool
	// ClipIDs restricts rendering to these clips and bypasses the
	// already-rendered guard.
	ClipIDs  []string
	Progress types.ProgressReporter
}

type renderedFile struct {
	clip      types.RenderedClip
	video     string
	thumbnail string
}

// Render produces one mp4 and one jpg per item. Individual clip failures are
// collected in the result; the call fails only when no clip rendered.
func (o *Orchestrator) Render(ctx context.Context, req Request) (*types.RenderResult, error) {
	if len(req.ClipIDs) == 0 {
		existing, err := o.store.List(ctx, objectstore.ClipsPrefix(req.RootID))
		if err != nil {
			return nil, fmt.Errorf("render list existing clips: %w", err)
		}
		if lo.ContainsBy(existing, objectstore.IsClipVideo) {
			log.GetLogger().Info("render: clips already present, skipping",
				zap.String("root_id", req.RootID), zap.Int("objects", len(existing)))
			return &types.RenderResult{ClipsGenerated: 0, Skipped: true}, nil
		}
	}

	items := req.Items
	if len(req.ClipIDs) > 0 {
		items = lo.Filter(items, func(it types.RankedItem, _ int) bool { return lo.Contains(req.ClipIDs, it.ID) })
	}
	if len(items) == 0 {
		return nil, apperrors.ErrUpstreamRankDataMissing
	}

	if err := os.MkdirAll(o.workDir, 0o755); err != nil {
		return nil, apperrors.Wrap(apperrors.CodeArtifactWrite, "render work dir", err)
	}
	tmp, err := os.MkdirTemp(o.workDir, "render-*")
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeArtifactWrite, "render temp dir", err)
	}
	defer os.RemoveAll(tmp)

	source := filepath.Join(tmp, "source.mp4")
	if err := o.store.GetFile(ctx, objectstore.SourceKey(req.RootID), source); err != nil {
		return nil, err
	}

	batch := min(o.cfg.BatchSize, len(items))
	threads := o.cfg.Threads
	if threads <= 0 {
		threads = max(1, o.numCPU()/batch)
	}

	progress := newBatchProgress(len(items), req.Progress)
	results := make([]*renderedFile, len(items))
	var failedMu sync.Mutex
	var failed []types.ClipFailure

	for start := 0; start < len(items); start += batch {
		end := min(start+batch, len(items))
		g, gctx := errgroup.WithContext(ctx)
		for i := start; i < end; i++ {
			g.Go(func() error {
				file, err := o.renderClip(gctx, tmp, source, items[i], req, threads, func(frac float64) { progress.set(i, frac) })
				if err != nil {
					if ctx.Err() != nil {
						return ctx.Err()
					}
					log.GetLogger().Error("render: clip failed",
						zap.String("root_id", req.RootID), zap.String("clip_id", items[i].ID), zap.Error(err))
					failedMu.Lock()
					failed = append(failed, types.ClipFailure{ClipID: items[i].ID, Error: err.Error()})
					failedMu.Unlock()
					return nil
				}
				progress.set(i, 1)
				results[i] = file
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, apperrors.Transient("render interrupted", err)
		}
	}

	rendered := lo.Filter(results, func(f *renderedFile, _ int) bool { return f != nil })
	if len(rendered) == 0 {
		return nil, apperrors.Transient(fmt.Sprintf("all %d clips failed to render", len(items)), nil)
	}

	out := &types.RenderResult{Failed: failed}
	for i, file := range rendered {
		if err := o.store.PutFile(ctx, file.clip.VideoKey, file.video); err != nil {
			return nil, fmt.Errorf("render upload %s: %w", file.clip.ClipID, err)
		}
		if err := o.store.PutFile(ctx, file.clip.ThumbnailKey, file.thumbnail); err != nil {
			return nil, fmt.Errorf("render upload thumbnail %s: %w", file.clip.ClipID, err)
		}
		out.Clips = append(out.Clips, file.clip)
		report(req.Progress, renderShare+uploadShare*(i+1)/len(rendered), "uploaded "+file.clip.ClipID)
	}
	out.ClipsGenerated = len(out.Clips)

	log.GetLogger().Info("render: batch complete",
		zap.String("root_id", req.RootID),
		zap.Int("rendered", out.ClipsGenerated),
		zap.Int("failed", len(failed)),
		zap.Int("batch", batch),
		zap.Int("threads", threads))
	return out, nil
}

func (o *Orchestrator) renderClip(ctx context.Context, tmp, source string, item types.RankedItem, req Request, threads int, onProgress func(float64)) (*renderedFile, error) {
	duration := item.End - item.Start
	if duration <= 0 {
		return nil, apperrors.New(apperrors.CodeInvalidParams, "clip has no duration")
	}

	var segments []types.Segment
	if req.Transcript != nil {
		segments = subtitle.ClipSegments(req.Transcript.Segments, item.Start, item.End)
	}
	assPath := filepath.Join(tmp, item.ID+".ass")
	if err := os.WriteFile(assPath, subtitle.RenderASS(segments, o.cfg.Style, o.cfg.Width, o.cfg.Height), 0o644); err != nil {
		return nil, fmt.Errorf("write subtitles: %w", err)
	}

	video := filepath.Join(tmp, item.ID+".mp4")
	args := clipArgs(o.cfg, source, assPath, video, item.Start, duration, req.HasAudio, threads)
	if _, err := o.runner.Run(ctx, args, func(outTime float64) { onProgress(outTime / duration) }); err != nil {
		return nil, err
	}

	thumb := filepath.Join(tmp, item.ID+".jpg")
	if _, err := o.runner.Run(ctx, thumbnailArgs(video, thumb, duration), nil); err != nil {
		return nil, fmt.Errorf("thumbnail: %w", err)
	}

	return &renderedFile{
		clip: types.RenderedClip{
			ClipID:       item.ID,
			VideoKey:     objectstore.ClipVideoKey(req.RootID, item.ID),
			ThumbnailKey: objectstore.ClipThumbnailKey(req.RootID, item.ID),
			Duration:     duration,
		},
		video:     video,
		thumbnail: thumb,
	}, nil
}

// batchProgress maps per-clip completion fractions onto the render share.
type batchProgress struct {
	mu       sync.Mutex
	fraction []float64
	reporter types.ProgressReporter
}

func newBatchProgress(n int, reporter types.ProgressReporter) *batchProgress {
	return &batchProgress{fraction: make([]float64, n), reporter: reporter}
}

func (p *batchProgress) set(i int, frac float64) {
	if p.reporter == nil {
		return
	}
	frac = max(0, min(frac, 1))
	p.mu.Lock()
	if frac < p.fraction[i] {
		p.mu.Unlock()
		return
	}
	p.fraction[i] = frac
	total := lo.Sum(p.fraction)
	pct := int(renderShare * total / float64(len(p.fraction)))
	p.mu.Unlock()
	p.reporter.Report(pct, "rendering")
}

func report(p types.ProgressReporter, pct int, msg string) {
	if p != nil {
		p.Report(pct, msg)
	}
}
