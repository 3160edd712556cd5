// Package scenes turns a transcript and its audio into candidate clip
// windows. Cut points come from three detectors (silence, semantic shift
// between embedding windows, sentence ends), are consolidated, and a greedy
// walk picks one cut per window of [min, max] seconds.
package scenes

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"sort"

	"clipfactory/internal/cache"
	"clipfactory/internal/media"
	"clipfactory/internal/types"
	"clipfactory/log"
	apperrors "clipfactory/pkg/errors"

	"go.uber.org/zap"
)

type Engine struct {
	cfg      Config
	runner   media.Runner
	embedder types.Embedder
	vectors  cache.Cache[[]float32]
	model    string
}

// NewEngine wires the detectors. runner or embedder may be nil, in which
// case the silence or semantic detector is skipped.
func NewEngine(cfg Config, runner media.Runner, embedder types.Embedder, vectors cache.Cache[[]float32], model string) *Engine {
	if vectors == nil {
		vectors = cache.NewLRU[[]float32](cache.Options{})
	}
	return &Engine{
		cfg:      cfg.normalized(),
		runner:   runner,
		embedder: embedder,
		vectors:  vectors,
		model:    model,
	}
}

func (e *Engine) Config() Config { return e.cfg }

// Segment produces the candidate list for one transcript. audioPath may be
// empty when no audio is available.
func (e *Engine) Segment(ctx context.Context, tr *types.Transcript, audioPath string) (*types.ScenesResult, error) {
	if tr == nil || len(tr.Segments) == 0 {
		return nil, apperrors.ErrNoTranscriptSegments
	}
	duration := tr.End()

	var boundaries []Boundary
	if e.runner != nil && audioPath != "" {
		silences, err := media.DetectSilence(ctx, e.runner, audioPath, e.cfg.SilenceThresholdDB, e.cfg.MinSilence)
		if err != nil {
			return nil, fmt.Errorf("scenes silence detection: %w", err)
		}
		boundaries = append(boundaries, silenceBoundaries(silences, duration)...)
	}

	semantic, err := e.semantic(ctx, tr, duration)
	if err != nil {
		return nil, err
	}
	boundaries = append(boundaries, semantic...)
	boundaries = append(boundaries, sentenceBoundaries(tr.Segments)...)

	consolidated := Consolidate(boundaries, e.cfg.MergeTolerance, e.cfg.SemanticPadding, duration)
	windows := Walk(consolidated, duration, e.cfg)

	result := &types.ScenesResult{Duration: duration}
	if len(windows) < e.cfg.MinCandidates && duration >= float64(e.cfg.MinCandidates)*e.cfg.FallbackMinDuration() {
		windows = mergeNonOverlapping(windows, Fallback(duration, e.cfg), e.cfg.MaxCandidates)
		result.Fallback = true
	}

	result.Candidates = make([]types.SceneCandidate, 0, len(windows))
	for i, w := range windows {
		result.Candidates = append(result.Candidates, e.score(i, w, tr))
	}

	log.GetLogger().Info("scenes segmented",
		zap.Float64("duration", duration),
		zap.Int("boundaries", len(consolidated)),
		zap.Int("candidates", len(result.Candidates)),
		zap.Bool("fallback", result.Fallback))
	return result, nil
}

func (e *Engine) semantic(ctx context.Context, tr *types.Transcript, duration float64) ([]Boundary, error) {
	if e.embedder == nil {
		return nil, nil
	}
	windows := buildWindows(tr, duration, e.cfg.WindowSec, e.cfg.Overlap)
	if len(windows) < 2 {
		return nil, nil
	}
	texts := make([]string, len(windows))
	for i, w := range windows {
		texts[i] = w.Text
	}
	vectors, err := e.embed(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("scenes window embeddings: %w", err)
	}
	return semanticBoundaries(windows, vectors, e.cfg.SimilarityThreshold), nil
}

// embed resolves cached vectors and fetches the misses in one batched call.
func (e *Engine) embed(ctx context.Context, texts []string) ([][]float32, error) {
	return EmbedCached(ctx, e.embedder, e.vectors, e.model, texts)
}

// EmbedCached is shared with ranking so excerpts embedded once are reused.
func EmbedCached(ctx context.Context, embedder types.Embedder, vectors cache.Cache[[]float32], model string, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	keys := make([]string, len(texts))
	var missIdx []int
	var missTexts []string
	for i, text := range texts {
		sum := sha256.Sum256([]byte(model + "\x00" + text))
		keys[i] = hex.EncodeToString(sum[:])
		if v, ok := vectors.Get(ctx, keys[i]); ok {
			out[i] = v
			continue
		}
		missIdx = append(missIdx, i)
		missTexts = append(missTexts, text)
	}
	if len(missTexts) == 0 {
		return out, nil
	}
	fetched, err := embedder.Embed(ctx, missTexts)
	if err != nil {
		return nil, err
	}
	if len(fetched) != len(missTexts) {
		return nil, apperrors.Transient(fmt.Sprintf("embedding count mismatch: got %d want %d", len(fetched), len(missTexts)), nil)
	}
	for j, i := range missIdx {
		out[i] = fetched[j]
		vectors.Set(ctx, keys[i], fetched[j])
	}
	return out, nil
}

// Window is a half-open clip span chosen by the walk or the fallback pass.
type Window struct {
	Start, End float64
	Forced     bool
	Fallback   bool
	Reasons    []string
}

func (w Window) Duration() float64 { return w.End - w.Start }

// Walk covers [0, duration] greedily. From t it takes the highest-priority
// boundary in [t+min, t+max] (earliest on ties) or forces a cut at
// min(t+max, duration). A tail shorter than min is dropped.
func Walk(boundaries []Boundary, duration float64, cfg Config) []Window {
	var out []Window
	t := 0.0
	for len(out) < cfg.MaxCandidates && duration-t >= cfg.MinDuration {
		lo, hi := t+cfg.MinDuration, math.Min(t+cfg.MaxDuration, duration)
		var best *Boundary
		for i := range boundaries {
			b := &boundaries[i]
			if b.Time < lo || b.Time > hi {
				continue
			}
			if best == nil || b.Priority() > best.Priority() {
				best = b
			}
		}
		w := Window{Start: t}
		if best != nil {
			w.End = best.Time
			w.Reasons = append([]string(nil), best.Reasons...)
		} else {
			w.End = hi
			w.Forced = true
		}
		out = append(out, w)
		t = w.End
	}
	return out
}

// Fallback splits the video evenly with segment length
// clamp(duration/MinCandidates, fallbackMin, max).
func Fallback(duration float64, cfg Config) []Window {
	length := duration / float64(cfg.MinCandidates)
	length = math.Max(length, cfg.FallbackMinDuration())
	length = math.Min(length, cfg.MaxDuration)
	var out []Window
	for start := 0.0; start+length <= duration+1e-9; start += length {
		out = append(out, Window{Start: start, End: math.Min(start+length, duration), Forced: true, Fallback: true})
	}
	return out
}

// mergeNonOverlapping keeps the windows cut at a detected boundary, fills
// around them with fallback windows and finally with the primary windows
// the walk had to force. Anything overlapping a kept window is dropped.
func mergeNonOverlapping(primary, fallback []Window, limit int) []Window {
	var detected, forced []Window
	for _, w := range primary {
		if w.Forced {
			forced = append(forced, w)
		} else {
			detected = append(detected, w)
		}
	}
	var out []Window
	for _, group := range [][]Window{detected, fallback, forced} {
		for _, w := range group {
			if len(out) >= limit {
				break
			}
			if !overlapsAny(w, out) {
				out = append(out, w)
			}
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Start < out[j].Start })
	return out
}

func overlapsAny(w Window, kept []Window) bool {
	for _, k := range kept {
		if w.Start < k.End-1e-6 && k.Start < w.End-1e-6 {
			return true
		}
	}
	return false
}
