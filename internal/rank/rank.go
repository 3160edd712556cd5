// Package rank scores scene candidates on hook, pacing and readability
// signals, then picks a diverse subset using embedding similarity.
package rank

import (
	"context"
	"math"
	"sort"

	"clipfactory/internal/cache"
	"clipfactory/internal/scenes"
	"clipfactory/internal/types"
	"clipfactory/log"
	apperrors "clipfactory/pkg/errors"
	"clipfactory/pkg/util"

	"github.com/samber/lo"
	"go.uber.org/zap"
)

const (
	ReasonHookStrong      = "hook_strong"
	ReasonHookWeak        = "hook_weak"
	ReasonIdealLength     = "ideal_length"
	ReasonShort           = "short"
	ReasonLong            = "long"
	ReasonDiversityHigh   = "diversity_high"
	ReasonDiversityMedium = "diversity_medium"
	ReasonDiversityLow    = "diversity_low"
	ReasonGapDense        = "gap_dense"
	ReasonGapSparse       = "gap_sparse"
	ReasonRelaxed         = "admitted_relaxed"
)

type Ranker struct {
	cfg      Config
	embedder types.Embedder
	vectors  cache.Cache[[]float32]
	model    string
}

// NewRanker builds a ranker. Without an embedder every candidate is treated
// as fully novel.
func NewRanker(cfg Config, embedder types.Embedder, vectors cache.Cache[[]float32], model string) *Ranker {
	if vectors == nil {
		vectors = cache.NewLRU[[]float32](cache.Options{})
	}
	return &Ranker{cfg: cfg.normalized(), embedder: embedder, vectors: vectors, model: model}
}

func (r *Ranker) Config() Config { return r.cfg }

type scored struct {
	item   types.RankedItem
	gap    float64
	vector []float32
}

// Rank filters candidates by duration, scores them, selects a diverse subset
// and normalizes final scores to [0, 1] over that subset.
func (r *Ranker) Rank(ctx context.Context, candidates []types.SceneCandidate, tr *types.Transcript) (*types.RankResult, error) {
	if len(candidates) == 0 || tr == nil {
		return nil, apperrors.ErrUpstreamRankDataMissing
	}
	valid := lo.Filter(candidates, func(c types.SceneCandidate, _ int) bool {
		d := c.End - c.Start
		return d >= r.cfg.FilterMinDuration && d <= r.cfg.FilterMaxDuration
	})
	result := &types.RankResult{Evaluated: len(candidates), Filtered: len(candidates) - len(valid)}
	if len(valid) == 0 {
		log.GetLogger().Warn("rank: no candidate within duration bounds",
			zap.Int("evaluated", len(candidates)),
			zap.Float64("min", r.cfg.FilterMinDuration),
			zap.Float64("max", r.cfg.FilterMaxDuration))
		return nil, apperrors.WrapWithDetail(apperrors.CodeUpstreamRankDataMissing, "no rankable candidates", "all candidates outside duration bounds", nil)
	}

	pool := make([]*scored, len(valid))
	for i, c := range valid {
		pool[i] = r.score(c, tr)
	}
	if err := r.attachVectors(ctx, pool); err != nil {
		return nil, err
	}
	sort.SliceStable(pool, func(i, j int) bool {
		if pool[i].item.BaseScore != pool[j].item.BaseScore {
			return pool[i].item.BaseScore > pool[j].item.BaseScore
		}
		return pool[i].item.Start < pool[j].item.Start
	})

	selected := r.selectDiverse(pool)
	for _, s := range selected {
		s.item.Reasons = lo.Uniq(append(append([]string{}, s.item.Reasons...), r.reasons(s)...))
	}
	sort.SliceStable(selected, func(i, j int) bool {
		return selected[i].item.FinalScore > selected[j].item.FinalScore
	})
	normalize(selected)

	result.Items = lo.Map(selected, func(s *scored, _ int) types.RankedItem { return s.item })
	log.GetLogger().Info("rank: selection complete",
		zap.Int("evaluated", result.Evaluated),
		zap.Int("filtered", result.Filtered),
		zap.Int("selected", len(result.Items)))
	return result, nil
}

func (r *Ranker) score(c types.SceneCandidate, tr *types.Transcript) *scored {
	duration := c.End - c.Start
	c.Duration = duration
	segments := tr.Overlapping(c.Start, c.End)
	text := tr.TextBetween(c.Start, c.End)
	opening := tr.TextBetween(c.Start, math.Min(c.End, c.Start+r.cfg.HookWindow))

	cps := CPS(segments, c.Start, c.End)
	hook := Hook(opening, r.cfg.CTAPenalty)
	gap := GapFraction(segments, c.Start, c.End, r.cfg.GapThreshold)
	w := r.cfg.Weights
	base := w.Hook*hook +
		w.Density*densityScore(text, duration, r.cfg.OptimalWordsPerSec) +
		w.Readability*readabilityScore(cps, r.cfg.CPSIdealMin, r.cfg.CPSIdealMax) +
		w.Duration*durationScore(duration, r.cfg.IdealMinDuration, r.cfg.IdealMaxDuration) +
		w.Keyword*keywordScore(text) +
		w.Structure*structureScore(text) -
		w.GapPenalty*gap
	if c.Excerpt == "" {
		c.Excerpt = text
	}
	return &scored{
		item: types.RankedItem{
			SceneCandidate: c,
			Hook:           hook,
			CPS:            cps,
			BaseScore:      util.Clamp(base, 0, 1),
		},
		gap: gap,
	}
}

func (r *Ranker) attachVectors(ctx context.Context, pool []*scored) error {
	if r.embedder == nil {
		return nil
	}
	texts := lo.Map(pool, func(s *scored, _ int) string { return s.item.Excerpt })
	vectors, err := scenes.EmbedCached(ctx, r.embedder, r.vectors, r.model, texts)
	if err != nil {
		return err
	}
	for i, v := range vectors {
		pool[i].vector = v
	}
	return nil
}

// selectDiverse admits candidates in base-score order while their maximum
// similarity to the selection stays within the primary threshold. If that
// leaves fewer than MinSelect, the remaining candidates are retried under the
// relaxed threshold and finally admitted by score alone.
func (r *Ranker) selectDiverse(pool []*scored) []*scored {
	var selected []*scored
	admitted := make([]bool, len(pool))

	admit := func(i int, relaxed bool) {
		maxSim, meanSim := similarity(pool[i], selected)
		item := &pool[i].item
		item.MaxSim = maxSim
		item.Novelty = util.Clamp(1-(r.cfg.MaxSimBlend*maxSim+r.cfg.MeanSimBlend*meanSim), 0, 1)
		item.FinalScore = item.BaseScore + r.cfg.NoveltyWeight*item.Novelty - r.penalty(maxSim)
		item.Relaxed = relaxed
		admitted[i] = true
		selected = append(selected, pool[i])
	}

	for i := range pool {
		if len(selected) >= r.cfg.MaxSelect {
			break
		}
		if maxSim, _ := similarity(pool[i], selected); maxSim <= r.cfg.PrimaryThreshold {
			admit(i, false)
		}
	}
	for _, threshold := range []float64{r.cfg.RelaxedThreshold, math.Inf(1)} {
		for i := range pool {
			if len(selected) >= r.cfg.MinSelect {
				return selected
			}
			if admitted[i] {
				continue
			}
			if maxSim, _ := similarity(pool[i], selected); maxSim <= threshold {
				admit(i, true)
			}
		}
	}
	return selected
}

func similarity(candidate *scored, selected []*scored) (maxSim, meanSim float64) {
	if candidate.vector == nil || len(selected) == 0 {
		return 0, 0
	}
	sum, n := 0.0, 0
	for _, s := range selected {
		if s.vector == nil {
			continue
		}
		sim := util.Cosine(candidate.vector, s.vector)
		sum += sim
		n++
		if sim > maxSim {
			maxSim = sim
		}
	}
	if n == 0 {
		return 0, 0
	}
	return maxSim, sum / float64(n)
}

// penalty applies the highest ladder step whose threshold is exceeded.
func (r *Ranker) penalty(maxSim float64) float64 {
	p := 0.0
	for i, threshold := range r.cfg.PenaltyThresholds {
		if maxSim > threshold {
			p = r.cfg.Penalties[i]
		}
	}
	return p
}

func (r *Ranker) reasons(s *scored) []string {
	item := s.item
	var out []string
	if item.Hook >= 0.5 {
		out = append(out, ReasonHookStrong)
	} else {
		out = append(out, ReasonHookWeak)
	}
	switch d := item.End - item.Start; {
	case d < r.cfg.IdealMinDuration:
		out = append(out, ReasonShort)
	case d > r.cfg.IdealMaxDuration:
		out = append(out, ReasonLong)
	default:
		out = append(out, ReasonIdealLength)
	}
	switch {
	case item.Novelty >= 0.6:
		out = append(out, ReasonDiversityHigh)
	case item.Novelty >= 0.3:
		out = append(out, ReasonDiversityMedium)
	default:
		out = append(out, ReasonDiversityLow)
	}
	if s.gap >= 0.15 {
		out = append(out, ReasonGapDense)
	} else {
		out = append(out, ReasonGapSparse)
	}
	if item.Relaxed {
		out = append(out, ReasonRelaxed)
	}
	return out
}

// normalize rescales final scores to [0, 1]. A single item, or a set with
// identical scores, is pinned to 1.
func normalize(selected []*scored) {
	if len(selected) == 0 {
		return
	}
	low, high := selected[0].item.FinalScore, selected[0].item.FinalScore
	for _, s := range selected {
		low = math.Min(low, s.item.FinalScore)
		high = math.Max(high, s.item.FinalScore)
	}
	for _, s := range selected {
		if high == low {
			s.item.FinalScore = 1
			continue
		}
		s.item.FinalScore = (s.item.FinalScore - low) / (high - low)
	}
}
