package scenes

import (
	"fmt"
	"math"
	"strings"
	"unicode"

	"clipfactory/internal/types"
	"clipfactory/pkg/util"

	"github.com/samber/lo"
)

var (
	hookWords = []string{
		"secret", "why", "how to", "never", "mistake", "truth", "nobody", "imagine",
		"segredo", "por que", "como", "nunca", "erro", "verdade",
	}
	listWords = []string{
		"first", "second", "third", "step", "tip", "number", "finally", "next",
		"primeiro", "segundo", "passo", "dica", "número", "por fim",
	}
	actionWords = []string{
		"try", "start", "stop", "build", "make", "learn", "use", "watch",
		"tente", "comece", "pare", "faça", "aprenda", "use", "veja",
	}
)

const (
	weightDensity    = 0.35
	weightEngagement = 0.20
	weightKeywords   = 0.20
	weightCloseness  = 0.25

	forcedCutPenalty  = 0.1
	outOfRangePenalty = 0.2
)

// score rates one window and fills in the candidate fields.
func (e *Engine) score(index int, w Window, tr *types.Transcript) types.SceneCandidate {
	text := tr.TextBetween(w.Start, w.End)
	dur := w.Duration()

	density := 0.0
	if dur > 0 {
		wps := float64(util.CountWords(text)) / dur
		density = math.Max(0, 1-math.Abs(wps-e.cfg.OptimalWordsPerSec)/e.cfg.OptimalWordsPerSec)
	}
	engagement := math.Min(1, float64(engagementMarkers(text))/5)
	categories := 0
	for _, words := range [][]string{hookWords, listWords, actionWords} {
		if util.ContainsAnyFold(text, words) > 0 {
			categories++
		}
	}
	keywords := float64(categories) / 3
	closeness := math.Max(0, 1-math.Abs(dur-e.cfg.TargetDuration)/e.cfg.TargetDuration)

	score := weightDensity*density + weightEngagement*engagement + weightKeywords*keywords + weightCloseness*closeness
	if w.Forced {
		score -= forcedCutPenalty
	}
	minDur := e.cfg.MinDuration
	if w.Fallback {
		minDur = e.cfg.FallbackMinDuration()
	}
	outOfRange := dur < minDur-1e-6 || dur > e.cfg.MaxDuration+1e-6
	if outOfRange {
		score -= outOfRangePenalty
	}

	reasons := append([]string(nil), w.Reasons...)
	if w.Forced {
		reasons = append(reasons, "forced_cut")
	}
	if w.Fallback {
		reasons = append(reasons, "fallback")
	}
	if density >= 0.7 {
		reasons = append(reasons, "dense_speech")
	} else if density < 0.3 {
		reasons = append(reasons, "sparse_speech")
	}
	if engagement >= 0.4 {
		reasons = append(reasons, "engaging")
	}
	if categories > 0 {
		reasons = append(reasons, "keywords")
	}
	if closeness >= 0.8 {
		reasons = append(reasons, "target_length")
	}
	if outOfRange {
		reasons = append(reasons, "out_of_range")
	}

	return types.SceneCandidate{
		ID:       fmt.Sprintf("scene_%02d", index+1),
		Start:    round3(w.Start),
		End:      round3(w.End),
		Duration: round3(dur),
		Score:    round3(util.Clamp(score, 0, 1)),
		Reasons:  lo.Uniq(reasons),
		Excerpt:  util.TruncateRunes(strings.TrimSpace(text), e.cfg.ExcerptChars),
		Forced:   w.Forced,
	}
}

// engagementMarkers counts question marks, exclamations and digit runs.
func engagementMarkers(text string) int {
	count := strings.Count(text, "?") + strings.Count(text, "!")
	inDigits := false
	for _, r := range text {
		if unicode.IsDigit(r) {
			if !inDigits {
				count++
			}
			inDigits = true
			continue
		}
		inDigits = false
	}
	return count
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}
