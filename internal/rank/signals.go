package rank

import (
	"math"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"clipfactory/internal/types"
	"clipfactory/pkg/util"
)

var (
	questionWords   = []string{"?", "what", "why", "how", "which", "when", "o que", "por que", "como", "qual", "quando"}
	numericWords    = []string{"one", "two", "three", "five", "ten", "hundred", "percent", "um ", "dois", "três", "cinco", "dez", "por cento"}
	secondPerson    = []string{"you", "your", "você", "vocês", "seu ", "sua "}
	curiosityWords  = []string{"secret", "surprising", "never", "nobody", "truth", "hidden", "segredo", "ninguém", "nunca", "verdade", "incrível"}
	ctaPhrases      = []string{"subscribe", "like and", "link in", "inscreva", "deixe seu like", "link na"}
	structureWords  = []string{"first", "second", "third", "step", "next", "finally", "number", "primeiro", "segundo", "passo", "depois", "por fim"}
	engagementWords = []string{"amazing", "incredible", "important", "best", "worst", "must", "importante", "melhor", "pior", "incrível"}
)

const hookCategories = 4

// CPS computes characters-per-second over [start, end]. Each overlapping
// segment contributes its own rate weighted by its overlap with the window;
// P95 walks the rates in ascending order until 95% of the weight is covered.
func CPS(segments []types.Segment, start, end float64) types.CPS {
	type sample struct{ rate, weight float64 }
	var samples []sample
	total, weighted := 0.0, 0.0
	for _, seg := range segments {
		overlap := math.Min(seg.End, end) - math.Max(seg.Start, start)
		if overlap <= 0 || seg.Duration() <= 0 {
			continue
		}
		rate := float64(utf8.RuneCountInString(strings.TrimSpace(seg.Text))) / seg.Duration()
		samples = append(samples, sample{rate: rate, weight: overlap})
		total += overlap
		weighted += rate * overlap
	}
	if total == 0 {
		return types.CPS{}
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i].rate < samples[j].rate })
	p95 := samples[len(samples)-1].rate
	cum := 0.0
	for _, s := range samples {
		cum += s.weight
		if cum >= 0.95*total {
			p95 = s.rate
			break
		}
	}
	return types.CPS{Avg: weighted / total, P95: p95}
}

// Hook scores the opening text by how many attention categories it hits,
// minus a penalty when it opens with a call to action.
func Hook(opening string, ctaPenalty float64) float64 {
	hits := 0
	if util.ContainsAnyFold(opening, questionWords) > 0 {
		hits++
	}
	if hasDigit(opening) || util.ContainsAnyFold(opening, numericWords) > 0 {
		hits++
	}
	if util.ContainsAnyFold(opening, secondPerson) > 0 {
		hits++
	}
	if util.ContainsAnyFold(opening, curiosityWords) > 0 {
		hits++
	}
	score := float64(hits) / hookCategories
	if util.ContainsAnyFold(opening, ctaPhrases) > 0 {
		score -= ctaPenalty
	}
	return util.Clamp(score, 0, 1)
}

func hasDigit(s string) bool {
	return strings.IndexFunc(s, unicode.IsDigit) >= 0
}

// GapFraction is the share of [start, end] covered by silences between
// consecutive captions longer than threshold.
func GapFraction(segments []types.Segment, start, end, threshold float64) float64 {
	duration := end - start
	if duration <= 0 {
		return 0
	}
	gaps := 0.0
	prevEnd := math.NaN()
	for _, seg := range segments {
		if seg.End <= start || seg.Start >= end {
			continue
		}
		if !math.IsNaN(prevEnd) {
			gapStart := math.Max(prevEnd, start)
			gapEnd := math.Min(seg.Start, end)
			if gap := gapEnd - gapStart; gap > threshold {
				gaps += gap
			}
		}
		if math.IsNaN(prevEnd) || seg.End > prevEnd {
			prevEnd = seg.End
		}
	}
	return util.Clamp(gaps/duration, 0, 1)
}

// durationScore is 1 inside the ideal window and decays exponentially
// outside it, faster for clips that are too short.
func durationScore(d, idealMin, idealMax float64) float64 {
	switch {
	case d < idealMin:
		return math.Exp(-(idealMin - d) / 10)
	case d > idealMax:
		return math.Exp(-(d - idealMax) / 20)
	default:
		return 1
	}
}

func readabilityScore(cps types.CPS, idealMin, idealMax float64) float64 {
	var score float64
	switch {
	case cps.Avg == 0:
		return 0
	case cps.Avg < idealMin:
		score = 0.5 + 0.5*cps.Avg/idealMin
	case cps.Avg > idealMax:
		score = 1 - (cps.Avg-idealMax)/10
	default:
		score = 1
	}
	if cps.P95 > idealMax*1.25 {
		score -= 0.2
	}
	return util.Clamp(score, 0, 1)
}

func densityScore(text string, duration, optimalWPS float64) float64 {
	words := strings.Fields(strings.ToLower(text))
	if len(words) == 0 || duration <= 0 {
		return 0
	}
	wps := float64(len(words)) / duration
	pace := math.Max(0, 1-math.Abs(wps-optimalWPS)/optimalWPS)
	unique := map[string]struct{}{}
	for _, w := range words {
		unique[strings.TrimFunc(w, unicode.IsPunct)] = struct{}{}
	}
	lexical := float64(len(unique)) / float64(len(words))
	return 0.7*pace + 0.3*lexical
}

func keywordScore(text string) float64 {
	markers := strings.Count(text, "?") + strings.Count(text, "!")
	if hasDigit(text) {
		markers++
	}
	return util.Clamp(float64(markers)/5+0.1*float64(util.ContainsAnyFold(text, engagementWords)), 0, 1)
}

func structureScore(text string) float64 {
	return util.Clamp(float64(util.ContainsAnyFold(text, structureWords))/2, 0, 1)
}
