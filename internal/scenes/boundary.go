package scenes

import (
	"sort"

	"clipfactory/internal/media"
	"clipfactory/internal/types"
	"clipfactory/pkg/util"

	"github.com/samber/lo"
)

const (
	ReasonSilence  = "silence"
	ReasonSemantic = "semantic_shift"
	ReasonSentence = "sentence_end"
)

var reasonPriority = map[string]int{
	ReasonSemantic: 3,
	ReasonSentence: 2,
	ReasonSilence:  1,
}

// Boundary is a candidate cut point with the detectors that proposed it.
type Boundary struct {
	Time    float64
	Reasons []string
}

func (b Boundary) Priority() int {
	best := 0
	for _, reason := range b.Reasons {
		if p := reasonPriority[reason]; p > best {
			best = p
		}
	}
	return best
}

func (b Boundary) Has(reason string) bool {
	return lo.Contains(b.Reasons, reason)
}

func silenceBoundaries(silences []media.Silence, duration float64) []Boundary {
	out := make([]Boundary, 0, len(silences))
	for _, s := range silences {
		mid := s.Midpoint()
		if mid <= 0 || mid >= duration {
			continue
		}
		out = append(out, Boundary{Time: mid, Reasons: []string{ReasonSilence}})
	}
	return out
}

// sentenceBoundaries maps each sentence end back to a timestamp by linear
// interpolation over the characters of its segment.
func sentenceBoundaries(segments []types.Segment) []Boundary {
	var out []Boundary
	for _, seg := range segments {
		length := len([]rune(seg.Text))
		if length == 0 {
			continue
		}
		for _, offset := range util.SentenceEnds(seg.Text) {
			t := seg.Start + float64(offset)/float64(length)*(seg.End-seg.Start)
			out = append(out, Boundary{Time: t, Reasons: []string{ReasonSentence}})
		}
	}
	return out
}

type window struct {
	Start, End float64
	Text       string
}

func (w window) center() float64 { return (w.Start + w.End) / 2 }

// buildWindows slides a fixed window over the transcript. Windows with no
// speech are skipped so silence does not read as a topic change.
func buildWindows(tr *types.Transcript, duration, size, overlap float64) []window {
	step := size * (1 - overlap)
	if step <= 0 {
		step = size
	}
	var out []window
	for start := 0.0; start < duration; start += step {
		end := start + size
		if end > duration {
			end = duration
		}
		if text := tr.TextBetween(start, end); text != "" {
			out = append(out, window{Start: start, End: end, Text: text})
		}
		if end >= duration {
			break
		}
	}
	return out
}

func semanticBoundaries(windows []window, vectors [][]float32, threshold float64) []Boundary {
	var out []Boundary
	for i := 1; i < len(windows) && i < len(vectors); i++ {
		if util.Cosine(vectors[i-1], vectors[i]) < threshold {
			t := (windows[i-1].center() + windows[i].center()) / 2
			out = append(out, Boundary{Time: t, Reasons: []string{ReasonSemantic}})
		}
	}
	return out
}

// Consolidate merges boundaries closer than tolerance into one at their mean
// time with the union of reasons, pads semantic boundaries forward, then
// merges again. Results stay inside (0, duration).
func Consolidate(boundaries []Boundary, tolerance, padding, duration float64) []Boundary {
	merged := mergeWithin(boundaries, tolerance)
	for i := range merged {
		if merged[i].Has(ReasonSemantic) {
			merged[i].Time += padding
		}
	}
	merged = mergeWithin(merged, tolerance)
	return lo.Filter(merged, func(b Boundary, _ int) bool {
		return b.Time > 0 && (duration <= 0 || b.Time < duration)
	})
}

func mergeWithin(boundaries []Boundary, tolerance float64) []Boundary {
	if len(boundaries) == 0 {
		return nil
	}
	sorted := append([]Boundary(nil), boundaries...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Time < sorted[j].Time })

	var out []Boundary
	groupSum := sorted[0].Time
	groupLen := 1
	reasons := append([]string(nil), sorted[0].Reasons...)
	flush := func() {
		out = append(out, Boundary{Time: groupSum / float64(groupLen), Reasons: sortReasons(lo.Uniq(reasons))})
	}
	for _, b := range sorted[1:] {
		mean := groupSum / float64(groupLen)
		if b.Time-mean < tolerance {
			groupSum += b.Time
			groupLen++
			reasons = append(reasons, b.Reasons...)
			continue
		}
		flush()
		groupSum, groupLen = b.Time, 1
		reasons = append([]string(nil), b.Reasons...)
	}
	flush()
	return out
}

func sortReasons(reasons []string) []string {
	sort.SliceStable(reasons, func(i, j int) bool {
		pi, pj := reasonPriority[reasons[i]], reasonPriority[reasons[j]]
		if pi != pj {
			return pi > pj
		}
		return reasons[i] < reasons[j]
	})
	return reasons
}
