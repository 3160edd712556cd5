package types

import (
	"sort"
	"strings"
)

type Segment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

func (s Segment) Duration() float64 { return s.End - s.Start }

// Transcript is produced once by the transcribe stage and read-only afterwards.
type Transcript struct {
	Language string    `json:"language"`
	Duration float64   `json:"duration"`
	Segments []Segment `json:"segments"`
}

// Sanitize sorts segments by start, drops empty or inverted ones and clamps
// end times to the media duration when it is known.
func (t *Transcript) Sanitize() {
	kept := t.Segments[:0]
	for _, seg := range t.Segments {
		seg.Text = strings.TrimSpace(seg.Text)
		if t.Duration > 0 && seg.End > t.Duration {
			seg.End = t.Duration
		}
		if seg.Start < 0 {
			seg.Start = 0
		}
		if seg.Text == "" || seg.Start >= seg.End {
			continue
		}
		kept = append(kept, seg)
	}
	sort.SliceStable(kept, func(i, j int) bool { return kept[i].Start < kept[j].Start })
	t.Segments = kept
}

// End is the last segment end, or the media duration if larger.
func (t *Transcript) End() float64 {
	end := t.Duration
	for _, seg := range t.Segments {
		if seg.End > end {
			end = seg.End
		}
	}
	return end
}

// Overlapping returns the segments that intersect [start, end).
func (t *Transcript) Overlapping(start, end float64) []Segment {
	var out []Segment
	for _, seg := range t.Segments {
		if seg.End > start && seg.Start < end {
			out = append(out, seg)
		}
	}
	return out
}

// TextBetween joins the text of every segment intersecting [start, end).
func (t *Transcript) TextBetween(start, end float64) string {
	parts := make([]string, 0, 8)
	for _, seg := range t.Overlapping(start, end) {
		parts = append(parts, seg.Text)
	}
	return strings.Join(parts, " ")
}
