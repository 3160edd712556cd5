// Package subtitle writes transcript segments as SRT, WebVTT and ASS tracks.
package subtitle

import (
	"bytes"
	"fmt"
	"math"
	"strings"
	"unicode/utf8"

	"clipfactory/internal/types"
)

func splitTime(sec float64) (h, m, s, ms int) {
	if sec < 0 {
		sec = 0
	}
	total := int(math.Round(sec * 1000))
	h = total / 3_600_000
	m = total / 60_000 % 60
	s = total / 1000 % 60
	ms = total % 1000
	return
}

func FormatSRTTime(sec float64) string {
	h, m, s, ms := splitTime(sec)
	return fmt.Sprintf("%02d:%02d:%02d,%03d", h, m, s, ms)
}

func FormatVTTTime(sec float64) string {
	h, m, s, ms := splitTime(sec)
	return fmt.Sprintf("%02d:%02d:%02d.%03d", h, m, s, ms)
}

// FormatASSTime uses centiseconds as the ASS format requires.
func FormatASSTime(sec float64) string {
	h, m, s, ms := splitTime(sec)
	return fmt.Sprintf("%d:%02d:%02d.%02d", h, m, s, ms/10)
}

func RenderSRT(segments []types.Segment) []byte {
	var buf bytes.Buffer
	for i, seg := range segments {
		fmt.Fprintf(&buf, "%d\n%s --> %s\n%s\n\n", i+1, FormatSRTTime(seg.Start), FormatSRTTime(seg.End), seg.Text)
	}
	return buf.Bytes()
}

func RenderVTT(segments []types.Segment) []byte {
	var buf bytes.Buffer
	buf.WriteString("WEBVTT\n\n")
	for _, seg := range segments {
		fmt.Fprintf(&buf, "%s --> %s\n%s\n\n", FormatVTTTime(seg.Start), FormatVTTTime(seg.End), seg.Text)
	}
	return buf.Bytes()
}

// ClipSegments keeps the segments overlapping [start, end], shifts them to
// clip-relative time and clamps them into [0, end-start].
func ClipSegments(segments []types.Segment, start, end float64) []types.Segment {
	length := end - start
	var out []types.Segment
	for _, seg := range segments {
		if seg.End <= start || seg.Start >= end {
			continue
		}
		s := math.Max(seg.Start-start, 0)
		e := math.Min(seg.End-start, length)
		if e <= s {
			continue
		}
		out = append(out, types.Segment{Start: s, End: e, Text: seg.Text})
	}
	return out
}

// WrapText breaks text into lines of at most maxChars runes on word
// boundaries. Words longer than maxChars get their own line.
func WrapText(text string, maxChars int) []string {
	words := strings.Fields(text)
	if maxChars <= 0 || len(words) == 0 {
		return []string{strings.TrimSpace(text)}
	}
	var lines []string
	var line strings.Builder
	for _, word := range words {
		if line.Len() > 0 && utf8.RuneCountInString(line.String())+1+utf8.RuneCountInString(word) > maxChars {
			lines = append(lines, line.String())
			line.Reset()
		}
		if line.Len() > 0 {
			line.WriteByte(' ')
		}
		line.WriteString(word)
	}
	if line.Len() > 0 {
		lines = append(lines, line.String())
	}
	return lines
}
