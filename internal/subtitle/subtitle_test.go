package subtitle

import (
	"strings"
	"testing"

	"clipfactory/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatTimes(t *testing.T) {
	assert.Equal(t, "01:02:03,456", FormatSRTTime(3723.456))
	assert.Equal(t, "00:00:00,000", FormatSRTTime(-1))
	assert.Equal(t, "00:01:05.250", FormatVTTTime(65.25))
	assert.Equal(t, "0:01:05.25", FormatASSTime(65.25))
}

func TestRenderSRTAndVTT(t *testing.T) {
	segs := []types.Segment{{Start: 0, End: 1.5, Text: "hello"}, {Start: 1.5, End: 3, Text: "world"}}

	srt := string(RenderSRT(segs))
	assert.Equal(t, "1\n00:00:00,000 --> 00:00:01,500\nhello\n\n2\n00:00:01,500 --> 00:00:03,000\nworld\n\n", srt)

	vtt := string(RenderVTT(segs))
	assert.True(t, strings.HasPrefix(vtt, "WEBVTT\n\n00:00:00.000 --> 00:00:01.500\nhello"))
}

func TestClipSegmentsRebasesAndClamps(t *testing.T) {
	segs := []types.Segment{
		{Start: 5, End: 9, Text: "before"},
		{Start: 9, End: 12, Text: "straddles start"},
		{Start: 12, End: 20, Text: "inside"},
		{Start: 38, End: 45, Text: "straddles end"},
		{Start: 40, End: 50, Text: "after"},
	}

	got := ClipSegments(segs, 10, 40)
	require.Len(t, got, 3)
	assert.Equal(t, types.Segment{Start: 0, End: 2, Text: "straddles start"}, got[0])
	assert.Equal(t, types.Segment{Start: 2, End: 10, Text: "inside"}, got[1])
	assert.Equal(t, types.Segment{Start: 28, End: 30, Text: "straddles end"}, got[2])
}

func TestWrapText(t *testing.T) {
	assert.Equal(t, []string{"the quick brown", "fox jumps"}, WrapText("the quick brown fox jumps", 15))
	assert.Equal(t, []string{"supercalifragilistic", "x"}, WrapText("supercalifragilistic x", 5))
}

func TestRenderASS(t *testing.T) {
	style := DefaultStyle()
	out := string(RenderASS([]types.Segment{{Start: 1, End: 2.5, Text: "a {b} c"}}, style, 1080, 1920))

	assert.Contains(t, out, "PlayResX: 1080")
	assert.Contains(t, out, "PlayResY: 1920")
	assert.Contains(t, out, "Dialogue: 0,0:00:01.00,0:00:02.50,Caption,,0,0,0,,a (b) c")
	assert.Contains(t, style.ForceStyle(), "FontSize=64")
}
