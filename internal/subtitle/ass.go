package subtitle

import (
	"bytes"
	"fmt"
	"strings"

	"clipfactory/internal/types"
)

// Style controls the burned-in caption look on the vertical frame.
type Style struct {
	Font         string `toml:"font"`
	FontSize     int    `toml:"font_size"`
	MarginV      int    `toml:"margin_v"`
	Outline      int    `toml:"outline"`
	LineChars    int    `toml:"line_chars"`
	PrimaryColor string `toml:"primary_color"`
	OutlineColor string `toml:"outline_color"`
}

func DefaultStyle() Style {
	return Style{
		Font:         "Arial",
		FontSize:     64,
		MarginV:      320,
		Outline:      3,
		LineChars:    28,
		PrimaryColor: "&H00FFFFFF",
		OutlineColor: "&H00000000",
	}
}

// ForceStyle renders the style as the subtitles filter's force_style value.
func (s Style) ForceStyle() string {
	return fmt.Sprintf("FontName=%s,FontSize=%d,MarginV=%d,Outline=%d,PrimaryColour=%s,OutlineColour=%s,Alignment=2",
		s.Font, s.FontSize, s.MarginV, s.Outline, s.PrimaryColor, s.OutlineColor)
}

// RenderASS builds a complete ASS script for a width x height frame.
func RenderASS(segments []types.Segment, style Style, width, height int) []byte {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "[Script Info]\nScriptType: v4.00+\nPlayResX: %d\nPlayResY: %d\nWrapStyle: 2\nScaledBorderAndShadow: yes\n\n", width, height)
	buf.WriteString("[V4+ Styles]\n")
	buf.WriteString("Format: Name, Fontname, Fontsize, PrimaryColour, SecondaryColour, OutlineColour, BackColour, Bold, Italic, Underline, StrikeOut, ScaleX, ScaleY, Spacing, Angle, BorderStyle, Outline, Shadow, Alignment, MarginL, MarginR, MarginV, Encoding\n")
	fmt.Fprintf(&buf, "Style: Caption,%s,%d,%s,&H000000FF,%s,&H64000000,-1,0,0,0,100,100,0,0,1,%d,0,2,60,60,%d,1\n\n",
		style.Font, style.FontSize, style.PrimaryColor, style.OutlineColor, style.Outline, style.MarginV)
	buf.WriteString("[Events]\n")
	buf.WriteString("Format: Layer, Start, End, Style, Name, MarginL, MarginR, MarginV, Effect, Text\n")
	for _, seg := range segments {
		lines := WrapText(escapeASS(seg.Text), style.LineChars)
		fmt.Fprintf(&buf, "Dialogue: 0,%s,%s,Caption,,0,0,0,,%s\n",
			FormatASSTime(seg.Start), FormatASSTime(seg.End), strings.Join(lines, `\N`))
	}
	return buf.Bytes()
}

// escapeASS strips override-block braces and hard newlines from caption text.
func escapeASS(text string) string {
	r := strings.NewReplacer("{", "(", "}", ")", "\r", " ", "\n", " ", `\`, "/")
	return r.Replace(text)
}
