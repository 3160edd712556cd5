package render

import (
	"fmt"
	"strconv"
	"strings"
)

// escapeFilterPath makes a path safe inside a quoted filter argument.
func escapeFilterPath(path string) string {
	path = strings.ReplaceAll(path, "\\", "/")
	path = strings.ReplaceAll(path, ":", "\\:")
	return strings.ReplaceAll(path, "'", "\\'")
}

// videoGraph scales the source to fill the frame, either cropping the
// overflow or laying it over a blurred copy of itself, then burns in the
// subtitle file.
func videoGraph(cfg Config, assPath string) string {
	subs := fmt.Sprintf("subtitles=filename='%s':force_style='%s'", escapeFilterPath(assPath), cfg.Style.ForceStyle())
	w, h := cfg.Width, cfg.Height
	if cfg.Mode == ModeBlur {
		return fmt.Sprintf("[0:v]split=2[bg][fg];"+
			"[bg]scale=%d:%d:force_original_aspect_ratio=increase,crop=%d:%d,boxblur=20:5[bgb];"+
			"[fg]scale=%d:-2[fgs];"+
			"[bgb][fgs]overlay=(W-w)/2:(H-h)/2,%s[v]", w, h, w, h, w, subs)
	}
	return fmt.Sprintf("[0:v]scale=%d:%d:force_original_aspect_ratio=increase,crop=%d:%d,setsar=1,%s[v]", w, h, w, h, subs)
}

func clipArgs(cfg Config, source, assPath, output string, start, duration float64, hasAudio bool, threads int) []string {
	graph := videoGraph(cfg, assPath)
	if hasAudio {
		graph += ";[0:a]loudnorm=" + cfg.Loudnorm + "[a]"
	}
	args := []string{
		"-y",
		"-ss", formatSeconds(start),
		"-t", formatSeconds(duration),
		"-i", source,
		"-filter_complex", graph,
		"-map", "[v]",
	}
	if hasAudio {
		args = append(args, "-map", "[a]", "-c:a", "aac", "-b:a", cfg.AudioBitrate)
	}
	return append(args,
		"-c:v", "libx264",
		"-preset", cfg.Preset,
		"-crf", strconv.Itoa(cfg.CRF),
		"-threads", strconv.Itoa(threads),
		"-movflags", "+faststart",
		output,
	)
}

func thumbnailArgs(clip, output string, duration float64) []string {
	return []string{
		"-y",
		"-ss", formatSeconds(duration / 2),
		"-i", clip,
		"-frames:v", "1",
		"-q:v", "3",
		output,
	}
}

func formatSeconds(v float64) string {
	return strconv.FormatFloat(v, 'f', 3, 64)
}
