package media

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
)

type Silence struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

func (s Silence) Midpoint() float64 { return (s.Start + s.End) / 2 }

// DetectSilence runs ffmpeg's silencedetect filter over an audio file.
func DetectSilence(ctx context.Context, runner Runner, audioPath string, thresholdDB, minSilence float64) ([]Silence, error) {
	filter := fmt.Sprintf("silencedetect=noise=%sdB:d=%s",
		strconv.FormatFloat(thresholdDB, 'f', -1, 64),
		strconv.FormatFloat(minSilence, 'f', -1, 64))
	args := []string{"-i", audioPath, "-af", filter, "-f", "null", "-"}
	stderr, err := runner.Run(ctx, args, nil)
	if err != nil {
		return nil, fmt.Errorf("detect silence: %w", err)
	}
	return ParseSilence(stderr), nil
}

var (
	silenceStartRe = regexp.MustCompile(`silence_start:\s*(-?[0-9.]+)`)
	silenceEndRe   = regexp.MustCompile(`silence_end:\s*([0-9.]+)`)
)

// ParseSilence pairs silence_start/silence_end lines. A trailing start with
// no end (silence running to EOF) is dropped.
func ParseSilence(stderr string) []Silence {
	starts := silenceStartRe.FindAllStringSubmatchIndex(stderr, -1)
	ends := silenceEndRe.FindAllStringSubmatchIndex(stderr, -1)

	var out []Silence
	ei := 0
	for _, sm := range starts {
		start, err := strconv.ParseFloat(stderr[sm[2]:sm[3]], 64)
		if err != nil {
			continue
		}
		for ei < len(ends) && ends[ei][0] < sm[0] {
			ei++
		}
		if ei >= len(ends) {
			break
		}
		end, err := strconv.ParseFloat(stderr[ends[ei][2]:ends[ei][3]], 64)
		ei++
		if err != nil || end <= start {
			continue
		}
		if start < 0 {
			start = 0
		}
		out = append(out, Silence{Start: start, End: end})
	}
	return out
}
