package media

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"strings"

	"clipfactory/log"
	apperrors "clipfactory/pkg/errors"

	"go.uber.org/zap"
)

// ProgressFunc receives the transcoder's current output position in seconds.
type ProgressFunc func(outTime float64)

// Runner executes one ffmpeg invocation and returns its stderr.
type Runner interface {
	Run(ctx context.Context, args []string, onProgress ProgressFunc) (string, error)
}

type Prober interface {
	Probe(ctx context.Context, path string) (*ProbeResult, error)
}

type ProbeResult struct {
	Duration float64 `json:"duration"`
	Width    int     `json:"width"`
	Height   int     `json:"height"`
	HasAudio bool    `json:"hasAudio"`
}

// FFmpeg shells out to the ffmpeg and ffprobe binaries.
type FFmpeg struct {
	FfmpegPath  string
	FfprobePath string
}

func NewFFmpeg(ffmpegPath, ffprobePath string) *FFmpeg {
	if strings.TrimSpace(ffmpegPath) == "" {
		ffmpegPath = "ffmpeg"
	}
	if strings.TrimSpace(ffprobePath) == "" {
		ffprobePath = "ffprobe"
	}
	return &FFmpeg{FfmpegPath: ffmpegPath, FfprobePath: ffprobePath}
}

const stderrTailBytes = 4096

func (f *FFmpeg) Run(ctx context.Context, args []string, onProgress ProgressFunc) (string, error) {
	fullArgs := append([]string{"-hide_banner", "-nostdin"}, args...)
	if onProgress != nil {
		fullArgs = append([]string{"-progress", "pipe:1", "-nostats"}, fullArgs...)
	}
	cmd := exec.CommandContext(ctx, f.FfmpegPath, fullArgs...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	var stdout io.ReadCloser
	var err error
	if onProgress != nil {
		stdout, err = cmd.StdoutPipe()
		if err != nil {
			return "", fmt.Errorf("ffmpeg stdout pipe: %w", err)
		}
	}
	if err = cmd.Start(); err != nil {
		return "", apperrors.Wrap(apperrors.CodeSubprocessFailed, "ffmpeg start failed", err)
	}
	if stdout != nil {
		scanProgress(stdout, onProgress)
	}
	err = cmd.Wait()
	output := stderr.String()
	if err != nil {
		log.GetLogger().Error("ffmpeg failed",
			zap.Strings("args", args),
			zap.String("output", tail(output, stderrTailBytes)),
			zap.Error(err))
		return output, classify(ctx, err, output)
	}
	return output, nil
}

func (f *FFmpeg) Probe(ctx context.Context, path string) (*ProbeResult, error) {
	cmd := exec.CommandContext(ctx, f.FfprobePath,
		"-v", "error",
		"-show_entries", "format=duration:stream=codec_type,width,height",
		"-of", "json",
		path,
	)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		log.GetLogger().Error("ffprobe failed", zap.String("path", path), zap.String("output", stderr.String()), zap.Error(err))
		return nil, classify(ctx, err, stderr.String())
	}
	return ParseProbe(stdout.Bytes())
}

// ParseProbe decodes ffprobe's JSON output.
func ParseProbe(raw []byte) (*ProbeResult, error) {
	var payload struct {
		Format struct {
			Duration string `json:"duration"`
		} `json:"format"`
		Streams []struct {
			CodecType string `json:"codec_type"`
			Width     int    `json:"width"`
			Height    int    `json:"height"`
		} `json:"streams"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("parse ffprobe output: %w", err)
	}
	duration, err := strconv.ParseFloat(strings.TrimSpace(payload.Format.Duration), 64)
	if err != nil || duration <= 0 {
		return nil, apperrors.WrapWithDetail(apperrors.CodeUnsupportedSource, "source has no duration", payload.Format.Duration, err)
	}
	result := &ProbeResult{Duration: duration}
	for _, stream := range payload.Streams {
		switch stream.CodecType {
		case "video":
			if result.Width == 0 {
				result.Width, result.Height = stream.Width, stream.Height
			}
		case "audio":
			result.HasAudio = true
		}
	}
	return result, nil
}

func scanProgress(r io.Reader, onProgress ProgressFunc) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		if sec, ok := parseProgressLine(scanner.Text()); ok {
			onProgress(sec)
		}
	}
}

// parseProgressLine reads out_time_us (or the misnamed out_time_ms, which
// ffmpeg also reports in microseconds) from -progress output.
func parseProgressLine(line string) (float64, bool) {
	key, value, ok := strings.Cut(strings.TrimSpace(line), "=")
	if !ok || (key != "out_time_us" && key != "out_time_ms") {
		return 0, false
	}
	us, err := strconv.ParseInt(value, 10, 64)
	if err != nil || us < 0 {
		return 0, false
	}
	return float64(us) / 1e6, true
}

var permanentMarkers = []string{
	"invalid data found when processing input",
	"does not contain any stream",
	"no such file or directory",
	"moov atom not found",
}

// classify maps a failed invocation onto the retry taxonomy: a broken input
// is terminal, anything else is a transient subprocess failure.
func classify(ctx context.Context, err error, stderr string) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return apperrors.Transient("ffmpeg interrupted", ctxErr)
	}
	detail := tail(stderr, 512)
	lower := strings.ToLower(stderr)
	for _, marker := range permanentMarkers {
		if strings.Contains(lower, marker) {
			return apperrors.WrapWithDetail(apperrors.CodeUnsupportedSource, "media input unusable", detail, err)
		}
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return apperrors.WrapWithDetail(apperrors.CodeSubprocessFailed,
			fmt.Sprintf("ffmpeg exited with status %d", exitErr.ExitCode()), detail, err)
	}
	return apperrors.WrapWithDetail(apperrors.CodeSubprocessFailed, "ffmpeg failed", detail, err)
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
