package media

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
)

// ExtractAudio writes a mono 16 kHz PCM wav, the format both transcription
// providers and silence detection expect.
func ExtractAudio(ctx context.Context, runner Runner, input, output string) error {
	args := []string{
		"-y", "-i", input,
		"-vn", "-ac", "1", "-ar", "16000",
		"-c:a", "pcm_s16le",
		output,
	}
	if _, err := runner.Run(ctx, args, nil); err != nil {
		return fmt.Errorf("extract audio: %w", err)
	}
	return nil
}

type AudioChunk struct {
	Path   string
	Offset float64
}

// SplitAudio cuts input into compressed chunks of segmentSec seconds so each
// stays under the transcription upload limit. Offsets are chunk start times.
func SplitAudio(ctx context.Context, runner Runner, input, outDir string, segmentSec int) ([]AudioChunk, error) {
	if segmentSec <= 0 {
		return nil, fmt.Errorf("split audio: segment length must be positive")
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, fmt.Errorf("split audio: %w", err)
	}
	args := []string{
		"-y", "-i", input,
		"-f", "segment",
		"-segment_time", strconv.Itoa(segmentSec),
		"-ac", "1", "-ar", "16000",
		"-c:a", "libmp3lame", "-b:a", "48k",
		filepath.Join(outDir, "chunk_%03d.mp3"),
	}
	if _, err := runner.Run(ctx, args, nil); err != nil {
		return nil, fmt.Errorf("split audio: %w", err)
	}
	files, err := filepath.Glob(filepath.Join(outDir, "chunk_*.mp3"))
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	chunks := make([]AudioChunk, 0, len(files))
	for i, file := range files {
		chunks = append(chunks, AudioChunk{Path: file, Offset: float64(i * segmentSec)})
	}
	return chunks, nil
}
