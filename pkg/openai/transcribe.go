package openai

import (
	"context"
	"strings"

	"clipfactory/internal/types"
	"clipfactory/log"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

// Transcribe uploads one audio file and returns its timed segments.
func (c *Client) Transcribe(ctx context.Context, audioFile, language string) (*types.Transcript, error) {
	resp, err := c.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    c.TranscribeModel,
		FilePath: audioFile,
		Format:   openai.AudioResponseFormatVerboseJSON,
		Language: language,
	})
	if err != nil {
		log.GetLogger().Error("openai: transcription failed", zap.String("file", audioFile), zap.Error(err))
		return nil, classify("transcription", err)
	}

	tr := &types.Transcript{
		Language: strings.ToLower(resp.Language),
		Duration: resp.Duration,
		Segments: make([]types.Segment, 0, len(resp.Segments)),
	}
	for _, seg := range resp.Segments {
		tr.Segments = append(tr.Segments, types.Segment{Start: seg.Start, End: seg.End, Text: strings.TrimSpace(seg.Text)})
	}
	if len(tr.Segments) == 0 && strings.TrimSpace(resp.Text) != "" {
		tr.Segments = append(tr.Segments, types.Segment{Start: 0, End: resp.Duration, Text: strings.TrimSpace(resp.Text)})
	}
	return tr, nil
}
