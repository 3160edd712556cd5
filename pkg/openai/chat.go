package openai

import (
	"context"
	"encoding/json"
	"strings"

	"clipfactory/log"
	apperrors "clipfactory/pkg/errors"
	"clipfactory/pkg/util"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

// CompleteJSON asks for a JSON object and returns it verbatim. Models that
// wrap the object in prose or code fences are tolerated.
func (c *Client) CompleteJSON(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.ChatModel,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: userPrompt},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject},
		Temperature:    0.7,
	})
	if err != nil {
		log.GetLogger().Error("openai: chat completion failed", zap.String("model", c.ChatModel), zap.Error(err))
		return "", classify("chat completion", err)
	}
	if len(resp.Choices) == 0 {
		return "", apperrors.Transient("chat completion returned no choices", nil)
	}

	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	if !json.Valid([]byte(content)) {
		content = util.ExtractJsonFromText(content)
	}
	if !json.Valid([]byte(content)) {
		return "", apperrors.Wrap(apperrors.CodeGenerateFailed, apperrors.ErrGenerateFailed.Message, nil)
	}
	return content, nil
}
