// Package mocks provides mock implementations of core interfaces for testing.
package mocks

import (
	"context"

	"clipfactory/internal/types"
	"clipfactory/pkg/youtube"

	"github.com/stretchr/testify/mock"
)

// MockTranscriber is a mock implementation of types.Transcriber
type MockTranscriber struct {
	mock.Mock
}

func (m *MockTranscriber) Transcribe(ctx context.Context, audioFile, language string) (*types.Transcript, error) {
	args := m.Called(ctx, audioFile, language)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*types.Transcript), args.Error(1)
}

// MockEmbedder is a mock implementation of types.Embedder
type MockEmbedder struct {
	mock.Mock
}

func (m *MockEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	args := m.Called(ctx, texts)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([][]float32), args.Error(1)
}

// MockChatCompleter is a mock implementation of types.ChatCompleter
type MockChatCompleter struct {
	mock.Mock
}

func (m *MockChatCompleter) CompleteJSON(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	args := m.Called(ctx, systemPrompt, userPrompt)
	return args.String(0), args.Error(1)
}

// MockBroker is a mock implementation of types.Broker
type MockBroker struct {
	mock.Mock
}

func (m *MockBroker) Enqueue(ctx context.Context, stage types.Stage, payload types.StagePayload, idempotencyKey string) (types.EnqueueResult, error) {
	args := m.Called(ctx, stage, payload, idempotencyKey)
	return args.Get(0).(types.EnqueueResult), args.Error(1)
}

// MockPlatform is a mock of the video platform client used by export.
// Upload reports full progress before returning.
type MockPlatform struct {
	mock.Mock
}

func (m *MockPlatform) RefreshToken(ctx context.Context, refreshToken string) (*youtube.Token, error) {
	args := m.Called(ctx, refreshToken)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*youtube.Token), args.Error(1)
}

func (m *MockPlatform) StartUpload(ctx context.Context, accessToken string, meta youtube.VideoMetadata, size int64) (string, error) {
	args := m.Called(ctx, accessToken, meta, size)
	return args.String(0), args.Error(1)
}

func (m *MockPlatform) Upload(ctx context.Context, accessToken, sessionURL, path string, onProgress func(sent, total int64)) (string, error) {
	args := m.Called(ctx, accessToken, sessionURL, path)
	if onProgress != nil && args.Error(1) == nil {
		onProgress(1, 1)
	}
	return args.String(0), args.Error(1)
}

func (m *MockPlatform) SetThumbnail(ctx context.Context, accessToken, videoID, path string) error {
	args := m.Called(ctx, accessToken, videoID, path)
	return args.Error(0)
}

func (m *MockPlatform) Status(ctx context.Context, accessToken, videoID string) (*youtube.ProcessingStatus, error) {
	args := m.Called(ctx, accessToken, videoID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*youtube.ProcessingStatus), args.Error(1)
}
