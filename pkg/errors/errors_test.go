package errors

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestAppError_Error(t *testing.T) {
	err := New(CodeSourceDownload, "Test error")
	assert.Equal(t, "[1100] Test error", err.Error())

	cause := errors.New("underlying error")
	errWithCause := Wrap(CodeSourceDownload, "Test error", cause)
	assert.Contains(t, errWithCause.Error(), "underlying error")
	assert.Contains(t, errWithCause.Error(), "1100")
}

func TestAppError_Unwrap(t *testing.T) {
	cause := errors.New("underlying error")
	err := Wrap(CodeTranscribeFailed, "Transcription failed", cause)

	assert.Equal(t, cause, err.Unwrap())
	assert.True(t, errors.Is(err, cause))
}

func TestIs(t *testing.T) {
	err := fmt.Errorf("scenes: %w", New(CodeNoTranscriptSegments, "empty"))

	assert.True(t, Is(err, CodeNoTranscriptSegments))
	assert.False(t, Is(err, CodeSourceDownload))
	assert.False(t, Is(errors.New("regular error"), CodeNoTranscriptSegments))
}

func TestGetCode(t *testing.T) {
	assert.Equal(t, CodeLLMQuotaExceeded, GetCode(New(CodeLLMQuotaExceeded, "Quota exceeded")))
	assert.Equal(t, CodeUnknown, GetCode(errors.New("regular error")))
}

func TestGetMessage(t *testing.T) {
	appErr := New(CodeArtifactMissing, "产物不存在 Artifact missing")
	assert.Equal(t, "产物不存在 Artifact missing", GetMessage(appErr))
	assert.Equal(t, "regular error message", GetMessage(errors.New("regular error message")))
}

func TestWrapWithDetail(t *testing.T) {
	cause := errors.New("connection refused")
	err := WrapWithDetail(CodeSourceDownload, "Download failed", "URL: https://example.com", cause)

	assert.Equal(t, CodeSourceDownload, err.Code)
	assert.Equal(t, "Download failed", err.Message)
	assert.Equal(t, "URL: https://example.com", err.Detail)
	assert.Equal(t, cause, err.Cause)
}

func TestIsRetryable(t *testing.T) {
	testCases := []struct {
		name string
		err  error
		want bool
	}{
		{name: "nil", err: nil, want: false},
		{name: "plain error", err: errors.New("connection reset"), want: true},
		{name: "deadline", err: context.DeadlineExceeded, want: true},
		{name: "transient", err: Transient("llm 503", nil), want: true},
		{name: "subprocess", err: New(CodeSubprocessFailed, "ffmpeg exited 1"), want: true},
		{name: "rate limited", err: RateLimited("slow down", time.Second, nil), want: true},
		{name: "unauthorized", err: New(CodeUnauthorized, "bad token"), want: false},
		{name: "credentials missing wrapped", err: fmt.Errorf("export: %w", ErrCredentialsMissing), want: false},
		{name: "no transcript", err: ErrNoTranscriptSegments, want: false},
		{name: "rank data missing", err: ErrUpstreamRankDataMissing, want: false},
		{name: "audio too long", err: ErrAudioTooLong, want: false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, IsRetryable(tc.err))
			if tc.err != nil {
				assert.Equal(t, !tc.want, IsUnrecoverable(tc.err))
			}
		})
	}
}

func TestRetryAfter(t *testing.T) {
	assert.Zero(t, RetryAfter(nil))
	assert.Zero(t, RetryAfter(errors.New("plain")))

	hinted := RateLimited("quota", 42*time.Second, nil)
	assert.Equal(t, 42*time.Second, RetryAfter(hinted))

	outer := Wrap(CodeGenerateFailed, "generate", fmt.Errorf("call: %w", hinted))
	assert.Equal(t, 42*time.Second, RetryAfter(outer))
}

func TestPredefinedErrors(t *testing.T) {
	assert.Equal(t, CodeInvalidParams, ErrInvalidParams.Code)
	assert.Equal(t, CodeSourceDownload, ErrSourceDownload.Code)
	assert.Equal(t, CodeNoTranscriptSegments, ErrNoTranscriptSegments.Code)
	assert.Equal(t, CodeUpstreamRankDataMissing, ErrUpstreamRankDataMissing.Code)
	assert.Equal(t, CodeAudioTooLong, ErrAudioTooLong.Code)
}
