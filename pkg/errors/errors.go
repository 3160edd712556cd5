// Package errors provides structured error handling for the application.
// It defines AppError with stable numeric codes shared by the API envelope,
// the event stream and the stage runtime's retry policy.
package errors

import (
	"errors"
	"fmt"
	"time"
)

// Error codes organized by category
const (
	// General errors (1000-1099)
	CodeSuccess       = 0
	CodeUnknown       = 1000
	CodeInvalidParams = 1001
	CodeNotFound      = 1002
	CodeUnauthorized  = 1003

	// Source/media errors (1100-1199)
	CodeSourceDownload    = 1100
	CodeAudioExtract      = 1101
	CodeUnsupportedSource = 1103
	CodeAudioTooLong      = 1104
	CodeRateLimited       = 1105

	// Transcription errors (1200-1299)
	CodeTranscribeFailed = 1200

	// Generation errors (1300-1399)
	CodeGenerateFailed   = 1300
	CodeLLMQuotaExceeded = 1302

	// Storage errors (1500-1599)
	CodeDBError         = 1500
	CodeArtifactMissing = 1501
	CodeArtifactWrite   = 1502

	// Clip pipeline errors (1600-1699)
	CodeSceneDetectFailed       = 1600
	CodeRenderFailed            = 1601
	CodeNoTranscriptSegments    = 1602
	CodeUpstreamRankDataMissing = 1603

	// Runtime errors (1700-1799)
	CodeUpstreamTransient  = 1700
	CodeSubprocessFailed   = 1701
	CodeCredentialsMissing = 1702
	CodeExportFailed       = 1703
)

// AppError represents a structured application error
type AppError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Detail  string `json:"detail,omitempty"`
	Cause   error  `json:"-"`

	// RetryAfter carries a provider hint for the next attempt.
	RetryAfter time.Duration `json:"-"`
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%d] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%d] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *AppError) Unwrap() error {
	return e.Cause
}

// New creates a new AppError
func New(code int, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Wrap wraps an existing error with an AppError
func Wrap(code int, message string, cause error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// WrapWithDetail wraps an error with additional detail
func WrapWithDetail(code int, message string, detail string, cause error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Detail:  detail,
		Cause:   cause,
	}
}

// Transient marks an upstream failure worth another attempt.
func Transient(message string, cause error) *AppError {
	return Wrap(CodeUpstreamTransient, message, cause)
}

// RateLimited builds a quota error carrying the provider's retry hint.
func RateLimited(message string, retryAfter time.Duration, cause error) *AppError {
	err := Wrap(CodeRateLimited, message, cause)
	err.RetryAfter = retryAfter
	return err
}

// Is checks if the target error is an AppError with the specified code
func Is(err error, code int) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}

// GetCode extracts error code from error, returns CodeUnknown if not AppError
func GetCode(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return CodeUnknown
}

// GetMessage extracts message from error
func GetMessage(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	return err.Error()
}

var unrecoverableCodes = map[int]struct{}{
	CodeInvalidParams:           {},
	CodeNotFound:                {},
	CodeUnauthorized:            {},
	CodeUnsupportedSource:       {},
	CodeAudioTooLong:            {},
	CodeArtifactMissing:         {},
	CodeNoTranscriptSegments:    {},
	CodeUpstreamRankDataMissing: {},
	CodeCredentialsMissing:      {},
}

// IsRetryable reports whether the stage runtime should requeue err.
// Errors without a code are treated as transient; the attempt cap bounds them.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var appErr *AppError
	if errors.As(err, &appErr) {
		_, terminal := unrecoverableCodes[appErr.Code]
		return !terminal
	}
	return true
}

// IsUnrecoverable is the complement of IsRetryable for non-nil errors.
func IsUnrecoverable(err error) bool {
	return err != nil && !IsRetryable(err)
}

// RetryAfter returns the retry hint attached anywhere in err's chain.
func RetryAfter(err error) time.Duration {
	for err != nil {
		var appErr *AppError
		if !errors.As(err, &appErr) {
			return 0
		}
		if appErr.RetryAfter > 0 {
			return appErr.RetryAfter
		}
		err = appErr.Cause
	}
	return 0
}

// Predefined common errors
var (
	ErrInvalidParams = New(CodeInvalidParams, "参数错误 Invalid parameters")
	ErrNotFound      = New(CodeNotFound, "资源不存在 Resource not found")
	ErrUnauthorized  = New(CodeUnauthorized, "未授权 Unauthorized")

	ErrSourceDownload = New(CodeSourceDownload, "源视频下载失败 Source download failed")
	ErrAudioExtract   = New(CodeAudioExtract, "音频提取失败 Audio extraction failed")
	ErrAudioTooLong   = New(CodeAudioTooLong, "音频超出处理上限 Audio exceeds processing limit")
	ErrRateLimited    = New(CodeRateLimited, "请求频率限制 Rate limited")

	ErrTranscribeFailed = New(CodeTranscribeFailed, "语音识别失败 Transcription failed")
	ErrGenerateFailed   = New(CodeGenerateFailed, "文本生成失败 Text generation failed")

	ErrDBError         = New(CodeDBError, "数据库错误 Database error")
	ErrArtifactMissing = New(CodeArtifactMissing, "产物不存在 Artifact missing")

	ErrNoTranscriptSegments    = New(CodeNoTranscriptSegments, "未找到字幕片段 No transcript segments found")
	ErrUpstreamRankDataMissing = New(CodeUpstreamRankDataMissing, "缺少排序数据 Upstream rank data missing")

	ErrCredentialsMissing = New(CodeCredentialsMissing, "缺少平台凭证 Platform credentials missing")
)
