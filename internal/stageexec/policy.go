package stageexec

import (
	"time"

	"clipfactory/internal/types"
	apperrors "clipfactory/pkg/errors"

	"golang.org/x/time/rate"
)

// DefaultConcurrency is the worker pool size per stage. Render is pinned
// to one because ffmpeg already saturates the host.
var DefaultConcurrency = map[types.Stage]int{
	types.StageIngest:     2,
	types.StageTranscribe: 2,
	types.StageScenes:     2,
	types.StageRank:       2,
	types.StageRender:     1,
	types.StageTexts:      2,
	types.StageExport:     2,
}

// ConcurrencyFor falls back to the default pool size, then to 1.
func ConcurrencyFor(overrides map[types.Stage]int, stage types.Stage) int {
	if n := overrides[stage]; n > 0 {
		return n
	}
	if n := DefaultConcurrency[stage]; n > 0 {
		return n
	}
	return 1
}

type RetryPolicy struct {
	MaxRetry int
	Base     time.Duration
	Cap      time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxRetry: 3, Base: 10 * time.Second, Cap: 10 * time.Minute}
}

// Delay is min(Base*2^n, Cap) for the n-th retry (n starts at 0). A
// provider hint wins when it is longer, and a rate-limit error waits
// exactly as long as its hint.
func (p RetryPolicy) Delay(n int, err error) time.Duration {
	hint := apperrors.RetryAfter(err)
	if apperrors.Is(err, apperrors.CodeRateLimited) && hint > 0 {
		return hint
	}
	backoff := p.Cap
	if n < 0 {
		n = 0
	}
	if n < 32 {
		if d := p.Base << uint(n); d > 0 && d < p.Cap {
			backoff = d
		}
	}
	if hint > backoff {
		return hint
	}
	return backoff
}

// RateLimit allows Requests per Interval with the given Burst. Attempts
// that would wait longer than MaxWait for a token are deferred instead.
type RateLimit struct {
	Requests int
	Interval time.Duration
	Burst    int
	MaxWait  time.Duration
}

// Limiter returns nil when the stage is unlimited.
func (r RateLimit) Limiter() *rate.Limiter {
	if r.Requests <= 0 || r.Interval <= 0 {
		return nil
	}
	burst := r.Burst
	if burst <= 0 {
		burst = 1
	}
	return rate.NewLimiter(rate.Every(r.Interval/time.Duration(r.Requests)), burst)
}

func (r RateLimit) Wait() time.Duration {
	if r.MaxWait > 0 {
		return r.MaxWait
	}
	return 5 * time.Second
}
