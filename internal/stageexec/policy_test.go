package stageexec

import (
	"errors"
	"testing"
	"time"

	"clipfactory/internal/types"
	apperrors "clipfactory/pkg/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetryPolicyDelay(t *testing.T) {
	p := DefaultRetryPolicy()
	plain := errors.New("boom")

	assert.Equal(t, 10*time.Second, p.Delay(0, plain))
	assert.Equal(t, 20*time.Second, p.Delay(1, plain))
	assert.Equal(t, 40*time.Second, p.Delay(2, plain))
	assert.Equal(t, 10*time.Minute, p.Delay(8, plain))
	assert.Equal(t, 10*time.Minute, p.Delay(80, plain))
}

func TestRetryPolicyHonoursHints(t *testing.T) {
	p := DefaultRetryPolicy()

	longHint := apperrors.Wrap(apperrors.CodeUpstreamTransient, "busy", apperrors.RateLimited("quota", 30*time.Minute, nil))
	assert.Equal(t, 30*time.Minute, p.Delay(0, longHint))

	shortHint := apperrors.Wrap(apperrors.CodeUpstreamTransient, "busy", apperrors.RateLimited("quota", time.Second, nil))
	assert.Equal(t, 10*time.Second, p.Delay(0, shortHint))

	limited := apperrors.RateLimited("limiter", 3*time.Second, nil)
	assert.Equal(t, 3*time.Second, p.Delay(2, limited))
}

func TestRateLimitLimiter(t *testing.T) {
	assert.Nil(t, RateLimit{}.Limiter())

	l := RateLimit{Requests: 10, Interval: time.Second, Burst: 2}.Limiter()
	require.NotNil(t, l)
	assert.Equal(t, 2, l.Burst())
	assert.InDelta(t, 10.0, float64(l.Limit()), 0.001)
	assert.Equal(t, 5*time.Second, RateLimit{}.Wait())
}

func TestConcurrencyFor(t *testing.T) {
	assert.Equal(t, 1, ConcurrencyFor(nil, types.StageRender))
	assert.Equal(t, 2, ConcurrencyFor(nil, types.StageTexts))
	assert.Equal(t, 6, ConcurrencyFor(map[types.Stage]int{types.StageTexts: 6}, types.StageTexts))
}
