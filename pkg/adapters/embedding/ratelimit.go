package embedding

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// Limited wraps an Embedder with a local token bucket. Requests that would
// have to wait are refused with a RateLimitError instead of blocking, so the
// caller can fall back immediately.
type Limited struct {
	next    Embedder
	limiter *rate.Limiter
	now     func() time.Time
}

// WithRateLimit returns next guarded by rps requests per second with the
// given burst. rps <= 0 returns next unchanged.
func WithRateLimit(next Embedder, rps float64, burst int) Embedder {
	if rps <= 0 {
		return next
	}
	if burst <= 0 {
		burst = 1
	}
	return &Limited{next: next, limiter: rate.NewLimiter(rate.Limit(rps), burst), now: time.Now}
}

func (l *Limited) Name() string { return l.next.Name() }

func (l *Limited) Embed(ctx context.Context, inputs []string, opts map[string]any) ([]Vector, error) {
	n := len(inputs)
	if n == 0 {
		return nil, nil
	}
	r := l.limiter.ReserveN(l.now(), n)
	if !r.OK() {
		return nil, &RateLimitError{Provider: l.next.Name()}
	}
	if d := r.DelayFrom(l.now()); d > 0 {
		r.Cancel()
		return nil, &RateLimitError{Provider: l.next.Name(), RetryAfter: d}
	}
	return l.next.Embed(ctx, inputs, opts)
}
