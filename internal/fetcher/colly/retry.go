package collyfetcher

import (
	"crypto/rand"
	"math"
	"math/big"
	"net/http"
	"time"
)

// RetryPolicy decides which failed addresses get another pass and how long
// to wait before it.
type RetryPolicy struct {
	maxPasses int
	baseDelay time.Duration
	maxDelay  time.Duration
}

// NewRetryPolicy builds a policy allowing passes extra passes.
func NewRetryPolicy(passes int, baseDelay time.Duration) *RetryPolicy {
	if baseDelay <= 0 {
		baseDelay = 250 * time.Millisecond
	}
	return &RetryPolicy{
		maxPasses: max(passes, 0),
		baseDelay: baseDelay,
		maxDelay:  10 * time.Second,
	}
}

// Passes is the number of retry passes after the main one.
func (p *RetryPolicy) Passes() int { return p.maxPasses }

// Retryable reports whether a failed request is worth repeating. Status 0
// stands for a transport error.
func (p *RetryPolicy) Retryable(status int) bool {
	switch {
	case status == 0:
		return true
	case status == http.StatusTooManyRequests:
		return true
	case status >= 500:
		return true
	}
	return false
}

// Backoff returns the wait before retry pass n (1-based).
func (p *RetryPolicy) Backoff(pass int) time.Duration {
	delay := float64(p.baseDelay) * math.Pow(2, float64(max(pass-1, 0)))
	if delay > float64(p.maxDelay) {
		delay = float64(p.maxDelay)
	}
	jitter := randomJitter(time.Duration(delay) / 2)
	return time.Duration(delay/2) + jitter
}

func randomJitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(limit)))
	if err != nil {
		return limit / 2
	}
	return time.Duration(n.Int64())
}
