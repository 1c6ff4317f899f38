package signal

import (
	"github.com/dkeye/Meet/internal/config"
	"golang.org/x/time/rate"
)

// SessionRateLimiter is a token bucket over one session's inbound frames.
// It is only used from the session's read loop.
type SessionRateLimiter struct {
	limiter *rate.Limiter
}

// NewSessionRateLimiter returns nil, which allows everything, when the
// limit is not positive.
func NewSessionRateLimiter(cfg config.RateLimit) *SessionRateLimiter {
	if cfg.MessagesPerSecond <= 0 || cfg.Burst <= 0 {
		return nil
	}
	return &SessionRateLimiter{limiter: rate.NewLimiter(rate.Limit(cfg.MessagesPerSecond), cfg.Burst)}
}

func (rl *SessionRateLimiter) Allow() bool {
	if rl == nil {
		return true
	}
	return rl.limiter.Allow()
}
