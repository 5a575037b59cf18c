package http

import "golang.org/x/time/rate"

// rateLimiter throttles inbound frames of one watcher. A nil limiter allows
// everything.
type rateLimiter struct {
	limiter *rate.Limiter
}

// newRateLimiter allows perSecond frames per second with a burst of the same
// size. perSecond <= 0 disables limiting.
func newRateLimiter(perSecond int) *rateLimiter {
	if perSecond <= 0 {
		return nil
	}
	return &rateLimiter{limiter: rate.NewLimiter(rate.Limit(perSecond), perSecond)}
}

func (r *rateLimiter) allow() bool {
	if r == nil {
		return true
	}
	return r.limiter.Allow()
}
