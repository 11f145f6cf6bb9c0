package ratelimit

import (
	"sync"

	"golang.org/x/time/rate"
)

// Limiter manages rate limits per provider key. Launching a browser is
// expensive, so lifecycle calls are metered independently for each
// provider.
type Limiter struct {
	limiters map[string]*rate.Limiter
	mu       sync.Mutex
	rate     rate.Limit
	burst    int
}

// NewLimiter creates a limiter allowing requestsPerHour sustained calls
// per provider, with bursts of up to burst.
func NewLimiter(requestsPerHour int, burst int) *Limiter {
	return &Limiter{
		limiters: make(map[string]*rate.Limiter),
		rate:     rate.Limit(float64(requestsPerHour) / 3600.0),
		burst:    burst,
	}
}

func (l *Limiter) get(provider string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	limiter, ok := l.limiters[provider]
	if !ok {
		limiter = rate.NewLimiter(l.rate, l.burst)
		l.limiters[provider] = limiter
	}
	return limiter
}

// Allow reports whether the provider has budget for one more call.
func (l *Limiter) Allow(provider string) bool {
	return l.get(provider).Allow()
}

// Tokens returns the provider's remaining burst budget.
func (l *Limiter) Tokens(provider string) float64 {
	return l.get(provider).Tokens()
}
