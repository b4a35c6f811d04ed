package plan

import (
	"sync"
	"time"

	appErrors "telxfwd/internal/errors"

	"golang.org/x/time/rate"
)

// Limiter throttles message dispatch per user according to the tier's hourly
// message budget. State is per process.
type Limiter struct {
	mu       sync.Mutex
	limiters map[int64]*tierLimiter
}

type tierLimiter struct {
	tier    Tier
	limiter *rate.Limiter
}

func NewLimiter() *Limiter {
	return &Limiter{limiters: make(map[int64]*tierLimiter)}
}

// Allow consumes one message from the user's budget. It returns a transient
// rate limit error carrying the wait until the next token.
func (l *Limiter) Allow(userID int64, tier string, now time.Time) error {
	lim := l.get(userID, ParseTier(tier))

	r := lim.ReserveN(now, 1)
	if !r.OK() {
		return appErrors.NewRateLimitError("plan", time.Hour)
	}
	if delay := r.DelayFrom(now); delay > 0 {
		r.CancelAt(now)
		return appErrors.NewRateLimitError("plan", delay).
			WithContext("user_id", userID).
			WithContext("tier", tier)
	}
	return nil
}

func (l *Limiter) get(userID int64, tier Tier) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	if existing, ok := l.limiters[userID]; ok && existing.tier == tier {
		return existing.limiter
	}

	limits := tiers[tier]
	burst := limits.RequestsPerMinute / 10
	if burst < 1 {
		burst = 1
	}
	lim := rate.NewLimiter(rate.Limit(float64(limits.MessagesPerHour)/3600.0), burst)
	l.limiters[userID] = &tierLimiter{tier: tier, limiter: lim}
	return lim
}
