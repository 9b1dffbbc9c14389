package notify

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type userLimiter struct {
	perHour int
	limiter *rate.Limiter
}

// RateLimiter enforces a per-user hourly notification budget as a token bucket:
// each user starts with perHour tokens and regains one every hour/perHour. A user
// idle long enough can therefore burst perHour sends and still receive the refill,
// so the first hour admits up to just under 2*perHour.
type RateLimiter struct {
	mu    sync.Mutex
	users map[string]*userLimiter
}

func NewRateLimiter() *RateLimiter {
	return &RateLimiter{users: make(map[string]*userLimiter)}
}

// Allow consumes one token for userID at now. A non-positive perHour never limits.
func (r *RateLimiter) Allow(userID string, perHour int, now time.Time) bool {
	if perHour <= 0 {
		return true
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.users[userID]
	if !ok || entry.perHour != perHour {
		entry = &userLimiter{
			perHour: perHour,
			limiter: rate.NewLimiter(rate.Every(time.Hour/time.Duration(perHour)), perHour),
		}
		r.users[userID] = entry
	}
	return entry.limiter.AllowN(now, 1)
}
