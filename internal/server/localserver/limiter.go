package localserver

import (
	"sync"

	"golang.org/x/time/rate"
)

// limiterRegistry holds one call rate limiter per partition.
type limiterRegistry struct {
	limit rate.Limit
	burst int

	mu       sync.RWMutex
	limiters map[int32]*rate.Limiter
}

func newLimiterRegistry(perSecond float64, burst int) *limiterRegistry {
	if burst <= 0 {
		burst = int(perSecond)
		if burst < 1 {
			burst = 1
		}
	}
	return &limiterRegistry{
		limit:    rate.Limit(perSecond),
		burst:    burst,
		limiters: make(map[int32]*rate.Limiter),
	}
}

// get returns the limiter of partition, or nil when limiting is disabled.
func (r *limiterRegistry) get(partition int32) *rate.Limiter {
	if r.limit <= 0 {
		return nil
	}

	r.mu.RLock()
	l, ok := r.limiters[partition]
	r.mu.RUnlock()
	if ok {
		return l
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if l, ok = r.limiters[partition]; ok {
		return l
	}
	l = rate.NewLimiter(r.limit, r.burst)
	r.limiters[partition] = l
	return l
}
