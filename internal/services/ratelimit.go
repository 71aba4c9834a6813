package services

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// IPRateLimiter keeps one token bucket per client IP on the redirect path.
// Entries idle for longer than idleTTL are evicted by the cleanup loop.
type IPRateLimiter struct {
	ips     map[string]*limiterEntry
	mu      sync.Mutex
	r       rate.Limit
	b       int
	idleTTL time.Duration
	logger  *slog.Logger
	nowFn   func() time.Time
}

func NewIPRateLimiter(r rate.Limit, b int, idleTTL time.Duration, logger *slog.Logger) *IPRateLimiter {
	return &IPRateLimiter{
		ips:     make(map[string]*limiterEntry),
		r:       r,
		b:       b,
		idleTTL: idleTTL,
		logger:  logger,
		nowFn:   time.Now,
	}
}

func (i *IPRateLimiter) StartCleanup(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if n := i.evictIdle(); n > 0 {
					i.logger.Debug("Evicted idle rate limiters", "count", n)
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}

func (i *IPRateLimiter) evictIdle() int {
	i.mu.Lock()
	defer i.mu.Unlock()

	cutoff := i.nowFn().Add(-i.idleTTL)
	evicted := 0
	for ip, entry := range i.ips {
		if entry.lastSeen.Before(cutoff) {
			delete(i.ips, ip)
			evicted++
		}
	}
	return evicted
}

func (i *IPRateLimiter) GetLimiter(ip string) *rate.Limiter {
	i.mu.Lock()
	defer i.mu.Unlock()

	entry, exists := i.ips[ip]
	if !exists {
		entry = &limiterEntry{limiter: rate.NewLimiter(i.r, i.b)}
		i.ips[ip] = entry
	}
	entry.lastSeen = i.nowFn()

	return entry.limiter
}

func (i *IPRateLimiter) Allow(ip string) bool {
	return i.GetLimiter(ip).Allow()
}
