package http

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

const limiterIdleSweep = 3 * time.Minute

// ipLimiter keeps one token bucket per source address.
type ipLimiter struct {
	mu     sync.RWMutex
	limits map[string]*rate.Limiter
	r      rate.Limit
	b      int
}

// newIPLimiter returns nil when r is not positive, which disables limiting.
func newIPLimiter(r float64, b int) *ipLimiter {
	if r <= 0 {
		return nil
	}
	if b < 1 {
		b = 1
	}
	return &ipLimiter{
		limits: make(map[string]*rate.Limiter),
		r:      rate.Limit(r),
		b:      b,
	}
}

func (l *ipLimiter) limiter(addr string) *rate.Limiter {
	l.mu.RLock()
	lim, ok := l.limits[addr]
	l.mu.RUnlock()
	if ok {
		return lim
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if lim, ok = l.limits[addr]; !ok {
		lim = rate.NewLimiter(l.r, l.b)
		l.limits[addr] = lim
	}
	return lim
}

func (l *ipLimiter) allow(addr string) bool {
	if l == nil {
		return true
	}
	return l.limiter(addr).Allow()
}

// sweep drops idle buckets, i.e. buckets that refilled completely.
func (l *ipLimiter) sweep(now time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	removed := 0
	for addr, lim := range l.limits {
		if lim.TokensAt(now) >= float64(lim.Burst()) {
			delete(l.limits, addr)
			removed++
		}
	}
	return removed
}

// run sweeps periodically until ctx is done.
func (l *ipLimiter) run(ctx context.Context) {
	if l == nil {
		return
	}
	ticker := time.NewTicker(limiterIdleSweep)
	defer ticker.Stop()
	for {
		select {
		case now := <-ticker.C:
			l.sweep(now)
		case <-ctx.Done():
			return
		}
	}
}

// middleware rejects requests over the per-address rate with 429.
func (l *ipLimiter) middleware(addr func(*http.Request) string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !l.allow(addr(c.Request)) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, ErrorResponse{Error: "too many requests"})
			return
		}
		c.Next()
	}
}
