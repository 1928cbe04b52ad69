package core

import (
	"sync"
	"sync/atomic"
	"time"
)

// rateLimiter is a fixed-window counter. A free-running ticker zeroes the
// counter every interval; allow is only called from the hub loop.
type rateLimiter struct {
	limit   int32
	counter atomic.Int32
	reset   *time.Ticker
	stop    chan struct{}
	once    sync.Once
}

func newRateLimiter(limit int, interval time.Duration) *rateLimiter {
	if limit <= 0 || interval <= 0 {
		return &rateLimiter{}
	}
	r := &rateLimiter{
		limit: int32(limit),
		reset: time.NewTicker(interval),
		stop:  make(chan struct{}),
	}
	go r.run()
	return r
}

func (r *rateLimiter) run() {
	for {
		select {
		case <-r.reset.C:
			r.counter.Store(0)
		case <-r.stop:
			r.reset.Stop()
			return
		}
	}
}

func (r *rateLimiter) allow() bool {
	if r == nil || r.limit <= 0 {
		return true
	}
	if r.counter.Load() >= r.limit {
		return false
	}
	r.counter.Add(1)
	return true
}

func (r *rateLimiter) close() {
	if r == nil || r.stop == nil {
		return
	}
	r.once.Do(func() { close(r.stop) })
}
