// Package throttle implements the three download-rate strategies the
// orchestrator gates every download through: bounded concurrency, a
// max-requests-per-second token bucket, and a fixed delay between
// starts. All three are FIFO-fair so no downloader starves.
package throttle

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Throttler gates one download's start; Release must be called once
// the download finishes (success or terminal failure) for strategies
// that track in-flight work.
type Throttler interface {
	Acquire(ctx context.Context) error
	Release()
}

// concurrent bounds the number of simultaneously in-flight downloads
// with a buffered channel semaphore.
type concurrent struct {
	sem chan struct{}
}

// Concurrent builds a Throttler allowing at most n in-flight
// downloads at any time.
func Concurrent(n int) Throttler {
	return &concurrent{sem: make(chan struct{}, n)}
}

func (c *concurrent) Acquire(ctx context.Context) error {
	select {
	case c.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *concurrent) Release() {
	<-c.sem
}

// perSecond limits download starts with a token-bucket rate limiter
// refilling n tokens per second up to a capacity of n. A full bucket
// lets n starts through at once before the steady rate applies.
type perSecond struct {
	limiter *rate.Limiter
}

// PerSecond builds a Throttler starting at most n downloads per
// second, with burst capacity n.
func PerSecond(n int) Throttler {
	return &perSecond{limiter: rate.NewLimiter(rate.Limit(n), n)}
}

func (p *perSecond) Acquire(ctx context.Context) error {
	return p.limiter.Wait(ctx)
}

func (p *perSecond) Release() {}

// delay serializes download starts, waiting at least d between the
// previous start and the next.
type delay struct {
	d         time.Duration
	mu        sync.Mutex
	lastStart time.Time
}

// Delay builds a Throttler that never starts two downloads within d
// of one another.
func Delay(d time.Duration) Throttler {
	return &delay{d: d}
}

func (t *delay) Acquire(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	wait := time.Until(t.lastStart.Add(t.d))
	if wait > 0 {
		timer := time.NewTimer(wait)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	t.lastStart = time.Now()
	return nil
}

func (t *delay) Release() {}
