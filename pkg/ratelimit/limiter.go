package ratelimit

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter defines the interface for rate limiting
type Limiter interface {
	// Allow reports whether a request may proceed right now, consuming a slot if so
	Allow() bool
	// Wait blocks until the limiter admits another request or ctx is done
	Wait(ctx context.Context) error
	// Reset resets the rate limiter state
	Reset()
}

// Spacing enforces a minimum interval between consecutive requests across all
// callers, extended by a random jitter in [0, jitter].
type Spacing struct {
	interval time.Duration
	jitter   time.Duration
	next     time.Time
	rng      *rand.Rand
	observe  func(time.Duration)
	mu       sync.Mutex
}

// NewSpacing creates a spacing gate
func NewSpacing(interval, jitter time.Duration) *Spacing {
	return &Spacing{
		interval: interval,
		jitter:   jitter,
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// OnWait registers a callback receiving every non-zero wait
func (s *Spacing) OnWait(fn func(time.Duration)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observe = fn
}

// Interval returns the configured minimum interval
func (s *Spacing) Interval() time.Duration {
	return s.interval
}

// Allow checks if a request can proceed without waiting
func (s *Spacing) Allow() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	if now.Before(s.next) {
		return false
	}
	s.next = now.Add(s.gap())
	return true
}

// Wait reserves the next free slot and sleeps until it arrives.
// A slot reserved before ctx is done stays consumed.
func (s *Spacing) Wait(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	now := time.Now()
	slot := now
	if s.next.After(now) {
		slot = s.next
	}
	s.next = slot.Add(s.gap())
	observe := s.observe
	s.mu.Unlock()

	delay := slot.Sub(now)
	if delay <= 0 {
		return nil
	}
	if observe != nil {
		observe(delay)
	}
	return sleep(ctx, delay)
}

// Reset forgets the last reservation
func (s *Spacing) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.next = time.Time{}
}

// gap must be called with mu held
func (s *Spacing) gap() time.Duration {
	if s.jitter <= 0 {
		return s.interval
	}
	return s.interval + time.Duration(s.rng.Int63n(int64(s.jitter)+1))
}

// Budget caps the request rate per minute with a token bucket
type Budget struct {
	perMinute int
	burst     int
	limiter   *rate.Limiter
	mu        sync.Mutex
}

// NewBudget creates a per-minute budget. perMinute <= 0 disables the cap.
func NewBudget(perMinute, burst int) *Budget {
	b := &Budget{perMinute: perMinute, burst: burst}
	b.limiter = b.build()
	return b
}

func (b *Budget) build() *rate.Limiter {
	if b.perMinute <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	burst := b.burst
	if burst <= 0 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(float64(b.perMinute)/60.0), burst)
}

func (b *Budget) current() *rate.Limiter {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.limiter
}

// Allow checks if a request can proceed
func (b *Budget) Allow() bool {
	return b.current().Allow()
}

// Wait blocks until a token is available, respecting the context
func (b *Budget) Wait(ctx context.Context) error {
	if err := b.current().Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	return nil
}

// Reset refills the bucket
func (b *Budget) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.limiter = b.build()
}

// Chain applies several limiters in order
type Chain []Limiter

// Allow consults every limiter; earlier limiters keep their slot when a later one refuses
func (c Chain) Allow() bool {
	for _, l := range c {
		if !l.Allow() {
			return false
		}
	}
	return true
}

// Wait waits on each limiter in turn
func (c Chain) Wait(ctx context.Context) error {
	for _, l := range c {
		if err := l.Wait(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Reset resets every limiter
func (c Chain) Reset() {
	for _, l := range c {
		l.Reset()
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
