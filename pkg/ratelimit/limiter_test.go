package ratelimit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSpacingRateFloor(t *testing.T) {
	const interval = 20 * time.Millisecond
	s := NewSpacing(interval, 0)

	start := time.Now()
	for i := 0; i < 6; i++ {
		require.NoError(t, s.Wait(context.Background()))
	}
	elapsed := time.Since(start)

	if elapsed < 5*interval {
		t.Errorf("Expected at least %v for 6 requests, got %v", 5*interval, elapsed)
	}
}

func TestSpacingIsGlobalAcrossWorkers(t *testing.T) {
	const interval = 10 * time.Millisecond
	s := NewSpacing(interval, 0)

	var (
		mu    sync.Mutex
		times []time.Time
		wg    sync.WaitGroup
	)
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 3; i++ {
				if err := s.Wait(context.Background()); err != nil {
					t.Errorf("unexpected wait error: %v", err)
					return
				}
				mu.Lock()
				times = append(times, time.Now())
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	require.Len(t, times, 12)
	first, last := times[0], times[0]
	for _, ts := range times {
		if ts.Before(first) {
			first = ts
		}
		if ts.After(last) {
			last = ts
		}
	}
	assert.GreaterOrEqual(t, last.Sub(first), 11*interval)
}

func TestSpacingJitterExtendsGap(t *testing.T) {
	s := NewSpacing(5*time.Millisecond, 5*time.Millisecond)
	for i := 0; i < 50; i++ {
		g := s.gap()
		assert.GreaterOrEqual(t, g, 5*time.Millisecond)
		assert.LessOrEqual(t, g, 10*time.Millisecond)
	}
}

func TestSpacingWaitHonoursCancellation(t *testing.T) {
	s := NewSpacing(time.Hour, 0)
	require.NoError(t, s.Wait(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := s.Wait(ctx)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))

	cancelled, cancelNow := context.WithCancel(context.Background())
	cancelNow()
	assert.ErrorIs(t, s.Wait(cancelled), context.Canceled)
}

func TestSpacingAllowAndReset(t *testing.T) {
	s := NewSpacing(time.Hour, 0)

	if !s.Allow() {
		t.Error("Expected first request to be allowed")
	}
	if s.Allow() {
		t.Error("Expected second request to be denied inside the interval")
	}

	s.Reset()
	if !s.Allow() {
		t.Error("Expected request to be allowed after reset")
	}
}

func TestSpacingObservesWaits(t *testing.T) {
	s := NewSpacing(15*time.Millisecond, 0)
	var waits []time.Duration
	s.OnWait(func(d time.Duration) { waits = append(waits, d) })

	require.NoError(t, s.Wait(context.Background()))
	require.NoError(t, s.Wait(context.Background()))

	require.Len(t, waits, 1)
	assert.Greater(t, waits[0], time.Duration(0))
}

func TestBudget(t *testing.T) {
	b := NewBudget(60, 2)

	assert.True(t, b.Allow())
	assert.True(t, b.Allow())
	assert.False(t, b.Allow(), "burst exhausted")

	b.Reset()
	assert.True(t, b.Allow())

	unlimited := NewBudget(0, 0)
	for i := 0; i < 100; i++ {
		require.True(t, unlimited.Allow())
	}
}

func TestBudgetWaitCancelled(t *testing.T) {
	b := NewBudget(1, 1)
	require.NoError(t, b.Wait(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := b.Wait(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate limit wait")
}

func TestChain(t *testing.T) {
	spacing := NewSpacing(time.Hour, 0)
	chain := Chain{NewBudget(0, 0), spacing}

	assert.True(t, chain.Allow())
	assert.False(t, chain.Allow())

	chain.Reset()
	require.NoError(t, chain.Wait(context.Background()))
}
