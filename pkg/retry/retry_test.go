package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	errs "harvester/pkg/errors"
)

func TestExponentialBackoff(t *testing.T) {
	backoff := &ExponentialBackoff{
		BaseDelay:    100 * time.Millisecond,
		MaxDelay:     1 * time.Second,
		Multiplier:   2.0,
		JitterFactor: 0.0, // No jitter for predictable testing
	}

	tests := []struct {
		attempt      int
		expectedMin  time.Duration
		expectedMax  time.Duration
		description  string
	}{
		{1, 100 * time.Millisecond, 100 * time.Millisecond, "First attempt"},
		{2, 200 * time.Millisecond, 200 * time.Millisecond, "Second attempt"},
		{3, 400 * time.Millisecond, 400 * time.Millisecond, "Third attempt"},
		{4, 800 * time.Millisecond, 800 * time.Millisecond, "Fourth attempt"},
		{5, 1 * time.Second, 1 * time.Second, "Fifth attempt (capped at max)"},
		{6, 1 * time.Second, 1 * time.Second, "Sixth attempt (still capped)"},
	}

	for _, test := range tests {
		t.Run(test.description, func(t *testing.T) {
			delay := backoff.NextDelay(test.attempt)
			if delay < test.expectedMin || delay > test.expectedMax {
				t.Errorf("Expected delay between %v and %v, got %v",
					test.expectedMin, test.expectedMax, delay)
			}
		})
	}
}

func TestExponentialBackoffWithJitter(t *testing.T) {
	backoff := &ExponentialBackoff{
		BaseDelay:    100 * time.Millisecond,
		MaxDelay:     1 * time.Second,
		Multiplier:   2.0,
		JitterFactor: 0.3,
	}

	// Test that jitter adds randomness
	delays := make(map[time.Duration]bool)
	for i := 0; i < 10; i++ {
		delay := backoff.NextDelay(2)
		delays[delay] = true
	}

	// With jitter, we should get different delays
	if len(delays) < 2 {
		t.Error("Expected multiple different delays with jitter, but got consistent delays")
	}
}

func TestRetryWithSuccess(t *testing.T) {
	attempts := 0
	op := func() error {
		attempts++
		if attempts < 3 {
			return errors.New("temporary error")
		}
		return nil
	}

	cfg := &Config{
		MaxAttempts: 5,
		Backoff:     &ConstantBackoff{Delay: 10 * time.Millisecond},
		RetryIf:     func(err error) bool { return true },
		Context:     context.Background(),
	}

	err := Do(op, cfg)
	if err != nil {
		t.Errorf("Expected success after retries, got error: %v", err)
	}
	if attempts != 3 {
		t.Errorf("Expected 3 attempts, got %d", attempts)
	}
}

func TestRetryWithMaxAttemptsExceeded(t *testing.T) {
	attempts := 0
	op := func() error {
		attempts++
		return errors.New("persistent error")
	}

	cfg := &Config{
		MaxAttempts: 3,
		Backoff:     &ConstantBackoff{Delay: 10 * time.Millisecond},
		RetryIf:     func(err error) bool { return true },
		Context:     context.Background(),
	}

	err := Do(op, cfg)
	if err == nil {
		t.Error("Expected error when max attempts exceeded")
	}
	if attempts != 3 {
		t.Errorf("Expected 3 attempts, got %d", attempts)
	}
}

func TestRetryWithNonRetryableError(t *testing.T) {
	attempts := 0
	notFound := &errs.Error{
		Type:    errs.ErrorTypeNotFound,
		Message: "page does not exist",
		Code:    404,
	}

	op := func() error {
		attempts++
		return notFound
	}

	cfg := &Config{
		MaxAttempts: 5,
		Backoff:     &ConstantBackoff{Delay: 10 * time.Millisecond},
		RetryIf:     DefaultRetryIf,
		Context:     context.Background(),
	}

	err := Do(op, cfg)
	if err != notFound {
		t.Errorf("Expected not found error, got: %v", err)
	}
	if attempts != 1 {
		t.Errorf("Expected 1 attempt (no retry for not found), got %d", attempts)
	}
}

func TestRetryWithContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	attempts := 0

	op := func() error {
		attempts++
		if attempts == 2 {
			cancel() // Cancel after second attempt
		}
		return errors.New("error")
	}

	cfg := &Config{
		MaxAttempts: 5,
		Backoff:     &ConstantBackoff{Delay: 100 * time.Millisecond},
		RetryIf:     func(err error) bool { return true },
		Context:     ctx,
	}

	err := Do(op, cfg)
	if err == nil {
		t.Error("Expected error when context cancelled")
	}
	if attempts > 3 {
		t.Errorf("Expected at most 3 attempts before cancellation, got %d", attempts)
	}
}

func TestErrorTypeBackoff(t *testing.T) {
	etb := NewErrorTypeBackoff(time.Second, 8*time.Second, 2.0, 1.5)

	rateLimit := etb.GetBackoffForError(errs.ErrorTypeRateLimit)
	server := etb.GetBackoffForError(errs.ErrorTypeServerError)
	network := etb.GetBackoffForError(errs.ErrorTypeNetwork)

	// Doubling strictly increases until the cap, then holds
	expected := []time.Duration{1 * time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second, 8 * time.Second}
	for i, want := range expected {
		if got := rateLimit.NextDelay(i + 1); got != want {
			t.Errorf("rate limit attempt %d: expected %v, got %v", i+1, want, got)
		}
		if got := server.NextDelay(i + 1); got != want {
			t.Errorf("server attempt %d: expected %v, got %v", i+1, want, got)
		}
	}

	// Network errors grow with the shorter multiplier
	if got := network.NextDelay(2); got != 1500*time.Millisecond {
		t.Errorf("Expected network second delay of 1.5s, got %v", got)
	}
	if network.NextDelay(3) <= network.NextDelay(2) {
		t.Error("Expected network delays to keep growing")
	}

	if etb.GetBackoffForError(errs.ErrorTypeUnknown) != etb.DefaultBackoff {
		t.Error("Expected default backoff for unclassified errors")
	}
}

func TestBackoffStrictlyIncreasingUntilCap(t *testing.T) {
	backoff := &ExponentialBackoff{BaseDelay: 250 * time.Millisecond, MaxDelay: 30 * time.Second, Multiplier: 2.0}

	prev := time.Duration(0)
	for attempt := 1; ; attempt++ {
		delay := backoff.NextDelay(attempt)
		if delay == backoff.MaxDelay {
			break
		}
		if delay <= prev {
			t.Fatalf("attempt %d: delay %v did not grow past %v", attempt, delay, prev)
		}
		prev = delay
	}
}

func TestDefaultRetryIf(t *testing.T) {
	if DefaultRetryIf(nil) {
		t.Error("nil error must not be retried")
	}
	if !DefaultRetryIf(&errs.Error{Type: errs.ErrorTypeServerError}) {
		t.Error("server errors should be retried")
	}
	if DefaultRetryIf(errs.QuotaExceeded(1, 1)) {
		t.Error("quota errors must not be retried")
	}
	if DefaultRetryIf(context.Canceled) {
		t.Error("cancellation must not be retried")
	}
	if !DefaultRetryIf(errors.New("connection reset")) {
		t.Error("unclassified errors default to retry")
	}
}

func TestDoWithResult(t *testing.T) {
	attempts := 0
	op := func() (string, error) {
		attempts++
		if attempts < 2 {
			return "", errors.New("temporary error")
		}
		return "success", nil
	}

	cfg := &Config{
		MaxAttempts: 3,
		Backoff:     &ConstantBackoff{Delay: 10 * time.Millisecond},
		RetryIf:     func(err error) bool { return true },
		Context:     context.Background(),
	}

	result, err := DoWithResult(op, cfg)
	if err != nil {
		t.Errorf("Expected success, got error: %v", err)
	}
	if result != "success" {
		t.Errorf("Expected 'success', got '%s'", result)
	}
	if attempts != 2 {
		t.Errorf("Expected 2 attempts, got %d", attempts)
	}
}