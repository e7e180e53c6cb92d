package engine

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"
)

func fastPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:   2,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2.0,
	}
}

func TestRetryWithPolicyTransientThenSuccess(t *testing.T) {
	attempts := 0
	result, err := RetryWithPolicy(context.Background(), fastPolicy(),
		func(ctx context.Context) (string, error) {
			attempts++
			if attempts < 3 {
				return "", NewProviderError("p", "m", http.StatusTooManyRequests, "", errors.New("slow down"))
			}
			return "ok", nil
		}, nil)

	if err != nil {
		t.Fatalf("expected success after retries, got %v", err)
	}
	if result != "ok" {
		t.Errorf("result = %q, want ok", result)
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
}

func TestRetryWithPolicyNonTransientImmediate(t *testing.T) {
	attempts := 0
	authErr := NewProviderError("p", "m", http.StatusUnauthorized, "", errors.New("bad key"))
	_, err := RetryWithPolicy(context.Background(), fastPolicy(),
		func(ctx context.Context) (string, error) {
			attempts++
			return "", authErr
		}, nil)

	if attempts != 1 {
		t.Errorf("auth errors must not be retried, got %d attempts", attempts)
	}
	if !errors.Is(err, authErr) {
		t.Errorf("expected the original error, got %v", err)
	}
}

func TestRetryWithPolicyExhaustion(t *testing.T) {
	attempts := 0
	var retryCalls int
	_, err := RetryWithPolicy(context.Background(), fastPolicy(),
		func(ctx context.Context) (string, error) {
			attempts++
			return "", NewProviderError("p", "m", http.StatusServiceUnavailable, "", errors.New("down"))
		},
		func(attempt int, delay time.Duration, err error) { retryCalls++ })

	if attempts != 3 { // initial + 2 retries
		t.Errorf("attempts = %d, want 3", attempts)
	}
	if retryCalls != 2 {
		t.Errorf("retry hook calls = %d, want 2", retryCalls)
	}
	if !IsRetryExhausted(err) {
		t.Errorf("expected RetryExhaustedError, got %v", err)
	}
}

func TestRetryWithPolicyCancelledDuringWait(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	policy := fastPolicy()
	policy.InitialDelay = time.Minute // the cancel should win

	done := make(chan error, 1)
	go func() {
		_, err := RetryWithPolicy(ctx, policy,
			func(ctx context.Context) (string, error) {
				return "", NewProviderError("p", "m", http.StatusServiceUnavailable, "", errors.New("down"))
			}, nil)
		done <- err
	}()

	cancel()
	select {
	case err := <-done:
		if err == nil {
			t.Fatal("expected error on cancellation")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("retry did not observe cancellation")
	}
}

func TestCalculateDelayRespectsRetryAfter(t *testing.T) {
	policy := RetryPolicy{
		InitialDelay: time.Second,
		MaxDelay:     10 * time.Second,
		Multiplier:   2.0,
	}
	err := NewProviderError("p", "m", 429, "3", errors.New("x"))
	if got := calculateDelay(policy, 0, err); got != 3*time.Second {
		t.Errorf("delay = %v, want 3s from Retry-After", got)
	}

	// Retry-After above the cap is clamped.
	errBig := NewProviderError("p", "m", 429, "600", errors.New("x"))
	if got := calculateDelay(policy, 0, errBig); got != policy.MaxDelay {
		t.Errorf("delay = %v, want capped at %v", got, policy.MaxDelay)
	}
}
