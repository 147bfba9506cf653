package agent

import (
	"context"
	"testing"
	"time"
)

func TestRateLimiter_ImmediateBurst(t *testing.T) {
	rl := NewRateLimiter(5, 60.0)

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		if err := rl.Wait(ctx); err != nil {
			t.Fatalf("burst token %d failed: %v", i, err)
		}
	}
	short, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	if err := rl.Wait(short); err == nil {
		t.Error("bucket should be empty after the burst")
	}
}

func TestRateLimiter_WaitsAfterBurst(t *testing.T) {
	rl := NewRateLimiter(1, 600.0) // 10/sec refill

	ctx := context.Background()
	if err := rl.Wait(ctx); err != nil {
		t.Fatalf("first wait: %v", err)
	}

	start := time.Now()
	if err := rl.Wait(ctx); err != nil {
		t.Fatalf("second wait: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 50*time.Millisecond {
		t.Fatalf("expected some wait time, got %v", elapsed)
	}
}

func TestRateLimiter_CancelledContext(t *testing.T) {
	rl := NewRateLimiter(1, 1.0)

	ctx, cancel := context.WithCancel(context.Background())
	if err := rl.Wait(ctx); err != nil {
		t.Fatal(err)
	}
	cancel()
	if err := rl.Wait(ctx); err == nil {
		t.Fatal("expected context cancelled error")
	}
}

func TestRateLimiter_Nil(t *testing.T) {
	var rl *RateLimiter
	if err := rl.Wait(context.Background()); err != nil {
		t.Error(err)
	}
}
