package ai

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestCompletionErrorIsOverloaded(t *testing.T) {
	err := error(&CompletionError{Model: "m", Attempts: 2, Overloaded: true, Err: errors.New("503")})
	if !errors.Is(err, ErrOverloaded) {
		t.Fatalf("expected overloaded error to match ErrOverloaded")
	}

	err = &CompletionError{Model: "m", Attempts: 1, Err: errors.New("400")}
	if errors.Is(err, ErrOverloaded) {
		t.Fatalf("expected plain failure not to match ErrOverloaded")
	}
}

func TestWaitForHonorsContext(t *testing.T) {
	originalSleep := sleep
	release := make(chan struct{})
	sleep = func(time.Duration) { <-release }
	defer func() {
		close(release)
		sleep = originalSleep
	}()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := WaitFor(ctx, time.Hour); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context cancellation, got %v", err)
	}
}

func TestWaitForZeroDuration(t *testing.T) {
	if err := WaitFor(context.Background(), 0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
