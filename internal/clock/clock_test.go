package clock

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRealSleepCancelled(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	start := time.Now()
	err := Real{}.Sleep(ctx, time.Hour)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Sleep err = %v, want context.Canceled", err)
	}
	if time.Since(start) > time.Second {
		t.Fatal("cancelled sleep blocked")
	}
}

func TestFakeAdvances(t *testing.T) {
	t.Parallel()
	start := time.Date(2026, 5, 1, 23, 0, 0, 0, time.UTC)
	f := NewFake(start)
	if err := f.Sleep(context.Background(), 90*time.Minute); err != nil {
		t.Fatalf("Sleep: %v", err)
	}
	if got := f.Now(); !got.Equal(start.Add(90 * time.Minute)) {
		t.Fatalf("Now = %v", got)
	}
	if s := f.Sleeps(); len(s) != 1 || s[0] != 90*time.Minute {
		t.Fatalf("Sleeps = %v", s)
	}
}
