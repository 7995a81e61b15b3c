package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"
)

type failingCounter struct{}

func (failingCounter) IncrAndCheck(context.Context, string, int64, time.Duration) (Decision, error) {
	return Decision{}, errors.New("counter store down")
}

func TestLimiterEnforcesFixedWindow(t *testing.T) {
	counter := NewMemoryCounter()
	l := NewLimiter(counter, time.Minute, map[string]int64{"login": 3})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if d := l.Allow(ctx, "login", "1.2.3.4"); !d.Allowed {
			t.Fatalf("attempt %d denied, want allowed", i+1)
		}
	}
	d := l.Allow(ctx, "login", "1.2.3.4")
	if d.Allowed {
		t.Fatal("fourth attempt allowed, want denied")
	}
	if d.Remaining != 0 {
		t.Fatalf("Remaining = %d, want 0", d.Remaining)
	}
	if d.ResetAt.IsZero() {
		t.Fatal("denied decision must carry a reset time")
	}
}

func TestLimiterKeysAreIndependent(t *testing.T) {
	l := NewLimiter(NewMemoryCounter(), time.Minute, map[string]int64{"login": 1})
	ctx := context.Background()

	if !l.Allow(ctx, "login", "1.1.1.1").Allowed {
		t.Fatal("first source denied")
	}
	if l.Allow(ctx, "login", "1.1.1.1").Allowed {
		t.Fatal("first source not limited")
	}
	// A different source and a different action both have their own budget.
	if !l.Allow(ctx, "login", "2.2.2.2").Allowed {
		t.Fatal("second source denied by first source's counter")
	}
	if !l.Allow(ctx, "mfa_verify", "1.1.1.1").Allowed {
		t.Fatal("unknown action must be unlimited")
	}
}

func TestLimiterWindowRolloverResets(t *testing.T) {
	counter := NewMemoryCounter()
	now := time.Date(2026, 8, 29, 12, 0, 59, 0, time.UTC)
	counter.nowF = func() time.Time { return now }

	l := NewLimiter(counter, time.Minute, map[string]int64{"login": 1})
	ctx := context.Background()

	if !l.Allow(ctx, "login", "ip").Allowed {
		t.Fatal("first attempt denied")
	}
	if l.Allow(ctx, "login", "ip").Allowed {
		t.Fatal("second attempt in same window allowed")
	}

	// Crossing the window boundary starts a fresh count.
	now = now.Add(2 * time.Second)
	if !l.Allow(ctx, "login", "ip").Allowed {
		t.Fatal("attempt after window rollover denied")
	}
}

func TestLimiterFailsOpenOnCounterError(t *testing.T) {
	l := NewLimiter(failingCounter{}, time.Minute, map[string]int64{"login": 1})
	for i := 0; i < 5; i++ {
		if !l.Allow(context.Background(), "login", "ip").Allowed {
			t.Fatal("limiter must fail open when the counter store errors")
		}
	}
}

func TestLimiterNilCounterIsUnlimited(t *testing.T) {
	l := NewLimiter(nil, time.Minute, map[string]int64{"login": 1})
	for i := 0; i < 5; i++ {
		if !l.Allow(context.Background(), "login", "ip").Allowed {
			t.Fatal("nil counter must be unlimited")
		}
	}
}
