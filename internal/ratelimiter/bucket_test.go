package ratelimiter

import "testing"

func TestTakeBounded(t *testing.T) {
	now := int64(0)
	clock := func() int64 { return now }

	b := New(5, 5, 1, clock)

	for i := 0; i < 10; i++ {
		now = int64(i)
		b.Take(1)
		if b.Tokens() > 5 {
			t.Fatalf("tokens exceeded capacity: %d", b.Tokens())
		}
	}
}

func TestRateLimitingScenario(t *testing.T) {
	// Scenario 6: capacity=5, initial=5, ms_per_token=1, submit 10 events at
	// t=0..9; exactly 5 accepted.
	now := int64(0)
	clock := func() int64 { return now }
	b := New(5, 5, 1, clock)

	accepted := 0
	for t := int64(0); t < 10; t++ {
		now = t
		if b.Take(1) {
			accepted++
		}
	}
	if accepted != 5 {
		t.Fatalf("accepted = %d, want 5", accepted)
	}
}

func TestRefillAccounting(t *testing.T) {
	now := int64(0)
	clock := func() int64 { return now }
	b := New(10, 0, 100, clock)

	now = 250 // 2 whole periods of 100ms
	if !b.Take(2) {
		t.Fatalf("expected take(2) to succeed after refill")
	}
	if got := b.Tokens(); got != 0 {
		t.Fatalf("tokens after take = %d, want 0", got)
	}
}

func TestReconfigureClampsTokens(t *testing.T) {
	now := int64(0)
	clock := func() int64 { return now }
	b := New(10, 10, 1000, clock)

	b.Reconfigure(Config{Capacity: 3, MsPerToken: 1000})
	if got := b.Tokens(); got != 3 {
		t.Fatalf("tokens after reconfigure = %d, want 3", got)
	}
}

func TestTakeNeverBorrowsFromFuture(t *testing.T) {
	now := int64(0)
	clock := func() int64 { return now }
	b := New(1, 0, 1000, clock)

	if b.Take(1) {
		t.Fatalf("take(1) should fail with zero initial tokens and no elapsed time")
	}
}
