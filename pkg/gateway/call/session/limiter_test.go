package session

import (
	"testing"
	"time"
)

func TestInboundLimiter_FrameBurstThenRefill(t *testing.T) {
	now := time.Date(2026, 10, 19, 0, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	lim := newInboundLimiter(clock, 10, 0, 2) // 20 frame burst
	for i := 0; i < 20; i++ {
		if !lim.Allow(160) {
			t.Fatalf("expected allow at i=%d", i)
		}
	}
	if lim.Allow(160) {
		t.Fatalf("expected deny once the burst is spent")
	}

	now = now.Add(100 * time.Millisecond)
	if !lim.Allow(160) {
		t.Fatalf("expected allow after refill")
	}
	if lim.Allow(160) {
		t.Fatalf("expected deny again without enough time")
	}
}

func TestInboundLimiter_BytesBudget(t *testing.T) {
	now := time.Date(2026, 10, 19, 0, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	lim := newInboundLimiter(clock, 0, 1000, 1)
	if !lim.Allow(600) {
		t.Fatalf("expected first frame allowed")
	}
	if lim.Allow(600) {
		t.Fatalf("expected second frame denied by byte budget")
	}
	if !lim.Allow(400) {
		t.Fatalf("expected frame within remaining budget allowed")
	}
}

func TestInboundLimiter_DeniedBytesDoNotSpendFrames(t *testing.T) {
	now := time.Date(2026, 10, 19, 0, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	lim := newInboundLimiter(clock, 2, 100, 1)
	if lim.Allow(500) {
		t.Fatalf("expected oversized frame denied")
	}
	if !lim.Allow(50) || !lim.Allow(50) {
		t.Fatalf("expected both frame tokens still available")
	}
}

func TestInboundLimiter_DisabledAllowsEverything(t *testing.T) {
	lim := newInboundLimiter(nil, 0, 0, 0)
	if lim != nil {
		t.Fatalf("expected nil limiter when both budgets are off")
	}
	if !lim.Allow(1 << 20) {
		t.Fatalf("nil limiter must allow")
	}
}
