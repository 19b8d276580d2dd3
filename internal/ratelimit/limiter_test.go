package ratelimit_test

import (
	"testing"
	"time"

	"github.com/bishwajit-sharma101/AstrixChat/internal/ratelimit"
)

func TestLimiter_WindowBoundary(t *testing.T) {
	t.Parallel()

	l := ratelimit.NewLimiter(time.Second, 5)
	now := time.Unix(1000, 0)
	l.SetClock(func() time.Time { return now })

	// 6 sends within 900ms: exactly 5 accepted, the 6th rejected.
	for i := 0; i < 5; i++ {
		now = now.Add(150 * time.Millisecond)
		if !l.Allow("alice") {
			t.Fatalf("send %d should be allowed", i+1)
		}
	}
	if l.Allow("alice") {
		t.Fatal("6th send within the window should be rejected")
	}

	// 1100ms after the first accepted send the window has elapsed.
	now = time.Unix(1000, 0).Add(150*time.Millisecond + 1100*time.Millisecond)
	if !l.Allow("alice") {
		t.Fatal("send after window elapsed should be allowed")
	}
}

func TestLimiter_RejectionsDoNotCount(t *testing.T) {
	t.Parallel()

	l := ratelimit.NewLimiter(time.Second, 2)
	now := time.Unix(2000, 0)
	l.SetClock(func() time.Time { return now })

	if !l.Allow("bob") || !l.Allow("bob") {
		t.Fatal("first two sends should be allowed")
	}
	// Hammering while over budget must not extend or re-anchor the window.
	for i := 0; i < 10; i++ {
		now = now.Add(50 * time.Millisecond)
		if l.Allow("bob") {
			t.Fatalf("send %d should be rejected", i+3)
		}
	}

	now = time.Unix(2000, 0).Add(time.Second)
	if !l.Allow("bob") {
		t.Fatal("send exactly one window after the first accepted send should be allowed")
	}
}

func TestLimiter_SendersAreIndependent(t *testing.T) {
	t.Parallel()

	l := ratelimit.NewLimiter(time.Second, 1)
	now := time.Unix(3000, 0)
	l.SetClock(func() time.Time { return now })

	if !l.Allow("alice") {
		t.Fatal("alice's first send should be allowed")
	}
	if !l.Allow("bob") {
		t.Fatal("bob's budget is separate from alice's")
	}
	if l.Allow("alice") {
		t.Fatal("alice is over budget")
	}
}

func TestLimiter_ForgetResetsWindow(t *testing.T) {
	t.Parallel()

	l := ratelimit.NewLimiter(time.Second, 1)
	now := time.Unix(4000, 0)
	l.SetClock(func() time.Time { return now })

	if !l.Allow("carol") {
		t.Fatal("first send should be allowed")
	}
	if l.Allow("carol") {
		t.Fatal("second send should be rejected")
	}

	l.Forget("carol")
	if !l.Allow("carol") {
		t.Fatal("send after Forget should start a fresh window")
	}
}
