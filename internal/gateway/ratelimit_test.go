package gateway

import (
	"net/http/httptest"
	"testing"
	"time"
)

func TestRateLimiterDisabled(t *testing.T) {
	rl := NewRateLimiter(0, 0)
	defer rl.Stop()
	if rl.Enabled() {
		t.Fatal("rpm 0 should disable the limiter")
	}
	for i := 0; i < 100; i++ {
		if !rl.Allow("k") {
			t.Fatalf("request %d rejected by disabled limiter", i)
		}
	}
}

func TestRateLimiterPerKey(t *testing.T) {
	rl := NewRateLimiter(1, 2)
	defer rl.Stop()

	if !rl.Allow("a") || !rl.Allow("a") {
		t.Fatal("burst of 2 should pass")
	}
	if rl.Allow("a") {
		t.Error("third request should be limited")
	}
	if !rl.Allow("b") {
		t.Error("other keys have their own bucket")
	}
}

func TestRateLimiterCleanup(t *testing.T) {
	rl := NewRateLimiter(60, 1)
	defer rl.Stop()
	rl.Allow("a")
	rl.cleanup(time.Now().Add(time.Minute))
	if _, ok := rl.limiters.Load("a"); ok {
		t.Error("stale entry should be removed")
	}
}

func TestClientKey(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	r.RemoteAddr = "10.0.0.7:5555"
	if got := clientKey(r); got != "10.0.0.7" {
		t.Errorf("clientKey = %q", got)
	}
	r.RemoteAddr = "garbage"
	if got := clientKey(r); got != "garbage" {
		t.Errorf("clientKey = %q", got)
	}
}

func TestNilRateLimiter(t *testing.T) {
	var rl *RateLimiter
	if !rl.Allow("x") {
		t.Error("nil limiter allows everything")
	}
	rl.Stop()
}
