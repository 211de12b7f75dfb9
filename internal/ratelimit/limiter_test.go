package ratelimit

import "testing"

func TestTokenBucketLimiterPerKeyIsolation(t *testing.T) {
	l := New(1, 1) // 1 token burst, refills once per second

	if !l.Allow("a") {
		t.Fatal("first Allow(a) = false, want true (burst token available)")
	}
	if l.Allow("a") {
		t.Fatal("second immediate Allow(a) = true, want false (burst exhausted)")
	}
	if !l.Allow("b") {
		t.Fatal("Allow(b) = false, want true (independent key, untouched bucket)")
	}
}
