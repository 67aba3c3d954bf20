package ratelimit

import (
	"testing"
	"time"
)

func testConfig(pullUser, pullPeer, pushUser, pushPeer int) Config {
	return Config{
		Window: time.Minute,
		Scopes: map[Scope]Policy{
			ScopePull: {PerUser: pullUser, PerPeer: pullPeer},
			ScopePush: {PerUser: pushUser, PerPeer: pushPeer},
		},
	}
}

func TestLimiter_UsesDifferentLimitsByScopeAndBucket(t *testing.T) {
	t.Parallel()

	limiter := New(testConfig(4, 2, 3, 1))
	now := time.Unix(1_700_000_000, 0).UTC()
	peer := Bucket{Peer: "10.0.0.1"}

	tests := []struct {
		name      string
		scope     Scope
		bucket    Bucket
		allowed   bool
		remaining int
	}{
		{"pull peer 1", ScopePull, peer, true, 1},
		{"pull peer 2", ScopePull, peer, true, 0},
		{"pull peer 3", ScopePull, peer, false, 0},
		{"push peer has its own count", ScopePush, peer, true, 0},
		{"push peer 2", ScopePush, peer, false, 0},
		{"pull user 1", ScopePull, Bucket{User: "user-a", Peer: "10.0.0.1"}, true, 3},
		{"pull user 2", ScopePull, Bucket{User: "user-a"}, true, 2},
		{"pull user 3", ScopePull, Bucket{User: "user-a"}, true, 1},
		{"pull user 4", ScopePull, Bucket{User: "user-a"}, true, 0},
		{"pull user 5", ScopePull, Bucket{User: "user-a"}, false, 0},
		{"user named like a peer", ScopePush, Bucket{User: "10.0.0.1"}, true, 2},
	}
	for _, tt := range tests {
		r := limiter.Take(now, tt.scope, tt.bucket)
		if r.Allowed != tt.allowed || r.Remaining != tt.remaining {
			t.Fatalf("%s: Take() = %#v, want allowed=%v remaining=%d", tt.name, r, tt.allowed, tt.remaining)
		}
	}
}

func TestLimiter_ResetsAfterWindow(t *testing.T) {
	t.Parallel()

	limiter := New(testConfig(1, 1, 0, 1))
	t0 := time.Unix(1_700_000_000, 0).UTC()
	peer := Bucket{Peer: "10.0.0.1"}

	if r := limiter.Take(t0, ScopePull, peer); !r.Allowed {
		t.Fatalf("first request denied: %#v", r)
	}
	r := limiter.Take(t0.Add(10*time.Second), ScopePull, peer)
	if r.Allowed {
		t.Fatalf("second request should be denied: %#v", r)
	}
	// 1_700_000_000 is 20s into its minute.
	if r.RetryAfter != 30*time.Second || r.RetryAfterSeconds() != 30 {
		t.Fatalf("RetryAfter = %s, want 30s", r.RetryAfter)
	}
	if r := limiter.Take(t0.Add(61*time.Second), ScopePull, peer); !r.Allowed {
		t.Fatalf("request after reset denied: %#v", r)
	}
}

func TestLimiter_UnlimitedCallers(t *testing.T) {
	t.Parallel()

	limiter := New(Config{Window: time.Minute, Scopes: map[Scope]Policy{ScopePush: {PerPeer: 1}}})
	now := time.Unix(1_700_000_000, 0).UTC()
	for i := 0; i < 10; i++ {
		if r := limiter.Take(now, ScopePush, Bucket{User: "U1"}); !r.Allowed || r.Limit != 0 {
			t.Fatalf("push user #%d = %#v", i+1, r)
		}
		if r := limiter.Take(now, ScopePull, Bucket{Peer: "10.0.0.1"}); !r.Allowed {
			t.Fatalf("pull without policy #%d = %#v", i+1, r)
		}
	}
}

func TestResult_RetryAfterSecondsRoundsUp(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   time.Duration
		want int64
	}{
		{0, 0},
		{time.Millisecond, 1},
		{time.Second, 1},
		{1500 * time.Millisecond, 2},
	}
	for _, tt := range tests {
		if got := (Result{RetryAfter: tt.in}).RetryAfterSeconds(); got != tt.want {
			t.Fatalf("RetryAfterSeconds(%s) = %d, want %d", tt.in, got, tt.want)
		}
	}
}
