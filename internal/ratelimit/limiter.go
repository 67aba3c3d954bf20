package ratelimit

import (
	"sync"
	"time"
)

// Scope groups the calls that share one request budget.
type Scope string

const (
	ScopePull Scope = "pull"
	ScopePush Scope = "push"
)

// Bucket names who a call is charged to. User wins over Peer when both are
// set.
type Bucket struct {
	User string
	Peer string
}

// Policy caps the calls of one scope per window. A non-positive cap leaves
// that kind of caller unlimited.
type Policy struct {
	PerUser int
	PerPeer int
}

func (p Policy) limitFor(b Bucket) (int, string) {
	if b.User != "" {
		return p.PerUser, "user/" + b.User
	}
	return p.PerPeer, "peer/" + b.Peer
}

// Config maps every limited scope to its policy. Scopes without a policy
// are not limited.
type Config struct {
	Window time.Duration
	Scopes map[Scope]Policy
}

type Result struct {
	Allowed   bool
	Limit     int
	Remaining int
	Reset     time.Time
	// RetryAfter is the time left until the window resets.
	RetryAfter time.Duration
}

// RetryAfterSeconds rounds RetryAfter up to whole seconds.
func (r Result) RetryAfterSeconds() int64 {
	return int64((r.RetryAfter + time.Second - 1) / time.Second)
}

// Limiter counts calls in fixed windows, separately for every scope.
type Limiter struct {
	window time.Duration
	scopes map[Scope]*scopeCounter
}

// scopeCounter holds the counts of the current window only; they are
// dropped together when the window moves on.
type scopeCounter struct {
	policy Policy

	mu    sync.Mutex
	start time.Time
	used  map[string]int
}

func New(cfg Config) *Limiter {
	if cfg.Window <= 0 {
		cfg.Window = time.Minute
	}
	l := &Limiter{window: cfg.Window, scopes: make(map[Scope]*scopeCounter, len(cfg.Scopes))}
	for scope, policy := range cfg.Scopes {
		l.scopes[scope] = &scopeCounter{policy: policy, used: make(map[string]int)}
	}
	return l
}

// Take charges one call in scope to b.
func (l *Limiter) Take(now time.Time, scope Scope, b Bucket) Result {
	start := now.Truncate(l.window)
	reset := start.Add(l.window)
	sc, ok := l.scopes[scope]
	if !ok {
		return Result{Allowed: true, Reset: reset}
	}
	limit, key := sc.policy.limitFor(b)
	if limit <= 0 {
		return Result{Allowed: true, Reset: reset}
	}

	sc.mu.Lock()
	if !sc.start.Equal(start) {
		sc.start = start
		clear(sc.used)
	}
	used := sc.used[key]
	allowed := used < limit
	if allowed {
		used++
		sc.used[key] = used
	}
	sc.mu.Unlock()

	return Result{
		Allowed:    allowed,
		Limit:      limit,
		Remaining:  limit - used,
		Reset:      reset,
		RetryAfter: reset.Sub(now),
	}
}
