package retry

import (
	"math/rand"
	"time"
)

// Policy describes a bounded reconnect schedule. The delay before attempt n
// (n starting at 1) is min(BaseDelay*n, MaxDelay) plus a uniform sample from
// [0, Jitter).
type Policy struct {
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Jitter      time.Duration
	MaxAttempts int
}

// Backoff tracks consecutive failed attempts against a Policy. It is owned by
// a single goroutine and is not safe for concurrent use.
type Backoff struct {
	policy  Policy
	attempt int
	random  func() float64
}

// NewBackoff returns a Backoff with no attempts recorded.
func NewBackoff(policy Policy) *Backoff {
	return &Backoff{policy: policy, random: rand.Float64}
}

// Next records one more attempt and returns the delay to wait before making
// it. ok is false once MaxAttempts attempts have been used; the counter is
// left unchanged in that case.
func (b *Backoff) Next() (delay time.Duration, ok bool) {
	if b.attempt >= b.policy.MaxAttempts {
		return 0, false
	}
	b.attempt++
	return b.Delay(b.attempt), true
}

// Delay computes the wait before attempt n without touching the counter.
func (b *Backoff) Delay(n int) time.Duration {
	d := b.policy.BaseDelay * time.Duration(n)
	if d > b.policy.MaxDelay {
		d = b.policy.MaxDelay
	}
	if b.policy.Jitter > 0 {
		d += time.Duration(b.random() * float64(b.policy.Jitter))
	}
	return d
}

// Attempt returns the number of attempts recorded since the last Reset.
func (b *Backoff) Attempt() int {
	return b.attempt
}

// Exhausted reports whether no attempts remain.
func (b *Backoff) Exhausted() bool {
	return b.attempt >= b.policy.MaxAttempts
}

// Reset clears the counter after a confirmed success.
func (b *Backoff) Reset() {
	b.attempt = 0
}
