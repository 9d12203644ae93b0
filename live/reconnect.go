package live

import "time"

const (
	DefaultMaxReconnects = 3
	DefaultBackoffBase   = 2 * time.Second
)

// ReconnectPolicy counts consecutive failed connections. The attempt counter
// resets once a session is acknowledged.
type ReconnectPolicy struct {
	Attempt     int
	MaxAttempts int
	BackoffBase time.Duration
}

func NewReconnectPolicy(maxAttempts int, base time.Duration) ReconnectPolicy {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxReconnects
	}
	if base <= 0 {
		base = DefaultBackoffBase
	}
	return ReconnectPolicy{MaxAttempts: maxAttempts, BackoffBase: base}
}

// Next records a failure and returns the wait before the next attempt. ok is
// false once the budget is spent.
func (p *ReconnectPolicy) Next() (delay time.Duration, ok bool) {
	p.Attempt++
	if p.Attempt > p.MaxAttempts {
		return 0, false
	}
	return p.Delay(p.Attempt), true
}

// Delay is linear: attempt n waits n times the base.
func (p *ReconnectPolicy) Delay(attempt int) time.Duration {
	return time.Duration(attempt) * p.BackoffBase
}

func (p *ReconnectPolicy) Reset() { p.Attempt = 0 }
