package handlers

import (
	"time"
)

// ReconnectPolicy decides how long to wait before the next connection
// attempt. With MaxDelay equal to Delay the wait is fixed; MaxAttempts of
// zero means keep trying forever.
type ReconnectPolicy struct {
	Delay       time.Duration
	MaxDelay    time.Duration
	MaxAttempts int
}

func DefaultReconnectPolicy() ReconnectPolicy {
	return ReconnectPolicy{
		Delay:    3 * time.Second,
		MaxDelay: 3 * time.Second,
	}
}

// NextDelay returns the wait before attempt (1-based), doubling from Delay
// and capped at MaxDelay.
func (p ReconnectPolicy) NextDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	maxDelay := p.MaxDelay
	if maxDelay < p.Delay {
		maxDelay = p.Delay
	}
	delay := p.Delay
	for i := 1; i < attempt && delay < maxDelay; i++ {
		delay *= 2
	}
	if delay > maxDelay {
		delay = maxDelay
	}
	return delay
}

// Allows reports whether attempt (1-based) may be made.
func (p ReconnectPolicy) Allows(attempt int) bool {
	return p.MaxAttempts <= 0 || attempt <= p.MaxAttempts
}
