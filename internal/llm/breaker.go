package llm

import (
	"sync"
	"time"
)

// Breaker states.
const (
	StateClosed   = "closed"
	StateOpen     = "open"
	StateHalfOpen = "half-open"
)

// Breaker opens after a run of consecutive failures and lets a single probe
// through once the recovery timeout has elapsed.
type Breaker struct {
	mu        sync.Mutex
	threshold int
	recovery  time.Duration
	failures  int
	openedAt  time.Time
	probing   bool
	now       func() time.Time
}

// NewBreaker builds a closed breaker.
func NewBreaker(threshold int, recovery time.Duration) *Breaker {
	if threshold <= 0 {
		threshold = 3
	}
	if recovery <= 0 {
		recovery = 30 * time.Second
	}
	return &Breaker{threshold: threshold, recovery: recovery, now: time.Now}
}

// State reports the current state.
func (b *Breaker) State() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stateLocked()
}

func (b *Breaker) stateLocked() string {
	if b.failures < b.threshold {
		return StateClosed
	}
	if b.now().Sub(b.openedAt) >= b.recovery {
		return StateHalfOpen
	}
	return StateOpen
}

// Allow reports whether a call may proceed. In half-open state only one probe
// is admitted until it reports back.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.stateLocked() {
	case StateClosed:
		return true
	case StateHalfOpen:
		if b.probing {
			return false
		}
		b.probing = true
		return true
	default:
		return false
	}
}

// Success closes the breaker.
func (b *Breaker) Success() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
	b.probing = false
}

// Release returns an admitted probe without recording an outcome.
func (b *Breaker) Release() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.probing = false
}

// Failure records a failed call and (re)opens the breaker at the threshold.
func (b *Breaker) Failure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures++
	b.probing = false
	if b.failures >= b.threshold {
		b.openedAt = b.now()
	}
}
