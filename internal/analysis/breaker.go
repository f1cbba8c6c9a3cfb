package analysis

import (
	"errors"
	"sync"
	"time"
)

// BreakerState is the circuit breaker position.
type BreakerState int

// Breaker states.
const (
	BreakerClosed   BreakerState = iota // calls flow
	BreakerOpen                         // calls short-circuit
	BreakerHalfOpen                     // one probe allowed
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrCircuitOpen is reported when the generation service is skipped because
// it failed too many times in a row.
var ErrCircuitOpen = errors.New("generation circuit open")

// BreakerOpts configures the breaker.
type BreakerOpts struct {
	// FailThreshold is how many consecutive unreachable outcomes trip it.
	FailThreshold int
	// Cooldown is how long it stays open before a probe is let through.
	Cooldown time.Duration
}

// Breaker guards the generation service. Only Unreachable outcomes count as
// failures; a malformed answer proves the service is up.
type Breaker struct {
	mu       sync.Mutex
	opts     BreakerOpts
	state    BreakerState
	failures int
	openedAt time.Time
	probing  bool
	now      func() time.Time
}

// NewBreaker builds a breaker. Zero options fall back to 3 failures and a
// 60s cool-down.
func NewBreaker(opts BreakerOpts) *Breaker {
	if opts.FailThreshold <= 0 {
		opts.FailThreshold = 3
	}
	if opts.Cooldown <= 0 {
		opts.Cooldown = time.Minute
	}
	return &Breaker{opts: opts, now: time.Now}
}

// State returns the current position.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.currentState()
}

// must hold mu
func (b *Breaker) currentState() BreakerState {
	if b.state == BreakerOpen && b.now().Sub(b.openedAt) >= b.opts.Cooldown {
		b.state = BreakerHalfOpen
		b.probing = false
	}
	return b.state
}

// Allow reports whether a call may proceed. In half-open state only one
// probe is admitted until it reports back.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.currentState() {
	case BreakerOpen:
		return ErrCircuitOpen
	case BreakerHalfOpen:
		if b.probing {
			return ErrCircuitOpen
		}
		b.probing = true
	}
	return nil
}

// Record feeds back the result of an admitted call.
func (b *Breaker) Record(ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ok {
		b.state = BreakerClosed
		b.failures = 0
		b.probing = false
		return
	}
	b.failures++
	if b.state == BreakerHalfOpen || b.failures >= b.opts.FailThreshold {
		b.state = BreakerOpen
		b.openedAt = b.now()
		b.failures = 0
		b.probing = false
	}
}

// Release returns an admitted call without a verdict, freeing the half-open
// probe slot.
func (b *Breaker) Release() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.probing = false
}
