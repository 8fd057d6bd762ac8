// Package breaker provides per-target circuit breakers for external fetch
// targets such as the aggregator and publisher domains.
package breaker

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"
)

// ErrOpen is returned when a breaker rejects a call without attempting it.
var ErrOpen = errors.New("circuit breaker is open")

// State represents the state of a circuit breaker.
type State int

const (
	// StateClosed means calls flow through normally.
	StateClosed State = iota
	// StateOpen means calls are rejected until the cooldown elapses.
	StateOpen
	// StateHalfOpen means a limited number of probe calls are let through.
	StateHalfOpen
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Config configures a circuit breaker.
type Config struct {
	// FailureThreshold is the number of consecutive failures before opening.
	FailureThreshold int

	// SuccessThreshold is the number of consecutive half-open successes
	// before closing.
	SuccessThreshold int

	// CooldownMin and CooldownMax bound the randomized open-state cooldown.
	// Jittering the cooldown keeps breakers for different targets from
	// reopening in lockstep.
	CooldownMin time.Duration
	CooldownMax time.Duration

	// OnStateChange is an optional callback invoked on every transition.
	OnStateChange func(target string, from, to State)
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		CooldownMin:      2 * time.Minute,
		CooldownMax:      5 * time.Minute,
	}
}

func (c *Config) applyDefaults() {
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = 5
	}
	if c.SuccessThreshold <= 0 {
		c.SuccessThreshold = 2
	}
	if c.CooldownMin <= 0 {
		c.CooldownMin = 2 * time.Minute
	}
	if c.CooldownMax < c.CooldownMin {
		c.CooldownMax = c.CooldownMin
	}
}

// Breaker is a circuit breaker for a single fetch target.
type Breaker struct {
	mu           sync.Mutex
	target       string
	state        State
	failureCount int
	successCount int
	openedAt     time.Time
	cooldown     time.Duration
	config       Config
	now          func() time.Time
}

// New creates a circuit breaker for the given target.
func New(target string, config Config) *Breaker {
	config.applyDefaults()
	return &Breaker{
		target: target,
		state:  StateClosed,
		config: config,
		now:    time.Now,
	}
}

// Allow reports whether a call may proceed. When the breaker is open it
// returns ErrOpen wrapped with the remaining cooldown.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateOpen {
		elapsed := b.now().Sub(b.openedAt)
		if elapsed < b.cooldown {
			return fmt.Errorf("%w: %s retries in %v", ErrOpen, b.target, (b.cooldown - elapsed).Round(time.Second))
		}
		b.transitionTo(StateHalfOpen)
	}

	return nil
}

// RecordSuccess records a successful call.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failureCount = 0

	if b.state == StateHalfOpen {
		b.successCount++
		if b.successCount >= b.config.SuccessThreshold {
			b.transitionTo(StateClosed)
		}
	}
}

// RecordFailure records a failed call. A half-open failure reopens
// immediately; closed-state failures open once the threshold is reached.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failureCount++

	switch b.state {
	case StateHalfOpen:
		b.open()
	case StateClosed:
		if b.failureCount >= b.config.FailureThreshold {
			b.open()
		}
	case StateOpen:
	}
}

// Trip forces the breaker open regardless of the failure count. It is used
// when an external signal, such as a collapsing batch success rate, indicates
// the target is throttling us.
func (b *Breaker) Trip() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state != StateOpen {
		b.open()
	}
}

// State returns the current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// RemainingCooldown returns how long until an open breaker admits a probe,
// or zero when the breaker is not open.
func (b *Breaker) RemainingCooldown() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state != StateOpen {
		return 0
	}

	remaining := b.cooldown - b.now().Sub(b.openedAt)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// open must be called with the mutex held.
func (b *Breaker) open() {
	b.openedAt = b.now()
	b.cooldown = b.config.CooldownMin
	if spread := b.config.CooldownMax - b.config.CooldownMin; spread > 0 {
		b.cooldown += rand.N(spread)
	}
	b.transitionTo(StateOpen)
}

// transitionTo must be called with the mutex held.
func (b *Breaker) transitionTo(newState State) {
	if b.state == newState {
		return
	}

	oldState := b.state
	b.state = newState
	b.failureCount = 0
	b.successCount = 0

	if b.config.OnStateChange != nil {
		b.config.OnStateChange(b.target, oldState, newState)
	}
}
