package circuitbreaker

import (
	"errors"
	"sync"
	"time"
)

// ErrOpen is returned without invoking the call when the breaker is open.
var ErrOpen = errors.New("circuit breaker is open")

type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

// Breaker guards calls against a backend that is known to be down. After
// maxFailures failures inside the window the breaker opens and calls fail
// fast with ErrOpen; after the cooldown one probe call is let through.
type Breaker struct {
	maxFailures int
	window      time.Duration
	cooldown    time.Duration

	mu          sync.Mutex
	state       State
	failures    []time.Time
	lastFailure time.Time
}

func New(maxFailures int, cooldown time.Duration) *Breaker {
	return NewWithWindow(maxFailures, cooldown, 60*time.Second)
}

func NewWithWindow(maxFailures int, cooldown, window time.Duration) *Breaker {
	return &Breaker{
		maxFailures: maxFailures,
		window:      window,
		cooldown:    cooldown,
		state:       StateClosed,
	}
}

// Do runs fn unless the breaker is open. A failure in half-open state
// reopens the breaker immediately; a success closes it.
func (b *Breaker) Do(fn func() error) error {
	b.mu.Lock()
	if b.state == StateOpen {
		if time.Since(b.lastFailure) < b.cooldown {
			b.mu.Unlock()
			return ErrOpen
		}
		b.state = StateHalfOpen
		b.failures = b.failures[:0]
	}
	b.mu.Unlock()

	err := fn()

	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	if err != nil {
		b.lastFailure = now
		b.failures = append(b.failures, now)
		b.dropExpired(now)
		if len(b.failures) > b.maxFailures || b.state == StateHalfOpen {
			b.state = StateOpen
		}
		return err
	}

	b.dropExpired(now)
	if b.state == StateHalfOpen {
		b.state = StateClosed
		b.failures = b.failures[:0]
	}
	return nil
}

func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *Breaker) dropExpired(now time.Time) {
	cutoff := now.Add(-b.window)
	kept := b.failures[:0]
	for _, f := range b.failures {
		if f.After(cutoff) {
			kept = append(kept, f)
		}
	}
	b.failures = kept
}
