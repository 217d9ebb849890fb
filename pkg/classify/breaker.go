package classify

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/mamasecure/scanstore/pkg/session"
)

// ErrCircuitOpen is returned while a Breaker is rejecting calls.
var ErrCircuitOpen = errors.New("classifier circuit breaker is open")

// CircuitState represents the state of a circuit breaker
type CircuitState int

const (
	CircuitClosed CircuitState = iota
	CircuitOpen
	CircuitHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}

// Breaker stops calling a failing classifier. After maxFailures consecutive
// failures it rejects calls with ErrCircuitOpen until resetTimeout has
// passed, then lets a single probe through.
type Breaker struct {
	next         Classifier
	maxFailures  int
	resetTimeout time.Duration
	now          func() time.Time

	mu              sync.Mutex
	failures        int
	lastFailureTime time.Time
	state           CircuitState
	probing         bool
}

// NewBreaker wraps next with a circuit breaker.
func NewBreaker(next Classifier, maxFailures int, resetTimeout time.Duration) *Breaker {
	if maxFailures < 1 {
		maxFailures = 1
	}
	return &Breaker{
		next:         next,
		maxFailures:  maxFailures,
		resetTimeout: resetTimeout,
		now:          time.Now,
	}
}

func (b *Breaker) Name() string {
	return b.next.Name()
}

// State returns the current state of the breaker.
func (b *Breaker) State() CircuitState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *Breaker) Classify(ctx context.Context, input string) (session.ScanResult, error) {
	if err := b.acquire(); err != nil {
		return session.ScanResult{}, err
	}

	result, err := b.next.Classify(ctx, input)
	b.record(ctx, err)
	return result, err
}

func (b *Breaker) acquire() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == CircuitOpen && b.now().Sub(b.lastFailureTime) > b.resetTimeout {
		b.state = CircuitHalfOpen
	}
	switch b.state {
	case CircuitOpen:
		return &Error{Classifier: b.next.Name(), Err: ErrCircuitOpen}
	case CircuitHalfOpen:
		if b.probing {
			return &Error{Classifier: b.next.Name(), Err: ErrCircuitOpen}
		}
		b.probing = true
	}
	return nil
}

func (b *Breaker) record(ctx context.Context, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.probing = false
	// The caller giving up says nothing about the upstream.
	if err != nil && ctx.Err() != nil {
		return
	}
	if err == nil {
		if b.state != CircuitClosed {
			log.Printf("[Classifier] %s recovered, closing circuit", b.next.Name())
		}
		b.failures = 0
		b.state = CircuitClosed
		return
	}

	b.failures++
	b.lastFailureTime = b.now()
	if b.state == CircuitHalfOpen || b.failures >= b.maxFailures {
		if b.state != CircuitOpen {
			log.Printf("[Classifier] WARNING: %s failed %d times, opening circuit for %s", b.next.Name(), b.failures, b.resetTimeout)
		}
		b.state = CircuitOpen
	}
}

// Reset manually closes the circuit.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
	b.probing = false
	b.state = CircuitClosed
}

func (b *Breaker) Ping(ctx context.Context) error {
	return ping(ctx, b.next)
}
