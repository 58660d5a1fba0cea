// breaker.go - Circuit breaker around a Store.
//
// After a run of consecutive failures the breaker opens and calls fail fast
// with ErrCircuitOpen until the cooldown has passed. One probe call is then
// let through; its result closes or reopens the circuit.
package storage

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"modeldrop/internal/logging"
)

// CircuitState is the state of a Breaker.
type CircuitState int

const (
	StateClosed CircuitState = iota
	StateOpen
	StateHalfOpen
)

func (s CircuitState) String() string {
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

// ErrCircuitOpen is returned without contacting the backend while the
// breaker is open.
var ErrCircuitOpen = errors.New("storage circuit breaker is open")

// BreakerStats is a snapshot of a Breaker, reported by the health endpoint.
type BreakerStats struct {
	State           string    `json:"state"`
	Failures        uint32    `json:"consecutive_failures"`
	Rejected        uint64    `json:"rejected"`
	LastFailureTime time.Time `json:"last_failure_time,omitzero"`
}

// Breaker decorates a Store with a circuit breaker. Presigning and object
// URLs are local computations and bypass it.
type Breaker struct {
	inner Store

	mu          sync.Mutex
	maxFailures uint32
	cooldown    time.Duration
	now         func() time.Time

	state       CircuitState
	failures    uint32
	lastFailure time.Time
	probing     bool
	rejected    uint64
}

// NewBreaker wraps inner. The circuit opens after maxFailures consecutive
// failed calls and stays open for cooldown.
func NewBreaker(inner Store, maxFailures uint32, cooldown time.Duration) *Breaker {
	if maxFailures == 0 {
		maxFailures = 1
	}
	return &Breaker{
		inner:       inner,
		maxFailures: maxFailures,
		cooldown:    cooldown,
		now:         time.Now,
	}
}

func (b *Breaker) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error {
	return b.execute(func() error { return b.inner.Put(ctx, key, r, size, contentType) })
}

func (b *Breaker) List(ctx context.Context, prefix string) ([]Object, error) {
	var objects []Object
	err := b.execute(func() error {
		var err error
		objects, err = b.inner.List(ctx, prefix)
		return err
	})
	return objects, err
}

func (b *Breaker) Delete(ctx context.Context, key string) error {
	return b.execute(func() error { return b.inner.Delete(ctx, key) })
}

func (b *Breaker) Ping(ctx context.Context) error {
	return b.execute(func() error { return b.inner.Ping(ctx) })
}

func (b *Breaker) PresignGet(ctx context.Context, key string, expiry time.Duration) (string, error) {
	return b.inner.PresignGet(ctx, key, expiry)
}

func (b *Breaker) ObjectURL(key string) string {
	return b.inner.ObjectURL(key)
}

// State returns the current circuit state.
func (b *Breaker) State() CircuitState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *Breaker) Stats() BreakerStats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return BreakerStats{
		State:           b.state.String(),
		Failures:        b.failures,
		Rejected:        b.rejected,
		LastFailureTime: b.lastFailure,
	}
}

func (b *Breaker) execute(fn func() error) error {
	if err := b.admit(); err != nil {
		return err
	}
	err := fn()
	b.record(err)
	return err
}

// admit decides whether a call may reach the backend.
func (b *Breaker) admit() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateOpen:
		if b.now().Sub(b.lastFailure) < b.cooldown {
			b.rejected++
			return ErrCircuitOpen
		}
		b.state = StateHalfOpen
		b.probing = true
		logging.Info("storage_breaker_half_open", logging.Fields{"cooldown": b.cooldown.String()})
	case StateHalfOpen:
		// Only the probe may pass until it reports back.
		if b.probing {
			b.rejected++
			return ErrCircuitOpen
		}
		b.probing = true
	}
	return nil
}

func (b *Breaker) record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	wasProbe := b.state == StateHalfOpen
	if wasProbe {
		b.probing = false
	}

	// A caller giving up is not a backend failure.
	if err == nil || errors.Is(err, context.Canceled) {
		if wasProbe && err == nil {
			b.state = StateClosed
			logging.Info("storage_breaker_closed", nil)
		}
		if err == nil {
			b.failures = 0
		}
		return
	}

	b.failures++
	b.lastFailure = b.now()
	if wasProbe || b.failures >= b.maxFailures {
		if b.state != StateOpen {
			logging.Warn("storage_breaker_opened", logging.Fields{
				"failures": b.failures,
				"cooldown": b.cooldown.String(),
				"error":    err.Error(),
			})
		}
		b.state = StateOpen
	}
}
