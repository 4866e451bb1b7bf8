// Package circuitbreaker stops calling a failing dependency for a cool-down
// period and then lets a few probe calls through before closing again.
package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"time"
)

// State is the breaker position.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	}
	return "unknown"
}

var (
	// ErrOpen is returned without calling the dependency while the breaker is open.
	ErrOpen = errors.New("circuitbreaker: open")
	// ErrProbeLimit is returned when all half-open probe slots are taken.
	ErrProbeLimit = errors.New("circuitbreaker: probe limit reached")
)

// Rejected reports whether err came from the breaker itself.
func Rejected(err error) bool {
	return errors.Is(err, ErrOpen) || errors.Is(err, ErrProbeLimit)
}

// Config - параметры выключателя.
type Config struct {
	Name string

	// FailureThreshold consecutive failures open the breaker.
	FailureThreshold int
	// SuccessThreshold consecutive probe successes close it again.
	SuccessThreshold int
	// Cooldown is how long the breaker stays open before probing.
	Cooldown time.Duration
	// MaxProbes bounds concurrent calls in half-open state.
	MaxProbes int

	// OnStateChange is called with the breaker lock held; keep it short.
	OnStateChange func(name string, from, to State)

	// IsFailure decides which errors count. Nil counts every non-nil error
	// except context cancellation.
	IsFailure func(error) bool

	// Now is the clock (tests).
	Now func() time.Time
}

func (c *Config) applyDefaults() {
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = 5
	}
	if c.SuccessThreshold <= 0 {
		c.SuccessThreshold = 1
	}
	if c.Cooldown <= 0 {
		c.Cooldown = 30 * time.Second
	}
	if c.MaxProbes <= 0 {
		c.MaxProbes = 1
	}
	if c.IsFailure == nil {
		c.IsFailure = func(err error) bool { return !errors.Is(err, context.Canceled) }
	}
	if c.Now == nil {
		c.Now = time.Now
	}
}

// Stats - счётчики с момента создания.
type Stats struct {
	State     State
	Calls     int64
	Failures  int64
	Rejected  int64
	OpenedAt  time.Time
	LastError string
}

// Breaker is safe for concurrent use.
type Breaker struct {
	cfg Config

	mu         sync.Mutex
	state      State
	consecFail int
	consecOK   int
	probes     int
	openedAt   time.Time
	stats      Stats
}

// New creates a closed breaker.
func New(cfg Config) *Breaker {
	cfg.applyDefaults()
	return &Breaker{cfg: cfg}
}

// ForCache returns a breaker tuned for an optional cache: it opens fast and
// probes again soon, because callers can always fall back to recomputing.
func ForCache(name string, onChange func(name string, from, to State), isFailure func(error) bool) *Breaker {
	return New(Config{
		Name:             name,
		FailureThreshold: 3,
		SuccessThreshold: 1,
		Cooldown:         10 * time.Second,
		MaxProbes:        1,
		OnStateChange:    onChange,
		IsFailure:        isFailure,
	})
}

// Do runs fn unless the breaker rejects the call.
func (b *Breaker) Do(ctx context.Context, fn func(context.Context) error) error {
	if err := b.admit(); err != nil {
		return err
	}
	err := fn(ctx)
	b.record(err)
	return err
}

// Call is Do for functions returning a value.
func Call[T any](ctx context.Context, b *Breaker, fn func(context.Context) (T, error)) (T, error) {
	var out T
	err := b.Do(ctx, func(ctx context.Context) error {
		v, err := fn(ctx)
		out = v
		return err
	})
	return out, err
}

func (b *Breaker) admit() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateOpen:
		if b.cfg.Now().Sub(b.openedAt) < b.cfg.Cooldown {
			b.stats.Rejected++
			return ErrOpen
		}
		b.transition(StateHalfOpen)
		fallthrough
	case StateHalfOpen:
		if b.probes >= b.cfg.MaxProbes {
			b.stats.Rejected++
			return ErrProbeLimit
		}
		b.probes++
	}
	b.stats.Calls++
	return nil
}

func (b *Breaker) record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateHalfOpen && b.probes > 0 {
		b.probes--
	}
	if err != nil && b.cfg.IsFailure(err) {
		b.stats.Failures++
		b.stats.LastError = err.Error()
		b.consecOK = 0
		b.consecFail++
		if b.state == StateHalfOpen || b.consecFail >= b.cfg.FailureThreshold {
			b.transition(StateOpen)
		}
		return
	}

	b.consecFail = 0
	b.consecOK++
	if b.state == StateHalfOpen && b.consecOK >= b.cfg.SuccessThreshold {
		b.transition(StateClosed)
	}
}

// transition requires b.mu.
func (b *Breaker) transition(to State) {
	if b.state == to {
		return
	}
	from := b.state
	b.state = to
	b.consecFail, b.consecOK, b.probes = 0, 0, 0
	if to == StateOpen {
		b.openedAt = b.cfg.Now()
	}
	if b.cfg.OnStateChange != nil {
		b.cfg.OnStateChange(b.cfg.Name, from, to)
	}
}

// State returns the current position.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Stats returns a copy of the counters.
func (b *Breaker) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := b.stats
	s.State = b.state
	s.OpenedAt = b.openedAt
	return s
}

// Name returns the configured name.
func (b *Breaker) Name() string {
	return b.cfg.Name
}
