// Package ratebreaker generalizes the teacher's circuit_breaker package
// into a reusable guard around EphemeralStore/DurableStore/AuditLog calls.
// The guard only tracks failures and fast-fails with ErrOpen while open;
// whether a failure is then treated as fail-open, fail-fast or retried is
// decided by the caller.
package ratebreaker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// State mirrors the three-state breaker of circuit_breaker/circuitbreaker.go.
type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// ErrOpen is returned by Execute when the breaker is fast-failing.
var ErrOpen = errors.New("ratebreaker: open, fast-fail")

// Config tunes breaker behavior.
type Config struct {
	MaxFailures  int
	ResetTimeout time.Duration
}

// Breaker wraps a named dependency, tracking consecutive failures and
// short-circuiting calls once MaxFailures is reached, until ResetTimeout
// elapses and a single probe call is allowed through.
type Breaker struct {
	name   string
	cfg    Config
	logger *slog.Logger

	mu          sync.Mutex
	state       State
	recentFails int
	openedAt    time.Time
}

// New constructs a Breaker. A nil logger falls back to slog.Default().
func New(name string, cfg Config, logger *slog.Logger) *Breaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Breaker{name: name, cfg: cfg, logger: logger, state: Closed}
}

// Execute runs op if the breaker is not open. If op fails, the failure is
// recorded and may trip the breaker. Execute never itself decides whether
// the caller should fail-open or fail-fast on ErrOpen — that decision
// belongs to the call site per component (§7 propagation policy).
func (b *Breaker) Execute(ctx context.Context, op func(ctx context.Context) error) error {
	b.mu.Lock()
	state := b.state
	openedAt := b.openedAt
	b.mu.Unlock()

	if state == Open {
		if time.Since(openedAt) < b.cfg.ResetTimeout {
			return ErrOpen
		}
		return b.probeThenExecute(ctx, op)
	}

	err := op(ctx)
	if err == nil {
		b.onSuccess()
		return nil
	}
	b.onFailure(err)
	return err
}

func (b *Breaker) probeThenExecute(ctx context.Context, op func(ctx context.Context) error) error {
	b.mu.Lock()
	b.state = HalfOpen
	b.mu.Unlock()

	if err := op(ctx); err != nil {
		b.mu.Lock()
		b.state = Open
		b.openedAt = time.Now()
		b.recentFails++
		b.mu.Unlock()
		b.logger.Warn("breaker_halfopen_failed", slog.String("name", b.name), slog.Any("err", err))
		return err
	}

	b.mu.Lock()
	b.state = Closed
	b.recentFails = 0
	b.mu.Unlock()
	b.logger.Info("breaker_closed_after_probe", slog.String("name", b.name))
	return nil
}

func (b *Breaker) onSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != Closed {
		b.logger.Info("breaker_state_to_closed", slog.String("name", b.name))
	}
	b.state = Closed
	b.recentFails = 0
}

func (b *Breaker) onFailure(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.recentFails++
	b.logger.Warn("breaker_operation_failed", slog.String("name", b.name), slog.Int("failures", b.recentFails), slog.Any("err", err))
	if b.recentFails >= b.cfg.MaxFailures && b.state != Open {
		b.state = Open
		b.openedAt = time.Now()
		b.logger.Error("breaker_opened", slog.String("name", b.name), slog.Int("maxFailures", b.cfg.MaxFailures))
	}
}

// State returns the current breaker state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}
