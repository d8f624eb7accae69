// Package ratelimit implements the RateLimiter (C3): three named,
// fixed-window scopes (join, answer, messages) backed by the
// EphemeralStore's atomic Incr, per spec.md §4.6. Fail-open-on-backend-
// error is encoded here in the limiter rather than at call sites — the
// limiter's own result type carries the allow/deny decision so callers
// never have to special-case a backend error.
package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/quizsync/engine/internal/store"
)

// Scope names a rate-limited operation class, per §4.6's table.
type Scope string

const (
	ScopeJoin     Scope = "join"
	ScopeAnswer   Scope = "answer"
	ScopeMessages Scope = "messages"
)

// window holds the (duration, max-count) pair for one scope.
type window struct {
	duration time.Duration
	max      int64
}

// Decision is the limiter's result, per DESIGN NOTES: "the limiter's
// result type must carry {allowed, retryAfter?}".
type Decision struct {
	Allowed    bool
	RetryAfter time.Duration
}

// Limiter enforces the three scopes of §4.6 atop an EphemeralStore.
type Limiter struct {
	ephemeral store.EphemeralStore
	log       *slog.Logger
	windows   map[Scope]window
}

// New constructs a Limiter with the default windows of §4.6's table.
func New(ephemeral store.EphemeralStore, log *slog.Logger) *Limiter {
	if log == nil {
		log = slog.Default()
	}
	return &Limiter{
		ephemeral: ephemeral,
		log:       log,
		windows: map[Scope]window{
			ScopeJoin:     {duration: 60 * time.Second, max: 5},
			ScopeAnswer:   {duration: 300 * time.Second, max: 1},
			ScopeMessages: {duration: 1 * time.Second, max: 10},
		},
	}
}

// keyFor builds the ephemeral key for a scope given its identifier parts,
// matching §4.6's `ratelimit:{scope}:{...}` format.
func keyFor(scope Scope, parts ...string) string {
	joined := string(scope)
	for _, p := range parts {
		joined += ":" + p
	}
	return fmt.Sprintf("ratelimit:%s", joined)
}

// Check atomically increments the scope's counter for identifier parts and
// reports whether the operation is allowed. On backend error it fails
// open (allowed=true) and logs the error, per §4.6's explicit policy.
func (l *Limiter) Check(ctx context.Context, scope Scope, parts ...string) Decision {
	w, ok := l.windows[scope]
	if !ok {
		return Decision{Allowed: true}
	}
	key := keyFor(scope, parts...)

	count, err := l.ephemeral.Incr(ctx, key, w.duration.Milliseconds())
	if err != nil {
		l.log.Warn("ratelimit_backend_error_fail_open", slog.String("scope", string(scope)), slog.String("key", key), slog.Any("err", err))
		return Decision{Allowed: true}
	}

	if count <= w.max {
		return Decision{Allowed: true}
	}

	ttlMs, err := l.ephemeral.TTL(ctx, key)
	if err != nil || ttlMs < 0 {
		ttlMs = w.duration.Milliseconds()
	}
	return Decision{Allowed: false, RetryAfter: time.Duration(ttlMs) * time.Millisecond}
}

// Reset clears a scope's counter for identifier parts, for tests and
// moderator tooling, per §4.6: "A reset(scope, …) operation must exist".
func (l *Limiter) Reset(ctx context.Context, scope Scope, parts ...string) error {
	return l.ephemeral.Del(ctx, keyFor(scope, parts...))
}
