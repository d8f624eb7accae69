package ratelimit

import (
	"context"
	"testing"

	"github.com/quizsync/engine/internal/store"
)

// TestJoinLimitScenario mirrors spec.md §8 scenario 1: five successive
// joins from the same ip succeed, the sixth is denied with a retryAfter.
func TestJoinLimitScenario(t *testing.T) {
	ctx := context.Background()
	ephemeral := store.NewMemoryEphemeralStore()
	defer ephemeral.Close()
	limiter := New(ephemeral, nil)

	for i := 0; i < 5; i++ {
		d := limiter.Check(ctx, ScopeJoin, "1.2.3.4")
		if !d.Allowed {
			t.Fatalf("expected join %d to be allowed", i+1)
		}
	}

	d := limiter.Check(ctx, ScopeJoin, "1.2.3.4")
	if d.Allowed {
		t.Fatalf("expected 6th join to be denied")
	}
	if d.RetryAfter <= 0 {
		t.Fatalf("expected a positive retryAfter, got %v", d.RetryAfter)
	}
}

func TestAnswerLimitIsOncePerQuestion(t *testing.T) {
	ctx := context.Background()
	ephemeral := store.NewMemoryEphemeralStore()
	defer ephemeral.Close()
	limiter := New(ephemeral, nil)

	first := limiter.Check(ctx, ScopeAnswer, "participant-1", "question-1")
	if !first.Allowed {
		t.Fatalf("expected first answer to be allowed")
	}
	second := limiter.Check(ctx, ScopeAnswer, "participant-1", "question-1")
	if second.Allowed {
		t.Fatalf("expected duplicate answer submission to be denied")
	}

	// a different question for the same participant is independent.
	other := limiter.Check(ctx, ScopeAnswer, "participant-1", "question-2")
	if !other.Allowed {
		t.Fatalf("expected answer on a different question to be allowed")
	}
}

func TestResetClearsScope(t *testing.T) {
	ctx := context.Background()
	ephemeral := store.NewMemoryEphemeralStore()
	defer ephemeral.Close()
	limiter := New(ephemeral, nil)

	limiter.Check(ctx, ScopeMessages, "socket-1")
	if err := limiter.Reset(ctx, ScopeMessages, "socket-1"); err != nil {
		t.Fatalf("reset: %v", err)
	}
	for i := 0; i < 10; i++ {
		d := limiter.Check(ctx, ScopeMessages, "socket-1")
		if !d.Allowed {
			t.Fatalf("expected message %d to be allowed after reset", i+1)
		}
	}
}

func TestFailOpenOnBackendError(t *testing.T) {
	ctx := context.Background()
	limiter := New(failingStore{}, nil)
	d := limiter.Check(ctx, ScopeJoin, "1.2.3.4")
	if !d.Allowed {
		t.Fatalf("expected fail-open decision on backend error")
	}
}

// failingStore is a minimal EphemeralStore whose Incr always errors, used
// to exercise the fail-open path of §4.6.
type failingStore struct{ store.EphemeralStore }

func (failingStore) Incr(ctx context.Context, key string, ttlOnFirst int64) (int64, error) {
	return 0, errIncr
}

var errIncr = errIncrType{}

type errIncrType struct{}

func (errIncrType) Error() string { return "incr backend failure" }
