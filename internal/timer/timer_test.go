package timer

import (
	"context"
	"testing"
	"time"

	"github.com/quizsync/engine/internal/clock"
)

func TestRemainingSecondsCeilsUp(t *testing.T) {
	fake := clock.NewFake(time.Unix(1_700_000_000, 0))
	s := New(fake, nil)

	s.Start(context.Background(), "q1", fake.Now(), 10*time.Second)
	defer s.Stop()

	fake.Advance(1500 * time.Millisecond)
	if got := s.RemainingSeconds(); got != 9 {
		t.Fatalf("expected remaining=9 (ceil of 8.5s), got %d", got)
	}
}

func TestPauseFreezesRemainingTime(t *testing.T) {
	fake := clock.NewFake(time.Unix(1_700_000_000, 0))
	s := New(fake, nil)
	s.Start(context.Background(), "q1", fake.Now(), 10*time.Second)
	defer s.Stop()

	fake.Advance(2 * time.Second)
	s.Pause()
	before := s.RemainingSeconds()

	fake.Advance(5 * time.Second)
	after := s.RemainingSeconds()

	if before != after {
		t.Fatalf("expected remaining time frozen while paused, got before=%d after=%d", before, after)
	}
}

func TestResumeExtendsByPausedInterval(t *testing.T) {
	fake := clock.NewFake(time.Unix(1_700_000_000, 0))
	s := New(fake, nil)
	s.Start(context.Background(), "q1", fake.Now(), 10*time.Second)
	defer s.Stop()

	s.Pause()
	fake.Advance(3 * time.Second)
	s.Resume()

	if got := s.RemainingSeconds(); got != 10 {
		t.Fatalf("expected remaining=10 after resume restores paused interval, got %d", got)
	}
}

func TestResetReplacesDeadline(t *testing.T) {
	fake := clock.NewFake(time.Unix(1_700_000_000, 0))
	s := New(fake, nil)
	s.Start(context.Background(), "q1", fake.Now(), 5*time.Second)
	defer s.Stop()

	fake.Advance(4 * time.Second)
	s.Reset(20 * time.Second)

	if got := s.RemainingSeconds(); got != 20 {
		t.Fatalf("expected remaining=20 after reset, got %d", got)
	}
}
