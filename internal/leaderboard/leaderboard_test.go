package leaderboard

import (
	"context"
	"testing"

	"github.com/quizsync/engine/internal/store"
)

func TestUpdateAndGetTopN(t *testing.T) {
	ctx := context.Background()
	ephemeral := store.NewMemoryEphemeralStore()
	defer ephemeral.Close()

	lb := New("sess-1", ephemeral)

	if _, err := lb.Update(ctx, "p1", "Ada", 100, 5000, 1, 50); err != nil {
		t.Fatalf("update p1: %v", err)
	}
	seq, err := lb.Update(ctx, "p2", "Linus", 150, 7000, 0, 150)
	if err != nil {
		t.Fatalf("update p2: %v", err)
	}
	if seq != 2 {
		t.Fatalf("expected sequence 2, got %d", seq)
	}

	top, err := lb.GetTopN(ctx, 10)
	if err != nil {
		t.Fatalf("gettopn: %v", err)
	}
	if len(top) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(top))
	}
	if top[0].ParticipantID != "p2" || top[0].Rank != 1 {
		t.Fatalf("expected p2 ranked first, got %+v", top[0])
	}
	if top[1].ParticipantID != "p1" || top[1].Rank != 2 {
		t.Fatalf("expected p1 ranked second, got %+v", top[1])
	}
}

func TestGetRankMissingParticipant(t *testing.T) {
	ctx := context.Background()
	ephemeral := store.NewMemoryEphemeralStore()
	defer ephemeral.Close()

	lb := New("sess-2", ephemeral)
	if _, err := lb.Update(ctx, "p1", "Ada", 10, 1000, 0, 10); err != nil {
		t.Fatalf("update: %v", err)
	}

	rank, ok, err := lb.GetRank(ctx, "ghost")
	if err != nil {
		t.Fatalf("getrank: %v", err)
	}
	if ok {
		t.Fatalf("expected missing participant, got rank %d", rank)
	}
}

func TestTieBrokenByLowerTotalTime(t *testing.T) {
	ctx := context.Background()
	ephemeral := store.NewMemoryEphemeralStore()
	defer ephemeral.Close()

	lb := New("sess-3", ephemeral)
	if _, err := lb.Update(ctx, "slow", "Slow", 100, 9000, 0, 100); err != nil {
		t.Fatalf("update slow: %v", err)
	}
	if _, err := lb.Update(ctx, "fast", "Fast", 100, 3000, 0, 100); err != nil {
		t.Fatalf("update fast: %v", err)
	}

	top, err := lb.GetTopN(ctx, 2)
	if err != nil {
		t.Fatalf("gettopn: %v", err)
	}
	if top[0].ParticipantID != "fast" {
		t.Fatalf("expected fast participant ranked first on tie, got %+v", top[0])
	}
}
