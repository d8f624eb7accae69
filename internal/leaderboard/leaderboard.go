// Package leaderboard implements the Leaderboard (C10): a ranked
// (score desc, total-time asc) view with per-participant rank, backed by
// the EphemeralStore's sorted-set primitive, per spec.md §4.5. The
// snapshot-cache/throttle shape generalizes
// internal/score/manager.go's Manager (ticker-driven Refresh into a
// sync.RWMutex-guarded boards map consumed by concurrent readers).
package leaderboard

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/quizsync/engine/internal/domain"
	"github.com/quizsync/engine/internal/store"
)

// compositeScore packs (totalScore, totalTimeMs) into the single float64
// sort key the ephemeral store's ZADD primitive requires, per §6: "sorted-
// set operations keyed on leaderboard with score=totalScore*1e9 -
// totalTimeMs (or equivalent composite) for tie-break".
func compositeScore(totalScore int, totalTimeMs int64) float64 {
	return float64(totalScore)*1e9 - float64(totalTimeMs)
}

// Leaderboard maintains the per-session ranked view. It is safe for
// concurrent use: updates go through the ephemeral store, snapshots are
// cached under a RWMutex so HTTP/broadcast readers never block on the
// session actor that calls Update.
type Leaderboard struct {
	sessionID string
	ephemeral store.EphemeralStore

	mu        sync.RWMutex
	meta      map[string]entryMeta // participantId -> nickname/streak/lastQuestionScore
	sequence  uint64
	cachedTop []domain.LeaderboardEntry
}

type entryMeta struct {
	nickname          string
	streakCount       int
	lastQuestionScore int
}

// New constructs a Leaderboard for sessionID backed by ephemeral.
func New(sessionID string, ephemeral store.EphemeralStore) *Leaderboard {
	return &Leaderboard{
		sessionID: sessionID,
		ephemeral: ephemeral,
		meta:      make(map[string]entryMeta),
	}
}

func (l *Leaderboard) key() string {
	return fmt.Sprintf(store.KeyLeaderboard, l.sessionID)
}

// Update writes the participant's new aggregate totals and bumps the
// sequence number, per §4.5: "Sequence number incremented on every
// update and included in broadcasts."
func (l *Leaderboard) Update(ctx context.Context, participantID, nickname string, totalScore int, totalTimeMs int64, streakCount, lastQuestionScore int) (uint64, error) {
	if err := l.ephemeral.ZAdd(ctx, l.key(), participantID, compositeScore(totalScore, totalTimeMs)); err != nil {
		return 0, fmt.Errorf("leaderboard zadd: %w", err)
	}

	l.mu.Lock()
	l.meta[participantID] = entryMeta{nickname: nickname, streakCount: streakCount, lastQuestionScore: lastQuestionScore}
	l.sequence++
	seq := l.sequence
	l.mu.Unlock()

	return seq, nil
}

// Sequence returns the current monotonically increasing sequence number.
func (l *Leaderboard) Sequence() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.sequence
}

// GetTopN returns the top n ranked entries, 1-based rank, tie-broken by
// lexicographic participantId as the composite sort key already encodes
// score desc / time asc (§3 Leaderboard entry tie-break).
func (l *Leaderboard) GetTopN(ctx context.Context, n int) ([]domain.LeaderboardEntry, error) {
	members, err := l.ephemeral.ZRevRange(ctx, l.key(), n)
	if err != nil {
		return nil, fmt.Errorf("leaderboard zrevrange: %w", err)
	}
	return l.toEntries(members), nil
}

// GetRank returns the 1-based rank of participantID, or (0, false) if not
// present on the leaderboard.
func (l *Leaderboard) GetRank(ctx context.Context, participantID string) (int, bool, error) {
	rank, _, ok, err := l.ephemeral.ZRank(ctx, l.key(), participantID)
	if err != nil {
		return 0, false, fmt.Errorf("leaderboard zrank: %w", err)
	}
	if !ok {
		return 0, false, nil
	}
	return rank + 1, true, nil
}

func (l *Leaderboard) toEntries(members []store.SortedSetMember) []domain.LeaderboardEntry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]domain.LeaderboardEntry, 0, len(members))
	for idx, m := range members {
		totalScore, totalTimeMs := decomposite(m.Score)
		meta := l.meta[m.Member]
		out = append(out, domain.LeaderboardEntry{
			ParticipantID:     m.Member,
			Nickname:          meta.nickname,
			TotalScore:        totalScore,
			TotalTimeMs:       totalTimeMs,
			StreakCount:       meta.streakCount,
			Rank:              idx + 1,
			LastQuestionScore: meta.lastQuestionScore,
		})
	}
	return out
}

// decomposite reverses compositeScore approximately for display purposes.
// totalTimeMs is recovered as the (score*1e9 - composite) remainder; callers
// needing exact totalTimeMs should track it alongside (participants carry
// their own authoritative TotalTimeMs field — this is only used when the
// sorted set is the sole source, e.g. in tests).
func decomposite(composite float64) (int, int64) {
	totalScore := int(math.Ceil(composite / 1e9))
	remainder := composite - float64(totalScore)*1e9
	totalTimeMs := int64(-remainder)
	return totalScore, totalTimeMs
}

// CacheSnapshot stores the last rendered top-N view for throttled
// broadcast consumers, per §4.5's 250ms coalescing window.
func (l *Leaderboard) CacheSnapshot(entries []domain.LeaderboardEntry) {
	l.mu.Lock()
	l.cachedTop = entries
	l.mu.Unlock()
}

// CachedSnapshot returns the last cached top-N view and current sequence.
func (l *Leaderboard) CachedSnapshot() ([]domain.LeaderboardEntry, uint64) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]domain.LeaderboardEntry, len(l.cachedTop))
	copy(out, l.cachedTop)
	return out, l.sequence
}

// sortEntries is a pure-in-memory fallback ranking used by unit tests that
// do not exercise the ephemeral store, kept for parity with §3's tie-break
// rule (score desc, totalTimeMs asc, participantId asc).
func sortEntries(entries []domain.LeaderboardEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if a.TotalScore != b.TotalScore {
			return a.TotalScore > b.TotalScore
		}
		if a.TotalTimeMs != b.TotalTimeMs {
			return a.TotalTimeMs < b.TotalTimeMs
		}
		return a.ParticipantID < b.ParticipantID
	})
	for i := range entries {
		entries[i].Rank = i + 1
	}
}
