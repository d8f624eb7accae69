// Package store defines the EphemeralStore (C5) and DurableStore (C6)
// collaborator interfaces declared (but not owned) by spec.md §6, plus the
// concrete implementations this repository ships.
package store

import "context"

// SortedSetMember is one entry of a sorted-set Add/Range call.
type SortedSetMember struct {
	Member string
	Score  float64
}

// EphemeralStore is the KV-with-TTL, atomic-INCR, hash, sorted-set, and
// pub/sub collaborator declared in spec.md §6. Every method takes a
// context carrying the §5 I/O deadline (default 200ms); implementations
// must respect ctx cancellation rather than blocking past it.
type EphemeralStore interface {
	// Get returns the value and true, or ("", false) if absent or expired.
	Get(ctx context.Context, key string) (string, bool, error)
	// Set stores value under key. If ttl > 0 it is applied; Set always
	// refreshes the value but — per §6 — a caller wanting "TTL only on
	// first set" must use Incr or SetNX instead.
	Set(ctx context.Context, key, value string, ttl_ms int64) error
	// SetNX sets key only if absent, applying ttl_ms as the TTL. Returns
	// whether the key was actually set.
	SetNX(ctx context.Context, key, value string, ttl_ms int64) (bool, error)
	// Del removes key.
	Del(ctx context.Context, key string) error
	// Incr atomically increments key by 1, returning the new value. If
	// this is the first increment (new value == 1), ttlOnFirst is applied
	// as the key's TTL — matching §6's "set TTL only on first increment".
	Incr(ctx context.Context, key string, ttlOnFirst int64) (int64, error)
	// TTL returns the remaining time-to-live in milliseconds, or -2 if
	// the key does not exist, per §4.6.
	TTL(ctx context.Context, key string) (int64, error)

	// HSet/HGetAll back per-session state hashes (key `session:{id}:state`).
	HSet(ctx context.Context, key string, fields map[string]string) error
	HGetAll(ctx context.Context, key string) (map[string]string, error)

	// SAdd/SIsMember/SMembers back sets such as
	// `answered:{sessionId}:{questionId}`.
	SAdd(ctx context.Context, key string, members ...string) error
	SIsMember(ctx context.Context, key, member string) (bool, error)
	SMembers(ctx context.Context, key string) ([]string, error)

	// ZAdd/ZRevRange/ZRank back the leaderboard sorted set.
	ZAdd(ctx context.Context, key string, member string, score float64) error
	ZRevRange(ctx context.Context, key string, count int) ([]SortedSetMember, error)
	ZRank(ctx context.Context, key, member string) (rank int, score float64, ok bool, err error)

	// Publish/Subscribe back cross-instance broadcast, when present (§6).
	// Subscribe returns a channel of payloads and a cancel func.
	Publish(ctx context.Context, channel, payload string) error
	Subscribe(ctx context.Context, channel string) (<-chan string, func(), error)

	// Expire refreshes the TTL on an existing key, used by recovery (§4.7
	// step 4) to refresh participant-session TTL without rewriting value.
	Expire(ctx context.Context, key string, ttl_ms int64) error

	// Close releases any underlying connection.
	Close() error
}

// Keys used by the ephemeral store contract (§6).
const (
	KeySessionState       = "session:%s:state"
	KeyParticipantSession = "participant:%s:session"
	KeyLeaderboard        = "leaderboard:%s"
	KeyRateLimit          = "ratelimit:%s:%s"
	KeyAnswered           = "answered:%s:%s"
)
