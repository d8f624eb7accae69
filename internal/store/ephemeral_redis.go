package store

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// RedisEphemeralStore is the production EphemeralStore backend, driven by
// github.com/go-redis/redis/v8 — the ephemeral-store client named by this
// system's closest domain match in the retrieval pack
// (other_examples/manifests/dinhkhaphancs-real-time-quiz-backend/go.mod).
type RedisEphemeralStore struct {
	client *redis.Client
}

// NewRedisEphemeralStore dials addr and returns a ready EphemeralStore.
func NewRedisEphemeralStore(addr, password string, db int) *RedisEphemeralStore {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return &RedisEphemeralStore{client: client}
}

func (r *RedisEphemeralStore) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := r.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func (r *RedisEphemeralStore) Set(ctx context.Context, key, value string, ttlMs int64) error {
	return r.client.Set(ctx, key, value, ttlDuration(ttlMs)).Err()
}

func (r *RedisEphemeralStore) SetNX(ctx context.Context, key, value string, ttlMs int64) (bool, error) {
	return r.client.SetNX(ctx, key, value, ttlDuration(ttlMs)).Result()
}

func (r *RedisEphemeralStore) Del(ctx context.Context, key string) error {
	return r.client.Del(ctx, key).Err()
}

// Incr uses Redis INCR and, per §4.6 "set TTL on first increment only",
// applies ttlOnFirst with NX semantics via Expire guarded on the returned
// value being exactly 1.
func (r *RedisEphemeralStore) Incr(ctx context.Context, key string, ttlOnFirst int64) (int64, error) {
	n, err := r.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, err
	}
	if n == 1 && ttlOnFirst > 0 {
		if err := r.client.Expire(ctx, key, ttlDuration(ttlOnFirst)).Err(); err != nil {
			return n, err
		}
	}
	return n, nil
}

func (r *RedisEphemeralStore) TTL(ctx context.Context, key string) (int64, error) {
	d, err := r.client.TTL(ctx, key).Result()
	if err != nil {
		return 0, err
	}
	if d < 0 {
		// redis.Client maps both "no TTL" and "no key" to negative
		// durations; disambiguate via EXISTS to honor the -2 contract.
		exists, existsErr := r.client.Exists(ctx, key).Result()
		if existsErr != nil {
			return 0, existsErr
		}
		if exists == 0 {
			return -2, nil
		}
		return -1, nil
	}
	return d.Milliseconds(), nil
}

func (r *RedisEphemeralStore) Expire(ctx context.Context, key string, ttlMs int64) error {
	return r.client.Expire(ctx, key, ttlDuration(ttlMs)).Err()
}

func (r *RedisEphemeralStore) HSet(ctx context.Context, key string, fields map[string]string) error {
	if len(fields) == 0 {
		return nil
	}
	args := make([]interface{}, 0, len(fields)*2)
	for k, v := range fields {
		args = append(args, k, v)
	}
	return r.client.HSet(ctx, key, args...).Err()
}

func (r *RedisEphemeralStore) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	return r.client.HGetAll(ctx, key).Result()
}

func (r *RedisEphemeralStore) SAdd(ctx context.Context, key string, members ...string) error {
	args := make([]interface{}, len(members))
	for i, m := range members {
		args[i] = m
	}
	return r.client.SAdd(ctx, key, args...).Err()
}

func (r *RedisEphemeralStore) SIsMember(ctx context.Context, key, member string) (bool, error) {
	return r.client.SIsMember(ctx, key, member).Result()
}

func (r *RedisEphemeralStore) SMembers(ctx context.Context, key string) ([]string, error) {
	return r.client.SMembers(ctx, key).Result()
}

func (r *RedisEphemeralStore) ZAdd(ctx context.Context, key, member string, score float64) error {
	return r.client.ZAdd(ctx, key, &redis.Z{Score: score, Member: member}).Err()
}

func (r *RedisEphemeralStore) ZRevRange(ctx context.Context, key string, count int) ([]SortedSetMember, error) {
	stop := int64(-1)
	if count >= 0 {
		stop = int64(count) - 1
	}
	res, err := r.client.ZRevRangeWithScores(ctx, key, 0, stop).Result()
	if err != nil {
		return nil, err
	}
	out := make([]SortedSetMember, 0, len(res))
	for _, z := range res {
		member, ok := z.Member.(string)
		if !ok {
			member = fmt.Sprintf("%v", z.Member)
		}
		out = append(out, SortedSetMember{Member: member, Score: z.Score})
	}
	return out, nil
}

func (r *RedisEphemeralStore) ZRank(ctx context.Context, key, member string) (int, float64, bool, error) {
	rank, err := r.client.ZRevRank(ctx, key, member).Result()
	if err == redis.Nil {
		return 0, 0, false, nil
	}
	if err != nil {
		return 0, 0, false, err
	}
	score, err := r.client.ZScore(ctx, key, member).Result()
	if err != nil {
		return 0, 0, false, err
	}
	return int(rank), score, true, nil
}

func (r *RedisEphemeralStore) Publish(ctx context.Context, channel, payload string) error {
	return r.client.Publish(ctx, channel, payload).Err()
}

func (r *RedisEphemeralStore) Subscribe(ctx context.Context, channel string) (<-chan string, func(), error) {
	sub := r.client.Subscribe(ctx, channel)
	out := make(chan string, 16)
	go func() {
		defer close(out)
		ch := sub.Channel()
		for msg := range ch {
			select {
			case out <- msg.Payload:
			case <-ctx.Done():
				return
			}
		}
	}()
	cancel := func() { _ = sub.Close() }
	return out, cancel, nil
}

func (r *RedisEphemeralStore) Close() error { return r.client.Close() }

func ttlDuration(ttlMs int64) time.Duration {
	if ttlMs <= 0 {
		return 0
	}
	return time.Duration(ttlMs) * time.Millisecond
}
