// Package store defines the storage substrate the kernel is built on: an
// external key-value store offering hash maps, sorted sets, lists, sets,
// string keys with TTLs, and a pub/sub channel. The kernel (package
// internal/kernel) never reaches past this interface, so it can run
// against a real Redis deployment (package redisstore) or an in-memory
// stand-in (package memory) without caring which.
package store

import "context"

// ZMember is one entry of a sorted set: a member string ordered first by
// Score ascending, then lexicographically by Member on ties.
type ZMember struct {
	Member string
	Score  float64
}

// Store is the set of primitives the kernel's atomic operations compose.
// Every method is expected to execute synchronously against the
// substrate; the kernel is responsible for serializing calls so that a
// single kernel operation appears atomic (see internal/kernel.Kernel).
type Store interface {
	// Hash
	HGet(ctx context.Context, key, field string) (string, bool, error)
	HGetAll(ctx context.Context, key string) (map[string]string, error)
	HSet(ctx context.Context, key string, fields map[string]string) error
	HDel(ctx context.Context, key string, fields ...string) error

	// Sorted set, ordered by score asc then member lexicographically.
	ZAdd(ctx context.Context, key string, score float64, member string) error
	ZRem(ctx context.Context, key string, members ...string) error
	ZScore(ctx context.Context, key, member string) (float64, bool, error)
	// ZRangeByScore returns members with score in [min, max], ascending,
	// skipping offset and returning at most count (count<0 means all).
	ZRangeByScore(ctx context.Context, key string, min, max float64, offset, count int) ([]ZMember, error)
	// ZRange returns the whole sorted set ascending by score.
	ZRange(ctx context.Context, key string) ([]ZMember, error)
	ZCard(ctx context.Context, key string) (int64, error)

	// Set
	SAdd(ctx context.Context, key string, members ...string) error
	SRem(ctx context.Context, key string, members ...string) error
	SMembers(ctx context.Context, key string) ([]string, error)
	SIsMember(ctx context.Context, key, member string) (bool, error)
	SCard(ctx context.Context, key string) (int64, error)

	// List (used for throttle pending FIFOs): RPush to enqueue,
	// LPop/LRem to dequeue/remove.
	RPush(ctx context.Context, key string, values ...string) error
	LPop(ctx context.Context, key string) (string, bool, error)
	LRem(ctx context.Context, key string, value string) error
	LRange(ctx context.Context, key string, offset, count int) ([]string, error)
	LLen(ctx context.Context, key string) (int64, error)

	// String with optional TTL (ttlSeconds<=0 means no expiry).
	Set(ctx context.Context, key, value string, ttlSeconds int64) error
	Get(ctx context.Context, key string) (string, bool, error)
	// TTL returns remaining seconds, -1 if no TTL is set, -2 if the key
	// does not exist (mirrors Redis TTL semantics). The kernel's
	// throttle.ttl does not call it: throttle expiry lives in the
	// throttle hash's expireAt field.
	TTL(ctx context.Context, key string) (int64, error)

	// Del removes arbitrary keys (hash, set, zset, list or string).
	Del(ctx context.Context, keys ...string) error

	// Publish fires a pub/sub message; delivery is fire-and-forget, no
	// subscriber is required for Publish to succeed.
	Publish(ctx context.Context, channel, payload string) error
}
