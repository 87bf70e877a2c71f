// Package redisstore backs store.Store with a real Redis connection,
// the way internal/clients/redis.sseBus backs the teacher's SSE fan-out:
// a thin wrapper over *redis.Client translating store.Store calls into
// the matching Redis commands, plus Publish for the event bus. It has
// no subscribe side.
package redisstore

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"github.com/reqless-go/reqless/internal/pkg/logger"
	"github.com/reqless-go/reqless/internal/store"
)

type Store struct {
	log *logger.Logger
	rdb *goredis.Client
	sf  singleflight.Group
}

// New dials addr and pings it once before returning, mirroring
// NewSSEBus's synchronous Ping-on-construct pattern.
func New(addr string, log *logger.Logger) (*Store, error) {
	if addr == "" {
		return nil, fmt.Errorf("redisstore: missing addr")
	}
	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redisstore: ping: %w", err)
	}
	if log == nil {
		log = logger.Noop()
	}
	return &Store{log: log.With("component", "redisstore"), rdb: rdb}, nil
}

// Warm pings the connection, deduplicating concurrent callers via
// singleflight the way multiple kernels sharing one client would.
func (s *Store) Warm(ctx context.Context) error {
	_, err, _ := s.sf.Do("ping", func() (interface{}, error) {
		return nil, s.rdb.Ping(ctx).Err()
	})
	return err
}

func (s *Store) Close() error { return s.rdb.Close() }

func (s *Store) HGet(ctx context.Context, key, field string) (string, bool, error) {
	v, err := s.rdb.HGet(ctx, key, field).Result()
	if err == goredis.Nil {
		return "", false, nil
	}
	return v, err == nil, err
}

func (s *Store) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	return s.rdb.HGetAll(ctx, key).Result()
}

func (s *Store) HSet(ctx context.Context, key string, fields map[string]string) error {
	if len(fields) == 0 {
		return nil
	}
	args := make([]interface{}, 0, len(fields)*2)
	for k, v := range fields {
		args = append(args, k, v)
	}
	return s.rdb.HSet(ctx, key, args...).Err()
}

func (s *Store) HDel(ctx context.Context, key string, fields ...string) error {
	if len(fields) == 0 {
		return nil
	}
	return s.rdb.HDel(ctx, key, fields...).Err()
}

func (s *Store) ZAdd(ctx context.Context, key string, score float64, member string) error {
	return s.rdb.ZAdd(ctx, key, goredis.Z{Score: score, Member: member}).Err()
}

func (s *Store) ZRem(ctx context.Context, key string, members ...string) error {
	if len(members) == 0 {
		return nil
	}
	args := make([]interface{}, len(members))
	for i, m := range members {
		args[i] = m
	}
	return s.rdb.ZRem(ctx, key, args...).Err()
}

func (s *Store) ZScore(ctx context.Context, key, member string) (float64, bool, error) {
	v, err := s.rdb.ZScore(ctx, key, member).Result()
	if err == goredis.Nil {
		return 0, false, nil
	}
	return v, err == nil, err
}

func (s *Store) ZRangeByScore(ctx context.Context, key string, min, max float64, offset, count int) ([]store.ZMember, error) {
	if count == 0 {
		return []store.ZMember{}, nil
	}
	opt := &goredis.ZRangeBy{
		Min:    fmt.Sprintf("%v", min),
		Max:    fmt.Sprintf("%v", max),
		Offset: int64(offset),
	}
	if count >= 0 {
		opt.Count = int64(count)
	} else {
		opt.Count = -1
	}
	zs, err := s.rdb.ZRangeByScoreWithScores(ctx, key, opt).Result()
	if err != nil {
		return nil, err
	}
	return toMembers(zs), nil
}

func (s *Store) ZRange(ctx context.Context, key string) ([]store.ZMember, error) {
	zs, err := s.rdb.ZRangeWithScores(ctx, key, 0, -1).Result()
	if err != nil {
		return nil, err
	}
	return toMembers(zs), nil
}

func toMembers(zs []goredis.Z) []store.ZMember {
	out := make([]store.ZMember, len(zs))
	for i, z := range zs {
		out[i] = store.ZMember{Member: fmt.Sprint(z.Member), Score: z.Score}
	}
	return out
}

func (s *Store) ZCard(ctx context.Context, key string) (int64, error) {
	return s.rdb.ZCard(ctx, key).Result()
}

func (s *Store) SAdd(ctx context.Context, key string, members ...string) error {
	if len(members) == 0 {
		return nil
	}
	args := make([]interface{}, len(members))
	for i, m := range members {
		args[i] = m
	}
	return s.rdb.SAdd(ctx, key, args...).Err()
}

func (s *Store) SRem(ctx context.Context, key string, members ...string) error {
	if len(members) == 0 {
		return nil
	}
	args := make([]interface{}, len(members))
	for i, m := range members {
		args[i] = m
	}
	return s.rdb.SRem(ctx, key, args...).Err()
}

func (s *Store) SMembers(ctx context.Context, key string) ([]string, error) {
	return s.rdb.SMembers(ctx, key).Result()
}

func (s *Store) SIsMember(ctx context.Context, key, member string) (bool, error) {
	return s.rdb.SIsMember(ctx, key, member).Result()
}

func (s *Store) SCard(ctx context.Context, key string) (int64, error) {
	return s.rdb.SCard(ctx, key).Result()
}

func (s *Store) RPush(ctx context.Context, key string, values ...string) error {
	if len(values) == 0 {
		return nil
	}
	args := make([]interface{}, len(values))
	for i, v := range values {
		args[i] = v
	}
	return s.rdb.RPush(ctx, key, args...).Err()
}

func (s *Store) LPop(ctx context.Context, key string) (string, bool, error) {
	v, err := s.rdb.LPop(ctx, key).Result()
	if err == goredis.Nil {
		return "", false, nil
	}
	return v, err == nil, err
}

func (s *Store) LRem(ctx context.Context, key string, value string) error {
	return s.rdb.LRem(ctx, key, 1, value).Err()
}

func (s *Store) LRange(ctx context.Context, key string, offset, count int) ([]string, error) {
	if count < 0 {
		return s.rdb.LRange(ctx, key, int64(offset), -1).Result()
	}
	return s.rdb.LRange(ctx, key, int64(offset), int64(offset+count-1)).Result()
}

func (s *Store) LLen(ctx context.Context, key string) (int64, error) {
	return s.rdb.LLen(ctx, key).Result()
}

func (s *Store) Set(ctx context.Context, key, value string, ttlSeconds int64) error {
	var ttl time.Duration
	if ttlSeconds > 0 {
		ttl = time.Duration(ttlSeconds) * time.Second
	}
	return s.rdb.Set(ctx, key, value, ttl).Err()
}

func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := s.rdb.Get(ctx, key).Result()
	if err == goredis.Nil {
		return "", false, nil
	}
	return v, err == nil, err
}

func (s *Store) TTL(ctx context.Context, key string) (int64, error) {
	d, err := s.rdb.TTL(ctx, key).Result()
	if err != nil {
		return 0, err
	}
	if d == -2 {
		return -2, nil
	}
	if d < 0 {
		return -1, nil
	}
	return int64(d.Seconds()), nil
}

func (s *Store) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return s.rdb.Del(ctx, keys...).Err()
}

func (s *Store) Publish(ctx context.Context, channel, payload string) error {
	return s.rdb.Publish(ctx, channel, payload).Err()
}

var _ store.Store = (*Store)(nil)
