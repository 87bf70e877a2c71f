package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/reqless-go/reqless/internal/store"
)

func TestHashRoundTrip(t *testing.T) {
	s := New()
	ctx := context.Background()

	require.NoError(t, s.HSet(ctx, "h", map[string]string{"a": "1", "b": "2"}))
	v, ok, err := s.HGet(ctx, "h", "a")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "1", v)

	all, err := s.HGetAll(ctx, "h")
	require.NoError(t, err)
	require.Equal(t, map[string]string{"a": "1", "b": "2"}, all)

	require.NoError(t, s.HDel(ctx, "h", "a"))
	_, ok, err = s.HGet(ctx, "h", "a")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestZSetOrderingAndPagination(t *testing.T) {
	s := New()
	ctx := context.Background()

	require.NoError(t, s.ZAdd(ctx, "z", 3, "c"))
	require.NoError(t, s.ZAdd(ctx, "z", 1, "a"))
	require.NoError(t, s.ZAdd(ctx, "z", 2, "b"))

	all, err := s.ZRange(ctx, "z")
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b", "c"}, membersOf(all))

	page, err := s.ZRangeByScore(ctx, "z", 2, 3, 0, 1)
	require.NoError(t, err)
	require.Equal(t, []string{"b"}, membersOf(page))

	card, err := s.ZCard(ctx, "z")
	require.NoError(t, err)
	require.Equal(t, int64(3), card)

	require.NoError(t, s.ZRem(ctx, "z", "b"))
	all, err = s.ZRange(ctx, "z")
	require.NoError(t, err)
	require.Equal(t, []string{"a", "c"}, membersOf(all))
}

func TestSetMembership(t *testing.T) {
	s := New()
	ctx := context.Background()

	require.NoError(t, s.SAdd(ctx, "s", "x", "y"))
	ok, err := s.SIsMember(ctx, "s", "x")
	require.NoError(t, err)
	require.True(t, ok)

	card, err := s.SCard(ctx, "s")
	require.NoError(t, err)
	require.Equal(t, int64(2), card)

	require.NoError(t, s.SRem(ctx, "s", "x"))
	members, err := s.SMembers(ctx, "s")
	require.NoError(t, err)
	require.Equal(t, []string{"y"}, members)
}

func TestListFIFO(t *testing.T) {
	s := New()
	ctx := context.Background()

	require.NoError(t, s.RPush(ctx, "l", "1", "2", "3"))
	v, ok, err := s.LPop(ctx, "l")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "1", v)

	require.NoError(t, s.LRem(ctx, "l", "3"))
	remaining, err := s.LRange(ctx, "l", 0, -1)
	require.NoError(t, err)
	require.Equal(t, []string{"2"}, remaining)
}

func TestStringAndTTL(t *testing.T) {
	s := New()
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "k", "v", 0))
	v, ok, err := s.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "v", v)

	ttl, err := s.TTL(ctx, "k")
	require.NoError(t, err)
	require.Equal(t, int64(-1), ttl)

	ttl, err = s.TTL(ctx, "missing")
	require.NoError(t, err)
	require.Equal(t, int64(-2), ttl)

	require.NoError(t, s.Del(ctx, "k"))
	_, ok, err = s.Get(ctx, "k")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestPublishRecordsAndClears(t *testing.T) {
	s := New()
	ctx := context.Background()

	require.NoError(t, s.Publish(ctx, "chan", "payload"))
	require.Len(t, s.Published(), 1)
	require.Equal(t, "chan", s.Published()[0].Channel)

	s.ClearPublished()
	require.Empty(t, s.Published())
}

func membersOf(ms []store.ZMember) []string {
	out := make([]string, len(ms))
	for i, m := range ms {
		out[i] = m.Member
	}
	return out
}
