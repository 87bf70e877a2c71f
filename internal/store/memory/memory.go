// Package memory provides a deterministic, in-process implementation of
// store.Store for tests and for embedding the kernel in a single process
// without a real Redis. It is not meant to be concurrency-safe on its
// own; internal/kernel.Kernel serializes access with its own mutex, the
// same "single-threaded cooperative" model described by the kernel's
// concurrency section.
package memory

import (
	"context"
	"sort"

	"github.com/reqless-go/reqless/internal/store"
)

type zset map[string]float64

type Store struct {
	hashes map[string]map[string]string
	zsets  map[string]zset
	sets   map[string]map[string]struct{}
	lists  map[string][]string
	strs   map[string]string
	ttls   map[string]int64 // absolute unix-ish deadline not tracked; TTL() reports as set

	published []Published
}

// Published records a Publish call; exposed for tests that assert on the
// event bus's output without standing up a real subscriber.
type Published struct {
	Channel string
	Payload string
}

func New() *Store {
	return &Store{
		hashes: map[string]map[string]string{},
		zsets:  map[string]zset{},
		sets:   map[string]map[string]struct{}{},
		lists:  map[string][]string{},
		strs:   map[string]string{},
		ttls:   map[string]int64{},
	}
}

// Published returns a copy of every message Publish has recorded, in
// call order. Intended for assertions in kernel tests.
func (s *Store) Published() []Published {
	out := make([]Published, len(s.published))
	copy(out, s.published)
	return out
}

func (s *Store) ClearPublished() { s.published = nil }

func (s *Store) HGet(_ context.Context, key, field string) (string, bool, error) {
	h, ok := s.hashes[key]
	if !ok {
		return "", false, nil
	}
	v, ok := h[field]
	return v, ok, nil
}

func (s *Store) HGetAll(_ context.Context, key string) (map[string]string, error) {
	h, ok := s.hashes[key]
	if !ok {
		return map[string]string{}, nil
	}
	out := make(map[string]string, len(h))
	for k, v := range h {
		out[k] = v
	}
	return out, nil
}

func (s *Store) HSet(_ context.Context, key string, fields map[string]string) error {
	h, ok := s.hashes[key]
	if !ok {
		h = map[string]string{}
		s.hashes[key] = h
	}
	for k, v := range fields {
		h[k] = v
	}
	return nil
}

func (s *Store) HDel(_ context.Context, key string, fields ...string) error {
	h, ok := s.hashes[key]
	if !ok {
		return nil
	}
	for _, f := range fields {
		delete(h, f)
	}
	if len(h) == 0 {
		delete(s.hashes, key)
	}
	return nil
}

func (s *Store) ZAdd(_ context.Context, key string, score float64, member string) error {
	z, ok := s.zsets[key]
	if !ok {
		z = zset{}
		s.zsets[key] = z
	}
	z[member] = score
	return nil
}

func (s *Store) ZRem(_ context.Context, key string, members ...string) error {
	z, ok := s.zsets[key]
	if !ok {
		return nil
	}
	for _, m := range members {
		delete(z, m)
	}
	if len(z) == 0 {
		delete(s.zsets, key)
	}
	return nil
}

func (s *Store) ZScore(_ context.Context, key, member string) (float64, bool, error) {
	z, ok := s.zsets[key]
	if !ok {
		return 0, false, nil
	}
	sc, ok := z[member]
	return sc, ok, nil
}

func sortedMembers(z zset) []store.ZMember {
	out := make([]store.ZMember, 0, len(z))
	for m, sc := range z {
		out = append(out, store.ZMember{Member: m, Score: sc})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score < out[j].Score
		}
		return out[i].Member < out[j].Member
	})
	return out
}

func (s *Store) ZRangeByScore(_ context.Context, key string, min, max float64, offset, count int) ([]store.ZMember, error) {
	z, ok := s.zsets[key]
	if !ok {
		return nil, nil
	}
	all := sortedMembers(z)
	filtered := make([]store.ZMember, 0, len(all))
	for _, m := range all {
		if m.Score >= min && m.Score <= max {
			filtered = append(filtered, m)
		}
	}
	return paginate(filtered, offset, count), nil
}

func (s *Store) ZRange(_ context.Context, key string) ([]store.ZMember, error) {
	z, ok := s.zsets[key]
	if !ok {
		return nil, nil
	}
	return sortedMembers(z), nil
}

func paginate(all []store.ZMember, offset, count int) []store.ZMember {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(all) {
		return nil
	}
	end := len(all)
	if count >= 0 && offset+count < end {
		end = offset + count
	}
	out := make([]store.ZMember, end-offset)
	copy(out, all[offset:end])
	return out
}

func (s *Store) ZCard(_ context.Context, key string) (int64, error) {
	return int64(len(s.zsets[key])), nil
}

func (s *Store) SAdd(_ context.Context, key string, members ...string) error {
	set, ok := s.sets[key]
	if !ok {
		set = map[string]struct{}{}
		s.sets[key] = set
	}
	for _, m := range members {
		set[m] = struct{}{}
	}
	return nil
}

func (s *Store) SRem(_ context.Context, key string, members ...string) error {
	set, ok := s.sets[key]
	if !ok {
		return nil
	}
	for _, m := range members {
		delete(set, m)
	}
	if len(set) == 0 {
		delete(s.sets, key)
	}
	return nil
}

func (s *Store) SMembers(_ context.Context, key string) ([]string, error) {
	set, ok := s.sets[key]
	if !ok {
		return nil, nil
	}
	out := make([]string, 0, len(set))
	for m := range set {
		out = append(out, m)
	}
	sort.Strings(out)
	return out, nil
}

func (s *Store) SIsMember(_ context.Context, key, member string) (bool, error) {
	set, ok := s.sets[key]
	if !ok {
		return false, nil
	}
	_, ok = set[member]
	return ok, nil
}

func (s *Store) SCard(_ context.Context, key string) (int64, error) {
	return int64(len(s.sets[key])), nil
}

func (s *Store) RPush(_ context.Context, key string, values ...string) error {
	s.lists[key] = append(s.lists[key], values...)
	return nil
}

func (s *Store) LPop(_ context.Context, key string) (string, bool, error) {
	l, ok := s.lists[key]
	if !ok || len(l) == 0 {
		return "", false, nil
	}
	v := l[0]
	s.lists[key] = l[1:]
	if len(s.lists[key]) == 0 {
		delete(s.lists, key)
	}
	return v, true, nil
}

func (s *Store) LRem(_ context.Context, key string, value string) error {
	l, ok := s.lists[key]
	if !ok {
		return nil
	}
	out := l[:0:0]
	removed := false
	for _, v := range l {
		if !removed && v == value {
			removed = true
			continue
		}
		out = append(out, v)
	}
	if len(out) == 0 {
		delete(s.lists, key)
	} else {
		s.lists[key] = out
	}
	return nil
}

func (s *Store) LRange(_ context.Context, key string, offset, count int) ([]string, error) {
	l, ok := s.lists[key]
	if !ok {
		return nil, nil
	}
	if offset < 0 {
		offset = 0
	}
	if offset >= len(l) {
		return nil, nil
	}
	end := len(l)
	if count >= 0 && offset+count < end {
		end = offset + count
	}
	out := make([]string, end-offset)
	copy(out, l[offset:end])
	return out, nil
}

func (s *Store) LLen(_ context.Context, key string) (int64, error) {
	return int64(len(s.lists[key])), nil
}

func (s *Store) Set(_ context.Context, key, value string, ttlSeconds int64) error {
	s.strs[key] = value
	if ttlSeconds > 0 {
		s.ttls[key] = ttlSeconds
	} else {
		delete(s.ttls, key)
	}
	return nil
}

func (s *Store) Get(_ context.Context, key string) (string, bool, error) {
	v, ok := s.strs[key]
	return v, ok, nil
}

func (s *Store) TTL(_ context.Context, key string) (int64, error) {
	_, isStr := s.strs[key]
	_, isHash := s.hashes[key]
	_, isZset := s.zsets[key]
	_, isSet := s.sets[key]
	_, isList := s.lists[key]
	if !isStr && !isHash && !isZset && !isSet && !isList {
		return -2, nil
	}
	if ttl, ok := s.ttls[key]; ok {
		return ttl, nil
	}
	return -1, nil
}

func (s *Store) Del(_ context.Context, keys ...string) error {
	for _, k := range keys {
		delete(s.hashes, k)
		delete(s.zsets, k)
		delete(s.sets, k)
		delete(s.lists, k)
		delete(s.strs, k)
		delete(s.ttls, k)
	}
	return nil
}

func (s *Store) Publish(_ context.Context, channel, payload string) error {
	s.published = append(s.published, Published{Channel: channel, Payload: payload})
	return nil
}

var _ store.Store = (*Store)(nil)
