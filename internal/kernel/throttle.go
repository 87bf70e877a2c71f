package kernel

import (
	"context"
	"strconv"
)

// Throttle is the materialized view returned by throttle.get.
type Throttle struct {
	ID      string `json:"id"`
	Maximum int    `json:"maximum"`
	TTL     int64  `json:"ttl"`
}

func (k *Kernel) throttleMaximum(ctx context.Context, now float64, id string) (int, error) {
	fields, err := k.store.HGetAll(ctx, throttleKey(id))
	if err != nil {
		return 0, err
	}
	if len(fields) == 0 {
		return 0, nil
	}
	if expireAtStr, ok := fields["expireAt"]; ok {
		expireAt, _ := strconv.ParseFloat(expireAtStr, 64)
		if expireAt > 0 && now >= expireAt {
			// TTL elapsed: spec §4.3 "implicitly maximum=0 after expiry".
			return 0, nil
		}
	}
	max, _ := strconv.Atoi(fields["maximum"])
	return max, nil
}

func (k *Kernel) throttleGet(ctx context.Context, now float64, id string) (*Throttle, error) {
	fields, err := k.store.HGetAll(ctx, throttleKey(id))
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return &Throttle{ID: id, Maximum: 0, TTL: -2}, nil
	}
	max, _ := strconv.Atoi(fields["maximum"])
	ttl := int64(-1)
	if expireAtStr, ok := fields["expireAt"]; ok {
		expireAt, _ := strconv.ParseFloat(expireAtStr, 64)
		if expireAt > 0 {
			remaining := int64(expireAt - now)
			if remaining < 0 {
				remaining = 0
			}
			ttl = remaining
		}
	}
	return &Throttle{ID: id, Maximum: max, TTL: ttl}, nil
}

// throttleSet creates or replaces a throttle record. The TTL deadline is
// tracked as an absolute "expireAt" hash field evaluated against the
// kernel's own logical `now` rather than the store's physical TTL,
// since every kernel operation must stay deterministic under an
// injected clock.
func (k *Kernel) throttleSet(ctx context.Context, now float64, id string, maximum int, ttlSeconds int64) error {
	fields := map[string]string{"maximum": strconv.Itoa(maximum)}
	if ttlSeconds > 0 {
		fields["ttl"] = strconv.FormatInt(ttlSeconds, 10)
		fields["expireAt"] = strconv.FormatFloat(now+float64(ttlSeconds), 'f', -1, 64)
	} else {
		fields["ttl"] = "0"
		fields["expireAt"] = "0"
	}
	return k.store.HSet(ctx, throttleKey(id), fields)
}

func (k *Kernel) throttleDelete(ctx context.Context, id string) error {
	return k.store.Del(ctx, throttleKey(id), throttleLocksKey(id), throttlePendingKey(id))
}

func (k *Kernel) throttleLocks(ctx context.Context, id string) ([]string, error) {
	return k.store.SMembers(ctx, throttleLocksKey(id))
}

func (k *Kernel) throttlePending(ctx context.Context, id string) ([]string, error) {
	return k.store.LRange(ctx, throttlePendingKey(id), 0, -1)
}

// throttleRelease is the cleanup API (spec §4.3 "release(id, jids...)"):
// removes the listed jids from both locks and pending, regardless of
// worker identity.
func (k *Kernel) throttleRelease(ctx context.Context, id string, jids ...string) error {
	if err := k.store.SRem(ctx, throttleLocksKey(id), jids...); err != nil {
		return err
	}
	for _, jid := range jids {
		if err := k.store.LRem(ctx, throttlePendingKey(id), jid); err != nil {
			return err
		}
	}
	return nil
}

// isUnlimited reports whether a throttle id, given its configured
// maximum, should never block acquisition: the implicit per-queue
// throttle defaults to unlimited at maximum=0, while a named throttle
// at maximum=0 is jammed (spec §4.3; this reading resolves design-notes
// open question 1 directly from the body text rather than guessing —
// see DESIGN.md).
func isUnlimited(id string, maximum int) bool {
	if maximum > 0 {
		return false
	}
	return isImplicitQueueThrottle(id)
}

func isImplicitQueueThrottle(id string) bool {
	return len(id) > len("ql:q:") && id[:len("ql:q:")] == "ql:q:"
}

// tryAcquireAll attempts to acquire every throttle in throttles for jid,
// all-or-nothing (spec §4.3 "Acquisition is all-or-nothing per job
// across its throttles list; partial acquisition rolls back"). On
// failure it returns the id of the throttle that denied acquisition and
// enqueues jid onto that throttle's pending FIFO (if not already
// present). A throttle jid already holds a lock on (e.g. a stalled job
// being re-popped: stallSweep moves it to stalled without releasing its
// throttles) is treated as already-acquired rather than counted against
// its own capacity, or re-popping it would deadlock against itself.
func (k *Kernel) tryAcquireAll(ctx context.Context, now float64, jid string, throttles []string) (ok bool, blockedOn string, err error) {
	acquired := make([]string, 0, len(throttles))
	for _, id := range throttles {
		max, err := k.throttleMaximum(ctx, now, id)
		if err != nil {
			return false, "", err
		}
		if isUnlimited(id, max) {
			acquired = append(acquired, id)
			if err := k.store.SAdd(ctx, throttleLocksKey(id), jid); err != nil {
				return false, "", err
			}
			continue
		}
		alreadyHeld, err := k.store.SIsMember(ctx, throttleLocksKey(id), jid)
		if err != nil {
			return false, "", err
		}
		if alreadyHeld {
			acquired = append(acquired, id)
			continue
		}
		held, err := k.store.SCard(ctx, throttleLocksKey(id))
		if err != nil {
			return false, "", err
		}
		if int(held) >= max {
			for _, a := range acquired {
				if err := k.store.SRem(ctx, throttleLocksKey(a), jid); err != nil {
					return false, "", err
				}
			}
			pending, err := k.throttlePending(ctx, id)
			if err != nil {
				return false, "", err
			}
			if !containsString(pending, jid) {
				if err := k.store.RPush(ctx, throttlePendingKey(id), jid); err != nil {
					return false, "", err
				}
			}
			return false, id, nil
		}
		if err := k.store.SAdd(ctx, throttleLocksKey(id), jid); err != nil {
			return false, "", err
		}
		acquired = append(acquired, id)
	}
	return true, "", nil
}

// releaseThrottles releases jid from the locks and pending FIFOs of
// every throttle it cites (spec §4.1 "Releases throttles held by jid").
func (k *Kernel) releaseThrottles(ctx context.Context, jid string, throttles []string) error {
	for _, id := range throttles {
		if err := k.store.SRem(ctx, throttleLocksKey(id), jid); err != nil {
			return err
		}
		if err := k.store.LRem(ctx, throttlePendingKey(id), jid); err != nil {
			return err
		}
	}
	return nil
}

// reconcileImplicitThrottle returns throttles carrying exactly the
// current queue's implicit per-queue throttle id that spec §4.1 always
// appends on put: any stale implicit throttle left over from a previous
// queue is dropped, and the current queue's id is appended if missing.
func reconcileImplicitThrottle(throttles []string, queue string) []string {
	implicit := implicitThrottleID(queue)
	out := make([]string, 0, len(throttles)+1)
	for _, t := range throttles {
		if isImplicitQueueThrottle(t) && t != implicit {
			continue
		}
		out = append(out, t)
	}
	if !containsString(out, implicit) {
		out = append(out, implicit)
	}
	return out
}
