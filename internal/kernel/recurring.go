package kernel

import (
	"context"
	"fmt"
	"math"
)

// RecurringTemplate is the spec §3 "Recurring template" entity.
type RecurringTemplate struct {
	Jid       string   `json:"jid"`
	Queue     string   `json:"queue"`
	Klass     string   `json:"klass"`
	Data      string   `json:"data"`
	Interval  float64  `json:"interval"`
	Retries   int      `json:"retries"`
	Priority  int      `json:"priority"`
	Backlog   int      `json:"backlog"`
	Tags      []string `json:"tags"`
	Throttles []string `json:"throttles"`
	Count     int64    `json:"count"`
}

func (k *Kernel) loadRecurring(ctx context.Context, jid string) (*RecurringTemplate, bool, error) {
	raw, ok, err := k.store.Get(ctx, recurringKey(jid))
	if err != nil || !ok {
		return nil, false, err
	}
	var t RecurringTemplate
	if err := fromJSON(raw, &t); err != nil {
		return nil, false, err
	}
	return &t, true, nil
}

func (k *Kernel) saveRecurring(ctx context.Context, t *RecurringTemplate) error {
	return k.store.Set(ctx, recurringKey(t.Jid), toJSON(t), 0)
}

// RecurAtIntervalOptions carries the optional attributes of
// queue.recurAtInterval (spec §4.5).
type RecurAtIntervalOptions struct {
	Tags      []string
	Priority  int
	Retries   int
	Backlog   int
	Throttles []string
}

// recurAtInterval creates (or replaces) a recurring template. Score in
// the queue's recurring sub-store is now+offset; re-invocation with the
// same jid updates attributes without resetting the spawn counter, and
// migrates the template to a new queue's recurring index if the queue
// changed (spec §4.5).
func (k *Kernel) recurAtInterval(ctx context.Context, ob *outbox, now float64, queue, jid, klass, data string, interval, offset float64, opts RecurAtIntervalOptions) (*RecurringTemplate, error) {
	if interval <= 0 {
		return nil, fErr(ErrMalformedArgs, "interval must be positive")
	}
	existing, ok, err := k.loadRecurring(ctx, jid)
	if err != nil {
		return nil, err
	}
	retries := opts.Retries
	if retries == 0 {
		retries = 5
	}
	t := &RecurringTemplate{
		Jid:       jid,
		Queue:     queue,
		Klass:     klass,
		Data:      data,
		Interval:  interval,
		Retries:   retries,
		Priority:  opts.Priority,
		Backlog:   opts.Backlog,
		Tags:      append([]string{}, opts.Tags...),
		Throttles: reconcileImplicitThrottle(opts.Throttles, queue),
	}
	if ok {
		t.Count = existing.Count
		if existing.Queue != queue {
			if err := k.store.ZRem(ctx, queueRecurringKey(existing.Queue), jid); err != nil {
				return nil, err
			}
		}
	}
	if err := k.saveRecurring(ctx, t); err != nil {
		return nil, err
	}
	if err := k.store.ZAdd(ctx, queueRecurringKey(queue), now+offset, jid); err != nil {
		return nil, err
	}
	if err := k.registerQueue(ctx, queue); err != nil {
		return nil, err
	}
	if ob != nil {
		ob.log("recur", map[string]interface{}{"jid": jid, "queue": queue})
	}
	return t, nil
}

func (k *Kernel) recurringCancel(ctx context.Context, jid string) error {
	t, ok, err := k.loadRecurring(ctx, jid)
	if err != nil || !ok {
		return nil
	}
	if err := k.store.ZRem(ctx, queueRecurringKey(t.Queue), jid); err != nil {
		return err
	}
	return k.store.Del(ctx, recurringKey(jid))
}

func (k *Kernel) recurringAddTag(ctx context.Context, jid, tag string) error {
	t, ok, err := k.loadRecurring(ctx, jid)
	if err != nil {
		return err
	}
	if !ok {
		return errJobNotFound(jid)
	}
	t.Tags = addStringSorted(t.Tags, tag)
	return k.saveRecurring(ctx, t)
}

func (k *Kernel) recurringRemoveTag(ctx context.Context, jid, tag string) error {
	t, ok, err := k.loadRecurring(ctx, jid)
	if err != nil {
		return err
	}
	if !ok {
		return errJobNotFound(jid)
	}
	t.Tags = removeString(t.Tags, tag)
	return k.saveRecurring(ctx, t)
}

// expandRecurring spawns child jobs for every recurring template in
// queue whose next-spawn time has arrived (spec §4.5 "Expansion happens
// lazily inside queue.peek and queue.pop"). It's invoked at the start of
// both peek and pop, before candidate selection.
func (k *Kernel) expandRecurring(ctx context.Context, ob *outbox, now float64, queue string) error {
	due, err := k.store.ZRangeByScore(ctx, queueRecurringKey(queue), math.Inf(-1), now, 0, -1)
	if err != nil {
		return err
	}
	for _, m := range due {
		if err := k.expandOneRecurring(ctx, ob, now, queue, m.Member, m.Score); err != nil {
			return err
		}
	}
	return nil
}

func (k *Kernel) expandOneRecurring(ctx context.Context, ob *outbox, now float64, queue, jid string, nextSpawn float64) error {
	t, ok, err := k.loadRecurring(ctx, jid)
	if err != nil || !ok {
		return err
	}
	missed := int64((now-nextSpawn)/t.Interval) + 1
	spawnCount := missed
	if t.Backlog > 0 && spawnCount > int64(t.Backlog) {
		spawnCount = int64(t.Backlog)
	}
	spawnAt := nextSpawn
	for i := int64(0); i < spawnCount; i++ {
		t.Count++
		childJid := fmt.Sprintf("%s-%d", t.Jid, t.Count)
		child := newJob(childJid)
		child.Klass = t.Klass
		child.Data = t.Data
		child.Queue = queue
		child.State = StateWaiting
		child.Priority = t.Priority
		child.Tags = append([]string{}, t.Tags...)
		child.Throttles = reconcileImplicitThrottle(t.Throttles, queue)
		child.Retries = t.Retries
		child.Remaining = t.Retries
		child.SpawnedFromJid = t.Jid
		child.History = appendHistory(child.History, HistoryEntry{What: "put", When: spawnAt, Queue: queue}, 100)
		if err := k.saveJob(ctx, child); err != nil {
			return err
		}
		if err := k.addToWaiting(ctx, queue, childJid, child.Priority, spawnAt); err != nil {
			return err
		}
		if err := k.syncTagIndex(ctx, spawnAt, childJid, nil, child.Tags); err != nil {
			return err
		}
		if ob != nil {
			ob.jid(chanPut, childJid)
		}
		spawnAt += t.Interval
	}
	newScore := nextSpawn + float64(spawnCount)*t.Interval
	if err := k.saveRecurring(ctx, t); err != nil {
		return err
	}
	return k.store.ZAdd(ctx, queueRecurringKey(queue), newScore, jid)
}
