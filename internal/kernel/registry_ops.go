package kernel

import "context"

// ThrottleSet implements throttle.set.
func (k *Kernel) ThrottleSet(ctx context.Context, now float64, id string, maximum int, ttlSeconds int64) error {
	_, err := op(k, ctx, "throttle.set", func(ctx context.Context, _ *outbox) (struct{}, error) {
		return struct{}{}, k.throttleSet(ctx, now, id, maximum, ttlSeconds)
	})
	return err
}

// ThrottleGet implements throttle.get.
func (k *Kernel) ThrottleGet(ctx context.Context, now float64, id string) (*Throttle, error) {
	return op(k, ctx, "throttle.get", func(ctx context.Context, _ *outbox) (*Throttle, error) {
		return k.throttleGet(ctx, now, id)
	})
}

// ThrottleTTL implements throttle.ttl: the seconds remaining before id's
// configured maximum reverts to its expiry default, -1 if it never
// expires, or -2 if id has no record (spec §4.3).
func (k *Kernel) ThrottleTTL(ctx context.Context, now float64, id string) (int64, error) {
	return op(k, ctx, "throttle.ttl", func(ctx context.Context, _ *outbox) (int64, error) {
		t, err := k.throttleGet(ctx, now, id)
		if err != nil {
			return 0, err
		}
		return t.TTL, nil
	})
}

// ThrottleDelete implements throttle.delete.
func (k *Kernel) ThrottleDelete(ctx context.Context, id string) error {
	_, err := op(k, ctx, "throttle.delete", func(ctx context.Context, _ *outbox) (struct{}, error) {
		return struct{}{}, k.throttleDelete(ctx, id)
	})
	return err
}

// ThrottleLocks implements throttle.locks.
func (k *Kernel) ThrottleLocks(ctx context.Context, id string) ([]string, error) {
	return op(k, ctx, "throttle.locks", func(ctx context.Context, _ *outbox) ([]string, error) {
		return k.throttleLocks(ctx, id)
	})
}

// ThrottlePending implements throttle.pending.
func (k *Kernel) ThrottlePending(ctx context.Context, id string) ([]string, error) {
	return op(k, ctx, "throttle.pending", func(ctx context.Context, _ *outbox) ([]string, error) {
		return k.throttlePending(ctx, id)
	})
}

// ThrottleRelease implements throttle.release.
func (k *Kernel) ThrottleRelease(ctx context.Context, id string, jids ...string) error {
	_, err := op(k, ctx, "throttle.release", func(ctx context.Context, _ *outbox) (struct{}, error) {
		return struct{}{}, k.throttleRelease(ctx, id, jids...)
	})
	return err
}

// QueueThrottleSet / QueueThrottleGet implement queue.throttle.set /
// queue.throttle.get: sugar over the named throttle engine using a
// queue's implicit throttle id (spec §4.3 "Every queue has an implicit
// throttle named for the queue").
func (k *Kernel) QueueThrottleSet(ctx context.Context, now float64, queue string, maximum int) error {
	return k.ThrottleSet(ctx, now, implicitThrottleID(queue), maximum, 0)
}

func (k *Kernel) QueueThrottleGet(ctx context.Context, now float64, queue string) (*Throttle, error) {
	return k.ThrottleGet(ctx, now, implicitThrottleID(queue))
}

// WorkerJobsResult is worker.jobs's materialized view of one worker's
// leases (spec §4.6 "worker.jobs").
type WorkerJobsResult struct {
	Jobs    []string `json:"jobs"`
	Stalled []string `json:"stalled"`
}

// WorkerJobs implements worker.jobs.
func (k *Kernel) WorkerJobs(ctx context.Context, now float64, worker string) (*WorkerJobsResult, error) {
	return op(k, ctx, "worker.jobs", func(ctx context.Context, _ *outbox) (*WorkerJobsResult, error) {
		live, stalled, err := k.workerJobs(ctx, now, worker)
		if err != nil {
			return nil, err
		}
		return &WorkerJobsResult{Jobs: live, Stalled: stalled}, nil
	})
}

// WorkersCounts implements workers.counts.
func (k *Kernel) WorkersCounts(ctx context.Context, now float64) ([]WorkerCount, error) {
	return op(k, ctx, "workers.counts", func(ctx context.Context, _ *outbox) ([]WorkerCount, error) {
		return k.workersCounts(ctx, now)
	})
}

// WorkerForget implements worker.forget.
func (k *Kernel) WorkerForget(ctx context.Context, worker string) error {
	_, err := op(k, ctx, "worker.forget", func(ctx context.Context, _ *outbox) (struct{}, error) {
		return struct{}{}, k.forgetWorker(ctx, worker)
	})
	return err
}

// JobsTagged implements jobs.tagged.
func (k *Kernel) JobsTagged(ctx context.Context, tag string, offset, count int) ([]string, error) {
	return op(k, ctx, "jobs.tagged", func(ctx context.Context, _ *outbox) ([]string, error) {
		return k.jobsTagged(ctx, tag, offset, count)
	})
}

// TagsTop implements tags.top.
func (k *Kernel) TagsTop(ctx context.Context, offset, count int) ([]string, error) {
	return op(k, ctx, "tags.top", func(ctx context.Context, _ *outbox) ([]string, error) {
		return k.tagsTop(ctx, offset, count)
	})
}

// FailureGroupsCounts implements failureGroups.counts.
func (k *Kernel) FailureGroupsCounts(ctx context.Context) (map[string]int64, error) {
	return op(k, ctx, "failureGroups.counts", func(ctx context.Context, _ *outbox) (map[string]int64, error) {
		return k.failureGroupsCounts(ctx)
	})
}

// JobsFailedByGroup implements jobs.failedByGroup.
func (k *Kernel) JobsFailedByGroup(ctx context.Context, group string, offset, count int) ([]string, error) {
	return op(k, ctx, "jobs.failedByGroup", func(ctx context.Context, _ *outbox) ([]string, error) {
		return k.jobsFailedByGroup(ctx, group, offset, count)
	})
}

// RecurAtInterval implements queue.recurAtInterval.
func (k *Kernel) RecurAtInterval(ctx context.Context, now float64, queue, jid, klass, data string, interval, offset float64, opts RecurAtIntervalOptions) (*RecurringTemplate, error) {
	return op(k, ctx, "queue.recurAtInterval", func(ctx context.Context, ob *outbox) (*RecurringTemplate, error) {
		return k.recurAtInterval(ctx, ob, now, queue, jid, klass, data, interval, offset, opts)
	})
}

// RecurringGet implements recurringJob.get.
func (k *Kernel) RecurringGet(ctx context.Context, jid string) (*RecurringTemplate, error) {
	return op(k, ctx, "recurringJob.get", func(ctx context.Context, _ *outbox) (*RecurringTemplate, error) {
		t, ok, err := k.loadRecurring(ctx, jid)
		if err != nil || !ok {
			return nil, err
		}
		return t, nil
	})
}

// RecurringUpdateOptions carries the mutable subset of a recurring
// template that recurringJob.update may change in place (spec §4.5).
type RecurringUpdateOptions struct {
	Klass    *string
	Data     *string
	Interval *float64
	Retries  *int
	Priority *int
	Backlog  *int
}

// RecurringUpdate implements recurringJob.update: mutates attributes of
// an existing template without touching its spawn counter or schedule
// position.
func (k *Kernel) RecurringUpdate(ctx context.Context, jid string, opts RecurringUpdateOptions) error {
	_, err := op(k, ctx, "recurringJob.update", func(ctx context.Context, _ *outbox) (struct{}, error) {
		t, ok, err := k.loadRecurring(ctx, jid)
		if err != nil {
			return struct{}{}, err
		}
		if !ok {
			return struct{}{}, errJobNotFound(jid)
		}
		if opts.Klass != nil {
			t.Klass = *opts.Klass
		}
		if opts.Data != nil {
			t.Data = *opts.Data
		}
		if opts.Interval != nil {
			if *opts.Interval <= 0 {
				return struct{}{}, fErr(ErrMalformedArgs, "interval must be positive")
			}
			t.Interval = *opts.Interval
		}
		if opts.Retries != nil {
			t.Retries = *opts.Retries
		}
		if opts.Priority != nil {
			t.Priority = *opts.Priority
		}
		if opts.Backlog != nil {
			t.Backlog = *opts.Backlog
		}
		return struct{}{}, k.saveRecurring(ctx, t)
	})
	return err
}

// RecurringCancel implements recurringJob.cancel.
func (k *Kernel) RecurringCancel(ctx context.Context, jid string) error {
	_, err := op(k, ctx, "recurringJob.cancel", func(ctx context.Context, _ *outbox) (struct{}, error) {
		return struct{}{}, k.recurringCancel(ctx, jid)
	})
	return err
}

// RecurringAddTag implements recurringJob.addTag.
func (k *Kernel) RecurringAddTag(ctx context.Context, jid, tag string) error {
	_, err := op(k, ctx, "recurringJob.addTag", func(ctx context.Context, _ *outbox) (struct{}, error) {
		return struct{}{}, k.recurringAddTag(ctx, jid, tag)
	})
	return err
}

// RecurringRemoveTag implements recurringJob.removeTag.
func (k *Kernel) RecurringRemoveTag(ctx context.Context, jid, tag string) error {
	_, err := op(k, ctx, "recurringJob.removeTag", func(ctx context.Context, _ *outbox) (struct{}, error) {
		return struct{}{}, k.recurringRemoveTag(ctx, jid, tag)
	})
	return err
}

// IdentifierPatternsGetAll implements config.identifierPatterns.getAll.
func (k *Kernel) IdentifierPatternsGetAll(ctx context.Context) (map[string][]string, error) {
	return op(k, ctx, "config.identifierPatterns.getAll", func(ctx context.Context, _ *outbox) (map[string][]string, error) {
		return k.identifierPatternsGetAll(ctx)
	})
}

// IdentifierPatternsSetAll implements config.identifierPatterns.setAll.
func (k *Kernel) IdentifierPatternsSetAll(ctx context.Context, patterns map[string][]string) error {
	_, err := op(k, ctx, "config.identifierPatterns.setAll", func(ctx context.Context, _ *outbox) (struct{}, error) {
		return struct{}{}, k.identifierPatternsSetAll(ctx, patterns)
	})
	return err
}

// PriorityPatternsGetAll implements config.priorityPatterns.getAll.
func (k *Kernel) PriorityPatternsGetAll(ctx context.Context) ([]PriorityPattern, error) {
	return op(k, ctx, "config.priorityPatterns.getAll", func(ctx context.Context, _ *outbox) ([]PriorityPattern, error) {
		return k.priorityPatternsGetAll(ctx)
	})
}

// PriorityPatternsSetAll implements config.priorityPatterns.setAll.
func (k *Kernel) PriorityPatternsSetAll(ctx context.Context, patterns []PriorityPattern) error {
	_, err := op(k, ctx, "config.priorityPatterns.setAll", func(ctx context.Context, _ *outbox) (struct{}, error) {
		return struct{}{}, k.priorityPatternsSetAll(ctx, patterns)
	})
	return err
}

// ConfigGet / ConfigGetAll / ConfigSet / ConfigUnset implement
// config.get / config.getAll / config.set / config.unset.
func (k *Kernel) ConfigGet(ctx context.Context, key string) (string, error) {
	return op(k, ctx, "config.get", func(ctx context.Context, _ *outbox) (string, error) {
		return k.configGet(ctx, key)
	})
}

func (k *Kernel) ConfigGetAll(ctx context.Context) (map[string]string, error) {
	return op(k, ctx, "config.getAll", func(ctx context.Context, _ *outbox) (map[string]string, error) {
		return k.configGetAll(ctx)
	})
}

func (k *Kernel) ConfigSet(ctx context.Context, key, value string) error {
	_, err := op(k, ctx, "config.set", func(ctx context.Context, ob *outbox) (struct{}, error) {
		if err := k.configSet(ctx, key, value); err != nil {
			return struct{}{}, err
		}
		ob.log("config.set", map[string]interface{}{"option": key, "value": value})
		return struct{}{}, nil
	})
	return err
}

func (k *Kernel) ConfigUnset(ctx context.Context, key string) error {
	_, err := op(k, ctx, "config.unset", func(ctx context.Context, ob *outbox) (struct{}, error) {
		if err := k.configUnset(ctx, key); err != nil {
			return struct{}{}, err
		}
		ob.log("config.unset", map[string]interface{}{"option": key})
		return struct{}{}, nil
	})
	return err
}
