package kernel

import "context"

// PutOptions carries the optional attributes of queue.put (spec §4.1
// "Put semantics"). A nil pointer means "not supplied, carry through
// the existing value on a move". For the Tags, Depends and Throttles
// slices the matching HasTags/HasDeps/HasThrott flag decides: false
// carries the existing value through, true replaces it with the slice
// (an empty slice replaces it with empty).
type PutOptions struct {
	Klass     string
	Data      string
	Delay     float64
	Priority  *int
	Tags      []string
	HasTags   bool
	Depends   []string
	HasDeps   bool
	Retries   *int
	Throttles []string
	HasThrott bool
}

// Put implements queue.put (spec §4.1 "Put semantics"). Re-putting an
// existing jid is a move: it is removed from its old queue's
// sub-stores, its throttles are released, failure is cleared, and
// retries/priority/tags/depends/throttles are replaced only when
// explicitly supplied.
func (k *Kernel) Put(ctx context.Context, now float64, queue, jid string, opts PutOptions) (string, error) {
	return op(k, ctx, "queue.put", func(ctx context.Context, ob *outbox) (string, error) {
		existing, existed, err := k.loadJob(ctx, jid)
		if err != nil {
			return "", err
		}

		job := existing
		movedFromWorker := ""
		movedFromQueue := ""
		var oldTags []string
		if existed {
			oldTags = append([]string{}, job.Tags...)
			movedFromQueue = job.Queue
			if job.State == StateRunning || job.State == StateStalled {
				movedFromWorker = job.Worker
			}
			if err := k.removeFromQueueSubstores(ctx, job.Queue, jid); err != nil {
				return "", err
			}
			if err := k.releaseThrottles(ctx, jid, job.Throttles); err != nil {
				return "", err
			}
			if movedFromWorker != "" {
				if err := k.releaseLease(ctx, movedFromWorker, jid); err != nil {
					return "", err
				}
			}
			job.Failure = nil
		} else {
			job = newJob(jid)
			job.Retries = 5
		}

		job.Queue = queue
		if opts.Klass != "" {
			job.Klass = opts.Klass
		}
		job.Data = opts.Data
		if opts.Priority != nil {
			job.Priority = *opts.Priority
		}
		if opts.HasTags {
			tags := append([]string{}, opts.Tags...)
			sortStrings(tags)
			job.Tags = tags
		}
		if opts.Retries != nil {
			job.Retries = *opts.Retries
		}
		job.Remaining = job.Retries
		job.Worker = ""

		if err := k.syncTagIndex(ctx, now, jid, oldTags, job.Tags); err != nil {
			return "", err
		}

		throttles := job.Throttles
		if opts.HasThrott {
			throttles = opts.Throttles
		}
		job.Throttles = reconcileImplicitThrottle(throttles, queue)

		deps := job.Dependencies
		if opts.HasDeps {
			deps = opts.Depends
		}
		live, err := k.resolveDependenciesAtPut(ctx, jid, deps)
		if err != nil {
			return "", err
		}
		job.Dependencies = live

		job.History = appendHistory(job.History, HistoryEntry{What: "put", When: now, Queue: queue}, 100)

		switch {
		case len(live) > 0:
			job.State = StateDepends
			if opts.Delay > 0 {
				job.Expires = now + opts.Delay
			} else {
				job.Expires = 0
			}
			if err := k.addToDepends(ctx, queue, jid); err != nil {
				return "", err
			}
		case opts.Delay > 0:
			job.State = StateScheduled
			job.Expires = now + opts.Delay
			if err := k.addToScheduled(ctx, queue, jid, job.Expires); err != nil {
				return "", err
			}
		default:
			job.State = StateWaiting
			job.Expires = 0
			if err := k.addToWaiting(ctx, queue, jid, job.Priority, now); err != nil {
				return "", err
			}
		}

		if err := k.saveJob(ctx, job); err != nil {
			return "", err
		}
		if err := k.registerQueue(ctx, queue); err != nil {
			return "", err
		}

		ob.log("put", map[string]interface{}{"jid": jid, "queue": queue})
		ob.jid(chanPut, jid)
		if movedFromWorker != "" && movedFromQueue != queue {
			ob.worker(movedFromWorker, map[string]interface{}{"jid": jid, "event": "lock_lost"})
		}
		return jid, nil
	})
}

// Get implements job.get.
func (k *Kernel) Get(ctx context.Context, jid string) (*Job, error) {
	return op(k, ctx, "job.get", func(ctx context.Context, _ *outbox) (*Job, error) {
		job, ok, err := k.loadJob(ctx, jid)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, nil
		}
		return job, nil
	})
}

// GetMulti implements job.getMulti: missing jids are skipped (spec §7
// error kind 5).
func (k *Kernel) GetMulti(ctx context.Context, jids []string) ([]*Job, error) {
	return op(k, ctx, "job.getMulti", func(ctx context.Context, _ *outbox) ([]*Job, error) {
		out := make([]*Job, 0, len(jids))
		for _, jid := range jids {
			job, ok, err := k.loadJob(ctx, jid)
			if err != nil {
				return nil, err
			}
			if ok {
				out = append(out, job)
			}
		}
		return out, nil
	})
}

func (k *Kernel) requireRunningOwnedBy(job *Job, jid, worker, queue string) error {
	switch job.State {
	case StateRunning:
	default:
		return errWrongState(jid, job.State, StateRunning)
	}
	if job.Worker != worker {
		return errAnotherWorker(jid, worker)
	}
	if job.Queue != queue {
		return errAnotherQueue(jid, queue)
	}
	return nil
}

// CompleteOptions carries job.completeAndRequeue's optional next-queue
// arguments (spec §4.1 "Complete semantics").
type CompleteOptions struct {
	NextQueue string
	Delay     float64
	Depends   []string
	HasDeps   bool
}

// Complete implements job.complete / job.completeAndRequeue (spec §4.1).
func (k *Kernel) Complete(ctx context.Context, now float64, jid, worker, queue string, opts *CompleteOptions) (string, error) {
	return op(k, ctx, "job.complete", func(ctx context.Context, ob *outbox) (string, error) {
		job, ok, err := k.loadJob(ctx, jid)
		if err != nil {
			return "", err
		}
		if !ok {
			return "", errJobNotFound(jid)
		}
		if err := k.requireRunningOwnedBy(job, jid, worker, queue); err != nil {
			return "", err
		}
		if err := k.releaseThrottles(ctx, jid, job.Throttles); err != nil {
			return "", err
		}
		if err := k.store.ZRem(ctx, queueRunningKey(queue), jid); err != nil {
			return "", err
		}
		if err := k.releaseLease(ctx, worker, jid); err != nil {
			return "", err
		}
		job.History = appendHistoryForJob(job, HistoryEntry{What: "done", When: now})

		if opts == nil {
			job.State = StateComplete
			job.Queue = ""
			job.Worker = ""
			job.Expires = 0
			if err := k.saveJob(ctx, job); err != nil {
				return "", err
			}
			if err := k.unlockDependents(ctx, ob, jid, now); err != nil {
				return "", err
			}
			ob.log("completed", map[string]interface{}{"jid": jid})
			ob.jid(chanCompleted, jid)
			return "complete", nil
		}

		nextQueue := opts.NextQueue
		if nextQueue == "" {
			nextQueue = queue
		}
		job.Worker = ""
		if err := k.saveJob(ctx, job); err != nil {
			return "", err
		}
		if err := k.unlockDependents(ctx, ob, jid, now); err != nil {
			return "", err
		}
		ob.log("completed", map[string]interface{}{"jid": jid, "to": nextQueue})
		ob.jid(chanCompleted, jid)

		putOpts := PutOptions{Klass: job.Klass, Data: job.Data, Delay: opts.Delay, HasDeps: opts.HasDeps, Depends: opts.Depends}
		return k.putLocked(ctx, ob, now, nextQueue, jid, putOpts)
	})
}

// putLocked is Put's body factored out so Complete can re-put to the
// next queue within the same atomic operation (no re-entrant locking).
func (k *Kernel) putLocked(ctx context.Context, ob *outbox, now float64, queue, jid string, opts PutOptions) (string, error) {
	job, existed, err := k.loadJob(ctx, jid)
	if err != nil {
		return "", err
	}
	if !existed {
		job = newJob(jid)
		job.Retries = 5
	} else {
		if err := k.removeFromQueueSubstores(ctx, job.Queue, jid); err != nil {
			return "", err
		}
		if err := k.releaseThrottles(ctx, jid, job.Throttles); err != nil {
			return "", err
		}
		job.Failure = nil
	}
	job.Queue = queue
	if opts.Klass != "" {
		job.Klass = opts.Klass
	}
	job.Data = opts.Data
	job.Remaining = job.Retries
	job.Worker = ""
	job.Throttles = reconcileImplicitThrottle(job.Throttles, queue)

	var deps []string
	if opts.HasDeps {
		deps = opts.Depends
	}
	live, err := k.resolveDependenciesAtPut(ctx, jid, deps)
	if err != nil {
		return "", err
	}
	job.Dependencies = live
	job.History = appendHistoryForJob(job, HistoryEntry{What: "put", When: now, Queue: queue})

	switch {
	case len(live) > 0:
		job.State = StateDepends
		if opts.Delay > 0 {
			job.Expires = now + opts.Delay
		} else {
			job.Expires = 0
		}
		if err := k.addToDepends(ctx, queue, jid); err != nil {
			return "", err
		}
	case opts.Delay > 0:
		job.State = StateScheduled
		job.Expires = now + opts.Delay
		if err := k.addToScheduled(ctx, queue, jid, job.Expires); err != nil {
			return "", err
		}
	default:
		job.State = StateWaiting
		job.Expires = 0
		if err := k.addToWaiting(ctx, queue, jid, job.Priority, now); err != nil {
			return "", err
		}
	}
	if err := k.saveJob(ctx, job); err != nil {
		return "", err
	}
	if err := k.registerQueue(ctx, queue); err != nil {
		return "", err
	}
	ob.log("put", map[string]interface{}{"jid": jid, "queue": queue})
	ob.jid(chanPut, jid)
	return jid, nil
}

// Fail implements job.fail (spec §4.1 "Fail semantics").
func (k *Kernel) Fail(ctx context.Context, now float64, jid, worker, group, message string) (string, error) {
	return op(k, ctx, "job.fail", func(ctx context.Context, ob *outbox) (string, error) {
		job, ok, err := k.loadJob(ctx, jid)
		if err != nil {
			return "", err
		}
		if !ok {
			return "", errJobNotFound(jid)
		}
		if job.State != StateRunning {
			return "", errWrongState(jid, job.State, StateRunning)
		}
		if job.Worker != worker {
			return "", errAnotherWorker(jid, worker)
		}
		if err := k.releaseThrottles(ctx, jid, job.Throttles); err != nil {
			return "", err
		}
		if err := k.store.ZRem(ctx, queueRunningKey(job.Queue), jid); err != nil {
			return "", err
		}
		if err := k.releaseLease(ctx, worker, jid); err != nil {
			return "", err
		}
		job.Failure = &Failure{Group: group, Message: message, When: now, Worker: worker}
		job.State = StateFailed
		job.Queue = ""
		job.Worker = ""
		job.Expires = 0
		job.History = appendHistoryForJob(job, HistoryEntry{What: "failed", When: now, Worker: worker, Group: group})
		if err := k.saveJob(ctx, job); err != nil {
			return "", err
		}
		if err := k.recordFailure(ctx, now, group, jid); err != nil {
			return "", err
		}
		ob.log("failed", map[string]interface{}{"jid": jid, "group": group, "message": message})
		ob.jid(chanFailed, jid)
		return jid, nil
	})
}

// Cancel implements job.cancel, variadic over jids (spec §4.1, §4.4
// "Chain cancel"). Blocks if any cancelled jid has a dependent NOT in
// the cancel set; non-existent jids are ignored.
func (k *Kernel) Cancel(ctx context.Context, now float64, jids ...string) error {
	_, err := op(k, ctx, "job.cancel", func(ctx context.Context, ob *outbox) (struct{}, error) {
		cancelSet := stringSet(jids)
		jobs := make(map[string]*Job, len(jids))
		for _, jid := range jids {
			job, ok, err := k.loadJob(ctx, jid)
			if err != nil {
				return struct{}{}, err
			}
			if !ok {
				continue
			}
			jobs[jid] = job
		}
		for jid, job := range jobs {
			for _, dependent := range job.Dependents {
				if _, inSet := cancelSet[dependent]; inSet {
					continue
				}
				if depJob, ok, _ := k.loadJob(ctx, dependent); ok && depJob.State != StateComplete {
					return struct{}{}, errIsDependency(jid, job.Dependents)
				}
			}
		}
		for jid, job := range jobs {
			if err := k.removeFromQueueSubstores(ctx, job.Queue, jid); err != nil {
				return struct{}{}, err
			}
			if err := k.releaseThrottles(ctx, jid, job.Throttles); err != nil {
				return struct{}{}, err
			}
			wasRunning := job.State == StateRunning || job.State == StateStalled
			if job.Worker != "" {
				if err := k.releaseLease(ctx, job.Worker, jid); err != nil {
					return struct{}{}, err
				}
			}
			for _, dep := range job.Dependencies {
				if depJob, ok, _ := k.loadJob(ctx, dep); ok {
					depJob.Dependents = removeString(depJob.Dependents, jid)
					_ = k.saveJob(ctx, depJob)
				}
			}
			for _, tag := range job.Tags {
				_ = k.removeTagFromIndex(ctx, tag, jid)
			}
			if job.Failure != nil {
				_ = k.clearFailureIndex(ctx, job.Failure.Group, jid)
			}
			if err := k.deleteJob(ctx, jid); err != nil {
				return struct{}{}, err
			}
			ob.log("canceled", map[string]interface{}{"jid": jid})
			ob.jid(chanCanceled, jid)
			if wasRunning && job.Worker != "" {
				ob.worker(job.Worker, map[string]interface{}{"jid": jid, "event": "lock_lost"})
			}
		}
		return struct{}{}, nil
	})
	return err
}

// Heartbeat implements job.heartbeat: extends expires while running.
func (k *Kernel) Heartbeat(ctx context.Context, now float64, jid, worker string) (float64, error) {
	return op(k, ctx, "job.heartbeat", func(ctx context.Context, _ *outbox) (float64, error) {
		job, ok, err := k.loadJob(ctx, jid)
		if err != nil {
			return 0, err
		}
		if !ok {
			return 0, errJobNotFound(jid)
		}
		if job.State != StateRunning {
			return 0, errWrongState(jid, job.State, StateRunning)
		}
		if job.Worker != worker {
			return 0, errAnotherWorker(jid, worker)
		}
		heartbeat, err := k.configFloat(ctx, "heartbeat")
		if err != nil {
			return 0, err
		}
		job.Expires = now + heartbeat
		if err := k.store.ZAdd(ctx, queueRunningKey(job.Queue), job.Expires, jid); err != nil {
			return 0, err
		}
		if err := k.saveJob(ctx, job); err != nil {
			return 0, err
		}
		if err := k.touchWorker(ctx, worker, now); err != nil {
			return 0, err
		}
		return job.Expires, nil
	})
}

// Timeout implements job.timeout: sets expires=0, marking the job to
// lose its lease on the next pop's stall sweep.
func (k *Kernel) Timeout(ctx context.Context, jid string) error {
	_, err := op(k, ctx, "job.timeout", func(ctx context.Context, _ *outbox) (struct{}, error) {
		job, ok, err := k.loadJob(ctx, jid)
		if err != nil {
			return struct{}{}, err
		}
		if !ok {
			return struct{}{}, errJobNotFound(jid)
		}
		if job.State != StateRunning {
			return struct{}{}, errWrongState(jid, job.State, StateRunning)
		}
		job.Expires = 0
		if err := k.store.ZAdd(ctx, queueRunningKey(job.Queue), 0, jid); err != nil {
			return struct{}{}, err
		}
		return struct{}{}, k.saveJob(ctx, job)
	})
	return err
}

// Retry implements job.retry: consumes one attempt; fails permanently
// if exhausted, else returns the job to waiting in the same queue (spec
// §4.1 "Retry").
func (k *Kernel) Retry(ctx context.Context, now float64, jid, queue, worker, group, message string) (string, error) {
	return op(k, ctx, "job.retry", func(ctx context.Context, ob *outbox) (string, error) {
		job, ok, err := k.loadJob(ctx, jid)
		if err != nil {
			return "", err
		}
		if !ok {
			return "", errJobNotFound(jid)
		}
		if err := k.requireRunningOwnedBy(job, jid, worker, queue); err != nil {
			return "", err
		}
		if err := k.releaseThrottles(ctx, jid, job.Throttles); err != nil {
			return "", err
		}
		if err := k.store.ZRem(ctx, queueRunningKey(queue), jid); err != nil {
			return "", err
		}
		if err := k.releaseLease(ctx, worker, jid); err != nil {
			return "", err
		}
		job.Remaining--
		if job.Remaining < 0 {
			failGroup := group
			if failGroup == "" {
				failGroup = "failed-retries-" + queue
			}
			job.State = StateFailed
			job.Queue = ""
			job.Worker = ""
			job.Expires = 0
			job.Failure = &Failure{Group: failGroup, Message: message, When: now, Worker: worker}
			job.History = appendHistoryForJob(job, HistoryEntry{What: "failed", When: now, Worker: worker, Group: failGroup})
			if err := k.saveJob(ctx, job); err != nil {
				return "", err
			}
			if err := k.recordFailure(ctx, now, failGroup, jid); err != nil {
				return "", err
			}
			ob.log("failed", map[string]interface{}{"jid": jid, "group": failGroup})
			ob.jid(chanFailed, jid)
			return "failed", nil
		}
		job.State = StateWaiting
		job.Worker = ""
		job.Expires = 0
		job.History = appendHistoryForJob(job, HistoryEntry{What: "put", When: now, Queue: queue})
		if err := k.addToWaiting(ctx, queue, jid, job.Priority, now); err != nil {
			return "", err
		}
		if err := k.saveJob(ctx, job); err != nil {
			return "", err
		}
		ob.log("retried", map[string]interface{}{"jid": jid, "queue": queue})
		return "waiting", nil
	})
}

// Log implements job.log: appends an arbitrary user event to history.
func (k *Kernel) Log(ctx context.Context, now float64, jid, what string, extra map[string]interface{}) error {
	_, err := op(k, ctx, "job.log", func(ctx context.Context, ob *outbox) (struct{}, error) {
		job, ok, err := k.loadJob(ctx, jid)
		if err != nil {
			return struct{}{}, err
		}
		if !ok {
			return struct{}{}, errJobNotFound(jid)
		}
		maxLen, err := k.configInt(ctx, "max-job-history")
		if err != nil {
			return struct{}{}, err
		}
		job.History = appendHistory(job.History, HistoryEntry{What: what, When: now, Extra: extra}, int(maxLen))
		ob.log(what, map[string]interface{}{"jid": jid})
		return struct{}{}, k.saveJob(ctx, job)
	})
	return err
}

// SetPriority implements job.setPriority: updates priority, and if the
// job is currently waiting, re-sorts it in place.
func (k *Kernel) SetPriority(ctx context.Context, now float64, jid string, priority int) error {
	_, err := op(k, ctx, "job.setPriority", func(ctx context.Context, _ *outbox) (struct{}, error) {
		job, ok, err := k.loadJob(ctx, jid)
		if err != nil {
			return struct{}{}, err
		}
		if !ok {
			return struct{}{}, errJobNotFound(jid)
		}
		job.Priority = priority
		if job.State == StateWaiting {
			if err := k.store.ZRem(ctx, queueWaitingKey(job.Queue), jid); err != nil {
				return struct{}{}, err
			}
			if err := k.addToWaiting(ctx, job.Queue, jid, priority, now); err != nil {
				return struct{}{}, err
			}
		}
		return struct{}{}, k.saveJob(ctx, job)
	})
	return err
}

// Track/Untrack implement job.track / job.untrack.
func (k *Kernel) Track(ctx context.Context, jid string) error {
	_, err := op(k, ctx, "job.track", func(ctx context.Context, ob *outbox) (struct{}, error) {
		job, ok, err := k.loadJob(ctx, jid)
		if err != nil {
			return struct{}{}, err
		}
		if !ok {
			return struct{}{}, errJobNotFound(jid)
		}
		job.Tracked = true
		if err := k.saveJob(ctx, job); err != nil {
			return struct{}{}, err
		}
		if err := k.store.SAdd(ctx, keyTracked, jid); err != nil {
			return struct{}{}, err
		}
		ob.jid(chanTrack, jid)
		return struct{}{}, nil
	})
	return err
}

func (k *Kernel) Untrack(ctx context.Context, jid string) error {
	_, err := op(k, ctx, "job.untrack", func(ctx context.Context, ob *outbox) (struct{}, error) {
		job, ok, err := k.loadJob(ctx, jid)
		if err != nil {
			return struct{}{}, err
		}
		if !ok {
			return struct{}{}, errJobNotFound(jid)
		}
		job.Tracked = false
		if err := k.saveJob(ctx, job); err != nil {
			return struct{}{}, err
		}
		if err := k.store.SRem(ctx, keyTracked, jid); err != nil {
			return struct{}{}, err
		}
		ob.jid(chanUntrack, jid)
		return struct{}{}, nil
	})
	return err
}

// TrackedJobs implements jobs.tracked (spec §4.7): all tracked jobs,
// materialized, plus an always-empty "expired" field (open question 3:
// observed behavior is that this field is never populated; kept for
// client compatibility rather than given new meaning).
type TrackedJobs struct {
	Jobs    []*Job   `json:"jobs"`
	Expired []string `json:"expired"`
}

func (k *Kernel) TrackedJobs(ctx context.Context) (*TrackedJobs, error) {
	return op(k, ctx, "jobs.tracked", func(ctx context.Context, _ *outbox) (*TrackedJobs, error) {
		jids, err := k.store.SMembers(ctx, keyTracked)
		if err != nil {
			return nil, err
		}
		out := &TrackedJobs{Jobs: []*Job{}, Expired: []string{}}
		for _, jid := range jids {
			job, ok, err := k.loadJob(ctx, jid)
			if err != nil {
				return nil, err
			}
			if ok {
				out.Jobs = append(out.Jobs, job)
			}
		}
		return out, nil
	})
}

// AddDependency/RemoveDependency implement job.addDependency /
// job.removeDependency.
func (k *Kernel) AddDependency(ctx context.Context, jid, dependsOn string) error {
	_, err := op(k, ctx, "job.addDependency", func(ctx context.Context, _ *outbox) (struct{}, error) {
		return struct{}{}, k.addDependency(ctx, jid, dependsOn)
	})
	return err
}

func (k *Kernel) RemoveDependency(ctx context.Context, now float64, jid, dependsOn string) error {
	_, err := op(k, ctx, "job.removeDependency", func(ctx context.Context, ob *outbox) (struct{}, error) {
		return struct{}{}, k.removeDependency(ctx, now, ob, jid, dependsOn)
	})
	return err
}

// Requeue re-puts an existing job with the same semantics as queue.put,
// provided for the spec's distinct `job.requeue` alias (spec §4.1).
func (k *Kernel) Requeue(ctx context.Context, now float64, queue, jid string, opts PutOptions) (string, error) {
	return k.Put(ctx, now, queue, jid, opts)
}

// AddTag/RemoveTag implement job.addTag / job.removeTag.
func (k *Kernel) AddTag(ctx context.Context, now float64, jid, tag string) error {
	_, err := op(k, ctx, "job.addTag", func(ctx context.Context, _ *outbox) (struct{}, error) {
		return struct{}{}, k.addTag(ctx, now, jid, tag)
	})
	return err
}

func (k *Kernel) RemoveTag(ctx context.Context, jid, tag string) error {
	_, err := op(k, ctx, "job.removeTag", func(ctx context.Context, _ *outbox) (struct{}, error) {
		return struct{}{}, k.removeTag(ctx, jid, tag)
	})
	return err
}
