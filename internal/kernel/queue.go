package kernel

import (
	"context"
	"math"
	"strconv"

	"github.com/reqless-go/reqless/internal/store"
)

// Counts is the result of queue.counts / queues.counts (spec §4.2).
type Counts struct {
	Waiting   int64 `json:"waiting"`
	Running   int64 `json:"running"`
	Stalled   int64 `json:"stalled"`
	Scheduled int64 `json:"scheduled"`
	Depends   int64 `json:"depends"`
	Recurring int64 `json:"recurring"`
	Throttled int64 `json:"throttled"`
	Paused    bool  `json:"paused"`
}

// promoteScheduled moves every scheduled job whose ready time has
// arrived into waiting (spec §4.2 pop step 2, and peek's sweep).
func (k *Kernel) promoteScheduled(ctx context.Context, now float64, queue string) error {
	due, err := k.store.ZRangeByScore(ctx, queueScheduledKey(queue), math.Inf(-1), now, 0, -1)
	if err != nil {
		return err
	}
	for _, m := range due {
		job, ok, err := k.loadJob(ctx, m.Member)
		if err != nil {
			return err
		}
		if !ok {
			if err := k.store.ZRem(ctx, queueScheduledKey(queue), m.Member); err != nil {
				return err
			}
			continue
		}
		if err := k.store.ZRem(ctx, queueScheduledKey(queue), m.Member); err != nil {
			return err
		}
		job.State = StateWaiting
		if err := k.addToWaiting(ctx, queue, job.Jid, job.Priority, now); err != nil {
			return err
		}
		job.Expires = 0
		if err := k.saveJob(ctx, job); err != nil {
			return err
		}
	}
	return nil
}

// stallSweep moves running jobs whose lease has expired past
// grace-period into stalled, decrementing their remaining attempts and
// immediately failing any that are now exhausted (spec §4.2 pop step 3).
func (k *Kernel) stallSweep(ctx context.Context, ob *outbox, now float64, queue string) error {
	grace, err := k.configFloat(ctx, "grace-period")
	if err != nil {
		return err
	}
	running, err := k.store.ZRange(ctx, queueRunningKey(queue))
	if err != nil {
		return err
	}
	for _, m := range running {
		if m.Score+grace > now {
			continue
		}
		jid := m.Member
		job, ok, err := k.loadJob(ctx, jid)
		if err != nil {
			return err
		}
		if !ok {
			if err := k.store.ZRem(ctx, queueRunningKey(queue), jid); err != nil {
				return err
			}
			continue
		}
		if err := k.store.ZRem(ctx, queueRunningKey(queue), jid); err != nil {
			return err
		}
		worker := job.Worker
		job.Remaining--
		ob.log("stalled", map[string]interface{}{"jid": jid, "queue": queue, "worker": worker})
		ob.jid(chanStalled, jid)
		if worker != "" {
			ob.worker(worker, map[string]interface{}{"jid": jid, "event": "lock_lost"})
		}
		if job.Remaining < 0 {
			group := "failed-retries-" + queue
			if err := k.releaseThrottles(ctx, jid, job.Throttles); err != nil {
				return err
			}
			if err := k.releaseLease(ctx, worker, jid); err != nil {
				return err
			}
			job.State = StateFailed
			job.Queue = ""
			job.Worker = ""
			job.Failure = &Failure{Group: group, Message: "job exhausted retries in queue " + queue, When: now, Worker: worker}
			job.History = appendHistory(job.History, HistoryEntry{What: "failed", When: now, Worker: worker, Group: group}, 100)
			if err := k.saveJob(ctx, job); err != nil {
				return err
			}
			if err := k.recordFailure(ctx, now, group, jid); err != nil {
				return err
			}
			ob.jid(chanFailed, jid)
			continue
		}
		if err := k.addToStalled(ctx, queue, jid); err != nil {
			return err
		}
		job.State = StateStalled
		if err := k.saveJob(ctx, job); err != nil {
			return err
		}
	}
	return nil
}

type popCandidate struct {
	jid    string
	job    *Job
	source string // "stalled" or "waiting"
}

// nextCandidate returns the next job to attempt under spec §4.2's
// ordering: stalled (oldest expired lease first), then waiting
// (priority desc, put-time asc, already encoded in the waiting zset's
// score).
func (k *Kernel) nextCandidate(ctx context.Context, queue string) (*popCandidate, error) {
	stalledJids, err := k.store.SMembers(ctx, queueStalledKey(queue))
	if err != nil {
		return nil, err
	}
	var best *Job
	for _, jid := range stalledJids {
		job, ok, err := k.loadJob(ctx, jid)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		if best == nil || job.Expires < best.Expires {
			best = job
		}
	}
	if best != nil {
		return &popCandidate{jid: best.Jid, job: best, source: "stalled"}, nil
	}
	waiting, err := k.store.ZRangeByScore(ctx, queueWaitingKey(queue), math.Inf(-1), math.Inf(1), 0, 1)
	if err != nil {
		return nil, err
	}
	if len(waiting) == 0 {
		return nil, nil
	}
	job, ok, err := k.loadJob(ctx, waiting[0].Member)
	if err != nil || !ok {
		return nil, err
	}
	return &popCandidate{jid: job.Jid, job: job, source: "waiting"}, nil
}

func (k *Kernel) removeCandidateFromSource(ctx context.Context, queue string, c *popCandidate) error {
	if c.source == "stalled" {
		return k.store.SRem(ctx, queueStalledKey(queue), c.jid)
	}
	return k.store.ZRem(ctx, queueWaitingKey(queue), c.jid)
}

func (k *Kernel) maxPopRetry(ctx context.Context, queue string) (int64, error) {
	if v, ok, err := k.store.HGet(ctx, keyConfig, queue+"-max-pop-retry"); err == nil && ok {
		if n, parseErr := strconv.ParseInt(v, 10, 64); parseErr == nil {
			return n, nil
		}
	}
	return k.configInt(ctx, "max-pop-retry")
}

// Pop implements queue.pop (spec §4.2).
func (k *Kernel) Pop(ctx context.Context, now float64, queue, worker string, count int) ([]*Job, error) {
	return op(k, ctx, "queue.pop", func(ctx context.Context, ob *outbox) ([]*Job, error) {
		paused, err := k.isPaused(ctx, queue)
		if err != nil {
			return nil, err
		}
		if paused {
			return []*Job{}, nil
		}
		if err := k.expandRecurring(ctx, ob, now, queue); err != nil {
			return nil, err
		}
		if err := k.promoteScheduled(ctx, now, queue); err != nil {
			return nil, err
		}
		if err := k.stallSweep(ctx, ob, now, queue); err != nil {
			return nil, err
		}

		heartbeat, err := k.configFloat(ctx, "heartbeat")
		if err != nil {
			return nil, err
		}
		budget, err := k.maxPopRetry(ctx, queue)
		if err != nil {
			return nil, err
		}

		results := make([]*Job, 0, count)
		for len(results) < count && budget > 0 {
			cand, err := k.nextCandidate(ctx, queue)
			if err != nil {
				return nil, err
			}
			if cand == nil {
				break
			}
			if err := k.removeCandidateFromSource(ctx, queue, cand); err != nil {
				return nil, err
			}
			ok, _, err := k.tryAcquireAll(ctx, now, cand.jid, cand.job.Throttles)
			if err != nil {
				return nil, err
			}
			if !ok {
				cand.job.State = StateThrottled
				if err := k.addToThrottled(ctx, queue, cand.jid); err != nil {
					return nil, err
				}
				if err := k.saveJob(ctx, cand.job); err != nil {
					return nil, err
				}
				budget--
				continue
			}
			job := cand.job
			job.State = StateRunning
			job.Worker = worker
			job.Expires = now + heartbeat
			job.History = appendHistoryForJob(job, HistoryEntry{What: "popped", When: now, Worker: worker})
			if err := k.addToRunning(ctx, queue, job.Jid, job.Expires); err != nil {
				return nil, err
			}
			if err := k.saveJob(ctx, job); err != nil {
				return nil, err
			}
			if err := k.registerLease(ctx, worker, job.Jid, job.Expires, now); err != nil {
				return nil, err
			}
			ob.jid(chanPopped, job.Jid)
			results = append(results, job)
		}
		return results, nil
	})
}

func appendHistoryForJob(job *Job, entry HistoryEntry) []HistoryEntry {
	return appendHistory(job.History, entry, 100)
}

// Peek implements queue.peek (spec §4.2): performs the same sweep as
// pop, WITHOUT assigning leases.
func (k *Kernel) Peek(ctx context.Context, now float64, queue string, offset, count int) ([]*Job, error) {
	return op(k, ctx, "queue.peek", func(ctx context.Context, ob *outbox) ([]*Job, error) {
		if err := k.expandRecurring(ctx, ob, now, queue); err != nil {
			return nil, err
		}
		if err := k.promoteScheduled(ctx, now, queue); err != nil {
			return nil, err
		}
		if err := k.stallSweep(ctx, ob, now, queue); err != nil {
			return nil, err
		}

		stalledJids, err := k.store.SMembers(ctx, queueStalledKey(queue))
		if err != nil {
			return nil, err
		}
		stalledJobs := make([]*Job, 0, len(stalledJids))
		for _, jid := range stalledJids {
			job, ok, err := k.loadJob(ctx, jid)
			if err != nil {
				return nil, err
			}
			if ok {
				stalledJobs = append(stalledJobs, job)
			}
		}
		sortJobsByExpiresAsc(stalledJobs)

		waiting, err := k.store.ZRangeByScore(ctx, queueWaitingKey(queue), math.Inf(-1), math.Inf(1), 0, -1)
		if err != nil {
			return nil, err
		}
		waitingJobs := make([]*Job, 0, len(waiting))
		for _, m := range waiting {
			job, ok, err := k.loadJob(ctx, m.Member)
			if err != nil {
				return nil, err
			}
			if ok {
				waitingJobs = append(waitingJobs, job)
			}
		}

		all := append(stalledJobs, waitingJobs...)
		return paginateJobs(all, offset, count), nil
	})
}

func sortJobsByExpiresAsc(jobs []*Job) {
	for i := 1; i < len(jobs); i++ {
		for j := i; j > 0 && jobs[j].Expires < jobs[j-1].Expires; j-- {
			jobs[j], jobs[j-1] = jobs[j-1], jobs[j]
		}
	}
}

func paginateJobs(all []*Job, offset, count int) []*Job {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(all) {
		return []*Job{}
	}
	end := len(all)
	if count >= 0 && offset+count < end {
		end = offset + count
	}
	return all[offset:end]
}

// Counts implements queue.counts (spec §4.2). The stalled count is
// computed lazily against `now`, without requiring a sweep.
func (k *Kernel) Counts(ctx context.Context, now float64, queue string) (*Counts, error) {
	return op(k, ctx, "queue.counts", func(ctx context.Context, _ *outbox) (*Counts, error) {
		return k.countsFor(ctx, now, queue)
	})
}

func (k *Kernel) countsFor(ctx context.Context, now float64, queue string) (*Counts, error) {
	grace, err := k.configFloat(ctx, "grace-period")
	if err != nil {
		return nil, err
	}
	waiting, err := k.store.ZCard(ctx, queueWaitingKey(queue))
	if err != nil {
		return nil, err
	}
	scheduled, err := k.store.ZCard(ctx, queueScheduledKey(queue))
	if err != nil {
		return nil, err
	}
	depends, err := k.store.SCard(ctx, queueDependsKey(queue))
	if err != nil {
		return nil, err
	}
	throttled, err := k.store.SCard(ctx, queueThrottledKey(queue))
	if err != nil {
		return nil, err
	}
	recurring, err := k.store.ZCard(ctx, queueRecurringKey(queue))
	if err != nil {
		return nil, err
	}
	runningAll, err := k.store.ZRange(ctx, queueRunningKey(queue))
	if err != nil {
		return nil, err
	}
	stalledFromRunning, err := k.store.SCard(ctx, queueStalledKey(queue))
	if err != nil {
		return nil, err
	}
	var running, stalled int64
	for _, m := range runningAll {
		if m.Score+grace <= now {
			stalled++
		} else {
			running++
		}
	}
	stalled += stalledFromRunning
	paused, err := k.isPaused(ctx, queue)
	if err != nil {
		return nil, err
	}
	return &Counts{
		Waiting:   waiting,
		Running:   running,
		Stalled:   stalled,
		Scheduled: scheduled,
		Depends:   depends,
		Recurring: recurring,
		Throttled: throttled,
		Paused:    paused,
	}, nil
}

// QueuesCounts implements queues.counts (spec §4.2): the same per-queue
// report as queue.counts, for every queue that has ever received a put.
func (k *Kernel) QueuesCounts(ctx context.Context, now float64) (map[string]*Counts, error) {
	return op(k, ctx, "queues.counts", func(ctx context.Context, _ *outbox) (map[string]*Counts, error) {
		names, err := k.store.SMembers(ctx, keyQueues)
		if err != nil {
			return nil, err
		}
		out := make(map[string]*Counts, len(names))
		for _, name := range names {
			counts, err := k.countsFor(ctx, now, name)
			if err != nil {
				return nil, err
			}
			out[name] = counts
		}
		return out, nil
	})
}

// Pause/Unpause implement queue.pause/queue.unpause (spec §4.2).
func (k *Kernel) Pause(ctx context.Context, queue string) error {
	_, err := op(k, ctx, "queue.pause", func(ctx context.Context, _ *outbox) (struct{}, error) {
		return struct{}{}, k.store.Set(ctx, queuePausedKey(queue), "1", 0)
	})
	return err
}

func (k *Kernel) Unpause(ctx context.Context, queue string) error {
	_, err := op(k, ctx, "queue.unpause", func(ctx context.Context, _ *outbox) (struct{}, error) {
		return struct{}{}, k.store.Del(ctx, queuePausedKey(queue))
	})
	return err
}

// QueueNames implements queues.names: lexicographically-sorted list of
// queues that have ever received a put (spec §4.2).
func (k *Kernel) QueueNames(ctx context.Context) ([]string, error) {
	return op(k, ctx, "queues.names", func(ctx context.Context, _ *outbox) ([]string, error) {
		names, err := k.store.SMembers(ctx, keyQueues)
		if err != nil {
			return nil, err
		}
		sortStrings(names)
		return names, nil
	})
}

// JobsByState implements queue.jobsByState (spec §4.2): paginated view
// over one state's sub-store.
func (k *Kernel) JobsByState(ctx context.Context, now float64, state JobState, queue string, offset, count int) ([]string, error) {
	return op(k, ctx, "queue.jobsByState", func(ctx context.Context, ob *outbox) ([]string, error) {
		switch state {
		case StateWaiting:
			members, err := k.store.ZRangeByScore(ctx, queueWaitingKey(queue), math.Inf(-1), math.Inf(1), offset, count)
			return membersToJids(members), err
		case StateScheduled:
			members, err := k.store.ZRangeByScore(ctx, queueScheduledKey(queue), math.Inf(-1), math.Inf(1), offset, count)
			return membersToJids(members), err
		case StateDepends:
			all, err := k.store.SMembers(ctx, queueDependsKey(queue))
			if err != nil {
				return nil, err
			}
			sortStrings(all)
			return paginateStrings(all, offset, count), nil
		case StateThrottled:
			all, err := k.store.SMembers(ctx, queueThrottledKey(queue))
			if err != nil {
				return nil, err
			}
			sortStrings(all)
			return paginateStrings(all, offset, count), nil
		case StateRecurring:
			members, err := k.store.ZRangeByScore(ctx, queueRecurringKey(queue), math.Inf(-1), math.Inf(1), offset, count)
			return membersToJids(members), err
		case StateRunning:
			members, err := k.store.ZRange(ctx, queueRunningKey(queue))
			if err != nil {
				return nil, err
			}
			reverseZMembers(members)
			return paginateJids(membersToJids(members), offset, count), nil
		case StateStalled:
			if err := k.stallSweep(ctx, ob, now, queue); err != nil {
				return nil, err
			}
			stalledJids, err := k.store.SMembers(ctx, queueStalledKey(queue))
			if err != nil {
				return nil, err
			}
			jobs := make([]*Job, 0, len(stalledJids))
			for _, jid := range stalledJids {
				job, ok, err := k.loadJob(ctx, jid)
				if err != nil {
					return nil, err
				}
				if ok {
					jobs = append(jobs, job)
				}
			}
			sortJobsByExpiresAsc(jobs)
			jids := make([]string, len(jobs))
			for i, j := range jobs {
				jids[i] = j.Jid
			}
			return paginateStrings(jids, offset, count), nil
		default:
			return nil, fErr(ErrMalformedArgs, "unknown state %s", state)
		}
	})
}

// StateRecurring is an additional pagination target for jobsByState
// (spec §4.2 "states = waiting, running, stalled, scheduled, depends,
// recurring, throttled"). It is not a Job.State value (recurring
// templates are a distinct entity, spec §3).
const StateRecurring JobState = "recurring"

func membersToJids(members []store.ZMember) []string {
	out := make([]string, len(members))
	for i, m := range members {
		out[i] = m.Member
	}
	return out
}

func reverseZMembers(members []store.ZMember) {
	for i, j := 0, len(members)-1; i < j; i, j = i+1, j-1 {
		members[i], members[j] = members[j], members[i]
	}
}

func paginateStrings(all []string, offset, count int) []string {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(all) {
		return []string{}
	}
	end := len(all)
	if count >= 0 && offset+count < end {
		end = offset + count
	}
	return all[offset:end]
}

func paginateJids(all []string, offset, count int) []string {
	return paginateStrings(all, offset, count)
}

// Unfail implements queue.unfail (spec §4.2): drains up to count jids
// from the failure group and re-puts them to queue as fresh waiting
// jobs.
func (k *Kernel) Unfail(ctx context.Context, now float64, queue, group string, count int) (int, error) {
	return op(k, ctx, "queue.unfail", func(ctx context.Context, ob *outbox) (int, error) {
		jids, err := k.jobsFailedByGroup(ctx, group, 0, count)
		if err != nil {
			return 0, err
		}
		moved := 0
		for _, jid := range jids {
			job, ok, err := k.loadJob(ctx, jid)
			if err != nil {
				return moved, err
			}
			if !ok || job.State != StateFailed {
				continue
			}
			if err := k.clearFailureIndex(ctx, group, jid); err != nil {
				return moved, err
			}
			job.Queue = queue
			job.State = StateWaiting
			job.Failure = nil
			job.Remaining = job.Retries
			job.Throttles = reconcileImplicitThrottle(job.Throttles, queue)
			job.History = appendHistoryForJob(job, HistoryEntry{What: "put", When: now, Queue: queue})
			if err := k.addToWaiting(ctx, queue, jid, job.Priority, now); err != nil {
				return moved, err
			}
			if err := k.saveJob(ctx, job); err != nil {
				return moved, err
			}
			if err := k.registerQueue(ctx, queue); err != nil {
				return moved, err
			}
			ob.jid(chanPut, jid)
			moved++
		}
		return moved, nil
	})
}
