package kernel

import (
	"context"
)

// WorkerJob is one entry in a worker's lease index.
type WorkerJob struct {
	Jid     string
	Expires float64
}

// WorkerCount is one row of workers.counts.
type WorkerCount struct {
	Name    string `json:"name"`
	Jobs    int    `json:"jobs"`
	Stalled int    `json:"stalled"`
}

// registerLease adds (jid, expires) to worker's lease index and
// refreshes the worker's last-activity score in the known-workers
// index (spec §4.6).
func (k *Kernel) registerLease(ctx context.Context, worker string, jid string, expires, now float64) error {
	if err := k.store.ZAdd(ctx, workerJobsKey(worker), expires, jid); err != nil {
		return err
	}
	return k.touchWorker(ctx, worker, now)
}

func (k *Kernel) touchWorker(ctx context.Context, worker string, now float64) error {
	return k.store.ZAdd(ctx, keyWorkers, now, worker)
}

func (k *Kernel) releaseLease(ctx context.Context, worker, jid string) error {
	if worker == "" {
		return nil
	}
	return k.store.ZRem(ctx, workerJobsKey(worker), jid)
}

func (k *Kernel) forgetWorker(ctx context.Context, worker string) error {
	if err := k.store.Del(ctx, workerJobsKey(worker)); err != nil {
		return err
	}
	return k.store.ZRem(ctx, keyWorkers, worker)
}

// workerJobs partitions a worker's lease index into still-live vs
// stalled-past-grace (spec §4.6 "worker.jobs").
func (k *Kernel) workerJobs(ctx context.Context, now float64, worker string) (live, stalled []string, err error) {
	grace, err := k.configFloat(ctx, "grace-period")
	if err != nil {
		return nil, nil, err
	}
	all, err := k.store.ZRange(ctx, workerJobsKey(worker))
	if err != nil {
		return nil, nil, err
	}
	for _, m := range all {
		if m.Score+grace <= now {
			stalled = append(stalled, m.Member)
		} else {
			live = append(live, m.Member)
		}
	}
	return live, stalled, nil
}

// workersCounts lists {name, jobs, stalled} for workers active within
// max-worker-age seconds (spec §4.6 "workers.counts").
func (k *Kernel) workersCounts(ctx context.Context, now float64) ([]WorkerCount, error) {
	maxAge, err := k.configFloat(ctx, "max-worker-age")
	if err != nil {
		return nil, err
	}
	all, err := k.store.ZRange(ctx, keyWorkers)
	if err != nil {
		return nil, err
	}
	out := make([]WorkerCount, 0, len(all))
	for _, m := range all {
		if now-m.Score > maxAge {
			continue
		}
		live, stalled, err := k.workerJobs(ctx, now, m.Member)
		if err != nil {
			return nil, err
		}
		out = append(out, WorkerCount{Name: m.Member, Jobs: len(live), Stalled: len(stalled)})
	}
	return out, nil
}

