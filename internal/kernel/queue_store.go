package kernel

import "context"

// removeFromQueueSubstores strips jid from every sub-store of queue
// (spec §3 Queue invariants: "Moving a job to another queue removes it
// from all sub-stores of the origin"). Safe to call even if jid isn't a
// member of some/all of them.
func (k *Kernel) removeFromQueueSubstores(ctx context.Context, queue, jid string) error {
	if queue == "" {
		return nil
	}
	if err := k.store.ZRem(ctx, queueWaitingKey(queue), jid); err != nil {
		return err
	}
	if err := k.store.ZRem(ctx, queueScheduledKey(queue), jid); err != nil {
		return err
	}
	if err := k.store.SRem(ctx, queueDependsKey(queue), jid); err != nil {
		return err
	}
	if err := k.store.ZRem(ctx, queueRunningKey(queue), jid); err != nil {
		return err
	}
	if err := k.store.SRem(ctx, queueStalledKey(queue), jid); err != nil {
		return err
	}
	if err := k.store.SRem(ctx, queueThrottledKey(queue), jid); err != nil {
		return err
	}
	return nil
}

func (k *Kernel) addToWaiting(ctx context.Context, queue, jid string, priority int, putTime float64) error {
	score := waitingScore(priority, putTime, k.nextSeq())
	return k.store.ZAdd(ctx, queueWaitingKey(queue), score, jid)
}

func (k *Kernel) addToScheduled(ctx context.Context, queue, jid string, readyAt float64) error {
	return k.store.ZAdd(ctx, queueScheduledKey(queue), readyAt, jid)
}

func (k *Kernel) addToDepends(ctx context.Context, queue, jid string) error {
	return k.store.SAdd(ctx, queueDependsKey(queue), jid)
}

func (k *Kernel) addToRunning(ctx context.Context, queue, jid string, expires float64) error {
	return k.store.ZAdd(ctx, queueRunningKey(queue), expires, jid)
}

func (k *Kernel) addToStalled(ctx context.Context, queue, jid string) error {
	return k.store.SAdd(ctx, queueStalledKey(queue), jid)
}

func (k *Kernel) addToThrottled(ctx context.Context, queue, jid string) error {
	return k.store.SAdd(ctx, queueThrottledKey(queue), jid)
}

func (k *Kernel) isPaused(ctx context.Context, queue string) (bool, error) {
	_, ok, err := k.store.Get(ctx, queuePausedKey(queue))
	return ok, err
}
