package kernel

import "context"

// recordFailure indexes jid under its failure group (spec §4.7
// "Failure groups"), scored by `now` so the group can later be paginated
// newest-failed-first.
func (k *Kernel) recordFailure(ctx context.Context, now float64, group, jid string) error {
	if err := k.store.SAdd(ctx, keyFailureGroups, group); err != nil {
		return err
	}
	return k.store.ZAdd(ctx, failureGroupKey(group), now, jid)
}

func (k *Kernel) clearFailureIndex(ctx context.Context, group, jid string) error {
	return k.store.ZRem(ctx, failureGroupKey(group), jid)
}

// failureGroupsCounts returns {group: count} (spec §4.7
// "failureGroups.counts").
func (k *Kernel) failureGroupsCounts(ctx context.Context) (map[string]int64, error) {
	groups, err := k.store.SMembers(ctx, keyFailureGroups)
	if err != nil {
		return nil, err
	}
	out := make(map[string]int64, len(groups))
	for _, g := range groups {
		n, err := k.store.ZCard(ctx, failureGroupKey(g))
		if err != nil {
			return nil, err
		}
		if n > 0 {
			out[g] = n
		}
	}
	return out, nil
}

// jobsFailedByGroup paginates newest-failed-first (spec §4.7
// "jobs.failedByGroup").
func (k *Kernel) jobsFailedByGroup(ctx context.Context, group string, offset, count int) ([]string, error) {
	members, err := k.store.ZRange(ctx, failureGroupKey(group))
	if err != nil {
		return nil, err
	}
	return paginateReversedMembers(members, offset, count), nil
}
