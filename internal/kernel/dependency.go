package kernel

import "context"

// resolveDependenciesAtPut partitions the dependency list supplied to
// queue.put: jids that don't exist, or that are already complete, are
// dropped (spec §4.4 "Nonexistent dependencies are treated as already
// complete at put time"); everything else is returned as the job's
// live Dependencies set, and jid is registered on each of those
// dependencies' Dependents sets.
func (k *Kernel) resolveDependenciesAtPut(ctx context.Context, jid string, deps []string) ([]string, error) {
	live := make([]string, 0, len(deps))
	for _, d := range deps {
		dep, ok, err := k.loadJob(ctx, d)
		if err != nil {
			return nil, err
		}
		if !ok || dep.State == StateComplete {
			continue
		}
		if !containsString(dep.Dependents, jid) {
			dep.Dependents = addStringSorted(dep.Dependents, jid)
			if err := k.saveJob(ctx, dep); err != nil {
				return nil, err
			}
		}
		live = append(live, d)
	}
	sortStrings(live)
	return live, nil
}

// unlockDependents is invoked when jid completes (spec §4.1 "Complete
// semantics: On successful unblocking"). For every dependent d, jid is
// removed from d.Dependencies; if that empties d's Dependencies, d is
// promoted out of the depends state into scheduled (if a ready time is
// still pending, tracked in d.Expires while depends) or waiting.
func (k *Kernel) unlockDependents(ctx context.Context, ob *outbox, jid string, now float64) error {
	job, ok, err := k.loadJob(ctx, jid)
	if err != nil || !ok {
		return err
	}
	for _, depJid := range append([]string{}, job.Dependents...) {
		dep, ok, err := k.loadJob(ctx, depJid)
		if err != nil {
			return err
		}
		if !ok || dep.State != StateDepends {
			continue
		}
		dep.Dependencies = removeString(dep.Dependencies, jid)
		if len(dep.Dependencies) > 0 {
			if err := k.saveJob(ctx, dep); err != nil {
				return err
			}
			continue
		}
		if err := k.store.SRem(ctx, queueDependsKey(dep.Queue), dep.Jid); err != nil {
			return err
		}
		if dep.Expires > now {
			dep.State = StateScheduled
			if err := k.addToScheduled(ctx, dep.Queue, dep.Jid, dep.Expires); err != nil {
				return err
			}
		} else {
			dep.State = StateWaiting
			dep.Expires = 0
			if err := k.addToWaiting(ctx, dep.Queue, dep.Jid, dep.Priority, now); err != nil {
				return err
			}
		}
		if err := k.saveJob(ctx, dep); err != nil {
			return err
		}
		ob.log("unlocked", map[string]interface{}{"jid": dep.Jid, "queue": dep.Queue})
	}
	return nil
}

// addDependency is only valid while job is in the depends state (spec
// §4.4).
func (k *Kernel) addDependency(ctx context.Context, jid, dependsOn string) error {
	job, ok, err := k.loadJob(ctx, jid)
	if err != nil {
		return err
	}
	if !ok {
		return errJobNotFound(jid)
	}
	if job.State != StateDepends {
		return fErr(ErrState, "job %s is %s, not in the depends state", jid, job.State)
	}
	depJob, ok, err := k.loadJob(ctx, dependsOn)
	if err != nil {
		return err
	}
	if !ok || depJob.State == StateComplete {
		return nil
	}
	job.Dependencies = addStringSorted(job.Dependencies, dependsOn)
	depJob.Dependents = addStringSorted(depJob.Dependents, jid)
	if err := k.saveJob(ctx, depJob); err != nil {
		return err
	}
	return k.saveJob(ctx, job)
}

// removeDependency removes dependsOn from job's Dependencies, promoting
// job out of depends if that empties the set.
func (k *Kernel) removeDependency(ctx context.Context, now float64, ob *outbox, jid, dependsOn string) error {
	job, ok, err := k.loadJob(ctx, jid)
	if err != nil {
		return err
	}
	if !ok {
		return errJobNotFound(jid)
	}
	if job.State != StateDepends {
		return fErr(ErrState, "job %s is %s, not in the depends state", jid, job.State)
	}
	job.Dependencies = removeString(job.Dependencies, dependsOn)
	if depJob, ok, err := k.loadJob(ctx, dependsOn); err == nil && ok {
		depJob.Dependents = removeString(depJob.Dependents, jid)
		_ = k.saveJob(ctx, depJob)
	}
	if len(job.Dependencies) > 0 {
		return k.saveJob(ctx, job)
	}
	if err := k.store.SRem(ctx, queueDependsKey(job.Queue), jid); err != nil {
		return err
	}
	if job.Expires > now {
		job.State = StateScheduled
		if err := k.addToScheduled(ctx, job.Queue, jid, job.Expires); err != nil {
			return err
		}
	} else {
		job.State = StateWaiting
		job.Expires = 0
		if err := k.addToWaiting(ctx, job.Queue, jid, job.Priority, now); err != nil {
			return err
		}
	}
	if err := k.saveJob(ctx, job); err != nil {
		return err
	}
	if ob != nil {
		ob.log("unlocked", map[string]interface{}{"jid": jid, "queue": job.Queue})
	}
	return nil
}
