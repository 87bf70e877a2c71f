package kernel

import (
	"context"
	"encoding/json"
	"strconv"
)

// Dispatcher exposes the kernel's operation table under the original
// string-args invocation shape (spec §4.10, §6): a single entry point
// taking a command name, a logical `now`, and a flat argument list,
// with structured fields JSON-encoded. It exists for callers that want
// to drive the kernel the way the Lua core was driven rather than
// through Kernel's typed Go methods directly.
type Dispatcher struct {
	k *Kernel
}

// NewDispatcher wraps k.
func NewDispatcher(k *Kernel) *Dispatcher {
	return &Dispatcher{k: k}
}

// deprecatedAliases maps legacy command names (spec §4.10) to their
// canonical equivalents.
var deprecatedAliases = map[string]string{
	"put":         "queue.put",
	"pop":         "queue.pop",
	"complete":    "job.complete",
	"fail":        "job.fail",
	"cancel":      "job.cancel",
	"heartbeat":   "job.heartbeat",
	"retry":       "job.retry",
	"timeout":     "job.timeout",
	"log":         "job.log",
	"track":       "job.track",
	"tag":         "job.addTag",
	"recur":       "queue.recurAtInterval",
	"requeue":     "job.requeue",
	"unfail":      "queue.unfail",
	"get":         "job.get",
	"multiget":    "job.getMulti",
	"jobs":        "queue.jobsByState",
	"stats":       "queue.counts",
	"peek":        "queue.peek",
	"failed":      "jobs.failedByGroup",
	"priority":    "job.setPriority",
	"depends":     "job.addDependency",
	"workers":     "workers.counts",
	"queues":      "queues.names",
}

func canonicalize(command string) string {
	if canon, ok := deprecatedAliases[command]; ok {
		return canon
	}
	return command
}

func decodeStrings(raw string) ([]string, error) {
	if raw == "" {
		return nil, nil
	}
	var out []string
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, fErr(ErrMalformedArgs, "expected a JSON array of strings: %v", err)
	}
	return out, nil
}

func decodeStringMap(raw string) (map[string]string, error) {
	if raw == "" {
		return nil, nil
	}
	var out map[string]string
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, fErr(ErrMalformedArgs, "expected a JSON object of strings: %v", err)
	}
	return out, nil
}

func decodeInt(raw string, def int) (int, error) {
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fErr(ErrMalformedArgs, "expected an integer: %v", err)
	}
	return n, nil
}

func decodeFloat(raw string, def float64) (float64, error) {
	if raw == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fErr(ErrMalformedArgs, "expected a number: %v", err)
	}
	return f, nil
}

func arg(args []string, i int) string {
	if i < 0 || i >= len(args) {
		return ""
	}
	return args[i]
}

func requireArgs(args []string, n int) error {
	if len(args) < n {
		return fErr(ErrMalformedArgs, "expected at least %d arguments, got %d", n, len(args))
	}
	return nil
}

// Invoke implements the command-dispatcher described at spec §4.10 /
// §6: `now` must be nonnegative, unknown commands fail, and argument
// shape is validated before any kernel mutation runs. Structured
// results are returned as a JSON string; scalar results are returned
// as their plain string form.
func (d *Dispatcher) Invoke(ctx context.Context, command string, now float64, args ...string) (string, error) {
	if now < 0 {
		return "", fErr(ErrMissingNow, "now is %v", now)
	}
	k := d.k
	switch canonicalize(command) {

	case "queue.put":
		if err := requireArgs(args, 2); err != nil {
			return "", err
		}
		queue, jid := arg(args, 0), arg(args, 1)
		opts, err := decodePutOptions(args, 2)
		if err != nil {
			return "", err
		}
		jid, err = k.Put(ctx, now, queue, jid, opts)
		return jid, err

	case "queue.pop":
		if err := requireArgs(args, 2); err != nil {
			return "", err
		}
		queue, worker := arg(args, 0), arg(args, 1)
		count, err := decodeInt(arg(args, 2), 1)
		if err != nil {
			return "", err
		}
		jobs, err := k.Pop(ctx, now, queue, worker, count)
		if err != nil {
			return "", err
		}
		return toJSON(jobs), nil

	case "queue.peek":
		if err := requireArgs(args, 1); err != nil {
			return "", err
		}
		offset, err := decodeInt(arg(args, 1), 0)
		if err != nil {
			return "", err
		}
		count, err := decodeInt(arg(args, 2), 1)
		if err != nil {
			return "", err
		}
		jobs, err := k.Peek(ctx, now, arg(args, 0), offset, count)
		if err != nil {
			return "", err
		}
		return toJSON(jobs), nil

	case "queue.counts":
		if err := requireArgs(args, 1); err != nil {
			return "", err
		}
		counts, err := k.Counts(ctx, now, arg(args, 0))
		if err != nil {
			return "", err
		}
		return toJSON(counts), nil

	case "queues.counts":
		counts, err := k.QueuesCounts(ctx, now)
		if err != nil {
			return "", err
		}
		return toJSON(counts), nil

	case "queue.pause":
		if err := requireArgs(args, 1); err != nil {
			return "", err
		}
		return "", k.Pause(ctx, arg(args, 0))

	case "queue.unpause":
		if err := requireArgs(args, 1); err != nil {
			return "", err
		}
		return "", k.Unpause(ctx, arg(args, 0))

	case "queue.unfail":
		if err := requireArgs(args, 2); err != nil {
			return "", err
		}
		count, err := decodeInt(arg(args, 2), 25)
		if err != nil {
			return "", err
		}
		moved, err := k.Unfail(ctx, now, arg(args, 0), arg(args, 1), count)
		if err != nil {
			return "", err
		}
		return strconv.Itoa(moved), nil

	case "queues.names":
		names, err := k.QueueNames(ctx)
		if err != nil {
			return "", err
		}
		return toJSON(names), nil

	case "queue.jobsByState":
		if err := requireArgs(args, 2); err != nil {
			return "", err
		}
		offset, err := decodeInt(arg(args, 2), 0)
		if err != nil {
			return "", err
		}
		count, err := decodeInt(arg(args, 3), 25)
		if err != nil {
			return "", err
		}
		jids, err := k.JobsByState(ctx, now, JobState(arg(args, 0)), arg(args, 1), offset, count)
		if err != nil {
			return "", err
		}
		return toJSON(jids), nil

	case "job.get":
		if err := requireArgs(args, 1); err != nil {
			return "", err
		}
		job, err := k.Get(ctx, arg(args, 0))
		if err != nil {
			return "", err
		}
		if job == nil {
			return "", nil
		}
		return toJSON(job), nil

	case "job.getMulti":
		jids, err := decodeStrings(arg(args, 0))
		if err != nil {
			return "", err
		}
		jobs, err := k.GetMulti(ctx, jids)
		if err != nil {
			return "", err
		}
		return toJSON(jobs), nil

	case "job.complete", "job.completeAndRequeue":
		if err := requireArgs(args, 3); err != nil {
			return "", err
		}
		jid, worker, queue := arg(args, 0), arg(args, 1), arg(args, 2)
		var opts *CompleteOptions
		if nextQueue := arg(args, 3); nextQueue != "" {
			delay, err := decodeFloat(arg(args, 4), 0)
			if err != nil {
				return "", err
			}
			deps, err := decodeStrings(arg(args, 5))
			if err != nil {
				return "", err
			}
			opts = &CompleteOptions{NextQueue: nextQueue, Delay: delay, Depends: deps, HasDeps: arg(args, 5) != ""}
		}
		return k.Complete(ctx, now, jid, worker, queue, opts)

	case "job.fail":
		if err := requireArgs(args, 4); err != nil {
			return "", err
		}
		return k.Fail(ctx, now, arg(args, 0), arg(args, 1), arg(args, 2), arg(args, 3))

	case "job.cancel":
		jids, err := decodeStrings(arg(args, 0))
		if err != nil {
			return "", err
		}
		return "", k.Cancel(ctx, now, jids...)

	case "job.heartbeat":
		if err := requireArgs(args, 2); err != nil {
			return "", err
		}
		expires, err := k.Heartbeat(ctx, now, arg(args, 0), arg(args, 1))
		if err != nil {
			return "", err
		}
		return strconv.FormatFloat(expires, 'f', -1, 64), nil

	case "job.timeout":
		if err := requireArgs(args, 1); err != nil {
			return "", err
		}
		return "", k.Timeout(ctx, arg(args, 0))

	case "job.retry":
		if err := requireArgs(args, 3); err != nil {
			return "", err
		}
		return k.Retry(ctx, now, arg(args, 0), arg(args, 1), arg(args, 2), arg(args, 3), arg(args, 4))

	case "job.log":
		if err := requireArgs(args, 2); err != nil {
			return "", err
		}
		extra, err := decodeStringMapAny(arg(args, 2))
		if err != nil {
			return "", err
		}
		return "", k.Log(ctx, now, arg(args, 0), arg(args, 1), extra)

	case "job.setPriority":
		if err := requireArgs(args, 2); err != nil {
			return "", err
		}
		priority, err := decodeInt(arg(args, 1), 0)
		if err != nil {
			return "", err
		}
		return "", k.SetPriority(ctx, now, arg(args, 0), priority)

	case "job.track":
		if err := requireArgs(args, 1); err != nil {
			return "", err
		}
		return "", k.Track(ctx, arg(args, 0))

	case "job.untrack":
		if err := requireArgs(args, 1); err != nil {
			return "", err
		}
		return "", k.Untrack(ctx, arg(args, 0))

	case "jobs.tracked":
		tracked, err := k.TrackedJobs(ctx)
		if err != nil {
			return "", err
		}
		return toJSON(tracked), nil

	case "job.addDependency":
		if err := requireArgs(args, 2); err != nil {
			return "", err
		}
		return "", k.AddDependency(ctx, arg(args, 0), arg(args, 1))

	case "job.removeDependency":
		if err := requireArgs(args, 2); err != nil {
			return "", err
		}
		return "", k.RemoveDependency(ctx, now, arg(args, 0), arg(args, 1))

	case "job.requeue":
		if err := requireArgs(args, 2); err != nil {
			return "", err
		}
		queue, jid := arg(args, 0), arg(args, 1)
		opts, err := decodePutOptions(args, 2)
		if err != nil {
			return "", err
		}
		return k.Requeue(ctx, now, queue, jid, opts)

	case "job.addTag":
		if err := requireArgs(args, 2); err != nil {
			return "", err
		}
		return "", k.AddTag(ctx, now, arg(args, 0), arg(args, 1))

	case "job.removeTag":
		if err := requireArgs(args, 2); err != nil {
			return "", err
		}
		return "", k.RemoveTag(ctx, arg(args, 0), arg(args, 1))

	case "jobs.tagged":
		if err := requireArgs(args, 1); err != nil {
			return "", err
		}
		offset, err := decodeInt(arg(args, 1), 0)
		if err != nil {
			return "", err
		}
		count, err := decodeInt(arg(args, 2), 25)
		if err != nil {
			return "", err
		}
		jids, err := k.JobsTagged(ctx, arg(args, 0), offset, count)
		if err != nil {
			return "", err
		}
		return toJSON(jids), nil

	case "tags.top":
		offset, err := decodeInt(arg(args, 0), 0)
		if err != nil {
			return "", err
		}
		count, err := decodeInt(arg(args, 1), 25)
		if err != nil {
			return "", err
		}
		tags, err := k.TagsTop(ctx, offset, count)
		if err != nil {
			return "", err
		}
		return toJSON(tags), nil

	case "failureGroups.counts":
		groups, err := k.FailureGroupsCounts(ctx)
		if err != nil {
			return "", err
		}
		return toJSON(groups), nil

	case "jobs.failedByGroup":
		if err := requireArgs(args, 1); err != nil {
			return "", err
		}
		offset, err := decodeInt(arg(args, 1), 0)
		if err != nil {
			return "", err
		}
		count, err := decodeInt(arg(args, 2), 25)
		if err != nil {
			return "", err
		}
		jids, err := k.JobsFailedByGroup(ctx, arg(args, 0), offset, count)
		if err != nil {
			return "", err
		}
		return toJSON(jids), nil

	case "worker.jobs":
		if err := requireArgs(args, 1); err != nil {
			return "", err
		}
		res, err := k.WorkerJobs(ctx, now, arg(args, 0))
		if err != nil {
			return "", err
		}
		return toJSON(res), nil

	case "workers.counts":
		res, err := k.WorkersCounts(ctx, now)
		if err != nil {
			return "", err
		}
		return toJSON(res), nil

	case "worker.forget":
		if err := requireArgs(args, 1); err != nil {
			return "", err
		}
		return "", k.WorkerForget(ctx, arg(args, 0))

	case "throttle.set":
		if err := requireArgs(args, 2); err != nil {
			return "", err
		}
		maximum, err := decodeInt(arg(args, 1), 0)
		if err != nil {
			return "", err
		}
		ttl, err := decodeInt(arg(args, 2), 0)
		if err != nil {
			return "", err
		}
		return "", k.ThrottleSet(ctx, now, arg(args, 0), maximum, int64(ttl))

	case "throttle.get":
		if err := requireArgs(args, 1); err != nil {
			return "", err
		}
		t, err := k.ThrottleGet(ctx, now, arg(args, 0))
		if err != nil {
			return "", err
		}
		return toJSON(t), nil

	case "throttle.ttl":
		if err := requireArgs(args, 1); err != nil {
			return "", err
		}
		ttl, err := k.ThrottleTTL(ctx, now, arg(args, 0))
		if err != nil {
			return "", err
		}
		return strconv.FormatInt(ttl, 10), nil

	case "throttle.delete":
		if err := requireArgs(args, 1); err != nil {
			return "", err
		}
		return "", k.ThrottleDelete(ctx, arg(args, 0))

	case "throttle.locks":
		if err := requireArgs(args, 1); err != nil {
			return "", err
		}
		jids, err := k.ThrottleLocks(ctx, arg(args, 0))
		if err != nil {
			return "", err
		}
		return toJSON(jids), nil

	case "throttle.pending":
		if err := requireArgs(args, 1); err != nil {
			return "", err
		}
		jids, err := k.ThrottlePending(ctx, arg(args, 0))
		if err != nil {
			return "", err
		}
		return toJSON(jids), nil

	case "throttle.release":
		if err := requireArgs(args, 1); err != nil {
			return "", err
		}
		jids, err := decodeStrings(arg(args, 1))
		if err != nil {
			return "", err
		}
		return "", k.ThrottleRelease(ctx, arg(args, 0), jids...)

	case "queue.throttle.set":
		if err := requireArgs(args, 2); err != nil {
			return "", err
		}
		maximum, err := decodeInt(arg(args, 1), 0)
		if err != nil {
			return "", err
		}
		return "", k.QueueThrottleSet(ctx, now, arg(args, 0), maximum)

	case "queue.throttle.get":
		if err := requireArgs(args, 1); err != nil {
			return "", err
		}
		t, err := k.QueueThrottleGet(ctx, now, arg(args, 0))
		if err != nil {
			return "", err
		}
		return toJSON(t), nil

	case "queue.recurAtInterval":
		if err := requireArgs(args, 5); err != nil {
			return "", err
		}
		queue, jid, klass, data := arg(args, 0), arg(args, 1), arg(args, 2), arg(args, 3)
		interval, err := decodeFloat(arg(args, 4), 0)
		if err != nil {
			return "", err
		}
		offset, err := decodeFloat(arg(args, 5), 0)
		if err != nil {
			return "", err
		}
		opts, err := decodeRecurOptions(args, 6)
		if err != nil {
			return "", err
		}
		t, err := k.RecurAtInterval(ctx, now, queue, jid, klass, data, interval, offset, opts)
		if err != nil {
			return "", err
		}
		return toJSON(t), nil

	case "recurringJob.get":
		if err := requireArgs(args, 1); err != nil {
			return "", err
		}
		t, err := k.RecurringGet(ctx, arg(args, 0))
		if err != nil {
			return "", err
		}
		if t == nil {
			return "", nil
		}
		return toJSON(t), nil

	case "recurringJob.cancel":
		if err := requireArgs(args, 1); err != nil {
			return "", err
		}
		return "", k.RecurringCancel(ctx, arg(args, 0))

	case "recurringJob.addTag":
		if err := requireArgs(args, 2); err != nil {
			return "", err
		}
		return "", k.RecurringAddTag(ctx, arg(args, 0), arg(args, 1))

	case "recurringJob.removeTag":
		if err := requireArgs(args, 2); err != nil {
			return "", err
		}
		return "", k.RecurringRemoveTag(ctx, arg(args, 0), arg(args, 1))

	case "config.get":
		if err := requireArgs(args, 1); err != nil {
			return "", err
		}
		return k.ConfigGet(ctx, arg(args, 0))

	case "config.getAll":
		all, err := k.ConfigGetAll(ctx)
		if err != nil {
			return "", err
		}
		return toJSON(all), nil

	case "config.set":
		if err := requireArgs(args, 2); err != nil {
			return "", err
		}
		return "", k.ConfigSet(ctx, arg(args, 0), arg(args, 1))

	case "config.unset":
		if err := requireArgs(args, 1); err != nil {
			return "", err
		}
		return "", k.ConfigUnset(ctx, arg(args, 0))

	case "config.identifierPatterns.getAll":
		patterns, err := k.IdentifierPatternsGetAll(ctx)
		if err != nil {
			return "", err
		}
		return toJSON(patterns), nil

	case "config.identifierPatterns.setAll":
		var patterns map[string][]string
		if err := json.Unmarshal([]byte(arg(args, 0)), &patterns); err != nil {
			return "", fErr(ErrMalformedArgs, "expected a JSON object of string arrays: %v", err)
		}
		return "", k.IdentifierPatternsSetAll(ctx, patterns)

	case "config.priorityPatterns.getAll":
		patterns, err := k.PriorityPatternsGetAll(ctx)
		if err != nil {
			return "", err
		}
		return toJSON(patterns), nil

	case "config.priorityPatterns.setAll":
		var patterns []PriorityPattern
		if err := json.Unmarshal([]byte(arg(args, 0)), &patterns); err != nil {
			return "", fErr(ErrMalformedArgs, "expected a JSON array of priority patterns: %v", err)
		}
		return "", k.PriorityPatternsSetAll(ctx, patterns)

	default:
		return "", fErr(ErrUnknownCommand, "command %q", command)
	}
}

// decodePutOptions parses queue.put/job.requeue's trailing optional
// args, in the order the original command table accepts them: klass,
// data, delay, [priority, tags, depends, retries, throttles] as a
// trailing JSON object of overrides (spec §4.1, §6 "JSON is used for
// structured arguments").
func decodePutOptions(args []string, from int) (PutOptions, error) {
	opts := PutOptions{
		Klass: arg(args, from),
		Data:  arg(args, from+1),
	}
	delay, err := decodeFloat(arg(args, from+2), 0)
	if err != nil {
		return opts, err
	}
	opts.Delay = delay

	raw := arg(args, from+3)
	if raw == "" {
		return opts, nil
	}
	var overrides struct {
		Priority  *int     `json:"priority"`
		Tags      []string `json:"tags"`
		Depends   []string `json:"depends"`
		Retries   *int     `json:"retries"`
		Throttles []string `json:"throttles"`
	}
	if err := json.Unmarshal([]byte(raw), &overrides); err != nil {
		return opts, fErr(ErrMalformedArgs, "expected a JSON object of put overrides: %v", err)
	}
	opts.Priority = overrides.Priority
	opts.Retries = overrides.Retries
	if overrides.Tags != nil {
		opts.Tags = overrides.Tags
		opts.HasTags = true
	}
	if overrides.Depends != nil {
		opts.Depends = overrides.Depends
		opts.HasDeps = true
	}
	if overrides.Throttles != nil {
		opts.Throttles = overrides.Throttles
		opts.HasThrott = true
	}
	return opts, nil
}

func decodeRecurOptions(args []string, from int) (RecurAtIntervalOptions, error) {
	raw := arg(args, from)
	if raw == "" {
		return RecurAtIntervalOptions{}, nil
	}
	var overrides struct {
		Priority  int      `json:"priority"`
		Retries   int      `json:"retries"`
		Backlog   int      `json:"backlog"`
		Tags      []string `json:"tags"`
		Throttles []string `json:"throttles"`
	}
	if err := json.Unmarshal([]byte(raw), &overrides); err != nil {
		return RecurAtIntervalOptions{}, fErr(ErrMalformedArgs, "expected a JSON object of recur overrides: %v", err)
	}
	return RecurAtIntervalOptions{
		Priority:  overrides.Priority,
		Retries:   overrides.Retries,
		Backlog:   overrides.Backlog,
		Tags:      overrides.Tags,
		Throttles: overrides.Throttles,
	}, nil
}

func decodeStringMapAny(raw string) (map[string]interface{}, error) {
	if raw == "" {
		return nil, nil
	}
	var out map[string]interface{}
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, fErr(ErrMalformedArgs, "expected a JSON object: %v", err)
	}
	return out, nil
}
