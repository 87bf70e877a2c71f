// Package kernel implements the reqless job-queueing kernel: the
// transactional data model and operation set described by spec.md — job
// lifecycle, queue engine, throttle engine, dependency resolver,
// recurring-job expander, worker registry, tag/failure indices, and the
// event bus that accompanies every mutation.
//
// The kernel never talks to a network or a file system; it is driven
// entirely through Kernel's exported methods (or, for callers that want
// the original string-args invocation shape, through Dispatcher.Invoke).
// Every method takes `now` explicitly, exactly like the Lua core this
// was distilled from: the kernel has no wall-clock dependency of its
// own, which is what makes every operation deterministically testable.
package kernel

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/reqless-go/reqless/internal/pkg/logger"
	"github.com/reqless-go/reqless/internal/store"
)

// Kernel is the single shared aggregate all command handlers operate
// against. It is safe for concurrent use: Invoke/the exported operation
// methods serialize on an internal mutex so that, from a caller's point
// of view, each operation is atomic — the "single-threaded cooperative"
// model spec §5 describes. The store itself may be shared by multiple
// Kernel instances (e.g. one per process talking to the same Redis); in
// that case atomicity is only as strong as the store's own guarantees,
// same caveat spec §9's redesign notes call out.
type Kernel struct {
	store store.Store
	log   *logger.Logger

	mu  sync.Mutex
	seq uint64
}

// New constructs a Kernel over the given store. log may be nil, in which
// case logging is a no-op (mirrors the teacher's nil-safe *Logger use).
func New(st store.Store, log *logger.Logger) *Kernel {
	if log == nil {
		log = logger.Noop()
	}
	return &Kernel{store: st, log: log.With("component", "kernel")}
}

// op centralizes the boilerplate every command handler needs: acquire
// the kernel mutex, build a fresh outbox, run fn, and on success flush
// the outbox's events in the same call before releasing the mutex (spec
// §4.8: "An event is emitted AFTER the state change is committed within
// the same atomic operation"). fn must not mutate state before
// validating its inputs; a returned error aborts before any flush.
func op[T any](k *Kernel, ctx context.Context, name string, fn func(ctx context.Context, ob *outbox) (T, error)) (T, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	opID := uuid.NewString()
	log := k.log.With("op", name, "op_id", opID)

	ob := &outbox{}
	result, err := fn(ctx, ob)
	if err != nil {
		var zero T
		log.Debug("operation rejected", "error", err.Error())
		return zero, err
	}
	if flushErr := k.flush(ctx, ob); flushErr != nil {
		log.Warn("event flush failed", "error", flushErr.Error())
	}
	log.Debug("operation committed")
	return result, nil
}

func (k *Kernel) nextSeq() uint64 {
	k.seq++
	return k.seq
}

func (k *Kernel) loadJob(ctx context.Context, jid string) (*Job, bool, error) {
	raw, ok, err := k.store.Get(ctx, jobKey(jid))
	if err != nil || !ok {
		return nil, false, err
	}
	var j Job
	if err := fromJSON(raw, &j); err != nil {
		return nil, false, err
	}
	return &j, true, nil
}

func (k *Kernel) saveJob(ctx context.Context, j *Job) error {
	return k.store.Set(ctx, jobKey(j.Jid), toJSON(j), 0)
}

func (k *Kernel) deleteJob(ctx context.Context, jid string) error {
	return k.store.Del(ctx, jobKey(jid))
}

// registerQueue marks queue as known (spec §4.2 "queues.names").
func (k *Kernel) registerQueue(ctx context.Context, queue string) error {
	return k.store.SAdd(ctx, keyQueues, queue)
}
