package kernel

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	pkgerrors "github.com/reqless-go/reqless/internal/pkg/errors"
	"github.com/reqless-go/reqless/internal/store/memory"
)

func newTestKernel(t *testing.T) (*Kernel, *memory.Store) {
	t.Helper()
	st := memory.New()
	return New(st, nil), st
}

// S1: dependency unlock.
func TestDependencyUnlock(t *testing.T) {
	k, _ := newTestKernel(t)
	ctx := context.Background()

	_, err := k.Put(ctx, 0, "q", "a", PutOptions{Klass: "klass"})
	require.NoError(t, err)
	_, err = k.Put(ctx, 0, "q", "b", PutOptions{Klass: "klass", Depends: []string{"a"}, HasDeps: true})
	require.NoError(t, err)

	jobs, err := k.Pop(ctx, 0, "q", "worker1", 10)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	require.Equal(t, "a", jobs[0].Jid)

	_, err = k.Complete(ctx, 0, "a", "worker1", "q", nil)
	require.NoError(t, err)

	jobs, err = k.Pop(ctx, 0, "q", "worker1", 10)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	require.Equal(t, "b", jobs[0].Jid)
}

// S2: throttled pop retry.
func TestThrottledPopRetry(t *testing.T) {
	k, _ := newTestKernel(t)
	ctx := context.Background()

	require.NoError(t, k.ThrottleSet(ctx, 0, "tid1", 1, 0))
	require.NoError(t, k.ThrottleSet(ctx, 0, "tid2", 1, 0))
	require.NoError(t, k.ConfigSet(ctx, "max-pop-retry", "99"))

	_, err := k.Put(ctx, 0, "q", "jid1", PutOptions{Throttles: []string{"tid1"}, HasThrott: true})
	require.NoError(t, err)
	_, err = k.Put(ctx, 1, "q", "jid2", PutOptions{Throttles: []string{"tid1"}, HasThrott: true})
	require.NoError(t, err)
	_, err = k.Put(ctx, 2, "q", "jid3", PutOptions{Throttles: []string{"tid2"}, HasThrott: true})
	require.NoError(t, err)
	_, err = k.Put(ctx, 3, "q", "jid4", PutOptions{Throttles: []string{"tid2"}, HasThrott: true})
	require.NoError(t, err)

	jobs, err := k.Pop(ctx, 4, "q", "worker1", 2)
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	require.Equal(t, "jid1", jobs[0].Jid)
	require.Equal(t, "jid3", jobs[1].Jid)

	locks1, err := k.ThrottleLocks(ctx, "tid1")
	require.NoError(t, err)
	require.Equal(t, []string{"jid1"}, locks1)

	locks2, err := k.ThrottleLocks(ctx, "tid2")
	require.NoError(t, err)
	require.Equal(t, []string{"jid3"}, locks2)

	pending1, err := k.ThrottlePending(ctx, "tid1")
	require.NoError(t, err)
	require.Equal(t, []string{"jid2"}, pending1)

	remaining, err := k.Peek(ctx, 5, "q", 0, 10)
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	require.Equal(t, "jid4", remaining[0].Jid)
}

// S3: stall detection.
func TestStallDetection(t *testing.T) {
	k, _ := newTestKernel(t)
	ctx := context.Background()

	require.NoError(t, k.ConfigSet(ctx, "grace-period", "0"))
	_, err := k.Put(ctx, 0, "q", "jid", PutOptions{})
	require.NoError(t, err)

	jobs, err := k.Pop(ctx, 0, "q", "worker1", 1)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	require.Equal(t, float64(60), jobs[0].Expires)

	jobs, err = k.Pop(ctx, 70, "q", "worker1", 1)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	require.Equal(t, "jid", jobs[0].Jid)
	require.Equal(t, 4, jobs[0].Remaining)
}

// A stalled job that cites a named throttle must be re-poppable: it
// still holds its throttle's lock (stallSweep doesn't release
// throttles), and re-acquiring on re-pop must not count that lock
// against its own capacity.
func TestStalledJobWithNamedThrottleIsRepoppable(t *testing.T) {
	k, _ := newTestKernel(t)
	ctx := context.Background()

	require.NoError(t, k.ConfigSet(ctx, "grace-period", "0"))
	require.NoError(t, k.ThrottleSet(ctx, 0, "tid", 1, 0))

	_, err := k.Put(ctx, 0, "q", "jid", PutOptions{Throttles: []string{"tid"}, HasThrott: true})
	require.NoError(t, err)

	jobs, err := k.Pop(ctx, 0, "q", "worker1", 1)
	require.NoError(t, err)
	require.Len(t, jobs, 1)

	jobs, err = k.Pop(ctx, 70, "q", "worker2", 1)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	require.Equal(t, "jid", jobs[0].Jid)
	require.Equal(t, StateRunning, jobs[0].State)

	locks, err := k.ThrottleLocks(ctx, "tid")
	require.NoError(t, err)
	require.Equal(t, []string{"jid"}, locks)
}

// S4: retries exhausted.
func TestRetriesExhausted(t *testing.T) {
	k, _ := newTestKernel(t)
	ctx := context.Background()

	require.NoError(t, k.ConfigSet(ctx, "grace-period", "0"))
	retries := 0
	_, err := k.Put(ctx, 0, "queue", "jid", PutOptions{Retries: &retries})
	require.NoError(t, err)

	_, err = k.Pop(ctx, 0, "queue", "worker1", 1)
	require.NoError(t, err)

	jobs, err := k.Pop(ctx, 70, "queue", "worker1", 1)
	require.NoError(t, err)
	require.Empty(t, jobs)

	job, err := k.Get(ctx, "jid")
	require.NoError(t, err)
	require.Equal(t, StateFailed, job.State)
	require.Equal(t, "failed-retries-queue", job.Failure.Group)
}

// S5: recurring expansion.
func TestRecurringExpansion(t *testing.T) {
	k, _ := newTestKernel(t)
	ctx := context.Background()

	_, err := k.RecurAtInterval(ctx, 0, "q", "jid", "klass", "{}", 60, 0, RecurAtIntervalOptions{})
	require.NoError(t, err)

	jobs, err := k.Pop(ctx, 599, "q", "worker1", 10)
	require.NoError(t, err)
	require.Len(t, jobs, 10)
	for i, job := range jobs {
		require.Equal(t, float64(i*60), job.History[0].When)
	}
}

// S6: cancel chain.
func TestCancelChain(t *testing.T) {
	k, _ := newTestKernel(t)
	ctx := context.Background()

	_, err := k.Put(ctx, 0, "q", "a", PutOptions{})
	require.NoError(t, err)
	_, err = k.Put(ctx, 0, "q", "b", PutOptions{Depends: []string{"a"}, HasDeps: true})
	require.NoError(t, err)
	_, err = k.Put(ctx, 0, "q", "c", PutOptions{Depends: []string{"b"}, HasDeps: true})
	require.NoError(t, err)

	err = k.Cancel(ctx, 0, "a", "b")
	require.Error(t, err)

	err = k.Cancel(ctx, 0, "a", "b", "c")
	require.NoError(t, err)
}

func TestCancelChainReverseOrder(t *testing.T) {
	k, _ := newTestKernel(t)
	ctx := context.Background()

	_, err := k.Put(ctx, 0, "q", "a", PutOptions{})
	require.NoError(t, err)
	_, err = k.Put(ctx, 0, "q", "b", PutOptions{Depends: []string{"a"}, HasDeps: true})
	require.NoError(t, err)

	err = k.Cancel(ctx, 0, "b", "a")
	require.NoError(t, err)
}

// S7: move preserves fields selectively.
func TestMovePreservesFieldsSelectively(t *testing.T) {
	k, _ := newTestKernel(t)
	ctx := context.Background()

	priority := 1
	_, err := k.Put(ctx, 0, "q1", "x", PutOptions{Priority: &priority})
	require.NoError(t, err)

	_, err = k.Put(ctx, 0, "q2", "x", PutOptions{})
	require.NoError(t, err)
	job, err := k.Get(ctx, "x")
	require.NoError(t, err)
	require.Equal(t, 1, job.Priority)
	require.Equal(t, "q2", job.Queue)

	priority2 := 2
	_, err = k.Put(ctx, 0, "q2", "x", PutOptions{Priority: &priority2})
	require.NoError(t, err)
	job, err = k.Get(ctx, "x")
	require.NoError(t, err)
	require.Equal(t, 2, job.Priority)
}

func TestFailAndUnfail(t *testing.T) {
	k, _ := newTestKernel(t)
	ctx := context.Background()

	_, err := k.Put(ctx, 0, "q", "jid", PutOptions{})
	require.NoError(t, err)
	_, err = k.Pop(ctx, 0, "q", "worker1", 1)
	require.NoError(t, err)

	_, err = k.Fail(ctx, 0, "jid", "worker1", "group1", "boom")
	require.NoError(t, err)

	job, err := k.Get(ctx, "jid")
	require.NoError(t, err)
	require.Equal(t, StateFailed, job.State)

	counts, err := k.FailureGroupsCounts(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), counts["group1"])

	moved, err := k.Unfail(ctx, 0, "q", "group1", 10)
	require.NoError(t, err)
	require.Equal(t, 1, moved)

	job, err = k.Get(ctx, "jid")
	require.NoError(t, err)
	require.Equal(t, StateWaiting, job.State)
}

func TestTrackUntrack(t *testing.T) {
	k, _ := newTestKernel(t)
	ctx := context.Background()

	_, err := k.Put(ctx, 0, "q", "jid", PutOptions{})
	require.NoError(t, err)
	require.NoError(t, k.Track(ctx, "jid"))

	tracked, err := k.TrackedJobs(ctx)
	require.NoError(t, err)
	require.Len(t, tracked.Jobs, 1)
	require.Equal(t, "jid", tracked.Jobs[0].Jid)

	require.NoError(t, k.Untrack(ctx, "jid"))
	tracked, err = k.TrackedJobs(ctx)
	require.NoError(t, err)
	require.Empty(t, tracked.Jobs)
}

func TestAddRemoveTag(t *testing.T) {
	k, _ := newTestKernel(t)
	ctx := context.Background()

	_, err := k.Put(ctx, 0, "q", "jid", PutOptions{})
	require.NoError(t, err)
	require.NoError(t, k.AddTag(ctx, 0, "jid", "urgent"))

	jids, err := k.JobsTagged(ctx, "urgent", 0, 10)
	require.NoError(t, err)
	require.Equal(t, []string{"jid"}, jids)

	require.NoError(t, k.RemoveTag(ctx, "jid", "urgent"))
	jids, err = k.JobsTagged(ctx, "urgent", 0, 10)
	require.NoError(t, err)
	require.Empty(t, jids)
}

func TestWorkerForget(t *testing.T) {
	k, _ := newTestKernel(t)
	ctx := context.Background()

	_, err := k.Put(ctx, 0, "q", "jid", PutOptions{})
	require.NoError(t, err)
	_, err = k.Pop(ctx, 0, "q", "worker1", 1)
	require.NoError(t, err)

	res, err := k.WorkerJobs(ctx, 0, "worker1")
	require.NoError(t, err)
	require.Equal(t, []string{"jid"}, res.Jobs)

	require.NoError(t, k.WorkerForget(ctx, "worker1"))
	res, err = k.WorkerJobs(ctx, 0, "worker1")
	require.NoError(t, err)
	require.Empty(t, res.Jobs)
}

func TestDispatcherPutAndGet(t *testing.T) {
	k, _ := newTestKernel(t)
	d := NewDispatcher(k)
	ctx := context.Background()

	jid, err := d.Invoke(ctx, "queue.put", 0, "q", "jid", "klass", `{"x":1}`)
	require.NoError(t, err)
	require.Equal(t, "jid", jid)

	raw, err := d.Invoke(ctx, "job.get", 0, "jid")
	require.NoError(t, err)
	require.Contains(t, raw, `"jid":"jid"`)
}

func TestDispatcherRejectsNegativeNow(t *testing.T) {
	k, _ := newTestKernel(t)
	d := NewDispatcher(k)
	ctx := context.Background()

	_, err := d.Invoke(ctx, "job.get", -1, "jid")
	require.Error(t, err)
}

func TestDispatcherUnknownCommand(t *testing.T) {
	k, _ := newTestKernel(t)
	d := NewDispatcher(k)
	ctx := context.Background()

	_, err := d.Invoke(ctx, "bogus.command", 0)
	require.Error(t, err)
}

func TestDomainErrorsBridgeToGenericSentinels(t *testing.T) {
	k, _ := newTestKernel(t)
	ctx := context.Background()

	_, err := k.Get(ctx, "missing")
	require.NoError(t, err)

	_, err = k.Complete(ctx, 0, "missing", "worker1", "q", nil)
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrNotFound))
	require.True(t, errors.Is(err, pkgerrors.ErrNotFound))

	_, err = k.Put(ctx, 0, "q", "jid", PutOptions{})
	require.NoError(t, err)
	_, err = k.Pop(ctx, 0, "q", "worker1", 1)
	require.NoError(t, err)

	_, err = k.Complete(ctx, 0, "jid", "worker2", "q", nil)
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrOwnership))
	require.True(t, errors.Is(err, pkgerrors.ErrUnauthorized))
}

func TestQueuesCounts(t *testing.T) {
	k, _ := newTestKernel(t)
	ctx := context.Background()

	_, err := k.Put(ctx, 0, "q1", "a", PutOptions{})
	require.NoError(t, err)
	_, err = k.Put(ctx, 0, "q2", "b", PutOptions{})
	require.NoError(t, err)

	all, err := k.QueuesCounts(ctx, 0)
	require.NoError(t, err)
	require.Len(t, all, 2)
	require.Equal(t, int64(1), all["q1"].Waiting)
	require.Equal(t, int64(1), all["q2"].Waiting)
}

func TestThrottleTTL(t *testing.T) {
	k, _ := newTestKernel(t)
	ctx := context.Background()

	require.NoError(t, k.ThrottleSet(ctx, 0, "tid", 2, 100))
	ttl, err := k.ThrottleTTL(ctx, 40, "tid")
	require.NoError(t, err)
	require.Equal(t, int64(60), ttl)

	ttl, err = k.ThrottleTTL(ctx, 0, "missing")
	require.NoError(t, err)
	require.Equal(t, int64(-2), ttl)
}

func TestIdentifierPatternsLegacyFallback(t *testing.T) {
	k, st := newTestKernel(t)
	ctx := context.Background()

	require.NoError(t, st.HSet(ctx, "qmore:dynamic", map[string]string{"default": `["legacy-*"]`}))
	patterns, err := k.IdentifierPatternsGetAll(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"legacy-*"}, patterns["default"])
}

func TestDispatcherDeprecatedAlias(t *testing.T) {
	k, _ := newTestKernel(t)
	d := NewDispatcher(k)
	ctx := context.Background()

	jid, err := d.Invoke(ctx, "put", 0, "q", "jid", "klass", "")
	require.NoError(t, err)
	require.Equal(t, "jid", jid)
}
