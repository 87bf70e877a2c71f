package kernel

import "fmt"

// Key builders for the ql:* namespace described in spec §6. Centralizing
// them keeps every component composing keys the same way, the same role
// the teacher's repo gives its dbctx/ctxutil key helpers.

func jobKey(jid string) string { return "ql:j:" + jid }

func recurringKey(jid string) string { return "ql:r:" + jid }

func queueKey(queue, sub string) string { return fmt.Sprintf("ql:q:%s:%s", queue, sub) }

func queueWaitingKey(queue string) string   { return queueKey(queue, "waiting") }
func queueScheduledKey(queue string) string { return queueKey(queue, "scheduled") }
func queueDependsKey(queue string) string   { return queueKey(queue, "depends") }
func queueRunningKey(queue string) string   { return queueKey(queue, "running") }
func queueStalledKey(queue string) string   { return queueKey(queue, "stalled") }
func queueThrottledKey(queue string) string { return queueKey(queue, "throttled") }
func queueRecurringKey(queue string) string { return queueKey(queue, "recurring") }
func queuePausedKey(queue string) string    { return queueKey(queue, "paused") }

func throttleKey(id string) string        { return "ql:th:" + id }
func throttleLocksKey(id string) string   { return "ql:th:" + id + ":locks" }
func throttlePendingKey(id string) string { return "ql:th:" + id + ":pending" }

func workerJobsKey(worker string) string { return "ql:w:" + worker + ":jobs" }

func tagKey(tag string) string { return "ql:tag:" + tag }

func failureGroupKey(group string) string { return "ql:f:" + group }

const (
	keyConfig           = "ql:config"
	keyTracked          = "ql:tracked"
	keyQueues           = "ql:queues"
	keyTags             = "ql:tags"
	keyFailureGroups    = "ql:failure-groups"
	keyWorkers          = "ql:workers"
	keyPatternsIdents   = "ql:qp:identifiers"
	keyPatternsPriority = "ql:qp:priorities"

	// legacyKeyPatternsIdents/legacyKeyPatternsPriority are accepted on
	// read for compatibility with pre-rename deployments.
	legacyKeyPatternsIdents   = "qmore:dynamic"
	legacyKeyPatternsPriority = "qmore:priority"
)

// implicitThrottleID returns the always-appended per-queue throttle id.
func implicitThrottleID(queue string) string { return "ql:q:" + queue }

const (
	chanLog       = "ql:log"
	chanPut       = "ql:put"
	chanPopped    = "ql:popped"
	chanCompleted = "ql:completed"
	chanFailed    = "ql:failed"
	chanStalled   = "ql:stalled"
	chanCanceled  = "ql:canceled"
	chanTrack     = "ql:track"
	chanUntrack   = "ql:untrack"
)

func workerChannel(worker string) string { return "ql:w:" + worker }
