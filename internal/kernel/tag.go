package kernel

import (
	"context"

	"github.com/reqless-go/reqless/internal/store"
)

// addTagToIndex updates the tag->jid inverted index and the tag
// popularity ranking when a tag is added to a job (spec §4.7).
func (k *Kernel) addTagToIndex(ctx context.Context, now float64, tag, jid string) error {
	if err := k.store.ZAdd(ctx, tagKey(tag), now, jid); err != nil {
		return err
	}
	count, err := k.store.ZCard(ctx, tagKey(tag))
	if err != nil {
		return err
	}
	return k.store.ZAdd(ctx, keyTags, float64(count), tag)
}

func (k *Kernel) removeTagFromIndex(ctx context.Context, tag, jid string) error {
	if err := k.store.ZRem(ctx, tagKey(tag), jid); err != nil {
		return err
	}
	count, err := k.store.ZCard(ctx, tagKey(tag))
	if err != nil {
		return err
	}
	if count == 0 {
		return k.store.ZRem(ctx, keyTags, tag)
	}
	return k.store.ZAdd(ctx, keyTags, float64(count), tag)
}

// addTag adds tag to job.Tags (a no-op if already present) and updates
// the inverted index.
func (k *Kernel) addTag(ctx context.Context, now float64, jid, tag string) error {
	job, ok, err := k.loadJob(ctx, jid)
	if err != nil {
		return err
	}
	if !ok {
		return errJobNotFound(jid)
	}
	if containsString(job.Tags, tag) {
		return nil
	}
	job.Tags = addStringSorted(job.Tags, tag)
	if err := k.saveJob(ctx, job); err != nil {
		return err
	}
	return k.addTagToIndex(ctx, now, tag, jid)
}

// removeTag removes tag from job.Tags (a no-op if absent).
func (k *Kernel) removeTag(ctx context.Context, jid, tag string) error {
	job, ok, err := k.loadJob(ctx, jid)
	if err != nil {
		return err
	}
	if !ok {
		return errJobNotFound(jid)
	}
	if !containsString(job.Tags, tag) {
		return nil
	}
	job.Tags = removeString(job.Tags, tag)
	if err := k.saveJob(ctx, job); err != nil {
		return err
	}
	return k.removeTagFromIndex(ctx, tag, jid)
}

// syncTagIndex reconciles the tag inverted index when a job's tag set
// is replaced wholesale (queue.put/job.requeue), rather than adjusted
// one tag at a time via addTag/removeTag.
func (k *Kernel) syncTagIndex(ctx context.Context, now float64, jid string, oldTags, newTags []string) error {
	oldSet := stringSet(oldTags)
	newSet := stringSet(newTags)
	for tag := range oldSet {
		if _, ok := newSet[tag]; !ok {
			if err := k.removeTagFromIndex(ctx, tag, jid); err != nil {
				return err
			}
		}
	}
	for tag := range newSet {
		if _, ok := oldSet[tag]; !ok {
			if err := k.addTagToIndex(ctx, now, tag, jid); err != nil {
				return err
			}
		}
	}
	return nil
}

// jobsTagged returns jids most-recently-tagged first (spec §4.7
// "jobs.tagged").
func (k *Kernel) jobsTagged(ctx context.Context, tag string, offset, count int) ([]string, error) {
	members, err := k.store.ZRange(ctx, tagKey(tag))
	if err != nil {
		return nil, err
	}
	return paginateReversedMembers(members, offset, count), nil
}

// tagsTop returns tags ordered by popularity (member count) descending.
func (k *Kernel) tagsTop(ctx context.Context, offset, count int) ([]string, error) {
	members, err := k.store.ZRange(ctx, keyTags)
	if err != nil {
		return nil, err
	}
	return paginateReversedMembers(members, offset, count), nil
}

func paginateReversedMembers(members []store.ZMember, offset, count int) []string {
	out := make([]string, 0, len(members))
	for i := len(members) - 1; i >= 0; i-- {
		out = append(out, members[i].Member)
	}
	if offset < 0 {
		offset = 0
	}
	if offset >= len(out) {
		return nil
	}
	end := len(out)
	if count >= 0 && offset+count < end {
		end = offset + count
	}
	return out[offset:end]
}
