package kernel

import (
	"context"
	"encoding/json"
)

// PriorityPattern is one entry of the ordered queuePriorityPatterns
// registry (spec §4.9).
type PriorityPattern struct {
	Fairly  bool     `json:"fairly"`
	Pattern []string `json:"pattern"`
}

// identifierPatternsGetAll returns the current contents of
// queueIdentifierPatterns, defaulting the "default" key to ["*"] if
// absent or invalid (spec §4.9). Falls back to the legacy
// `qmore:dynamic` hash when the renamed key has never been written.
func (k *Kernel) identifierPatternsGetAll(ctx context.Context) (map[string][]string, error) {
	raw, err := k.store.HGetAll(ctx, keyPatternsIdents)
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		legacy, err := k.store.HGetAll(ctx, legacyKeyPatternsIdents)
		if err != nil {
			return nil, err
		}
		raw = legacy
	}
	out := make(map[string][]string, len(raw)+1)
	for name, v := range raw {
		var arr []string
		if err := json.Unmarshal([]byte(v), &arr); err != nil || len(arr) == 0 {
			continue
		}
		out[name] = arr
	}
	if _, ok := out["default"]; !ok {
		out["default"] = []string{"*"}
	}
	return out, nil
}

// identifierPatternsSetAll replaces queueIdentifierPatterns atomically.
// Entries whose value serializes to an empty array are ignored; an
// absent or invalid "default" is replaced with ["*"] (spec §4.9).
func (k *Kernel) identifierPatternsSetAll(ctx context.Context, patterns map[string][]string) error {
	if err := k.store.Del(ctx, keyPatternsIdents); err != nil {
		return err
	}
	fields := make(map[string]string, len(patterns)+1)
	hasDefault := false
	for name, arr := range patterns {
		if len(arr) == 0 {
			continue
		}
		fields[name] = toJSON(arr)
		if name == "default" {
			hasDefault = true
		}
	}
	if !hasDefault {
		fields["default"] = toJSON([]string{"*"})
	}
	return k.store.HSet(ctx, keyPatternsIdents, fields)
}

// priorityPatternsGetAll returns the current priority pattern list,
// falling back to the legacy `qmore:priority` key when the renamed key
// has never been written (spec §4.9).
func (k *Kernel) priorityPatternsGetAll(ctx context.Context) ([]PriorityPattern, error) {
	raw, ok, err := k.store.Get(ctx, keyPatternsPriority)
	if err != nil {
		return nil, err
	}
	if !ok {
		raw, ok, err = k.store.Get(ctx, legacyKeyPatternsPriority)
		if err != nil {
			return nil, err
		}
	}
	if !ok {
		return []PriorityPattern{}, nil
	}
	var out []PriorityPattern
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return []PriorityPattern{}, nil
	}
	return out, nil
}

func (k *Kernel) priorityPatternsSetAll(ctx context.Context, patterns []PriorityPattern) error {
	filtered := make([]PriorityPattern, 0, len(patterns))
	for _, p := range patterns {
		if len(p.Pattern) == 0 {
			continue
		}
		filtered = append(filtered, p)
	}
	return k.store.Set(ctx, keyPatternsPriority, toJSON(filtered), 0)
}
