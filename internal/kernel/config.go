package kernel

import (
	"context"
	"strconv"
)

// configDefaults mirrors spec §6's config key table. These are the
// *live*, in-store config values (ql:config) consulted by kernel
// operations — not process bootstrap config, which is only the store
// and logger a caller passes to New.
var configDefaults = map[string]string{
	"application":        "reqless",
	"grace-period":       "10",
	"heartbeat":          "60",
	"jobs-history":       "604800",
	"jobs-history-count": "50000",
	"max-job-history":    "100",
	"max-pop-retry":      "1",
	"max-worker-age":     "86400",
}

func (k *Kernel) configGet(ctx context.Context, key string) (string, error) {
	v, ok, err := k.store.HGet(ctx, keyConfig, key)
	if err != nil {
		return "", err
	}
	if ok {
		return v, nil
	}
	if def, ok := configDefaults[key]; ok {
		return def, nil
	}
	return "", nil
}

func (k *Kernel) configGetAll(ctx context.Context) (map[string]string, error) {
	stored, err := k.store.HGetAll(ctx, keyConfig)
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, len(configDefaults))
	for k, v := range configDefaults {
		out[k] = v
	}
	for k, v := range stored {
		out[k] = v
	}
	return out, nil
}

func (k *Kernel) configSet(ctx context.Context, key, value string) error {
	return k.store.HSet(ctx, keyConfig, map[string]string{key: value})
}

func (k *Kernel) configUnset(ctx context.Context, key string) error {
	return k.store.HDel(ctx, keyConfig, key)
}

func (k *Kernel) configInt(ctx context.Context, key string) (int64, error) {
	v, err := k.configGet(ctx, key)
	if err != nil {
		return 0, err
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, err
	}
	return n, nil
}

func (k *Kernel) configFloat(ctx context.Context, key string) (float64, error) {
	v, err := k.configGet(ctx, key)
	if err != nil {
		return 0, err
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, err
	}
	return f, nil
}
