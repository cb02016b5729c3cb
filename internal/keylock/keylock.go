// Package keylock provides mutual exclusion keyed by resource id.
package keylock

import (
	"context"
	"errors"
	"sort"
)

var ErrLockTimeout = errors.New("lock_timeout")

// Unlock releases every key held by a Lock call. It is safe to call more than once.
type Unlock func()

type Locker interface {
	// Lock blocks until every key is held or ctx is done.
	Lock(ctx context.Context, keys []string) (Unlock, error)
}

// normalize sorts and deduplicates keys so callers always acquire in the same order.
func normalize(keys []string) []string {
	out := make([]string, 0, len(keys))
	seen := make(map[string]struct{}, len(keys))
	for _, key := range keys {
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, key)
	}
	sort.Strings(out)
	return out
}
