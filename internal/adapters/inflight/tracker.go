package inflight

import (
	"context"
	"fmt"

	"golang.org/x/sync/singleflight"
)

// Tracker deduplicates concurrent fetches for the same key: for any key at
// most one fetch is in flight at a time, and every caller arriving while it
// runs receives that fetch's result. Entries exist only while a fetch is in
// flight; results are never cached here.
type Tracker[T any] struct {
	group singleflight.Group
}

func NewTracker[T any]() *Tracker[T] {
	return &Tracker[T]{}
}

// GetOrFetch runs fetch unless one is already in flight for key, in which
// case the caller awaits the in-flight fetch. A failed fetch fails every
// waiter. The returned bool reports whether the result was shared with other
// callers.
//
// fetch runs with the context of the caller that started it. Waiters whose
// own context is cancelled stop waiting, but the fetch keeps running for the
// remaining ones.
func (t *Tracker[T]) GetOrFetch(ctx context.Context, key string, fetch func(context.Context) (T, error)) (T, bool, error) {
	resultChannel := t.group.DoChan(key, func() (any, error) {
		return fetch(ctx)
	})

	select {
	case <-ctx.Done():
		var empty T
		return empty, false, ctx.Err()
	case result := <-resultChannel:
		if result.Err != nil {
			var empty T
			return empty, result.Shared, fmt.Errorf("in-flight fetch failed: %w", result.Err)
		}
		return result.Val.(T), result.Shared, nil
	}
}

// Forget drops the in-flight entry for key so the next caller starts a fresh
// fetch rather than attaching to the current one.
func (t *Tracker[T]) Forget(key string) {
	t.group.Forget(key)
}
