package resolver

import (
	"context"
	"errors"
	"fmt"

	"github.com/clusterkit/segmentpool/internal/adapters/cache"
	"github.com/clusterkit/segmentpool/internal/adapters/inflight"
	"github.com/clusterkit/segmentpool/internal/adapters/inventory"
	"github.com/clusterkit/segmentpool/internal/domain"
	"github.com/clusterkit/segmentpool/internal/logging"
	"github.com/clusterkit/segmentpool/internal/telemetry"
	"golang.org/x/sync/errgroup"
)

// Request names one auxiliary object to resolve before a write.
type Request struct {
	Kind domain.ReferenceKind
	Name string
}

// KindError tags a resolution failure with the kind that failed, so callers
// can retry just that kind.
type KindError struct {
	Kind domain.ReferenceKind
	Err  error
}

func (e *KindError) Error() string {
	return fmt.Sprintf("resolving %s: %s", e.Kind, e.Err)
}

func (e *KindError) Unwrap() error {
	return e.Err
}

// Resolver resolves auxiliary inventory objects with get-or-create semantics
// per kind. Independent lookups fan out concurrently: a write typically needs
// 3-5 of them, and against a high-latency backend sequential resolution would
// multiply the write latency by that count.
type Resolver struct {
	store   inventory.ReferenceStore
	cache   cache.Cache[domain.Reference]
	flights *inflight.Tracker[domain.Reference]
	metrics *telemetry.Metrics
}

func New(store inventory.ReferenceStore, referenceCache cache.Cache[domain.Reference], metrics *telemetry.Metrics) *Resolver {
	return &Resolver{
		store:   store,
		cache:   referenceCache,
		flights: inflight.NewTracker[domain.Reference](),
		metrics: metrics,
	}
}

func (r *Resolver) Resolve(ctx context.Context, requests []Request) (map[domain.ReferenceKind]domain.Reference, error) {
	results := make([]domain.Reference, len(requests))

	group, groupCtx := errgroup.WithContext(ctx)
	for i, request := range requests {
		group.Go(func() error {
			reference, err := r.resolveOne(groupCtx, request)
			if err != nil {
				return &KindError{Kind: request.Kind, Err: err}
			}
			results[i] = reference
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}

	resolved := make(map[domain.ReferenceKind]domain.Reference, len(requests))
	for _, reference := range results {
		resolved[reference.Kind] = reference
	}
	return resolved, nil
}

func (r *Resolver) resolveOne(ctx context.Context, request Request) (domain.Reference, error) {
	key := cache.Key(string(request.Kind), request.Name)

	if reference, found := r.cache.Get(key); found {
		r.metrics.RecordCacheLookup(ctx, string(request.Kind), true)
		return reference, nil
	}
	r.metrics.RecordCacheLookup(ctx, string(request.Kind), false)

	reference, _, err := r.flights.GetOrFetch(ctx, key, func(ctx context.Context) (domain.Reference, error) {
		return r.getOrCreate(ctx, request)
	})
	if err != nil {
		return domain.Reference{}, err
	}

	r.cache.Set(key, reference)
	return reference, nil
}

func (r *Resolver) getOrCreate(ctx context.Context, request Request) (domain.Reference, error) {
	reference, err := r.store.FindReference(ctx, request.Kind, request.Name)
	if err == nil {
		return reference, nil
	}
	if !errors.Is(err, domain.ErrReferenceNotFound) {
		return domain.Reference{}, err
	}

	logging.FromContext(ctx).InfoContext(ctx, "creating missing reference", "kind", string(request.Kind), "name", request.Name)

	created, err := r.store.CreateReference(ctx, request.Kind, request.Name)
	if errors.Is(err, domain.ErrConflict) {
		// Lost a create race against another process - the object exists now
		return r.store.FindReference(ctx, request.Kind, request.Name)
	}
	if err != nil {
		return domain.Reference{}, err
	}
	return created, nil
}
