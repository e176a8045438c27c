package allocation

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/clusterkit/segmentpool/internal/adapters/cache"
	"github.com/clusterkit/segmentpool/internal/adapters/inflight"
	"github.com/clusterkit/segmentpool/internal/adapters/inventory"
	"github.com/clusterkit/segmentpool/internal/domain"
	"github.com/clusterkit/segmentpool/internal/logging"
	"github.com/clusterkit/segmentpool/internal/reporting"
	"github.com/clusterkit/segmentpool/internal/resolver"
	"github.com/clusterkit/segmentpool/internal/telemetry"
)

// segmentRoleName classifies cluster VLANs in the inventory.
const segmentRoleName = "cluster-vlan"

type Journal interface {
	RecordEvent(ctx context.Context, event domain.AllocationEvent) error
}

type RetryPolicy struct {
	// MaxAttempts counts the first try; 1 disables retries.
	MaxAttempts int
	BaseBackoff time.Duration
}

// Allocator mediates between the business layer and the inventory. It owns
// the segment caches and the keyed locks; all durable state lives in the
// inventory.
//
// Allocate is idempotent for the same owner: the find-existing check and the
// subsequent reservation are serialized per (owner, scope) through a keyed
// lock, so two concurrent allocate calls for the same owner cannot both pass
// the existence check and reserve two segments. Candidate selection is
// additionally serialized per scope, so two different owners cannot both pick
// the same available segment and overwrite each other's reservation. Lock
// order is always (owner, scope) first, then scope.
type Allocator struct {
	store      inventory.SegmentStore
	references *resolver.Resolver

	segmentLists cache.Cache[[]domain.Segment]
	allocations  cache.Cache[domain.Segment]
	listFlights  *inflight.Tracker[[]domain.Segment]

	journal Journal
	metrics *telemetry.Metrics

	locks *keyedMutex
	retry RetryPolicy

	nowFunc   func() time.Time
	afterFunc func(time.Duration) <-chan time.Time
}

// New creates an Allocator owning freshly built caches. journal may be nil
// to skip event journaling.
func New(
	store inventory.SegmentStore,
	references *resolver.Resolver,
	classes cache.ClassTable,
	journal Journal,
	metrics *telemetry.Metrics,
	retry RetryPolicy,
	nowFunc func() time.Time,
	afterFunc func(time.Duration) <-chan time.Time,
) *Allocator {
	if retry.MaxAttempts < 1 {
		panic("logic error: retry.MaxAttempts must be at least 1")
	}
	return &Allocator{
		store:        store,
		references:   references,
		segmentLists: cache.NewClassTTLCache[[]domain.Segment](classes),
		allocations:  cache.NewClassTTLCache[domain.Segment](classes),
		listFlights:  inflight.NewTracker[[]domain.Segment](),
		journal:      journal,
		metrics:      metrics,
		locks:        newKeyedMutex(),
		retry:        retry,
		nowFunc:      nowFunc,
		afterFunc:    afterFunc,
	}
}

func allocationKey(owner string, scope domain.Scope) string {
	return cache.Key(cache.ClassAllocation, owner, scope.Site, scope.Network)
}

func availableListKey(scope domain.Scope) string {
	return cache.Key(cache.ClassVLANList, scope.Site, scope.Network, "available")
}

func fullListKey(scope domain.Scope) string {
	return cache.Key(cache.ClassVLANList, scope.Site, scope.Network, "all")
}

func scopeLockKey(scope domain.Scope) string {
	return "scope:" + scope.String()
}

// invalidateScope drops every cache entry a mutation in scope may have made
// stale. Runs synchronously before the mutating call reports success, so a
// caller observing that success also observes a cold cache.
func (a *Allocator) invalidateScope(owner string, scope domain.Scope) {
	a.segmentLists.Invalidate(availableListKey(scope))
	a.segmentLists.Invalidate(fullListKey(scope))
	a.allocations.Invalidate(allocationKey(owner, scope))
}

func validateOwnerAndScope(owner string, scope domain.Scope) error {
	if owner == "" {
		return fmt.Errorf("missing owner")
	}
	return scope.Validate()
}

// FindExistingAllocation returns the segment currently reserved for owner in
// scope, or nil if there is none. Holding no allocation is a routine outcome,
// not an error.
func (a *Allocator) FindExistingAllocation(ctx context.Context, owner string, scope domain.Scope) (*domain.Segment, error) {
	if err := validateOwnerAndScope(owner, scope); err != nil {
		return nil, err
	}

	key := allocationKey(owner, scope)

	if segment, found := a.allocations.Get(key); found {
		a.metrics.RecordCacheLookup(ctx, cache.ClassAllocation, true)
		return &segment, nil
	}
	a.metrics.RecordCacheLookup(ctx, cache.ClassAllocation, false)

	reserved, err := a.listReservedBy(ctx, owner, scope)
	if err != nil {
		return nil, err
	}
	if len(reserved) == 0 {
		return nil, nil
	}

	segment := reserved[0]
	if err := segment.Validate(); err != nil {
		reporting.Report(ctx, err, map[string]string{
			"owner": owner,
			"scope": scope.String(),
		})
	}

	a.allocations.Set(key, segment)
	return &segment, nil
}

// listReservedBy reads the owner's reservations in scope from the inventory,
// coalescing concurrent identical reads. Lowest VID first.
func (a *Allocator) listReservedBy(ctx context.Context, owner string, scope domain.Scope) ([]domain.Segment, error) {
	key := allocationKey(owner, scope)

	reserved, _, err := a.listFlights.GetOrFetch(ctx, key, func(ctx context.Context) ([]domain.Segment, error) {
		var segments []domain.Segment
		err := a.withRetry(ctx, "list reservations", func(ctx context.Context) error {
			status := domain.SegmentStatusReserved
			listed, err := a.store.ListSegments(ctx, inventory.SegmentFilter{
				Scope:  &scope,
				Owner:  &owner,
				Status: &status,
			})
			segments = listed
			return err
		})
		return segments, err
	})
	if err != nil {
		return nil, fmt.Errorf("could not list reservations for %s in %s: %w", owner, scope, err)
	}

	slices.SortFunc(reserved, func(a, b domain.Segment) int { return a.VID - b.VID })
	return reserved, nil
}

// listAvailable returns the unreserved segments in scope, lowest VID first,
// from cache when fresh.
func (a *Allocator) listAvailable(ctx context.Context, scope domain.Scope) ([]domain.Segment, error) {
	key := availableListKey(scope)

	if segments, found := a.segmentLists.Get(key); found {
		a.metrics.RecordCacheLookup(ctx, cache.ClassVLANList, true)
		return segments, nil
	}
	a.metrics.RecordCacheLookup(ctx, cache.ClassVLANList, false)

	segments, _, err := a.listFlights.GetOrFetch(ctx, key, func(ctx context.Context) ([]domain.Segment, error) {
		var listed []domain.Segment
		err := a.withRetry(ctx, "list available segments", func(ctx context.Context) error {
			status := domain.SegmentStatusAvailable
			segments, err := a.store.ListSegments(ctx, inventory.SegmentFilter{
				Scope:   &scope,
				Unowned: true,
				Status:  &status,
			})
			listed = segments
			return err
		})
		return listed, err
	})
	if err != nil {
		return nil, fmt.Errorf("could not list available segments in %s: %w", scope, err)
	}

	// Deterministic selection order: lowest VID first
	slices.SortFunc(segments, func(a, b domain.Segment) int { return a.VID - b.VID })

	a.segmentLists.Set(key, segments)
	return segments, nil
}

// findAndAllocate reserves the available segment with the lowest VID in
// scope. Returns domain.ErrNoCapacity when the scope has no available
// segment.
func (a *Allocator) findAndAllocate(ctx context.Context, owner string, scope domain.Scope) (domain.Segment, error) {
	// Serialize candidate selection per scope: without this, two owners can
	// list the same available segments, pick the same candidate and issue
	// overwriting updates, leaving one of them with a segment the backend
	// says belongs to the other.
	unlock := a.locks.lock(scopeLockKey(scope))
	defer unlock()

	available, err := a.listAvailable(ctx, scope)
	if err != nil {
		return domain.Segment{}, err
	}
	if len(available) == 0 {
		return domain.Segment{}, fmt.Errorf("%w: %s", domain.ErrNoCapacity, scope)
	}

	candidate := available[0]

	references, err := a.references.Resolve(ctx, []resolver.Request{
		{Kind: domain.ReferenceKindSite, Name: scope.Site},
		{Kind: domain.ReferenceKindSiteGroup, Name: fmt.Sprintf("%s-%s", scope.Site, scope.Network)},
		{Kind: domain.ReferenceKindTenant, Name: owner},
		{Kind: domain.ReferenceKindRole, Name: segmentRoleName},
	})
	if err != nil {
		return domain.Segment{}, fmt.Errorf("could not resolve references for allocation: %w", err)
	}

	now := a.nowFunc()
	status := domain.SegmentStatusReserved
	released := false
	tenantID := references[domain.ReferenceKindTenant].ID
	roleID := references[domain.ReferenceKindRole].ID

	var updated domain.Segment
	err = a.withRetry(ctx, "reserve segment", func(ctx context.Context) error {
		segment, err := a.store.UpdateSegment(ctx, candidate.ID, inventory.SegmentFields{
			Owner:       &owner,
			Status:      &status,
			AllocatedAt: &now,
			Released:    &released,
			TenantID:    &tenantID,
			RoleID:      &roleID,
		})
		updated = segment
		return err
	})
	if err != nil {
		return domain.Segment{}, fmt.Errorf("could not reserve segment %d: %w", candidate.VID, err)
	}

	a.invalidateScope(owner, scope)

	if err := updated.Validate(); err != nil {
		reporting.Report(ctx, err, map[string]string{
			"owner": owner,
			"scope": scope.String(),
		})
	}

	return updated, nil
}

// Allocate returns owner's segment in scope, reserving a new one only if
// none exists. Calling it twice returns the same segment both times.
func (a *Allocator) Allocate(ctx context.Context, owner string, scope domain.Scope) (domain.Segment, error) {
	if err := validateOwnerAndScope(owner, scope); err != nil {
		return domain.Segment{}, err
	}

	// Serialize the check-then-act window per (owner, scope)
	unlock := a.locks.lock(allocationKey(owner, scope))
	defer unlock()

	existing, err := a.FindExistingAllocation(ctx, owner, scope)
	if err != nil {
		return domain.Segment{}, err
	}
	if existing != nil {
		logging.FromContext(ctx).InfoContext(ctx, "returning existing allocation", "owner", owner, "scope", scope.String(), "vid", existing.VID)
		return *existing, nil
	}

	segment, err := a.findAndAllocate(ctx, owner, scope)
	if err != nil {
		return domain.Segment{}, err
	}

	logging.FromContext(ctx).InfoContext(ctx, "allocated segment", "owner", owner, "scope", scope.String(), "vid", segment.VID)

	a.recordEvent(ctx, domain.AllocationEvent{
		Action:     domain.AllocationActionAllocate,
		Owner:      owner,
		Scope:      scope,
		VID:        segment.VID,
		OccurredAt: a.nowFunc(),
	})

	return segment, nil
}

// Release returns owner's segment in scope to the pool. Releasing an owner
// without a reservation reports domain.ErrSegmentNotFound.
func (a *Allocator) Release(ctx context.Context, owner string, scope domain.Scope) error {
	if err := validateOwnerAndScope(owner, scope); err != nil {
		return err
	}

	unlock := a.locks.lock(allocationKey(owner, scope))
	defer unlock()

	// Fresh read: releasing against a stale cached reservation could miss a
	// concurrent change
	reserved, err := a.listReservedBy(ctx, owner, scope)
	if err != nil {
		return err
	}
	if len(reserved) == 0 {
		return fmt.Errorf("%w: no reservation for %s in %s", domain.ErrSegmentNotFound, owner, scope)
	}

	segment := reserved[0]

	now := a.nowFunc()
	noOwner := ""
	status := domain.SegmentStatusAvailable
	released := true

	err = a.withRetry(ctx, "release segment", func(ctx context.Context) error {
		_, err := a.store.UpdateSegment(ctx, segment.ID, inventory.SegmentFields{
			Owner:      &noOwner,
			Status:     &status,
			Released:   &released,
			ReleasedAt: &now,
		})
		return err
	})
	if err != nil {
		return fmt.Errorf("could not release segment %d: %w", segment.VID, err)
	}

	a.invalidateScope(owner, scope)

	logging.FromContext(ctx).InfoContext(ctx, "released segment", "owner", owner, "scope", scope.String(), "vid", segment.VID)

	a.recordEvent(ctx, domain.AllocationEvent{
		Action:     domain.AllocationActionRelease,
		Owner:      owner,
		Scope:      scope,
		VID:        segment.VID,
		OccurredAt: now,
	})

	return nil
}

// ListSegments is a cached pass-through of every segment in scope.
func (a *Allocator) ListSegments(ctx context.Context, scope domain.Scope) ([]domain.Segment, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}

	key := fullListKey(scope)

	if segments, found := a.segmentLists.Get(key); found {
		a.metrics.RecordCacheLookup(ctx, cache.ClassVLANList, true)
		return segments, nil
	}
	a.metrics.RecordCacheLookup(ctx, cache.ClassVLANList, false)

	segments, _, err := a.listFlights.GetOrFetch(ctx, key, func(ctx context.Context) ([]domain.Segment, error) {
		var listed []domain.Segment
		err := a.withRetry(ctx, "list segments", func(ctx context.Context) error {
			segments, err := a.store.ListSegments(ctx, inventory.SegmentFilter{Scope: &scope})
			listed = segments
			return err
		})
		return listed, err
	})
	if err != nil {
		return nil, fmt.Errorf("could not list segments in %s: %w", scope, err)
	}

	slices.SortFunc(segments, func(a, b domain.Segment) int { return a.VID - b.VID })

	a.segmentLists.Set(key, segments)
	return segments, nil
}

func (a *Allocator) CountSegments(ctx context.Context, scope domain.Scope) (int, error) {
	segments, err := a.ListSegments(ctx, scope)
	if err != nil {
		return 0, err
	}
	return len(segments), nil
}

// InvalidateCaches clears all cached inventory state. Used after
// configuration reloads and in tests.
func (a *Allocator) InvalidateCaches() {
	a.segmentLists.InvalidateAll()
	a.allocations.InvalidateAll()
}

// withRetry retries transient inventory failures with exponential backoff.
// Everything else (not-found, conflict, capacity) surfaces immediately.
func (a *Allocator) withRetry(ctx context.Context, description string, call func(context.Context) error) error {
	backoff := a.retry.BaseBackoff
	for attempt := 1; ; attempt++ {
		err := call(ctx)
		if err == nil || !errors.Is(err, domain.ErrTemporarilyUnavailable) {
			return err
		}
		if attempt >= a.retry.MaxAttempts {
			return fmt.Errorf("%s: giving up after %d attempts: %w", description, attempt, err)
		}

		logging.FromContext(ctx).WarnContext(ctx, "transient inventory failure - retrying",
			"operation", description,
			"attempt", attempt,
			"backoff", backoff.String(),
			"error", err.Error(),
		)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-a.afterFunc(backoff):
		}
		backoff *= 2
	}
}

func (a *Allocator) recordEvent(ctx context.Context, event domain.AllocationEvent) {
	if a.journal == nil {
		return
	}

	// Ignore cancellations from the request context and try to journal the
	// event anyway. Take a maximum of 1 second to not block the caller for
	// too long.
	journalCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 1*time.Second)
	defer cancel()

	if err := a.journal.RecordEvent(journalCtx, event); err != nil {
		// NOTE: Journaling is best-effort; the allocation itself succeeded
		logging.FromContext(ctx).Error("failed to journal allocation event", "error", err.Error())
	}
}
