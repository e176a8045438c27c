package inventory

import (
	"context"
	"time"

	"github.com/clusterkit/segmentpool/internal/domain"
)

// SegmentFilter is a conjunction of constraints for ListSegments. Nil fields
// match anything.
type SegmentFilter struct {
	Scope   *domain.Scope
	Owner   *string
	Unowned bool
	Status  *domain.SegmentStatus
}

// SegmentFields is a partial update; nil fields are left untouched by the
// backend.
type SegmentFields struct {
	VID         *int
	Prefix      *string
	Owner       *string
	Status      *domain.SegmentStatus
	AllocatedAt *time.Time
	Released    *bool
	ReleasedAt  *time.Time

	TenantID *int
	RoleID   *int
}

type SegmentStore interface {
	ListSegments(ctx context.Context, filter SegmentFilter) ([]domain.Segment, error)
	// Raises domain.ErrSegmentNotFound if no segment exists with the given id
	GetSegment(ctx context.Context, id int) (domain.Segment, error)
	CreateSegment(ctx context.Context, scope domain.Scope, fields SegmentFields) (domain.Segment, error)
	UpdateSegment(ctx context.Context, id int, fields SegmentFields) (domain.Segment, error)
	DeleteSegment(ctx context.Context, id int) error
}

type ReferenceStore interface {
	// Raises domain.ErrReferenceNotFound if no object of the kind has the
	// given name
	FindReference(ctx context.Context, kind domain.ReferenceKind, name string) (domain.Reference, error)
	CreateReference(ctx context.Context, kind domain.ReferenceKind, name string) (domain.Reference, error)
}

type Store interface {
	SegmentStore
	ReferenceStore
}
