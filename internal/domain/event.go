package domain

import "time"

type AllocationAction string

const (
	AllocationActionAllocate AllocationAction = "allocate"
	AllocationActionRelease  AllocationAction = "release"
)

// AllocationEvent is a journal record of a completed allocate or release.
type AllocationEvent struct {
	ID         string
	Action     AllocationAction
	Owner      string
	Scope      Scope
	VID        int
	OccurredAt time.Time
}
