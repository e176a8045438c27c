package domain

import (
	"fmt"
	"time"
)

type SegmentStatus string

const (
	SegmentStatusAvailable SegmentStatus = "available"
	SegmentStatusReserved  SegmentStatus = "reserved"
)

// Scope is the (site, network) pair that partitions segments into independent
// allocation pools.
type Scope struct {
	Site    string
	Network string
}

func (s Scope) String() string {
	return fmt.Sprintf("%s/%s", s.Site, s.Network)
}

func (s Scope) Validate() error {
	if s.Site == "" {
		return fmt.Errorf("scope: missing site")
	}
	if s.Network == "" {
		return fmt.Errorf("scope: missing network")
	}
	return nil
}

// Segment is an allocatable VLAN record. The remote inventory owns these; we
// only ever hold transient copies.
type Segment struct {
	ID     int
	VID    int
	Prefix string
	Scope  Scope

	Owner  string
	Status SegmentStatus

	AllocatedAt *time.Time
	Released    bool
	ReleasedAt  *time.Time
}

// Owner != "" iff Status == reserved
func (s *Segment) Validate() error {
	switch s.Status {
	case SegmentStatusAvailable:
		if s.Owner != "" {
			return fmt.Errorf("segment %d: available but owned by %q", s.VID, s.Owner)
		}
	case SegmentStatusReserved:
		if s.Owner == "" {
			return fmt.Errorf("segment %d: reserved without an owner", s.VID)
		}
	default:
		return fmt.Errorf("segment %d: unknown status %q", s.VID, s.Status)
	}
	return nil
}
