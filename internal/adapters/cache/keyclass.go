package cache

import (
	"strings"
	"time"
)

// Key classes group cache keys sharing a default TTL. Keys are formatted as
// "<class>:<identifier>", where the identifier part is open-ended (backend
// assigned ids, scope names) and never needs pre-registration.
const (
	ClassVLANList   = "vlan-list"
	ClassAllocation = "allocation"
	ClassSite       = "site"
	ClassSiteGroup  = "site-group"
	ClassTenant     = "tenant"
	ClassRole       = "role"
)

// GlobalDefaultTTL applies to keys whose class is unknown.
const GlobalDefaultTTL = 5 * time.Minute

// Segment lists change with every allocation, reference objects rarely do.
func DefaultClassTTLs() map[string]time.Duration {
	return map[string]time.Duration{
		ClassVLANList:   2 * time.Minute,
		ClassAllocation: 2 * time.Minute,
		ClassSite:       1 * time.Hour,
		ClassSiteGroup:  1 * time.Hour,
		ClassTenant:     1 * time.Hour,
		ClassRole:       1 * time.Hour,
	}
}

type ClassTable struct {
	ttls     map[string]time.Duration
	fallback time.Duration
}

// NewClassTable builds a TTL resolution table from the default class TTLs and
// per-class overrides (typically from config). Overrides may name classes not
// present in the defaults.
func NewClassTable(overrides map[string]time.Duration) ClassTable {
	ttls := DefaultClassTTLs()
	for class, ttl := range overrides {
		ttls[class] = ttl
	}
	return ClassTable{
		ttls:     ttls,
		fallback: GlobalDefaultTTL,
	}
}

func (t ClassTable) Fallback() time.Duration {
	return t.fallback
}

// TTLFor resolves the TTL for key by longest matching class prefix,
// falling back to the global default for unknown classes.
func (t ClassTable) TTLFor(key string) time.Duration {
	bestLength := -1
	ttl := t.fallback

	for class, classTTL := range t.ttls {
		if key != class && !strings.HasPrefix(key, class+":") {
			continue
		}
		if len(class) > bestLength {
			bestLength = len(class)
			ttl = classTTL
		}
	}

	return ttl
}

// Key formats a cache key for the given class.
func Key(class string, parts ...string) string {
	if len(parts) == 0 {
		return class
	}
	return class + ":" + strings.Join(parts, "/")
}
