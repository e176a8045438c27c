package domain

type ReferenceKind string

const (
	ReferenceKindSite      ReferenceKind = "site"
	ReferenceKindSiteGroup ReferenceKind = "site-group"
	ReferenceKindTenant    ReferenceKind = "tenant"
	ReferenceKindRole      ReferenceKind = "role"
)

// Reference is an auxiliary inventory object resolved on demand before a
// write (get-or-create semantics per kind).
type Reference struct {
	Kind ReferenceKind
	ID   int
	Name string
}
