package domain

import "context"

// HierarchyProvider resolves an institution and its ancestors.
// Implemented by institutions.Service; consumed by rating and approval
// so neither depends on the institutions package directly.
type HierarchyProvider interface {
	// Ancestors returns the chain from the institution itself up to its region
	Ancestors(ctx context.Context, institutionID string) (Chain, error)
}

// AuthorityResolver decides whether a user may act at an approval level
// or perform an institution-scoped operation.
// Implemented by roles.Resolver.
type AuthorityResolver interface {
	// CanActAtLevel reports whether actorID holds a role granting authority
	// at level for the institution chain
	CanActAtLevel(ctx context.Context, actorID string, chain Chain, level Level) (bool, error)

	// HasPermission reports whether actorID holds perm anywhere
	HasPermission(ctx context.Context, actorID string, perm string) (bool, error)

	// HasPermissionAt reports whether actorID holds perm on an institution of
	// chain (the target and its ancestors)
	HasPermissionAt(ctx context.Context, actorID string, perm string, chain Chain) (bool, error)
}
