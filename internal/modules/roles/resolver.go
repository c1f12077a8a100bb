package roles

import (
	"context"
	"sync"

	"github.com/aristath/scholar/internal/domain"
	"github.com/aristath/scholar/internal/events"
	"github.com/rs/zerolog"
)

// Resolver answers authority questions from cached role assignments.
// Entries are dropped per user when RolePermissionsChanged is published.
type Resolver struct {
	repo    *Repository
	checker *Checker
	log     zerolog.Logger

	mu    sync.RWMutex
	cache map[string][]Assignment
	load  func(ctx context.Context, userID string) ([]Assignment, error)
	// gen counts invalidations per user; a load started before an
	// invalidation must not be cached
	gen map[string]uint64
}

// NewResolver creates a resolver; a nil checker uses the default policy
func NewResolver(repo *Repository, checker *Checker, log zerolog.Logger) *Resolver {
	if checker == nil {
		checker = NewChecker(nil)
	}
	return &Resolver{
		repo:    repo,
		checker: checker,
		log:     log.With().Str("component", "role_resolver").Logger(),
		cache:   make(map[string][]Assignment),
		gen:     make(map[string]uint64),
		load:    repo.ListForUser,
	}
}

// Subscribe registers cache invalidation on the bus
func (r *Resolver) Subscribe(bus *events.Bus) {
	bus.Subscribe(events.RolePermissionsChanged, func(e events.Event) error {
		if data, ok := e.Data.(*events.RolePermissionsChangedData); ok {
			r.Invalidate(data.UserID)
		}
		return nil
	})
}

// Invalidate drops the cached assignments of one user
func (r *Resolver) Invalidate(userID string) {
	r.mu.Lock()
	delete(r.cache, userID)
	r.gen[userID]++
	r.mu.Unlock()
	r.log.Debug().Str("user_id", userID).Msg("Role cache invalidated")
}

func (r *Resolver) assignments(ctx context.Context, userID string) ([]Assignment, error) {
	r.mu.RLock()
	cached, ok := r.cache[userID]
	gen := r.gen[userID]
	r.mu.RUnlock()
	if ok {
		return cached, nil
	}

	loaded, err := r.load(ctx, userID)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	if r.gen[userID] == gen {
		r.cache[userID] = loaded
	}
	r.mu.Unlock()
	return loaded, nil
}

// CanActAtLevel reports whether actorID holds a role granting approval:act:<level>
// on the chain member at that level. A superadmin assigned anywhere at or above
// that member also qualifies.
func (r *Resolver) CanActAtLevel(ctx context.Context, actorID string, chain domain.Chain, level domain.Level) (bool, error) {
	idx := -1
	for i, inst := range chain {
		if inst.Level == level {
			idx = i
			break
		}
	}
	if idx < 0 {
		return false, nil
	}

	assignments, err := r.assignments(ctx, actorID)
	if err != nil {
		return false, err
	}

	perm := ActPermission(level)
	target := chain[idx].ID
	for _, a := range assignments {
		if a.Role == RoleSuperadmin {
			for _, inst := range chain[idx:] {
				if inst.ID == a.InstitutionID {
					return true, nil
				}
			}
			continue
		}
		if a.InstitutionID == target && r.checker.Has(a.Role, perm) {
			return true, nil
		}
	}
	return false, nil
}

// HasPermission reports whether any of actorID's roles grants perm
func (r *Resolver) HasPermission(ctx context.Context, actorID string, perm string) (bool, error) {
	assignments, err := r.assignments(ctx, actorID)
	if err != nil {
		return false, err
	}
	for _, a := range assignments {
		if r.checker.Has(a.Role, perm) {
			return true, nil
		}
	}
	return false, nil
}

// HasPermissionAt reports whether actorID holds perm through an assignment on
// the target institution or one of its ancestors in chain. Superadmin is
// platform-wide here, so an empty chain only admits superadmins.
func (r *Resolver) HasPermissionAt(ctx context.Context, actorID string, perm string, chain domain.Chain) (bool, error) {
	assignments, err := r.assignments(ctx, actorID)
	if err != nil {
		return false, err
	}
	for _, a := range assignments {
		if !r.checker.Has(a.Role, perm) {
			continue
		}
		if a.Role == RoleSuperadmin {
			return true, nil
		}
		for _, inst := range chain {
			if inst.ID == a.InstitutionID {
				return true, nil
			}
		}
	}
	return false, nil
}

// HoldsRole reports whether userID is assigned role on institutionID itself
func (r *Resolver) HoldsRole(ctx context.Context, userID, role, institutionID string) (bool, error) {
	assignments, err := r.assignments(ctx, userID)
	if err != nil {
		return false, err
	}
	for _, a := range assignments {
		if a.Role == role && a.InstitutionID == institutionID {
			return true, nil
		}
	}
	return false, nil
}

var _ domain.AuthorityResolver = (*Resolver)(nil)
