package institutions

import (
	"context"
	"fmt"
	"time"

	"github.com/aristath/scholar/internal/domain"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// maxDepth bounds ancestor walks; the tree has exactly three levels
const maxDepth = 3

// Service exposes hierarchy operations to the other modules
type Service struct {
	repo *Repository
	log  zerolog.Logger
}

// NewService creates a new institution service
func NewService(repo *Repository, log zerolog.Logger) *Service {
	return &Service{
		repo: repo,
		log:  log.With().Str("service", "institutions").Logger(),
	}
}

// Create validates the level/parent relation and stores the institution.
// Regions have no parent; sectors sit under a region; schools under a sector.
func (s *Service) Create(ctx context.Context, inst domain.Institution) (*domain.Institution, error) {
	if !inst.Level.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidLevel, inst.Level)
	}

	hasParent := inst.ParentID != nil && *inst.ParentID != ""
	switch {
	case inst.Level == domain.LevelRegion && hasParent:
		return nil, fmt.Errorf("%w: region cannot have a parent", ErrInvalidParent)
	case inst.Level != domain.LevelRegion && !hasParent:
		return nil, fmt.Errorf("%w: %s requires a parent", ErrInvalidParent, inst.Level)
	}

	if hasParent {
		parent, err := s.repo.GetByID(ctx, *inst.ParentID)
		if err != nil {
			return nil, err
		}
		if parent == nil {
			return nil, fmt.Errorf("%w: parent %s not found", ErrInvalidParent, *inst.ParentID)
		}
		if parent.Level != inst.Level.Parent() {
			return nil, fmt.Errorf("%w: %s cannot sit under %s", ErrInvalidParent, inst.Level, parent.Level)
		}
	} else {
		inst.ParentID = nil
	}

	if inst.ID == "" {
		inst.ID = uuid.New().String()
	}
	inst.CreatedAt = time.Now().UTC()

	if err := s.repo.Insert(ctx, inst); err != nil {
		return nil, err
	}

	s.log.Info().
		Str("institution_id", inst.ID).
		Str("level", string(inst.Level)).
		Msg("Institution created")
	return &inst, nil
}

// Get returns an institution by id
func (s *Service) Get(ctx context.Context, id string) (*domain.Institution, error) {
	inst, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if inst == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return inst, nil
}

// Children returns the direct children of an institution
func (s *Service) Children(ctx context.Context, id string) ([]domain.Institution, error) {
	return s.repo.ListChildren(ctx, id)
}

// Ancestors returns the chain from the institution itself up to its region
func (s *Service) Ancestors(ctx context.Context, institutionID string) (domain.Chain, error) {
	chain := make(domain.Chain, 0, maxDepth)
	seen := make(map[string]bool, maxDepth)

	id := institutionID
	for {
		if seen[id] || len(chain) == maxDepth {
			return nil, fmt.Errorf("%w: at %s", ErrBrokenHierarchy, id)
		}
		seen[id] = true

		inst, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		chain = append(chain, *inst)

		if inst.ParentID == nil {
			return chain, nil
		}
		id = *inst.ParentID
	}
}

// AncestorAt returns the member of the institution's chain at the given level
func (s *Service) AncestorAt(ctx context.Context, institutionID string, level domain.Level) (*domain.Institution, error) {
	chain, err := s.Ancestors(ctx, institutionID)
	if err != nil {
		return nil, err
	}
	inst, ok := chain.At(level)
	if !ok {
		return nil, fmt.Errorf("%w: %s has no %s ancestor", ErrNotFound, institutionID, level)
	}
	return &inst, nil
}
