package roles

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aristath/scholar/internal/events"
	"github.com/rs/zerolog"
)

// ErrUnknownRole is returned when assigning a role that has no permission rules
var ErrUnknownRole = errors.New("unknown role")

// Service assigns and revokes roles.
// Every change emits RolePermissionsChanged so cached resolvers drop the user.
type Service struct {
	repo         *Repository
	eventManager *events.Manager
	log          zerolog.Logger
}

// NewService creates a new role service
func NewService(repo *Repository, eventManager *events.Manager, log zerolog.Logger) *Service {
	return &Service{
		repo:         repo,
		eventManager: eventManager,
		log:          log.With().Str("service", "roles").Logger(),
	}
}

// Assign grants role to userID at institutionID
func (s *Service) Assign(ctx context.Context, userID, role, institutionID string) error {
	if !KnownRole(role) {
		return fmt.Errorf("%w: %s", ErrUnknownRole, role)
	}

	if err := s.repo.Insert(ctx, Assignment{
		UserID:        userID,
		Role:          role,
		InstitutionID: institutionID,
		CreatedAt:     time.Now(),
	}); err != nil {
		return err
	}

	s.log.Info().
		Str("user_id", userID).
		Str("role", role).
		Str("institution_id", institutionID).
		Msg("Role assigned")
	s.eventManager.Emit("roles", &events.RolePermissionsChangedData{UserID: userID, Role: role})
	return nil
}

// Revoke removes role from userID at institutionID. Revoking a missing assignment is a no-op.
func (s *Service) Revoke(ctx context.Context, userID, role, institutionID string) error {
	removed, err := s.repo.Delete(ctx, userID, role, institutionID)
	if err != nil {
		return err
	}
	if !removed {
		return nil
	}

	s.log.Info().
		Str("user_id", userID).
		Str("role", role).
		Str("institution_id", institutionID).
		Msg("Role revoked")
	s.eventManager.Emit("roles", &events.RolePermissionsChangedData{UserID: userID, Role: role})
	return nil
}

// List returns the assignments held by userID
func (s *Service) List(ctx context.Context, userID string) ([]Assignment, error) {
	return s.repo.ListForUser(ctx, userID)
}
