package di

import (
	"context"
	"errors"
	"fmt"

	"github.com/aristath/scholar/internal/config"
	"github.com/aristath/scholar/internal/domain"
	"github.com/aristath/scholar/internal/modules/institutions"
	"github.com/aristath/scholar/internal/modules/roles"
	"github.com/rs/zerolog"
)

// BootstrapSuperadmin makes cfg.BootstrapSuperadmin a superadmin at cfg.BootstrapRegionID,
// creating the region when it does not exist yet. Safe to run on every start.
func BootstrapSuperadmin(ctx context.Context, container *Container, cfg *config.Config, log zerolog.Logger) error {
	if cfg.BootstrapSuperadmin == "" {
		return nil
	}
	if container.InstitutionService == nil || container.RoleService == nil {
		return fmt.Errorf("services must be initialized before bootstrap")
	}

	regionID := cfg.BootstrapRegionID
	if regionID == "" {
		regionID = "region-root"
	}

	_, err := container.InstitutionService.Get(ctx, regionID)
	switch {
	case errors.Is(err, institutions.ErrNotFound):
		if _, err := container.InstitutionService.Create(ctx, domain.Institution{
			ID:    regionID,
			Level: domain.LevelRegion,
			Name:  regionID,
		}); err != nil {
			return fmt.Errorf("failed to create bootstrap region: %w", err)
		}
	case err != nil:
		return err
	}

	if err := container.RoleService.Assign(ctx, cfg.BootstrapSuperadmin, roles.RoleSuperadmin, regionID); err != nil {
		return fmt.Errorf("failed to assign superadmin: %w", err)
	}

	log.Info().
		Str("user_id", cfg.BootstrapSuperadmin).
		Str("institution_id", regionID).
		Msg("Bootstrap superadmin ensured")
	return nil
}
