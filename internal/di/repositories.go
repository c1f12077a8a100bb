package di

import (
	"fmt"

	"github.com/aristath/scholar/internal/modules/approval"
	"github.com/aristath/scholar/internal/modules/institutions"
	"github.com/aristath/scholar/internal/modules/notifications"
	"github.com/aristath/scholar/internal/modules/rating"
	"github.com/aristath/scholar/internal/modules/roles"
	"github.com/aristath/scholar/internal/modules/settings"
	"github.com/rs/zerolog"
)

// InitializeRepositories creates all repositories on the container's database
func InitializeRepositories(container *Container, log zerolog.Logger) error {
	if container == nil || container.DB == nil {
		return fmt.Errorf("container database is not initialized")
	}
	db := container.DB

	container.SettingsRepo = settings.NewRepository(db, log)
	if err := container.SettingsRepo.SeedDefaults(); err != nil {
		return fmt.Errorf("failed to seed settings: %w", err)
	}
	container.InstitutionRepo = institutions.NewRepository(db, log)
	container.RoleRepo = roles.NewRepository(db, log)
	container.RatingRepo = rating.NewRepository(db, log)
	container.RatingConfigRepo = rating.NewConfigRepository(db, log)
	container.ScoreProvider = rating.NewScoreProvider(db, log)
	container.ApprovalRepo = approval.NewRepository(db, log)
	container.NotificationRepo = notifications.NewRepository(db, log)

	log.Info().Msg("Repositories initialized")
	return nil
}
