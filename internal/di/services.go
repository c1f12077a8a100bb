package di

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/aristath/scholar/internal/archive"
	"github.com/aristath/scholar/internal/auth"
	"github.com/aristath/scholar/internal/config"
	"github.com/aristath/scholar/internal/database"
	"github.com/aristath/scholar/internal/events"
	"github.com/aristath/scholar/internal/modules/approval"
	"github.com/aristath/scholar/internal/modules/institutions"
	"github.com/aristath/scholar/internal/modules/notifications"
	"github.com/aristath/scholar/internal/modules/rating"
	"github.com/aristath/scholar/internal/modules/roles"
	"github.com/rs/zerolog"
)

// InitializeServices creates the event system and all services, then wires
// event subscribers and the optional archive.
func InitializeServices(ctx context.Context, container *Container, cfg *config.Config, log zerolog.Logger) error {
	if container.SettingsRepo == nil {
		return fmt.Errorf("repositories must be initialized before services")
	}

	container.EventBus = events.NewBus(log)
	container.EventManager = events.NewManager(container.EventBus, log)

	container.AuthService = auth.NewService(cfg.JWTSecret, cfg.JWTTTL)

	container.InstitutionService = institutions.NewService(container.InstitutionRepo, log)

	container.RoleService = roles.NewService(container.RoleRepo, container.EventManager, log)
	container.RoleResolver = roles.NewResolver(container.RoleRepo, roles.NewChecker(roles.RolePermissions), log)
	container.RoleResolver.Subscribe(container.EventBus)

	container.RatingService = rating.NewService(
		container.RatingRepo,
		container.RatingConfigRepo,
		container.ScoreProvider,
		container.InstitutionService,
		container.EventManager,
		log,
	)

	container.ApprovalService = approval.NewService(
		container.ApprovalRepo,
		container.InstitutionService,
		container.RoleResolver,
		container.EventManager,
		log,
	)
	if err := container.ApprovalService.EnsureDefaultWorkflow(ctx, cfg.ApprovalDeadline); err != nil {
		return fmt.Errorf("failed to store default approval workflow: %w", err)
	}

	container.NotificationDispatcher = notifications.NewDispatcher(container.NotificationRepo, log)
	container.NotificationDispatcher.Subscribe(container.EventBus)

	if err := initializeArchive(ctx, container, cfg, log); err != nil {
		return err
	}

	log.Info().Msg("Services initialized")
	return nil
}

// initializeArchive connects the object store when a bucket is configured.
// Without one, publishing skips snapshots and no backup job is registered.
func initializeArchive(ctx context.Context, container *Container, cfg *config.Config, log zerolog.Logger) error {
	if !cfg.Archive.Enabled() {
		log.Info().Msg("Archive bucket not configured, snapshots and backups disabled")
		return nil
	}

	if container.ObjectStore == nil {
		initCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()

		store, err := archive.NewS3Store(initCtx, archive.StoreConfig{
			Bucket:          cfg.Archive.Bucket,
			Endpoint:        cfg.Archive.Endpoint,
			Region:          cfg.Archive.Region,
			AccessKeyID:     cfg.Archive.AccessKeyID,
			SecretAccessKey: cfg.Archive.SecretAccessKey,
		}, log)
		if err != nil {
			return fmt.Errorf("failed to initialize archive store: %w", err)
		}
		container.ObjectStore = store
	}

	container.RatingArchiver = archive.NewRatingArchiver(container.ObjectStore, log)
	container.RatingService.SetArchiver(container.RatingArchiver)

	// Postgres is backed up by the database operator, not in-process
	if container.DB.Driver() == database.DriverSQLite {
		container.BackupService = archive.NewBackupService(
			container.DB,
			container.ObjectStore,
			filepath.Join(cfg.DataDir, "backup-staging"),
			log,
		)
	}

	log.Info().Str("bucket", cfg.Archive.Bucket).Msg("Archive initialized")
	return nil
}
