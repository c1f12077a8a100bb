// Package di provides dependency injection type definitions.
//
// The Container holds every long-lived dependency of the application. It is built
// by Wire() and handed to the HTTP server and the scheduler.
package di

import (
	"github.com/aristath/scholar/internal/archive"
	"github.com/aristath/scholar/internal/auth"
	"github.com/aristath/scholar/internal/database"
	"github.com/aristath/scholar/internal/events"
	"github.com/aristath/scholar/internal/modules/approval"
	"github.com/aristath/scholar/internal/modules/institutions"
	"github.com/aristath/scholar/internal/modules/notifications"
	"github.com/aristath/scholar/internal/modules/rating"
	"github.com/aristath/scholar/internal/modules/roles"
	"github.com/aristath/scholar/internal/modules/settings"
	"github.com/aristath/scholar/internal/scheduler"
)

// Container holds all dependencies for the application
type Container struct {
	// Single database holding settings, hierarchy, ratings and the approval log
	DB *database.DB

	// Event system
	EventBus     *events.Bus
	EventManager *events.Manager

	// Repositories - Data access layer
	SettingsRepo     *settings.Repository
	InstitutionRepo  *institutions.Repository
	RoleRepo         *roles.Repository
	RatingRepo       *rating.Repository
	RatingConfigRepo *rating.ConfigRepository
	ScoreProvider    *rating.ScoreProvider
	ApprovalRepo     *approval.Repository
	NotificationRepo *notifications.Repository

	// Services - Business logic layer
	AuthService            *auth.Service
	InstitutionService     *institutions.Service
	RoleService            *roles.Service
	RoleResolver           *roles.Resolver
	RatingService          *rating.Service
	ApprovalService        *approval.Service
	NotificationDispatcher *notifications.Dispatcher

	// Archive - nil when no bucket is configured
	ObjectStore    archive.ObjectStore
	RatingArchiver *archive.RatingArchiver
	BackupService  *archive.BackupService
}

// Close releases the database connection
func (c *Container) Close() error {
	if c == nil || c.DB == nil {
		return nil
	}
	return c.DB.Close()
}

// JobInstances holds the scheduled jobs for manual triggering
type JobInstances struct {
	OverdueSweep *scheduler.OverdueSweepJob
	Backup       *scheduler.BackupJob // nil when archiving is disabled
}
