package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// OverdueSweeper flags approval requests whose deadline has passed
type OverdueSweeper interface {
	SweepOverdue(ctx context.Context, now time.Time) (int, error)
}

// OverdueSweepJob escalates overdue approval requests
type OverdueSweepJob struct {
	sweeper OverdueSweeper
	timeout time.Duration
	log     zerolog.Logger
	now     func() time.Time
}

// NewOverdueSweepJob creates a new overdue sweep job
func NewOverdueSweepJob(sweeper OverdueSweeper, log zerolog.Logger) *OverdueSweepJob {
	return &OverdueSweepJob{
		sweeper: sweeper,
		timeout: 2 * time.Minute,
		log:     log.With().Str("job", "approval_overdue_sweep").Logger(),
		now:     time.Now,
	}
}

// Name returns the job name
func (j *OverdueSweepJob) Name() string {
	return "approval_overdue_sweep"
}

// Run executes one sweep
func (j *OverdueSweepJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()

	n, err := j.sweeper.SweepOverdue(ctx, j.now())
	if err != nil {
		return err
	}
	if n > 0 {
		j.log.Info().Int("flagged", n).Msg("Overdue sweep flagged requests")
	}
	return nil
}

// DatabaseBackup uploads and rotates database snapshots
type DatabaseBackup interface {
	CreateAndUpload(ctx context.Context) (string, error)
	RotateOldBackups(ctx context.Context, retentionDays int) (int, error)
}

// BackupJob uploads a database snapshot, then prunes old ones
type BackupJob struct {
	backup        DatabaseBackup
	retentionDays int
	log           zerolog.Logger
}

// NewBackupJob creates a new backup job
func NewBackupJob(backup DatabaseBackup, retentionDays int, log zerolog.Logger) *BackupJob {
	return &BackupJob{
		backup:        backup,
		retentionDays: retentionDays,
		log:           log.With().Str("job", "database_backup").Logger(),
	}
}

// Name returns the job name
func (j *BackupJob) Name() string {
	return "database_backup"
}

// Run creates a backup and rotates old ones. Rotation failures are logged only.
func (j *BackupJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
	defer cancel()

	if _, err := j.backup.CreateAndUpload(ctx); err != nil {
		return err
	}
	if _, err := j.backup.RotateOldBackups(ctx, j.retentionDays); err != nil {
		j.log.Error().Err(err).Msg("Backup rotation failed")
	}
	return nil
}
