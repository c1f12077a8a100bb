package di

import (
	"fmt"

	"github.com/aristath/scholar/internal/config"
	"github.com/aristath/scholar/internal/scheduler"
	"github.com/rs/zerolog"
)

// RegisterJobs creates the background jobs and registers them with the scheduler
func RegisterJobs(container *Container, cfg *config.Config, sched *scheduler.Scheduler, log zerolog.Logger) (*JobInstances, error) {
	if container == nil || container.ApprovalService == nil {
		return nil, fmt.Errorf("services must be initialized before jobs")
	}

	instances := &JobInstances{
		OverdueSweep: scheduler.NewOverdueSweepJob(container.ApprovalService, log),
	}
	if err := sched.AddJob(cfg.OverdueSweepSchedule, instances.OverdueSweep); err != nil {
		return nil, fmt.Errorf("failed to register overdue sweep job: %w", err)
	}

	if container.BackupService != nil && cfg.BackupSchedule != "" {
		instances.Backup = scheduler.NewBackupJob(container.BackupService, cfg.BackupRetentionDays, log)
		if err := sched.AddJob(cfg.BackupSchedule, instances.Backup); err != nil {
			return nil, fmt.Errorf("failed to register backup job: %w", err)
		}
	}

	log.Info().Int("jobs", sched.Len()).Msg("Jobs registered")
	return instances, nil
}
