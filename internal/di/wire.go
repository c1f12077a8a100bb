package di

import (
	"context"
	"fmt"

	"github.com/aristath/scholar/internal/config"
	"github.com/aristath/scholar/internal/scheduler"
	"github.com/rs/zerolog"
)

// Wire initializes all dependencies and returns a fully configured container.
// Order of operations:
// 1. Initialize database
// 2. Initialize repositories
// 3. Apply settings overrides to the config
// 4. Initialize services
// 5. Bootstrap the first superadmin, if configured
// 6. Register jobs
func Wire(ctx context.Context, cfg *config.Config, sched *scheduler.Scheduler, log zerolog.Logger) (*Container, *JobInstances, error) {
	container, err := InitializeDatabase(cfg, log)
	if err != nil {
		return nil, nil, err
	}

	fail := func(step string, err error) (*Container, *JobInstances, error) {
		_ = container.Close()
		return nil, nil, fmt.Errorf("failed to %s: %w", step, err)
	}

	if err := InitializeRepositories(container, log); err != nil {
		return fail("initialize repositories", err)
	}

	// Settings table values take precedence over environment variables
	if err := cfg.UpdateFromSettings(container.SettingsRepo); err != nil {
		return fail("apply settings", err)
	}

	if err := InitializeServices(ctx, container, cfg, log); err != nil {
		return fail("initialize services", err)
	}

	if err := BootstrapSuperadmin(ctx, container, cfg, log); err != nil {
		return fail("bootstrap superadmin", err)
	}

	jobs, err := RegisterJobs(container, cfg, sched, log)
	if err != nil {
		return fail("register jobs", err)
	}

	log.Info().Msg("Dependency injection wiring completed successfully")
	return container, jobs, nil
}
