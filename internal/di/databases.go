package di

import (
	"fmt"
	"path/filepath"

	"github.com/aristath/scholar/internal/config"
	"github.com/aristath/scholar/internal/database"
	"github.com/rs/zerolog"
)

// InitializeDatabase opens the scholar database and applies its schema
func InitializeDatabase(cfg *config.Config, log zerolog.Logger) (*Container, error) {
	db, err := database.New(database.Config{
		Driver: database.Driver(cfg.DBDriver),
		Path:   filepath.Join(cfg.DataDir, "scholar.db"),
		DSN:    cfg.DatabaseURL,
		// Approval actions are an append-only audit log
		Profile: database.ProfileLedger,
		Name:    "scholar",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize scholar database: %w", err)
	}

	if err := db.Migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply schema to %s: %w", db.Name(), err)
	}

	log.Info().
		Str("driver", string(db.Driver())).
		Msg("Database initialized and schema applied")

	return &Container{DB: db}, nil
}
