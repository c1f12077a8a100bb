// Package config provides configuration management functionality.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/aristath/scholar/internal/modules/settings"
	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
)

// Config holds application configuration
type Config struct {
	DataDir     string // Base directory for the SQLite database and backup staging (always absolute)
	DBDriver    string // sqlite or postgres
	DatabaseURL string // Postgres DSN, ignored for sqlite
	LogLevel    string
	Port        int
	DevMode     bool

	JWTSecret string
	JWTTTL    time.Duration

	OverdueSweepSchedule string        // cron spec with a seconds field
	ApprovalDeadline     time.Duration // default per-level deadline of the standard workflow

	BackupSchedule      string // empty disables scheduled backups
	BackupRetentionDays int

	Archive ArchiveConfig

	// First superadmin, assigned at startup so a fresh database can be administered
	BootstrapSuperadmin string
	BootstrapRegionID   string
}

// ArchiveConfig holds the S3-compatible bucket used for rating snapshots and backups
type ArchiveConfig struct {
	Bucket          string
	Endpoint        string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
}

// Enabled reports whether an archive bucket is configured
func (a ArchiveConfig) Enabled() bool {
	return a.Bucket != ""
}

const devJWTSecret = "scholar-dev-secret"

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	dataDir := getEnv("SCHOLAR_DATA_DIR", "./data")
	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}
	if err := os.MkdirAll(absDataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	cfg := &Config{
		DataDir:              absDataDir,
		DBDriver:             strings.ToLower(getEnv("DB_DRIVER", "sqlite")),
		DatabaseURL:          getEnv("DATABASE_URL", ""),
		LogLevel:             getEnv("LOG_LEVEL", "info"),
		Port:                 getEnvAsInt("PORT", 8080),
		DevMode:              getEnvAsBool("DEV_MODE", false),
		JWTSecret:            getEnv("JWT_SECRET", ""),
		JWTTTL:               time.Duration(getEnvAsInt("JWT_TTL_HOURS", 12)) * time.Hour,
		OverdueSweepSchedule: getEnv("OVERDUE_SWEEP_SCHEDULE", "0 */5 * * * *"),
		ApprovalDeadline:     time.Duration(getEnvAsInt("APPROVAL_DEFAULT_DEADLINE_HOURS", 72)) * time.Hour,
		BackupSchedule:       getEnv("BACKUP_SCHEDULE", "0 0 3 * * *"),
		BackupRetentionDays:  getEnvAsInt("BACKUP_RETENTION_DAYS", 30),
		Archive: ArchiveConfig{
			Bucket:          getEnv("ARCHIVE_BUCKET", ""),
			Endpoint:        getEnv("ARCHIVE_ENDPOINT", ""),
			Region:          getEnv("ARCHIVE_REGION", "auto"),
			AccessKeyID:     getEnv("ARCHIVE_ACCESS_KEY_ID", ""),
			SecretAccessKey: getEnv("ARCHIVE_SECRET_ACCESS_KEY", ""),
		},
		BootstrapSuperadmin: getEnv("BOOTSTRAP_SUPERADMIN", ""),
		BootstrapRegionID:   getEnv("BOOTSTRAP_REGION_ID", "region-root"),
	}

	if cfg.JWTSecret == "" && cfg.DevMode {
		cfg.JWTSecret = devJWTSecret
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// UpdateFromSettings updates configuration from the settings table.
// Non-empty settings take precedence over environment variables.
func (c *Config) UpdateFromSettings(settingsRepo *settings.Repository) error {
	overrides := []struct {
		key    string
		target *string
	}{
		{settings.KeyArchiveBucket, &c.Archive.Bucket},
		{settings.KeyArchiveEndpoint, &c.Archive.Endpoint},
		{settings.KeyArchiveRegion, &c.Archive.Region},
		{settings.KeyArchiveAccessKeyID, &c.Archive.AccessKeyID},
		{settings.KeyArchiveSecretAccessKey, &c.Archive.SecretAccessKey},
		{settings.KeyOverdueSweepSchedule, &c.OverdueSweepSchedule},
	}

	for _, o := range overrides {
		value, err := settingsRepo.Get(o.key)
		if err != nil {
			return fmt.Errorf("failed to get %s from settings: %w", o.key, err)
		}
		if value != nil && *value != "" {
			*o.target = *value
		}
	}

	current := int(c.ApprovalDeadline / time.Hour)
	hours, err := settingsRepo.GetInt(settings.KeyApprovalDeadlineHours, current)
	if err != nil {
		return fmt.Errorf("failed to get %s from settings: %w", settings.KeyApprovalDeadlineHours, err)
	}
	if hours > 0 && hours != current {
		c.ApprovalDeadline = time.Duration(hours) * time.Hour
	}

	return c.Validate()
}

// Validate checks if required configuration is present
func (c *Config) Validate() error {
	switch c.DBDriver {
	case "sqlite":
	case "postgres":
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required when DB_DRIVER=postgres")
		}
	default:
		return fmt.Errorf("unsupported DB_DRIVER %q (expected sqlite or postgres)", c.DBDriver)
	}

	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid PORT %d", c.Port)
	}
	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required outside dev mode")
	}
	if c.ApprovalDeadline <= 0 {
		return fmt.Errorf("approval deadline must be positive, got %s", c.ApprovalDeadline)
	}
	if _, err := ParseSchedule(c.OverdueSweepSchedule); err != nil {
		return fmt.Errorf("invalid overdue sweep schedule %q: %w", c.OverdueSweepSchedule, err)
	}
	if c.BackupSchedule != "" {
		if _, err := ParseSchedule(c.BackupSchedule); err != nil {
			return fmt.Errorf("invalid backup schedule %q: %w", c.BackupSchedule, err)
		}
	}

	return nil
}

// ParseSchedule parses a cron spec the way the scheduler does (seconds field, descriptors allowed)
func ParseSchedule(spec string) (cron.Schedule, error) {
	parser := cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	return parser.Parse(spec)
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}
