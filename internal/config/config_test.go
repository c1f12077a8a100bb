package config

import (
	"testing"
	"time"

	"github.com/aristath/scholar/internal/modules/settings"
	testutil "github.com/aristath/scholar/internal/testing"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setBaseEnv(t *testing.T) {
	t.Helper()
	t.Setenv("SCHOLAR_DATA_DIR", t.TempDir())
	t.Setenv("DB_DRIVER", "")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("PORT", "")
	t.Setenv("DEV_MODE", "")
	t.Setenv("JWT_SECRET", "test-secret")
	t.Setenv("OVERDUE_SWEEP_SCHEDULE", "")
	t.Setenv("APPROVAL_DEFAULT_DEADLINE_HOURS", "")
	t.Setenv("BACKUP_SCHEDULE", "")
	t.Setenv("ARCHIVE_BUCKET", "")
	t.Setenv("BOOTSTRAP_SUPERADMIN", "")
	t.Setenv("BOOTSTRAP_REGION_ID", "")
}

func TestLoad_Defaults(t *testing.T) {
	setBaseEnv(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.DBDriver)
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, "0 */5 * * * *", cfg.OverdueSweepSchedule)
	assert.Equal(t, 72*time.Hour, cfg.ApprovalDeadline)
	assert.Equal(t, "auto", cfg.Archive.Region)
	assert.False(t, cfg.Archive.Enabled())
	assert.Empty(t, cfg.BootstrapSuperadmin)
	assert.Equal(t, "region-root", cfg.BootstrapRegionID)
}

func TestLoad_FromEnvironment(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("PORT", "9090")
	t.Setenv("APPROVAL_DEFAULT_DEADLINE_HOURS", "24")
	t.Setenv("OVERDUE_SWEEP_SCHEDULE", "@every 1m")
	t.Setenv("ARCHIVE_BUCKET", "ratings")
	t.Setenv("BOOTSTRAP_SUPERADMIN", "admin")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, 24*time.Hour, cfg.ApprovalDeadline)
	assert.Equal(t, "@every 1m", cfg.OverdueSweepSchedule)
	assert.True(t, cfg.Archive.Enabled())
	assert.Equal(t, "admin", cfg.BootstrapSuperadmin)
}

func TestLoad_DevModeSecret(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("JWT_SECRET", "")

	_, err := Load()
	require.Error(t, err)

	t.Setenv("DEV_MODE", "true")
	cfg, err := Load()
	require.NoError(t, err)
	assert.NotEmpty(t, cfg.JWTSecret)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			DBDriver:             "sqlite",
			Port:                 8080,
			JWTSecret:            "secret",
			OverdueSweepSchedule: "0 */5 * * * *",
			ApprovalDeadline:     time.Hour,
		}
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"valid", func(c *Config) {}, ""},
		{"unknown driver", func(c *Config) { c.DBDriver = "mysql" }, "unsupported DB_DRIVER"},
		{"postgres without dsn", func(c *Config) { c.DBDriver = "postgres" }, "DATABASE_URL"},
		{"postgres with dsn", func(c *Config) {
			c.DBDriver = "postgres"
			c.DatabaseURL = "postgres://localhost/scholar"
		}, ""},
		{"bad port", func(c *Config) { c.Port = 0 }, "invalid PORT"},
		{"bad schedule", func(c *Config) { c.OverdueSweepSchedule = "*/5 * * * *" }, "overdue sweep schedule"},
		{"bad backup schedule", func(c *Config) { c.BackupSchedule = "nightly" }, "backup schedule"},
		{"zero deadline", func(c *Config) { c.ApprovalDeadline = 0 }, "deadline"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(c)
			err := c.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestUpdateFromSettings(t *testing.T) {
	db := testutil.NewTestDB(t)
	repo := settings.NewRepository(db, zerolog.Nop())

	require.NoError(t, repo.Set(settings.KeyArchiveBucket, "scholar-archive", nil))
	require.NoError(t, repo.Set(settings.KeyArchiveEndpoint, "", nil))
	require.NoError(t, repo.Set(settings.KeyApprovalDeadlineHours, "48", nil))
	require.NoError(t, repo.Set(settings.KeyOverdueSweepSchedule, "@every 10m", nil))

	cfg := &Config{
		DBDriver:             "sqlite",
		Port:                 8080,
		JWTSecret:            "secret",
		OverdueSweepSchedule: "0 */5 * * * *",
		ApprovalDeadline:     72 * time.Hour,
		Archive:              ArchiveConfig{Endpoint: "https://minio.local"},
	}
	require.NoError(t, cfg.UpdateFromSettings(repo))

	assert.Equal(t, "scholar-archive", cfg.Archive.Bucket)
	assert.Equal(t, "https://minio.local", cfg.Archive.Endpoint, "empty settings keep the env value")
	assert.Equal(t, 48*time.Hour, cfg.ApprovalDeadline)
	assert.Equal(t, "@every 10m", cfg.OverdueSweepSchedule)
}

func TestUpdateFromSettings_InvalidDeadline(t *testing.T) {
	db := testutil.NewTestDB(t)
	repo := settings.NewRepository(db, zerolog.Nop())
	require.NoError(t, repo.Set(settings.KeyApprovalDeadlineHours, "soon", nil))

	cfg := &Config{DBDriver: "sqlite", Port: 8080, JWTSecret: "s", OverdueSweepSchedule: "@hourly", ApprovalDeadline: time.Hour}
	require.NoError(t, cfg.UpdateFromSettings(repo))
	assert.Equal(t, time.Hour, cfg.ApprovalDeadline, "unparsable hours keep the current deadline")

	require.NoError(t, repo.Set(settings.KeyApprovalDeadlineHours, "0", nil))
	require.NoError(t, cfg.UpdateFromSettings(repo))
	assert.Equal(t, time.Hour, cfg.ApprovalDeadline)
}
