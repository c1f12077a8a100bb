// Package settings provides the repository for runtime key/value settings.
// Settings take precedence over environment variables and can be changed
// without restarting the application.
package settings

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aristath/scholar/internal/database"
	"github.com/rs/zerolog"
)

// Repository handles settings database operations.
//
// Settings are stored as strings; GetInt converts numeric ones.
type Repository struct {
	db  *database.DB
	log zerolog.Logger
}

// NewRepository creates a new settings repository.
//
// Parameters:
//   - db: Database holding the settings table
//   - log: Structured logger
//
// Returns:
//   - *Repository: Initialized repository instance
func NewRepository(db *database.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repository", "settings").Logger(),
	}
}

// Get retrieves a setting value by key.
// Returns nil if the setting doesn't exist (not an error).
//
// Parameters:
//   - key: Setting key (e.g., "archive_bucket")
//
// Returns:
//   - *string: Setting value if found, nil if not found
//   - error: Error if query fails
func (r *Repository) Get(key string) (*string, error) {
	var value string
	err := r.db.Conn().QueryRowContext(context.Background(),
		r.db.Rebind("SELECT value FROM settings WHERE key = ?"), key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, database.StorageError(fmt.Sprintf("get setting %s", key), err)
	}
	return &value, nil
}

// Set upserts a setting value. The description is optional.
//
// Parameters:
//   - key: Setting key
//   - value: Setting value (stored as string)
//   - description: Optional description of the setting
//
// Returns:
//   - error: Error if database operation fails
func (r *Repository) Set(key string, value string, description *string) error {
	now := time.Now().Unix()

	var err error
	if description != nil {
		_, err = r.db.Conn().Exec(r.db.Rebind(`
			INSERT INTO settings (key, value, description, updated_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(key) DO UPDATE SET
				value = excluded.value,
				description = excluded.description,
				updated_at = excluded.updated_at
		`), key, value, *description, now)
	} else {
		_, err = r.db.Conn().Exec(r.db.Rebind(`
			INSERT INTO settings (key, value, updated_at)
			VALUES (?, ?, ?)
			ON CONFLICT(key) DO UPDATE SET
				value = excluded.value,
				updated_at = excluded.updated_at
		`), key, value, now)
	}
	return database.StorageError(fmt.Sprintf("set setting %s", key), err)
}

// GetAll retrieves all settings as a map.
//
// Returns:
//   - map[string]string: Map of setting keys to values
//   - error: Error if query fails
func (r *Repository) GetAll() (map[string]string, error) {
	rows, err := r.db.Conn().Query("SELECT key, value FROM settings")
	if err != nil {
		return nil, database.StorageError("get all settings", err)
	}
	defer rows.Close()

	result := make(map[string]string)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			r.log.Warn().Err(err).Msg("Failed to scan setting row")
			continue
		}
		result[key] = value
	}

	if err := rows.Err(); err != nil {
		return nil, database.StorageError("iterate settings", err)
	}

	return result, nil
}

// GetInt retrieves a setting value as integer.
// Handles "12.0" strings by parsing via float first. Missing, empty and
// unparsable values yield defaultValue.
func (r *Repository) GetInt(key string, defaultValue int) (int, error) {
	value, err := r.Get(key)
	if err != nil {
		return defaultValue, err
	}
	if value == nil || *value == "" {
		return defaultValue, nil
	}

	floatVal, err := strconv.ParseFloat(*value, 64)
	if err != nil {
		r.log.Warn().
			Err(err).
			Str("key", key).
			Str("value", *value).
			Msg("Failed to parse int setting")
		return defaultValue, nil
	}

	return int(floatVal), nil
}

// SeedDefaults registers every known setting key with an empty value and
// its description, so the table lists what can be configured. Stored
// values are never overwritten, and empty values defer to the environment.
func (r *Repository) SeedDefaults() error {
	existing, err := r.GetAll()
	if err != nil {
		return err
	}

	for key, desc := range SettingDescriptions {
		if _, ok := existing[key]; ok {
			continue
		}
		desc := desc
		if err := r.Set(key, "", &desc); err != nil {
			return err
		}
	}
	return nil
}
