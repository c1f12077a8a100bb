// Package institutions manages the region -> sector -> school hierarchy.
package institutions

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/aristath/scholar/internal/database"
	"github.com/aristath/scholar/internal/domain"
	"github.com/rs/zerolog"
)

// Repository handles institution persistence
type Repository struct {
	db  *database.DB
	log zerolog.Logger
}

// NewRepository creates a new institution repository
func NewRepository(db *database.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repository", "institutions").Logger(),
	}
}

// Insert stores a new institution
func (r *Repository) Insert(ctx context.Context, inst domain.Institution) error {
	_, err := r.db.Conn().ExecContext(ctx, r.db.Rebind(`
		INSERT INTO institutions (id, parent_id, level, name, created_at)
		VALUES (?, ?, ?, ?, ?)
	`), inst.ID, nullString(inst.ParentID), string(inst.Level), inst.Name, inst.CreatedAt.Unix())
	return database.StorageError("insert institution", err)
}

// GetByID returns the institution or nil if it does not exist
func (r *Repository) GetByID(ctx context.Context, id string) (*domain.Institution, error) {
	var (
		inst      domain.Institution
		parentID  sql.NullString
		level     string
		createdAt int64
	)
	err := r.db.Conn().QueryRowContext(ctx, r.db.Rebind(`
		SELECT id, parent_id, level, name, created_at FROM institutions WHERE id = ?
	`), id).Scan(&inst.ID, &parentID, &level, &inst.Name, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, database.StorageError(fmt.Sprintf("get institution %s", id), err)
	}

	inst.Level = domain.Level(level)
	inst.CreatedAt = time.Unix(createdAt, 0).UTC()
	if parentID.Valid {
		p := parentID.String
		inst.ParentID = &p
	}
	return &inst, nil
}

// ListChildren returns the direct children of an institution ordered by name
func (r *Repository) ListChildren(ctx context.Context, parentID string) ([]domain.Institution, error) {
	rows, err := r.db.Conn().QueryContext(ctx, r.db.Rebind(`
		SELECT id, level, name, created_at FROM institutions WHERE parent_id = ? ORDER BY name
	`), parentID)
	if err != nil {
		return nil, database.StorageError("list institution children", err)
	}
	defer rows.Close()

	var children []domain.Institution
	for rows.Next() {
		var (
			inst      domain.Institution
			level     string
			createdAt int64
		)
		if err := rows.Scan(&inst.ID, &level, &inst.Name, &createdAt); err != nil {
			return nil, database.StorageError("scan institution", err)
		}
		p := parentID
		inst.ParentID = &p
		inst.Level = domain.Level(level)
		inst.CreatedAt = time.Unix(createdAt, 0).UTC()
		children = append(children, inst)
	}
	return children, database.StorageError("iterate institutions", rows.Err())
}

func nullString(s *string) interface{} {
	if s == nil || *s == "" {
		return nil
	}
	return *s
}
