package roles

import (
	"context"
	"time"

	"github.com/aristath/scholar/internal/database"
	"github.com/rs/zerolog"
)

// Assignment grants a role to a user at one institution
type Assignment struct {
	UserID        string    `json:"user_id"`
	Role          string    `json:"role"`
	InstitutionID string    `json:"institution_id"`
	CreatedAt     time.Time `json:"created_at"`
}

// Repository handles user_roles persistence
type Repository struct {
	db  *database.DB
	log zerolog.Logger
}

// NewRepository creates a new role repository
func NewRepository(db *database.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repository", "roles").Logger(),
	}
}

// Insert stores an assignment; re-assigning an existing role is a no-op
func (r *Repository) Insert(ctx context.Context, a Assignment) error {
	_, err := r.db.Conn().ExecContext(ctx, r.db.Rebind(`
		INSERT INTO user_roles (user_id, role, institution_id, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (user_id, role, institution_id) DO NOTHING
	`), a.UserID, a.Role, a.InstitutionID, a.CreatedAt.Unix())
	return database.StorageError("insert role assignment", err)
}

// Delete removes an assignment and reports whether a row was removed
func (r *Repository) Delete(ctx context.Context, userID, role, institutionID string) (bool, error) {
	res, err := r.db.Conn().ExecContext(ctx, r.db.Rebind(`
		DELETE FROM user_roles WHERE user_id = ? AND role = ? AND institution_id = ?
	`), userID, role, institutionID)
	if err != nil {
		return false, database.StorageError("delete role assignment", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, database.StorageError("delete role assignment", err)
	}
	return n > 0, nil
}

// ListForUser returns every assignment held by a user
func (r *Repository) ListForUser(ctx context.Context, userID string) ([]Assignment, error) {
	rows, err := r.db.Conn().QueryContext(ctx, r.db.Rebind(`
		SELECT user_id, role, institution_id, created_at
		FROM user_roles WHERE user_id = ? ORDER BY role, institution_id
	`), userID)
	if err != nil {
		return nil, database.StorageError("list role assignments", err)
	}
	defer rows.Close()

	var assignments []Assignment
	for rows.Next() {
		var (
			a         Assignment
			createdAt int64
		)
		if err := rows.Scan(&a.UserID, &a.Role, &a.InstitutionID, &createdAt); err != nil {
			return nil, database.StorageError("scan role assignment", err)
		}
		a.CreatedAt = time.Unix(createdAt, 0).UTC()
		assignments = append(assignments, a)
	}
	return assignments, database.StorageError("iterate role assignments", rows.Err())
}
