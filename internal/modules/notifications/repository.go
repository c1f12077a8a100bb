// Package notifications turns domain events into per-user notifications.
package notifications

import (
	"context"
	"database/sql"
	"time"

	"github.com/aristath/scholar/internal/database"
	"github.com/rs/zerolog"
)

// Notification is one message addressed to a user
type Notification struct {
	ID          string     `json:"id"`
	RecipientID string     `json:"recipient_id"`
	EventType   string     `json:"event_type"`
	Subject     string     `json:"subject"`
	Body        string     `json:"body"`
	CreatedAt   time.Time  `json:"created_at"`
	ReadAt      *time.Time `json:"read_at,omitempty"`
}

// Repository stores notifications
type Repository struct {
	db  *database.DB
	log zerolog.Logger
}

// NewRepository creates a new notifications repository
func NewRepository(db *database.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repository", "notifications").Logger(),
	}
}

// Insert stores a notification
func (r *Repository) Insert(ctx context.Context, n Notification) error {
	_, err := r.db.Conn().ExecContext(ctx, r.db.Rebind(`
		INSERT INTO notifications (id, recipient_id, event_type, subject, body, created_at, read_at)
		VALUES (?, ?, ?, ?, ?, ?, NULL)
	`), n.ID, n.RecipientID, n.EventType, n.Subject, n.Body, n.CreatedAt.Unix())
	return database.StorageError("insert notification", err)
}

// ListForRecipient returns a user's notifications, newest first
func (r *Repository) ListForRecipient(ctx context.Context, recipientID string, unreadOnly bool, limit int) ([]Notification, error) {
	query := `SELECT id, recipient_id, event_type, subject, body, created_at, read_at
		FROM notifications WHERE recipient_id = ?`
	if unreadOnly {
		query += ` AND read_at IS NULL`
	}
	query += ` ORDER BY created_at DESC, id ASC LIMIT ?`

	rows, err := r.db.Conn().QueryContext(ctx, r.db.Rebind(query), recipientID, limit)
	if err != nil {
		return nil, database.StorageError("list notifications", err)
	}
	defer rows.Close()

	var out []Notification
	for rows.Next() {
		var (
			n         Notification
			createdAt int64
			readAt    sql.NullInt64
		)
		if err := rows.Scan(&n.ID, &n.RecipientID, &n.EventType, &n.Subject, &n.Body, &createdAt, &readAt); err != nil {
			return nil, database.StorageError("scan notification", err)
		}
		n.CreatedAt = time.Unix(createdAt, 0).UTC()
		if readAt.Valid {
			t := time.Unix(readAt.Int64, 0).UTC()
			n.ReadAt = &t
		}
		out = append(out, n)
	}
	return out, database.StorageError("list notifications", rows.Err())
}

// MarkRead marks a recipient's notification read. Returns false if nothing matched.
func (r *Repository) MarkRead(ctx context.Context, recipientID, id string, at time.Time) (bool, error) {
	res, err := r.db.Conn().ExecContext(ctx, r.db.Rebind(`
		UPDATE notifications SET read_at = ? WHERE id = ? AND recipient_id = ? AND read_at IS NULL
	`), at.Unix(), id, recipientID)
	if err != nil {
		return false, database.StorageError("mark notification read", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, database.StorageError("mark notification read", err)
	}
	return n == 1, nil
}
