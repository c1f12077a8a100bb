package approval

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aristath/scholar/internal/database"
	"github.com/aristath/scholar/internal/domain"
	"github.com/rs/zerolog"
)

// querier is satisfied by *sql.DB and *sql.Tx
type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// Repository stores workflows, requests, the action log and delegations
type Repository struct {
	db  *database.DB
	log zerolog.Logger
}

// NewRepository creates a new approval repository
func NewRepository(db *database.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repository", "approvals").Logger(),
	}
}

func (r *Repository) conn(q querier) querier {
	if q == nil {
		return r.db.Conn()
	}
	return q
}

// UpsertWorkflow creates or replaces a workflow definition
func (r *Repository) UpsertWorkflow(ctx context.Context, w Workflow) error {
	levels := make([]string, len(w.Levels))
	for i, l := range w.Levels {
		levels[i] = string(l)
	}

	_, err := r.db.Conn().ExecContext(ctx, r.db.Rebind(`
		INSERT INTO approval_workflows (id, levels, return_policy, level_deadline_hours)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			levels = excluded.levels,
			return_policy = excluded.return_policy,
			level_deadline_hours = excluded.level_deadline_hours
	`), w.ID, strings.Join(levels, ","), string(w.ReturnPolicy), int(w.LevelDeadline/time.Hour))
	return database.StorageError("upsert workflow", err)
}

// GetWorkflow returns a workflow or nil if it does not exist
func (r *Repository) GetWorkflow(ctx context.Context, id string) (*Workflow, error) {
	var (
		levels string
		policy string
		hours  int
	)
	err := r.db.Conn().QueryRowContext(ctx, r.db.Rebind(`
		SELECT levels, return_policy, level_deadline_hours FROM approval_workflows WHERE id = ?
	`), id).Scan(&levels, &policy, &hours)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, database.StorageError("get workflow", err)
	}

	w := &Workflow{
		ID:            id,
		ReturnPolicy:  ReturnPolicy(policy),
		LevelDeadline: time.Duration(hours) * time.Hour,
	}
	for _, l := range strings.Split(levels, ",") {
		w.Levels = append(w.Levels, domain.Level(l))
	}
	return w, nil
}

const requestColumns = `id, approvalable_type, approvalable_id, institution_id, submitter_id,
	workflow_id, current_status, current_approval_level, deadline, is_overdue,
	version, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

// CountOpenForWorkflow returns how many non-terminal requests follow a workflow
func (r *Repository) CountOpenForWorkflow(ctx context.Context, workflowID string) (int, error) {
	var n int
	err := r.db.Conn().QueryRowContext(ctx, r.db.Rebind(`
		SELECT COUNT(*) FROM approval_requests WHERE workflow_id = ? AND current_approval_level <> ''
	`), workflowID).Scan(&n)
	if err != nil {
		return 0, database.StorageError("count open requests", err)
	}
	return n, nil
}

func scanRequest(row rowScanner) (*Request, error) {
	var (
		req       Request
		status    string
		level     string
		deadline  sql.NullInt64
		overdue   int
		createdAt int64
		updatedAt int64
	)
	if err := row.Scan(
		&req.ID, &req.SubjectType, &req.SubjectID, &req.InstitutionID, &req.SubmitterID,
		&req.WorkflowID, &status, &level, &deadline, &overdue,
		&req.Version, &createdAt, &updatedAt,
	); err != nil {
		return nil, err
	}

	req.Status = Status(status)
	req.Level = domain.Level(level)
	req.IsOverdue = overdue != 0
	req.CreatedAt = time.Unix(createdAt, 0).UTC()
	req.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	if deadline.Valid {
		t := time.Unix(deadline.Int64, 0).UTC()
		req.Deadline = &t
	}
	return &req, nil
}

// InsertRequest stores a newly submitted request
func (r *Repository) InsertRequest(ctx context.Context, q querier, req *Request) error {
	_, err := r.conn(q).ExecContext(ctx, r.db.Rebind(`INSERT INTO approval_requests (`+requestColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		req.ID, req.SubjectType, req.SubjectID, req.InstitutionID, req.SubmitterID,
		req.WorkflowID, string(req.Status), string(req.Level), unixOrNil(req.Deadline), boolInt(req.IsOverdue),
		req.Version, req.CreatedAt.Unix(), req.UpdatedAt.Unix(),
	)
	if database.IsUniqueViolation(err) {
		return fmt.Errorf("%w: %s %s already has an open request", ErrInvalidTransition, req.SubjectType, req.SubjectID)
	}
	return database.StorageError("insert approval request", err)
}

// GetRequest returns a request or nil if it does not exist
func (r *Repository) GetRequest(ctx context.Context, q querier, id string) (*Request, error) {
	row := r.conn(q).QueryRowContext(ctx, r.db.Rebind(`SELECT `+requestColumns+` FROM approval_requests WHERE id = ?`), id)
	req, err := scanRequest(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, database.StorageError("get approval request", err)
	}
	return req, nil
}

// OpenRequestForSubject returns the non-terminal request for a subject, or nil
func (r *Repository) OpenRequestForSubject(ctx context.Context, subjectType, subjectID string) (*Request, error) {
	row := r.db.Conn().QueryRowContext(ctx, r.db.Rebind(`SELECT `+requestColumns+` FROM approval_requests
		WHERE approvalable_type = ? AND approvalable_id = ? AND current_approval_level <> ''
		ORDER BY created_at DESC LIMIT 1`), subjectType, subjectID)
	req, err := scanRequest(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, database.StorageError("get open approval request", err)
	}
	return req, nil
}

// UpdateProjection writes the projected state of req if the stored version still
// equals expectedVersion. Returns false when another writer got there first.
func (r *Repository) UpdateProjection(ctx context.Context, q querier, req *Request, expectedVersion int) (bool, error) {
	res, err := r.conn(q).ExecContext(ctx, r.db.Rebind(`
		UPDATE approval_requests
		SET current_status = ?, current_approval_level = ?, deadline = ?, is_overdue = ?,
			version = ?, updated_at = ?
		WHERE id = ? AND version = ?
	`), string(req.Status), string(req.Level), unixOrNil(req.Deadline), boolInt(req.IsOverdue),
		req.Version, req.UpdatedAt.Unix(), req.ID, expectedVersion)
	if err != nil {
		return false, database.StorageError("update approval request", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, database.StorageError("update approval request", err)
	}
	return n == 1, nil
}

// MarkOverdue flags a request whose deadline passed before now. It returns the new
// version, or ok=false when the request is already flagged or not yet due.
func (r *Repository) MarkOverdue(ctx context.Context, q querier, id string, now time.Time) (version int, ok bool, err error) {
	err = r.conn(q).QueryRowContext(ctx, r.db.Rebind(`
		UPDATE approval_requests
		SET is_overdue = 1, version = version + 1, updated_at = ?
		WHERE id = ? AND is_overdue = 0 AND current_approval_level <> ''
			AND deadline IS NOT NULL AND deadline < ?
		RETURNING version
	`), now.Unix(), id, now.Unix()).Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, database.StorageError("mark approval request overdue", err)
	}
	return version, true, nil
}

// OverdueCandidates lists open requests past their deadline that are not yet flagged
func (r *Repository) OverdueCandidates(ctx context.Context, now time.Time, limit int) ([]Request, error) {
	rows, err := r.db.Conn().QueryContext(ctx, r.db.Rebind(`SELECT `+requestColumns+` FROM approval_requests
		WHERE is_overdue = 0 AND current_approval_level <> ''
			AND deadline IS NOT NULL AND deadline < ?
		ORDER BY deadline ASC LIMIT ?`), now.Unix(), limit)
	if err != nil {
		return nil, database.StorageError("list overdue approval requests", err)
	}
	defer rows.Close()

	var out []Request
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, database.StorageError("scan approval request", err)
		}
		out = append(out, *req)
	}
	return out, database.StorageError("list overdue approval requests", rows.Err())
}

// AppendAction adds one row to the action log. (request_id, seq) is unique.
func (r *Repository) AppendAction(ctx context.Context, q querier, a *ActionRecord) error {
	_, err := r.conn(q).ExecContext(ctx, r.db.Rebind(`
		INSERT INTO approval_actions
			(id, request_id, seq, action, actor_id, old_status, new_status, old_level, new_level, comment, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`), a.ID, a.RequestID, a.Seq, string(a.Action), a.ActorID,
		string(a.OldStatus), string(a.NewStatus), string(a.OldLevel), string(a.NewLevel),
		a.Comment, a.CreatedAt.Unix())
	return database.StorageError("append approval action", err)
}

// Actions returns the action log of a request in order
func (r *Repository) Actions(ctx context.Context, requestID string) ([]ActionRecord, error) {
	rows, err := r.db.Conn().QueryContext(ctx, r.db.Rebind(`
		SELECT id, request_id, seq, action, actor_id, old_status, new_status, old_level, new_level, comment, created_at
		FROM approval_actions WHERE request_id = ? ORDER BY seq ASC
	`), requestID)
	if err != nil {
		return nil, database.StorageError("list approval actions", err)
	}
	defer rows.Close()

	var out []ActionRecord
	for rows.Next() {
		var (
			a         ActionRecord
			action    string
			oldStatus string
			newStatus string
			oldLv     string
			newLv     string
			createdAt int64
		)
		if err := rows.Scan(&a.ID, &a.RequestID, &a.Seq, &action, &a.ActorID,
			&oldStatus, &newStatus, &oldLv, &newLv, &a.Comment, &createdAt); err != nil {
			return nil, database.StorageError("scan approval action", err)
		}
		a.Action = Action(action)
		a.OldStatus = Status(oldStatus)
		a.NewStatus = Status(newStatus)
		a.OldLevel = domain.Level(oldLv)
		a.NewLevel = domain.Level(newLv)
		a.CreatedAt = time.Unix(createdAt, 0).UTC()
		out = append(out, a)
	}
	return out, database.StorageError("list approval actions", rows.Err())
}

// InsertDelegation stores a delegation
func (r *Repository) InsertDelegation(ctx context.Context, q querier, d *Delegation) error {
	_, err := r.conn(q).ExecContext(ctx, r.db.Rebind(`
		INSERT INTO approval_delegations
			(id, request_id, level, delegator_id, delegate_id, expires_at, used_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, NULL, ?)
	`), d.ID, d.RequestID, string(d.Level), d.DelegatorID, d.DelegateID, d.ExpiresAt.Unix(), d.CreatedAt.Unix())
	return database.StorageError("insert delegation", err)
}

// ActiveDelegation returns an unused, unexpired delegation to delegateID at level, or nil
func (r *Repository) ActiveDelegation(ctx context.Context, requestID string, level domain.Level, delegateID string, now time.Time) (*Delegation, error) {
	var (
		d         Delegation
		lv        string
		expiresAt int64
		createdAt int64
	)
	err := r.db.Conn().QueryRowContext(ctx, r.db.Rebind(`
		SELECT id, request_id, level, delegator_id, delegate_id, expires_at, created_at
		FROM approval_delegations
		WHERE request_id = ? AND level = ? AND delegate_id = ? AND used_at IS NULL AND expires_at > ?
		ORDER BY created_at DESC LIMIT 1
	`), requestID, string(level), delegateID, now.Unix()).Scan(
		&d.ID, &d.RequestID, &lv, &d.DelegatorID, &d.DelegateID, &expiresAt, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, database.StorageError("get delegation", err)
	}

	d.Level = domain.Level(lv)
	d.ExpiresAt = time.Unix(expiresAt, 0).UTC()
	d.CreatedAt = time.Unix(createdAt, 0).UTC()
	return &d, nil
}

// ConsumeDelegation marks a delegation used. Returns false if it was already used or expired.
func (r *Repository) ConsumeDelegation(ctx context.Context, q querier, id string, now time.Time) (bool, error) {
	res, err := r.conn(q).ExecContext(ctx, r.db.Rebind(`
		UPDATE approval_delegations SET used_at = ?
		WHERE id = ? AND used_at IS NULL AND expires_at > ?
	`), now.Unix(), id, now.Unix())
	if err != nil {
		return false, database.StorageError("consume delegation", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, database.StorageError("consume delegation", err)
	}
	return n == 1, nil
}

// VoidDelegations closes every unused delegation of a request. Delegations
// only cover the round they were granted in.
func (r *Repository) VoidDelegations(ctx context.Context, q querier, requestID string, now time.Time) (int64, error) {
	res, err := r.conn(q).ExecContext(ctx, r.db.Rebind(`
		UPDATE approval_delegations SET used_at = ?
		WHERE request_id = ? AND used_at IS NULL
	`), now.Unix(), requestID)
	if err != nil {
		return 0, database.StorageError("void delegations", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, database.StorageError("void delegations", err)
	}
	return n, nil
}

func unixOrNil(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.Unix()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
