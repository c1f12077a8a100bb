package rating

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/aristath/scholar/internal/database"
	"github.com/rs/zerolog"
)

// Repository stores ratings and academic years
type Repository struct {
	db  *database.DB
	log zerolog.Logger
}

// NewRepository creates a new rating repository
func NewRepository(db *database.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repository", "ratings").Logger(),
	}
}

const ratingColumns = `id, teacher_id, institution_id, academic_year_id,
	config_institution_id, config_version, overall_score, base_score, growth_bonus,
	academic_score, observation_score, assessment_score,
	certificate_score, olympiad_score, award_score,
	yearly_breakdown, manual_score, override_reason, overridden_by,
	status, computed_at, published_at, updated_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

// Upsert inserts a rating or overwrites the one for the same (teacher, institution, year).
// The stored id of an existing rating is kept.
func (r *Repository) Upsert(ctx context.Context, q querier, rt *Rating) error {
	breakdown, err := json.Marshal(rt.YearlyBreakdown)
	if err != nil {
		return fmt.Errorf("failed to encode yearly breakdown: %w", err)
	}

	var publishedAt interface{}
	if rt.PublishedAt != nil {
		publishedAt = rt.PublishedAt.Unix()
	}

	_, err = q.ExecContext(ctx, r.db.Rebind(`INSERT INTO ratings (`+ratingColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (teacher_id, institution_id, academic_year_id) DO UPDATE SET
			config_institution_id = excluded.config_institution_id,
			config_version = excluded.config_version,
			overall_score = excluded.overall_score,
			base_score = excluded.base_score,
			growth_bonus = excluded.growth_bonus,
			academic_score = excluded.academic_score,
			observation_score = excluded.observation_score,
			assessment_score = excluded.assessment_score,
			certificate_score = excluded.certificate_score,
			olympiad_score = excluded.olympiad_score,
			award_score = excluded.award_score,
			yearly_breakdown = excluded.yearly_breakdown,
			manual_score = excluded.manual_score,
			override_reason = excluded.override_reason,
			overridden_by = excluded.overridden_by,
			status = excluded.status,
			computed_at = excluded.computed_at,
			published_at = excluded.published_at,
			updated_at = excluded.updated_at`),
		rt.ID, rt.TeacherID, rt.InstitutionID, rt.AcademicYearID,
		rt.ConfigInstitutionID, rt.ConfigVersion, rt.OverallScore, rt.BaseScore, rt.GrowthBonus,
		nullFloat(rt.Components.Academic), nullFloat(rt.Components.Observation), nullFloat(rt.Components.Assessment),
		nullFloat(rt.Components.Certificate), nullFloat(rt.Components.Olympiad), nullFloat(rt.Components.Award),
		string(breakdown), nullFloat(rt.ManualScore), nullText(rt.OverrideReason), nullText(rt.OverriddenBy),
		string(rt.Status), rt.ComputedAt.Unix(), publishedAt, rt.UpdatedAt.Unix(),
	)
	return database.StorageError("upsert rating", err)
}

// GetByID returns a rating or nil if it does not exist
func (r *Repository) GetByID(ctx context.Context, q querier, id string) (*Rating, error) {
	if q == nil {
		q = r.db.Conn()
	}
	row := q.QueryRowContext(ctx, r.db.Rebind(`SELECT `+ratingColumns+` FROM ratings WHERE id = ?`), id)
	rt, err := scanRating(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, database.StorageError("get rating", err)
	}
	return rt, nil
}

// GetByKey returns the rating of a teacher at an institution for a year, or nil
func (r *Repository) GetByKey(ctx context.Context, q querier, teacherID, institutionID, yearID string) (*Rating, error) {
	if q == nil {
		q = r.db.Conn()
	}
	row := q.QueryRowContext(ctx, r.db.Rebind(`SELECT `+ratingColumns+` FROM ratings
		WHERE teacher_id = ? AND institution_id = ? AND academic_year_id = ?`), teacherID, institutionID, yearID)
	rt, err := scanRating(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, database.StorageError("get rating by key", err)
	}
	return rt, nil
}

// ListForTeacher returns a teacher's ratings, newest computation first
func (r *Repository) ListForTeacher(ctx context.Context, teacherID string) ([]Rating, error) {
	rows, err := r.db.Conn().QueryContext(ctx, r.db.Rebind(`SELECT `+ratingColumns+` FROM ratings
		WHERE teacher_id = ? ORDER BY computed_at DESC, academic_year_id`), teacherID)
	if err != nil {
		return nil, database.StorageError("list ratings", err)
	}
	defer rows.Close()

	var ratings []Rating
	for rows.Next() {
		rt, err := scanRating(rows)
		if err != nil {
			return nil, database.StorageError("scan rating", err)
		}
		ratings = append(ratings, *rt)
	}
	return ratings, database.StorageError("iterate ratings", rows.Err())
}

// UpdateStatus moves a rating from one status to another.
// Returns false when the rating is not in the expected status.
func (r *Repository) UpdateStatus(ctx context.Context, id string, from, to Status, now time.Time) (bool, error) {
	query := `UPDATE ratings SET status = ?, updated_at = ? WHERE id = ? AND status = ?`
	args := []interface{}{string(to), now.Unix(), id, string(from)}
	if to == StatusPublished {
		query = `UPDATE ratings SET status = ?, updated_at = ?, published_at = ? WHERE id = ? AND status = ?`
		args = []interface{}{string(to), now.Unix(), now.Unix(), id, string(from)}
	}

	res, err := r.db.Conn().ExecContext(ctx, r.db.Rebind(query), args...)
	if err != nil {
		return false, database.StorageError("update rating status", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, database.StorageError("update rating status", err)
	}
	return n == 1, nil
}

// UpdateManualScore records a manual score on a draft rating.
// Returns false when the rating is not a draft.
func (r *Repository) UpdateManualScore(ctx context.Context, id string, score float64, reason, actorID string, now time.Time) (bool, error) {
	res, err := r.db.Conn().ExecContext(ctx, r.db.Rebind(`
		UPDATE ratings SET manual_score = ?, override_reason = ?, overridden_by = ?, updated_at = ?
		WHERE id = ? AND status = ?
	`), score, reason, actorID, now.Unix(), id, string(StatusDraft))
	if err != nil {
		return false, database.StorageError("update manual score", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, database.StorageError("update manual score", err)
	}
	return n == 1, nil
}

// ExistsForConfig reports whether any rating was computed with the given config version
func (r *Repository) ExistsForConfig(ctx context.Context, q querier, configInstitutionID, yearID string, version int) (bool, error) {
	var n int
	err := q.QueryRowContext(ctx, r.db.Rebind(`
		SELECT COUNT(*) FROM ratings
		WHERE config_institution_id = ? AND academic_year_id = ? AND config_version = ?
	`), configInstitutionID, yearID, version).Scan(&n)
	if err != nil {
		return false, database.StorageError("count ratings for config", err)
	}
	return n > 0, nil
}

func scanRating(row rowScanner) (*Rating, error) {
	var (
		rt                                   Rating
		academic, observation, assessment    sql.NullFloat64
		certificate, olympiad, award, manual sql.NullFloat64
		breakdown, status                    string
		reason, overriddenBy                 sql.NullString
		computedAt, updatedAt                int64
		publishedAt                          sql.NullInt64
	)
	err := row.Scan(
		&rt.ID, &rt.TeacherID, &rt.InstitutionID, &rt.AcademicYearID,
		&rt.ConfigInstitutionID, &rt.ConfigVersion, &rt.OverallScore, &rt.BaseScore, &rt.GrowthBonus,
		&academic, &observation, &assessment,
		&certificate, &olympiad, &award,
		&breakdown, &manual, &reason, &overriddenBy,
		&status, &computedAt, &publishedAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	rt.Components = ComponentScores{
		Academic:    floatPtr(academic),
		Observation: floatPtr(observation),
		Assessment:  floatPtr(assessment),
		Certificate: floatPtr(certificate),
		Olympiad:    floatPtr(olympiad),
		Award:       floatPtr(award),
	}
	if err := json.Unmarshal([]byte(breakdown), &rt.YearlyBreakdown); err != nil {
		return nil, fmt.Errorf("failed to decode yearly breakdown: %w", err)
	}
	rt.ManualScore = floatPtr(manual)
	rt.OverrideReason = reason.String
	rt.OverriddenBy = overriddenBy.String
	rt.Status = Status(status)
	rt.ComputedAt = time.Unix(computedAt, 0).UTC()
	rt.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	if publishedAt.Valid {
		t := time.Unix(publishedAt.Int64, 0).UTC()
		rt.PublishedAt = &t
	}
	return &rt, nil
}

// AcademicYears returns the requested years ordered by start date.
// Unknown ids fail with ErrNotFound.
func (r *Repository) AcademicYears(ctx context.Context, ids []string) ([]AcademicYear, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(ids)), ", ")
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	rows, err := r.db.Conn().QueryContext(ctx, r.db.Rebind(
		`SELECT id, label, starts_at FROM academic_years WHERE id IN (`+placeholders+`)`), args...)
	if err != nil {
		return nil, database.StorageError("list academic years", err)
	}
	defer rows.Close()

	found := make(map[string]AcademicYear, len(ids))
	for rows.Next() {
		var (
			y        AcademicYear
			startsAt int64
		)
		if err := rows.Scan(&y.ID, &y.Label, &startsAt); err != nil {
			return nil, database.StorageError("scan academic year", err)
		}
		y.StartsAt = time.Unix(startsAt, 0).UTC()
		found[y.ID] = y
	}
	if err := rows.Err(); err != nil {
		return nil, database.StorageError("iterate academic years", err)
	}

	years := make([]AcademicYear, 0, len(found))
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		y, ok := found[id]
		if !ok {
			return nil, fmt.Errorf("%w: academic year %s", ErrNotFound, id)
		}
		if seen[id] {
			continue
		}
		seen[id] = true
		years = append(years, y)
	}
	sort.SliceStable(years, func(i, j int) bool { return years[i].StartsAt.Before(years[j].StartsAt) })
	return years, nil
}

// CreateAcademicYear stores a new academic year
func (r *Repository) CreateAcademicYear(ctx context.Context, y AcademicYear) error {
	_, err := r.db.Conn().ExecContext(ctx, r.db.Rebind(`
		INSERT INTO academic_years (id, label, starts_at) VALUES (?, ?, ?)
	`), y.ID, y.Label, y.StartsAt.Unix())
	if database.IsUniqueViolation(err) {
		return fmt.Errorf("%w: academic year %s", ErrYearExists, y.Label)
	}
	return database.StorageError("insert academic year", err)
}

func nullFloat(p *float64) interface{} {
	if p == nil {
		return nil
	}
	return *p
}

func nullText(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func floatPtr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}
