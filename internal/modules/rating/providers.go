package rating

import (
	"context"
	"fmt"

	"github.com/aristath/scholar/internal/database"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// directComponents are stored as plain scores; certificate and olympiad are derived
var directComponents = map[Component]bool{
	ComponentAcademic:    true,
	ComponentObservation: true,
	ComponentAssessment:  true,
	ComponentAward:       true,
}

// ScoreProvider reads and records raw per-teacher per-year inputs
type ScoreProvider struct {
	db  *database.DB
	log zerolog.Logger
}

// NewScoreProvider creates a new score provider
func NewScoreProvider(db *database.DB, log zerolog.Logger) *ScoreProvider {
	return &ScoreProvider{
		db:  db,
		log: log.With().Str("component", "score_provider").Logger(),
	}
}

// RecordComponentScore stores a direct component score (academic, observation, assessment, award)
func (p *ScoreProvider) RecordComponentScore(ctx context.Context, teacherID, yearID string, c Component, score float64) error {
	if !directComponents[c] {
		return fmt.Errorf("%w: %s is derived, not recorded directly", ErrInvalidConfig, c)
	}
	if score < 0 || score > MaxComponentScore {
		return fmt.Errorf("%w: %v", ErrInvalidScore, score)
	}

	_, err := p.db.Conn().ExecContext(ctx, p.db.Rebind(`
		INSERT INTO teacher_component_scores (teacher_id, academic_year_id, component, score)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (teacher_id, academic_year_id, component) DO UPDATE SET score = excluded.score
	`), teacherID, yearID, string(c), score)
	return database.StorageError("record component score", err)
}

// RecordCertificate stores a certificate held by a teacher in a year
func (p *ScoreProvider) RecordCertificate(ctx context.Context, teacherID, yearID string, c Certificate) error {
	_, err := p.db.Conn().ExecContext(ctx, p.db.Rebind(`
		INSERT INTO teacher_certificates (id, teacher_id, academic_year_id, category, level)
		VALUES (?, ?, ?, ?, ?)
	`), uuid.New().String(), teacherID, yearID, c.Category, c.Level)
	return database.StorageError("record certificate", err)
}

// RecordOlympiadResult stores an olympiad placement for a teacher in a year
func (p *ScoreProvider) RecordOlympiadResult(ctx context.Context, teacherID, yearID string, r OlympiadResult) error {
	if !r.Level.Valid() || r.Placement < 1 {
		return fmt.Errorf("%w: olympiad level=%s placement=%d", ErrInvalidConfig, r.Level, r.Placement)
	}
	_, err := p.db.Conn().ExecContext(ctx, p.db.Rebind(`
		INSERT INTO teacher_olympiad_results (id, teacher_id, academic_year_id, level, placement, extra_students)
		VALUES (?, ?, ?, ?, ?, ?)
	`), uuid.New().String(), teacherID, yearID, string(r.Level), r.Placement, r.ExtraStudents)
	return database.StorageError("record olympiad result", err)
}

// LoadYear assembles one year's component scores for a teacher.
// Olympiad placements without a configured score fail with ErrUnknownOlympiadConfig.
func (p *ScoreProvider) LoadYear(
	ctx context.Context,
	q querier,
	teacherID string,
	year AcademicYear,
	olympiads *OlympiadScorer,
	certificates *CertificateScorer,
) (ComponentScores, error) {
	var scores ComponentScores

	if err := p.loadDirect(ctx, q, teacherID, year.ID, &scores); err != nil {
		return scores, err
	}

	certs, err := p.loadCertificates(ctx, q, teacherID, year.ID)
	if err != nil {
		return scores, err
	}
	certScore, unmapped := certificates.Score(certs)
	for _, c := range unmapped {
		p.log.Warn().
			Str("teacher_id", teacherID).
			Str("academic_year", year.Label).
			Str("category", c.Category).
			Str("level", c.Level).
			Msg("Certificate has no configured score")
	}
	scores.Certificate = certScore

	results, err := p.loadOlympiads(ctx, q, teacherID, year.ID)
	if err != nil {
		return scores, err
	}
	olympiadScore, err := olympiads.Score(results)
	if err != nil {
		return scores, fmt.Errorf("teacher %s year %s: %w", teacherID, year.Label, err)
	}
	scores.Olympiad = olympiadScore

	return scores, nil
}

func (p *ScoreProvider) loadDirect(ctx context.Context, q querier, teacherID, yearID string, scores *ComponentScores) error {
	rows, err := q.QueryContext(ctx, p.db.Rebind(`
		SELECT component, score FROM teacher_component_scores
		WHERE teacher_id = ? AND academic_year_id = ?
	`), teacherID, yearID)
	if err != nil {
		return database.StorageError("load component scores", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			component string
			score     float64
		)
		if err := rows.Scan(&component, &score); err != nil {
			return database.StorageError("scan component score", err)
		}
		c := Component(component)
		if !directComponents[c] {
			p.log.Warn().Str("component", component).Msg("Ignoring unknown stored component")
			continue
		}
		scores.Set(c, clampScore(score))
	}
	return database.StorageError("iterate component scores", rows.Err())
}

func (p *ScoreProvider) loadCertificates(ctx context.Context, q querier, teacherID, yearID string) ([]Certificate, error) {
	rows, err := q.QueryContext(ctx, p.db.Rebind(`
		SELECT category, level FROM teacher_certificates
		WHERE teacher_id = ? AND academic_year_id = ?
	`), teacherID, yearID)
	if err != nil {
		return nil, database.StorageError("load certificates", err)
	}
	defer rows.Close()

	var certs []Certificate
	for rows.Next() {
		var c Certificate
		if err := rows.Scan(&c.Category, &c.Level); err != nil {
			return nil, database.StorageError("scan certificate", err)
		}
		certs = append(certs, c)
	}
	return certs, database.StorageError("iterate certificates", rows.Err())
}

func (p *ScoreProvider) loadOlympiads(ctx context.Context, q querier, teacherID, yearID string) ([]OlympiadResult, error) {
	rows, err := q.QueryContext(ctx, p.db.Rebind(`
		SELECT level, placement, extra_students FROM teacher_olympiad_results
		WHERE teacher_id = ? AND academic_year_id = ?
	`), teacherID, yearID)
	if err != nil {
		return nil, database.StorageError("load olympiad results", err)
	}
	defer rows.Close()

	var results []OlympiadResult
	for rows.Next() {
		var (
			r     OlympiadResult
			level string
		)
		if err := rows.Scan(&level, &r.Placement, &r.ExtraStudents); err != nil {
			return nil, database.StorageError("scan olympiad result", err)
		}
		r.Level = OlympiadLevel(level)
		results = append(results, r)
	}
	return results, database.StorageError("iterate olympiad results", rows.Err())
}
