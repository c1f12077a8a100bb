package rating

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aristath/scholar/internal/database"
	"github.com/rs/zerolog"
)

// querier is satisfied by *sql.DB and *sql.Tx
type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// ConfigRepository stores weight configs, growth bonus ranges, olympiad and certificate tables
type ConfigRepository struct {
	db  *database.DB
	log zerolog.Logger
}

// NewConfigRepository creates a new config repository
func NewConfigRepository(db *database.DB, log zerolog.Logger) *ConfigRepository {
	return &ConfigRepository{
		db:  db,
		log: log.With().Str("repository", "rating_configs").Logger(),
	}
}

const configColumns = `institution_id, academic_year_id, version,
	academic_weight, observation_weight, assessment_weight,
	certificate_weight, olympiad_weight, award_weight,
	year_weights, calculation_method, created_at, updated_at`

// Latest returns the newest version stored for exactly (institution, year), or nil
func (r *ConfigRepository) Latest(ctx context.Context, q querier, institutionID, yearID string) (*Config, error) {
	if q == nil {
		q = r.db.Conn()
	}
	row := q.QueryRowContext(ctx, r.db.Rebind(`SELECT `+configColumns+`
		FROM rating_configs
		WHERE institution_id = ? AND academic_year_id = ?
		ORDER BY version DESC LIMIT 1`), institutionID, yearID)

	cfg, err := scanConfig(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, database.StorageError("get rating config", err)
	}
	return cfg, nil
}

// GetVersion returns one stored version of (institution, year), or nil
func (r *ConfigRepository) GetVersion(ctx context.Context, q querier, institutionID, yearID string, version int) (*Config, error) {
	if q == nil {
		q = r.db.Conn()
	}
	row := q.QueryRowContext(ctx, r.db.Rebind(`SELECT `+configColumns+`
		FROM rating_configs
		WHERE institution_id = ? AND academic_year_id = ? AND version = ?`), institutionID, yearID, version)

	cfg, err := scanConfig(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, database.StorageError("get rating config version", err)
	}
	return cfg, nil
}

// Resolve walks the institution chain (nearest first) and returns the first config found for the year
func (r *ConfigRepository) Resolve(ctx context.Context, q querier, chainIDs []string, yearID string) (*Config, error) {
	for _, id := range chainIDs {
		cfg, err := r.Latest(ctx, q, id, yearID)
		if err != nil {
			return nil, err
		}
		if cfg != nil {
			return cfg, nil
		}
	}
	return nil, nil
}

// Insert stores a new config version
func (r *ConfigRepository) Insert(ctx context.Context, q querier, cfg *Config) error {
	yearWeights, err := json.Marshal(cfg.YearWeights)
	if err != nil {
		return fmt.Errorf("failed to encode year weights: %w", err)
	}

	_, err = q.ExecContext(ctx, r.db.Rebind(`INSERT INTO rating_configs (`+configColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		cfg.InstitutionID, cfg.AcademicYearID, cfg.Version,
		cfg.Weights.Academic, cfg.Weights.Observation, cfg.Weights.Assessment,
		cfg.Weights.Certificate, cfg.Weights.Olympiad, cfg.Weights.Award,
		string(yearWeights), string(cfg.Method), cfg.CreatedAt.Unix(), cfg.UpdatedAt.Unix())
	return database.StorageError("insert rating config", err)
}

// Update overwrites an existing config version in place
func (r *ConfigRepository) Update(ctx context.Context, q querier, cfg *Config) error {
	yearWeights, err := json.Marshal(cfg.YearWeights)
	if err != nil {
		return fmt.Errorf("failed to encode year weights: %w", err)
	}

	_, err = q.ExecContext(ctx, r.db.Rebind(`UPDATE rating_configs SET
			academic_weight = ?, observation_weight = ?, assessment_weight = ?,
			certificate_weight = ?, olympiad_weight = ?, award_weight = ?,
			year_weights = ?, calculation_method = ?, updated_at = ?
		WHERE institution_id = ? AND academic_year_id = ? AND version = ?`),
		cfg.Weights.Academic, cfg.Weights.Observation, cfg.Weights.Assessment,
		cfg.Weights.Certificate, cfg.Weights.Olympiad, cfg.Weights.Award,
		string(yearWeights), string(cfg.Method), cfg.UpdatedAt.Unix(),
		cfg.InstitutionID, cfg.AcademicYearID, cfg.Version)
	return database.StorageError("update rating config", err)
}

func scanConfig(row *sql.Row) (*Config, error) {
	var (
		cfg                  Config
		yearWeights, method  string
		createdAt, updatedAt int64
	)
	err := row.Scan(
		&cfg.InstitutionID, &cfg.AcademicYearID, &cfg.Version,
		&cfg.Weights.Academic, &cfg.Weights.Observation, &cfg.Weights.Assessment,
		&cfg.Weights.Certificate, &cfg.Weights.Olympiad, &cfg.Weights.Award,
		&yearWeights, &method, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(yearWeights), &cfg.YearWeights); err != nil {
		return nil, fmt.Errorf("failed to decode year weights: %w", err)
	}
	cfg.Method = CalculationMethod(method)
	cfg.CreatedAt = time.Unix(createdAt, 0).UTC()
	cfg.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	return &cfg, nil
}

// ReplaceGrowthRanges swaps the growth bonus ranges of an institution
func (r *ConfigRepository) ReplaceGrowthRanges(ctx context.Context, institutionID string, ranges []GrowthBonusRange) error {
	return database.WithTransaction(ctx, r.db.Conn(), func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, r.db.Rebind(`DELETE FROM growth_bonus_ranges WHERE institution_id = ?`), institutionID); err != nil {
			return database.StorageError("clear growth bonus ranges", err)
		}
		for i, gr := range sortedRanges(ranges) {
			var maxThreshold interface{}
			if gr.MaxThreshold != nil {
				maxThreshold = *gr.MaxThreshold
			}
			_, err := tx.ExecContext(ctx, r.db.Rebind(`
				INSERT INTO growth_bonus_ranges (institution_id, ordinal, threshold_min, threshold_max, bonus_score)
				VALUES (?, ?, ?, ?, ?)
			`), institutionID, i, gr.MinThreshold, maxThreshold, gr.BonusScore)
			if err != nil {
				return database.StorageError("insert growth bonus range", err)
			}
		}
		return nil
	})
}

// GrowthRanges returns the ranges configured directly on an institution
func (r *ConfigRepository) GrowthRanges(ctx context.Context, q querier, institutionID string) ([]GrowthBonusRange, error) {
	if q == nil {
		q = r.db.Conn()
	}
	rows, err := q.QueryContext(ctx, r.db.Rebind(`
		SELECT threshold_min, threshold_max, bonus_score
		FROM growth_bonus_ranges WHERE institution_id = ? ORDER BY ordinal
	`), institutionID)
	if err != nil {
		return nil, database.StorageError("list growth bonus ranges", err)
	}
	defer rows.Close()

	var ranges []GrowthBonusRange
	for rows.Next() {
		var (
			gr           GrowthBonusRange
			maxThreshold sql.NullFloat64
		)
		if err := rows.Scan(&gr.MinThreshold, &maxThreshold, &gr.BonusScore); err != nil {
			return nil, database.StorageError("scan growth bonus range", err)
		}
		if maxThreshold.Valid {
			m := maxThreshold.Float64
			gr.MaxThreshold = &m
		}
		ranges = append(ranges, gr)
	}
	return ranges, database.StorageError("iterate growth bonus ranges", rows.Err())
}

// ResolveGrowthRanges returns the ranges of the nearest institution in the chain that has any
func (r *ConfigRepository) ResolveGrowthRanges(ctx context.Context, q querier, chainIDs []string) ([]GrowthBonusRange, error) {
	for _, id := range chainIDs {
		ranges, err := r.GrowthRanges(ctx, q, id)
		if err != nil {
			return nil, err
		}
		if len(ranges) > 0 {
			return ranges, nil
		}
	}
	return nil, nil
}

// UpsertOlympiadConfig stores the score for one (level, placement) pair
func (r *ConfigRepository) UpsertOlympiadConfig(ctx context.Context, cfg OlympiadLevelConfig) error {
	_, err := r.db.Conn().ExecContext(ctx, r.db.Rebind(`
		INSERT INTO olympiad_level_configs (level, placement, base_score, student_bonus)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (level, placement) DO UPDATE SET
			base_score = excluded.base_score,
			student_bonus = excluded.student_bonus
	`), string(cfg.Level), cfg.Placement, cfg.BaseScore, cfg.StudentBonus)
	return database.StorageError("upsert olympiad config", err)
}

// OlympiadConfigs returns the whole olympiad table
func (r *ConfigRepository) OlympiadConfigs(ctx context.Context, q querier) ([]OlympiadLevelConfig, error) {
	if q == nil {
		q = r.db.Conn()
	}
	rows, err := q.QueryContext(ctx, `
		SELECT level, placement, base_score, student_bonus
		FROM olympiad_level_configs ORDER BY level, placement
	`)
	if err != nil {
		return nil, database.StorageError("list olympiad configs", err)
	}
	defer rows.Close()

	var configs []OlympiadLevelConfig
	for rows.Next() {
		var (
			c     OlympiadLevelConfig
			level string
		)
		if err := rows.Scan(&level, &c.Placement, &c.BaseScore, &c.StudentBonus); err != nil {
			return nil, database.StorageError("scan olympiad config", err)
		}
		c.Level = OlympiadLevel(level)
		configs = append(configs, c)
	}
	return configs, database.StorageError("iterate olympiad configs", rows.Err())
}

// UpsertCertificateScore stores the score for one (category, level) pair
func (r *ConfigRepository) UpsertCertificateScore(ctx context.Context, s CertificateScore) error {
	_, err := r.db.Conn().ExecContext(ctx, r.db.Rebind(`
		INSERT INTO certificate_score_configs (category, level, score)
		VALUES (?, ?, ?)
		ON CONFLICT (category, level) DO UPDATE SET score = excluded.score
	`), s.Category, s.Level, s.Score)
	return database.StorageError("upsert certificate score", err)
}

// CertificateScores returns the whole certificate table
func (r *ConfigRepository) CertificateScores(ctx context.Context, q querier) ([]CertificateScore, error) {
	if q == nil {
		q = r.db.Conn()
	}
	rows, err := q.QueryContext(ctx, `SELECT category, level, score FROM certificate_score_configs ORDER BY category, level`)
	if err != nil {
		return nil, database.StorageError("list certificate scores", err)
	}
	defer rows.Close()

	var scores []CertificateScore
	for rows.Next() {
		var s CertificateScore
		if err := rows.Scan(&s.Category, &s.Level, &s.Score); err != nil {
			return nil, database.StorageError("scan certificate score", err)
		}
		scores = append(scores, s)
	}
	return scores, database.StorageError("iterate certificate scores", rows.Err())
}
