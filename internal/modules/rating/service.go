package rating

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/aristath/scholar/internal/database"
	"github.com/aristath/scholar/internal/domain"
	"github.com/aristath/scholar/internal/events"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// SnapshotArchiver stores an immutable copy of a published rating
type SnapshotArchiver interface {
	ArchiveRating(ctx context.Context, r *Rating) error
}

// SaveOptions controls config versioning
type SaveOptions struct {
	// NewVersion stores the config as a new version even when the current one is unlocked
	NewVersion bool
}

// ManualRatingRequest enters a score directly under a manual or hybrid config
type ManualRatingRequest struct {
	TeacherID      string
	InstitutionID  string
	AcademicYearID string
	Score          float64
	ActorID        string
	Reason         string
}

// Service orchestrates configuration, computation and publication of ratings
type Service struct {
	repo         *Repository
	configs      *ConfigRepository
	provider     *ScoreProvider
	hierarchy    domain.HierarchyProvider
	eventManager *events.Manager
	archiver     SnapshotArchiver
	locks        *keyedMutex
	now          func() time.Time
	log          zerolog.Logger
}

// NewService creates a new rating service
func NewService(
	repo *Repository,
	configs *ConfigRepository,
	provider *ScoreProvider,
	hierarchy domain.HierarchyProvider,
	eventManager *events.Manager,
	log zerolog.Logger,
) *Service {
	return &Service{
		repo:         repo,
		configs:      configs,
		provider:     provider,
		hierarchy:    hierarchy,
		eventManager: eventManager,
		locks:        newKeyedMutex(),
		now:          time.Now,
		log:          log.With().Str("service", "rating").Logger(),
	}
}

// SetArchiver sets the snapshot archiver used on publish (for dependency injection)
func (s *Service) SetArchiver(archiver SnapshotArchiver) {
	s.archiver = archiver
}

// SaveConfig validates and stores a config.
// A config that ratings were computed with is locked; saving over it requires NewVersion.
func (s *Service) SaveConfig(ctx context.Context, cfg Config, opts SaveOptions) (*Config, error) {
	if err := cfg.Validate(); err != nil {
		s.log.Warn().Err(err).Str("institution_id", cfg.InstitutionID).Msg("Rejected rating config")
		return nil, err
	}

	now := s.now().UTC()
	err := database.WithTransaction(ctx, s.repo.db.Conn(), func(tx *sql.Tx) error {
		latest, err := s.configs.Latest(ctx, tx, cfg.InstitutionID, cfg.AcademicYearID)
		if err != nil {
			return err
		}

		cfg.UpdatedAt = now
		if latest == nil {
			cfg.Version = 1
			cfg.CreatedAt = now
			return s.configs.Insert(ctx, tx, &cfg)
		}

		locked, err := s.repo.ExistsForConfig(ctx, tx, cfg.InstitutionID, cfg.AcademicYearID, latest.Version)
		if err != nil {
			return err
		}
		if locked && !opts.NewVersion {
			return fmt.Errorf("%w: version %d of %s/%s has computed ratings",
				ErrConfigLocked, latest.Version, cfg.InstitutionID, cfg.AcademicYearID)
		}

		if opts.NewVersion {
			cfg.Version = latest.Version + 1
			cfg.CreatedAt = now
			return s.configs.Insert(ctx, tx, &cfg)
		}

		cfg.Version = latest.Version
		cfg.CreatedAt = latest.CreatedAt
		return s.configs.Update(ctx, tx, &cfg)
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("institution_id", cfg.InstitutionID).
		Str("academic_year_id", cfg.AcademicYearID).
		Int("version", cfg.Version).
		Msg("Rating config saved")
	s.eventManager.Emit("rating", &events.RatingConfigChangedData{
		InstitutionID:  cfg.InstitutionID,
		AcademicYearID: cfg.AcademicYearID,
		Version:        cfg.Version,
	})
	return &cfg, nil
}

// ActiveConfig returns the config in force for an institution and year,
// searching from the institution up to its region
func (s *Service) ActiveConfig(ctx context.Context, institutionID, yearID string) (*Config, error) {
	chain, err := s.hierarchy.Ancestors(ctx, institutionID)
	if err != nil {
		return nil, err
	}
	cfg, err := s.configs.Resolve(ctx, nil, chain.IDs(), yearID)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		return nil, fmt.Errorf("%w: institution %s year %s", ErrConfigNotFound, institutionID, yearID)
	}
	return cfg, nil
}

// SaveGrowthBonusRanges replaces an institution's growth bonus ranges
func (s *Service) SaveGrowthBonusRanges(ctx context.Context, institutionID string, ranges []GrowthBonusRange) error {
	if err := ValidateGrowthRanges(ranges); err != nil {
		s.log.Warn().Err(err).Str("institution_id", institutionID).Msg("Rejected growth bonus ranges")
		return err
	}
	if err := s.configs.ReplaceGrowthRanges(ctx, institutionID, ranges); err != nil {
		return err
	}
	s.log.Info().Str("institution_id", institutionID).Int("ranges", len(ranges)).Msg("Growth bonus ranges saved")
	return nil
}

// SaveOlympiadConfig stores the score for one (level, placement) pair
func (s *Service) SaveOlympiadConfig(ctx context.Context, cfg OlympiadLevelConfig) error {
	if !cfg.Level.Valid() || cfg.Placement < 1 || cfg.BaseScore < 0 || cfg.StudentBonus < 0 {
		return fmt.Errorf("%w: olympiad level=%s placement=%d", ErrInvalidConfig, cfg.Level, cfg.Placement)
	}
	return s.configs.UpsertOlympiadConfig(ctx, cfg)
}

// SaveCertificateScore stores the score for one certificate (category, level) pair
func (s *Service) SaveCertificateScore(ctx context.Context, cs CertificateScore) error {
	if cs.Category == "" || cs.Level == "" || cs.Score < 0 || cs.Score > MaxComponentScore {
		return fmt.Errorf("%w: certificate %s/%s", ErrInvalidConfig, cs.Category, cs.Level)
	}
	return s.configs.UpsertCertificateScore(ctx, cs)
}

// CreateAcademicYear stores a new academic year. An empty id is generated.
func (s *Service) CreateAcademicYear(ctx context.Context, y AcademicYear) (*AcademicYear, error) {
	y.Label = strings.TrimSpace(y.Label)
	if y.Label == "" || y.StartsAt.IsZero() {
		return nil, fmt.Errorf("%w: academic year needs a label and a start date", ErrInvalidInput)
	}
	if y.ID == "" {
		y.ID = uuid.New().String()
	}
	y.StartsAt = y.StartsAt.UTC()

	if err := s.repo.CreateAcademicYear(ctx, y); err != nil {
		return nil, err
	}
	s.log.Info().Str("academic_year_id", y.ID).Str("label", y.Label).Msg("Academic year created")
	return &y, nil
}

// RecordScores stores directly recorded component scores for a teacher in a year.
// Every score is checked before any is written.
func (s *Service) RecordScores(ctx context.Context, teacherID, yearID string, scores map[Component]float64) error {
	if teacherID == "" || len(scores) == 0 {
		return fmt.Errorf("%w: teacher and at least one score are required", ErrInvalidInput)
	}
	if _, err := s.repo.AcademicYears(ctx, []string{yearID}); err != nil {
		return err
	}
	for c, score := range scores {
		if !directComponents[c] {
			return fmt.Errorf("%w: %s is derived, not recorded directly", ErrInvalidConfig, c)
		}
		if score < 0 || score > MaxComponentScore {
			return fmt.Errorf("%w: %s=%v", ErrInvalidScore, c, score)
		}
	}

	for c, score := range scores {
		if err := s.provider.RecordComponentScore(ctx, teacherID, yearID, c, score); err != nil {
			return err
		}
	}
	s.log.Debug().Str("teacher_id", teacherID).Str("academic_year_id", yearID).Int("components", len(scores)).Msg("Component scores recorded")
	return nil
}

// RecordCertificate stores a certificate held by a teacher in a year
func (s *Service) RecordCertificate(ctx context.Context, teacherID, yearID string, c Certificate) error {
	if teacherID == "" || c.Category == "" || c.Level == "" {
		return fmt.Errorf("%w: teacher, category and level are required", ErrInvalidInput)
	}
	if _, err := s.repo.AcademicYears(ctx, []string{yearID}); err != nil {
		return err
	}
	return s.provider.RecordCertificate(ctx, teacherID, yearID, c)
}

// RecordOlympiadResult stores an olympiad placement for a teacher in a year
func (s *Service) RecordOlympiadResult(ctx context.Context, teacherID, yearID string, r OlympiadResult) error {
	if teacherID == "" || r.ExtraStudents < 0 {
		return fmt.Errorf("%w: teacher is required and extra students cannot be negative", ErrInvalidInput)
	}
	if _, err := s.repo.AcademicYears(ctx, []string{yearID}); err != nil {
		return err
	}
	return s.provider.RecordOlympiadResult(ctx, teacherID, yearID, r)
}

// ComputeRating computes and stores a draft rating for the most recent year in yearIDs.
//
// Computation for the same teacher and target year is serialized, and the active
// config is re-read inside the transaction that persists the result.
// Nothing is persisted when any input fails.
func (s *Service) ComputeRating(ctx context.Context, teacherID, institutionID string, yearIDs []string) (*Rating, error) {
	if teacherID == "" || institutionID == "" || len(yearIDs) == 0 {
		return nil, fmt.Errorf("%w: teacher, institution and at least one year are required", ErrInvalidInput)
	}

	years, err := s.repo.AcademicYears(ctx, yearIDs)
	if err != nil {
		return nil, err
	}
	target := years[len(years)-1]

	unlock := s.locks.Lock(teacherID + "|" + target.ID)
	defer unlock()

	chain, err := s.hierarchy.Ancestors(ctx, institutionID)
	if err != nil {
		return nil, err
	}
	chainIDs := chain.IDs()

	var rt *Rating
	err = database.WithTransaction(ctx, s.repo.db.Conn(), func(tx *sql.Tx) error {
		cfg, err := s.configs.Resolve(ctx, tx, chainIDs, target.ID)
		if err != nil {
			return err
		}
		if cfg == nil {
			return fmt.Errorf("%w: institution %s year %s", ErrConfigNotFound, institutionID, target.Label)
		}
		if cfg.Method == MethodManual {
			return fmt.Errorf("%w: institution %s year %s", ErrManualRating, cfg.InstitutionID, target.Label)
		}
		if err := cfg.Validate(); err != nil {
			return err
		}

		olympiadConfigs, err := s.configs.OlympiadConfigs(ctx, tx)
		if err != nil {
			return err
		}
		certificateScores, err := s.configs.CertificateScores(ctx, tx)
		if err != nil {
			return err
		}
		olympiads := NewOlympiadScorer(olympiadConfigs)
		certificates := NewCertificateScorer(certificateScores)

		inputs := make([]YearInput, 0, len(years))
		// A year without a config of its own is scored with the target year's component weights.
		for _, y := range years {
			weights := cfg.Weights
			if y.ID != target.ID {
				yearCfg, err := s.configs.Resolve(ctx, tx, chainIDs, y.ID)
				if err != nil {
					return err
				}
				if yearCfg != nil {
					weights = yearCfg.Weights
				}
			}

			scores, err := s.provider.LoadYear(ctx, tx, teacherID, y, olympiads, certificates)
			if err != nil {
				return err
			}
			inputs = append(inputs, YearInput{Year: y, Scores: scores, Weights: weights})
		}

		ranges, err := s.configs.ResolveGrowthRanges(ctx, tx, chainIDs)
		if err != nil {
			return err
		}

		result, err := Aggregate(AggregateInput{
			Years:        inputs,
			YearWeights:  cfg.YearWeights,
			GrowthRanges: ranges,
		})
		if err != nil {
			return err
		}

		existing, err := s.repo.GetByKey(ctx, tx, teacherID, institutionID, target.ID)
		if err != nil {
			return err
		}

		now := s.now().UTC()
		rt = &Rating{
			ID:                  uuid.New().String(),
			TeacherID:           teacherID,
			InstitutionID:       institutionID,
			AcademicYearID:      target.ID,
			ConfigInstitutionID: cfg.InstitutionID,
			ConfigVersion:       cfg.Version,
			OverallScore:        result.OverallScore,
			BaseScore:           result.BaseScore,
			GrowthBonus:         result.GrowthBonus,
			Components:          result.Components,
			YearlyBreakdown:     result.Breakdown,
			Status:              StatusDraft,
			ComputedAt:          now,
			UpdatedAt:           now,
		}
		if existing != nil {
			if existing.Status != StatusDraft {
				return fmt.Errorf("%w: rating %s is %s", ErrInvalidStatus, existing.ID, existing.Status)
			}
			rt.ID = existing.ID
			if cfg.Method == MethodHybrid {
				rt.ManualScore = existing.ManualScore
				rt.OverrideReason = existing.OverrideReason
				rt.OverriddenBy = existing.OverriddenBy
			}
		}

		return s.repo.Upsert(ctx, tx, rt)
	})
	if err != nil {
		s.logFailure(err, "Rating computation failed", teacherID, target.Label)
		return nil, err
	}

	s.log.Info().
		Str("rating_id", rt.ID).
		Str("teacher_id", teacherID).
		Str("academic_year", target.Label).
		Float64("overall_score", rt.OverallScore).
		Float64("growth_bonus", rt.GrowthBonus).
		Msg("Rating computed")
	s.eventManager.Emit("rating", &events.RatingComputedData{
		RatingID:       rt.ID,
		TeacherID:      rt.TeacherID,
		InstitutionID:  rt.InstitutionID,
		AcademicYearID: rt.AcademicYearID,
		OverallScore:   rt.OverallScore,
		GrowthBonus:    rt.GrowthBonus,
	})
	return rt, nil
}

// SetManualRating enters a score directly. Requires a manual or hybrid config.
// An existing draft keeps its computed values and gains the manual score.
func (s *Service) SetManualRating(ctx context.Context, req ManualRatingRequest) (*Rating, error) {
	if req.TeacherID == "" || req.InstitutionID == "" || req.AcademicYearID == "" || req.ActorID == "" {
		return nil, fmt.Errorf("%w: teacher, institution, year and actor are required", ErrInvalidInput)
	}
	if req.Score < 0 || req.Score > 100 {
		return nil, fmt.Errorf("%w: %v", ErrInvalidScore, req.Score)
	}

	cfg, err := s.ActiveConfig(ctx, req.InstitutionID, req.AcademicYearID)
	if err != nil {
		return nil, err
	}
	if cfg.Method == MethodAutomatic {
		return nil, fmt.Errorf("%w: config for %s is automatic", ErrOverrideNotAllowed, req.InstitutionID)
	}

	unlock := s.locks.Lock(req.TeacherID + "|" + req.AcademicYearID)
	existing, err := s.repo.GetByKey(ctx, nil, req.TeacherID, req.InstitutionID, req.AcademicYearID)
	if err != nil {
		unlock()
		return nil, err
	}
	if existing != nil {
		unlock()
		return s.OverrideScore(ctx, existing.ID, req.Score, req.ActorID, req.Reason)
	}
	defer unlock()

	now := s.now().UTC()
	score := req.Score
	rt := &Rating{
		ID:                  uuid.New().String(),
		TeacherID:           req.TeacherID,
		InstitutionID:       req.InstitutionID,
		AcademicYearID:      req.AcademicYearID,
		ConfigInstitutionID: cfg.InstitutionID,
		ConfigVersion:       cfg.Version,
		OverallScore:        score,
		BaseScore:           score,
		YearlyBreakdown:     map[string]YearBreakdown{},
		ManualScore:         &score,
		OverrideReason:      req.Reason,
		OverriddenBy:        req.ActorID,
		Status:              StatusDraft,
		ComputedAt:          now,
		UpdatedAt:           now,
	}
	if err := s.repo.Upsert(ctx, s.repo.db.Conn(), rt); err != nil {
		return nil, err
	}

	s.log.Info().Str("rating_id", rt.ID).Str("actor_id", req.ActorID).Msg("Manual rating entered")
	return rt, nil
}

// OverrideScore records a manual score on a draft rating computed under a manual or hybrid config
func (s *Service) OverrideScore(ctx context.Context, ratingID string, score float64, actorID, reason string) (*Rating, error) {
	if score < 0 || score > 100 {
		return nil, fmt.Errorf("%w: %v", ErrInvalidScore, score)
	}
	if actorID == "" || strings.TrimSpace(reason) == "" {
		return nil, fmt.Errorf("%w: override requires an actor and a reason", ErrInvalidInput)
	}

	rt, err := s.Get(ctx, ratingID)
	if err != nil {
		return nil, err
	}

	// The method that counts is the one the rating was computed under, not the newest version.
	cfg, err := s.configs.GetVersion(ctx, nil, rt.ConfigInstitutionID, rt.AcademicYearID, rt.ConfigVersion)
	if err != nil {
		return nil, err
	}
	if cfg == nil || cfg.Method == MethodAutomatic {
		return nil, fmt.Errorf("%w: rating %s uses an automatic config", ErrOverrideNotAllowed, ratingID)
	}

	ok, err := s.repo.UpdateManualScore(ctx, ratingID, score, reason, actorID, s.now().UTC())
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: rating %s is %s", ErrInvalidStatus, ratingID, rt.Status)
	}

	s.log.Info().
		Str("rating_id", ratingID).
		Str("actor_id", actorID).
		Float64("score", score).
		Msg("Rating score overridden")
	s.eventManager.Emit("rating", &events.RatingScoreOverriddenData{
		RatingID: ratingID,
		ActorID:  actorID,
		Score:    score,
		Reason:   reason,
	})
	return s.Get(ctx, ratingID)
}

// Publish moves a draft rating to published and archives a snapshot.
// Archive failures are logged and do not undo publication.
func (s *Service) Publish(ctx context.Context, ratingID string) (*Rating, error) {
	if err := s.transition(ctx, ratingID, StatusDraft, StatusPublished); err != nil {
		return nil, err
	}

	rt, err := s.Get(ctx, ratingID)
	if err != nil {
		return nil, err
	}

	s.log.Info().Str("rating_id", ratingID).Msg("Rating published")
	s.eventManager.Emit("rating", &events.RatingPublishedData{
		RatingID:       rt.ID,
		TeacherID:      rt.TeacherID,
		InstitutionID:  rt.InstitutionID,
		AcademicYearID: rt.AcademicYearID,
		OverallScore:   rt.FinalScore(),
	})

	if s.archiver != nil {
		if err := s.archiver.ArchiveRating(ctx, rt); err != nil {
			s.log.Error().Err(err).Str("rating_id", ratingID).Msg("Failed to archive rating snapshot")
		}
	}
	return rt, nil
}

// Archive moves a published rating to archived
func (s *Service) Archive(ctx context.Context, ratingID string) (*Rating, error) {
	if err := s.transition(ctx, ratingID, StatusPublished, StatusArchived); err != nil {
		return nil, err
	}

	rt, err := s.Get(ctx, ratingID)
	if err != nil {
		return nil, err
	}
	s.log.Info().Str("rating_id", ratingID).Msg("Rating archived")
	s.eventManager.Emit("rating", &events.RatingArchivedData{RatingID: rt.ID, TeacherID: rt.TeacherID})
	return rt, nil
}

func (s *Service) transition(ctx context.Context, ratingID string, from, to Status) error {
	rt, err := s.Get(ctx, ratingID)
	if err != nil {
		return err
	}
	if rt.Status != from {
		return fmt.Errorf("%w: rating %s is %s, expected %s", ErrInvalidStatus, ratingID, rt.Status, from)
	}

	ok, err := s.repo.UpdateStatus(ctx, ratingID, from, to, s.now().UTC())
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: rating %s changed concurrently", ErrInvalidStatus, ratingID)
	}
	return nil
}

// Get returns a rating by id
func (s *Service) Get(ctx context.Context, ratingID string) (*Rating, error) {
	rt, err := s.repo.GetByID(ctx, nil, ratingID)
	if err != nil {
		return nil, err
	}
	if rt == nil {
		return nil, fmt.Errorf("%w: rating %s", ErrNotFound, ratingID)
	}
	return rt, nil
}

// ListForTeacher returns every rating of a teacher
func (s *Service) ListForTeacher(ctx context.Context, teacherID string) ([]Rating, error) {
	return s.repo.ListForTeacher(ctx, teacherID)
}

func (s *Service) logFailure(err error, msg, teacherID, yearLabel string) {
	event := s.log.Warn()
	if database.IsStorageError(err) {
		event = s.log.Error()
	}
	event.Err(err).Str("teacher_id", teacherID).Str("academic_year", yearLabel).Msg(msg)
}
