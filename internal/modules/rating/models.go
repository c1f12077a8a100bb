// Package rating computes teacher ratings from weighted component scores.
package rating

import (
	"time"
)

// Component identifies one of the six weighted rating inputs
type Component string

const (
	ComponentAcademic    Component = "academic"
	ComponentObservation Component = "observation"
	ComponentAssessment  Component = "assessment"
	ComponentCertificate Component = "certificate"
	ComponentOlympiad    Component = "olympiad"
	ComponentAward       Component = "award"
)

// Components lists every component in storage and vector order
var Components = []Component{
	ComponentAcademic,
	ComponentObservation,
	ComponentAssessment,
	ComponentCertificate,
	ComponentOlympiad,
	ComponentAward,
}

// CalculationMethod controls whether ratings are computed, entered, or both
type CalculationMethod string

const (
	MethodAutomatic CalculationMethod = "automatic"
	MethodManual    CalculationMethod = "manual"
	MethodHybrid    CalculationMethod = "hybrid"
)

// Valid reports whether m is a known method
func (m CalculationMethod) Valid() bool {
	switch m {
	case MethodAutomatic, MethodManual, MethodHybrid:
		return true
	}
	return false
}

// Status is the publication state of a rating
type Status string

const (
	StatusDraft     Status = "draft"
	StatusPublished Status = "published"
	StatusArchived  Status = "archived"
)

// ComponentWeights holds the six component weights; they must sum to 1.0
type ComponentWeights struct {
	Academic    float64 `json:"academic" validate:"gte=0,lte=1"`
	Observation float64 `json:"observation" validate:"gte=0,lte=1"`
	Assessment  float64 `json:"assessment" validate:"gte=0,lte=1"`
	Certificate float64 `json:"certificate" validate:"gte=0,lte=1"`
	Olympiad    float64 `json:"olympiad" validate:"gte=0,lte=1"`
	Award       float64 `json:"award" validate:"gte=0,lte=1"`
}

// Vector returns the weights in Components order
func (w ComponentWeights) Vector() []float64 {
	return []float64{w.Academic, w.Observation, w.Assessment, w.Certificate, w.Olympiad, w.Award}
}

// ComponentScores holds one year's component scores (0-100). Nil means no data.
type ComponentScores struct {
	Academic    *float64 `json:"academic"`
	Observation *float64 `json:"observation"`
	Assessment  *float64 `json:"assessment"`
	Certificate *float64 `json:"certificate"`
	Olympiad    *float64 `json:"olympiad"`
	Award       *float64 `json:"award"`
}

// Vector returns the scores in Components order with missing values as 0
func (s ComponentScores) Vector() []float64 {
	v := make([]float64, len(Components))
	for i, p := range s.pointers() {
		if *p != nil {
			v[i] = **p
		}
	}
	return v
}

// HasData reports whether any component has a value
func (s ComponentScores) HasData() bool {
	for _, p := range s.pointers() {
		if *p != nil {
			return true
		}
	}
	return false
}

// Set stores a component value
func (s *ComponentScores) Set(c Component, value float64) {
	for i, p := range s.pointers() {
		if Components[i] == c {
			v := value
			*p = &v
			return
		}
	}
}

func (s *ComponentScores) pointers() []**float64 {
	return []**float64{&s.Academic, &s.Observation, &s.Assessment, &s.Certificate, &s.Olympiad, &s.Award}
}

// AcademicYear is a school year; years are ordered by StartsAt
type AcademicYear struct {
	ID       string    `json:"id"`
	Label    string    `json:"label"`
	StartsAt time.Time `json:"starts_at"`
}

// Config is the weight configuration for one institution and academic year.
// YearWeights is keyed by academic year label.
type Config struct {
	InstitutionID  string             `json:"institution_id"`
	AcademicYearID string             `json:"academic_year_id"`
	Version        int                `json:"version"`
	Weights        ComponentWeights   `json:"weights"`
	YearWeights    map[string]float64 `json:"year_weights"`
	Method         CalculationMethod  `json:"calculation_method"`
	CreatedAt      time.Time          `json:"created_at"`
	UpdatedAt      time.Time          `json:"updated_at"`
}

// GrowthBonusRange awards BonusScore when MinThreshold <= increase < MaxThreshold.
// A nil MaxThreshold is unbounded.
type GrowthBonusRange struct {
	MinThreshold float64  `json:"threshold_min"`
	MaxThreshold *float64 `json:"threshold_max,omitempty"`
	BonusScore   float64  `json:"bonus_score"`
}

// OlympiadLevel is the tier of an olympiad
type OlympiadLevel string

const (
	OlympiadRayon         OlympiadLevel = "rayon"
	OlympiadRegion        OlympiadLevel = "region"
	OlympiadCountry       OlympiadLevel = "country"
	OlympiadInternational OlympiadLevel = "international"
)

// Valid reports whether l is a known olympiad level
func (l OlympiadLevel) Valid() bool {
	switch l {
	case OlympiadRayon, OlympiadRegion, OlympiadCountry, OlympiadInternational:
		return true
	}
	return false
}

// OlympiadLevelConfig scores one (level, placement) pair
type OlympiadLevelConfig struct {
	Level        OlympiadLevel `json:"level"`
	Placement    int           `json:"placement"`
	BaseScore    float64       `json:"base_score"`
	StudentBonus float64       `json:"student_bonus"`
}

// OlympiadResult is one placement reported for a teacher in a year
type OlympiadResult struct {
	Level         OlympiadLevel `json:"level"`
	Placement     int           `json:"placement"`
	ExtraStudents int           `json:"extra_students"`
}

// CertificateScore maps a certificate category and level to a score
type CertificateScore struct {
	Category string  `json:"category"`
	Level    string  `json:"level"`
	Score    float64 `json:"score"`
}

// Certificate is one certificate held by a teacher in a year
type Certificate struct {
	Category string `json:"category"`
	Level    string `json:"level"`
}

// YearBreakdown records how one academic year contributed to a rating
type YearBreakdown struct {
	AcademicYearID string           `json:"academic_year_id,omitempty"`
	Label          string           `json:"label"`
	Scores         ComponentScores  `json:"scores"`
	Weights        ComponentWeights `json:"weights"`
	YearScore      float64          `json:"year_score"`
	YearWeight     float64          `json:"year_weight"`
	HasData        bool             `json:"has_data"`
}

// Rating is a computed (or manually entered) teacher rating for a target year
type Rating struct {
	ID                  string                   `json:"id"`
	TeacherID           string                   `json:"teacher_id"`
	InstitutionID       string                   `json:"institution_id"`
	AcademicYearID      string                   `json:"academic_year_id"`
	ConfigInstitutionID string                   `json:"config_institution_id"`
	ConfigVersion       int                      `json:"config_version"`
	OverallScore        float64                  `json:"overall_score"`
	BaseScore           float64                  `json:"base_score"`
	GrowthBonus         float64                  `json:"growth_bonus"`
	Components          ComponentScores          `json:"components"`
	YearlyBreakdown     map[string]YearBreakdown `json:"yearly_breakdown"`
	ManualScore         *float64                 `json:"manual_score,omitempty"`
	OverrideReason      string                   `json:"override_reason,omitempty"`
	OverriddenBy        string                   `json:"overridden_by,omitempty"`
	Status              Status                   `json:"status"`
	ComputedAt          time.Time                `json:"computed_at"`
	PublishedAt         *time.Time               `json:"published_at,omitempty"`
	UpdatedAt           time.Time                `json:"updated_at"`
}

// FinalScore is the manual score when one was entered, otherwise the computed score
func (r *Rating) FinalScore() float64 {
	if r.ManualScore != nil {
		return *r.ManualScore
	}
	return r.OverallScore
}
