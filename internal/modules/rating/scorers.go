package rating

import (
	"fmt"
	"math"
)

// MaxComponentScore caps every component score
const MaxComponentScore = 100.0

type olympiadKey struct {
	level     OlympiadLevel
	placement int
}

// OlympiadScorer sums olympiad placements against the configured table
type OlympiadScorer struct {
	table map[olympiadKey]OlympiadLevelConfig
}

// NewOlympiadScorer builds a scorer from the (level, placement) table
func NewOlympiadScorer(configs []OlympiadLevelConfig) *OlympiadScorer {
	table := make(map[olympiadKey]OlympiadLevelConfig, len(configs))
	for _, c := range configs {
		table[olympiadKey{c.Level, c.Placement}] = c
	}
	return &OlympiadScorer{table: table}
}

// Score returns Σ base_score + extra_students * student_bonus, capped at 100.
// Returns nil when there are no results. Any unmapped pair fails the whole score.
func (s *OlympiadScorer) Score(results []OlympiadResult) (*float64, error) {
	if len(results) == 0 {
		return nil, nil
	}

	total := 0.0
	for _, r := range results {
		cfg, ok := s.table[olympiadKey{r.Level, r.Placement}]
		if !ok {
			return nil, fmt.Errorf("%w: level=%s placement=%d", ErrUnknownOlympiadConfig, r.Level, r.Placement)
		}
		extra := r.ExtraStudents
		if extra < 0 {
			extra = 0
		}
		total += cfg.BaseScore + float64(extra)*cfg.StudentBonus
	}

	score := clampScore(total)
	return &score, nil
}

type certificateKey struct {
	category string
	level    string
}

// CertificateScorer maps certificates to scores through a lookup table
type CertificateScorer struct {
	table map[certificateKey]float64
}

// NewCertificateScorer builds a scorer from the (category, level) table
func NewCertificateScorer(scores []CertificateScore) *CertificateScorer {
	table := make(map[certificateKey]float64, len(scores))
	for _, s := range scores {
		table[certificateKey{s.Category, s.Level}] = s.Score
	}
	return &CertificateScorer{table: table}
}

// Score sums the mapped certificate scores, capped at 100.
// Returns nil when there are no certificates. The second value lists certificates with no mapping;
// they contribute nothing.
func (s *CertificateScorer) Score(certs []Certificate) (*float64, []Certificate) {
	if len(certs) == 0 {
		return nil, nil
	}

	var unmapped []Certificate
	total := 0.0
	for _, c := range certs {
		v, ok := s.table[certificateKey{c.Category, c.Level}]
		if !ok {
			unmapped = append(unmapped, c)
			continue
		}
		total += v
	}

	score := clampScore(total)
	return &score, unmapped
}

func clampScore(v float64) float64 {
	return math.Max(0, math.Min(MaxComponentScore, v))
}
