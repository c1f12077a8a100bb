package rating

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
)

// YearInput is one academic year's scores with the component weights valid for it
type YearInput struct {
	Year    AcademicYear
	Scores  ComponentScores
	Weights ComponentWeights
}

// AggregateInput is everything the aggregator needs; it performs no I/O
type AggregateInput struct {
	Years        []YearInput
	YearWeights  map[string]float64
	GrowthRanges []GrowthBonusRange
}

// AggregateResult is the outcome of one aggregation
type AggregateResult struct {
	BaseScore    float64
	GrowthBonus  float64
	OverallScore float64
	// Components are the target (most recent) year's scores
	Components ComponentScores
	Breakdown  map[string]YearBreakdown
}

// YearScore returns Σ component_i * weight_i; missing components count as 0
func YearScore(scores ComponentScores, weights ComponentWeights) float64 {
	return floats.Dot(scores.Vector(), weights.Vector())
}

// Aggregate blends per-year scores into an overall 0-100 score.
//
// A year that carries a weight but has no data contributes 0 and keeps its weight.
// Years without a weight appear in the breakdown only. The growth bonus compares the
// two most recent years in range and applies only when both have data.
func Aggregate(in AggregateInput) (*AggregateResult, error) {
	if err := ValidateYearWeights(in.YearWeights); err != nil {
		return nil, err
	}

	years := append([]YearInput(nil), in.Years...)
	sort.SliceStable(years, func(i, j int) bool {
		return years[i].Year.StartsAt.Before(years[j].Year.StartsAt)
	})

	breakdown := make(map[string]YearBreakdown, len(years)+len(in.YearWeights))
	yearScores := make(map[string]float64, len(years))
	anyData := false

	for _, y := range years {
		if err := ValidateWeights(y.Weights); err != nil {
			return nil, fmt.Errorf("year %s: %w", y.Year.Label, err)
		}
		hasData := y.Scores.HasData()
		anyData = anyData || hasData

		score := YearScore(y.Scores, y.Weights)
		yearScores[y.Year.Label] = score
		breakdown[y.Year.Label] = YearBreakdown{
			AcademicYearID: y.Year.ID,
			Label:          y.Year.Label,
			Scores:         y.Scores,
			Weights:        y.Weights,
			YearScore:      round2(score),
			YearWeight:     in.YearWeights[y.Year.Label],
			HasData:        hasData,
		}
	}

	if !anyData {
		return nil, ErrNoData
	}

	labels := make([]string, 0, len(in.YearWeights))
	for label := range in.YearWeights {
		labels = append(labels, label)
	}
	sort.Strings(labels)

	scores := make([]float64, len(labels))
	weights := make([]float64, len(labels))
	for i, label := range labels {
		scores[i] = yearScores[label]
		weights[i] = in.YearWeights[label]
		if _, ok := breakdown[label]; !ok {
			breakdown[label] = YearBreakdown{Label: label, YearWeight: weights[i]}
		}
	}
	base := floats.Dot(scores, weights)

	bonus := 0.0
	if n := len(years); n >= 2 {
		prev, curr := years[n-2], years[n-1]
		if prev.Scores.HasData() && curr.Scores.HasData() {
			bonus = GrowthBonus(round2(yearScores[prev.Year.Label]), round2(yearScores[curr.Year.Label]), in.GrowthRanges)
		}
	}

	result := &AggregateResult{
		BaseScore:    round2(base),
		GrowthBonus:  round2(bonus),
		OverallScore: round2(math.Max(0, math.Min(100, base+bonus))),
		Breakdown:    breakdown,
	}
	if n := len(years); n > 0 {
		result.Components = years[n-1].Scores
	}
	return result, nil
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
