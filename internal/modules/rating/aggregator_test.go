package rating

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func year(id string, start int) AcademicYear {
	return AcademicYear{ID: id, Label: id, StartsAt: time.Date(start, time.September, 1, 0, 0, 0, 0, time.UTC)}
}

func scores(academic, observation, assessment, certificate, olympiad, award float64) ComponentScores {
	return ComponentScores{
		Academic:    f64(academic),
		Observation: f64(observation),
		Assessment:  f64(assessment),
		Certificate: f64(certificate),
		Olympiad:    f64(olympiad),
		Award:       f64(award),
	}
}

func uniform(v float64) ComponentScores {
	return scores(v, v, v, v, v, v)
}

func TestAggregate_SingleYear(t *testing.T) {
	result, err := Aggregate(AggregateInput{
		Years:       []YearInput{{Year: year("y1", 2023), Scores: scores(80, 70, 90, 60, 50, 40), Weights: scenarioWeights()}},
		YearWeights: map[string]float64{"y1": 1},
	})
	require.NoError(t, err)

	assert.InDelta(t, 70, result.OverallScore, 1e-9)
	assert.InDelta(t, 70, result.BaseScore, 1e-9)
	assert.Zero(t, result.GrowthBonus)
	assert.InDelta(t, 70, result.Breakdown["y1"].YearScore, 1e-9)
	assert.True(t, result.Breakdown["y1"].HasData)
	assert.Equal(t, 80.0, *result.Components.Academic)
}

func TestAggregate_TwoYearsWithoutGrowthBonus(t *testing.T) {
	result, err := Aggregate(AggregateInput{
		Years: []YearInput{
			{Year: year("y2", 2024), Scores: uniform(55), Weights: scenarioWeights()},
			{Year: year("y1", 2023), Scores: scores(80, 70, 90, 60, 50, 40), Weights: scenarioWeights()},
		},
		YearWeights:  map[string]float64{"y1": 0.45, "y2": 0.55},
		GrowthRanges: []GrowthBonusRange{{MinThreshold: 15, BonusScore: 5}},
	})
	require.NoError(t, err)

	assert.InDelta(t, 61.75, result.OverallScore, 1e-9)
	assert.Zero(t, result.GrowthBonus)
	assert.Equal(t, 55.0, *result.Components.Academic, "components come from the most recent year")
}

func TestAggregate_GrowthBonusAppliedOnce(t *testing.T) {
	result, err := Aggregate(AggregateInput{
		Years: []YearInput{
			{Year: year("y1", 2023), Scores: uniform(50), Weights: scenarioWeights()},
			{Year: year("y2", 2024), Scores: uniform(75), Weights: scenarioWeights()},
		},
		YearWeights: map[string]float64{"y1": 0.5, "y2": 0.5},
		GrowthRanges: []GrowthBonusRange{
			{MinThreshold: 10, MaxThreshold: f64(20), BonusScore: 3},
			{MinThreshold: 20, BonusScore: 6},
		},
	})
	require.NoError(t, err)

	assert.InDelta(t, 62.5, result.BaseScore, 1e-9)
	assert.InDelta(t, 6, result.GrowthBonus, 1e-9)
	assert.InDelta(t, 68.5, result.OverallScore, 1e-9)
}

func TestAggregate_ClampsAtHundred(t *testing.T) {
	result, err := Aggregate(AggregateInput{
		Years: []YearInput{
			{Year: year("y1", 2023), Scores: uniform(60), Weights: scenarioWeights()},
			{Year: year("y2", 2024), Scores: uniform(100), Weights: scenarioWeights()},
		},
		YearWeights:  map[string]float64{"y2": 1},
		GrowthRanges: []GrowthBonusRange{{MinThreshold: 20, BonusScore: 10}},
	})
	require.NoError(t, err)

	assert.InDelta(t, 100, result.BaseScore, 1e-9)
	assert.InDelta(t, 10, result.GrowthBonus, 1e-9)
	assert.Equal(t, 100.0, result.OverallScore)
}

func TestAggregate_WeightedYearWithoutDataIsPenalized(t *testing.T) {
	result, err := Aggregate(AggregateInput{
		Years: []YearInput{
			{Year: year("y1", 2023), Scores: ComponentScores{}, Weights: scenarioWeights()},
			{Year: year("y2", 2024), Scores: uniform(80), Weights: scenarioWeights()},
		},
		YearWeights:  map[string]float64{"y1": 0.5, "y2": 0.5},
		GrowthRanges: []GrowthBonusRange{{MinThreshold: 0, BonusScore: 5}},
	})
	require.NoError(t, err)

	assert.InDelta(t, 40, result.OverallScore, 1e-9)
	assert.Zero(t, result.GrowthBonus, "growth needs data in both years")
	assert.False(t, result.Breakdown["y1"].HasData)
	assert.Equal(t, 0.5, result.Breakdown["y1"].YearWeight)
}

func TestAggregate_WeightedLabelOutsideRange(t *testing.T) {
	result, err := Aggregate(AggregateInput{
		Years:       []YearInput{{Year: year("y2", 2024), Scores: uniform(80), Weights: scenarioWeights()}},
		YearWeights: map[string]float64{"y1": 0.25, "y2": 0.75},
	})
	require.NoError(t, err)

	assert.InDelta(t, 60, result.OverallScore, 1e-9)
	require.Contains(t, result.Breakdown, "y1")
	assert.False(t, result.Breakdown["y1"].HasData)
}

func TestAggregate_UnweightedYearOnlyInBreakdown(t *testing.T) {
	result, err := Aggregate(AggregateInput{
		Years: []YearInput{
			{Year: year("y1", 2023), Scores: uniform(10), Weights: scenarioWeights()},
			{Year: year("y2", 2024), Scores: uniform(80), Weights: scenarioWeights()},
		},
		YearWeights: map[string]float64{"y2": 1},
	})
	require.NoError(t, err)

	assert.InDelta(t, 80, result.OverallScore, 1e-9)
	assert.Zero(t, result.Breakdown["y1"].YearWeight)
	assert.InDelta(t, 10, result.Breakdown["y1"].YearScore, 1e-9)
}

func TestAggregate_MissingComponentsCountAsZero(t *testing.T) {
	result, err := Aggregate(AggregateInput{
		Years:       []YearInput{{Year: year("y1", 2023), Scores: ComponentScores{Academic: f64(80)}, Weights: scenarioWeights()}},
		YearWeights: map[string]float64{"y1": 1},
	})
	require.NoError(t, err)
	assert.InDelta(t, 20, result.OverallScore, 1e-9)
}

func TestAggregate_Errors(t *testing.T) {
	_, err := Aggregate(AggregateInput{
		Years:       []YearInput{{Year: year("y1", 2023), Weights: scenarioWeights()}},
		YearWeights: map[string]float64{"y1": 1},
	})
	assert.ErrorIs(t, err, ErrNoData)

	_, err = Aggregate(AggregateInput{
		Years:       []YearInput{{Year: year("y1", 2023), Scores: uniform(50), Weights: scenarioWeights()}},
		YearWeights: map[string]float64{"y1": 0.9},
	})
	assert.ErrorIs(t, err, ErrInvalidWeights)

	bad := scenarioWeights()
	bad.Award = 0.09
	_, err = Aggregate(AggregateInput{
		Years:       []YearInput{{Year: year("y1", 2023), Scores: uniform(50), Weights: bad}},
		YearWeights: map[string]float64{"y1": 1},
	})
	assert.ErrorIs(t, err, ErrInvalidWeights)
}

func TestAggregate_OverallAlwaysWithinBounds(t *testing.T) {
	ranges := []GrowthBonusRange{{MinThreshold: 0, BonusScore: 20}}
	for prev := 0.0; prev <= 100; prev += 10 {
		for curr := 0.0; curr <= 100; curr += 10 {
			result, err := Aggregate(AggregateInput{
				Years: []YearInput{
					{Year: year("y1", 2023), Scores: uniform(prev), Weights: scenarioWeights()},
					{Year: year("y2", 2024), Scores: uniform(curr), Weights: scenarioWeights()},
				},
				YearWeights:  map[string]float64{"y1": 0.3, "y2": 0.7},
				GrowthRanges: ranges,
			})
			require.NoError(t, err)
			assert.GreaterOrEqual(t, result.OverallScore, 0.0)
			assert.LessOrEqual(t, result.OverallScore, 100.0)
			assert.LessOrEqual(t, result.GrowthBonus, 20.0)
		}
	}
}
