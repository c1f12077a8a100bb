package rating

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOlympiadScorer(t *testing.T) {
	scorer := NewOlympiadScorer([]OlympiadLevelConfig{
		{Level: OlympiadRayon, Placement: 1, BaseScore: 10, StudentBonus: 2},
		{Level: OlympiadRegion, Placement: 2, BaseScore: 20, StudentBonus: 5},
		{Level: OlympiadInternational, Placement: 1, BaseScore: 90, StudentBonus: 10},
	})

	t.Run("no results is no data", func(t *testing.T) {
		score, err := scorer.Score(nil)
		require.NoError(t, err)
		assert.Nil(t, score)
	})

	t.Run("sums base and student bonus", func(t *testing.T) {
		score, err := scorer.Score([]OlympiadResult{
			{Level: OlympiadRayon, Placement: 1, ExtraStudents: 3},
			{Level: OlympiadRegion, Placement: 2, ExtraStudents: 1},
		})
		require.NoError(t, err)
		require.NotNil(t, score)
		assert.InDelta(t, 10+3*2+20+5, *score, 1e-9)
	})

	t.Run("capped at 100", func(t *testing.T) {
		score, err := scorer.Score([]OlympiadResult{
			{Level: OlympiadInternational, Placement: 1, ExtraStudents: 4},
		})
		require.NoError(t, err)
		assert.Equal(t, 100.0, *score)
	})

	t.Run("unknown pair fails closed", func(t *testing.T) {
		score, err := scorer.Score([]OlympiadResult{
			{Level: OlympiadRayon, Placement: 1},
			{Level: OlympiadRegion, Placement: 1},
		})
		assert.ErrorIs(t, err, ErrUnknownOlympiadConfig)
		assert.Nil(t, score)
	})
}

func TestCertificateScorer(t *testing.T) {
	scorer := NewCertificateScorer([]CertificateScore{
		{Category: "pedagogy", Level: "national", Score: 60},
		{Category: "language", Level: "c1", Score: 50},
	})

	score, unmapped := scorer.Score(nil)
	assert.Nil(t, score)
	assert.Empty(t, unmapped)

	score, unmapped = scorer.Score([]Certificate{{Category: "pedagogy", Level: "national"}})
	require.NotNil(t, score)
	assert.Equal(t, 60.0, *score)
	assert.Empty(t, unmapped)

	score, unmapped = scorer.Score([]Certificate{
		{Category: "pedagogy", Level: "national"},
		{Category: "language", Level: "c1"},
		{Category: "sports", Level: "coach"},
	})
	assert.Equal(t, 100.0, *score)
	assert.Equal(t, []Certificate{{Category: "sports", Level: "coach"}}, unmapped)
}
