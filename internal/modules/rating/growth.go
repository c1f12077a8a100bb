package rating

import (
	"fmt"
	"math"
	"sort"
)

// ValidateGrowthRanges rejects malformed or overlapping ranges.
// Ranges are half-open [min, max); at most one range may be unbounded and it must be last.
func ValidateGrowthRanges(ranges []GrowthBonusRange) error {
	sorted := sortedRanges(ranges)
	for i, r := range sorted {
		if math.IsNaN(r.MinThreshold) || math.IsNaN(r.BonusScore) || r.BonusScore < 0 {
			return fmt.Errorf("%w: range %d has invalid values", ErrOverlappingRanges, i)
		}
		if r.MaxThreshold != nil && *r.MaxThreshold <= r.MinThreshold {
			return fmt.Errorf("%w: range [%v, %v) is empty", ErrOverlappingRanges, r.MinThreshold, *r.MaxThreshold)
		}
		if i == 0 {
			continue
		}
		prev := sorted[i-1]
		if prev.MaxThreshold == nil || *prev.MaxThreshold > r.MinThreshold {
			return fmt.Errorf("%w: range starting at %v overlaps range starting at %v",
				ErrOverlappingRanges, r.MinThreshold, prev.MinThreshold)
		}
	}
	return nil
}

// GrowthBonus returns the bonus for the score increase from previous to current.
// At most one range matches; the result never exceeds the largest configured bonus.
// A decrease or no change only matches ranges that start at or below it.
func GrowthBonus(previous, current float64, ranges []GrowthBonusRange) float64 {
	if len(ranges) == 0 {
		return 0
	}

	increase := current - previous
	maxBonus := 0.0
	for _, r := range ranges {
		maxBonus = math.Max(maxBonus, r.BonusScore)
	}

	for _, r := range sortedRanges(ranges) {
		if increase < r.MinThreshold {
			continue
		}
		if r.MaxThreshold != nil && increase >= *r.MaxThreshold {
			continue
		}
		return math.Min(r.BonusScore, maxBonus)
	}
	return 0
}

func sortedRanges(ranges []GrowthBonusRange) []GrowthBonusRange {
	sorted := append([]GrowthBonusRange(nil), ranges...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].MinThreshold < sorted[j].MinThreshold
	})
	return sorted
}
