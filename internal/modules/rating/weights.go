package rating

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
)

// WeightTolerance is the allowed deviation of a weight sum from 1.0
const WeightTolerance = 1e-6

// ValidateWeights checks the component weights: each in [0, 1], summing to 1.0
func ValidateWeights(w ComponentWeights) error {
	v := w.Vector()
	for i, x := range v {
		if math.IsNaN(x) || x < 0 || x > 1 {
			return fmt.Errorf("%w: %s weight %v outside [0, 1]", ErrInvalidWeights, Components[i], x)
		}
	}
	if sum := floats.Sum(v); math.Abs(sum-1.0) > WeightTolerance {
		return fmt.Errorf("%w: component weights sum to %.6f", ErrInvalidWeights, sum)
	}
	return nil
}

// ValidateYearWeights checks the year weights: non-empty, non-negative, summing to 1.0
func ValidateYearWeights(yw map[string]float64) error {
	if len(yw) == 0 {
		return fmt.Errorf("%w: no year weights", ErrInvalidWeights)
	}

	labels := make([]string, 0, len(yw))
	for label := range yw {
		labels = append(labels, label)
	}
	sort.Strings(labels)

	v := make([]float64, 0, len(yw))
	for _, label := range labels {
		x := yw[label]
		if label == "" {
			return fmt.Errorf("%w: empty year label", ErrInvalidWeights)
		}
		if math.IsNaN(x) || x < 0 || x > 1 {
			return fmt.Errorf("%w: year %s weight %v outside [0, 1]", ErrInvalidWeights, label, x)
		}
		v = append(v, x)
	}
	if sum := floats.Sum(v); math.Abs(sum-1.0) > WeightTolerance {
		return fmt.Errorf("%w: year weights sum to %.6f", ErrInvalidWeights, sum)
	}
	return nil
}

// Validate checks a whole config before it is stored or used
func (c *Config) Validate() error {
	if c.InstitutionID == "" || c.AcademicYearID == "" {
		return fmt.Errorf("%w: institution and academic year are required", ErrInvalidConfig)
	}
	if !c.Method.Valid() {
		return fmt.Errorf("%w: calculation method %q", ErrInvalidConfig, c.Method)
	}
	if err := ValidateWeights(c.Weights); err != nil {
		return err
	}
	return ValidateYearWeights(c.YearWeights)
}
