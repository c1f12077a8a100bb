package rating

import "errors"

var (
	// ErrInvalidWeights is returned when component or year weights do not sum to 1.0
	ErrInvalidWeights = errors.New("invalid weights")
	// ErrNoData is returned when no year in range has any component score
	ErrNoData = errors.New("no rating data")
	// ErrUnknownOlympiadConfig is returned for an unmapped (level, placement) pair
	ErrUnknownOlympiadConfig = errors.New("unknown olympiad config")
	// ErrInvalidConfig is returned for malformed configuration values
	ErrInvalidConfig = errors.New("invalid rating config")
	// ErrConfigNotFound is returned when no config exists along the institution chain
	ErrConfigNotFound = errors.New("rating config not found")
	// ErrConfigLocked is returned when saving over a config that ratings were computed with
	ErrConfigLocked = errors.New("rating config locked")
	// ErrOverlappingRanges is returned when growth bonus ranges overlap or are malformed
	ErrOverlappingRanges = errors.New("overlapping growth bonus ranges")
	// ErrManualRating is returned when computing under a manual calculation method
	ErrManualRating = errors.New("rating config is manual")
	// ErrOverrideNotAllowed is returned when overriding under an automatic calculation method
	ErrOverrideNotAllowed = errors.New("score override not allowed")
	// ErrInvalidScore is returned for scores outside [0, 100]
	ErrInvalidScore = errors.New("score out of range")
	// ErrInvalidStatus is returned for rating status changes not allowed from the current status
	ErrInvalidStatus = errors.New("invalid rating status transition")
	// ErrNotFound is returned for unknown ratings or academic years
	ErrNotFound = errors.New("not found")
	// ErrYearExists is returned when an academic year id or label is taken
	ErrYearExists = errors.New("academic year exists")
)

// ErrInvalidInput is returned for missing identifiers or reasons in a request
var ErrInvalidInput = errors.New("invalid rating request")
