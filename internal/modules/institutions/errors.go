package institutions

import "errors"

var (
	// ErrNotFound is returned when an institution id does not exist
	ErrNotFound = errors.New("institution not found")
	// ErrInvalidLevel is returned for levels outside region, sector, school
	ErrInvalidLevel = errors.New("invalid institution level")
	// ErrInvalidParent is returned when the parent is missing or not exactly one level above
	ErrInvalidParent = errors.New("invalid parent institution")
	// ErrBrokenHierarchy is returned when walking the ancestor chain loops or exceeds the tree depth
	ErrBrokenHierarchy = errors.New("institution hierarchy is inconsistent")
)
