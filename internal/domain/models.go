// Package domain holds the types and contracts shared by the rating and approval modules.
package domain

import "time"

// Level is a tier in the institution hierarchy. Approval levels use the same values.
type Level string

const (
	LevelSchool Level = "school"
	LevelSector Level = "sector"
	LevelRegion Level = "region"
)

// Valid reports whether l is one of the known levels
func (l Level) Valid() bool {
	switch l {
	case LevelSchool, LevelSector, LevelRegion:
		return true
	}
	return false
}

// Parent returns the level directly above l, or "" for region
func (l Level) Parent() Level {
	switch l {
	case LevelSchool:
		return LevelSector
	case LevelSector:
		return LevelRegion
	}
	return ""
}

// Institution is a node of the region -> sector -> school tree
type Institution struct {
	ID        string    `json:"id"`
	ParentID  *string   `json:"parent_id,omitempty"`
	Level     Level     `json:"level"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// Chain is an institution followed by its ancestors, nearest first
type Chain []Institution

// At returns the chain member at the given level
func (c Chain) At(level Level) (Institution, bool) {
	for _, inst := range c {
		if inst.Level == level {
			return inst, true
		}
	}
	return Institution{}, false
}

// IDs returns the institution ids in chain order
func (c Chain) IDs() []string {
	ids := make([]string, len(c))
	for i, inst := range c {
		ids[i] = inst.ID
	}
	return ids
}
