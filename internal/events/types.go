// Package events provides the in-process event bus used for notifications and cache invalidation.
package events

import "time"

// EventType represents different event types
type EventType string

const (
	ErrorOccurred EventType = "ERROR_OCCURRED"

	// Rating lifecycle
	RatingComputed       EventType = "RATING_COMPUTED"
	RatingPublished      EventType = "RATING_PUBLISHED"
	RatingArchived       EventType = "RATING_ARCHIVED"
	RatingConfigChanged  EventType = "RATING_CONFIG_CHANGED"
	RatingScoreOverriden EventType = "RATING_SCORE_OVERRIDDEN"

	// Approval workflow
	ApprovalSubmitted    EventType = "APPROVAL_SUBMITTED"
	ApprovalTransitioned EventType = "APPROVAL_TRANSITIONED"
	ApprovalDelegated    EventType = "APPROVAL_DELEGATED"
	ApprovalEscalated    EventType = "APPROVAL_ESCALATED"

	// Access control
	RolePermissionsChanged EventType = "ROLE_PERMISSIONS_CHANGED"
)

// Event represents a system event with typed data
type Event struct {
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Module    string    `json:"module"`
	Data      EventData `json:"data"`
}
