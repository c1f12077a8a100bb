// Package approval implements the multi-level approval workflow shared by
// surveys, tasks and teacher profile edits.
package approval

import (
	"fmt"
	"time"

	"github.com/aristath/scholar/internal/domain"
)

// Status is the cached status of an approval request
type Status string

const (
	StatusPending        Status = "pending"
	StatusSchoolApproved Status = "school_approved"
	StatusSectorApproved Status = "sector_approved"
	StatusRegionApproved Status = "region_approved"
	StatusRejected       Status = "rejected"
)

// ApprovedStatus is the status a request takes once level has approved it
func ApprovedStatus(level domain.Level) Status {
	return Status(string(level) + "_approved")
}

// Action is one entry kind in the approval action log
type Action string

const (
	ActionSubmit   Action = "submit"
	ActionApprove  Action = "approve"
	ActionReject   Action = "reject"
	ActionReturn   Action = "return"
	ActionDelegate Action = "delegate"
	ActionEscalate Action = "escalate"
)

// ReturnPolicy decides where a returned request resumes
type ReturnPolicy string

const (
	// ReturnRestart sends a returned request back to the first level
	ReturnRestart ReturnPolicy = "restart"
	// ReturnResume keeps a returned request at the level that returned it
	ReturnResume ReturnPolicy = "resume"
)

// DefaultWorkflowID names the school → sector → region workflow seeded at startup
const DefaultWorkflowID = "standard"

// SystemActor is recorded as the actor of automatic actions
const SystemActor = "system"

// Workflow is an ordered chain of approval levels
type Workflow struct {
	ID            string         `json:"id"`
	Levels        []domain.Level `json:"levels"`
	ReturnPolicy  ReturnPolicy   `json:"return_policy"`
	LevelDeadline time.Duration  `json:"level_deadline"`
}

// Validate checks that the workflow has distinct known levels and an explicit return policy
func (w Workflow) Validate() error {
	if w.ID == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidWorkflow)
	}
	if len(w.Levels) == 0 {
		return fmt.Errorf("%w: %s has no levels", ErrInvalidWorkflow, w.ID)
	}
	seen := make(map[domain.Level]bool, len(w.Levels))
	for _, l := range w.Levels {
		if !l.Valid() {
			return fmt.Errorf("%w: %s has unknown level %q", ErrInvalidWorkflow, w.ID, l)
		}
		if seen[l] {
			return fmt.Errorf("%w: %s repeats level %s", ErrInvalidWorkflow, w.ID, l)
		}
		seen[l] = true
	}
	if w.ReturnPolicy != ReturnRestart && w.ReturnPolicy != ReturnResume {
		return fmt.Errorf("%w: %s has unknown return policy %q", ErrInvalidWorkflow, w.ID, w.ReturnPolicy)
	}
	if w.LevelDeadline < 0 {
		return fmt.Errorf("%w: %s has a negative deadline", ErrInvalidWorkflow, w.ID)
	}
	return nil
}

// DefaultWorkflow returns the standard three-level workflow
func DefaultWorkflow(deadline time.Duration) Workflow {
	return Workflow{
		ID:            DefaultWorkflowID,
		Levels:        []domain.Level{domain.LevelSchool, domain.LevelSector, domain.LevelRegion},
		ReturnPolicy:  ReturnRestart,
		LevelDeadline: deadline,
	}
}

func (w Workflow) levelIndex(l domain.Level) int {
	for i, lv := range w.Levels {
		if lv == l {
			return i
		}
	}
	return -1
}

// Request is an approval request. Status, Level and IsOverdue are a projection
// of the action log and are only changed together with an appended action.
type Request struct {
	ID            string       `json:"id"`
	SubjectType   string       `json:"subject_type"`
	SubjectID     string       `json:"subject_id"`
	InstitutionID string       `json:"institution_id"`
	SubmitterID   string       `json:"submitter_id"`
	WorkflowID    string       `json:"workflow_id"`
	Status        Status       `json:"current_status"`
	Level         domain.Level `json:"current_approval_level,omitempty"`
	Deadline      *time.Time   `json:"deadline,omitempty"`
	IsOverdue     bool         `json:"is_overdue"`
	Version       int          `json:"version"`
	CreatedAt     time.Time    `json:"created_at"`
	UpdatedAt     time.Time    `json:"updated_at"`
}

// State returns the projected machine state
func (r *Request) State() State {
	return State{Status: r.Status, Level: r.Level, Overdue: r.IsOverdue}
}

// ActionRecord is one row of the append-only action log
type ActionRecord struct {
	ID        string       `json:"id"`
	RequestID string       `json:"request_id"`
	Seq       int          `json:"seq"`
	Action    Action       `json:"action"`
	ActorID   string       `json:"actor_id"`
	OldStatus Status       `json:"old_status"`
	NewStatus Status       `json:"new_status"`
	OldLevel  domain.Level `json:"old_level"`
	NewLevel  domain.Level `json:"new_level"`
	Comment   string       `json:"comment,omitempty"`
	CreatedAt time.Time    `json:"created_at"`
}

// Delegation grants DelegateID one-time authority at Level on a request
type Delegation struct {
	ID          string       `json:"id"`
	RequestID   string       `json:"request_id"`
	Level       domain.Level `json:"level"`
	DelegatorID string       `json:"delegator_id"`
	DelegateID  string       `json:"delegate_id"`
	ExpiresAt   time.Time    `json:"expires_at"`
	UsedAt      *time.Time   `json:"used_at,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
}
