package events

// EventData is the interface that all event payloads implement
type EventData interface {
	// EventType returns the event type this data is associated with
	EventType() EventType
}

// RatingComputedData contains data for RatingComputed events
type RatingComputedData struct {
	RatingID       string  `json:"rating_id"`
	TeacherID      string  `json:"teacher_id"`
	InstitutionID  string  `json:"institution_id"`
	AcademicYearID string  `json:"academic_year_id"`
	OverallScore   float64 `json:"overall_score"`
	GrowthBonus    float64 `json:"growth_bonus"`
}

// EventType returns the event type for RatingComputedData
func (d *RatingComputedData) EventType() EventType {
	return RatingComputed
}

// RatingPublishedData contains data for RatingPublished events
type RatingPublishedData struct {
	RatingID       string  `json:"rating_id"`
	TeacherID      string  `json:"teacher_id"`
	InstitutionID  string  `json:"institution_id"`
	AcademicYearID string  `json:"academic_year_id"`
	OverallScore   float64 `json:"overall_score"`
}

// EventType returns the event type for RatingPublishedData
func (d *RatingPublishedData) EventType() EventType {
	return RatingPublished
}

// RatingArchivedData contains data for RatingArchived events
type RatingArchivedData struct {
	RatingID  string `json:"rating_id"`
	TeacherID string `json:"teacher_id"`
}

// EventType returns the event type for RatingArchivedData
func (d *RatingArchivedData) EventType() EventType {
	return RatingArchived
}

// RatingConfigChangedData contains data for RatingConfigChanged events
type RatingConfigChangedData struct {
	InstitutionID  string `json:"institution_id"`
	AcademicYearID string `json:"academic_year_id"`
	Version        int    `json:"version"`
}

// EventType returns the event type for RatingConfigChangedData
func (d *RatingConfigChangedData) EventType() EventType {
	return RatingConfigChanged
}

// RatingScoreOverriddenData contains data for RatingScoreOverriden events
type RatingScoreOverriddenData struct {
	RatingID string  `json:"rating_id"`
	ActorID  string  `json:"actor_id"`
	Score    float64 `json:"score"`
	Reason   string  `json:"reason"`
}

// EventType returns the event type for RatingScoreOverriddenData
func (d *RatingScoreOverriddenData) EventType() EventType {
	return RatingScoreOverriden
}

// ApprovalSubmittedData contains data for ApprovalSubmitted events
type ApprovalSubmittedData struct {
	RequestID     string `json:"request_id"`
	SubjectType   string `json:"subject_type"`
	SubjectID     string `json:"subject_id"`
	InstitutionID string `json:"institution_id"`
	SubmitterID   string `json:"submitter_id"`
	Level         string `json:"level"`
}

// EventType returns the event type for ApprovalSubmittedData
func (d *ApprovalSubmittedData) EventType() EventType {
	return ApprovalSubmitted
}

// ApprovalTransitionedData contains data for ApprovalTransitioned events
type ApprovalTransitionedData struct {
	RequestID   string `json:"request_id"`
	SubjectType string `json:"subject_type"`
	SubjectID   string `json:"subject_id"`
	SubmitterID string `json:"submitter_id"`
	ActorID     string `json:"actor_id"`
	Action      string `json:"action"`
	OldStatus   string `json:"old_status"`
	NewStatus   string `json:"new_status"`
	NewLevel    string `json:"new_level,omitempty"`
	Comment     string `json:"comment,omitempty"`
}

// EventType returns the event type for ApprovalTransitionedData
func (d *ApprovalTransitionedData) EventType() EventType {
	return ApprovalTransitioned
}

// ApprovalDelegatedData contains data for ApprovalDelegated events
type ApprovalDelegatedData struct {
	RequestID   string `json:"request_id"`
	DelegatorID string `json:"delegator_id"`
	DelegateID  string `json:"delegate_id"`
	Level       string `json:"level"`
}

// EventType returns the event type for ApprovalDelegatedData
func (d *ApprovalDelegatedData) EventType() EventType {
	return ApprovalDelegated
}

// ApprovalEscalatedData contains data for ApprovalEscalated events
type ApprovalEscalatedData struct {
	RequestID   string `json:"request_id"`
	SubmitterID string `json:"submitter_id"`
	Status      string `json:"status"`
	Level       string `json:"level"`
}

// EventType returns the event type for ApprovalEscalatedData
func (d *ApprovalEscalatedData) EventType() EventType {
	return ApprovalEscalated
}

// RolePermissionsChangedData contains data for RolePermissionsChanged events
type RolePermissionsChangedData struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"`
}

// EventType returns the event type for RolePermissionsChangedData
func (d *RolePermissionsChangedData) EventType() EventType {
	return RolePermissionsChanged
}

// ErrorEventData contains data for ErrorOccurred events
type ErrorEventData struct {
	Error   string                 `json:"error"`
	Context map[string]interface{} `json:"context,omitempty"`
}

// EventType returns the event type for ErrorEventData
func (d *ErrorEventData) EventType() EventType {
	return ErrorOccurred
}
