package approval

import "fmt"

// Subject types
const (
	SubjectSurvey             = "survey"
	SubjectTask               = "task"
	SubjectTeacherProfileEdit = "teacher_profile_edit"
)

// Subject is anything that can be put through an approval workflow
type Subject interface {
	SubjectID() string
	SubjectType() string
	// OwnerID is the user who answers for the subject and is notified of decisions
	OwnerID() string
	InstitutionID() string
}

// Survey is a survey awaiting publication approval
type Survey struct {
	ID          string
	Title       string
	CreatorID   string
	Institution string
}

func (s Survey) SubjectID() string     { return s.ID }
func (s Survey) SubjectType() string   { return SubjectSurvey }
func (s Survey) OwnerID() string       { return s.CreatorID }
func (s Survey) InstitutionID() string { return s.Institution }

// Task is an assigned task whose completion needs sign-off
type Task struct {
	ID          string
	Title       string
	AssigneeID  string
	Institution string
}

func (t Task) SubjectID() string     { return t.ID }
func (t Task) SubjectType() string   { return SubjectTask }
func (t Task) OwnerID() string       { return t.AssigneeID }
func (t Task) InstitutionID() string { return t.Institution }

// TeacherProfileEdit is a pending change to a teacher's profile
type TeacherProfileEdit struct {
	ID          string
	TeacherID   string
	Institution string
	Changes     map[string]string
}

func (e TeacherProfileEdit) SubjectID() string     { return e.ID }
func (e TeacherProfileEdit) SubjectType() string   { return SubjectTeacherProfileEdit }
func (e TeacherProfileEdit) OwnerID() string       { return e.TeacherID }
func (e TeacherProfileEdit) InstitutionID() string { return e.Institution }

// NewSubject builds the subject variant for kind
func NewSubject(kind, id, ownerID, institutionID string) (Subject, error) {
	if id == "" || institutionID == "" {
		return nil, fmt.Errorf("%w: id and institution are required", ErrInvalidSubject)
	}

	switch kind {
	case SubjectSurvey:
		return Survey{ID: id, CreatorID: ownerID, Institution: institutionID}, nil
	case SubjectTask:
		return Task{ID: id, AssigneeID: ownerID, Institution: institutionID}, nil
	case SubjectTeacherProfileEdit:
		return TeacherProfileEdit{ID: id, TeacherID: ownerID, Institution: institutionID}, nil
	default:
		return nil, fmt.Errorf("%w: unknown type %q", ErrInvalidSubject, kind)
	}
}
