package approval

import (
	"testing"
	"time"

	"github.com/aristath/scholar/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApply(t *testing.T) {
	restart := DefaultWorkflow(time.Hour)
	resume := restart
	resume.ReturnPolicy = ReturnResume

	pendingSchool := State{Status: StatusPending, Level: domain.LevelSchool}
	schoolApproved := State{Status: StatusSchoolApproved, Level: domain.LevelSector}
	sectorApproved := State{Status: StatusSectorApproved, Level: domain.LevelRegion}

	tests := []struct {
		name     string
		workflow Workflow
		from     State
		action   Action
		want     State
		wantErr  error
	}{
		{"submit", restart, State{}, ActionSubmit, pendingSchool, nil},
		{"submit twice", restart, pendingSchool, ActionSubmit, State{}, ErrInvalidTransition},
		{"approve before submit", restart, State{}, ActionApprove, State{}, ErrInvalidTransition},
		{"school approves", restart, pendingSchool, ActionApprove, schoolApproved, nil},
		{"sector approves", restart, schoolApproved, ActionApprove, sectorApproved, nil},
		{"region approves is terminal", restart, sectorApproved, ActionApprove, State{Status: StatusRegionApproved}, nil},
		{"approve after final", restart, State{Status: StatusRegionApproved}, ActionApprove, State{}, ErrInvalidTransition},
		{"reject", restart, schoolApproved, ActionReject, State{Status: StatusRejected}, nil},
		{"approve rejected", restart, State{Status: StatusRejected}, ActionApprove, State{}, ErrInvalidTransition},
		{"return restarts", restart, sectorApproved, ActionReturn, pendingSchool, nil},
		{"return resumes", resume, sectorApproved, ActionReturn, State{Status: StatusPending, Level: domain.LevelRegion}, nil},
		{"delegate keeps state", restart, schoolApproved, ActionDelegate, schoolApproved, nil},
		{"escalate flags overdue", restart, schoolApproved, ActionEscalate, State{Status: StatusSchoolApproved, Level: domain.LevelSector, Overdue: true}, nil},
		{"escalate twice", restart, State{Status: StatusPending, Level: domain.LevelSchool, Overdue: true}, ActionEscalate, State{}, ErrInvalidTransition},
		{"approve clears overdue", restart, State{Status: StatusPending, Level: domain.LevelSchool, Overdue: true}, ActionApprove, schoolApproved, nil},
		{"unknown action", restart, pendingSchool, Action("archive"), State{}, ErrInvalidTransition},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Apply(tt.workflow, tt.from, tt.action)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestApply_ShortWorkflowEndsAtItsLastLevel(t *testing.T) {
	w := Workflow{ID: "school-only", Levels: []domain.Level{domain.LevelSchool}, ReturnPolicy: ReturnRestart}

	s, err := Apply(w, State{}, ActionSubmit)
	require.NoError(t, err)
	s, err = Apply(w, s, ActionApprove)
	require.NoError(t, err)

	assert.Equal(t, StatusSchoolApproved, s.Status)
	assert.True(t, s.Terminal())
}

func record(seq int, action Action, newStatus Status, newLevel domain.Level) ActionRecord {
	return ActionRecord{ID: "a", Seq: seq, Action: action, NewStatus: newStatus, NewLevel: newLevel}
}

func TestReplay(t *testing.T) {
	w := DefaultWorkflow(time.Hour)

	log := []ActionRecord{
		record(1, ActionSubmit, StatusPending, domain.LevelSchool),
		record(2, ActionApprove, StatusSchoolApproved, domain.LevelSector),
		record(3, ActionEscalate, StatusSchoolApproved, domain.LevelSector),
		record(4, ActionReturn, StatusPending, domain.LevelSchool),
		record(5, ActionDelegate, StatusPending, domain.LevelSchool),
		record(6, ActionApprove, StatusSchoolApproved, domain.LevelSector),
	}

	s, err := Replay(w, log)
	require.NoError(t, err)
	assert.Equal(t, State{Status: StatusSchoolApproved, Level: domain.LevelSector}, s)

	s, err = Replay(w, log[:3])
	require.NoError(t, err)
	assert.True(t, s.Overdue)
}

func TestReplay_DetectsInconsistentLog(t *testing.T) {
	w := DefaultWorkflow(time.Hour)

	_, err := Replay(w, []ActionRecord{
		record(1, ActionSubmit, StatusPending, domain.LevelSchool),
		record(2, ActionApprove, StatusRegionApproved, ""),
	})
	assert.ErrorIs(t, err, ErrProjectionMismatch)

	_, err = Replay(w, []ActionRecord{
		record(1, ActionSubmit, StatusPending, domain.LevelSchool),
		record(3, ActionApprove, StatusSchoolApproved, domain.LevelSector),
	})
	assert.ErrorIs(t, err, ErrProjectionMismatch)
}

func TestWorkflow_Validate(t *testing.T) {
	assert.NoError(t, DefaultWorkflow(72*time.Hour).Validate())

	bad := []Workflow{
		{ID: "", Levels: []domain.Level{domain.LevelSchool}, ReturnPolicy: ReturnRestart},
		{ID: "empty", ReturnPolicy: ReturnRestart},
		{ID: "dup", Levels: []domain.Level{domain.LevelSchool, domain.LevelSchool}, ReturnPolicy: ReturnRestart},
		{ID: "unknown", Levels: []domain.Level{"district"}, ReturnPolicy: ReturnRestart},
		{ID: "implicit", Levels: []domain.Level{domain.LevelSchool}},
	}
	for _, w := range bad {
		assert.ErrorIs(t, w.Validate(), ErrInvalidWorkflow, w.ID)
	}
}

func TestNewSubject(t *testing.T) {
	s, err := NewSubject(SubjectTeacherProfileEdit, "edit-1", "teacher-1", "school-1")
	require.NoError(t, err)
	assert.Equal(t, SubjectTeacherProfileEdit, s.SubjectType())
	assert.Equal(t, "teacher-1", s.OwnerID())
	assert.Equal(t, "school-1", s.InstitutionID())

	_, err = NewSubject("document", "d-1", "u", "school-1")
	assert.ErrorIs(t, err, ErrInvalidSubject)

	_, err = NewSubject(SubjectSurvey, "", "u", "school-1")
	assert.ErrorIs(t, err, ErrInvalidSubject)
}
