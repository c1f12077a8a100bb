package approval

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/aristath/scholar/internal/database"
	"github.com/aristath/scholar/internal/domain"
	"github.com/aristath/scholar/internal/events"
	"github.com/aristath/scholar/internal/modules/institutions"
	"github.com/aristath/scholar/internal/modules/roles"
	testutil "github.com/aristath/scholar/internal/testing"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type serviceFixture struct {
	svc   *Service
	db    *database.DB
	bus   *events.Bus
	h     testutil.Hierarchy
	clock time.Time
}

func newServiceFixture(t *testing.T) *serviceFixture {
	t.Helper()
	log := zerolog.Nop()

	db := testutil.NewTestDB(t)
	h := testutil.SeedHierarchy(t, db)
	testutil.SeedRole(t, db, "principal", roles.RoleSchoolAdmin, h.SchoolID)
	testutil.SeedRole(t, db, "sector-head", roles.RoleSectorAdmin, h.SectorID)
	testutil.SeedRole(t, db, "region-head", roles.RoleRegionAdmin, h.RegionID)

	bus := events.NewBus(log)
	svc := NewService(
		NewRepository(db, log),
		institutions.NewService(institutions.NewRepository(db, log), log),
		roles.NewResolver(roles.NewRepository(db, log), nil, log),
		events.NewManager(bus, log),
		log,
	)

	f := &serviceFixture{
		svc:   svc,
		db:    db,
		bus:   bus,
		h:     h,
		clock: time.Date(2024, time.October, 1, 9, 0, 0, 0, time.UTC),
	}
	svc.now = func() time.Time { return f.clock }

	require.NoError(t, svc.EnsureDefaultWorkflow(context.Background(), 72*time.Hour))
	return f
}

func (f *serviceFixture) submit(t *testing.T, subjectID string) *Request {
	t.Helper()
	req, err := f.svc.Submit(context.Background(),
		Survey{ID: subjectID, Title: "Parent feedback", CreatorID: "teacher-1", Institution: f.h.SchoolID},
		DefaultWorkflowID, "teacher-1")
	require.NoError(t, err)
	return req
}

func (f *serviceFixture) act(actor, requestID string, action Action, comment string) (*Request, error) {
	return f.svc.Act(context.Background(), ActRequest{
		RequestID: requestID,
		ActorID:   actor,
		Action:    action,
		Comment:   comment,
	})
}

func (f *serviceFixture) verify(t *testing.T, requestID string) State {
	t.Helper()
	s, err := f.svc.VerifyProjection(context.Background(), requestID)
	require.NoError(t, err)
	return s
}

func TestService_FullApprovalChain(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	var transitions []events.Event
	f.bus.Subscribe(events.ApprovalTransitioned, func(e events.Event) error {
		transitions = append(transitions, e)
		return nil
	})

	req := f.submit(t, "survey-1")
	assert.Equal(t, StatusPending, req.Status)
	assert.Equal(t, domain.LevelSchool, req.Level)
	assert.Equal(t, 1, req.Version)
	require.NotNil(t, req.Deadline)
	assert.Equal(t, f.clock.Add(72*time.Hour), *req.Deadline)

	req, err := f.act("principal", req.ID, ActionApprove, "")
	require.NoError(t, err)
	assert.Equal(t, StatusSchoolApproved, req.Status)
	assert.Equal(t, domain.LevelSector, req.Level)

	req, err = f.act("sector-head", req.ID, ActionApprove, "")
	require.NoError(t, err)
	assert.Equal(t, StatusSectorApproved, req.Status)

	req, err = f.act("region-head", req.ID, ActionApprove, "looks good")
	require.NoError(t, err)
	assert.Equal(t, StatusRegionApproved, req.Status)
	assert.Empty(t, req.Level)
	assert.Nil(t, req.Deadline)
	assert.Equal(t, 4, req.Version)

	_, err = f.act("region-head", req.ID, ActionApprove, "")
	assert.ErrorIs(t, err, ErrInvalidTransition)

	history, err := f.svc.History(ctx, req.ID)
	require.NoError(t, err)
	require.Len(t, history, 4)
	assert.Equal(t, ActionSubmit, history[0].Action)
	assert.Equal(t, "region-head", history[3].ActorID)
	assert.Equal(t, StatusSectorApproved, history[3].OldStatus)
	assert.Equal(t, StatusRegionApproved, history[3].NewStatus)

	assert.Equal(t, State{Status: StatusRegionApproved}, f.verify(t, req.ID))
	assert.Len(t, transitions, 3)
}

func TestService_SaveWorkflowKeepsLevelsWhileOpen(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	req := f.submit(t, "survey-1")

	shorter := DefaultWorkflow(72 * time.Hour)
	shorter.Levels = []domain.Level{domain.LevelSchool, domain.LevelRegion}
	assert.ErrorIs(t, f.svc.SaveWorkflow(ctx, shorter), ErrInvalidWorkflow)

	longer := DefaultWorkflow(24 * time.Hour)
	longer.ReturnPolicy = ReturnResume
	require.NoError(t, f.svc.SaveWorkflow(ctx, longer))

	stored, err := f.svc.Workflow(ctx, DefaultWorkflowID)
	require.NoError(t, err)
	assert.Equal(t, ReturnResume, stored.ReturnPolicy)
	assert.Equal(t, 24*time.Hour, stored.LevelDeadline)

	_, err = f.act("principal", req.ID, ActionReject, "incomplete")
	require.NoError(t, err)
	require.NoError(t, f.svc.SaveWorkflow(ctx, shorter), "no open requests left")

	_, err = f.svc.Workflow(ctx, "missing")
	assert.ErrorIs(t, err, ErrWorkflowNotFound)
}

func TestService_ApproveAgainPastOwnLevel(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	req := f.submit(t, "survey-1")
	_, err := f.act("principal", req.ID, ActionApprove, "")
	require.NoError(t, err)

	_, err = f.act("principal", req.ID, ActionApprove, "")
	assert.ErrorIs(t, err, ErrUnauthorizedAction)

	stored, err := f.svc.Get(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusSchoolApproved, stored.Status)
	assert.Equal(t, 2, stored.Version)

	history, err := f.svc.History(ctx, req.ID)
	require.NoError(t, err)
	assert.Len(t, history, 2)
}

func TestService_UnrelatedActorIsUnauthorized(t *testing.T) {
	f := newServiceFixture(t)

	req := f.submit(t, "survey-1")
	_, err := f.act("teacher-1", req.ID, ActionApprove, "")
	assert.ErrorIs(t, err, ErrUnauthorizedAction)

	_, err = f.act("", req.ID, ActionApprove, "")
	assert.ErrorIs(t, err, ErrUnauthorizedAction)
}

func TestService_RejectRequiresComment(t *testing.T) {
	f := newServiceFixture(t)

	req := f.submit(t, "survey-1")
	_, err := f.act("principal", req.ID, ActionReject, "  ")
	assert.ErrorIs(t, err, ErrCommentRequired)

	rejected, err := f.act("principal", req.ID, ActionReject, "questions 3 and 4 are leading")
	require.NoError(t, err)
	assert.Equal(t, StatusRejected, rejected.Status)
	assert.Empty(t, rejected.Level)

	_, err = f.act("principal", req.ID, ActionApprove, "")
	assert.ErrorIs(t, err, ErrInvalidTransition)

	history, err := f.svc.History(context.Background(), req.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "questions 3 and 4 are leading", history[1].Comment)
	f.verify(t, req.ID)
}

func TestService_ReturnRestartsFromFirstLevel(t *testing.T) {
	f := newServiceFixture(t)

	req := f.submit(t, "survey-1")
	_, err := f.act("principal", req.ID, ActionApprove, "")
	require.NoError(t, err)
	_, err = f.act("sector-head", req.ID, ActionApprove, "")
	require.NoError(t, err)

	returned, err := f.act("region-head", req.ID, ActionReturn, "missing consent form")
	require.NoError(t, err)
	assert.Equal(t, StatusPending, returned.Status)
	assert.Equal(t, domain.LevelSchool, returned.Level)

	// the school has to approve again
	_, err = f.act("sector-head", req.ID, ActionApprove, "")
	assert.ErrorIs(t, err, ErrUnauthorizedAction)
	_, err = f.act("principal", req.ID, ActionApprove, "")
	require.NoError(t, err)

	f.verify(t, req.ID)
}

func TestService_ReturnResumesAtReturningLevel(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	require.NoError(t, f.svc.SaveWorkflow(ctx, Workflow{
		ID:            "resume",
		Levels:        []domain.Level{domain.LevelSchool, domain.LevelSector, domain.LevelRegion},
		ReturnPolicy:  ReturnResume,
		LevelDeadline: 24 * time.Hour,
	}))

	req, err := f.svc.Submit(ctx, Task{ID: "task-1", AssigneeID: "teacher-1", Institution: f.h.SchoolID}, "resume", "teacher-1")
	require.NoError(t, err)

	_, err = f.act("principal", req.ID, ActionApprove, "")
	require.NoError(t, err)

	returned, err := f.act("sector-head", req.ID, ActionReturn, "attach the report")
	require.NoError(t, err)
	assert.Equal(t, StatusPending, returned.Status)
	assert.Equal(t, domain.LevelSector, returned.Level)

	_, err = f.act("sector-head", req.ID, ActionApprove, "")
	require.NoError(t, err)

	assert.Equal(t, State{Status: StatusSectorApproved, Level: domain.LevelRegion}, f.verify(t, req.ID))
}

func TestService_StaleExpectedVersion(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	req := f.submit(t, "survey-1")
	_, err := f.act("principal", req.ID, ActionApprove, "")
	require.NoError(t, err)

	stale := 1
	_, err = f.svc.Act(ctx, ActRequest{
		RequestID:       req.ID,
		ActorID:         "sector-head",
		Action:          ActionApprove,
		ExpectedVersion: &stale,
	})
	assert.ErrorIs(t, err, ErrStaleState)

	current := 2
	_, err = f.svc.Act(ctx, ActRequest{
		RequestID:       req.ID,
		ActorID:         "sector-head",
		Action:          ActionApprove,
		ExpectedVersion: &current,
	})
	assert.NoError(t, err)
}

func TestService_ConcurrentActsOnlyOneWins(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	req := f.submit(t, "survey-1")

	const writers = 4
	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		wins   int
		stales int
		others []error
	)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			version := 1
			_, err := f.svc.Act(ctx, ActRequest{
				RequestID:       req.ID,
				ActorID:         "principal",
				Action:          ActionApprove,
				ExpectedVersion: &version,
			})

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case errors.Is(err, ErrStaleState):
				stales++
			default:
				others = append(others, err)
			}
		}()
	}
	wg.Wait()

	assert.Empty(t, others)
	assert.Equal(t, 1, wins)
	assert.Equal(t, writers-1, stales)

	history, err := f.svc.History(ctx, req.ID)
	require.NoError(t, err)
	assert.Len(t, history, 2)
	f.verify(t, req.ID)
}

func TestService_SweepOverdue(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	var escalated []events.Event
	f.bus.Subscribe(events.ApprovalEscalated, func(e events.Event) error {
		escalated = append(escalated, e)
		return nil
	})

	req := f.submit(t, "survey-1")
	submittedAt := f.clock

	n, err := f.svc.SweepOverdue(ctx, submittedAt.Add(time.Hour))
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = f.svc.SweepOverdue(ctx, submittedAt.Add(73*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	stored, err := f.svc.Get(ctx, req.ID)
	require.NoError(t, err)
	assert.True(t, stored.IsOverdue)
	assert.Equal(t, StatusPending, stored.Status, "escalation never changes status")
	assert.Equal(t, domain.LevelSchool, stored.Level)
	assert.Equal(t, 2, stored.Version)

	// re-running is a no-op
	n, err = f.svc.SweepOverdue(ctx, submittedAt.Add(74*time.Hour))
	require.NoError(t, err)
	assert.Zero(t, n)

	history, err := f.svc.History(ctx, req.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, ActionEscalate, history[1].Action)
	assert.Equal(t, SystemActor, history[1].ActorID)
	assert.Equal(t, history[1].OldStatus, history[1].NewStatus)
	assert.Len(t, escalated, 1)

	assert.True(t, f.verify(t, req.ID).Overdue)

	// acting on the request clears the flag and starts a new deadline
	f.clock = submittedAt.Add(80 * time.Hour)
	approved, err := f.act("principal", req.ID, ActionApprove, "")
	require.NoError(t, err)
	assert.False(t, approved.IsOverdue)
	require.NotNil(t, approved.Deadline)
	assert.Equal(t, f.clock.Add(72*time.Hour), *approved.Deadline)
	f.verify(t, req.ID)
}

func TestService_ConcurrentSweepsFlagOnce(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	req := f.submit(t, "survey-1")
	at := f.clock.Add(100 * time.Hour)

	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		total int
		errs  []error
	)
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			n, err := f.svc.SweepOverdue(ctx, at)
			mu.Lock()
			defer mu.Unlock()
			total += n
			if err != nil {
				errs = append(errs, err)
			}
		}()
	}
	wg.Wait()

	assert.Empty(t, errs)
	assert.Equal(t, 1, total)

	history, err := f.svc.History(ctx, req.ID)
	require.NoError(t, err)
	assert.Len(t, history, 2)
}

func TestService_DelegationIsOneTime(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	req := f.submit(t, "survey-1")

	_, err := f.act("deputy", req.ID, ActionApprove, "")
	require.ErrorIs(t, err, ErrUnauthorizedAction)

	d, err := f.svc.Delegate(ctx, DelegateRequest{
		RequestID:   req.ID,
		DelegatorID: "principal",
		DelegateID:  "deputy",
		ExpiresAt:   f.clock.Add(24 * time.Hour),
	})
	require.NoError(t, err)
	assert.Equal(t, domain.LevelSchool, d.Level)

	stored, err := f.svc.Get(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, stored.Status, "delegation does not advance the request")
	assert.Equal(t, 2, stored.Version)

	// returning under the restart policy keeps the request at the school level
	returned, err := f.act("deputy", req.ID, ActionReturn, "needs a title")
	require.NoError(t, err)
	assert.Equal(t, domain.LevelSchool, returned.Level)

	_, err = f.act("deputy", req.ID, ActionApprove, "")
	assert.ErrorIs(t, err, ErrUnauthorizedAction)

	history, err := f.svc.History(ctx, req.ID)
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, ActionDelegate, history[1].Action)
	assert.Equal(t, "deputy", history[2].ActorID)
	f.verify(t, req.ID)
}

func TestService_DelegationDoesNotSurviveNewRound(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	req := f.submit(t, "survey-1")
	_, err := f.svc.Delegate(ctx, DelegateRequest{
		RequestID:   req.ID,
		DelegatorID: "principal",
		DelegateID:  "deputy",
		ExpiresAt:   f.clock.Add(24 * time.Hour),
	})
	require.NoError(t, err)

	// the delegator decides personally, leaving the delegation unused
	_, err = f.act("principal", req.ID, ActionApprove, "")
	require.NoError(t, err)

	returned, err := f.act("sector-head", req.ID, ActionReturn, "missing attachments")
	require.NoError(t, err)
	require.Equal(t, domain.LevelSchool, returned.Level, "restart policy goes back to the school")

	_, err = f.act("deputy", req.ID, ActionApprove, "")
	assert.ErrorIs(t, err, ErrUnauthorizedAction)

	_, err = f.act("principal", req.ID, ActionApprove, "")
	require.NoError(t, err)
	f.verify(t, req.ID)
}

func TestService_ReturnVoidsDelegationUnderResume(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	w := DefaultWorkflow(72 * time.Hour)
	w.ID = "resume"
	w.ReturnPolicy = ReturnResume
	require.NoError(t, f.svc.SaveWorkflow(ctx, w))

	req, err := f.svc.Submit(ctx, Task{ID: "task-1", Title: "Lab inventory", AssigneeID: "teacher-1", Institution: f.h.SchoolID}, "resume", "teacher-1")
	require.NoError(t, err)

	_, err = f.svc.Delegate(ctx, DelegateRequest{
		RequestID:   req.ID,
		DelegatorID: "principal",
		DelegateID:  "deputy",
		ExpiresAt:   f.clock.Add(24 * time.Hour),
	})
	require.NoError(t, err)

	returned, err := f.act("principal", req.ID, ActionReturn, "fix the totals")
	require.NoError(t, err)
	assert.Equal(t, domain.LevelSchool, returned.Level)

	_, err = f.act("deputy", req.ID, ActionApprove, "")
	assert.ErrorIs(t, err, ErrUnauthorizedAction)
}

func TestRepository_OneOpenRequestPerSubject(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	first := f.submit(t, "survey-1")

	// a second writer that passed the open-request check concurrently
	dup := *first
	dup.ID = "duplicate"
	err := f.svc.repo.InsertRequest(ctx, nil, &dup)
	require.ErrorIs(t, err, ErrInvalidTransition)
	assert.False(t, database.IsStorageError(err))

	_, err = f.act("principal", first.ID, ActionReject, "out of scope")
	require.NoError(t, err)

	// terminal requests no longer block the subject
	second := f.submit(t, "survey-1")
	assert.NotEqual(t, first.ID, second.ID)
}

func TestService_DelegationExpires(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	req := f.submit(t, "survey-1")
	_, err := f.svc.Delegate(ctx, DelegateRequest{
		RequestID:   req.ID,
		DelegatorID: "principal",
		DelegateID:  "deputy",
		ExpiresAt:   f.clock.Add(time.Hour),
	})
	require.NoError(t, err)

	f.clock = f.clock.Add(2 * time.Hour)
	_, err = f.act("deputy", req.ID, ActionApprove, "")
	assert.ErrorIs(t, err, ErrUnauthorizedAction)
}

func TestService_DelegationRequiresAuthority(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	req := f.submit(t, "survey-1")

	_, err := f.svc.Delegate(ctx, DelegateRequest{
		RequestID:   req.ID,
		DelegatorID: "sector-head",
		DelegateID:  "deputy",
		ExpiresAt:   f.clock.Add(time.Hour),
	})
	assert.ErrorIs(t, err, ErrUnauthorizedAction)

	_, err = f.svc.Delegate(ctx, DelegateRequest{
		RequestID:   req.ID,
		DelegatorID: "principal",
		DelegateID:  "principal",
		ExpiresAt:   f.clock.Add(time.Hour),
	})
	assert.ErrorIs(t, err, ErrInvalidDelegation)

	_, err = f.svc.Delegate(ctx, DelegateRequest{
		RequestID:   req.ID,
		DelegatorID: "principal",
		DelegateID:  "deputy",
		ExpiresAt:   f.clock.Add(-time.Minute),
	})
	assert.ErrorIs(t, err, ErrInvalidDelegation)
}

func TestService_SubmitValidation(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	f.submit(t, "survey-1")

	_, err := f.svc.Submit(ctx, Survey{ID: "survey-1", Institution: f.h.SchoolID}, "", "teacher-1")
	assert.ErrorIs(t, err, ErrInvalidTransition, "one open request per subject")

	_, err = f.svc.Submit(ctx, Survey{ID: "survey-2", Institution: f.h.SchoolID}, "missing", "teacher-1")
	assert.ErrorIs(t, err, ErrWorkflowNotFound)

	_, err = f.svc.Submit(ctx, Survey{ID: "survey-3", Institution: "nowhere"}, "", "teacher-1")
	assert.ErrorIs(t, err, institutions.ErrNotFound)

	_, err = f.svc.Submit(ctx, Survey{ID: "survey-4"}, "", "teacher-1")
	assert.ErrorIs(t, err, ErrInvalidSubject)
}

func TestService_ActRejectsIndirectActions(t *testing.T) {
	f := newServiceFixture(t)

	req := f.submit(t, "survey-1")
	for _, a := range []Action{ActionEscalate, ActionDelegate, ActionSubmit} {
		_, err := f.act("principal", req.ID, a, "")
		assert.ErrorIs(t, err, ErrInvalidTransition, string(a))
	}

	_, err := f.act("principal", "missing", ActionApprove, "")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestService_VerifyProjectionDetectsDrift(t *testing.T) {
	f := newServiceFixture(t)

	req := f.submit(t, "survey-1")
	_, err := f.db.Conn().Exec(f.db.Rebind(`UPDATE approval_requests SET current_status = 'rejected' WHERE id = ?`), req.ID)
	require.NoError(t, err)

	_, err = f.svc.VerifyProjection(context.Background(), req.ID)
	assert.ErrorIs(t, err, ErrProjectionMismatch)
}
