package approval

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/aristath/scholar/internal/database"
	"github.com/aristath/scholar/internal/domain"
	"github.com/aristath/scholar/internal/events"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// sweepBatchSize bounds how many overdue requests one sweep flags
const sweepBatchSize = 500

// ActRequest is a decision on an approval request
type ActRequest struct {
	RequestID string
	ActorID   string
	Action    Action
	Comment   string
	// ExpectedVersion, when set, fails the call with ErrStaleState if the
	// request has moved on since the caller read it
	ExpectedVersion *int
}

// DelegateRequest hands the delegator's authority at the current level to DelegateID
type DelegateRequest struct {
	RequestID       string
	DelegatorID     string
	DelegateID      string
	ExpiresAt       time.Time
	Comment         string
	ExpectedVersion *int
}

// Service runs approval requests through their workflows
type Service struct {
	repo         *Repository
	hierarchy    domain.HierarchyProvider
	authz        domain.AuthorityResolver
	eventManager *events.Manager
	log          zerolog.Logger
	now          func() time.Time
}

// NewService creates a new approval service
func NewService(
	repo *Repository,
	hierarchy domain.HierarchyProvider,
	authz domain.AuthorityResolver,
	eventManager *events.Manager,
	log zerolog.Logger,
) *Service {
	return &Service{
		repo:         repo,
		hierarchy:    hierarchy,
		authz:        authz,
		eventManager: eventManager,
		log:          log.With().Str("service", "approval").Logger(),
		now:          time.Now,
	}
}

// SaveWorkflow validates and stores a workflow
func (s *Service) SaveWorkflow(ctx context.Context, w Workflow) error {
	if err := w.Validate(); err != nil {
		return err
	}

	existing, err := s.repo.GetWorkflow(ctx, w.ID)
	if err != nil {
		return err
	}
	if existing != nil && !sameLevels(existing.Levels, w.Levels) {
		open, err := s.repo.CountOpenForWorkflow(ctx, w.ID)
		if err != nil {
			return err
		}
		if open > 0 {
			return fmt.Errorf("%w: %s has %d open requests; its levels cannot change", ErrInvalidWorkflow, w.ID, open)
		}
	}

	if err := s.repo.UpsertWorkflow(ctx, w); err != nil {
		return err
	}
	s.log.Info().
		Str("workflow_id", w.ID).
		Str("return_policy", string(w.ReturnPolicy)).
		Dur("level_deadline", w.LevelDeadline).
		Msg("Approval workflow saved")
	return nil
}

// Workflow returns a stored workflow
func (s *Service) Workflow(ctx context.Context, id string) (*Workflow, error) {
	return s.workflow(ctx, id)
}

func sameLevels(a, b []domain.Level) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// EnsureDefaultWorkflow stores the standard workflow unless it already exists
func (s *Service) EnsureDefaultWorkflow(ctx context.Context, deadline time.Duration) error {
	existing, err := s.repo.GetWorkflow(ctx, DefaultWorkflowID)
	if err != nil {
		return err
	}
	if existing != nil {
		return nil
	}
	s.log.Info().Dur("level_deadline", deadline).Msg("Seeding default approval workflow")
	return s.SaveWorkflow(ctx, DefaultWorkflow(deadline))
}

func (s *Service) workflow(ctx context.Context, id string) (*Workflow, error) {
	w, err := s.repo.GetWorkflow(ctx, id)
	if err != nil {
		return nil, err
	}
	if w == nil {
		return nil, fmt.Errorf("%w: %s", ErrWorkflowNotFound, id)
	}
	return w, nil
}

// Submit opens a pending request for subject at the first level of the workflow
func (s *Service) Submit(ctx context.Context, subject Subject, workflowID, submitterID string) (*Request, error) {
	if subject == nil || subject.SubjectID() == "" || subject.InstitutionID() == "" {
		return nil, fmt.Errorf("%w: subject id and institution are required", ErrInvalidSubject)
	}
	if submitterID == "" {
		return nil, fmt.Errorf("%w: submitter is required", ErrUnauthorizedAction)
	}
	if workflowID == "" {
		workflowID = DefaultWorkflowID
	}

	w, err := s.workflow(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	if _, err := s.hierarchy.Ancestors(ctx, subject.InstitutionID()); err != nil {
		return nil, err
	}

	open, err := s.repo.OpenRequestForSubject(ctx, subject.SubjectType(), subject.SubjectID())
	if err != nil {
		return nil, err
	}
	if open != nil {
		return nil, fmt.Errorf("%w: %s %s already has open request %s",
			ErrInvalidTransition, subject.SubjectType(), subject.SubjectID(), open.ID)
	}

	state, err := Apply(*w, State{}, ActionSubmit)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	req := &Request{
		ID:            uuid.New().String(),
		SubjectType:   subject.SubjectType(),
		SubjectID:     subject.SubjectID(),
		InstitutionID: subject.InstitutionID(),
		SubmitterID:   submitterID,
		WorkflowID:    w.ID,
		Status:        state.Status,
		Level:         state.Level,
		Deadline:      levelDeadline(*w, now),
		Version:       1,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	action := &ActionRecord{
		ID:        uuid.New().String(),
		RequestID: req.ID,
		Seq:       req.Version,
		Action:    ActionSubmit,
		ActorID:   submitterID,
		NewStatus: state.Status,
		NewLevel:  state.Level,
		CreatedAt: now,
	}

	err = database.WithTransaction(ctx, s.repo.db.Conn(), func(tx *sql.Tx) error {
		if err := s.repo.InsertRequest(ctx, tx, req); err != nil {
			return err
		}
		return s.repo.AppendAction(ctx, tx, action)
	})
	if err != nil {
		s.log.Error().Err(err).Str("subject_id", req.SubjectID).Msg("Failed to submit approval request")
		return nil, err
	}

	s.log.Info().
		Str("request_id", req.ID).
		Str("subject_type", req.SubjectType).
		Str("subject_id", req.SubjectID).
		Msg("Approval request submitted")
	s.eventManager.Emit("approval", &events.ApprovalSubmittedData{
		RequestID:     req.ID,
		SubjectType:   req.SubjectType,
		SubjectID:     req.SubjectID,
		InstitutionID: req.InstitutionID,
		SubmitterID:   req.SubmitterID,
		Level:         string(req.Level),
	})
	return req, nil
}

// Act applies approve, reject or return to a request on behalf of an actor.
// Exactly one action row is appended for a successful call.
func (s *Service) Act(ctx context.Context, in ActRequest) (*Request, error) {
	switch in.Action {
	case ActionApprove, ActionReject, ActionReturn:
	default:
		return nil, fmt.Errorf("%w: %q cannot be performed directly", ErrInvalidTransition, in.Action)
	}
	if in.Action == ActionReject && strings.TrimSpace(in.Comment) == "" {
		return nil, fmt.Errorf("%w: rejection needs a reason", ErrCommentRequired)
	}

	req, w, err := s.load(ctx, in.RequestID, in.ExpectedVersion)
	if err != nil {
		return nil, err
	}

	next, err := Apply(*w, req.State(), in.Action)
	if err != nil {
		s.log.Warn().Err(err).Str("request_id", req.ID).Str("action", string(in.Action)).Msg("Rejected approval action")
		return nil, err
	}

	delegation, err := s.authorize(ctx, req, in.ActorID)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	updated := *req
	updated.Status = next.Status
	updated.Level = next.Level
	updated.IsOverdue = next.Overdue
	updated.Version = req.Version + 1
	updated.UpdatedAt = now
	newRound := next.Level != req.Level || in.Action == ActionReturn
	if newRound {
		updated.Deadline = levelDeadline(*w, now)
	}
	if next.Terminal() {
		updated.Deadline = nil
	}

	action := &ActionRecord{
		ID:        uuid.New().String(),
		RequestID: req.ID,
		Seq:       updated.Version,
		Action:    in.Action,
		ActorID:   in.ActorID,
		OldStatus: req.Status,
		NewStatus: updated.Status,
		OldLevel:  req.Level,
		NewLevel:  updated.Level,
		Comment:   in.Comment,
		CreatedAt: now,
	}

	err = database.WithTransaction(ctx, s.repo.db.Conn(), func(tx *sql.Tx) error {
		// The versioned update runs first so the write lock is taken before anything else
		ok, err := s.repo.UpdateProjection(ctx, tx, &updated, req.Version)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: request %s is past version %d", ErrStaleState, req.ID, req.Version)
		}
		if delegation != nil {
			used, err := s.repo.ConsumeDelegation(ctx, tx, delegation.ID, now)
			if err != nil {
				return err
			}
			if !used {
				return fmt.Errorf("%w: delegation %s was already used or expired", ErrUnauthorizedAction, delegation.ID)
			}
		}
		if newRound {
			voided, err := s.repo.VoidDelegations(ctx, tx, req.ID, now)
			if err != nil {
				return err
			}
			if voided > 0 {
				s.log.Debug().Str("request_id", req.ID).Int64("voided", voided).Msg("Unused delegations voided")
			}
		}
		return s.repo.AppendAction(ctx, tx, action)
	})
	if err != nil {
		s.logFailure(err, "Approval action failed", req.ID)
		return nil, err
	}

	s.log.Info().
		Str("request_id", req.ID).
		Str("action", string(in.Action)).
		Str("old_status", string(req.Status)).
		Str("new_status", string(updated.Status)).
		Msg("Approval request transitioned")
	s.eventManager.Emit("approval", &events.ApprovalTransitionedData{
		RequestID:   req.ID,
		SubjectType: req.SubjectType,
		SubjectID:   req.SubjectID,
		SubmitterID: req.SubmitterID,
		ActorID:     in.ActorID,
		Action:      string(in.Action),
		OldStatus:   string(req.Status),
		NewStatus:   string(updated.Status),
		NewLevel:    string(updated.Level),
		Comment:     in.Comment,
	})
	return &updated, nil
}

// Delegate gives DelegateID one-time authority at the request's current level
func (s *Service) Delegate(ctx context.Context, in DelegateRequest) (*Delegation, error) {
	if in.DelegateID == "" || in.DelegateID == in.DelegatorID {
		return nil, fmt.Errorf("%w: delegate must be another user", ErrInvalidDelegation)
	}
	now := s.now().UTC()
	if !in.ExpiresAt.After(now) {
		return nil, fmt.Errorf("%w: expiry must be in the future", ErrInvalidDelegation)
	}

	req, w, err := s.load(ctx, in.RequestID, in.ExpectedVersion)
	if err != nil {
		return nil, err
	}
	if _, err := Apply(*w, req.State(), ActionDelegate); err != nil {
		return nil, err
	}

	chain, err := s.hierarchy.Ancestors(ctx, req.InstitutionID)
	if err != nil {
		return nil, err
	}
	ok, err := s.authz.CanActAtLevel(ctx, in.DelegatorID, chain, req.Level)
	if err != nil {
		return nil, err
	}
	if !ok {
		s.log.Warn().Str("request_id", req.ID).Str("actor_id", in.DelegatorID).Msg("Delegation by actor without authority")
		return nil, fmt.Errorf("%w: %s cannot delegate at %s", ErrUnauthorizedAction, in.DelegatorID, req.Level)
	}

	updated := *req
	updated.Version = req.Version + 1
	updated.UpdatedAt = now

	delegation := &Delegation{
		ID:          uuid.New().String(),
		RequestID:   req.ID,
		Level:       req.Level,
		DelegatorID: in.DelegatorID,
		DelegateID:  in.DelegateID,
		ExpiresAt:   in.ExpiresAt.UTC(),
		CreatedAt:   now,
	}
	comment := in.Comment
	if comment == "" {
		comment = "delegated to " + in.DelegateID
	}
	action := &ActionRecord{
		ID:        uuid.New().String(),
		RequestID: req.ID,
		Seq:       updated.Version,
		Action:    ActionDelegate,
		ActorID:   in.DelegatorID,
		OldStatus: req.Status,
		NewStatus: req.Status,
		OldLevel:  req.Level,
		NewLevel:  req.Level,
		Comment:   comment,
		CreatedAt: now,
	}

	err = database.WithTransaction(ctx, s.repo.db.Conn(), func(tx *sql.Tx) error {
		ok, err := s.repo.UpdateProjection(ctx, tx, &updated, req.Version)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: request %s is past version %d", ErrStaleState, req.ID, req.Version)
		}
		if err := s.repo.InsertDelegation(ctx, tx, delegation); err != nil {
			return err
		}
		return s.repo.AppendAction(ctx, tx, action)
	})
	if err != nil {
		s.logFailure(err, "Delegation failed", req.ID)
		return nil, err
	}

	s.log.Info().
		Str("request_id", req.ID).
		Str("delegator_id", in.DelegatorID).
		Str("delegate_id", in.DelegateID).
		Msg("Approval authority delegated")
	s.eventManager.Emit("approval", &events.ApprovalDelegatedData{
		RequestID:   req.ID,
		DelegatorID: in.DelegatorID,
		DelegateID:  in.DelegateID,
		Level:       string(req.Level),
	})
	return delegation, nil
}

// SweepOverdue flags open requests whose level deadline passed and records an
// escalate action for each. Status never changes. Rows already flagged, or
// flagged concurrently by another instance, are skipped.
func (s *Service) SweepOverdue(ctx context.Context, now time.Time) (int, error) {
	now = now.UTC()
	candidates, err := s.repo.OverdueCandidates(ctx, now, sweepBatchSize)
	if err != nil {
		return 0, err
	}

	flagged := 0
	for _, req := range candidates {
		if err := ctx.Err(); err != nil {
			return flagged, err
		}

		var marked bool
		err := database.WithTransaction(ctx, s.repo.db.Conn(), func(tx *sql.Tx) error {
			version, ok, err := s.repo.MarkOverdue(ctx, tx, req.ID, now)
			if err != nil || !ok {
				return err
			}
			marked = true
			return s.repo.AppendAction(ctx, tx, &ActionRecord{
				ID:        uuid.New().String(),
				RequestID: req.ID,
				Seq:       version,
				Action:    ActionEscalate,
				ActorID:   SystemActor,
				OldStatus: req.Status,
				NewStatus: req.Status,
				OldLevel:  req.Level,
				NewLevel:  req.Level,
				Comment:   "deadline passed",
				CreatedAt: now,
			})
		})
		if err != nil {
			s.log.Error().Err(err).Str("request_id", req.ID).Msg("Failed to flag overdue request")
			return flagged, err
		}
		if !marked {
			continue
		}

		flagged++
		s.eventManager.Emit("approval", &events.ApprovalEscalatedData{
			RequestID:   req.ID,
			SubmitterID: req.SubmitterID,
			Status:      string(req.Status),
			Level:       string(req.Level),
		})
	}

	if flagged > 0 {
		s.log.Info().Int("flagged", flagged).Msg("Overdue approval requests escalated")
	}
	return flagged, nil
}

// Get returns a request by id
func (s *Service) Get(ctx context.Context, requestID string) (*Request, error) {
	req, err := s.repo.GetRequest(ctx, nil, requestID)
	if err != nil {
		return nil, err
	}
	if req == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, requestID)
	}
	return req, nil
}

// History returns the action log of a request, oldest first
func (s *Service) History(ctx context.Context, requestID string) ([]ActionRecord, error) {
	if _, err := s.Get(ctx, requestID); err != nil {
		return nil, err
	}
	return s.repo.Actions(ctx, requestID)
}

// VerifyProjection replays the action log and compares the result with the
// cached status, level and overdue flag on the request row
func (s *Service) VerifyProjection(ctx context.Context, requestID string) (State, error) {
	req, err := s.Get(ctx, requestID)
	if err != nil {
		return State{}, err
	}
	w, err := s.workflow(ctx, req.WorkflowID)
	if err != nil {
		return State{}, err
	}
	actions, err := s.repo.Actions(ctx, requestID)
	if err != nil {
		return State{}, err
	}

	state, err := Replay(*w, actions)
	if err != nil {
		return state, err
	}
	if state != req.State() || len(actions) != req.Version {
		return state, fmt.Errorf("%w: row has %s/%s overdue=%t v%d, log gives %s/%s overdue=%t with %d actions",
			ErrProjectionMismatch, req.Status, req.Level, req.IsOverdue, req.Version,
			state.Status, state.Level, state.Overdue, len(actions))
	}
	return state, nil
}

// load reads a request and its workflow, enforcing an expected version if given
func (s *Service) load(ctx context.Context, requestID string, expectedVersion *int) (*Request, *Workflow, error) {
	req, err := s.Get(ctx, requestID)
	if err != nil {
		return nil, nil, err
	}
	if expectedVersion != nil && *expectedVersion != req.Version {
		return nil, nil, fmt.Errorf("%w: request %s is at version %d, expected %d",
			ErrStaleState, req.ID, req.Version, *expectedVersion)
	}
	w, err := s.workflow(ctx, req.WorkflowID)
	if err != nil {
		return nil, nil, err
	}
	return req, w, nil
}

// authorize checks the actor's authority at the request's current level. When the
// actor holds none of their own, an active delegation is returned for consumption.
func (s *Service) authorize(ctx context.Context, req *Request, actorID string) (*Delegation, error) {
	if actorID == "" {
		return nil, fmt.Errorf("%w: actor is required", ErrUnauthorizedAction)
	}

	chain, err := s.hierarchy.Ancestors(ctx, req.InstitutionID)
	if err != nil {
		return nil, err
	}
	ok, err := s.authz.CanActAtLevel(ctx, actorID, chain, req.Level)
	if err != nil {
		return nil, err
	}
	if ok {
		return nil, nil
	}

	d, err := s.repo.ActiveDelegation(ctx, req.ID, req.Level, actorID, s.now().UTC())
	if err != nil {
		return nil, err
	}
	if d == nil {
		s.log.Warn().
			Str("request_id", req.ID).
			Str("actor_id", actorID).
			Str("level", string(req.Level)).
			Msg("Approval action by actor without authority")
		return nil, fmt.Errorf("%w: %s has no authority at %s", ErrUnauthorizedAction, actorID, req.Level)
	}
	return d, nil
}

func (s *Service) logFailure(err error, msg, requestID string) {
	if database.IsStorageError(err) {
		s.log.Error().Err(err).Str("request_id", requestID).Msg(msg)
		return
	}
	s.log.Warn().Err(err).Str("request_id", requestID).Msg(msg)
}

func levelDeadline(w Workflow, from time.Time) *time.Time {
	if w.LevelDeadline <= 0 {
		return nil
	}
	t := from.Add(w.LevelDeadline)
	return &t
}
