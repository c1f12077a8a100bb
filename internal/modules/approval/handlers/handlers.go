// Package handlers provides HTTP handlers for approval requests.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/aristath/scholar/internal/auth"
	"github.com/aristath/scholar/internal/domain"
	"github.com/aristath/scholar/internal/modules/approval"
	"github.com/aristath/scholar/internal/modules/institutions"
	"github.com/aristath/scholar/internal/modules/roles"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
)

// Handler handles approval HTTP requests
type Handler struct {
	service   *approval.Service
	hierarchy domain.HierarchyProvider
	authz     domain.AuthorityResolver
	validate  *validator.Validate
	log       zerolog.Logger
}

// NewHandler creates a new approval handler
func NewHandler(service *approval.Service, hierarchy domain.HierarchyProvider, authz domain.AuthorityResolver, log zerolog.Logger) *Handler {
	return &Handler{
		service:   service,
		hierarchy: hierarchy,
		authz:     authz,
		validate:  validator.New(),
		log:       log.With().Str("handler", "approval").Logger(),
	}
}

// SubmitRequest is the body of POST /api/approvals
type SubmitRequest struct {
	SubjectType   string `json:"subject_type" validate:"required,oneof=survey task teacher_profile_edit"`
	SubjectID     string `json:"subject_id" validate:"required"`
	OwnerID       string `json:"owner_id"`
	InstitutionID string `json:"institution_id" validate:"required"`
	WorkflowID    string `json:"workflow_id"`
}

// ActionRequest is the body of POST /api/approvals/{id}/actions
type ActionRequest struct {
	Action          string `json:"action" validate:"required,oneof=approve reject return"`
	Comment         string `json:"comment" validate:"required_if=Action reject"`
	ExpectedVersion *int   `json:"expected_version" validate:"omitempty,min=1"`
}

// DelegationRequest is the body of POST /api/approvals/{id}/delegations
type DelegationRequest struct {
	DelegateID      string    `json:"delegate_id" validate:"required"`
	ExpiresAt       time.Time `json:"expires_at" validate:"required"`
	Comment         string    `json:"comment"`
	ExpectedVersion *int      `json:"expected_version" validate:"omitempty,min=1"`
}

// WorkflowRequest is the body of PUT /api/approval-workflows/{id}
type WorkflowRequest struct {
	Levels        []string `json:"levels" validate:"required,min=1,dive,oneof=school sector region"`
	ReturnPolicy  string   `json:"return_policy" validate:"required,oneof=restart resume"`
	DeadlineHours int      `json:"level_deadline_hours" validate:"min=1"`
}

// HandleSubmit handles POST /api/approvals. The submitter needs approval:submit
// on the subject's institution or one of its ancestors.
func (h *Handler) HandleSubmit(w http.ResponseWriter, r *http.Request) {
	actorID, ok := h.authenticate(w, r)
	if !ok {
		return
	}

	var req SubmitRequest
	if !h.decode(w, r, &req) {
		return
	}

	chain, err := h.hierarchy.Ancestors(r.Context(), req.InstitutionID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	if !h.authorizeAt(w, r, actorID, roles.PermApprovalSubmit, chain) {
		return
	}

	owner := req.OwnerID
	if owner == "" {
		owner = actorID
	}
	subject, err := approval.NewSubject(req.SubjectType, req.SubjectID, owner, req.InstitutionID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	created, err := h.service.Submit(r.Context(), subject, req.WorkflowID, actorID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	h.writeData(w, http.StatusCreated, created)
}

// HandleGet handles GET /api/approvals/{id}
func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.authenticate(w, r); !ok {
		return
	}

	req, err := h.service.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	h.writeData(w, http.StatusOK, req)
}

// HandleHistory handles GET /api/approvals/{id}/actions
func (h *Handler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.authenticate(w, r); !ok {
		return
	}

	actions, err := h.service.History(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	if actions == nil {
		actions = []approval.ActionRecord{}
	}

	h.writeData(w, http.StatusOK, actions)
}

// HandleVerify handles GET /api/approvals/{id}/projection
func (h *Handler) HandleVerify(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.authenticate(w, r); !ok {
		return
	}

	state, err := h.service.VerifyProjection(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	h.writeData(w, http.StatusOK, map[string]interface{}{
		"current_status":         state.Status,
		"current_approval_level": state.Level,
		"is_overdue":             state.Overdue,
		"consistent":             true,
	})
}

// HandleAct handles POST /api/approvals/{id}/actions.
// Authority is checked against the request's current level by the service.
func (h *Handler) HandleAct(w http.ResponseWriter, r *http.Request) {
	actorID, ok := h.authenticate(w, r)
	if !ok {
		return
	}

	var req ActionRequest
	if !h.decode(w, r, &req) {
		return
	}

	updated, err := h.service.Act(r.Context(), approval.ActRequest{
		RequestID:       chi.URLParam(r, "id"),
		ActorID:         actorID,
		Action:          approval.Action(req.Action),
		Comment:         req.Comment,
		ExpectedVersion: req.ExpectedVersion,
	})
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	h.writeData(w, http.StatusOK, updated)
}

// HandleDelegate handles POST /api/approvals/{id}/delegations
func (h *Handler) HandleDelegate(w http.ResponseWriter, r *http.Request) {
	actorID, ok := h.authenticate(w, r)
	if !ok {
		return
	}

	var req DelegationRequest
	if !h.decode(w, r, &req) {
		return
	}

	d, err := h.service.Delegate(r.Context(), approval.DelegateRequest{
		RequestID:       chi.URLParam(r, "id"),
		DelegatorID:     actorID,
		DelegateID:      req.DelegateID,
		ExpiresAt:       req.ExpiresAt,
		Comment:         req.Comment,
		ExpectedVersion: req.ExpectedVersion,
	})
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	h.writeData(w, http.StatusCreated, d)
}

// HandleSweep handles POST /api/approvals/sweep
func (h *Handler) HandleSweep(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.authorize(w, r, roles.PermApprovalSweep); !ok {
		return
	}

	n, err := h.service.SweepOverdue(r.Context(), time.Now())
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	h.writeData(w, http.StatusOK, map[string]interface{}{
		"flagged": n,
	})
}

// HandleGetWorkflow handles GET /api/approval-workflows/{id}
func (h *Handler) HandleGetWorkflow(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.authenticate(w, r); !ok {
		return
	}

	wf, err := h.service.Workflow(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	h.writeData(w, http.StatusOK, workflowResponse(wf))
}

// HandleSaveWorkflow handles PUT /api/approval-workflows/{id}
func (h *Handler) HandleSaveWorkflow(w http.ResponseWriter, r *http.Request) {
	actorID, ok := h.authenticate(w, r)
	if !ok {
		return
	}
	if !h.authorizeAt(w, r, actorID, roles.PermWorkflowWrite, nil) {
		return
	}

	var req WorkflowRequest
	if !h.decode(w, r, &req) {
		return
	}

	wf := approval.Workflow{
		ID:            chi.URLParam(r, "id"),
		ReturnPolicy:  approval.ReturnPolicy(req.ReturnPolicy),
		LevelDeadline: time.Duration(req.DeadlineHours) * time.Hour,
	}
	for _, l := range req.Levels {
		wf.Levels = append(wf.Levels, domain.Level(l))
	}

	if err := h.service.SaveWorkflow(r.Context(), wf); err != nil {
		h.writeServiceError(w, err)
		return
	}

	h.writeData(w, http.StatusOK, workflowResponse(&wf))
}

func workflowResponse(wf *approval.Workflow) map[string]interface{} {
	return map[string]interface{}{
		"id":                   wf.ID,
		"levels":               wf.Levels,
		"return_policy":        wf.ReturnPolicy,
		"level_deadline_hours": int(wf.LevelDeadline / time.Hour),
	}
}

// authenticate returns the acting user or writes 401
func (h *Handler) authenticate(w http.ResponseWriter, r *http.Request) (string, bool) {
	actorID := auth.SubjectFromContext(r.Context())
	if actorID == "" {
		h.writeError(w, http.StatusUnauthorized, "authentication required")
		return "", false
	}
	return actorID, true
}

// authorize returns the acting user if they hold perm anywhere, otherwise writes 401/403
func (h *Handler) authorize(w http.ResponseWriter, r *http.Request, perm string) (string, bool) {
	actorID, ok := h.authenticate(w, r)
	if !ok {
		return "", false
	}

	allowed, err := h.authz.HasPermission(r.Context(), actorID, perm)
	if err != nil {
		h.log.Error().Err(err).Str("actor_id", actorID).Msg("Permission lookup failed")
		h.writeError(w, http.StatusInternalServerError, "permission lookup failed")
		return "", false
	}
	if !allowed {
		h.log.Warn().Str("actor_id", actorID).Str("permission", perm).Msg("Permission denied")
		h.writeError(w, http.StatusForbidden, "permission denied")
		return "", false
	}
	return actorID, true
}

// authorizeAt writes 403 unless actorID holds perm on an institution of chain.
// A nil chain asks for a platform-wide grant.
func (h *Handler) authorizeAt(w http.ResponseWriter, r *http.Request, actorID, perm string, chain domain.Chain) bool {
	allowed, err := h.authz.HasPermissionAt(r.Context(), actorID, perm, chain)
	if err != nil {
		h.log.Error().Err(err).Str("actor_id", actorID).Msg("Permission lookup failed")
		h.writeError(w, http.StatusInternalServerError, "permission lookup failed")
		return false
	}
	if !allowed {
		h.log.Warn().Str("actor_id", actorID).Str("permission", perm).Msg("Permission denied")
		h.writeError(w, http.StatusForbidden, "permission denied")
		return false
	}
	return true
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return false
	}
	return true
}

func (h *Handler) writeServiceError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, approval.ErrStaleState),
		errors.Is(err, approval.ErrProjectionMismatch):
		status = http.StatusConflict
	case errors.Is(err, approval.ErrUnauthorizedAction):
		status = http.StatusForbidden
	case errors.Is(err, approval.ErrInvalidTransition),
		errors.Is(err, approval.ErrCommentRequired),
		errors.Is(err, approval.ErrInvalidSubject),
		errors.Is(err, approval.ErrInvalidDelegation),
		errors.Is(err, approval.ErrInvalidWorkflow):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, approval.ErrNotFound),
		errors.Is(err, approval.ErrWorkflowNotFound),
		errors.Is(err, institutions.ErrNotFound):
		status = http.StatusNotFound
	}

	if status == http.StatusInternalServerError {
		h.log.Error().Err(err).Msg("Approval request failed")
		h.writeError(w, status, "internal error")
		return
	}
	h.writeError(w, status, err.Error())
}

func (h *Handler) writeData(w http.ResponseWriter, status int, data interface{}) {
	h.writeJSON(w, status, map[string]interface{}{
		"data": data,
		"metadata": map[string]interface{}{
			"timestamp": time.Now().Format(time.RFC3339),
		},
	})
}

// writeJSON writes a JSON response
func (h *Handler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

// writeError writes an error response
func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{
		"error": message,
	})
}
