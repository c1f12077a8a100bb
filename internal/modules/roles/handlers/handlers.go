// Package handlers provides HTTP handlers for role assignments.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/aristath/scholar/internal/auth"
	"github.com/aristath/scholar/internal/domain"
	"github.com/aristath/scholar/internal/modules/institutions"
	"github.com/aristath/scholar/internal/modules/roles"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
)

// InstitutionLookup resolves an institution and its ancestors
type InstitutionLookup interface {
	Ancestors(ctx context.Context, institutionID string) (domain.Chain, error)
}

// Handler handles role assignment HTTP requests
type Handler struct {
	service      *roles.Service
	institutions InstitutionLookup
	authz        domain.AuthorityResolver
	validate     *validator.Validate
	log          zerolog.Logger
}

// NewHandler creates a new roles handler
func NewHandler(service *roles.Service, institutions InstitutionLookup, authz domain.AuthorityResolver, log zerolog.Logger) *Handler {
	return &Handler{
		service:      service,
		institutions: institutions,
		authz:        authz,
		validate:     validator.New(),
		log:          log.With().Str("handler", "roles").Logger(),
	}
}

// AssignmentRequest is the body of POST and DELETE /api/role-assignments
type AssignmentRequest struct {
	UserID        string `json:"user_id" validate:"required"`
	Role          string `json:"role" validate:"required"`
	InstitutionID string `json:"institution_id" validate:"required"`
}

// RegisterRoutes registers all role routes
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/role-assignments", h.HandleAssign)
	r.Delete("/role-assignments", h.HandleRevoke)
	r.Get("/users/{userID}/roles", h.HandleList)
}

// HandleAssign handles POST /api/role-assignments
func (h *Handler) HandleAssign(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeAssignment(w, r)
	if !ok {
		return
	}

	if err := h.service.Assign(r.Context(), req.UserID, req.Role, req.InstitutionID); err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeData(w, http.StatusCreated, req)
}

// HandleRevoke handles DELETE /api/role-assignments
func (h *Handler) HandleRevoke(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeAssignment(w, r)
	if !ok {
		return
	}

	if err := h.service.Revoke(r.Context(), req.UserID, req.Role, req.InstitutionID); err != nil {
		h.writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleList handles GET /api/users/{userID}/roles.
// Users may always list their own roles; others see only assignments they could change.
func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	actorID, ok := h.actor(w, r)
	if !ok {
		return
	}

	userID := chi.URLParam(r, "userID")
	self := actorID == userID
	if !self {
		can, err := h.authz.HasPermission(r.Context(), actorID, roles.PermRoleAssign)
		if err != nil {
			h.writeServiceError(w, err)
			return
		}
		if !can {
			h.deny(w, actorID)
			return
		}
	}

	all, err := h.service.List(r.Context(), userID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	assignments := []roles.Assignment{}
	for _, a := range all {
		if !self {
			can, err := h.canManage(r.Context(), actorID, a.InstitutionID)
			if err != nil {
				h.writeServiceError(w, err)
				return
			}
			if !can {
				continue
			}
		}
		assignments = append(assignments, a)
	}
	h.writeData(w, http.StatusOK, assignments)
}

// decodeAssignment reads the body and checks the actor may change roles on its institution
func (h *Handler) decodeAssignment(w http.ResponseWriter, r *http.Request) (AssignmentRequest, bool) {
	var req AssignmentRequest
	actorID, ok := h.actor(w, r)
	if !ok {
		return req, false
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return req, false
	}
	if err := h.validate.Struct(req); err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return req, false
	}

	can, err := h.canManage(r.Context(), actorID, req.InstitutionID)
	if err != nil {
		h.writeServiceError(w, err)
		return req, false
	}
	if !can {
		h.deny(w, actorID)
		return req, false
	}
	return req, true
}

func (h *Handler) actor(w http.ResponseWriter, r *http.Request) (string, bool) {
	actorID := auth.SubjectFromContext(r.Context())
	if actorID == "" {
		h.writeError(w, http.StatusUnauthorized, "authentication required")
		return "", false
	}
	return actorID, true
}

// canManage reports whether actorID may change roles on institutionID
func (h *Handler) canManage(ctx context.Context, actorID, institutionID string) (bool, error) {
	chain, err := h.institutions.Ancestors(ctx, institutionID)
	if err != nil {
		return false, err
	}
	return h.authz.HasPermissionAt(ctx, actorID, roles.PermRoleAssign, chain)
}

func (h *Handler) deny(w http.ResponseWriter, actorID string) {
	h.log.Warn().Str("actor_id", actorID).Msg("Role change denied")
	h.writeError(w, http.StatusForbidden, "permission denied")
}

func (h *Handler) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, roles.ErrUnknownRole):
		h.writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, institutions.ErrNotFound):
		h.writeError(w, http.StatusNotFound, err.Error())
	default:
		h.log.Error().Err(err).Msg("Role request failed")
		h.writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func (h *Handler) writeData(w http.ResponseWriter, status int, data interface{}) {
	h.writeJSON(w, status, map[string]interface{}{
		"data": data,
		"metadata": map[string]interface{}{
			"timestamp": time.Now().Format(time.RFC3339),
		},
	})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{
		"error": message,
	})
}
