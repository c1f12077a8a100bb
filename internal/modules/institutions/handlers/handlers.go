// Package handlers provides HTTP handlers for the institution hierarchy.
package handlers

import (
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

// Handler handles institution HTTP requests
type Handler struct {
	service  *institutions.Service
	authz    domain.AuthorityResolver
	validate *validator.Validate
	log      zerolog.Logger
}

// NewHandler creates a new institutions handler
func NewHandler(service *institutions.Service, authz domain.AuthorityResolver, log zerolog.Logger) *Handler {
	return &Handler{
		service:  service,
		authz:    authz,
		validate: validator.New(),
		log:      log.With().Str("handler", "institutions").Logger(),
	}
}

// CreateRequest is the body of POST /api/institutions
type CreateRequest struct {
	ID       string `json:"id"`
	ParentID string `json:"parent_id"`
	Level    string `json:"level" validate:"required,oneof=region sector school"`
	Name     string `json:"name" validate:"required,max=255"`
}

// RegisterRoutes registers all institution routes
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/institutions", func(r chi.Router) {
		r.Post("/", h.HandleCreate)
		r.Get("/{id}", h.HandleGet)
		r.Get("/{id}/children", h.HandleChildren)
		r.Get("/{id}/ancestors", h.HandleAncestors)
	})
}

// HandleCreate handles POST /api/institutions.
// The actor needs institution:write on the parent's tree; a new region needs a platform-wide grant.
func (h *Handler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	actorID := auth.SubjectFromContext(r.Context())
	if actorID == "" {
		h.writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	var req CreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var chain domain.Chain
	if req.ParentID != "" {
		var err error
		if chain, err = h.service.Ancestors(r.Context(), req.ParentID); err != nil {
			h.writeServiceError(w, err)
			return
		}
	}
	if !h.authorize(w, r, actorID, roles.PermInstitutionWrite, chain) {
		return
	}

	inst := domain.Institution{ID: req.ID, Level: domain.Level(req.Level), Name: req.Name}
	if req.ParentID != "" {
		inst.ParentID = &req.ParentID
	}

	created, err := h.service.Create(r.Context(), inst)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeData(w, http.StatusCreated, created)
}

// HandleGet handles GET /api/institutions/{id}
func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	if auth.SubjectFromContext(r.Context()) == "" {
		h.writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	inst, err := h.service.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeData(w, http.StatusOK, inst)
}

// HandleChildren handles GET /api/institutions/{id}/children
func (h *Handler) HandleChildren(w http.ResponseWriter, r *http.Request) {
	if auth.SubjectFromContext(r.Context()) == "" {
		h.writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	id := chi.URLParam(r, "id")
	if _, err := h.service.Get(r.Context(), id); err != nil {
		h.writeServiceError(w, err)
		return
	}
	children, err := h.service.Children(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	if children == nil {
		children = []domain.Institution{}
	}
	h.writeData(w, http.StatusOK, children)
}

// HandleAncestors handles GET /api/institutions/{id}/ancestors
func (h *Handler) HandleAncestors(w http.ResponseWriter, r *http.Request) {
	if auth.SubjectFromContext(r.Context()) == "" {
		h.writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	chain, err := h.service.Ancestors(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeData(w, http.StatusOK, chain)
}

func (h *Handler) authorize(w http.ResponseWriter, r *http.Request, actorID, perm string, chain domain.Chain) bool {
	ok, err := h.authz.HasPermissionAt(r.Context(), actorID, perm, chain)
	if err != nil {
		h.log.Error().Err(err).Str("actor_id", actorID).Msg("Permission lookup failed")
		h.writeError(w, http.StatusInternalServerError, "permission lookup failed")
		return false
	}
	if !ok {
		h.log.Warn().Str("actor_id", actorID).Str("permission", perm).Msg("Permission denied")
		h.writeError(w, http.StatusForbidden, "permission denied")
		return false
	}
	return true
}

func (h *Handler) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, institutions.ErrInvalidLevel), errors.Is(err, institutions.ErrInvalidParent):
		h.writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, institutions.ErrNotFound):
		h.writeError(w, http.StatusNotFound, err.Error())
	default:
		h.log.Error().Err(err).Msg("Institution request failed")
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
