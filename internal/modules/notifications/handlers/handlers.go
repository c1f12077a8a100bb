// Package handlers provides HTTP handlers for the current user's notifications.
package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/aristath/scholar/internal/auth"
	"github.com/aristath/scholar/internal/modules/notifications"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

// Handler handles notification HTTP requests
type Handler struct {
	dispatcher *notifications.Dispatcher
	log        zerolog.Logger
}

// NewHandler creates a new notifications handler
func NewHandler(dispatcher *notifications.Dispatcher, log zerolog.Logger) *Handler {
	return &Handler{
		dispatcher: dispatcher,
		log:        log.With().Str("handler", "notifications").Logger(),
	}
}

// RegisterRoutes registers all notification routes
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/notifications", func(r chi.Router) {
		r.Get("/", h.HandleList)
		r.Post("/{id}/read", h.HandleMarkRead)
	})
}

// HandleList handles GET /api/notifications
func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	userID := auth.SubjectFromContext(r.Context())
	if userID == "" {
		h.writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	list, err := h.dispatcher.List(r.Context(), userID, r.URL.Query().Get("unread") == "true")
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list notifications")
		h.writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if list == nil {
		list = []notifications.Notification{}
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"data": list,
		"metadata": map[string]interface{}{
			"timestamp": time.Now().Format(time.RFC3339),
			"count":     len(list),
		},
	})
}

// HandleMarkRead handles POST /api/notifications/{id}/read
func (h *Handler) HandleMarkRead(w http.ResponseWriter, r *http.Request) {
	userID := auth.SubjectFromContext(r.Context())
	if userID == "" {
		h.writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	ok, err := h.dispatcher.MarkRead(r.Context(), userID, chi.URLParam(r, "id"))
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to mark notification read")
		h.writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if !ok {
		h.writeError(w, http.StatusNotFound, "notification not found or already read")
		return
	}

	w.WriteHeader(http.StatusNoContent)
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
