package handlers

import (
	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers all approval routes
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/approvals", func(r chi.Router) {
		r.Post("/", h.HandleSubmit)
		r.Post("/sweep", h.HandleSweep)
		r.Get("/{id}", h.HandleGet)
		r.Get("/{id}/actions", h.HandleHistory)
		r.Post("/{id}/actions", h.HandleAct)
		r.Post("/{id}/delegations", h.HandleDelegate)
		r.Get("/{id}/projection", h.HandleVerify)
	})

	r.Get("/approval-workflows/{id}", h.HandleGetWorkflow)
	r.Put("/approval-workflows/{id}", h.HandleSaveWorkflow)
}
