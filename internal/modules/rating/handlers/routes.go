package handlers

import (
	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers all rating routes
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Put("/rating-configs", h.HandleSaveConfig)
	r.Get("/rating-configs/{institutionID}/{yearID}", h.HandleGetConfig)
	r.Put("/growth-bonus/{institutionID}", h.HandleSaveGrowthBonus)
	r.Put("/olympiad-configs", h.HandleSaveOlympiadConfig)
	r.Put("/certificate-scores", h.HandleSaveCertificateScore)
	r.Post("/academic-years", h.HandleCreateAcademicYear)

	r.Route("/teachers/{teacherID}", func(r chi.Router) {
		r.Put("/scores/{yearID}", h.HandleRecordScores)
		r.Post("/certificates", h.HandleRecordCertificate)
		r.Post("/olympiad-results", h.HandleRecordOlympiadResult)
	})

	r.Route("/ratings", func(r chi.Router) {
		r.Get("/", h.HandleList)
		r.Post("/compute", h.HandleCompute)
		r.Post("/manual", h.HandleManual)
		r.Get("/{id}", h.HandleGet)
		r.Post("/{id}/publish", h.HandlePublish)
		r.Post("/{id}/archive", h.HandleArchive)
		r.Post("/{id}/override", h.HandleOverride)
	})
}
