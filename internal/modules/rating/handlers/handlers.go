// Package handlers provides HTTP handlers for rating configuration, computation and publication.
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
	"github.com/aristath/scholar/internal/modules/rating"
	"github.com/aristath/scholar/internal/modules/roles"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
)

// Authorizer answers the permission questions rating routes ask
type Authorizer interface {
	domain.AuthorityResolver
	// HoldsRole reports whether userID is assigned role on institutionID itself
	HoldsRole(ctx context.Context, userID, role, institutionID string) (bool, error)
}

// Handler handles rating HTTP requests
type Handler struct {
	service   *rating.Service
	hierarchy domain.HierarchyProvider
	authz     Authorizer
	validate  *validator.Validate
	log       zerolog.Logger
}

// NewHandler creates a new rating handler
func NewHandler(service *rating.Service, hierarchy domain.HierarchyProvider, authz Authorizer, log zerolog.Logger) *Handler {
	return &Handler{
		service:   service,
		hierarchy: hierarchy,
		authz:     authz,
		validate:  validator.New(),
		log:       log.With().Str("handler", "rating").Logger(),
	}
}

// SaveConfigRequest is the body of PUT /api/rating-configs
type SaveConfigRequest struct {
	InstitutionID  string                  `json:"institution_id" validate:"required"`
	AcademicYearID string                  `json:"academic_year_id" validate:"required"`
	Weights        rating.ComponentWeights `json:"weights"`
	YearWeights    map[string]float64      `json:"year_weights" validate:"required,min=1,dive,keys,required,endkeys,gte=0,lte=1"`
	Method         string                  `json:"calculation_method" validate:"required,oneof=automatic manual hybrid"`
	NewVersion     bool                    `json:"new_version"`
}

// GrowthBonusRangeRequest is one range in PUT /api/growth-bonus/{institutionID}
type GrowthBonusRangeRequest struct {
	MinThreshold float64  `json:"threshold_min"`
	MaxThreshold *float64 `json:"threshold_max"`
	BonusScore   float64  `json:"bonus_score" validate:"gte=0,lte=100"`
}

// GrowthBonusRequest is the body of PUT /api/growth-bonus/{institutionID}
type GrowthBonusRequest struct {
	Ranges []GrowthBonusRangeRequest `json:"ranges" validate:"dive"`
}

// OlympiadConfigRequest is the body of PUT /api/olympiad-configs
type OlympiadConfigRequest struct {
	Level        string  `json:"level" validate:"required,oneof=rayon region country international"`
	Placement    int     `json:"placement" validate:"min=1"`
	BaseScore    float64 `json:"base_score" validate:"gte=0"`
	StudentBonus float64 `json:"student_bonus" validate:"gte=0"`
}

// CertificateScoreRequest is the body of PUT /api/certificate-scores
type CertificateScoreRequest struct {
	Category string  `json:"category" validate:"required"`
	Level    string  `json:"level" validate:"required"`
	Score    float64 `json:"score" validate:"gte=0,lte=100"`
}

// ComputeRequest is the body of POST /api/ratings/compute
type ComputeRequest struct {
	TeacherID       string   `json:"teacher_id" validate:"required"`
	InstitutionID   string   `json:"institution_id" validate:"required"`
	AcademicYearIDs []string `json:"academic_year_ids" validate:"required,min=1,dive,required"`
}

// ManualRatingRequest is the body of POST /api/ratings/manual
type ManualRatingRequest struct {
	TeacherID      string  `json:"teacher_id" validate:"required"`
	InstitutionID  string  `json:"institution_id" validate:"required"`
	AcademicYearID string  `json:"academic_year_id" validate:"required"`
	Score          float64 `json:"score" validate:"gte=0,lte=100"`
	Reason         string  `json:"reason" validate:"required"`
}

// OverrideRequest is the body of POST /api/ratings/{id}/override
type OverrideRequest struct {
	Score  float64 `json:"score" validate:"gte=0,lte=100"`
	Reason string  `json:"reason" validate:"required"`
}

// AcademicYearRequest is the body of POST /api/academic-years
type AcademicYearRequest struct {
	ID       string    `json:"id"`
	Label    string    `json:"label" validate:"required"`
	StartsAt time.Time `json:"starts_at"`
}

// ScoresRequest is the body of PUT /api/teachers/{teacherID}/scores/{yearID}
type ScoresRequest struct {
	InstitutionID string             `json:"institution_id" validate:"required"`
	Scores        map[string]float64 `json:"scores" validate:"required,min=1,dive,keys,oneof=academic observation assessment award,endkeys,gte=0,lte=100"`
}

// CertificateRequest is the body of POST /api/teachers/{teacherID}/certificates
type CertificateRequest struct {
	InstitutionID  string `json:"institution_id" validate:"required"`
	AcademicYearID string `json:"academic_year_id" validate:"required"`
	Category       string `json:"category" validate:"required"`
	Level          string `json:"level" validate:"required"`
}

// OlympiadResultRequest is the body of POST /api/teachers/{teacherID}/olympiad-results
type OlympiadResultRequest struct {
	InstitutionID  string `json:"institution_id" validate:"required"`
	AcademicYearID string `json:"academic_year_id" validate:"required"`
	Level          string `json:"level" validate:"required,oneof=rayon region country international"`
	Placement      int    `json:"placement" validate:"min=1"`
	ExtraStudents  int    `json:"extra_students" validate:"min=0"`
}

// HandleSaveConfig handles PUT /api/rating-configs
func (h *Handler) HandleSaveConfig(w http.ResponseWriter, r *http.Request) {
	actorID, ok := h.actor(w, r)
	if !ok {
		return
	}

	var req SaveConfigRequest
	if !h.decode(w, r, &req) {
		return
	}
	if !h.authorize(w, r, actorID, roles.PermRatingConfigWrite, req.InstitutionID) {
		return
	}

	cfg, err := h.service.SaveConfig(r.Context(), rating.Config{
		InstitutionID:  req.InstitutionID,
		AcademicYearID: req.AcademicYearID,
		Weights:        req.Weights,
		YearWeights:    req.YearWeights,
		Method:         rating.CalculationMethod(req.Method),
	}, rating.SaveOptions{NewVersion: req.NewVersion})
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	h.writeData(w, http.StatusOK, cfg)
}

// HandleGetConfig handles GET /api/rating-configs/{institutionID}/{yearID}
func (h *Handler) HandleGetConfig(w http.ResponseWriter, r *http.Request) {
	actorID, ok := h.actor(w, r)
	if !ok {
		return
	}
	institutionID := chi.URLParam(r, "institutionID")
	if !h.authorize(w, r, actorID, roles.PermRatingView, institutionID) {
		return
	}

	cfg, err := h.service.ActiveConfig(r.Context(), institutionID, chi.URLParam(r, "yearID"))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	h.writeData(w, http.StatusOK, cfg)
}

// HandleSaveGrowthBonus handles PUT /api/growth-bonus/{institutionID}
func (h *Handler) HandleSaveGrowthBonus(w http.ResponseWriter, r *http.Request) {
	actorID, ok := h.actor(w, r)
	if !ok {
		return
	}
	institutionID := chi.URLParam(r, "institutionID")
	if !h.authorize(w, r, actorID, roles.PermRatingConfigWrite, institutionID) {
		return
	}

	var req GrowthBonusRequest
	if !h.decode(w, r, &req) {
		return
	}

	ranges := make([]rating.GrowthBonusRange, len(req.Ranges))
	for i, gr := range req.Ranges {
		ranges[i] = rating.GrowthBonusRange{
			MinThreshold: gr.MinThreshold,
			MaxThreshold: gr.MaxThreshold,
			BonusScore:   gr.BonusScore,
		}
	}

	if err := h.service.SaveGrowthBonusRanges(r.Context(), institutionID, ranges); err != nil {
		h.writeServiceError(w, err)
		return
	}

	h.writeData(w, http.StatusOK, map[string]interface{}{
		"institution_id": institutionID,
		"ranges":         ranges,
	})
}

// HandleSaveOlympiadConfig handles PUT /api/olympiad-configs
func (h *Handler) HandleSaveOlympiadConfig(w http.ResponseWriter, r *http.Request) {
	actorID, ok := h.actor(w, r)
	if !ok {
		return
	}
	if !h.authorize(w, r, actorID, roles.PermRatingTablesWrite, "") {
		return
	}

	var req OlympiadConfigRequest
	if !h.decode(w, r, &req) {
		return
	}

	cfg := rating.OlympiadLevelConfig{
		Level:        rating.OlympiadLevel(req.Level),
		Placement:    req.Placement,
		BaseScore:    req.BaseScore,
		StudentBonus: req.StudentBonus,
	}
	if err := h.service.SaveOlympiadConfig(r.Context(), cfg); err != nil {
		h.writeServiceError(w, err)
		return
	}

	h.writeData(w, http.StatusOK, cfg)
}

// HandleSaveCertificateScore handles PUT /api/certificate-scores
func (h *Handler) HandleSaveCertificateScore(w http.ResponseWriter, r *http.Request) {
	actorID, ok := h.actor(w, r)
	if !ok {
		return
	}
	if !h.authorize(w, r, actorID, roles.PermRatingTablesWrite, "") {
		return
	}

	var req CertificateScoreRequest
	if !h.decode(w, r, &req) {
		return
	}

	cs := rating.CertificateScore{Category: req.Category, Level: req.Level, Score: req.Score}
	if err := h.service.SaveCertificateScore(r.Context(), cs); err != nil {
		h.writeServiceError(w, err)
		return
	}

	h.writeData(w, http.StatusOK, cs)
}

// HandleCompute handles POST /api/ratings/compute
func (h *Handler) HandleCompute(w http.ResponseWriter, r *http.Request) {
	actorID, ok := h.actor(w, r)
	if !ok {
		return
	}

	var req ComputeRequest
	if !h.decode(w, r, &req) {
		return
	}
	if !h.authorize(w, r, actorID, roles.PermRatingCompute, req.InstitutionID) {
		return
	}

	rt, err := h.service.ComputeRating(r.Context(), req.TeacherID, req.InstitutionID, req.AcademicYearIDs)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	h.writeData(w, http.StatusOK, rt)
}

// HandleManual handles POST /api/ratings/manual
func (h *Handler) HandleManual(w http.ResponseWriter, r *http.Request) {
	actorID, ok := h.actor(w, r)
	if !ok {
		return
	}

	var req ManualRatingRequest
	if !h.decode(w, r, &req) {
		return
	}
	if !h.authorize(w, r, actorID, roles.PermRatingOverride, req.InstitutionID) {
		return
	}

	rt, err := h.service.SetManualRating(r.Context(), rating.ManualRatingRequest{
		TeacherID:      req.TeacherID,
		InstitutionID:  req.InstitutionID,
		AcademicYearID: req.AcademicYearID,
		Score:          req.Score,
		ActorID:        actorID,
		Reason:         req.Reason,
	})
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	h.writeData(w, http.StatusOK, rt)
}

// HandleList handles GET /api/ratings?teacher_id=.
// Teachers see all their own ratings; others see those of institutions they may view.
func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	actorID, ok := h.actor(w, r)
	if !ok {
		return
	}

	teacherID := r.URL.Query().Get("teacher_id")
	if teacherID == "" {
		h.writeError(w, http.StatusBadRequest, "teacher_id is required")
		return
	}

	all, err := h.service.ListForTeacher(r.Context(), teacherID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	ratings := []rating.Rating{}
	visible := make(map[string]bool)
	for _, rt := range all {
		if actorID != teacherID {
			allowed, seen := visible[rt.InstitutionID]
			if !seen {
				allowed, err = h.permitted(r.Context(), actorID, roles.PermRatingView, rt.InstitutionID)
				if err != nil {
					h.writeServiceError(w, err)
					return
				}
				visible[rt.InstitutionID] = allowed
			}
			if !allowed {
				continue
			}
		}
		ratings = append(ratings, rt)
	}

	h.writeData(w, http.StatusOK, ratings)
}

// HandleGet handles GET /api/ratings/{id}
func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	rt, ok := h.loadRating(w, r, roles.PermRatingView)
	if !ok {
		return
	}

	h.writeData(w, http.StatusOK, rt)
}

// HandlePublish handles POST /api/ratings/{id}/publish
func (h *Handler) HandlePublish(w http.ResponseWriter, r *http.Request) {
	current, ok := h.loadRating(w, r, roles.PermRatingPublish)
	if !ok {
		return
	}

	rt, err := h.service.Publish(r.Context(), current.ID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	h.writeData(w, http.StatusOK, rt)
}

// HandleArchive handles POST /api/ratings/{id}/archive
func (h *Handler) HandleArchive(w http.ResponseWriter, r *http.Request) {
	current, ok := h.loadRating(w, r, roles.PermRatingPublish)
	if !ok {
		return
	}

	rt, err := h.service.Archive(r.Context(), current.ID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	h.writeData(w, http.StatusOK, rt)
}

// HandleOverride handles POST /api/ratings/{id}/override
func (h *Handler) HandleOverride(w http.ResponseWriter, r *http.Request) {
	current, ok := h.loadRating(w, r, roles.PermRatingOverride)
	if !ok {
		return
	}

	var req OverrideRequest
	if !h.decode(w, r, &req) {
		return
	}

	actorID := auth.SubjectFromContext(r.Context())
	rt, err := h.service.OverrideScore(r.Context(), current.ID, req.Score, actorID, req.Reason)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	h.writeData(w, http.StatusOK, rt)
}

// HandleCreateAcademicYear handles POST /api/academic-years
func (h *Handler) HandleCreateAcademicYear(w http.ResponseWriter, r *http.Request) {
	actorID, ok := h.actor(w, r)
	if !ok {
		return
	}
	if !h.authorize(w, r, actorID, roles.PermAcademicYearWrite, "") {
		return
	}

	var req AcademicYearRequest
	if !h.decode(w, r, &req) {
		return
	}

	y, err := h.service.CreateAcademicYear(r.Context(), rating.AcademicYear{ID: req.ID, Label: req.Label, StartsAt: req.StartsAt})
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	h.writeData(w, http.StatusCreated, y)
}

// HandleRecordScores handles PUT /api/teachers/{teacherID}/scores/{yearID}
func (h *Handler) HandleRecordScores(w http.ResponseWriter, r *http.Request) {
	actorID, ok := h.actor(w, r)
	if !ok {
		return
	}

	var req ScoresRequest
	if !h.decode(w, r, &req) {
		return
	}
	teacherID := chi.URLParam(r, "teacherID")
	if !h.authorizeTeacher(w, r, actorID, teacherID, req.InstitutionID) {
		return
	}

	scores := make(map[rating.Component]float64, len(req.Scores))
	for c, score := range req.Scores {
		scores[rating.Component(c)] = score
	}

	yearID := chi.URLParam(r, "yearID")
	if err := h.service.RecordScores(r.Context(), teacherID, yearID, scores); err != nil {
		h.writeServiceError(w, err)
		return
	}

	h.writeData(w, http.StatusOK, map[string]interface{}{
		"teacher_id":       teacherID,
		"academic_year_id": yearID,
		"scores":           req.Scores,
	})
}

// HandleRecordCertificate handles POST /api/teachers/{teacherID}/certificates
func (h *Handler) HandleRecordCertificate(w http.ResponseWriter, r *http.Request) {
	actorID, ok := h.actor(w, r)
	if !ok {
		return
	}

	var req CertificateRequest
	if !h.decode(w, r, &req) {
		return
	}
	teacherID := chi.URLParam(r, "teacherID")
	if !h.authorizeTeacher(w, r, actorID, teacherID, req.InstitutionID) {
		return
	}

	cert := rating.Certificate{Category: req.Category, Level: req.Level}
	if err := h.service.RecordCertificate(r.Context(), teacherID, req.AcademicYearID, cert); err != nil {
		h.writeServiceError(w, err)
		return
	}

	h.writeData(w, http.StatusCreated, cert)
}

// HandleRecordOlympiadResult handles POST /api/teachers/{teacherID}/olympiad-results
func (h *Handler) HandleRecordOlympiadResult(w http.ResponseWriter, r *http.Request) {
	actorID, ok := h.actor(w, r)
	if !ok {
		return
	}

	var req OlympiadResultRequest
	if !h.decode(w, r, &req) {
		return
	}
	teacherID := chi.URLParam(r, "teacherID")
	if !h.authorizeTeacher(w, r, actorID, teacherID, req.InstitutionID) {
		return
	}

	result := rating.OlympiadResult{
		Level:         rating.OlympiadLevel(req.Level),
		Placement:     req.Placement,
		ExtraStudents: req.ExtraStudents,
	}
	if err := h.service.RecordOlympiadResult(r.Context(), teacherID, req.AcademicYearID, result); err != nil {
		h.writeServiceError(w, err)
		return
	}

	h.writeData(w, http.StatusCreated, result)
}

// actor returns the authenticated user or writes 401
func (h *Handler) actor(w http.ResponseWriter, r *http.Request) (string, bool) {
	actorID := auth.SubjectFromContext(r.Context())
	if actorID == "" {
		h.writeError(w, http.StatusUnauthorized, "authentication required")
		return "", false
	}
	return actorID, true
}

// permitted checks perm against institutionID and its ancestors.
// An empty institutionID asks for a platform-wide grant.
func (h *Handler) permitted(ctx context.Context, actorID, perm, institutionID string) (bool, error) {
	var chain domain.Chain
	if institutionID != "" {
		var err error
		chain, err = h.hierarchy.Ancestors(ctx, institutionID)
		if err != nil {
			return false, err
		}
	}
	return h.authz.HasPermissionAt(ctx, actorID, perm, chain)
}

// authorize writes 403 (or 404 for an unknown institution) and returns false
// when actorID lacks perm on institutionID
func (h *Handler) authorize(w http.ResponseWriter, r *http.Request, actorID, perm, institutionID string) bool {
	ok, err := h.permitted(r.Context(), actorID, perm, institutionID)
	if err != nil {
		h.writeServiceError(w, err)
		return false
	}
	if !ok {
		h.log.Warn().
			Str("actor_id", actorID).
			Str("permission", perm).
			Str("institution_id", institutionID).
			Msg("Permission denied")
		h.writeError(w, http.StatusForbidden, "permission denied")
		return false
	}
	return true
}

// authorizeTeacher checks the actor may record inputs at institutionID
// and that teacherID teaches there
func (h *Handler) authorizeTeacher(w http.ResponseWriter, r *http.Request, actorID, teacherID, institutionID string) bool {
	if !h.authorize(w, r, actorID, roles.PermRatingRecord, institutionID) {
		return false
	}
	teaches, err := h.authz.HoldsRole(r.Context(), teacherID, roles.RoleTeacher, institutionID)
	if err != nil {
		h.writeServiceError(w, err)
		return false
	}
	if !teaches {
		h.writeError(w, http.StatusNotFound, "teacher "+teacherID+" not found at institution "+institutionID)
		return false
	}
	return true
}

// loadRating loads the rating named in the URL and checks perm on its institution.
// A teacher may always view their own rating.
func (h *Handler) loadRating(w http.ResponseWriter, r *http.Request, perm string) (*rating.Rating, bool) {
	actorID, ok := h.actor(w, r)
	if !ok {
		return nil, false
	}

	rt, err := h.service.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeServiceError(w, err)
		return nil, false
	}
	if perm == roles.PermRatingView && rt.TeacherID == actorID {
		return rt, true
	}
	if !h.authorize(w, r, actorID, perm, rt.InstitutionID) {
		return nil, false
	}
	return rt, true
}

// decode parses and validates a JSON body, writing 400 on failure
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		h.log.Debug().Err(err).Msg("Failed to decode request body")
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return false
	}
	return true
}

// writeServiceError maps domain errors to status codes
func (h *Handler) writeServiceError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, rating.ErrInvalidWeights),
		errors.Is(err, rating.ErrInvalidConfig),
		errors.Is(err, rating.ErrOverlappingRanges),
		errors.Is(err, rating.ErrUnknownOlympiadConfig),
		errors.Is(err, rating.ErrInvalidScore),
		errors.Is(err, rating.ErrInvalidInput),
		errors.Is(err, rating.ErrManualRating),
		errors.Is(err, rating.ErrOverrideNotAllowed),
		errors.Is(err, rating.ErrNoData):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, rating.ErrNotFound),
		errors.Is(err, rating.ErrConfigNotFound),
		errors.Is(err, institutions.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, rating.ErrConfigLocked),
		errors.Is(err, rating.ErrInvalidStatus),
		errors.Is(err, rating.ErrYearExists):
		status = http.StatusConflict
	}

	if status == http.StatusInternalServerError {
		h.log.Error().Err(err).Msg("Rating request failed")
		h.writeError(w, status, "internal error")
		return
	}
	h.writeError(w, status, err.Error())
}

// writeData writes the standard data/metadata envelope
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
