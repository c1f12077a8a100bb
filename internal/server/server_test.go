package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/aristath/scholar/internal/config"
	"github.com/aristath/scholar/internal/di"
	"github.com/aristath/scholar/internal/modules/roles"
	testutil "github.com/aristath/scholar/internal/testing"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testServer struct {
	server    *Server
	container *di.Container
	h         testutil.Hierarchy
}

func newTestServer(t *testing.T) testServer {
	t.Helper()
	log := zerolog.Nop()

	cfg := &config.Config{
		DataDir:              t.TempDir(),
		DBDriver:             "sqlite",
		Port:                 8080,
		JWTSecret:            "test-secret",
		JWTTTL:               time.Hour,
		OverdueSweepSchedule: "0 */5 * * * *",
		ApprovalDeadline:     72 * time.Hour,
	}

	container, err := di.InitializeDatabase(cfg, log)
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Close() })
	require.NoError(t, di.InitializeRepositories(container, log))
	require.NoError(t, di.InitializeServices(context.Background(), container, cfg, log))

	h := testutil.SeedHierarchy(t, container.DB)
	testutil.SeedRole(t, container.DB, "teacher-1", roles.RoleTeacher, h.SchoolID)
	testutil.SeedRole(t, container.DB, "principal", roles.RoleSchoolAdmin, h.SchoolID)

	return testServer{
		server:    New(Config{Log: log, Port: cfg.Port, DevMode: true, Container: container}),
		container: container,
		h:         h,
	}
}

func (ts testServer) do(t *testing.T, method, path, user string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if user != "" {
		token, err := ts.container.AuthService.IssueToken(user)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}

	w := httptest.NewRecorder()
	ts.server.Router().ServeHTTP(w, req)
	return w
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])
}

func TestAPI_RequiresBearerToken(t *testing.T) {
	ts := newTestServer(t)

	assert.Equal(t, http.StatusUnauthorized, ts.do(t, http.MethodGet, "/api/notifications", "", nil).Code)

	req := httptest.NewRequest(http.MethodGet, "/api/notifications", nil)
	req.Header.Set("Authorization", "Bearer not-a-token")
	w := httptest.NewRecorder()
	ts.server.Router().ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAPI_ApprovalNotifiesSubmitter(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, http.MethodPost, "/api/approvals", "teacher-1", map[string]interface{}{
		"subject_type":   "survey",
		"subject_id":     "survey-1",
		"institution_id": ts.h.SchoolID,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var submitted struct {
		Data struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &submitted))
	require.NotEmpty(t, submitted.Data.ID)

	w = ts.do(t, http.MethodPost, "/api/approvals/"+submitted.Data.ID+"/actions", "principal", map[string]interface{}{
		"action": "approve",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = ts.do(t, http.MethodGet, "/api/notifications", "teacher-1", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var list struct {
		Data []map[string]interface{} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.Len(t, list.Data, 1)
	assert.Equal(t, "teacher-1", list.Data[0]["recipient_id"])
}

func TestRoutes(t *testing.T) {
	ts := newTestServer(t)

	routes := map[string]bool{}
	err := chi.Walk(ts.server.router, func(method, route string, _ http.Handler, _ ...func(http.Handler) http.Handler) error {
		routes[method+" "+route] = true
		return nil
	})
	require.NoError(t, err)

	for _, want := range []string{
		"GET /health",
		"PUT /api/rating-configs",
		"POST /api/ratings/compute",
		"POST /api/ratings/{id}/publish",
		"POST /api/approvals/",
		"POST /api/approvals/{id}/actions",
		"POST /api/approvals/sweep",
		"GET /api/notifications/",
		"POST /api/institutions/",
		"GET /api/institutions/{id}/ancestors",
		"POST /api/role-assignments",
		"DELETE /api/role-assignments",
		"GET /api/users/{userID}/roles",
		"POST /api/academic-years",
		"PUT /api/teachers/{teacherID}/scores/{yearID}",
		"POST /api/teachers/{teacherID}/certificates",
		"POST /api/teachers/{teacherID}/olympiad-results",
		"GET /api/approval-workflows/{id}",
		"PUT /api/approval-workflows/{id}",
	} {
		assert.True(t, routes[want], "missing route %s", want)
	}
}

func TestAPI_RatingConfigWriteScopedToTree(t *testing.T) {
	ts := newTestServer(t)
	db := ts.container.DB

	testutil.SeedAcademicYear(t, db, "y1", "2023-2024", 2023)
	testutil.SeedInstitution(t, db, "region-2", "", "region", "Other Region")
	testutil.SeedInstitution(t, db, "sector-2", "region-2", "sector", "Other Sector")
	testutil.SeedRole(t, db, "foreign-head", roles.RoleSectorAdmin, "sector-2")

	config := func(institutionID string) map[string]interface{} {
		return map[string]interface{}{
			"institution_id":     institutionID,
			"academic_year_id":   "y1",
			"weights":            map[string]float64{"academic": 1},
			"year_weights":       map[string]float64{"2023-2024": 1},
			"calculation_method": "automatic",
		}
	}

	w := ts.do(t, http.MethodPut, "/api/rating-configs", "foreign-head", config(ts.h.RegionID))
	assert.Equal(t, http.StatusForbidden, w.Code, w.Body.String())

	w = ts.do(t, http.MethodPut, "/api/rating-configs", "foreign-head", config("sector-2"))
	assert.Equal(t, http.StatusOK, w.Code, w.Body.String())
}
