package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/MarcoPoloResearchLab/villagewatch/internal/alerts"
	"github.com/MarcoPoloResearchLab/villagewatch/internal/auth"
	"github.com/MarcoPoloResearchLab/villagewatch/internal/models"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type routerFixture struct {
	handler http.Handler
	alerts  *stubAlertWorkflow
	ledger  *stubLedger
}

func newRouterFixture(t *testing.T, caller models.User, workflowErr error) routerFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)
	workflow := &stubAlertWorkflow{
		err: workflowErr,
		createResult: alerts.CreateAlertResult{
			Alert:        models.Alert{ID: "alert-1", Status: models.AlertStatusActive},
			RecipientIDs: []string{"user-1"},
			Delivered:    1,
		},
	}
	ledger := &stubLedger{unread: 3, deliveries: []models.AlertDelivery{{ID: "d-1", AlertID: "alert-1", UserID: caller.ID}}}
	handler, err := NewHTTPHandler(Dependencies{
		Sessions:  stubSessionValidator{claims: auth.SessionClaims{UserID: caller.ID}},
		Directory: stubDirectory{users: map[string]models.User{caller.ID: caller}, villages: []models.Village{{ID: "v1", Name: "Agios"}}},
		Alerts:    workflow,
		Ledger:    ledger,
		Incidents: stubIncidents{},
		Realtime:  stubRealtime{},
		Metrics: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte("villagewatch_up 1\n"))
		}),
	})
	require.NoError(t, err)
	return routerFixture{handler: handler, alerts: workflow, ledger: ledger}
}

func (f routerFixture) do(method, path, body string) *httptest.ResponseRecorder {
	request := httptest.NewRequest(method, path, strings.NewReader(body))
	request.Header.Set("Content-Type", "application/json")
	recorder := httptest.NewRecorder()
	f.handler.ServeHTTP(recorder, request)
	return recorder
}

func TestCreateAlertRouteReturnsCreated(t *testing.T) {
	admin := models.User{ID: "admin-1", IsVillageAdmin: true, VillageID: ptr("v1")}
	fixture := newRouterFixture(t, admin, nil)

	recorder := fixture.do(http.MethodPost, "/api/alerts",
		`{"type":"warning","title":"Flood","message":"Move uphill","target_villages":["v1","v2"],"send_sms":true}`)

	require.Equal(t, http.StatusCreated, recorder.Code)
	var payload map[string]any
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &payload))
	assert.Equal(t, float64(1), payload["delivered"])
	assert.Equal(t, []any{"user-1"}, payload["recipient_ids"])
	assert.Equal(t, admin.ID, fixture.alerts.createCaller.ID)
	assert.Equal(t, []string{"v1", "v2"}, fixture.alerts.createInput.TargetVillages)
	assert.True(t, fixture.alerts.createInput.SendSms)
}

func TestCreateAlertRouteRejectsMalformedBody(t *testing.T) {
	fixture := newRouterFixture(t, models.User{ID: "admin-1", IsSystemAdmin: true}, nil)

	recorder := fixture.do(http.MethodPost, "/api/alerts", `{"title":`)

	assert.Equal(t, http.StatusBadRequest, recorder.Code)
	assert.Equal(t, `{"error":"invalid_request"}`, recorder.Body.String())
}

func TestAdminRoutesRejectResidentBeforeReadingBody(t *testing.T) {
	for _, path := range []string{"/api/alerts", "/api/sms-alerts"} {
		t.Run(path, func(t *testing.T) {
			fixture := newRouterFixture(t, models.User{ID: "resident-1", VillageID: ptr("v1")}, nil)

			recorder := fixture.do(http.MethodPost, path, `{"title":`)

			require.Equal(t, http.StatusForbidden, recorder.Code)
			var payload map[string]any
			require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &payload))
			assert.Equal(t, "forbidden", payload["error"])
			assert.Empty(t, fixture.alerts.createCaller.ID)
		})
	}
}

func TestServiceErrorsMapToStatuses(t *testing.T) {
	testCases := []struct {
		name       string
		err        error
		wantStatus int
		wantError  string
	}{
		{name: "forbidden", err: fmt.Errorf("alerts.create_alert.forbidden: %w", models.ErrForbidden), wantStatus: http.StatusForbidden, wantError: "forbidden"},
		{name: "invalid", err: fmt.Errorf("wrapped: %w", models.ErrInvalidInput), wantStatus: http.StatusBadRequest, wantError: "invalid_request"},
		{name: "not-found", err: models.ErrNotFound, wantStatus: http.StatusNotFound, wantError: "not_found"},
		{name: "transition", err: models.ErrInvalidTransition, wantStatus: http.StatusConflict, wantError: "invalid_transition"},
		{name: "phone", err: models.ErrPhoneNotVerified, wantStatus: http.StatusForbidden, wantError: "phone_not_verified"},
		{name: "unknown", err: fmt.Errorf("database exploded"), wantStatus: http.StatusInternalServerError, wantError: "internal_error"},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			fixture := newRouterFixture(t, models.User{ID: "admin-1", IsSystemAdmin: true}, testCase.err)

			recorder := fixture.do(http.MethodPost, "/api/alerts/alert-1/resolve", "")

			require.Equal(t, testCase.wantStatus, recorder.Code)
			var payload map[string]any
			require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &payload))
			assert.Equal(t, testCase.wantError, payload["error"])
			if testCase.wantStatus == http.StatusInternalServerError {
				assert.NotContains(t, payload, "message")
			}
		})
	}
}

func TestServiceErrorCodeIsExposed(t *testing.T) {
	fixture := newRouterFixture(t, models.User{ID: "resident"}, nil)
	_, err := alerts.NewWorkflow(alerts.WorkflowConfig{})
	require.Error(t, err)
	fixture.alerts.err = err

	recorder := fixture.do(http.MethodGet, "/api/alerts", "")

	require.Equal(t, http.StatusInternalServerError, recorder.Code)
	var payload map[string]any
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &payload))
	assert.Equal(t, "alerts.workflow.new.missing_database", payload["code"])
}

func TestMarkReadAndDeliveriesUseCaller(t *testing.T) {
	resident := models.User{ID: "resident-1", VillageID: ptr("v1")}
	fixture := newRouterFixture(t, resident, nil)

	recorder := fixture.do(http.MethodPost, "/api/alerts/alert-9/read", "")
	require.Equal(t, http.StatusNoContent, recorder.Code)
	assert.Equal(t, "alert-9", fixture.ledger.readAlertID)
	assert.Equal(t, "resident-1", fixture.ledger.readUserID)

	recorder = fixture.do(http.MethodGet, "/api/deliveries", "")
	require.Equal(t, http.StatusOK, recorder.Code)
	var payload struct {
		Deliveries []models.AlertDelivery `json:"deliveries"`
		Unread     int64                  `json:"unread"`
	}
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &payload))
	assert.Equal(t, int64(3), payload.Unread)
	require.Len(t, payload.Deliveries, 1)
}

func TestProbesAndVillages(t *testing.T) {
	fixture := newRouterFixture(t, models.User{ID: "resident-1"}, nil)

	recorder := fixture.do(http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, recorder.Code)

	recorder = fixture.do(http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, recorder.Code)
	assert.Contains(t, recorder.Body.String(), "villagewatch_up")

	recorder = fixture.do(http.MethodGet, "/api/villages", "")
	require.Equal(t, http.StatusOK, recorder.Code)
	assert.Contains(t, recorder.Body.String(), "Agios")
}

func TestIncidentRoutes(t *testing.T) {
	fixture := newRouterFixture(t, models.User{ID: "resident-1", PhoneVerified: true}, nil)

	recorder := fixture.do(http.MethodPost, "/api/incidents", `{"type":"fire","latitude":35.1,"longitude":33.4}`)
	require.Equal(t, http.StatusCreated, recorder.Code)
	assert.Contains(t, recorder.Body.String(), `"user_id":"resident-1"`)

	recorder = fixture.do(http.MethodPatch, "/api/incidents/pin-1", `{"status":"resolved"}`)
	require.Equal(t, http.StatusOK, recorder.Code)

	recorder = fixture.do(http.MethodPatch, "/api/incidents/pin-1", `{}`)
	assert.Equal(t, http.StatusBadRequest, recorder.Code)

	recorder = fixture.do(http.MethodDelete, "/api/incidents/pin-1", "")
	assert.Equal(t, http.StatusNoContent, recorder.Code)
}

func TestNewHTTPHandlerRequiresDependencies(t *testing.T) {
	_, err := NewHTTPHandler(Dependencies{})
	assert.ErrorIs(t, err, errMissingSessionValidator)
}

func ptr(value string) *string {
	return &value
}
