package server

import (
	"context"
	"net/http"

	"github.com/MarcoPoloResearchLab/villagewatch/internal/alerts"
	"github.com/MarcoPoloResearchLab/villagewatch/internal/auth"
	"github.com/MarcoPoloResearchLab/villagewatch/internal/incidents"
	"github.com/MarcoPoloResearchLab/villagewatch/internal/models"
)

type stubSessionValidator struct {
	claims      auth.SessionClaims
	validateErr error
}

func (s stubSessionValidator) ValidateRequest(*http.Request) (auth.SessionClaims, error) {
	return s.claims, s.validateErr
}

type stubDirectory struct {
	users    map[string]models.User
	villages []models.Village
	err      error
}

func (s stubDirectory) ResolveCaller(_ context.Context, claims auth.SessionClaims) (models.User, error) {
	if s.err != nil {
		return models.User{}, s.err
	}
	user, ok := s.users[claims.UserID]
	if !ok {
		return models.User{}, models.ErrNotFound
	}
	return user, nil
}

func (s stubDirectory) ListVillages(context.Context) ([]models.Village, error) {
	return s.villages, s.err
}

type stubAlertWorkflow struct {
	createInput  alerts.CreateAlertInput
	createCaller models.User
	createResult alerts.CreateAlertResult
	err          error
}

func (s *stubAlertWorkflow) CreateAlert(_ context.Context, caller models.User, input alerts.CreateAlertInput) (alerts.CreateAlertResult, error) {
	s.createCaller = caller
	s.createInput = input
	return s.createResult, s.err
}

func (s *stubAlertWorkflow) SendSmsAlert(context.Context, models.User, alerts.SendSmsInput) (models.SmsAlert, error) {
	return models.SmsAlert{}, s.err
}

func (s *stubAlertWorkflow) ResolveAlert(_ context.Context, _ models.User, alertID string) (models.Alert, error) {
	return models.Alert{ID: alertID, Status: models.AlertStatusResolved}, s.err
}

func (s *stubAlertWorkflow) ListActiveAlerts(context.Context, models.User) ([]models.Alert, error) {
	return nil, s.err
}

func (s *stubAlertWorkflow) ListSmsAlerts(context.Context, models.User) ([]models.SmsAlert, error) {
	return nil, s.err
}

type stubLedger struct {
	readAlertID string
	readUserID  string
	deliveries  []models.AlertDelivery
	unread      int64
	err         error
}

func (s *stubLedger) MarkRead(_ context.Context, alertID, userID string) error {
	s.readAlertID, s.readUserID = alertID, userID
	return s.err
}

func (s *stubLedger) ListForUser(context.Context, string) ([]models.AlertDelivery, error) {
	return s.deliveries, s.err
}

func (s *stubLedger) UnreadCount(context.Context, string) (int64, error) {
	return s.unread, s.err
}

type stubIncidents struct {
	err error
}

func (s stubIncidents) Create(_ context.Context, caller models.User, input incidents.CreateInput) (models.EmergencyPin, error) {
	return models.EmergencyPin{ID: "pin-1", UserID: caller.ID}, s.err
}

func (s stubIncidents) UpdateStatus(_ context.Context, _ models.User, pinID string, status string) (models.EmergencyPin, error) {
	return models.EmergencyPin{ID: pinID, Status: models.PinStatus(status)}, s.err
}

func (s stubIncidents) Delete(_ context.Context, _ models.User, pinID string) (models.EmergencyPin, error) {
	return models.EmergencyPin{ID: pinID}, s.err
}

func (s stubIncidents) ListActive(context.Context) ([]models.EmergencyPin, error) {
	return nil, s.err
}

type stubRealtime struct{}

func (stubRealtime) Serve(w http.ResponseWriter, _ *http.Request, _ string) error {
	w.WriteHeader(http.StatusSwitchingProtocols)
	return nil
}
