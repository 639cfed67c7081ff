package server

import (
	"errors"
	"net/http"

	"github.com/MarcoPoloResearchLab/villagewatch/internal/alerts"
	"github.com/MarcoPoloResearchLab/villagewatch/internal/incidents"
	"github.com/MarcoPoloResearchLab/villagewatch/internal/models"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type codedError interface {
	Code() string
}

// respondError maps service failure categories onto HTTP statuses.
func (h *httpHandler) respondError(c *gin.Context, action string, err error) {
	status := http.StatusInternalServerError
	label := "internal_error"
	switch {
	case errors.Is(err, models.ErrForbidden):
		status, label = http.StatusForbidden, "forbidden"
	case errors.Is(err, models.ErrPhoneNotVerified):
		status, label = http.StatusForbidden, "phone_not_verified"
	case errors.Is(err, models.ErrInvalidInput):
		status, label = http.StatusBadRequest, "invalid_request"
	case errors.Is(err, models.ErrNotFound):
		status, label = http.StatusNotFound, "not_found"
	case errors.Is(err, models.ErrInvalidTransition):
		status, label = http.StatusConflict, "invalid_transition"
	}

	payload := gin.H{"error": label}
	var coded codedError
	if errors.As(err, &coded) {
		payload["code"] = coded.Code()
	}
	if status == http.StatusInternalServerError {
		h.logger.Error("request failed", zap.String("action", action), zap.Error(err))
	} else {
		payload["message"] = err.Error()
	}
	c.JSON(status, payload)
}

func (h *httpHandler) requireCaller(c *gin.Context) (models.User, bool) {
	caller, ok := callerFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
	}
	return caller, ok
}

// requireAdmin rejects non-admin callers before the request body is read.
func (h *httpHandler) requireAdmin(c *gin.Context, action string) (models.User, bool) {
	caller, ok := h.requireCaller(c)
	if !ok {
		return models.User{}, false
	}
	if !caller.IsAdmin() {
		h.respondError(c, action, models.ErrForbidden)
		return models.User{}, false
	}
	return caller, true
}

func (h *httpHandler) handleCreateAlert(c *gin.Context) {
	caller, ok := h.requireAdmin(c, "create alert")
	if !ok {
		return
	}
	var request alerts.CreateAlertInput
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	result, err := h.alerts.CreateAlert(c.Request.Context(), caller, request)
	if err != nil {
		h.respondError(c, "create alert", err)
		return
	}
	c.JSON(http.StatusCreated, result)
}

func (h *httpHandler) handleListAlerts(c *gin.Context) {
	caller, ok := h.requireCaller(c)
	if !ok {
		return
	}
	active, err := h.alerts.ListActiveAlerts(c.Request.Context(), caller)
	if err != nil {
		h.respondError(c, "list alerts", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"alerts": active})
}

func (h *httpHandler) handleResolveAlert(c *gin.Context) {
	caller, ok := h.requireCaller(c)
	if !ok {
		return
	}
	alert, err := h.alerts.ResolveAlert(c.Request.Context(), caller, c.Param("id"))
	if err != nil {
		h.respondError(c, "resolve alert", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"alert": alert})
}

func (h *httpHandler) handleMarkRead(c *gin.Context) {
	caller, ok := h.requireCaller(c)
	if !ok {
		return
	}
	if err := h.ledger.MarkRead(c.Request.Context(), c.Param("id"), caller.ID); err != nil {
		h.respondError(c, "mark read", err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleListDeliveries(c *gin.Context) {
	caller, ok := h.requireCaller(c)
	if !ok {
		return
	}
	deliveries, err := h.ledger.ListForUser(c.Request.Context(), caller.ID)
	if err != nil {
		h.respondError(c, "list deliveries", err)
		return
	}
	unread, err := h.ledger.UnreadCount(c.Request.Context(), caller.ID)
	if err != nil {
		h.respondError(c, "count unread", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deliveries": deliveries, "unread": unread})
}

func (h *httpHandler) handleSendSmsAlert(c *gin.Context) {
	caller, ok := h.requireAdmin(c, "send sms alert")
	if !ok {
		return
	}
	var request alerts.SendSmsInput
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	record, err := h.alerts.SendSmsAlert(c.Request.Context(), caller, request)
	if err != nil {
		h.respondError(c, "send sms alert", err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"sms_alert": record})
}

func (h *httpHandler) handleListSmsAlerts(c *gin.Context) {
	caller, ok := h.requireCaller(c)
	if !ok {
		return
	}
	records, err := h.alerts.ListSmsAlerts(c.Request.Context(), caller)
	if err != nil {
		h.respondError(c, "list sms alerts", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"sms_alerts": records})
}

func (h *httpHandler) handleListIncidents(c *gin.Context) {
	pins, err := h.incidents.ListActive(c.Request.Context())
	if err != nil {
		h.respondError(c, "list incidents", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"incidents": pins})
}

func (h *httpHandler) handleCreateIncident(c *gin.Context) {
	caller, ok := h.requireCaller(c)
	if !ok {
		return
	}
	var request incidents.CreateInput
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	pin, err := h.incidents.Create(c.Request.Context(), caller, request)
	if err != nil {
		h.respondError(c, "create incident", err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"incident": pin})
}

type updateIncidentPayload struct {
	Status string `json:"status" binding:"required"`
}

func (h *httpHandler) handleUpdateIncident(c *gin.Context) {
	caller, ok := h.requireCaller(c)
	if !ok {
		return
	}
	var request updateIncidentPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	pin, err := h.incidents.UpdateStatus(c.Request.Context(), caller, c.Param("id"), request.Status)
	if err != nil {
		h.respondError(c, "update incident", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"incident": pin})
}

func (h *httpHandler) handleDeleteIncident(c *gin.Context) {
	caller, ok := h.requireCaller(c)
	if !ok {
		return
	}
	if _, err := h.incidents.Delete(c.Request.Context(), caller, c.Param("id")); err != nil {
		h.respondError(c, "delete incident", err)
		return
	}
	c.Status(http.StatusNoContent)
}
