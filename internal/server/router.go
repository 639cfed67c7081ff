package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/MarcoPoloResearchLab/villagewatch/internal/alerts"
	"github.com/MarcoPoloResearchLab/villagewatch/internal/auth"
	"github.com/MarcoPoloResearchLab/villagewatch/internal/directory"
	"github.com/MarcoPoloResearchLab/villagewatch/internal/incidents"
	"github.com/MarcoPoloResearchLab/villagewatch/internal/models"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const callerContextKey = "villagewatch_caller"

var (
	errMissingSessionValidator = errors.New("session validator dependency required")
	errMissingDirectory        = errors.New("directory dependency required")
	errMissingAlertWorkflow    = errors.New("alert workflow dependency required")
	errMissingDeliveryLedger   = errors.New("delivery ledger dependency required")
	errMissingIncidentService  = errors.New("incident service dependency required")
	errMissingRealtime         = errors.New("realtime endpoint dependency required")
)

type SessionValidator interface {
	ValidateRequest(r *http.Request) (auth.SessionClaims, error)
}

type Directory interface {
	ResolveCaller(ctx context.Context, claims auth.SessionClaims) (models.User, error)
	ListVillages(ctx context.Context) ([]models.Village, error)
}

type AlertWorkflow interface {
	CreateAlert(ctx context.Context, caller models.User, input alerts.CreateAlertInput) (alerts.CreateAlertResult, error)
	SendSmsAlert(ctx context.Context, caller models.User, input alerts.SendSmsInput) (models.SmsAlert, error)
	ResolveAlert(ctx context.Context, caller models.User, alertID string) (models.Alert, error)
	ListActiveAlerts(ctx context.Context, caller models.User) ([]models.Alert, error)
	ListSmsAlerts(ctx context.Context, caller models.User) ([]models.SmsAlert, error)
}

type DeliveryLedger interface {
	MarkRead(ctx context.Context, alertID, userID string) error
	ListForUser(ctx context.Context, userID string) ([]models.AlertDelivery, error)
	UnreadCount(ctx context.Context, userID string) (int64, error)
}

type IncidentService interface {
	Create(ctx context.Context, caller models.User, input incidents.CreateInput) (models.EmergencyPin, error)
	UpdateStatus(ctx context.Context, caller models.User, pinID string, status string) (models.EmergencyPin, error)
	Delete(ctx context.Context, caller models.User, pinID string) (models.EmergencyPin, error)
	ListActive(ctx context.Context) ([]models.EmergencyPin, error)
}

// RealtimeEndpoint upgrades a request into a live event stream for userID.
type RealtimeEndpoint interface {
	Serve(w http.ResponseWriter, r *http.Request, userID string) error
}

type Dependencies struct {
	Sessions       SessionValidator
	Directory      Directory
	Alerts         AlertWorkflow
	Ledger         DeliveryLedger
	Incidents      IncidentService
	Realtime       RealtimeEndpoint
	Metrics        http.Handler
	AllowedOrigins []string
	Logger         *zap.Logger
}

func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	switch {
	case deps.Sessions == nil:
		return nil, errMissingSessionValidator
	case deps.Directory == nil:
		return nil, errMissingDirectory
	case deps.Alerts == nil:
		return nil, errMissingAlertWorkflow
	case deps.Ledger == nil:
		return nil, errMissingDeliveryLedger
	case deps.Incidents == nil:
		return nil, errMissingIncidentService
	case deps.Realtime == nil:
		return nil, errMissingRealtime
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware(deps.AllowedOrigins))

	handler := &httpHandler{
		sessions:  deps.Sessions,
		directory: deps.Directory,
		alerts:    deps.Alerts,
		ledger:    deps.Ledger,
		incidents: deps.Incidents,
		realtime:  deps.Realtime,
		logger:    logger,
	}

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if deps.Metrics != nil {
		router.GET("/metrics", gin.WrapH(deps.Metrics))
	}

	router.GET("/ws", handler.authorizeRequest, handler.handleRealtime)

	api := router.Group("/api")
	api.Use(handler.authorizeRequest)
	api.GET("/villages", handler.handleListVillages)

	api.POST("/alerts", handler.handleCreateAlert)
	api.GET("/alerts", handler.handleListAlerts)
	api.POST("/alerts/:id/resolve", handler.handleResolveAlert)
	api.POST("/alerts/:id/read", handler.handleMarkRead)
	api.GET("/deliveries", handler.handleListDeliveries)

	api.POST("/sms-alerts", handler.handleSendSmsAlert)
	api.GET("/sms-alerts", handler.handleListSmsAlerts)

	api.GET("/incidents", handler.handleListIncidents)
	api.POST("/incidents", handler.handleCreateIncident)
	api.PATCH("/incidents/:id", handler.handleUpdateIncident)
	api.DELETE("/incidents/:id", handler.handleDeleteIncident)

	return router, nil
}

func corsMiddleware(allowedOrigins []string) gin.HandlerFunc {
	cfg := cors.Config{
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowHeaders:     []string{"Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if len(allowedOrigins) == 0 || containsWildcard(allowedOrigins) {
		cfg.AllowOriginFunc = func(string) bool { return true }
	} else {
		cfg.AllowOrigins = allowedOrigins
	}
	return cors.New(cfg)
}

func containsWildcard(origins []string) bool {
	for _, origin := range origins {
		if origin == "*" {
			return true
		}
	}
	return false
}

type httpHandler struct {
	sessions  SessionValidator
	directory Directory
	alerts    AlertWorkflow
	ledger    DeliveryLedger
	incidents IncidentService
	realtime  RealtimeEndpoint
	logger    *zap.Logger
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	claims, err := h.sessions.ValidateRequest(c.Request)
	if err != nil {
		if errors.Is(err, auth.ErrExpiredSessionToken) || errors.Is(err, auth.ErrMissingSessionToken) {
			h.logger.Info("token validation failed", zap.Error(err))
		} else {
			h.logger.Warn("token validation failed", zap.Error(err))
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	caller, err := h.directory.ResolveCaller(c.Request.Context(), claims)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) || errors.Is(err, directory.ErrInvalidIdentity) {
			h.logger.Info("session user not in directory", zap.String("user_id", claims.UserID), zap.Error(err))
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unknown_user"})
			return
		}
		h.logger.Error("caller lookup failed", zap.String("user_id", claims.UserID), zap.Error(err))
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "caller_lookup_failed"})
		return
	}
	c.Set(callerContextKey, caller)
	c.Next()
}

func callerFrom(c *gin.Context) (models.User, bool) {
	value, ok := c.Get(callerContextKey)
	if !ok {
		return models.User{}, false
	}
	caller, ok := value.(models.User)
	return caller, ok && caller.ID != ""
}

func (h *httpHandler) handleRealtime(c *gin.Context) {
	caller, ok := callerFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	if err := h.realtime.Serve(c.Writer, c.Request, caller.ID); err != nil {
		h.logger.Warn("realtime upgrade failed", zap.String("user_id", caller.ID), zap.Error(err))
	}
}

func (h *httpHandler) handleListVillages(c *gin.Context) {
	villages, err := h.directory.ListVillages(c.Request.Context())
	if err != nil {
		h.respondError(c, "list villages", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"villages": villages})
}
