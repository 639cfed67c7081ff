package incidents

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/villagewatch/internal/models"
	"github.com/MarcoPoloResearchLab/villagewatch/internal/realtime"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
	errMissingPublisher  = errors.New("publisher is required")
	noOpLogger           = zap.NewNop()
)

type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

func (e *ServiceError) Code() string {
	return e.code
}

const (
	opServiceNew    = "incidents.service.new"
	opCreate        = "incidents.create"
	opUpdateStatus  = "incidents.update_status"
	opDelete        = "incidents.delete"
	opListActive    = "incidents.list_active"
	coordinateScale = 1e6
)

func newServiceError(operation, reason string, cause error) error {
	return &ServiceError{code: fmt.Sprintf("%s.%s", operation, reason), err: cause}
}

type ServiceConfig struct {
	Database   *gorm.DB
	Publisher  realtime.Publisher
	Clock      func() time.Time
	IDProvider models.IDProvider
	Logger     *zap.Logger
}

// Service manages emergency pins reported by residents and announces every change on the hub.
type Service struct {
	db         *gorm.DB
	publisher  realtime.Publisher
	clock      func() time.Time
	idProvider models.IDProvider
	logger     *zap.Logger
}

func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opServiceNew, "missing_database", errMissingDatabase)
	}
	if cfg.IDProvider == nil {
		return nil, newServiceError(opServiceNew, "missing_id_provider", errMissingIDProvider)
	}
	if cfg.Publisher == nil {
		return nil, newServiceError(opServiceNew, "missing_publisher", errMissingPublisher)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Service{
		db:         cfg.Database,
		publisher:  cfg.Publisher,
		clock:      clock,
		idProvider: cfg.IDProvider,
		logger:     logger,
	}, nil
}

// CreateInput is a resident's incident report.
type CreateInput struct {
	Type        string  `json:"type"`
	Latitude    float64 `json:"latitude"`
	Longitude   float64 `json:"longitude"`
	Description string  `json:"description"`
	Location    string  `json:"location"`
}

// Create stores a new active pin. Reporters must have a verified phone.
func (s *Service) Create(ctx context.Context, caller models.User, input CreateInput) (models.EmergencyPin, error) {
	if !caller.PhoneVerified {
		return models.EmergencyPin{}, newServiceError(opCreate, "phone_not_verified", models.ErrPhoneNotVerified)
	}
	pinType, ok := models.ParsePinType(input.Type)
	if !ok {
		return models.EmergencyPin{}, newServiceError(opCreate, "invalid_type",
			fmt.Errorf("%w: unknown incident type %q", models.ErrInvalidInput, input.Type))
	}
	latitude, longitude, err := normalizeCoordinates(input.Latitude, input.Longitude)
	if err != nil {
		return models.EmergencyPin{}, newServiceError(opCreate, "invalid_coordinates", err)
	}

	id, err := s.idProvider.NewID()
	if err != nil {
		s.logError(opCreate, "id_generation_failed", err)
		return models.EmergencyPin{}, newServiceError(opCreate, "id_generation_failed", err)
	}
	now := s.clock().UTC()
	pin := models.EmergencyPin{
		ID:          id,
		UserID:      caller.ID,
		Type:        pinType,
		Latitude:    latitude,
		Longitude:   longitude,
		Description: strings.TrimSpace(input.Description),
		Location:    strings.TrimSpace(input.Location),
		Status:      models.PinStatusActive,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.db.WithContext(ctx).Create(&pin).Error; err != nil {
		s.logError(opCreate, "insert_failed", err, zap.String("user_id", caller.ID))
		return models.EmergencyPin{}, newServiceError(opCreate, "insert_failed", err)
	}

	s.publisher.Publish(realtime.IncidentCreated{Pin: pin})
	s.logger.Info("incident reported",
		zap.String("pin_id", pin.ID),
		zap.String("user_id", caller.ID),
		zap.String("type", string(pin.Type)))
	return pin, nil
}

// UpdateStatus changes a pin's status. Only the reporter or an admin may do this.
func (s *Service) UpdateStatus(ctx context.Context, caller models.User, pinID string, rawStatus string) (models.EmergencyPin, error) {
	status, ok := models.ParsePinStatus(rawStatus)
	if !ok {
		return models.EmergencyPin{}, newServiceError(opUpdateStatus, "invalid_status",
			fmt.Errorf("%w: unknown incident status %q", models.ErrInvalidInput, rawStatus))
	}
	pin, err := s.loadOwned(ctx, opUpdateStatus, caller, pinID)
	if err != nil {
		return models.EmergencyPin{}, err
	}

	pin.Status = status
	pin.UpdatedAt = s.clock().UTC()
	err = s.db.WithContext(ctx).
		Model(&models.EmergencyPin{ID: pin.ID}).
		Updates(map[string]any{"status": pin.Status, "updated_at": pin.UpdatedAt}).Error
	if err != nil {
		s.logError(opUpdateStatus, "update_failed", err, zap.String("pin_id", pin.ID))
		return models.EmergencyPin{}, newServiceError(opUpdateStatus, "update_failed", err)
	}

	s.publisher.Publish(realtime.IncidentUpdated{Pin: pin})
	return pin, nil
}

// Delete removes a pin and announces it with the last known state.
func (s *Service) Delete(ctx context.Context, caller models.User, pinID string) (models.EmergencyPin, error) {
	pin, err := s.loadOwned(ctx, opDelete, caller, pinID)
	if err != nil {
		return models.EmergencyPin{}, err
	}
	if err := s.db.WithContext(ctx).Delete(&models.EmergencyPin{}, "id = ?", pin.ID).Error; err != nil {
		s.logError(opDelete, "delete_failed", err, zap.String("pin_id", pin.ID))
		return models.EmergencyPin{}, newServiceError(opDelete, "delete_failed", err)
	}

	s.publisher.Publish(realtime.IncidentDeleted{Pin: pin})
	return pin, nil
}

// ListActive returns active pins, newest first.
func (s *Service) ListActive(ctx context.Context) ([]models.EmergencyPin, error) {
	var pins []models.EmergencyPin
	err := s.db.WithContext(ctx).
		Where("status = ?", models.PinStatusActive).
		Order("created_at DESC").
		Order("id DESC").
		Find(&pins).Error
	if err != nil {
		s.logError(opListActive, "query_failed", err)
		return nil, newServiceError(opListActive, "query_failed", err)
	}
	return pins, nil
}

func (s *Service) loadOwned(ctx context.Context, operation string, caller models.User, pinID string) (models.EmergencyPin, error) {
	var pin models.EmergencyPin
	err := s.db.WithContext(ctx).Where("id = ?", strings.TrimSpace(pinID)).Take(&pin).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.EmergencyPin{}, newServiceError(operation, "not_found", models.ErrNotFound)
	}
	if err != nil {
		s.logError(operation, "select_failed", err, zap.String("pin_id", pinID))
		return models.EmergencyPin{}, newServiceError(operation, "select_failed", err)
	}
	if pin.UserID != caller.ID && !caller.IsAdmin() {
		return models.EmergencyPin{}, newServiceError(operation, "forbidden", models.ErrForbidden)
	}
	return pin, nil
}

func normalizeCoordinates(latitude, longitude float64) (float64, float64, error) {
	if math.IsNaN(latitude) || latitude < -90 || latitude > 90 {
		return 0, 0, fmt.Errorf("%w: latitude %v out of range", models.ErrInvalidInput, latitude)
	}
	if math.IsNaN(longitude) || longitude < -180 || longitude > 180 {
		return 0, 0, fmt.Errorf("%w: longitude %v out of range", models.ErrInvalidInput, longitude)
	}
	return roundCoordinate(latitude), roundCoordinate(longitude), nil
}

func roundCoordinate(value float64) float64 {
	return math.Round(value*coordinateScale) / coordinateScale
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.logger.Error("incidents service error", attrs...)
}
