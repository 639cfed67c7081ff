package alerts

import (
	"context"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/villagewatch/internal/models"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// LedgerConfig describes the dependencies of the delivery ledger.
type LedgerConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider models.IDProvider
	Logger     *zap.Logger
}

// Ledger stores per-(alert, user) delivery and read receipts.
type Ledger struct {
	db         *gorm.DB
	clock      func() time.Time
	idProvider models.IDProvider
	logger     *zap.Logger
}

// NewLedger constructs a ledger.
func NewLedger(cfg LedgerConfig) (*Ledger, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opLedgerNew, "missing_database", errMissingDatabase)
	}
	if cfg.IDProvider == nil {
		return nil, newServiceError(opLedgerNew, "missing_id_provider", errMissingIDProvider)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Ledger{db: cfg.Database, clock: clock, idProvider: cfg.IDProvider, logger: logger}, nil
}

// RecordDelivery inserts one unread receipt. Uniqueness is the caller's concern.
func (l *Ledger) RecordDelivery(ctx context.Context, alertID, userID string) error {
	alertID = strings.TrimSpace(alertID)
	userID = strings.TrimSpace(userID)
	if alertID == "" || userID == "" {
		return newServiceError(opRecordDelivery, "missing_identifier", models.ErrInvalidInput)
	}
	id, err := l.idProvider.NewID()
	if err != nil {
		logServiceError(l.logger, opRecordDelivery, "id_generation_failed", err, zap.String("alert_id", alertID))
		return newServiceError(opRecordDelivery, "id_generation_failed", err)
	}
	delivery := models.AlertDelivery{
		ID:          id,
		AlertID:     alertID,
		UserID:      userID,
		DeliveredAt: l.clock().UTC(),
	}
	if err := l.db.WithContext(ctx).Create(&delivery).Error; err != nil {
		logServiceError(l.logger, opRecordDelivery, "insert_failed", err,
			zap.String("alert_id", alertID),
			zap.String("user_id", userID))
		return newServiceError(opRecordDelivery, "insert_failed", err)
	}
	return nil
}

// MarkRead stamps read_at on an unread receipt. Already-read and missing receipts are left
// untouched and are not errors.
func (l *Ledger) MarkRead(ctx context.Context, alertID, userID string) error {
	err := l.db.WithContext(ctx).
		Model(&models.AlertDelivery{}).
		Where("alert_id = ? AND user_id = ? AND read_at IS NULL", alertID, userID).
		Update("read_at", l.clock().UTC()).Error
	if err != nil {
		logServiceError(l.logger, opMarkRead, "update_failed", err,
			zap.String("alert_id", alertID),
			zap.String("user_id", userID))
		return newServiceError(opMarkRead, "update_failed", err)
	}
	return nil
}

// ListForUser returns the user's receipts, newest delivery first.
func (l *Ledger) ListForUser(ctx context.Context, userID string) ([]models.AlertDelivery, error) {
	var deliveries []models.AlertDelivery
	err := l.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("delivered_at DESC").
		Order("id DESC").
		Find(&deliveries).Error
	if err != nil {
		logServiceError(l.logger, opListDeliveries, "query_failed", err, zap.String("user_id", userID))
		return nil, newServiceError(opListDeliveries, "query_failed", err)
	}
	return deliveries, nil
}

// UnreadCount returns how many of the user's deliveries have no read_at yet.
func (l *Ledger) UnreadCount(ctx context.Context, userID string) (int64, error) {
	var count int64
	err := l.db.WithContext(ctx).
		Model(&models.AlertDelivery{}).
		Where("user_id = ? AND read_at IS NULL", userID).
		Count(&count).Error
	if err != nil {
		logServiceError(l.logger, opUnreadCount, "query_failed", err, zap.String("user_id", userID))
		return 0, newServiceError(opUnreadCount, "query_failed", err)
	}
	return count, nil
}
