package alerts

import (
	"context"
	"errors"
	"strings"

	"github.com/MarcoPoloResearchLab/villagewatch/internal/models"
	"github.com/MarcoPoloResearchLab/villagewatch/internal/realtime"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ResolveAlert moves an active alert to resolved. System admins may resolve any alert, village
// admins only the ones they created.
func (w *Workflow) ResolveAlert(ctx context.Context, caller models.User, alertID string) (models.Alert, error) {
	if !caller.IsAdmin() {
		return models.Alert{}, newServiceError(opResolveAlert, "forbidden", models.ErrForbidden)
	}
	alertID = strings.TrimSpace(alertID)
	if alertID == "" {
		return models.Alert{}, newServiceError(opResolveAlert, "missing_alert_id", models.ErrInvalidInput)
	}

	var alert models.Alert
	err := w.db.WithContext(ctx).Where("id = ?", alertID).Take(&alert).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.Alert{}, newServiceError(opResolveAlert, "not_found", models.ErrNotFound)
	}
	if err != nil {
		logServiceError(w.logger, opResolveAlert, "alert_select_failed", err, zap.String("alert_id", alertID))
		return models.Alert{}, newServiceError(opResolveAlert, "alert_select_failed", err)
	}
	if !caller.IsSystemAdmin && alert.AdminID != caller.ID {
		return models.Alert{}, newServiceError(opResolveAlert, "forbidden", models.ErrForbidden)
	}
	if alert.Status != models.AlertStatusActive {
		return models.Alert{}, newServiceError(opResolveAlert, "already_resolved", models.ErrInvalidTransition)
	}

	now := w.clock().UTC()
	update := w.db.WithContext(ctx).
		Model(&models.Alert{}).
		Where("id = ? AND status = ?", alertID, models.AlertStatusActive).
		Updates(map[string]any{
			"status":      models.AlertStatusResolved,
			"resolved_at": now,
			"updated_at":  now,
		})
	if update.Error != nil {
		logServiceError(w.logger, opResolveAlert, "alert_update_failed", update.Error, zap.String("alert_id", alertID))
		return models.Alert{}, newServiceError(opResolveAlert, "alert_update_failed", update.Error)
	}
	if update.RowsAffected == 0 {
		return models.Alert{}, newServiceError(opResolveAlert, "already_resolved", models.ErrInvalidTransition)
	}

	alert.Status = models.AlertStatusResolved
	alert.ResolvedAt = &now
	alert.UpdatedAt = now
	w.publisher.Publish(realtime.AlertResolved{Alert: alert})
	w.logger.Info("alert resolved", zap.String("alert_id", alert.ID), zap.String("resolved_by", caller.ID))
	return alert, nil
}

// ListActiveAlerts returns active alerts visible to the caller, newest first. System admins see
// every alert; everyone else sees alerts targeting their village.
func (w *Workflow) ListActiveAlerts(ctx context.Context, caller models.User) ([]models.Alert, error) {
	var active []models.Alert
	err := w.db.WithContext(ctx).
		Where("status = ?", models.AlertStatusActive).
		Order("created_at DESC").
		Order("id DESC").
		Find(&active).Error
	if err != nil {
		logServiceError(w.logger, opListActive, "query_failed", err, zap.String("user_id", caller.ID))
		return nil, newServiceError(opListActive, "query_failed", err)
	}
	if caller.IsSystemAdmin {
		return active, nil
	}

	visible := make([]models.Alert, 0, len(active))
	village := caller.HomeVillage()
	if village == "" {
		return visible, nil
	}
	for _, alert := range active {
		if alert.Targets(village) {
			visible = append(visible, alert)
		}
	}
	return visible, nil
}

// ListSmsAlerts returns SMS history, newest first. Village admins only see their own sends.
func (w *Workflow) ListSmsAlerts(ctx context.Context, caller models.User) ([]models.SmsAlert, error) {
	if !caller.IsAdmin() {
		return nil, newServiceError(opListSmsAlerts, "forbidden", models.ErrForbidden)
	}
	query := w.db.WithContext(ctx).Order("created_at DESC").Order("id DESC")
	if !caller.IsSystemAdmin {
		query = query.Where("sender_id = ?", caller.ID)
	}
	var records []models.SmsAlert
	if err := query.Find(&records).Error; err != nil {
		logServiceError(w.logger, opListSmsAlerts, "query_failed", err, zap.String("user_id", caller.ID))
		return nil, newServiceError(opListSmsAlerts, "query_failed", err)
	}
	return records, nil
}
