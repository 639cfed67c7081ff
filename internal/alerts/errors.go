package alerts

import (
	"errors"
	"fmt"

	"go.uber.org/zap"
)

var (
	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
	errMissingDirectory  = errors.New("directory is required")
	errMissingDispatcher = errors.New("sms dispatcher is required")
	errMissingLedger     = errors.New("delivery ledger is required")
	noOpLogger           = zap.NewNop()
)

// ServiceError carries a stable "alerts.<operation>.<reason>" code and unwraps to its cause, so
// callers can match failure categories with errors.Is.
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
	opLedgerNew      = "alerts.ledger.new"
	opRecordDelivery = "alerts.record_delivery"
	opMarkRead       = "alerts.mark_read"
	opListDeliveries = "alerts.list_deliveries"
	opUnreadCount    = "alerts.unread_count"

	opWorkflowNew   = "alerts.workflow.new"
	opCreateAlert   = "alerts.create_alert"
	opSendSmsAlert  = "alerts.send_sms_alert"
	opResolveAlert  = "alerts.resolve_alert"
	opListActive    = "alerts.list_active"
	opListSmsAlerts = "alerts.list_sms_alerts"
)

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}

func logServiceError(logger *zap.Logger, operation, reason string, err error, fields ...zap.Field) {
	if logger == nil {
		logger = noOpLogger
	}
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	logger.Error("alerts service error", attrs...)
}
