package alerts

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/MarcoPoloResearchLab/villagewatch/internal/metrics"
	"github.com/MarcoPoloResearchLab/villagewatch/internal/models"
	"github.com/MarcoPoloResearchLab/villagewatch/internal/realtime"
	"github.com/MarcoPoloResearchLab/villagewatch/internal/sms"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	maxTitleLength = 255
	maxSmsLength   = 1600
)

// Directory resolves alert recipients by village membership.
type Directory interface {
	UsersInVillages(ctx context.Context, villageIDs []string) ([]models.User, error)
}

// DeliveryRecorder writes one ledger receipt.
type DeliveryRecorder interface {
	RecordDelivery(ctx context.Context, alertID, userID string) error
}

// Dispatcher sends SMS to a recipient list and rolls the outcome up.
type Dispatcher interface {
	Dispatch(ctx context.Context, message string, recipients []sms.Recipient) sms.Result
}

// WorkflowConfig describes the collaborators of the alert workflow.
type WorkflowConfig struct {
	Database   *gorm.DB
	Directory  Directory
	Ledger     DeliveryRecorder
	Dispatcher Dispatcher
	Publisher  realtime.Publisher
	Clock      func() time.Time
	IDProvider models.IDProvider
	Logger     *zap.Logger
	Metrics    *metrics.Recorder
}

// Workflow orchestrates alert creation: authorization, village scoping, recipient resolution,
// persistence, ledger population, SMS dispatch and broadcast.
type Workflow struct {
	db         *gorm.DB
	directory  Directory
	ledger     DeliveryRecorder
	dispatcher Dispatcher
	publisher  realtime.Publisher
	clock      func() time.Time
	idProvider models.IDProvider
	logger     *zap.Logger
	metrics    *metrics.Recorder
}

type discardPublisher struct{}

func (discardPublisher) Publish(realtime.Event) {}

// NewWorkflow validates the configuration and returns a workflow.
func NewWorkflow(cfg WorkflowConfig) (*Workflow, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opWorkflowNew, "missing_database", errMissingDatabase)
	}
	if cfg.Directory == nil {
		return nil, newServiceError(opWorkflowNew, "missing_directory", errMissingDirectory)
	}
	if cfg.Ledger == nil {
		return nil, newServiceError(opWorkflowNew, "missing_ledger", errMissingLedger)
	}
	if cfg.Dispatcher == nil {
		return nil, newServiceError(opWorkflowNew, "missing_dispatcher", errMissingDispatcher)
	}
	if cfg.IDProvider == nil {
		return nil, newServiceError(opWorkflowNew, "missing_id_provider", errMissingIDProvider)
	}

	publisher := cfg.Publisher
	if publisher == nil {
		publisher = discardPublisher{}
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}

	return &Workflow{
		db:         cfg.Database,
		directory:  cfg.Directory,
		ledger:     cfg.Ledger,
		dispatcher: cfg.Dispatcher,
		publisher:  publisher,
		clock:      clock,
		idProvider: cfg.IDProvider,
		logger:     logger,
		metrics:    cfg.Metrics,
	}, nil
}

// CreateAlertInput is the admin-submitted alert.
type CreateAlertInput struct {
	Type           string   `json:"type"`
	Title          string   `json:"title"`
	Message        string   `json:"message"`
	TargetVillages []string `json:"target_villages"`
	SendSms        bool     `json:"send_sms"`
	SmsPriority    string   `json:"sms_priority"`
}

// CreateAlertResult reports what CreateAlert persisted and delivered.
type CreateAlertResult struct {
	Alert          models.Alert     `json:"alert"`
	RecipientIDs   []string         `json:"recipient_ids"`
	Delivered      int              `json:"delivered"`
	LedgerFailures int              `json:"ledger_failures"`
	Sms            *models.SmsAlert `json:"sms,omitempty"`
}

// CreateAlert runs the full alert flow. Failures before the alert row is written have no side
// effects; after that nothing aborts the flow. Ledger failures are reported in the result and a
// lost SMS record is flagged on result.Sms. The work is
// not cancelled when ctx is, so a client disconnect never leaves a half-sent alert.
func (w *Workflow) CreateAlert(ctx context.Context, caller models.User, input CreateAlertInput) (CreateAlertResult, error) {
	ctx = context.WithoutCancel(ctx)

	if !caller.IsAdmin() {
		return CreateAlertResult{}, newServiceError(opCreateAlert, "forbidden", models.ErrForbidden)
	}

	alertType, ok := models.ParseAlertType(input.Type)
	if !ok {
		return CreateAlertResult{}, newServiceError(opCreateAlert, "invalid_type",
			fmt.Errorf("%w: unknown alert type %q", models.ErrInvalidInput, input.Type))
	}
	title := strings.TrimSpace(input.Title)
	message := strings.TrimSpace(input.Message)
	if err := validateAlertText(title, message); err != nil {
		return CreateAlertResult{}, newServiceError(opCreateAlert, "invalid_text", err)
	}
	priority, ok := models.ParseSmsPriority(input.SmsPriority)
	if !ok {
		return CreateAlertResult{}, newServiceError(opCreateAlert, "invalid_priority",
			fmt.Errorf("%w: unknown sms priority %q", models.ErrInvalidInput, input.SmsPriority))
	}
	smsText := composeSmsText(title, message)
	if input.SendSms && utf8.RuneCountInString(smsText) > maxSmsLength {
		return CreateAlertResult{}, newServiceError(opCreateAlert, "sms_too_long",
			fmt.Errorf("%w: sms text exceeds %d characters", models.ErrInvalidInput, maxSmsLength))
	}

	targets, err := scopeTargets(caller, input.TargetVillages)
	if err != nil {
		return CreateAlertResult{}, newServiceError(opCreateAlert, "invalid_targets", err)
	}

	recipients, err := w.resolveRecipients(ctx, opCreateAlert, targets)
	if err != nil {
		return CreateAlertResult{}, err
	}

	alertID, err := w.idProvider.NewID()
	if err != nil {
		logServiceError(w.logger, opCreateAlert, "id_generation_failed", err)
		return CreateAlertResult{}, newServiceError(opCreateAlert, "id_generation_failed", err)
	}
	now := w.clock().UTC()
	alert := models.Alert{
		ID:             alertID,
		AdminID:        caller.ID,
		Type:           alertType,
		Title:          title,
		Message:        message,
		TargetVillages: targets,
		Status:         models.AlertStatusActive,
		SendSms:        input.SendSms,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := w.db.WithContext(ctx).Create(&alert).Error; err != nil {
		logServiceError(w.logger, opCreateAlert, "alert_insert_failed", err, zap.String("admin_id", caller.ID))
		return CreateAlertResult{}, newServiceError(opCreateAlert, "alert_insert_failed", err)
	}

	result := CreateAlertResult{
		Alert:        alert,
		RecipientIDs: make([]string, 0, len(recipients)),
	}
	for _, recipient := range recipients {
		result.RecipientIDs = append(result.RecipientIDs, recipient.ID)
		if err := w.ledger.RecordDelivery(ctx, alert.ID, recipient.ID); err != nil {
			result.LedgerFailures++
			w.metrics.LedgerFailure()
			w.logger.Warn("delivery ledger insert failed",
				zap.String("alert_id", alert.ID),
				zap.String("user_id", recipient.ID),
				zap.Error(err))
			continue
		}
		result.Delivered++
	}

	if alert.SendSms {
		record := models.SmsAlert{
			SenderID:       caller.ID,
			AlertID:        &alert.ID,
			Message:        smsText,
			AlertType:      alertType,
			Priority:       priority,
			TargetVillages: targets,
		}
		// The alert row exists, so residents are texted even when the SMS record cannot be stored.
		stored := w.insertSmsRecord(ctx, opCreateAlert, &record, len(recipients)) == nil
		if err := w.dispatchSms(ctx, opCreateAlert, &record, recipients, stored); err != nil {
			stored = false
		}
		if !stored {
			record.RecordFailed = true
			w.metrics.SmsRecordFailure()
		}
		result.Sms = &record
	}

	w.publisher.Publish(realtime.AlertCreated{Alert: alert, RecipientIDs: result.RecipientIDs, Sms: result.Sms})

	w.logger.Info("alert created",
		zap.String("alert_id", alert.ID),
		zap.String("admin_id", caller.ID),
		zap.Strings("target_villages", targets),
		zap.Int("recipients", len(recipients)),
		zap.Int("delivered", result.Delivered),
		zap.Int("ledger_failures", result.LedgerFailures))
	return result, nil
}

// SendSmsInput is a standalone SMS broadcast.
type SendSmsInput struct {
	Message        string   `json:"message"`
	AlertType      string   `json:"alert_type"`
	Priority       string   `json:"priority"`
	TargetVillages []string `json:"target_villages"`
}

// SendSmsAlert sends an SMS-only broadcast with the same authorization and scoping rules as
// CreateAlert and returns the finished record.
func (w *Workflow) SendSmsAlert(ctx context.Context, caller models.User, input SendSmsInput) (models.SmsAlert, error) {
	ctx = context.WithoutCancel(ctx)

	if !caller.IsAdmin() {
		return models.SmsAlert{}, newServiceError(opSendSmsAlert, "forbidden", models.ErrForbidden)
	}

	message := strings.TrimSpace(input.Message)
	if message == "" {
		return models.SmsAlert{}, newServiceError(opSendSmsAlert, "invalid_text",
			fmt.Errorf("%w: message is required", models.ErrInvalidInput))
	}
	if utf8.RuneCountInString(message) > maxSmsLength {
		return models.SmsAlert{}, newServiceError(opSendSmsAlert, "sms_too_long",
			fmt.Errorf("%w: sms text exceeds %d characters", models.ErrInvalidInput, maxSmsLength))
	}
	alertType := models.AlertTypeInfo
	if strings.TrimSpace(input.AlertType) != "" {
		parsed, ok := models.ParseAlertType(input.AlertType)
		if !ok {
			return models.SmsAlert{}, newServiceError(opSendSmsAlert, "invalid_type",
				fmt.Errorf("%w: unknown alert type %q", models.ErrInvalidInput, input.AlertType))
		}
		alertType = parsed
	}
	priority, ok := models.ParseSmsPriority(input.Priority)
	if !ok {
		return models.SmsAlert{}, newServiceError(opSendSmsAlert, "invalid_priority",
			fmt.Errorf("%w: unknown sms priority %q", models.ErrInvalidInput, input.Priority))
	}

	targets, err := scopeTargets(caller, input.TargetVillages)
	if err != nil {
		return models.SmsAlert{}, newServiceError(opSendSmsAlert, "invalid_targets", err)
	}
	recipients, err := w.resolveRecipients(ctx, opSendSmsAlert, targets)
	if err != nil {
		return models.SmsAlert{}, err
	}

	record := models.SmsAlert{
		SenderID:       caller.ID,
		Message:        message,
		AlertType:      alertType,
		Priority:       priority,
		TargetVillages: targets,
	}
	if err := w.insertSmsRecord(ctx, opSendSmsAlert, &record, len(recipients)); err != nil {
		return models.SmsAlert{}, err
	}
	// Nothing is rolled back once the provider was called; a lost status update is reported on
	// the record instead.
	if err := w.dispatchSms(ctx, opSendSmsAlert, &record, recipients, true); err != nil {
		record.RecordFailed = true
		w.metrics.SmsRecordFailure()
	}

	w.publisher.Publish(realtime.SmsAlertSent{SmsAlert: record})
	return record, nil
}

// insertSmsRecord stores record as pending with its pre-filter recipient count.
func (w *Workflow) insertSmsRecord(ctx context.Context, operation string, record *models.SmsAlert, recipientCount int) error {
	record.RecipientCount = recipientCount
	record.DeliveryStatus = models.DeliveryStatusPending
	record.CreatedAt = w.clock().UTC()

	id, err := w.idProvider.NewID()
	if err != nil {
		logServiceError(w.logger, operation, "id_generation_failed", err)
		return newServiceError(operation, "id_generation_failed", err)
	}
	record.ID = id
	if err := w.db.WithContext(ctx).Create(record).Error; err != nil {
		logServiceError(w.logger, operation, "sms_insert_failed", err, zap.String("sender_id", record.SenderID))
		return newServiceError(operation, "sms_insert_failed", err)
	}
	return nil
}

// dispatchSms runs the dispatcher and sets the terminal status and counters on record. When
// persist is set they are written back in a single update.
func (w *Workflow) dispatchSms(ctx context.Context, operation string, record *models.SmsAlert, recipients []models.User, persist bool) error {
	candidates := make([]sms.Recipient, 0, len(recipients))
	for _, user := range recipients {
		candidates = append(candidates, sms.RecipientFromUser(user))
	}
	outcome := w.dispatcher.Dispatch(ctx, record.Message, candidates)

	sentAt := w.clock().UTC()
	record.SuccessCount = outcome.SuccessCount
	record.FailureCount = outcome.FailureCount
	record.SkippedCount = outcome.SkippedCount
	record.DeliveryStatus = outcome.Status
	if !record.DeliveryStatus.Terminal() {
		record.DeliveryStatus = sms.RollupStatus(outcome.SuccessCount, outcome.FailureCount)
	}
	record.SentAt = &sentAt
	if !persist {
		return nil
	}

	err := w.db.WithContext(ctx).
		Model(&models.SmsAlert{ID: record.ID}).
		Select("success_count", "failure_count", "skipped_count", "delivery_status", "sent_at").
		Updates(record).Error
	if err != nil {
		logServiceError(w.logger, operation, "sms_update_failed", err,
			zap.String("sms_alert_id", record.ID),
			zap.String("delivery_status", string(record.DeliveryStatus)))
		return newServiceError(operation, "sms_update_failed", err)
	}
	return nil
}

// resolveRecipients loads target users, keeping the first occurrence of each id.
func (w *Workflow) resolveRecipients(ctx context.Context, operation string, targets []string) ([]models.User, error) {
	users, err := w.directory.UsersInVillages(ctx, targets)
	if err != nil {
		logServiceError(w.logger, operation, "recipient_lookup_failed", err, zap.Strings("target_villages", targets))
		return nil, newServiceError(operation, "recipient_lookup_failed", err)
	}
	seen := make(map[string]struct{}, len(users))
	unique := make([]models.User, 0, len(users))
	for _, user := range users {
		if _, ok := seen[user.ID]; ok {
			continue
		}
		seen[user.ID] = struct{}{}
		unique = append(unique, user)
	}
	return unique, nil
}

// scopeTargets applies village scoping: village admins always target their own village, system
// admins get their list in the given order with blank entries dropped.
func scopeTargets(caller models.User, requested []string) ([]string, error) {
	if caller.IsSystemAdmin {
		targets := make([]string, 0, len(requested))
		for _, villageID := range requested {
			if trimmed := strings.TrimSpace(villageID); trimmed != "" {
				targets = append(targets, trimmed)
			}
		}
		if len(targets) == 0 {
			return nil, fmt.Errorf("%w: at least one target village is required", models.ErrInvalidInput)
		}
		return targets, nil
	}
	if !caller.IsVillageAdmin {
		return nil, models.ErrForbidden
	}
	village := caller.HomeVillage()
	if village == "" {
		return nil, fmt.Errorf("%w: village admin has no village", models.ErrForbidden)
	}
	return []string{village}, nil
}

func validateAlertText(title, message string) error {
	if title == "" {
		return fmt.Errorf("%w: title is required", models.ErrInvalidInput)
	}
	if utf8.RuneCountInString(title) > maxTitleLength {
		return fmt.Errorf("%w: title exceeds %d characters", models.ErrInvalidInput, maxTitleLength)
	}
	if message == "" {
		return fmt.Errorf("%w: message is required", models.ErrInvalidInput)
	}
	return nil
}

func composeSmsText(title, message string) string {
	return title + ": " + message
}
