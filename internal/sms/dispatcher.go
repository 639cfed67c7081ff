package sms

import (
	"context"
	"strings"

	"github.com/MarcoPoloResearchLab/villagewatch/internal/metrics"
	"github.com/MarcoPoloResearchLab/villagewatch/internal/models"
	"go.uber.org/zap"
)

// Transport sends one SMS. Any error is a failed attempt for that recipient only.
type Transport interface {
	Send(ctx context.Context, phone, message string) error
}

// Recipient is a candidate for an SMS send.
type Recipient struct {
	UserID        string
	Phone         string
	PhoneVerified bool
}

// Eligible reports whether the recipient may be contacted at all.
func (r Recipient) Eligible() bool {
	return r.PhoneVerified && strings.TrimSpace(r.Phone) != ""
}

// RecipientFromUser adapts a directory user.
func RecipientFromUser(user models.User) Recipient {
	return Recipient{UserID: user.ID, Phone: user.Phone, PhoneVerified: user.PhoneVerified}
}

// Result tallies a dispatch run. SuccessCount+FailureCount always equals the number of
// recipients passed in; SkippedCount is the part of FailureCount that was never attempted.
type Result struct {
	SuccessCount int
	FailureCount int
	SkippedCount int
	Status       models.DeliveryStatus
}

// Attempted returns how many transport calls were made.
func (r Result) Attempted() int {
	return r.SuccessCount + r.FailureCount - r.SkippedCount
}

// RollupStatus derives the overall delivery status. Zero successes is always failed, including
// the empty run.
func RollupStatus(successCount, failureCount int) models.DeliveryStatus {
	switch {
	case successCount == 0:
		return models.DeliveryStatusFailed
	case failureCount == 0:
		return models.DeliveryStatusSent
	default:
		return models.DeliveryStatusPartiallySent
	}
}

// DispatcherConfig describes the collaborators of a Dispatcher.
type DispatcherConfig struct {
	Transport Transport
	Logger    *zap.Logger
	Metrics   *metrics.Recorder
}

// Dispatcher sends one message to a list of recipients, one at a time.
type Dispatcher struct {
	transport Transport
	logger    *zap.Logger
	metrics   *metrics.Recorder
}

// NewDispatcher constructs a dispatcher; a nil transport behaves like DisabledTransport.
func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	transport := cfg.Transport
	if transport == nil {
		transport = DisabledTransport{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{transport: transport, logger: logger, metrics: cfg.Metrics}
}

// Dispatch attempts every eligible recipient and rolls the outcome up. It never returns an
// error: transport failures are counted, not propagated.
func (d *Dispatcher) Dispatch(ctx context.Context, message string, recipients []Recipient) Result {
	var result Result
	for _, recipient := range recipients {
		if !recipient.Eligible() {
			result.FailureCount++
			result.SkippedCount++
			d.metrics.SmsRecipient("skipped")
			d.logger.Debug("sms recipient skipped",
				zap.String("user_id", recipient.UserID),
				zap.Bool("phone_verified", recipient.PhoneVerified))
			continue
		}
		if err := d.transport.Send(ctx, strings.TrimSpace(recipient.Phone), message); err != nil {
			result.FailureCount++
			d.metrics.SmsRecipient("failed")
			d.logger.Warn("sms send failed",
				zap.String("user_id", recipient.UserID),
				zap.Error(err))
			continue
		}
		result.SuccessCount++
		d.metrics.SmsRecipient("sent")
	}

	result.Status = RollupStatus(result.SuccessCount, result.FailureCount)
	d.metrics.SmsDispatch(string(result.Status))
	d.logger.Info("sms dispatch completed",
		zap.Int("recipients", len(recipients)),
		zap.Int("attempted", result.Attempted()),
		zap.Int("success_count", result.SuccessCount),
		zap.Int("failure_count", result.FailureCount),
		zap.Int("skipped_count", result.SkippedCount),
		zap.String("status", string(result.Status)))
	return result
}
