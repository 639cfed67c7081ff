package realtime

import (
	"encoding/json"

	"github.com/MarcoPoloResearchLab/villagewatch/internal/models"
)

// EventKind is the wire discriminator of a realtime event.
type EventKind string

const (
	KindIncidentCreated EventKind = "incident-created"
	KindIncidentUpdated EventKind = "incident-updated"
	KindIncidentDeleted EventKind = "incident-deleted"
	KindAlertCreated    EventKind = "alert-created"
	KindAlertResolved   EventKind = "alert-resolved"
	KindSmsAlertSent    EventKind = "sms-alert-sent"
)

// Event is the closed set of payloads the hub can publish. Each kind has exactly one struct.
type Event interface {
	Kind() EventKind
	payload() any
}

// IncidentCreated announces a new emergency pin.
type IncidentCreated struct {
	Pin models.EmergencyPin
}

func (IncidentCreated) Kind() EventKind { return KindIncidentCreated }
func (e IncidentCreated) payload() any { return e.Pin }

// IncidentUpdated announces a status change on a pin.
type IncidentUpdated struct {
	Pin models.EmergencyPin
}

func (IncidentUpdated) Kind() EventKind { return KindIncidentUpdated }
func (e IncidentUpdated) payload() any { return e.Pin }

// IncidentDeleted carries the pin as it was before removal.
type IncidentDeleted struct {
	Pin models.EmergencyPin
}

func (IncidentDeleted) Kind() EventKind { return KindIncidentDeleted }
func (e IncidentDeleted) payload() any { return e.Pin }

// AlertCreated announces a persisted alert, its resolved recipients and, when SMS was
// requested, the companion SMS record with its final counters.
type AlertCreated struct {
	Alert        models.Alert
	RecipientIDs []string
	Sms          *models.SmsAlert
}

type alertCreatedPayload struct {
	Alert        models.Alert     `json:"alert"`
	RecipientIDs []string         `json:"recipient_ids"`
	Sms          *models.SmsAlert `json:"sms,omitempty"`
}

func (AlertCreated) Kind() EventKind { return KindAlertCreated }
func (e AlertCreated) payload() any {
	recipients := e.RecipientIDs
	if recipients == nil {
		recipients = []string{}
	}
	return alertCreatedPayload{Alert: e.Alert, RecipientIDs: recipients, Sms: e.Sms}
}

// AlertResolved announces that an alert left the active state.
type AlertResolved struct {
	Alert models.Alert
}

func (AlertResolved) Kind() EventKind { return KindAlertResolved }
func (e AlertResolved) payload() any { return e.Alert }

// SmsAlertSent announces a finished standalone SMS dispatch.
type SmsAlertSent struct {
	SmsAlert models.SmsAlert
}

func (SmsAlertSent) Kind() EventKind { return KindSmsAlertSent }
func (e SmsAlertSent) payload() any { return e.SmsAlert }

// Envelope is the JSON frame written to clients.
type Envelope struct {
	Type EventKind       `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Encode serializes an event into its wire frame.
func Encode(event Event) ([]byte, error) {
	data, err := json.Marshal(event.payload())
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Type: event.Kind(), Data: data})
}

// Publisher accepts events for fan-out. Hub and Relay both satisfy it.
type Publisher interface {
	Publish(event Event)
}
