package models

import (
	"strings"
	"time"
)

// AlertType classifies in-app and SMS alerts.
type AlertType string

const (
	AlertTypeEmergency AlertType = "emergency"
	AlertTypeWarning   AlertType = "warning"
	AlertTypeInfo      AlertType = "info"
	AlertTypeWeather   AlertType = "weather"
)

// ParseAlertType normalizes raw input into a known AlertType.
func ParseAlertType(raw string) (AlertType, bool) {
	switch AlertType(strings.ToLower(strings.TrimSpace(raw))) {
	case AlertTypeEmergency:
		return AlertTypeEmergency, true
	case AlertTypeWarning:
		return AlertTypeWarning, true
	case AlertTypeInfo:
		return AlertTypeInfo, true
	case AlertTypeWeather:
		return AlertTypeWeather, true
	default:
		return "", false
	}
}

// AlertStatus is the lifecycle state of an in-app alert.
type AlertStatus string

const (
	AlertStatusActive   AlertStatus = "active"
	AlertStatusResolved AlertStatus = "resolved"
)

// DeliveryStatus is the rollup state of an SMS send.
type DeliveryStatus string

const (
	DeliveryStatusPending       DeliveryStatus = "pending"
	DeliveryStatusSent          DeliveryStatus = "sent"
	DeliveryStatusPartiallySent DeliveryStatus = "partially_sent"
	DeliveryStatusFailed        DeliveryStatus = "failed"
)

// Terminal reports whether the status can no longer change.
func (s DeliveryStatus) Terminal() bool {
	return s == DeliveryStatusSent || s == DeliveryStatusPartiallySent || s == DeliveryStatusFailed
}

// SmsPriority ranks SMS sends for operators.
type SmsPriority string

const (
	SmsPriorityLow      SmsPriority = "low"
	SmsPriorityNormal   SmsPriority = "normal"
	SmsPriorityHigh     SmsPriority = "high"
	SmsPriorityCritical SmsPriority = "critical"
)

// ParseSmsPriority normalizes raw input; empty input maps to normal.
func ParseSmsPriority(raw string) (SmsPriority, bool) {
	switch SmsPriority(strings.ToLower(strings.TrimSpace(raw))) {
	case "", SmsPriorityNormal:
		return SmsPriorityNormal, true
	case SmsPriorityLow:
		return SmsPriorityLow, true
	case SmsPriorityHigh:
		return SmsPriorityHigh, true
	case SmsPriorityCritical:
		return SmsPriorityCritical, true
	default:
		return "", false
	}
}

// PinType classifies a reported incident.
type PinType string

const (
	PinTypeFire     PinType = "fire"
	PinTypeSmoke    PinType = "smoke"
	PinTypeFlood    PinType = "flood"
	PinTypeAccident PinType = "accident"
	PinTypeMedical  PinType = "medical"
	PinTypeWeather  PinType = "weather"
	PinTypeSecurity PinType = "security"
	PinTypeOther    PinType = "other"
)

// ParsePinType normalizes raw input into a known PinType.
func ParsePinType(raw string) (PinType, bool) {
	candidate := PinType(strings.ToLower(strings.TrimSpace(raw)))
	switch candidate {
	case PinTypeFire, PinTypeSmoke, PinTypeFlood, PinTypeAccident,
		PinTypeMedical, PinTypeWeather, PinTypeSecurity, PinTypeOther:
		return candidate, true
	default:
		return "", false
	}
}

// PinStatus is the lifecycle state of a reported incident.
type PinStatus string

const (
	PinStatusActive     PinStatus = "active"
	PinStatusResolved   PinStatus = "resolved"
	PinStatusFalseAlarm PinStatus = "false_alarm"
)

// ParsePinStatus normalizes raw input into a known PinStatus.
func ParsePinStatus(raw string) (PinStatus, bool) {
	candidate := PinStatus(strings.ToLower(strings.TrimSpace(raw)))
	switch candidate {
	case PinStatusActive, PinStatusResolved, PinStatusFalseAlarm:
		return candidate, true
	default:
		return "", false
	}
}

// User is a resident account as seen by the alerting core.
type User struct {
	ID             string    `gorm:"column:id;primaryKey;size:64" json:"id"`
	DisplayName    string    `gorm:"column:display_name;size:320" json:"display_name"`
	Phone          string    `gorm:"column:phone;size:32" json:"phone"`
	PhoneVerified  bool      `gorm:"column:phone_verified;not null;default:false" json:"phone_verified"`
	VillageID      *string   `gorm:"column:village_id;size:64;index" json:"village_id"`
	IsVillageAdmin bool      `gorm:"column:is_village_admin;not null;default:false" json:"is_village_admin"`
	IsSystemAdmin  bool      `gorm:"column:is_system_admin;not null;default:false" json:"is_system_admin"`
	CreatedAt      time.Time `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

// TableName provides the explicit table binding for GORM.
func (User) TableName() string {
	return "users"
}

// IsAdmin reports whether the user may send alerts.
func (u User) IsAdmin() bool {
	return u.IsVillageAdmin || u.IsSystemAdmin
}

// HomeVillage returns the user's village id or an empty string.
func (u User) HomeVillage() string {
	if u.VillageID == nil {
		return ""
	}
	return strings.TrimSpace(*u.VillageID)
}

// Village is a directory entry; the alerting core never mutates it.
type Village struct {
	ID       string `gorm:"column:id;primaryKey;size:64" json:"id"`
	Name     string `gorm:"column:name;size:190;not null" json:"name"`
	District string `gorm:"column:district;size:190" json:"district"`
}

// TableName provides the explicit table binding for GORM.
func (Village) TableName() string {
	return "villages"
}

// Alert is an in-app notification targeted at one or more villages.
type Alert struct {
	ID             string      `gorm:"column:id;primaryKey;size:64" json:"id"`
	AdminID        string      `gorm:"column:admin_id;size:64;not null;index" json:"admin_id"`
	Type           AlertType   `gorm:"column:type;size:32;not null" json:"type"`
	Title          string      `gorm:"column:title;size:255;not null" json:"title"`
	Message        string      `gorm:"column:message;type:text;not null" json:"message"`
	TargetVillages []string    `gorm:"column:target_villages;type:text;serializer:json" json:"target_villages"`
	Status         AlertStatus `gorm:"column:status;size:16;not null;index" json:"status"`
	SendSms        bool        `gorm:"column:send_sms;not null;default:false" json:"send_sms"`
	CreatedAt      time.Time   `gorm:"column:created_at;not null;index" json:"created_at"`
	UpdatedAt      time.Time   `gorm:"column:updated_at;not null" json:"updated_at"`
	ResolvedAt     *time.Time  `gorm:"column:resolved_at" json:"resolved_at,omitempty"`
}

// TableName provides the explicit table binding for GORM.
func (Alert) TableName() string {
	return "alerts"
}

// Targets reports whether the alert includes the village.
func (a Alert) Targets(villageID string) bool {
	for _, candidate := range a.TargetVillages {
		if candidate == villageID {
			return true
		}
	}
	return false
}

// AlertDelivery is one delivery receipt per (alert, recipient).
type AlertDelivery struct {
	ID          string     `gorm:"column:id;primaryKey;size:64" json:"id"`
	AlertID     string     `gorm:"column:alert_id;size:64;not null;index:idx_alert_deliveries_alert_user,priority:1" json:"alert_id"`
	UserID      string     `gorm:"column:user_id;size:64;not null;index:idx_alert_deliveries_alert_user,priority:2;index:idx_alert_deliveries_user_time,priority:1" json:"user_id"`
	DeliveredAt time.Time  `gorm:"column:delivered_at;not null;index:idx_alert_deliveries_user_time,priority:2" json:"delivered_at"`
	ReadAt      *time.Time `gorm:"column:read_at" json:"read_at,omitempty"`
}

// TableName provides the explicit table binding for GORM.
func (AlertDelivery) TableName() string {
	return "alert_deliveries"
}

// SmsAlert records one SMS send and its rolled-up outcome.
type SmsAlert struct {
	ID             string         `gorm:"column:id;primaryKey;size:64" json:"id"`
	SenderID       string         `gorm:"column:sender_id;size:64;not null;index" json:"sender_id"`
	AlertID        *string        `gorm:"column:alert_id;size:64;index" json:"alert_id,omitempty"`
	Message        string         `gorm:"column:message;type:text;not null" json:"message"`
	AlertType      AlertType      `gorm:"column:alert_type;size:32;not null" json:"alert_type"`
	Priority       SmsPriority    `gorm:"column:priority;size:16;not null" json:"priority"`
	TargetVillages []string       `gorm:"column:target_villages;type:text;serializer:json" json:"target_villages"`
	RecipientCount int            `gorm:"column:recipient_count;not null;default:0" json:"recipient_count"`
	SuccessCount   int            `gorm:"column:success_count;not null;default:0" json:"success_count"`
	FailureCount   int            `gorm:"column:failure_count;not null;default:0" json:"failure_count"`
	SkippedCount   int            `gorm:"column:skipped_count;not null;default:0" json:"skipped_count"`
	DeliveryStatus DeliveryStatus `gorm:"column:delivery_status;size:16;not null;index" json:"delivery_status"`
	CreatedAt      time.Time      `gorm:"column:created_at;not null;index" json:"created_at"`
	SentAt         *time.Time     `gorm:"column:sent_at" json:"sent_at,omitempty"`
	// RecordFailed is set when the counters above could not be stored.
	RecordFailed bool `gorm:"-" json:"record_failed,omitempty"`
}

// TableName provides the explicit table binding for GORM.
func (SmsAlert) TableName() string {
	return "sms_alerts"
}

// EmergencyPin is a user-submitted incident report.
type EmergencyPin struct {
	ID          string    `gorm:"column:id;primaryKey;size:64" json:"id"`
	UserID      string    `gorm:"column:user_id;size:64;not null;index" json:"user_id"`
	Type        PinType   `gorm:"column:type;size:32;not null" json:"type"`
	Latitude    float64   `gorm:"column:latitude;type:decimal(10,6);not null" json:"latitude"`
	Longitude   float64   `gorm:"column:longitude;type:decimal(10,6);not null" json:"longitude"`
	Description string    `gorm:"column:description;type:text" json:"description"`
	Location    string    `gorm:"column:location;size:255" json:"location"`
	Status      PinStatus `gorm:"column:status;size:16;not null;index" json:"status"`
	CreatedAt   time.Time `gorm:"column:created_at;not null;index" json:"created_at"`
	UpdatedAt   time.Time `gorm:"column:updated_at;not null" json:"updated_at"`
}

// TableName provides the explicit table binding for GORM.
func (EmergencyPin) TableName() string {
	return "emergency_pins"
}

// All lists every persisted model for schema migration.
func All() []any {
	return []any{
		&User{},
		&Village{},
		&Alert{},
		&AlertDelivery{},
		&SmsAlert{},
		&EmergencyPin{},
	}
}
