package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

type EventStatus string

const (
	EventStatusReceived  EventStatus = "received"
	EventStatusProcessed EventStatus = "processed"
	EventStatusPartial   EventStatus = "partial"
	EventStatusIgnored   EventStatus = "ignored"
	EventStatusRejected  EventStatus = "rejected"
	EventStatusFailed    EventStatus = "failed"
)

// Terminal reports whether a redelivery of the event can be acknowledged
// without dispatching it again.
func (s EventStatus) Terminal() bool {
	switch s {
	case EventStatusProcessed, EventStatusPartial, EventStatusIgnored, EventStatusRejected:
		return true
	default:
		return false
	}
}

func ParseEventStatus(raw string) (EventStatus, bool) {
	status := EventStatus(raw)
	switch status {
	case EventStatusReceived, EventStatusProcessed, EventStatusPartial,
		EventStatusIgnored, EventStatusRejected, EventStatusFailed:
		return status, true
	default:
		return "", false
	}
}

// EventRecord is the delivery log of one gateway event.
type EventRecord struct {
	ID              snowflake.ID   `json:"id" gorm:"primaryKey;autoIncrement:false"`
	Provider        string         `json:"provider" gorm:"type:text;not null;uniqueIndex:ux_payment_events_provider_event,priority:1"`
	ProviderEventID string         `json:"provider_event_id" gorm:"type:text;not null;uniqueIndex:ux_payment_events_provider_event,priority:2"`
	EventType       string         `json:"event_type" gorm:"type:text;not null"`
	Status          EventStatus    `json:"status" gorm:"type:text;not null;index"`
	Error           string         `json:"error,omitempty" gorm:"type:text"`
	Attempts        int            `json:"attempts" gorm:"not null;default:0"`
	Payload         datatypes.JSON `json:"payload" gorm:"not null"`
	ReceivedAt      time.Time      `json:"received_at" gorm:"not null"`
	ProcessedAt     *time.Time     `json:"processed_at"`
}

func (EventRecord) TableName() string { return "payment_events" }

type ListEventsFilter struct {
	Status EventStatus
	Limit  int
}
