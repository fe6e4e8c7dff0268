package domain

import (
	"context"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Service interface {
	IngestWebhook(ctx context.Context, provider string, payload []byte, headers http.Header) error
	ListEvents(ctx context.Context, filter ListEventsFilter) ([]EventRecord, error)
}

type Repository interface {
	FindEvent(ctx context.Context, db *gorm.DB, provider, providerEventID string) (*EventRecord, error)
	InsertEvent(ctx context.Context, db *gorm.DB, event *EventRecord) (bool, error)
	MarkStatus(ctx context.Context, db *gorm.DB, id snowflake.ID, status EventStatus, errMsg string, processedAt *time.Time) error
	ListEvents(ctx context.Context, db *gorm.DB, filter ListEventsFilter) ([]EventRecord, error)
}

// Adapter verifies and classifies the webhooks of one gateway.
type Adapter interface {
	Verify(ctx context.Context, payload []byte, headers http.Header) error
	Parse(ctx context.Context, payload []byte) (Event, error)
}

type AdapterConfig struct {
	Provider      string
	WebhookSecret string
	Tolerance     time.Duration
}

type AdapterFactory interface {
	Provider() string
	NewAdapter(cfg AdapterConfig) (Adapter, error)
}

// SubscriptionFetcher loads a subscription from the gateway API. Checkout
// completions only reference the subscription by id.
type SubscriptionFetcher interface {
	FetchSubscription(ctx context.Context, id string) (*SubscriptionSnapshot, error)
}
