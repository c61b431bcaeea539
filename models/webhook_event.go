package models

import "time"

type WebhookEventStatus string

const (
	WebhookProcessed WebhookEventStatus = "processed"
	WebhookSkipped   WebhookEventStatus = "skipped" // unrecognized type or unresolved entity
	WebhookFailed    WebhookEventStatus = "failed"
)

// WebhookEvent records every provider event id we have accepted, so that
// at-least-once redelivery never double-applies side effects. The unique
// index is the dedupe gate: the reconciler inserts the row with ON CONFLICT
// DO NOTHING before applying anything, and stops if the row already existed.
// Failed rows double as the operator queue for manual reconciliation.
type WebhookEvent struct {
	ID            string             `gorm:"primaryKey;type:uuid" json:"id"`
	StripeEventID string             `gorm:"uniqueIndex;type:varchar(255);not null" json:"stripe_event_id"`
	EventType     string             `gorm:"type:varchar(64);index" json:"event_type"`
	Status        WebhookEventStatus `gorm:"type:varchar(16);default:'processed';index" json:"status"`
	Error         string             `gorm:"type:text" json:"error,omitempty"`
	ProcessedAt   time.Time          `json:"processed_at"`

	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
}
