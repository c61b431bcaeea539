package models

import "time"

type SubscriptionEventType string

const (
	SubEventCreated            SubscriptionEventType = "created"
	SubEventRenewed            SubscriptionEventType = "renewed"
	SubEventPaymentFailed      SubscriptionEventType = "payment_failed"
	SubEventCancelled          SubscriptionEventType = "cancelled"
	SubEventPastDue            SubscriptionEventType = "past_due"
	SubEventGracePeriodStarted SubscriptionEventType = "grace_period_started"
	SubEventReactivated        SubscriptionEventType = "reactivated"
)

// SubscriptionEvent is the append-only audit trail of subscription state
// transitions. Rows are never mutated or deleted.
type SubscriptionEvent struct {
	ID             string                `gorm:"primaryKey;type:uuid" json:"id"`
	TeamID         string                `gorm:"type:uuid;not null;index" json:"team_id"`
	SubscriptionID string                `gorm:"type:varchar(255);index" json:"subscription_id"`
	EventType      SubscriptionEventType `gorm:"type:varchar(32);not null;index" json:"event_type"`
	OldStatus      string                `gorm:"type:varchar(32)" json:"old_status,omitempty"`
	NewStatus      string                `gorm:"type:varchar(32)" json:"new_status"`

	// The provider event that caused this transition, for idempotency tracing.
	StripeEventID string `gorm:"type:varchar(255);index" json:"stripe_event_id,omitempty"`

	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
}
