package models

import "time"

type SubscriptionStatus string

const (
	SubscriptionNone       SubscriptionStatus = "none"
	SubscriptionActive     SubscriptionStatus = "active"
	SubscriptionPastDue    SubscriptionStatus = "past_due"
	SubscriptionCancelled  SubscriptionStatus = "cancelled" // terminal
	SubscriptionIncomplete SubscriptionStatus = "incomplete"
	SubscriptionTrialing   SubscriptionStatus = "trialing"
)

// Team is a registrant's entry into a competition, plus its payment state.
// Payment and subscription fields are mutated only by the webhook reconciler
// and the grace-period sweep, never by request handlers.
type Team struct {
	ID             string `gorm:"primaryKey;type:uuid" json:"id"`
	CompetitionID  string `gorm:"type:uuid;not null;index:idx_teams_competition;uniqueIndex:uk_teams_competition_name" json:"competition_id"`
	ExternalUserID string `gorm:"not null;index" json:"external_user_id"` // registrant (gateway user id)
	Name           string `gorm:"not null;uniqueIndex:uk_teams_competition_name" json:"name"`

	// Entry fee
	EntryFeePaid   bool       `gorm:"default:false" json:"entry_fee_paid"`
	EntryFeePaidAt *time.Time `json:"entry_fee_paid_at,omitempty"`

	// Stripe references kept for reconciliation
	CustomerID            *string `gorm:"type:varchar(255)" json:"customer_id,omitempty"`
	LatestInvoiceID       *string `gorm:"type:varchar(255)" json:"latest_invoice_id,omitempty"`
	LatestPaymentIntentID *string `gorm:"type:varchar(255)" json:"latest_payment_intent_id,omitempty"`

	// Recurring dues
	SubscriptionID     *string            `gorm:"uniqueIndex;type:varchar(255)" json:"subscription_id,omitempty"`
	SubscriptionStatus SubscriptionStatus `gorm:"type:varchar(32);default:'none';index" json:"subscription_status"`
	CurrentPeriodStart *time.Time         `json:"current_period_start,omitempty"`
	CurrentPeriodEnd   *time.Time         `json:"current_period_end,omitempty"`
	CancelAt           *time.Time         `json:"cancel_at,omitempty"`

	// Eligibility is derived from payment standing. After a payment failure
	// the team keeps eligibility until GraceEndsAt passes.
	IsEligible  bool       `gorm:"default:true;index" json:"is_eligible"`
	GraceEndsAt *time.Time `json:"grace_ends_at,omitempty"`

	RegisteredAt *time.Time `json:"registered_at,omitempty"`

	// Relationships
	Competition Competition `json:"competition,omitempty" gorm:"foreignKey:CompetitionID"`

	Timestamps
}
