package models

import "time"

type TransactionType string

const (
	TransactionEntryFee     TransactionType = "entry_fee"
	TransactionSubscription TransactionType = "subscription"
	TransactionRefund       TransactionType = "refund"
)

type TransactionStatus string

const (
	TransactionPending           TransactionStatus = "pending"
	TransactionSucceeded         TransactionStatus = "succeeded"
	TransactionFailed            TransactionStatus = "failed"
	TransactionRefunded          TransactionStatus = "refunded"
	TransactionPartiallyRefunded TransactionStatus = "partially_refunded"
)

// PaymentTransaction is a ledger entry for one money movement. Rows are
// created only by the webhook reconciler once the provider has confirmed the
// charge, and are immutable afterwards except for the refund fields.
// Invariant for non-refund rows: AmountCents = PlatformFeeCents + NetToOwnerCents.
type PaymentTransaction struct {
	ID string `gorm:"primaryKey;type:uuid" json:"id"`

	// Stripe references
	PaymentIntentID   string `gorm:"type:varchar(255);index" json:"payment_intent_id"`
	CheckoutSessionID string `gorm:"type:varchar(255);index" json:"checkout_session_id,omitempty"`

	TeamID        string `gorm:"type:uuid;index" json:"team_id"`
	CompetitionID string `gorm:"type:uuid;index" json:"competition_id"`
	AccountID     string `gorm:"type:uuid;index" json:"account_id"`

	// Amounts in cents; the integer is the authoritative unit.
	AmountCents      int64 `gorm:"not null" json:"amount_cents"`
	PlatformFeeCents int64 `gorm:"default:0" json:"platform_fee_cents"`
	NetToOwnerCents  int64 `gorm:"default:0" json:"net_to_owner_cents"`

	Currency string `gorm:"type:varchar(3);default:'USD'" json:"currency"`

	Type   TransactionType   `gorm:"type:varchar(32);not null;index" json:"type"`
	Status TransactionStatus `gorm:"type:varchar(32);not null;index" json:"status"`

	// Refund tracking
	RefundedAmountCents int64      `gorm:"default:0" json:"refunded_amount_cents"`
	RefundedAt          *time.Time `json:"refunded_at,omitempty"`

	ProviderCreatedAt *time.Time `json:"provider_created_at,omitempty"`
	CreatedAt         time.Time  `json:"created_at" gorm:"autoCreateTime;index"`
}
