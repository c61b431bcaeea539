package models

import (
	"time"

	"gorm.io/gorm"
)

// OnboardingStatus tracks how far a payout account has progressed through
// provider verification.
type OnboardingStatus string

const (
	OnboardingNotStarted OnboardingStatus = "not_started"
	OnboardingIncomplete OnboardingStatus = "incomplete"
	OnboardingVerified   OnboardingStatus = "verified"
	OnboardingBlocked    OnboardingStatus = "blocked"
)

// PayoutStatus says whether the platform may route funds to the account.
// PayoutEnabled requires OnboardingVerified.
type PayoutStatus string

const (
	PayoutNone    PayoutStatus = "none"
	PayoutPending PayoutStatus = "pending"
	PayoutEnabled PayoutStatus = "enabled"
	PayoutBlocked PayoutStatus = "blocked"
)

// Account is a competition organizer's payout identity.
// Status fields are mutated only by the onboarding service, on account
// creation and on every account.updated event from the provider.
type Account struct {
	ID             string `gorm:"primaryKey;type:uuid" json:"id"`
	ExternalUserID string `gorm:"uniqueIndex;not null" json:"external_user_id"` // Gateway user id
	Email          string `gorm:"not null" json:"email"`
	FullName       string `json:"full_name"`

	// Stripe Connect
	PayoutAccountID  *string          `gorm:"uniqueIndex;type:varchar(255)" json:"payout_account_id,omitempty"`
	OnboardingStatus OnboardingStatus `gorm:"type:varchar(32);default:'not_started'" json:"onboarding_status"`
	PayoutStatus     PayoutStatus     `gorm:"type:varchar(32);default:'none';index" json:"payout_status"`
	OnboardedAt      *time.Time       `json:"onboarded_at,omitempty"` // set once, on first transition into verified

	Timestamps
}

// Timestamps adds GORM auto-times
type Timestamps struct {
	CreatedAt time.Time      `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time      `json:"updated_at" gorm:"autoUpdateTime"`
	DeletedAt gorm.DeletedAt `json:"deleted_at,omitempty" gorm:"index"`
}
