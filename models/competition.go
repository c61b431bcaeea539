package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type CompetitionStatus string

const (
	CompetitionDraft     CompetitionStatus = "draft"
	CompetitionPublished CompetitionStatus = "published"
	CompetitionActive    CompetitionStatus = "active"
	CompetitionCompleted CompetitionStatus = "completed"
	CompetitionCancelled CompetitionStatus = "cancelled"
)

// Competition is a paid event run by an organizer Account. Fee fields are
// immutable once published; the fee percentage is read at charge time.
type Competition struct {
	ID        string `gorm:"primaryKey;type:uuid" json:"id"`
	AccountID string `gorm:"type:uuid;not null;index" json:"account_id"`
	Name      string `gorm:"not null" json:"name"`
	Slug      string `gorm:"uniqueIndex;type:varchar(128)" json:"slug"` // shareable registration link token

	Description string `gorm:"type:text" json:"description"`

	// Financial. EntryFee is in whole currency units (e.g. 100.00 USD);
	// PlatformFeePercent is 0–100.
	EntryFee           decimal.Decimal `gorm:"type:numeric(10,2);not null" json:"entry_fee"`
	PlatformFeePercent decimal.Decimal `gorm:"type:numeric(5,2);default:8.00" json:"platform_fee_percent"`

	MaxTeams             int        `gorm:"default:0" json:"max_teams"` // 0 = unlimited
	RegistrationDeadline *time.Time `json:"registration_deadline,omitempty"`

	Status      CompetitionStatus `gorm:"type:varchar(32);default:'draft';index" json:"status"`
	PublishedAt *time.Time        `json:"published_at,omitempty" gorm:"index"`

	// Relationships
	Account Account `json:"account,omitempty" gorm:"foreignKey:AccountID"`
	Teams   []Team  `json:"teams,omitempty" gorm:"foreignKey:CompetitionID"`

	Timestamps
}

// EntryFeeCents converts the configured fee to the authoritative integer unit.
func (c *Competition) EntryFeeCents() int64 {
	return c.EntryFee.Mul(decimal.NewFromInt(100)).IntPart()
}
