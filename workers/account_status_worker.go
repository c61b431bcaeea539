package workers

import (
	"context"
	"log"
	"time"

	"league-payment-system/models"
	"league-payment-system/services"

	"github.com/stripe/stripe-go/v81/account"
	"gorm.io/gorm"
)

// AccountStatusWorker reconciles accounts stuck mid-onboarding against the
// payment provider. Webhooks are the primary signal; this poll catches
// deliveries that never arrived.
type AccountStatusWorker struct {
	DB         *gorm.DB
	Onboarding *services.OnboardingService
}

func NewAccountStatusWorker(db *gorm.DB, onboarding *services.OnboardingService) *AccountStatusWorker {
	return &AccountStatusWorker{DB: db, Onboarding: onboarding}
}

// PollAccountStatuses runs until ctx is cancelled, checking incomplete
// accounts against the provider every pollInterval.
func (w *AccountStatusWorker) PollAccountStatuses(ctx context.Context, pollInterval time.Duration) {
	log.Println("Starting account status polling...")

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("Account status polling stopped.")
			return
		case <-ticker.C:
			w.syncIncompleteAccounts()
		}
	}
}

func (w *AccountStatusWorker) syncIncompleteAccounts() {
	var accounts []models.Account
	err := w.DB.
		Where("onboarding_status = ? AND payout_account_id IS NOT NULL", models.OnboardingIncomplete).
		Find(&accounts).Error
	if err != nil {
		log.Printf("❌ Error loading incomplete accounts: %v", err)
		return
	}

	if len(accounts) == 0 {
		return
	}
	log.Printf("Checking %d incomplete account(s) against provider...", len(accounts))

	for _, acct := range accounts {
		remote, err := account.GetByID(*acct.PayoutAccountID, nil)
		if err != nil {
			log.Printf("❌ Failed to retrieve provider account %s: %v", *acct.PayoutAccountID, err)
			continue
		}
		if err := w.Onboarding.ApplyProviderAccountState(acct.ID, remote.ChargesEnabled, remote.PayoutsEnabled, remote.DetailsSubmitted); err != nil {
			log.Printf("❌ Failed to apply status for account %s: %v", acct.ID, err)
		}
	}
}
