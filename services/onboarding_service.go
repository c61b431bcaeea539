package services

import (
	"errors"
	"log"
	"os"
	"time"

	"league-payment-system/models"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/account"
	"github.com/stripe/stripe-go/v81/accountlink"
	"gorm.io/gorm"
)

// OnboardingService owns the payout-account verification lifecycle. It is the
// only code that mutates Account status fields.
type OnboardingService struct {
	DB          *gorm.DB
	FrontendURL string
}

func NewOnboardingService(db *gorm.DB) *OnboardingService {
	frontendURL := os.Getenv("FRONTEND_URL")
	if frontendURL == "" {
		frontendURL = "http://localhost:5173"
	}
	return &OnboardingService{DB: db, FrontendURL: frontendURL}
}

// ApplyAccountStatus is the pure transition function of the onboarding state
// machine. It is deterministic in its three inputs, so the webhook push path
// and the manual refresh pull path produce identical output for identical
// provider state.
func ApplyAccountStatus(chargesEnabled, payoutsEnabled, detailsSubmitted bool) (models.OnboardingStatus, models.PayoutStatus) {
	switch {
	case chargesEnabled && payoutsEnabled:
		return models.OnboardingVerified, models.PayoutEnabled
	case detailsSubmitted:
		return models.OnboardingIncomplete, models.PayoutPending
	default:
		return models.OnboardingIncomplete, models.PayoutNone
	}
}

// CreateOnboardingLink creates the organizer's Stripe account on first call
// (an existing payout account id is reused) and returns a
// single-use onboarding link with its expiry.
func (s *OnboardingService) CreateOnboardingLink(c *fiber.Ctx) error {
	userID, _ := c.Locals("user_id").(string)
	if userID == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "missing user context"})
	}

	var body struct {
		Email    string `json:"email"`
		FullName string `json:"full_name"`
	}
	_ = c.BodyParser(&body)

	var acct models.Account
	err := s.DB.Where("external_user_id = ?", userID).First(&acct).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		acct = models.Account{
			ID:               uuid.NewString(),
			ExternalUserID:   userID,
			Email:            body.Email,
			FullName:         body.FullName,
			OnboardingStatus: models.OnboardingNotStarted,
			PayoutStatus:     models.PayoutNone,
		}
		if err := s.DB.Create(&acct).Error; err != nil {
			return c.Status(500).JSON(fiber.Map{"error": "failed to create account"})
		}
	} else if err != nil {
		return c.Status(500).JSON(fiber.Map{"error": "failed to load account"})
	}

	entityLocks.Lock("account:" + acct.ID)
	defer entityLocks.Unlock("account:" + acct.ID)

	payoutAccountID, err := s.ensurePayoutAccount(&acct)
	if err != nil {
		log.Printf("❌ [ONBOARDING] Failed to create payout account: userID=%s err=%v", userID, err)
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": ErrProviderUnavailable.Error()})
	}

	linkParams := &stripe.AccountLinkParams{
		Account:    stripe.String(payoutAccountID),
		RefreshURL: stripe.String(s.FrontendURL + "/dashboard/stripe/refresh"),
		ReturnURL:  stripe.String(s.FrontendURL + "/dashboard/stripe/return"),
		Type:       stripe.String("account_onboarding"),
	}
	link, err := accountlink.New(linkParams)
	if err != nil {
		log.Printf("❌ [ONBOARDING] Failed to create onboarding link: accountID=%s err=%v", payoutAccountID, err)
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": ErrProviderUnavailable.Error()})
	}

	log.Printf("✅ [ONBOARDING] Onboarding link created: userID=%s accountID=%s expiresAt=%d", userID, payoutAccountID, link.ExpiresAt)

	return c.JSON(fiber.Map{
		"url":        link.URL,
		"expires_at": link.ExpiresAt,
	})
}

// ensurePayoutAccount creates the external payout account exactly once.
// Returns the existing id with no state change when one is already recorded.
func (s *OnboardingService) ensurePayoutAccount(acct *models.Account) (string, error) {
	if acct.PayoutAccountID != nil && *acct.PayoutAccountID != "" {
		return *acct.PayoutAccountID, nil
	}

	params := &stripe.AccountParams{
		Type:  stripe.String(string(stripe.AccountTypeStandard)),
		Email: stripe.String(acct.Email),
		Capabilities: &stripe.AccountCapabilitiesParams{
			CardPayments: &stripe.AccountCapabilitiesCardPaymentsParams{Requested: stripe.Bool(true)},
			Transfers:    &stripe.AccountCapabilitiesTransfersParams{Requested: stripe.Bool(true)},
		},
	}
	created, err := account.New(params)
	if err != nil {
		return "", err
	}

	acct.PayoutAccountID = &created.ID
	acct.OnboardingStatus = models.OnboardingIncomplete
	if err := s.DB.Model(acct).Updates(map[string]interface{}{
		"payout_account_id": created.ID,
		"onboarding_status": models.OnboardingIncomplete,
	}).Error; err != nil {
		return "", err
	}

	log.Printf("✅ [ONBOARDING] Created payout account: accountID=%s externalUserID=%s", created.ID, acct.ExternalUserID)
	return created.ID, nil
}

// RefreshAccountStatus is the manual pull counterpart to the account.updated
// webhook: same provider lookup, same pure transition, same persistence.
func (s *OnboardingService) RefreshAccountStatus(c *fiber.Ctx) error {
	userID, _ := c.Locals("user_id").(string)
	if userID == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "missing user context"})
	}

	var acct models.Account
	if err := s.DB.Where("external_user_id = ?", userID).First(&acct).Error; err != nil {
		return c.Status(404).JSON(fiber.Map{"error": ErrNotFound.Error()})
	}
	if acct.PayoutAccountID == nil || *acct.PayoutAccountID == "" {
		return c.Status(400).JSON(fiber.Map{"error": "onboarding not started"})
	}

	remote, err := account.GetByID(*acct.PayoutAccountID, nil)
	if err != nil {
		log.Printf("❌ [ONBOARDING] Failed to retrieve account: accountID=%s err=%v", *acct.PayoutAccountID, err)
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": ErrProviderUnavailable.Error()})
	}

	if err := s.ApplyProviderAccountState(acct.ID, remote.ChargesEnabled, remote.PayoutsEnabled, remote.DetailsSubmitted); err != nil {
		return c.Status(500).JSON(fiber.Map{"error": "failed to persist account status"})
	}

	// Re-read so the response reflects the transition.
	if err := s.DB.First(&acct, "id = ?", acct.ID).Error; err != nil {
		return c.Status(500).JSON(fiber.Map{"error": "failed to load account"})
	}

	return c.JSON(fiber.Map{
		"onboarding_status": acct.OnboardingStatus,
		"payout_status":     acct.PayoutStatus,
		"onboarded_at":      acct.OnboardedAt,
	})
}

// ApplyProviderAccountState persists the result of the pure transition for a
// local account id. The onboarding timestamp is stamped on the first
// transition into verified and never overwritten.
func (s *OnboardingService) ApplyProviderAccountState(localAccountID string, chargesEnabled, payoutsEnabled, detailsSubmitted bool) error {
	entityLocks.Lock("account:" + localAccountID)
	defer entityLocks.Unlock("account:" + localAccountID)

	return s.DB.Transaction(func(tx *gorm.DB) error {
		var acct models.Account
		if err := tx.First(&acct, "id = ?", localAccountID).Error; err != nil {
			return err
		}
		return applyAccountStatusTx(tx, &acct, chargesEnabled, payoutsEnabled, detailsSubmitted)
	})
}

// applyAccountStatusTx runs the pure transition and writes the result inside
// the caller's transaction. Blocked accounts stay blocked regardless of
// provider flags; unblocking is an operator action, not a webhook one.
func applyAccountStatusTx(tx *gorm.DB, acct *models.Account, chargesEnabled, payoutsEnabled, detailsSubmitted bool) error {
	if acct.OnboardingStatus == models.OnboardingBlocked {
		log.Printf("⚠️ [ONBOARDING] Ignoring provider update for blocked account: accountID=%s", acct.ID)
		return nil
	}

	onboarding, payout := ApplyAccountStatus(chargesEnabled, payoutsEnabled, detailsSubmitted)

	updates := map[string]interface{}{
		"onboarding_status": onboarding,
		"payout_status":     payout,
	}
	if onboarding == models.OnboardingVerified && acct.OnboardedAt == nil {
		updates["onboarded_at"] = time.Now().UTC()
	}

	if err := tx.Model(&models.Account{}).Where("id = ?", acct.ID).Updates(updates).Error; err != nil {
		return err
	}

	log.Printf("✅ [ONBOARDING] Account status applied: accountID=%s %s/%s -> %s/%s",
		acct.ID, acct.OnboardingStatus, acct.PayoutStatus, onboarding, payout)
	return nil
}
