package services

import (
	"log"
	"os"
	"strconv"

	"league-payment-system/models"

	"github.com/gofiber/fiber/v2"
	"github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/checkout/session"
	"gorm.io/gorm"
)

// CheckoutService composes provider checkout sessions. It never mutates
// local state: a session may be abandoned, and the team is only marked paid
// once checkout.session.completed arrives on the webhook.
type CheckoutService struct {
	DB          *gorm.DB
	FrontendURL string

	// DuesPriceID references a pre-provisioned recurring price. It is
	// configuration, never created per request, so retries cannot leave
	// duplicate price objects behind.
	DuesPriceID     string
	DuesAmountCents int64
}

func NewCheckoutService(db *gorm.DB) *CheckoutService {
	frontendURL := os.Getenv("FRONTEND_URL")
	if frontendURL == "" {
		frontendURL = "http://localhost:5173"
	}
	priceID := os.Getenv("DUES_MONTHLY_PRICE_ID")
	if priceID == "" {
		log.Fatal("DUES_MONTHLY_PRICE_ID environment variable not set")
	}
	duesCents := int64(2000)
	if v := os.Getenv("DUES_AMOUNT_CENTS"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			duesCents = n
		}
	}
	return &CheckoutService{
		DB:          db,
		FrontendURL: frontendURL,
		DuesPriceID: priceID,

		DuesAmountCents: duesCents,
	}
}

// BuildCheckoutParams is the pure composer: one optional one-time entry-fee
// line item plus the mandatory recurring dues item, with destination-routing
// and fee instructions when the organizer has a payout account. Fails with
// ErrAlreadyPaid when the team's entry fee is already settled.
func (s *CheckoutService) BuildCheckoutParams(team *models.Team, competition *models.Competition, owner *models.Account) (*stripe.CheckoutSessionParams, error) {
	if team.EntryFeePaid {
		return nil, ErrAlreadyPaid
	}

	params := &stripe.CheckoutSessionParams{
		Mode:       stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		SuccessURL: stripe.String(s.FrontendURL + "/teams/registration/success?session_id={CHECKOUT_SESSION_ID}"),
		CancelURL:  stripe.String(s.FrontendURL + "/competitions/" + competition.ID),
	}

	// Metadata lets the reconciler resolve the session back to local
	// entities without provider-side search.
	params.AddMetadata("team_id", team.ID)
	params.AddMetadata("competition_id", competition.ID)
	params.AddMetadata("team_name", team.Name)
	params.AddMetadata("competition_name", competition.Name)
	params.AddExpand("subscription")
	params.AddExpand("latest_invoice.payment_intent")

	entryFeeCents := competition.EntryFeeCents()
	if entryFeeCents > 0 {
		params.LineItems = append(params.LineItems, &stripe.CheckoutSessionLineItemParams{
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:   stripe.String("usd"),
				UnitAmount: stripe.Int64(entryFeeCents),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name:        stripe.String(competition.Name + " - Entry Fee"),
					Description: stripe.String("One-time entry fee for " + team.Name),
				},
			},
			Quantity: stripe.Int64(1),
		})
	}

	// Recurring monthly dues, by reference.
	params.LineItems = append(params.LineItems, &stripe.CheckoutSessionLineItemParams{
		Price:    stripe.String(s.DuesPriceID),
		Quantity: stripe.Int64(1),
	})

	if owner != nil && owner.PayoutAccountID != nil && *owner.PayoutAccountID != "" {
		if entryFeeCents > 0 {
			platformFeeCents, _, err := SplitFee(entryFeeCents, competition.PlatformFeePercent)
			if err != nil {
				return nil, err
			}
			params.PaymentIntentData = &stripe.CheckoutSessionPaymentIntentDataParams{
				ApplicationFeeAmount: stripe.Int64(platformFeeCents),
				TransferData: &stripe.CheckoutSessionPaymentIntentDataTransferDataParams{
					Destination: stripe.String(*owner.PayoutAccountID),
				},
			}
		}

		// Dues are platform revenue: 100% application fee, 0% to the owner.
		params.SubscriptionData = &stripe.CheckoutSessionSubscriptionDataParams{
			ApplicationFeePercent: stripe.Float64(100),
			Metadata: map[string]string{
				"team_id":        team.ID,
				"competition_id": competition.ID,
			},
			TransferData: &stripe.CheckoutSessionSubscriptionDataTransferDataParams{
				Destination:   stripe.String(*owner.PayoutAccountID),
				AmountPercent: stripe.Float64(0),
			},
		}
	}

	return params, nil
}

// CreateCheckoutSession composes and creates the provider session for a
// team's registration payment.
func (s *CheckoutService) CreateCheckoutSession(c *fiber.Ctx) error {
	userID, _ := c.Locals("user_id").(string)
	teamID := c.Params("id")

	var team models.Team
	if err := s.DB.First(&team, "id = ?", teamID).Error; err != nil {
		return c.Status(404).JSON(fiber.Map{"error": "team not found"})
	}
	if team.ExternalUserID != userID {
		return c.Status(403).JSON(fiber.Map{"error": "you can only pay for your own team"})
	}

	var competition models.Competition
	if err := s.DB.First(&competition, "id = ?", team.CompetitionID).Error; err != nil {
		return c.Status(404).JSON(fiber.Map{"error": "competition not found"})
	}

	var owner models.Account
	if err := s.DB.First(&owner, "id = ?", competition.AccountID).Error; err != nil {
		return c.Status(404).JSON(fiber.Map{"error": "competition owner not found"})
	}

	params, err := s.BuildCheckoutParams(&team, &competition, &owner)
	if err == ErrAlreadyPaid {
		return c.Status(400).JSON(fiber.Map{"error": ErrAlreadyPaid.Error()})
	}
	if err != nil {
		return c.Status(400).JSON(fiber.Map{"error": err.Error()})
	}

	sess, err := session.New(params)
	if err != nil {
		log.Printf("❌ [CHECKOUT] Failed to create session: teamID=%s err=%v", teamID, err)
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": ErrProviderUnavailable.Error()})
	}

	log.Printf("✅ [CHECKOUT] Session created: sessionID=%s teamID=%s", sess.ID, teamID)

	return c.JSON(fiber.Map{
		"session_id":  sess.ID,
		"session_url": sess.URL,
	})
}
