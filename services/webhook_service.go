package services

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"league-payment-system/models"
	"league-payment-system/utils"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/webhook"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// entityLocks serializes all mutations per team/account key across the
// webhook reconciler, the onboarding service and the grace sweep.
var entityLocks = utils.NewKeyedMutex()

// eventKind is the closed set of provider events the reconciler understands.
// Everything else is eventUnrecognized and acknowledged without side effects.
type eventKind int

const (
	eventUnrecognized eventKind = iota
	eventAccountUpdated
	eventCheckoutCompleted
	eventInvoicePaymentSucceeded
	eventInvoicePaymentFailed
	eventSubscriptionCancelled
)

// providerEvent is the classified, fully-parsed form of one webhook delivery.
// Classification happens once, up front, so the apply functions never touch
// raw JSON.
type providerEvent struct {
	Kind eventKind
	ID   string // provider event id, the idempotency key
	Type string

	// account.updated
	PayoutAccountID  string
	ChargesEnabled   bool
	PayoutsEnabled   bool
	DetailsSubmitted bool

	// checkout.session.completed
	SessionID       string
	TeamID          string
	CompetitionID   string
	PaymentIntentID string
	CustomerID      string

	// shared by checkout + invoice + cancellation events
	SubscriptionID string

	// invoices
	AmountPaidCents   int64
	Currency          string
	PeriodStart       *time.Time
	PeriodEnd         *time.Time
	ProviderCreatedAt *time.Time

	// subscription cancellation
	CancelAt *time.Time
}

// classifyEvent maps a verified provider event onto the closed union.
func classifyEvent(event stripe.Event) (providerEvent, error) {
	pe := providerEvent{Kind: eventUnrecognized, ID: event.ID, Type: string(event.Type)}

	switch event.Type {
	case "account.updated":
		var acct stripe.Account
		if err := json.Unmarshal(event.Data.Raw, &acct); err != nil {
			return pe, fmt.Errorf("parse account payload: %w", err)
		}
		pe.Kind = eventAccountUpdated
		pe.PayoutAccountID = acct.ID
		pe.ChargesEnabled = acct.ChargesEnabled
		pe.PayoutsEnabled = acct.PayoutsEnabled
		pe.DetailsSubmitted = acct.DetailsSubmitted

	case "checkout.session.completed":
		var sess stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
			return pe, fmt.Errorf("parse checkout session payload: %w", err)
		}
		pe.Kind = eventCheckoutCompleted
		pe.SessionID = sess.ID
		pe.TeamID = sess.Metadata["team_id"]
		pe.CompetitionID = sess.Metadata["competition_id"]
		if sess.Subscription != nil {
			pe.SubscriptionID = sess.Subscription.ID
		}
		if sess.PaymentIntent != nil {
			pe.PaymentIntentID = sess.PaymentIntent.ID
		}
		if sess.Customer != nil {
			pe.CustomerID = sess.Customer.ID
		}

	case "invoice.payment_succeeded", "invoice.payment_failed":
		var inv stripe.Invoice
		if err := json.Unmarshal(event.Data.Raw, &inv); err != nil {
			return pe, fmt.Errorf("parse invoice payload: %w", err)
		}
		if event.Type == "invoice.payment_succeeded" {
			pe.Kind = eventInvoicePaymentSucceeded
		} else {
			pe.Kind = eventInvoicePaymentFailed
		}
		pe.PaymentIntentID = inv.ID // fallback reference when the intent is absent
		if inv.PaymentIntent != nil {
			pe.PaymentIntentID = inv.PaymentIntent.ID
		}
		pe.AmountPaidCents = inv.AmountPaid
		pe.Currency = strings.ToUpper(string(inv.Currency))
		if inv.Created > 0 {
			t := time.Unix(inv.Created, 0).UTC()
			pe.ProviderCreatedAt = &t
		}
		if inv.Subscription != nil {
			pe.SubscriptionID = inv.Subscription.ID
		}
		if inv.Lines != nil && len(inv.Lines.Data) > 0 {
			line := inv.Lines.Data[0]
			if pe.SubscriptionID == "" && line.Subscription != nil {
				pe.SubscriptionID = line.Subscription.ID
			}
			if line.Period != nil {
				start := time.Unix(line.Period.Start, 0).UTC()
				end := time.Unix(line.Period.End, 0).UTC()
				pe.PeriodStart = &start
				pe.PeriodEnd = &end
			}
		}

	case "customer.subscription.deleted":
		var sub stripe.Subscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return pe, fmt.Errorf("parse subscription payload: %w", err)
		}
		pe.Kind = eventSubscriptionCancelled
		pe.SubscriptionID = sub.ID
		if sub.CancelAt > 0 {
			t := time.Unix(sub.CancelAt, 0).UTC()
			pe.CancelAt = &t
		}
	}

	return pe, nil
}

// WebhookService is the reconciliation hub: it verifies, classifies and
// idempotently applies provider events to the state machines and the ledger.
type WebhookService struct {
	DB            *gorm.DB
	WebhookSecret string

	DuesAmountCents int64
	GracePeriod     time.Duration
}

func NewWebhookService(db *gorm.DB, checkout *CheckoutService) *WebhookService {
	secret := os.Getenv("STRIPE_WEBHOOK_SECRET")
	if secret == "" {
		log.Fatal("STRIPE_WEBHOOK_SECRET environment variable not set")
	}
	graceDays := 7
	if v := os.Getenv("GRACE_PERIOD_DAYS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			graceDays = n
		}
	}
	return &WebhookService{
		DB:            db,
		WebhookSecret: secret,

		DuesAmountCents: checkout.DuesAmountCents,
		GracePeriod:     time.Duration(graceDays) * 24 * time.Hour,
	}
}

// HandleStripeWebhook is the inbound endpoint. Signature or parse failures
// answer 400 without touching state. Once the signature has verified, the
// endpoint always acknowledges 200; application failures are recorded on the
// webhook_events row for operator follow-up instead of provoking provider
// retry storms.
func (s *WebhookService) HandleStripeWebhook(c *fiber.Ctx) error {
	payload := c.Body()
	sigHeader := c.Get("Stripe-Signature")

	event, err := webhook.ConstructEventWithOptions(payload, sigHeader, s.WebhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		log.Printf("🚫 [WEBHOOK] Invalid signature or payload: %v", err)
		return c.Status(fiber.StatusBadRequest).SendString("Invalid signature")
	}

	pe, err := classifyEvent(event)
	if err != nil {
		// Signature was valid but a known type carried an unreadable payload.
		log.Printf("❌ [WEBHOOK] Failed to classify event: id=%s type=%s err=%v", event.ID, event.Type, err)
		s.recordOutcome(pe, models.WebhookFailed, err.Error())
		return c.SendString("Webhook received but processing failed")
	}

	if pe.Kind == eventUnrecognized {
		log.Printf("Unhandled event type: %s (id=%s)", pe.Type, pe.ID)
		return c.SendString("Webhook processed")
	}

	log.Printf("Webhook event: type=%s, id=%s", pe.Type, pe.ID)

	if err := s.process(pe); err != nil {
		log.Printf("❌ [WEBHOOK] Processing failed: type=%s id=%s err=%v", pe.Type, pe.ID, err)
		s.recordOutcome(pe, models.WebhookFailed, err.Error())
		return c.SendString("Webhook received but processing failed")
	}

	return c.SendString("Webhook processed")
}

func (s *WebhookService) process(pe providerEvent) error {
	switch pe.Kind {
	case eventAccountUpdated:
		return s.processAccountUpdated(pe)
	case eventCheckoutCompleted:
		return s.processCheckoutCompleted(pe)
	case eventInvoicePaymentSucceeded:
		return s.processInvoicePaid(pe)
	case eventInvoicePaymentFailed:
		return s.processInvoiceFailed(pe)
	case eventSubscriptionCancelled:
		return s.processSubscriptionCancelled(pe)
	}
	return nil
}

// markEventSeen inserts the idempotency row inside the caller's transaction.
// Returns true when the event id was already recorded, in which case no side
// effect may run. The insert rolls back with the transaction, so a failed
// delivery does not poison later processing of its replacement row.
func markEventSeen(tx *gorm.DB, pe providerEvent) (bool, error) {
	row := models.WebhookEvent{
		ID:            uuid.NewString(),
		StripeEventID: pe.ID,
		EventType:     pe.Type,
		Status:        models.WebhookProcessed,
		ProcessedAt:   time.Now().UTC(),
	}
	res := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "stripe_event_id"}},
		DoNothing: true,
	}).Create(&row)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 0, nil
}

// recordOutcome durably stores a terminal outcome for an event id outside of
// any transaction. Used for failures and resolution misses.
func (s *WebhookService) recordOutcome(pe providerEvent, status models.WebhookEventStatus, errText string) {
	if pe.ID == "" {
		return
	}
	row := models.WebhookEvent{
		ID:            uuid.NewString(),
		StripeEventID: pe.ID,
		EventType:     pe.Type,
		Status:        status,
		Error:         errText,
		ProcessedAt:   time.Now().UTC(),
	}
	if err := s.DB.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "stripe_event_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"status", "error", "processed_at"}),
	}).Create(&row).Error; err != nil {
		log.Printf("❌ [WEBHOOK] Failed to record outcome: id=%s err=%v", pe.ID, err)
	}
}

func (s *WebhookService) processAccountUpdated(pe providerEvent) error {
	var acct models.Account
	err := s.DB.Where("payout_account_id = ?", pe.PayoutAccountID).First(&acct).Error
	if err != nil {
		// Unlike team misses this is operator-visible: an account.updated we
		// cannot resolve means local state is out of sync with the provider.
		return fmt.Errorf("no account for payout account %s: %w", pe.PayoutAccountID, err)
	}

	entityLocks.Lock("account:" + acct.ID)
	defer entityLocks.Unlock("account:" + acct.ID)

	return s.DB.Transaction(func(tx *gorm.DB) error {
		seen, err := markEventSeen(tx, pe)
		if err != nil || seen {
			return err
		}
		var fresh models.Account
		if err := tx.First(&fresh, "id = ?", acct.ID).Error; err != nil {
			return err
		}
		return applyAccountStatusTx(tx, &fresh, pe.ChargesEnabled, pe.PayoutsEnabled, pe.DetailsSubmitted)
	})
}

func (s *WebhookService) processCheckoutCompleted(pe providerEvent) error {
	if pe.TeamID == "" || pe.CompetitionID == "" {
		log.Printf("⚠️ [WEBHOOK] Missing metadata in checkout session: sessionID=%s", pe.SessionID)
		s.recordOutcome(pe, models.WebhookSkipped, "missing team/competition metadata")
		return nil
	}

	entityLocks.Lock("team:" + pe.TeamID)
	defer entityLocks.Unlock("team:" + pe.TeamID)

	skipped := ""
	err := s.DB.Transaction(func(tx *gorm.DB) error {
		seen, err := markEventSeen(tx, pe)
		if err != nil || seen {
			return err
		}

		var team models.Team
		if err := tx.First(&team, "id = ?", pe.TeamID).Error; err != nil {
			if err == gorm.ErrRecordNotFound {
				skipped = "team not found"
				return nil
			}
			return err
		}
		if team.EntryFeePaid {
			// Session replay under a fresh event id; the ledger rows exist.
			skipped = "entry fee already settled"
			return nil
		}

		var competition models.Competition
		if err := tx.First(&competition, "id = ?", pe.CompetitionID).Error; err != nil {
			return fmt.Errorf("load competition %s: %w", pe.CompetitionID, err)
		}

		now := time.Now().UTC()
		change := TransitionCheckoutCompleted()
		extra := map[string]interface{}{
			"entry_fee_paid":    true,
			"entry_fee_paid_at": now,
		}
		if pe.SubscriptionID != "" {
			extra["subscription_id"] = pe.SubscriptionID
		}
		if pe.CustomerID != "" {
			extra["customer_id"] = pe.CustomerID
		}
		if pe.PaymentIntentID != "" {
			extra["latest_payment_intent_id"] = pe.PaymentIntentID
		}
		if err := s.applySubscriptionChange(tx, &team, change, pe.SubscriptionID, pe.ID, now, extra); err != nil {
			return err
		}

		entryFeeCents := competition.EntryFeeCents()
		if entryFeeCents > 0 {
			platformFee, net, err := SplitFee(entryFeeCents, competition.PlatformFeePercent)
			if err != nil {
				return err
			}
			entryTx := models.PaymentTransaction{
				ID:                uuid.NewString(),
				PaymentIntentID:   pe.PaymentIntentID,
				CheckoutSessionID: pe.SessionID,
				TeamID:            team.ID,
				CompetitionID:     competition.ID,
				AccountID:         competition.AccountID,
				AmountCents:       entryFeeCents,
				PlatformFeeCents:  platformFee,
				NetToOwnerCents:   net,
				Currency:          "USD",
				Type:              models.TransactionEntryFee,
				Status:            models.TransactionSucceeded,
				ProviderCreatedAt: &now,
			}
			if err := tx.Create(&entryTx).Error; err != nil {
				return err
			}
			log.Printf("Created entry fee transaction: teamID=%s amount=%d", team.ID, entryFeeCents)
		}

		duesFee, duesNet, err := SplitDues(s.DuesAmountCents)
		if err != nil {
			return err
		}
		duesTx := models.PaymentTransaction{
			ID:                uuid.NewString(),
			PaymentIntentID:   pe.PaymentIntentID,
			CheckoutSessionID: pe.SessionID,
			TeamID:            team.ID,
			CompetitionID:     competition.ID,
			AccountID:         competition.AccountID,
			AmountCents:       s.DuesAmountCents,
			PlatformFeeCents:  duesFee,
			NetToOwnerCents:   duesNet,
			Currency:          "USD",
			Type:              models.TransactionSubscription,
			Status:            models.TransactionSucceeded,
			ProviderCreatedAt: &now,
		}
		if err := tx.Create(&duesTx).Error; err != nil {
			return err
		}
		log.Printf("Created subscription transaction: teamID=%s amount=%d", team.ID, s.DuesAmountCents)
		return nil
	})
	if err != nil {
		return err
	}
	if skipped != "" {
		log.Printf("⚠️ [WEBHOOK] Checkout completed skipped: sessionID=%s reason=%s", pe.SessionID, skipped)
		s.recordOutcome(pe, models.WebhookSkipped, skipped)
	}
	return nil
}

// findTeamBySubscriptionID resolves the invoice/cancellation path. Zero
// matches is a clean no-op (the provider may reference entities we no longer
// track); two matches is a data-integrity failure. The unique index on
// teams.subscription_id is the primary guard against that state; this check
// catches rows that bypassed it (manual writes, index rebuilds).
func (s *WebhookService) findTeamBySubscriptionID(subscriptionID string) (*models.Team, error) {
	var teams []models.Team
	if err := s.DB.Where("subscription_id = ?", subscriptionID).Limit(2).Find(&teams).Error; err != nil {
		return nil, err
	}
	switch len(teams) {
	case 0:
		return nil, nil
	case 1:
		return &teams[0], nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrDuplicateSubscriptionID, subscriptionID)
	}
}

func (s *WebhookService) processInvoicePaid(pe providerEvent) error {
	if pe.SubscriptionID == "" {
		log.Printf("⚠️ [WEBHOOK] Invoice has no subscription: eventID=%s", pe.ID)
		s.recordOutcome(pe, models.WebhookSkipped, "invoice without subscription")
		return nil
	}
	team, err := s.findTeamBySubscriptionID(pe.SubscriptionID)
	if err != nil {
		return err
	}
	if team == nil {
		log.Printf("⚠️ [WEBHOOK] No team for subscription: subscriptionID=%s", pe.SubscriptionID)
		s.recordOutcome(pe, models.WebhookSkipped, "no team for subscription")
		return nil
	}

	entityLocks.Lock("team:" + team.ID)
	defer entityLocks.Unlock("team:" + team.ID)

	return s.DB.Transaction(func(tx *gorm.DB) error {
		seen, err := markEventSeen(tx, pe)
		if err != nil || seen {
			return err
		}
		var fresh models.Team
		if err := tx.First(&fresh, "id = ?", team.ID).Error; err != nil {
			return err
		}

		now := time.Now().UTC()
		change := TransitionInvoicePaid(fresh.SubscriptionStatus)
		extra := map[string]interface{}{}
		if pe.PeriodStart != nil {
			extra["current_period_start"] = *pe.PeriodStart
		}
		if pe.PeriodEnd != nil {
			extra["current_period_end"] = *pe.PeriodEnd
		}
		if pe.PaymentIntentID != "" {
			extra["latest_payment_intent_id"] = pe.PaymentIntentID
		}
		if err := s.applySubscriptionChange(tx, &fresh, change, pe.SubscriptionID, pe.ID, now, extra); err != nil {
			return err
		}

		// Renewal dues are platform revenue in full.
		platformFee, net, err := SplitDues(pe.AmountPaidCents)
		if err != nil {
			return err
		}
		currency := pe.Currency
		if currency == "" {
			currency = "USD"
		}
		renewalTx := models.PaymentTransaction{
			ID:                uuid.NewString(),
			PaymentIntentID:   pe.PaymentIntentID,
			TeamID:            fresh.ID,
			CompetitionID:     fresh.CompetitionID,
			AccountID:         "",
			AmountCents:       pe.AmountPaidCents,
			PlatformFeeCents:  platformFee,
			NetToOwnerCents:   net,
			Currency:          currency,
			Type:              models.TransactionSubscription,
			Status:            models.TransactionSucceeded,
			ProviderCreatedAt: pe.ProviderCreatedAt,
		}
		var competition models.Competition
		if err := tx.First(&competition, "id = ?", fresh.CompetitionID).Error; err == nil {
			renewalTx.AccountID = competition.AccountID
		}
		if err := tx.Create(&renewalTx).Error; err != nil {
			return err
		}
		log.Printf("✓ Subscription payment succeeded: teamID=%s subscriptionID=%s", fresh.ID, pe.SubscriptionID)
		return nil
	})
}

func (s *WebhookService) processInvoiceFailed(pe providerEvent) error {
	if pe.SubscriptionID == "" {
		log.Printf("⚠️ [WEBHOOK] Invoice has no subscription: eventID=%s", pe.ID)
		s.recordOutcome(pe, models.WebhookSkipped, "invoice without subscription")
		return nil
	}
	team, err := s.findTeamBySubscriptionID(pe.SubscriptionID)
	if err != nil {
		return err
	}
	if team == nil {
		log.Printf("⚠️ [WEBHOOK] No team for subscription: subscriptionID=%s", pe.SubscriptionID)
		s.recordOutcome(pe, models.WebhookSkipped, "no team for subscription")
		return nil
	}

	entityLocks.Lock("team:" + team.ID)
	defer entityLocks.Unlock("team:" + team.ID)

	return s.DB.Transaction(func(tx *gorm.DB) error {
		seen, err := markEventSeen(tx, pe)
		if err != nil || seen {
			return err
		}
		var fresh models.Team
		if err := tx.First(&fresh, "id = ?", team.ID).Error; err != nil {
			return err
		}

		now := time.Now().UTC()
		graceRunning := fresh.GraceEndsAt != nil && fresh.GraceEndsAt.After(now)
		change := TransitionInvoiceFailed(graceRunning)
		if err := s.applySubscriptionChange(tx, &fresh, change, pe.SubscriptionID, pe.ID, now, nil); err != nil {
			return err
		}
		log.Printf("⚠ Subscription payment failed: teamID=%s subscriptionID=%s", fresh.ID, pe.SubscriptionID)
		return nil
	})
}

func (s *WebhookService) processSubscriptionCancelled(pe providerEvent) error {
	team, err := s.findTeamBySubscriptionID(pe.SubscriptionID)
	if err != nil {
		return err
	}
	if team == nil {
		log.Printf("⚠️ [WEBHOOK] No team for cancelled subscription: subscriptionID=%s", pe.SubscriptionID)
		s.recordOutcome(pe, models.WebhookSkipped, "no team for subscription")
		return nil
	}

	entityLocks.Lock("team:" + team.ID)
	defer entityLocks.Unlock("team:" + team.ID)

	return s.DB.Transaction(func(tx *gorm.DB) error {
		seen, err := markEventSeen(tx, pe)
		if err != nil || seen {
			return err
		}
		var fresh models.Team
		if err := tx.First(&fresh, "id = ?", team.ID).Error; err != nil {
			return err
		}

		now := time.Now().UTC()
		change := TransitionCancelled()
		extra := map[string]interface{}{}
		if pe.CancelAt != nil {
			extra["cancel_at"] = *pe.CancelAt
		}
		if err := s.applySubscriptionChange(tx, &fresh, change, pe.SubscriptionID, pe.ID, now, extra); err != nil {
			return err
		}
		log.Printf("Subscription cancelled: teamID=%s subscriptionID=%s", fresh.ID, pe.SubscriptionID)
		return nil
	})
}

// applySubscriptionChange persists one pure transition result for a team and
// appends its audit events, all inside the caller's transaction.
func (s *WebhookService) applySubscriptionChange(tx *gorm.DB, team *models.Team, change SubscriptionChange, subscriptionID, stripeEventID string, now time.Time, extra map[string]interface{}) error {
	updates := map[string]interface{}{
		"subscription_status": change.NewStatus,
	}
	if change.Eligible != nil {
		updates["is_eligible"] = *change.Eligible
	}
	if change.ClearGrace {
		updates["grace_ends_at"] = nil
	}
	if change.StartGrace {
		updates["grace_ends_at"] = now.Add(s.GracePeriod)
	}
	for k, v := range extra {
		updates[k] = v
	}
	if err := tx.Model(&models.Team{}).Where("id = ?", team.ID).Updates(updates).Error; err != nil {
		return err
	}

	oldStatus := string(team.SubscriptionStatus)
	for _, eventType := range change.Events {
		audit := models.SubscriptionEvent{
			ID:             uuid.NewString(),
			TeamID:         team.ID,
			SubscriptionID: subscriptionID,
			EventType:      eventType,
			OldStatus:      oldStatus,
			NewStatus:      string(change.NewStatus),
			StripeEventID:  stripeEventID,
		}
		if err := tx.Create(&audit).Error; err != nil {
			return err
		}
	}
	return nil
}
