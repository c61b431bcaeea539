package services_test

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"league-payment-system/models"
	"league-payment-system/services"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/smartystreets/goconvey/convey"
	"gorm.io/gorm"
)

const testWebhookSecret = "whsec_test_secret"

func newWebhookApp(db *gorm.DB) (*fiber.App, *services.WebhookService) {
	svc := &services.WebhookService{
		DB:              db,
		WebhookSecret:   testWebhookSecret,
		DuesAmountCents: 2000,
		GracePeriod:     7 * 24 * time.Hour,
	}
	app := fiber.New()
	app.Post("/webhooks/stripe", svc.HandleStripeWebhook)
	return app, svc
}

// signStripePayload produces the Stripe-Signature header for a payload.
func signStripePayload(payload []byte, ts time.Time) string {
	mac := hmac.New(sha256.New, []byte(testWebhookSecret))
	fmt.Fprintf(mac, "%d.%s", ts.Unix(), payload)
	return fmt.Sprintf("t=%d,v1=%s", ts.Unix(), hex.EncodeToString(mac.Sum(nil)))
}

func deliverEvent(t *testing.T, app *fiber.App, payload []byte, signature string) (int, string) {
	t.Helper()
	req := httptest.NewRequest("POST", "/webhooks/stripe", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Stripe-Signature", signature)
	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatalf("webhook request failed: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, string(body)
}

func eventPayload(eventID, eventType, object string) []byte {
	return []byte(fmt.Sprintf(`{"id":%q,"object":"event","type":%q,"data":{"object":%s}}`, eventID, eventType, object))
}

// seedRegistration creates an organizer, a published competition and an
// unpaid team, mirroring the state right before checkout completes.
func seedRegistration(t *testing.T, db *gorm.DB) (models.Account, models.Competition, models.Team) {
	t.Helper()

	payoutAccountID := "acct_owner_" + uuid.NewString()[:8]
	now := time.Now().UTC()
	onboarded := now
	owner := models.Account{
		ID:               uuid.NewString(),
		ExternalUserID:   "user-" + uuid.NewString()[:8],
		Email:            "organizer@example.com",
		PayoutAccountID:  &payoutAccountID,
		OnboardingStatus: models.OnboardingVerified,
		PayoutStatus:     models.PayoutEnabled,
		OnboardedAt:      &onboarded,
	}
	if err := db.Create(&owner).Error; err != nil {
		t.Fatalf("failed to seed owner: %v", err)
	}

	competition := models.Competition{
		ID:                 uuid.NewString(),
		AccountID:          owner.ID,
		Name:               "Spring Cup",
		Slug:               "spring-cup-" + uuid.NewString()[:8],
		EntryFee:           decimal.NewFromFloat(100.00),
		PlatformFeePercent: decimal.NewFromFloat(8.00),
		Status:             models.CompetitionPublished,
		PublishedAt:        &now,
	}
	if err := db.Create(&competition).Error; err != nil {
		t.Fatalf("failed to seed competition: %v", err)
	}

	team := models.Team{
		ID:                 uuid.NewString(),
		CompetitionID:      competition.ID,
		ExternalUserID:     "user-" + uuid.NewString()[:8],
		Name:               "The Regulars",
		SubscriptionStatus: models.SubscriptionNone,
		IsEligible:         true,
		RegisteredAt:       &now,
	}
	if err := db.Create(&team).Error; err != nil {
		t.Fatalf("failed to seed team: %v", err)
	}
	return owner, competition, team
}

func checkoutCompletedPayload(eventID string, team models.Team, subscriptionID string) []byte {
	object := fmt.Sprintf(
		`{"id":"cs_1","object":"checkout.session","metadata":{"team_id":%q,"competition_id":%q},"subscription":%q,"payment_intent":"pi_entry_1","customer":"cus_1"}`,
		team.ID, team.CompetitionID, subscriptionID)
	return eventPayload(eventID, "checkout.session.completed", object)
}

func invoicePayload(eventID, eventType, subscriptionID string, amountPaid int64, periodStart, periodEnd time.Time) []byte {
	object := fmt.Sprintf(
		`{"id":"in_1","object":"invoice","amount_paid":%d,"currency":"usd","created":%d,"subscription":%q,"payment_intent":"pi_renewal_1","lines":{"data":[{"subscription":%q,"period":{"start":%d,"end":%d}}]}}`,
		amountPaid, periodStart.Unix(), subscriptionID, subscriptionID, periodStart.Unix(), periodEnd.Unix())
	return eventPayload(eventID, eventType, object)
}

func TestWebhookSignatureVerification(t *testing.T) {
	convey.Convey("Given the webhook endpoint", t, func() {
		db := setupTestDB(t)
		app, _ := newWebhookApp(db)
		_, _, team := seedRegistration(t, db)
		payload := checkoutCompletedPayload("evt_sig_1", team, "sub_sig_1")

		convey.Convey("When the signature is garbage", func() {
			status, _ := deliverEvent(t, app, payload, "t=123,v1=deadbeef")

			convey.Convey("Then the delivery is rejected and nothing is recorded", func() {
				convey.So(status, convey.ShouldEqual, 400)

				var events int64
				convey.So(db.Model(&models.WebhookEvent{}).Count(&events).Error, convey.ShouldBeNil)
				convey.So(events, convey.ShouldEqual, 0)
			})
		})

		convey.Convey("When the payload was signed for different content", func() {
			status, _ := deliverEvent(t, app, payload, signStripePayload([]byte(`{"tampered":true}`), time.Now()))
			convey.So(status, convey.ShouldEqual, 400)
		})

		convey.Convey("When an unrecognized event type arrives with a valid signature", func() {
			other := eventPayload("evt_other_1", "payment_method.attached", `{"id":"pm_1"}`)
			status, body := deliverEvent(t, app, other, signStripePayload(other, time.Now()))

			convey.Convey("Then it is acknowledged without side effects", func() {
				convey.So(status, convey.ShouldEqual, 200)
				convey.So(body, convey.ShouldEqual, "Webhook processed")

				var events int64
				convey.So(db.Model(&models.WebhookEvent{}).Count(&events).Error, convey.ShouldBeNil)
				convey.So(events, convey.ShouldEqual, 0)
			})
		})
	})
}

func TestWebhookCheckoutCompleted(t *testing.T) {
	convey.Convey("Given a registered, unpaid team", t, func() {
		db := setupTestDB(t)
		app, _ := newWebhookApp(db)
		owner, competition, team := seedRegistration(t, db)
		payload := checkoutCompletedPayload("evt_checkout_1", team, "sub_team_1")

		convey.Convey("When checkout.session.completed is delivered", func() {
			status, _ := deliverEvent(t, app, payload, signStripePayload(payload, time.Now()))
			convey.So(status, convey.ShouldEqual, 200)

			convey.Convey("Then the team is activated and marked paid", func() {
				var got models.Team
				convey.So(db.First(&got, "id = ?", team.ID).Error, convey.ShouldBeNil)
				convey.So(got.EntryFeePaid, convey.ShouldBeTrue)
				convey.So(got.EntryFeePaidAt, convey.ShouldNotBeNil)
				convey.So(got.SubscriptionStatus, convey.ShouldEqual, models.SubscriptionActive)
				convey.So(got.IsEligible, convey.ShouldBeTrue)
				convey.So(got.SubscriptionID, convey.ShouldNotBeNil)
				convey.So(*got.SubscriptionID, convey.ShouldEqual, "sub_team_1")
				convey.So(got.CustomerID, convey.ShouldNotBeNil)
				convey.So(*got.CustomerID, convey.ShouldEqual, "cus_1")
			})

			convey.Convey("Then the entry fee ledger row splits 8% to the platform", func() {
				var entry models.PaymentTransaction
				convey.So(db.Where("team_id = ? AND type = ?", team.ID, models.TransactionEntryFee).
					First(&entry).Error, convey.ShouldBeNil)
				convey.So(entry.AmountCents, convey.ShouldEqual, 10000)
				convey.So(entry.PlatformFeeCents, convey.ShouldEqual, 800)
				convey.So(entry.NetToOwnerCents, convey.ShouldEqual, 9200)
				convey.So(entry.AccountID, convey.ShouldEqual, owner.ID)
				convey.So(entry.CompetitionID, convey.ShouldEqual, competition.ID)
				convey.So(entry.Status, convey.ShouldEqual, models.TransactionSucceeded)
			})

			convey.Convey("Then the first dues ledger row is platform revenue in full", func() {
				var dues models.PaymentTransaction
				convey.So(db.Where("team_id = ? AND type = ?", team.ID, models.TransactionSubscription).
					First(&dues).Error, convey.ShouldBeNil)
				convey.So(dues.AmountCents, convey.ShouldEqual, 2000)
				convey.So(dues.PlatformFeeCents, convey.ShouldEqual, 2000)
				convey.So(dues.NetToOwnerCents, convey.ShouldEqual, 0)
			})

			convey.Convey("Then the audit trail records the subscription creation", func() {
				var audit models.SubscriptionEvent
				convey.So(db.Where("team_id = ?", team.ID).First(&audit).Error, convey.ShouldBeNil)
				convey.So(audit.EventType, convey.ShouldEqual, models.SubEventCreated)
				convey.So(audit.StripeEventID, convey.ShouldEqual, "evt_checkout_1")
			})

			convey.Convey("And when the session is replayed under a fresh event id", func() {
				replay := checkoutCompletedPayload("evt_checkout_replay", team, "sub_team_1")
				status, _ := deliverEvent(t, app, replay, signStripePayload(replay, time.Now()))
				convey.So(status, convey.ShouldEqual, 200)

				convey.Convey("Then the settled entry fee blocks a second application", func() {
					var txns, audits int64
					convey.So(db.Model(&models.PaymentTransaction{}).Where("team_id = ?", team.ID).
						Count(&txns).Error, convey.ShouldBeNil)
					convey.So(db.Model(&models.SubscriptionEvent{}).Where("team_id = ?", team.ID).
						Count(&audits).Error, convey.ShouldBeNil)
					convey.So(txns, convey.ShouldEqual, 2)
					convey.So(audits, convey.ShouldEqual, 1)

					var row models.WebhookEvent
					convey.So(db.Where("stripe_event_id = ?", "evt_checkout_replay").First(&row).Error, convey.ShouldBeNil)
					convey.So(row.Status, convey.ShouldEqual, models.WebhookSkipped)
				})
			})

			convey.Convey("And when the same event id is redelivered", func() {
				status, _ := deliverEvent(t, app, payload, signStripePayload(payload, time.Now()))
				convey.So(status, convey.ShouldEqual, 200)

				convey.Convey("Then no duplicate ledger or audit rows appear", func() {
					var txns, audits int64
					convey.So(db.Model(&models.PaymentTransaction{}).Where("team_id = ?", team.ID).
						Count(&txns).Error, convey.ShouldBeNil)
					convey.So(db.Model(&models.SubscriptionEvent{}).Where("team_id = ?", team.ID).
						Count(&audits).Error, convey.ShouldBeNil)
					convey.So(txns, convey.ShouldEqual, 2)
					convey.So(audits, convey.ShouldEqual, 1)
				})
			})
		})

		convey.Convey("When the session carries no team metadata", func() {
			orphan := eventPayload("evt_checkout_orphan", "checkout.session.completed",
				`{"id":"cs_orphan","object":"checkout.session","metadata":{}}`)
			status, _ := deliverEvent(t, app, orphan, signStripePayload(orphan, time.Now()))
			convey.So(status, convey.ShouldEqual, 200)

			convey.Convey("Then the event is recorded as skipped", func() {
				var row models.WebhookEvent
				convey.So(db.Where("stripe_event_id = ?", "evt_checkout_orphan").First(&row).Error, convey.ShouldBeNil)
				convey.So(row.Status, convey.ShouldEqual, models.WebhookSkipped)
			})
		})
	})
}

func TestWebhookInvoiceLifecycle(t *testing.T) {
	convey.Convey("Given a team with an active subscription", t, func() {
		db := setupTestDB(t)
		app, _ := newWebhookApp(db)
		_, _, team := seedRegistration(t, db)

		checkout := checkoutCompletedPayload("evt_checkout_2", team, "sub_team_2")
		status, _ := deliverEvent(t, app, checkout, signStripePayload(checkout, time.Now()))
		convey.So(status, convey.ShouldEqual, 200)

		periodStart := time.Now().UTC().Truncate(time.Second)
		periodEnd := periodStart.Add(30 * 24 * time.Hour)

		convey.Convey("When a renewal invoice is paid", func() {
			paid := invoicePayload("evt_inv_paid_1", "invoice.payment_succeeded", "sub_team_2", 2000, periodStart, periodEnd)
			status, _ := deliverEvent(t, app, paid, signStripePayload(paid, time.Now()))
			convey.So(status, convey.ShouldEqual, 200)

			convey.Convey("Then the period advances and a renewal is audited", func() {
				var got models.Team
				convey.So(db.First(&got, "id = ?", team.ID).Error, convey.ShouldBeNil)
				convey.So(got.SubscriptionStatus, convey.ShouldEqual, models.SubscriptionActive)
				convey.So(got.CurrentPeriodStart, convey.ShouldNotBeNil)
				convey.So(got.CurrentPeriodEnd, convey.ShouldNotBeNil)

				var audit models.SubscriptionEvent
				convey.So(db.Where("team_id = ? AND event_type = ?", team.ID, models.SubEventRenewed).
					First(&audit).Error, convey.ShouldBeNil)
			})

			convey.Convey("Then the renewal lands in the ledger as platform revenue", func() {
				var renewals []models.PaymentTransaction
				convey.So(db.Where("team_id = ? AND type = ? AND payment_intent_id = ?",
					team.ID, models.TransactionSubscription, "pi_renewal_1").
					Find(&renewals).Error, convey.ShouldBeNil)
				convey.So(renewals, convey.ShouldHaveLength, 1)
				convey.So(renewals[0].AmountCents, convey.ShouldEqual, 2000)
				convey.So(renewals[0].PlatformFeeCents, convey.ShouldEqual, 2000)
				convey.So(renewals[0].NetToOwnerCents, convey.ShouldEqual, 0)
			})
		})

		convey.Convey("When a renewal invoice fails", func() {
			failed := invoicePayload("evt_inv_failed_1", "invoice.payment_failed", "sub_team_2", 0, periodStart, periodEnd)
			status, _ := deliverEvent(t, app, failed, signStripePayload(failed, time.Now()))
			convey.So(status, convey.ShouldEqual, 200)

			convey.Convey("Then the team goes past due but keeps eligibility for the grace window", func() {
				var got models.Team
				convey.So(db.First(&got, "id = ?", team.ID).Error, convey.ShouldBeNil)
				convey.So(got.SubscriptionStatus, convey.ShouldEqual, models.SubscriptionPastDue)
				convey.So(got.IsEligible, convey.ShouldBeTrue)
				convey.So(got.GraceEndsAt, convey.ShouldNotBeNil)
				convey.So(got.GraceEndsAt.After(time.Now().UTC()), convey.ShouldBeTrue)
			})

			convey.Convey("Then no ledger row is written for the failure", func() {
				var txns int64
				convey.So(db.Model(&models.PaymentTransaction{}).Where("team_id = ?", team.ID).
					Count(&txns).Error, convey.ShouldBeNil)
				convey.So(txns, convey.ShouldEqual, 2) // entry fee + first dues only
			})

			convey.Convey("And a later successful invoice reactivates the team", func() {
				recovered := invoicePayload("evt_inv_paid_2", "invoice.payment_succeeded", "sub_team_2", 2000, periodStart, periodEnd)
				status, _ := deliverEvent(t, app, recovered, signStripePayload(recovered, time.Now()))
				convey.So(status, convey.ShouldEqual, 200)

				var got models.Team
				convey.So(db.First(&got, "id = ?", team.ID).Error, convey.ShouldBeNil)
				convey.So(got.SubscriptionStatus, convey.ShouldEqual, models.SubscriptionActive)
				convey.So(got.IsEligible, convey.ShouldBeTrue)
				convey.So(got.GraceEndsAt, convey.ShouldBeNil)

				var audit models.SubscriptionEvent
				convey.So(db.Where("team_id = ? AND event_type = ?", team.ID, models.SubEventReactivated).
					First(&audit).Error, convey.ShouldBeNil)
			})
		})

		convey.Convey("When the subscription is cancelled at the provider", func() {
			cancel := eventPayload("evt_sub_del_1", "customer.subscription.deleted",
				`{"id":"sub_team_2","object":"subscription"}`)
			status, _ := deliverEvent(t, app, cancel, signStripePayload(cancel, time.Now()))
			convey.So(status, convey.ShouldEqual, 200)

			convey.Convey("Then the team terminates and loses eligibility", func() {
				var got models.Team
				convey.So(db.First(&got, "id = ?", team.ID).Error, convey.ShouldBeNil)
				convey.So(got.SubscriptionStatus, convey.ShouldEqual, models.SubscriptionCancelled)
				convey.So(got.IsEligible, convey.ShouldBeFalse)
			})

			convey.Convey("And a stray late invoice reactivates the team", func() {
				// Provider settlement is authoritative over local cancellation.
				late := invoicePayload("evt_inv_late_1", "invoice.payment_succeeded", "sub_team_2", 2000, periodStart, periodEnd)
				status, _ := deliverEvent(t, app, late, signStripePayload(late, time.Now()))
				convey.So(status, convey.ShouldEqual, 200)

				var got models.Team
				convey.So(db.First(&got, "id = ?", team.ID).Error, convey.ShouldBeNil)
				convey.So(got.SubscriptionStatus, convey.ShouldEqual, models.SubscriptionActive)
				convey.So(got.IsEligible, convey.ShouldBeTrue)
			})
		})
	})

	convey.Convey("Given an invoice referencing a subscription we do not track", t, func() {
		db := setupTestDB(t)
		app, _ := newWebhookApp(db)
		seedRegistration(t, db)

		now := time.Now().UTC()
		stray := invoicePayload("evt_inv_stray_1", "invoice.payment_succeeded", "sub_unknown", 2000, now, now.Add(30*24*time.Hour))
		status, _ := deliverEvent(t, app, stray, signStripePayload(stray, time.Now()))

		convey.Convey("Then it is acknowledged and recorded as skipped with no ledger rows", func() {
			convey.So(status, convey.ShouldEqual, 200)

			var row models.WebhookEvent
			convey.So(db.Where("stripe_event_id = ?", "evt_inv_stray_1").First(&row).Error, convey.ShouldBeNil)
			convey.So(row.Status, convey.ShouldEqual, models.WebhookSkipped)

			var txns int64
			convey.So(db.Model(&models.PaymentTransaction{}).Count(&txns).Error, convey.ShouldBeNil)
			convey.So(txns, convey.ShouldEqual, 0)
		})
	})
}

func TestWebhookAccountUpdated(t *testing.T) {
	convey.Convey("Given an organizer mid-onboarding", t, func() {
		db := setupTestDB(t)
		app, _ := newWebhookApp(db)

		payoutAccountID := "acct_hook_1"
		acct := models.Account{
			ID:               uuid.NewString(),
			ExternalUserID:   "user-hook-1",
			Email:            "organizer@example.com",
			PayoutAccountID:  &payoutAccountID,
			OnboardingStatus: models.OnboardingIncomplete,
			PayoutStatus:     models.PayoutNone,
		}
		convey.So(db.Create(&acct).Error, convey.ShouldBeNil)

		convey.Convey("When account.updated reports full capabilities", func() {
			payload := eventPayload("evt_acct_1", "account.updated",
				fmt.Sprintf(`{"id":%q,"object":"account","charges_enabled":true,"payouts_enabled":true,"details_submitted":true}`, payoutAccountID))
			status, _ := deliverEvent(t, app, payload, signStripePayload(payload, time.Now()))
			convey.So(status, convey.ShouldEqual, 200)

			convey.Convey("Then the account verifies and payouts enable", func() {
				var got models.Account
				convey.So(db.First(&got, "id = ?", acct.ID).Error, convey.ShouldBeNil)
				convey.So(got.OnboardingStatus, convey.ShouldEqual, models.OnboardingVerified)
				convey.So(got.PayoutStatus, convey.ShouldEqual, models.PayoutEnabled)
				convey.So(got.OnboardedAt, convey.ShouldNotBeNil)
			})
		})

		convey.Convey("When account.updated references an unknown payout account", func() {
			payload := eventPayload("evt_acct_2", "account.updated",
				`{"id":"acct_never_seen","object":"account","charges_enabled":true,"payouts_enabled":true,"details_submitted":true}`)
			status, body := deliverEvent(t, app, payload, signStripePayload(payload, time.Now()))

			convey.Convey("Then the delivery is acknowledged but the failure is recorded", func() {
				convey.So(status, convey.ShouldEqual, 200)
				convey.So(body, convey.ShouldEqual, "Webhook received but processing failed")

				var row models.WebhookEvent
				convey.So(db.Where("stripe_event_id = ?", "evt_acct_2").First(&row).Error, convey.ShouldBeNil)
				convey.So(row.Status, convey.ShouldEqual, models.WebhookFailed)
				convey.So(row.Error, convey.ShouldNotBeEmpty)
			})
		})
	})
}

func TestWebhookDuplicateSubscriptionID(t *testing.T) {
	convey.Convey("Given two teams sharing one subscription id behind a dropped index", t, func() {
		db := setupTestDB(t)
		app, _ := newWebhookApp(db)
		_, _, first := seedRegistration(t, db)
		_, _, second := seedRegistration(t, db)

		// The unique index normally makes this state unreachable; relax it to
		// exercise the integrity check behind it.
		convey.So(db.Exec("DROP INDEX idx_teams_subscription_id").Error, convey.ShouldBeNil)
		for _, id := range []string{first.ID, second.ID} {
			convey.So(db.Exec("UPDATE teams SET subscription_id = ?, subscription_status = ? WHERE id = ?",
				"sub_shared_1", models.SubscriptionActive, id).Error, convey.ShouldBeNil)
		}

		convey.Convey("When an invoice for the shared subscription arrives", func() {
			now := time.Now().UTC()
			payload := invoicePayload("evt_dup_sub_1", "invoice.payment_succeeded", "sub_shared_1", 2000, now, now.Add(30*24*time.Hour))
			status, body := deliverEvent(t, app, payload, signStripePayload(payload, time.Now()))

			convey.Convey("Then the event fails without touching either team or the ledger", func() {
				convey.So(status, convey.ShouldEqual, 200)
				convey.So(body, convey.ShouldEqual, "Webhook received but processing failed")

				var row models.WebhookEvent
				convey.So(db.Where("stripe_event_id = ?", "evt_dup_sub_1").First(&row).Error, convey.ShouldBeNil)
				convey.So(row.Status, convey.ShouldEqual, models.WebhookFailed)
				convey.So(row.Error, convey.ShouldContainSubstring, "duplicate subscription id")

				var txns int64
				convey.So(db.Model(&models.PaymentTransaction{}).Count(&txns).Error, convey.ShouldBeNil)
				convey.So(txns, convey.ShouldEqual, 0)
			})
		})
	})
}
