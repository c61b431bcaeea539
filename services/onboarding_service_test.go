package services_test

import (
	"fmt"
	"testing"

	"league-payment-system/models"
	"league-payment-system/services"

	"github.com/google/uuid"
	"github.com/smartystreets/goconvey/convey"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	if err := db.AutoMigrate(
		&models.Account{},
		&models.Competition{},
		&models.Team{},
		&models.PaymentTransaction{},
		&models.SubscriptionEvent{},
		&models.WebhookEvent{},
	); err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}
	return db
}

func TestApplyAccountStatus(t *testing.T) {
	convey.Convey("Given provider account capability flags", t, func() {
		convey.Convey("When charges and payouts are both enabled, the account is verified", func() {
			onboarding, payout := services.ApplyAccountStatus(true, true, true)
			convey.So(onboarding, convey.ShouldEqual, models.OnboardingVerified)
			convey.So(payout, convey.ShouldEqual, models.PayoutEnabled)
		})

		convey.Convey("When details are submitted but capabilities are pending, payouts stay pending", func() {
			onboarding, payout := services.ApplyAccountStatus(false, false, true)
			convey.So(onboarding, convey.ShouldEqual, models.OnboardingIncomplete)
			convey.So(payout, convey.ShouldEqual, models.PayoutPending)
		})

		convey.Convey("When nothing is submitted yet, the account is incomplete with no payouts", func() {
			onboarding, payout := services.ApplyAccountStatus(false, false, false)
			convey.So(onboarding, convey.ShouldEqual, models.OnboardingIncomplete)
			convey.So(payout, convey.ShouldEqual, models.PayoutNone)
		})

		convey.Convey("Then the function is deterministic across repeated calls", func() {
			for i := 0; i < 3; i++ {
				o1, p1 := services.ApplyAccountStatus(true, true, false)
				o2, p2 := services.ApplyAccountStatus(true, true, false)
				convey.So(o1, convey.ShouldEqual, o2)
				convey.So(p1, convey.ShouldEqual, p2)
			}
		})
	})
}

func TestApplyProviderAccountState(t *testing.T) {
	convey.Convey("Given an account mid-onboarding", t, func() {
		db := setupTestDB(t)
		svc := &services.OnboardingService{DB: db, FrontendURL: "http://localhost:5173"}

		payoutAccountID := "acct_test_1"
		acct := models.Account{
			ID:               uuid.NewString(),
			ExternalUserID:   "user-1",
			Email:            "organizer@example.com",
			PayoutAccountID:  &payoutAccountID,
			OnboardingStatus: models.OnboardingIncomplete,
			PayoutStatus:     models.PayoutNone,
		}
		convey.So(db.Create(&acct).Error, convey.ShouldBeNil)

		convey.Convey("When the provider reports full capabilities", func() {
			err := svc.ApplyProviderAccountState(acct.ID, true, true, true)
			convey.So(err, convey.ShouldBeNil)

			var got models.Account
			convey.So(db.First(&got, "id = ?", acct.ID).Error, convey.ShouldBeNil)

			convey.Convey("Then the account verifies and the onboarding timestamp is stamped", func() {
				convey.So(got.OnboardingStatus, convey.ShouldEqual, models.OnboardingVerified)
				convey.So(got.PayoutStatus, convey.ShouldEqual, models.PayoutEnabled)
				convey.So(got.OnboardedAt, convey.ShouldNotBeNil)
			})

			convey.Convey("And a later downgrade keeps the original onboarding timestamp", func() {
				first := *got.OnboardedAt

				convey.So(svc.ApplyProviderAccountState(acct.ID, false, false, true), convey.ShouldBeNil)
				convey.So(svc.ApplyProviderAccountState(acct.ID, true, true, true), convey.ShouldBeNil)

				var again models.Account
				convey.So(db.First(&again, "id = ?", acct.ID).Error, convey.ShouldBeNil)
				convey.So(again.OnboardedAt, convey.ShouldNotBeNil)
				convey.So(again.OnboardedAt.Equal(first), convey.ShouldBeTrue)
			})
		})

		convey.Convey("When the account is blocked, provider updates are ignored", func() {
			convey.So(db.Model(&models.Account{}).Where("id = ?", acct.ID).
				Update("onboarding_status", models.OnboardingBlocked).Error, convey.ShouldBeNil)

			err := svc.ApplyProviderAccountState(acct.ID, true, true, true)
			convey.So(err, convey.ShouldBeNil)

			var got models.Account
			convey.So(db.First(&got, "id = ?", acct.ID).Error, convey.ShouldBeNil)
			convey.So(got.OnboardingStatus, convey.ShouldEqual, models.OnboardingBlocked)
			convey.So(got.PayoutStatus, convey.ShouldEqual, models.PayoutNone)
		})
	})
}
