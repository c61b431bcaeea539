package services_test

import (
	"testing"

	"league-payment-system/models"
	"league-payment-system/services"

	"github.com/smartystreets/goconvey/convey"
)

func TestSubscriptionTransitions(t *testing.T) {
	convey.Convey("Given a completed checkout", t, func() {
		change := services.TransitionCheckoutCompleted()

		convey.Convey("Then the subscription activates and eligibility is granted", func() {
			convey.So(change.NewStatus, convey.ShouldEqual, models.SubscriptionActive)
			convey.So(change.Eligible, convey.ShouldNotBeNil)
			convey.So(*change.Eligible, convey.ShouldBeTrue)
			convey.So(change.Events, convey.ShouldResemble, []models.SubscriptionEventType{models.SubEventCreated})
			convey.So(change.ClearGrace, convey.ShouldBeTrue)
			convey.So(change.StartGrace, convey.ShouldBeFalse)
		})
	})

	convey.Convey("Given a paid invoice", t, func() {
		convey.Convey("When the team is active, the renewal is recorded", func() {
			change := services.TransitionInvoicePaid(models.SubscriptionActive)
			convey.So(change.NewStatus, convey.ShouldEqual, models.SubscriptionActive)
			convey.So(change.Events, convey.ShouldResemble, []models.SubscriptionEventType{models.SubEventRenewed})
			convey.So(change.ClearGrace, convey.ShouldBeTrue)
		})

		convey.Convey("When the team is past due, it is reactivated instead", func() {
			change := services.TransitionInvoicePaid(models.SubscriptionPastDue)
			convey.So(change.NewStatus, convey.ShouldEqual, models.SubscriptionActive)
			convey.So(change.Events, convey.ShouldResemble, []models.SubscriptionEventType{models.SubEventReactivated})
			convey.So(*change.Eligible, convey.ShouldBeTrue)
			convey.So(change.ClearGrace, convey.ShouldBeTrue)
		})
	})

	convey.Convey("Given a failed invoice", t, func() {
		convey.Convey("When no grace window is running, one is started", func() {
			change := services.TransitionInvoiceFailed(false)
			convey.So(change.NewStatus, convey.ShouldEqual, models.SubscriptionPastDue)
			convey.So(change.Eligible, convey.ShouldBeNil)
			convey.So(change.Events, convey.ShouldResemble, []models.SubscriptionEventType{
				models.SubEventPaymentFailed,
				models.SubEventGracePeriodStarted,
			})
			convey.So(change.StartGrace, convey.ShouldBeTrue)
		})

		convey.Convey("When a grace window is already running, it is not restarted", func() {
			change := services.TransitionInvoiceFailed(true)
			convey.So(change.NewStatus, convey.ShouldEqual, models.SubscriptionPastDue)
			convey.So(change.Eligible, convey.ShouldBeNil)
			convey.So(change.Events, convey.ShouldResemble, []models.SubscriptionEventType{models.SubEventPaymentFailed})
			convey.So(change.StartGrace, convey.ShouldBeFalse)
		})
	})

	convey.Convey("Given a provider-side cancellation", t, func() {
		change := services.TransitionCancelled()

		convey.Convey("Then the subscription terminates and eligibility is revoked", func() {
			convey.So(change.NewStatus, convey.ShouldEqual, models.SubscriptionCancelled)
			convey.So(*change.Eligible, convey.ShouldBeFalse)
			convey.So(change.Events, convey.ShouldResemble, []models.SubscriptionEventType{models.SubEventCancelled})
		})
	})

	convey.Convey("Given an expired grace window", t, func() {
		change := services.TransitionGraceExpired()

		convey.Convey("Then the team stays past due but loses eligibility", func() {
			convey.So(change.NewStatus, convey.ShouldEqual, models.SubscriptionPastDue)
			convey.So(*change.Eligible, convey.ShouldBeFalse)
			convey.So(change.Events, convey.ShouldResemble, []models.SubscriptionEventType{models.SubEventPastDue})
		})
	})
}
