package services

import (
	"league-payment-system/models"
)

// Pure transition core of the subscription state machine. These functions do
// no I/O; the webhook reconciler and the grace sweep persist their results
// so every transition is unit-testable without a database or network.

// SubscriptionChange is the computed outcome of one transition.
type SubscriptionChange struct {
	NewStatus models.SubscriptionStatus

	// Eligible is nil when the transition leaves eligibility untouched
	// (payment failure keeps the team eligible until the grace deadline).
	Eligible *bool

	// Audit events to append, in order.
	Events []models.SubscriptionEventType

	// StartGrace stamps GraceEndsAt if no grace window is already running;
	// ClearGrace resets it.
	StartGrace bool
	ClearGrace bool
}

func boolPtr(b bool) *bool { return &b }

// TransitionCheckoutCompleted activates a brand-new subscription after the
// provider confirms checkout.
func TransitionCheckoutCompleted() SubscriptionChange {
	return SubscriptionChange{
		NewStatus:  models.SubscriptionActive,
		Eligible:   boolPtr(true),
		Events:     []models.SubscriptionEventType{models.SubEventCreated},
		ClearGrace: true,
	}
}

// TransitionInvoicePaid handles a successful recurring charge. A team coming
// back from past_due is reactivated rather than merely renewed.
func TransitionInvoicePaid(current models.SubscriptionStatus) SubscriptionChange {
	event := models.SubEventRenewed
	if current == models.SubscriptionPastDue {
		event = models.SubEventReactivated
	}
	return SubscriptionChange{
		NewStatus:  models.SubscriptionActive,
		Eligible:   boolPtr(true),
		Events:     []models.SubscriptionEventType{event},
		ClearGrace: true,
	}
}

// TransitionInvoiceFailed moves the team to past_due. Eligibility is left
// unchanged: the team keeps playing until the grace window expires. The grace
// deadline is stamped only on the first failure of a streak.
func TransitionInvoiceFailed(graceRunning bool) SubscriptionChange {
	events := []models.SubscriptionEventType{models.SubEventPaymentFailed}
	if !graceRunning {
		events = append(events, models.SubEventGracePeriodStarted)
	}
	return SubscriptionChange{
		NewStatus:  models.SubscriptionPastDue,
		Events:     events,
		StartGrace: !graceRunning,
	}
}

// TransitionCancelled is the terminal transition, driven by an external
// cancellation from the provider.
func TransitionCancelled() SubscriptionChange {
	return SubscriptionChange{
		NewStatus:  models.SubscriptionCancelled,
		Eligible:   boolPtr(false),
		Events:     []models.SubscriptionEventType{models.SubEventCancelled},
		ClearGrace: true,
	}
}

// TransitionGraceExpired revokes eligibility once a past_due team's grace
// window has lapsed. Status stays past_due; the audit trail records the
// escalation.
func TransitionGraceExpired() SubscriptionChange {
	return SubscriptionChange{
		NewStatus: models.SubscriptionPastDue,
		Eligible:  boolPtr(false),
		Events:    []models.SubscriptionEventType{models.SubEventPastDue},
	}
}
