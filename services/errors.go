package services

import "errors"

// Sentinel errors shared across billing services. Handlers map these to HTTP
// statuses on synchronous paths; the webhook reconciler only logs and records
// them (it never surfaces an application error back to the provider).
var (
	// ErrInvalidAmount: negative amount or fee percent outside [0,100].
	ErrInvalidAmount = errors.New("invalid amount or fee percent")

	// ErrAlreadyPaid: checkout requested for a team whose entry fee is settled.
	ErrAlreadyPaid = errors.New("entry fee already paid")

	// ErrNotFound: entity lookup miss on a direct request path.
	ErrNotFound = errors.New("not found")

	// ErrDuplicateSubscriptionID: one external subscription id maps to more
	// than one team. Data-integrity failure, fatal to the triggering request
	// only.
	ErrDuplicateSubscriptionID = errors.New("duplicate subscription id")

	// ErrProviderUnavailable: the payment provider rejected or timed out.
	ErrProviderUnavailable = errors.New("payment provider unavailable")

	// ErrPayoutNotEnabled: competition publish requires an enabled payout
	// account.
	ErrPayoutNotEnabled = errors.New("payout account not enabled")
)
