package services

import "github.com/shopspring/decimal"

var oneHundred = decimal.NewFromInt(100)

// SplitFee computes the platform/organizer split for a charge of amountCents
// at feePercent (0–100). The platform fee is rounded half-up on whole cents;
// the remainder goes to the organizer, so the two outputs always sum to
// amountCents exactly.
func SplitFee(amountCents int64, feePercent decimal.Decimal) (platformFeeCents, netCents int64, err error) {
	if amountCents < 0 || feePercent.IsNegative() || feePercent.GreaterThan(oneHundred) {
		return 0, 0, ErrInvalidAmount
	}

	// decimal.Round is half-away-from-zero, which is half-up for the
	// non-negative amounts we allow here.
	fee := decimal.NewFromInt(amountCents).Mul(feePercent).Div(oneHundred).Round(0)
	platformFeeCents = fee.IntPart()
	netCents = amountCents - platformFeeCents
	return platformFeeCents, netCents, nil
}

// SplitDues applies the dues policy: recurring dues are platform revenue, the
// organizer receives nothing. Kept as an explicit call site so the 100% split
// is a visible business rule rather than a splitter default.
func SplitDues(amountCents int64) (platformFeeCents, netCents int64, err error) {
	return SplitFee(amountCents, oneHundred)
}
