package common

import "math/big"

// RequiredConfirmations returns the depth an event of the given amount must reach.
//
// amount < MediumAmount selects Small, amount < LargeAmount selects Medium,
// anything else Large. Thresholds of -1 or 0 (or unset) mean "no limit":
// that tier is never selected, so the amount stays at the minimum depth
// of the tiers below it.
func RequiredConfirmations(tier ConfirmationTier, amount *big.Int) uint64 {
	if amount == nil {
		amount = new(big.Int)
	}
	conf := tier.Confirmations
	limits := tier.Limits

	if thresholdEnabled(limits.LargeAmount) && amount.Cmp(limits.LargeAmount) >= 0 {
		return conf.Large
	}
	if thresholdEnabled(limits.MediumAmount) && amount.Cmp(limits.MediumAmount) >= 0 {
		return conf.Medium
	}
	return conf.Small
}

func thresholdEnabled(threshold *big.Int) bool {
	return threshold != nil && threshold.Sign() > 0
}
