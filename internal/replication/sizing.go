package replication

import (
	"fxCopyDesk/internal/domain"
	"fxCopyDesk/internal/pricing"
)

// SizingInputs carries the account figures a copy mode may need.
type SizingInputs struct {
	MasterLot       float64
	MasterBalance   float64
	MasterEquity    float64
	FollowerBalance float64
	FollowerEquity  float64
}

// FollowerLot computes the lot replicated to a follower under its
// subscription's copy mode. The result is rounded to 2 decimals, floored at
// the minimum lot, and capped at the subscription's max lot size.
func FollowerLot(sub *domain.CopyFollower, in SizingInputs) float64 {
	var lot float64
	switch sub.CopyMode {
	case domain.CopyFixedLot:
		lot = sub.CopyValue
	case domain.CopyBalanceBased:
		if in.MasterBalance <= 0 {
			// No meaningful ratio; copy the master's lot unscaled.
			lot = in.MasterLot
		} else {
			lot = in.MasterLot * (in.FollowerBalance / in.MasterBalance)
		}
	case domain.CopyEquityBased, domain.CopyAuto:
		if in.MasterEquity <= 0 {
			lot = in.MasterLot
		} else {
			lot = in.MasterLot * (in.FollowerEquity / in.MasterEquity)
		}
	case domain.CopyMultiplier, domain.CopyLotMultiplier:
		lot = in.MasterLot * sub.CopyValue
	default:
		lot = in.MasterLot
	}

	lot = pricing.Round2(lot)
	if lot < pricing.MinLotSize {
		lot = pricing.MinLotSize
	}
	if sub.MaxLotSize > 0 && lot > sub.MaxLotSize {
		lot = sub.MaxLotSize
	}
	return lot
}
