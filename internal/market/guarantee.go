package market

import (
	"PerpSettle/internal/fixed"
)

// Side selects which direction of an order leg a guarantee was matched
// against.
type Side int32

const (
	SideMaker Side = iota
	SideLong
	SideShort
)

func (s Side) String() string {
	switch s {
	case SideMaker:
		return "maker"
	case SideLong:
		return "long"
	case SideShort:
		return "short"
	default:
		return "unknown"
	}
}

// Guarantee records magnitude matched at an off-book negotiated price
// (an intent fill) rather than the prevailing settlement price. The
// zero Guarantee means no negotiated fills this interval.
type Guarantee struct {
	// Orders counts the submissions exempt from the settlement fee
	// (the fee was already resolved as part of the intent).
	Orders int64

	// Notional is price*size at the negotiated price, signed with the
	// matched direction: long positive, short negative.
	Notional int64

	TakerPos int64
	TakerNeg int64

	// TakerFee is the taker magnitude exempt from the generic trade-fee
	// accumulator; the fee for that magnitude was resolved via intent
	// and must not be charged twice.
	TakerFee int64

	// Referral is the referral-attributable notional.
	Referral int64
}

// Empty reports whether the guarantee records no negotiated fills.
func (g Guarantee) Empty() bool {
	return g.TakerPos == 0 && g.TakerNeg == 0 && g.Notional == 0 &&
		g.Orders == 0 && g.TakerFee == 0 && g.Referral == 0
}

// Matched returns the signed matched magnitude: positive long, negative
// short.
func (g Guarantee) Matched() int64 {
	return g.TakerPos - g.TakerNeg
}

// Merge folds another guarantee into this one; multiple intent fills in
// the same interval accumulate additively.
func (g Guarantee) Merge(other Guarantee) Guarantee {
	return Guarantee{
		Orders:   g.Orders + other.Orders,
		Notional: g.Notional + other.Notional,
		TakerPos: g.TakerPos + other.TakerPos,
		TakerNeg: g.TakerNeg + other.TakerNeg,
		TakerFee: g.TakerFee + other.TakerFee,
		Referral: g.Referral + other.Referral,
	}
}

// BuildGuarantee derives the Guarantee for one side of an order matched
// at a negotiated price. Maker legs never produce a guarantee: intents
// only apply to taker-side matching. A zero matched magnitude yields the
// zero Guarantee.
//
// chargeSettlementFee false marks the order submissions as exempt from
// the per-submission settlement fee; chargeTradeFee false marks the
// matched magnitude as exempt from the generic trade-fee accumulator.
func BuildGuarantee(
	side Side,
	pos, neg int64,
	orders int64,
	price int64,
	referralRate int64,
	chargeSettlementFee bool,
	chargeTradeFee bool,
) (Guarantee, error) {
	if side == SideMaker || pos+neg == 0 {
		return Guarantee{}, nil
	}

	var g Guarantee
	switch side {
	case SideLong:
		g.TakerPos = pos
		g.TakerNeg = neg
	case SideShort:
		// Short opens reduce taker exposure, short closes increase it.
		g.TakerPos = neg
		g.TakerNeg = pos
	}

	notional, err := fixed.Mul(g.Matched(), price)
	if err != nil {
		return Guarantee{}, err
	}
	g.Notional = notional

	if !chargeTradeFee {
		g.TakerFee = pos + neg
	}
	if !chargeSettlementFee {
		g.Orders = orders
	}

	if referralRate != 0 {
		magnitude := notional
		if magnitude < 0 {
			magnitude = -magnitude
		}
		referral, err := fixed.Mul(magnitude, referralRate)
		if err != nil {
			return Guarantee{}, err
		}
		g.Referral = referral
	}

	return g, nil
}
