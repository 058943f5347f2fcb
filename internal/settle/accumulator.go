package settle

import (
	"PerpSettle/internal/fixed"
	"PerpSettle/internal/market"
)

// Result is the per-epoch fee/pnl breakdown for one account over one
// version interval.
type Result struct {
	// Collateral is the net collateral change: transfers + price
	// override + value accumulation - all fees.
	Collateral int64

	// Value is the value-accumulation (pnl/funding) contribution alone.
	// Summed across every account in the market it is exactly zero.
	Value int64

	TradeFee       int64
	SettlementFee  int64
	LiquidationFee int64

	// PriceOverride is the pnl adjustment paid for magnitude matched at
	// a negotiated price instead of the settlement price.
	PriceOverride int64
}

// Accumulate combines a prior position, an order delta, a guarantee,
// and two version snapshots into the account's fee/pnl breakdown and
// its next checkpoint. Pure function of its inputs; any arithmetic
// overflow or range violation aborts the settlement step with no
// partial state.
//
// When the ending version is invalid, only the collateral transfer is
// applied; pnl and fees are skipped for the interval.
func Accumulate(
	prior Checkpoint,
	position market.Position,
	order market.Order,
	guarantee market.Guarantee,
	from, to market.Version,
) (Result, Checkpoint, error) {
	var res Result

	// 1. Transfer: deposits and withdrawals pass through untouched.
	res.Collateral = order.Collateral

	if to.Valid {
		if err := accumulatePriceOverride(&res, guarantee, to); err != nil {
			return Result{}, Checkpoint{}, err
		}
		if err := accumulateValue(&res, position, from, to); err != nil {
			return Result{}, Checkpoint{}, err
		}
		if err := accumulateFees(&res, order, guarantee, from, to); err != nil {
			return Result{}, Checkpoint{}, err
		}
	}

	next := Checkpoint{
		TradeFee:      prior.TradeFee + res.TradeFee,
		SettlementFee: prior.SettlementFee + res.SettlementFee + res.LiquidationFee,
		Transfer:      prior.Transfer + order.Collateral,
		Collateral:    prior.Collateral + res.Collateral,
	}
	if err := next.Validate(); err != nil {
		return Result{}, Checkpoint{}, err
	}

	return res, next, nil
}

// accumulatePriceOverride pays the taker the difference between the
// negotiated execution price and the settlement price the position is
// marked to. With matched signed long-positive, the override is
// matched*toPrice - notional: a long matched fill gains when the price
// settles above the negotiated price, a short matched fill gains when
// it settles below.
func accumulatePriceOverride(res *Result, g market.Guarantee, to market.Version) error {
	if g.Empty() {
		return nil
	}

	atSettle, err := fixed.Mul(g.Matched(), to.Price)
	if err != nil {
		return err
	}

	res.PriceOverride = atSettle - g.Notional
	res.Collateral, err = fixed.Add(res.Collateral, res.PriceOverride)
	return err
}

// accumulateValue applies the per-unit value accumulator deltas to the
// prior position. This is the funding/interest/price-pnl transfer; it
// is zero-sum across the market.
func accumulateValue(res *Result, p market.Position, from, to market.Version) error {
	sides := []struct {
		exposure int64
		delta    int64
	}{
		{p.Maker, to.MakerValue - from.MakerValue},
		{p.Long, to.LongValue - from.LongValue},
		{p.Short, to.ShortValue - from.ShortValue},
	}

	for _, s := range sides {
		d, err := fixed.Mul(s.exposure, s.delta)
		if err != nil {
			return err
		}
		res.Value, err = fixed.Add(res.Value, d)
		if err != nil {
			return err
		}
	}

	var err error
	res.Collateral, err = fixed.Add(res.Collateral, res.Value)
	return err
}

// accumulateFees charges each order leg against the negated accumulator
// delta of its fee/offset family, the submission count against the
// settlement fee, and the protection count against the liquidation fee.
// Guarantee-exempt magnitudes were already charged as part of the
// intent and are removed before the generic accumulators apply.
func accumulateFees(res *Result, order market.Order, g market.Guarantee, from, to market.Version) error {
	legs := []struct {
		magnitude int64
		delta     int64
	}{
		{order.MakerTotal(), to.MakerFee - from.MakerFee},
		{feeSubjectTaker(order, g), to.TakerFee - from.TakerFee},
		{order.MakerTotal(), to.MakerOffset - from.MakerOffset},
		{order.TakerPos(), to.TakerPosOffset - from.TakerPosOffset},
		{order.TakerNeg(), to.TakerNegOffset - from.TakerNegOffset},
	}

	for _, leg := range legs {
		fee, err := fixed.Mul(leg.magnitude, -leg.delta)
		if err != nil {
			return err
		}
		res.TradeFee, err = fixed.Add(res.TradeFee, fee)
		if err != nil {
			return err
		}
	}

	chargedOrders := order.Orders - g.Orders
	if chargedOrders < 0 {
		chargedOrders = 0
	}
	settlementFee, err := fixed.MulInt(chargedOrders, -(to.SettlementFee - from.SettlementFee))
	if err != nil {
		return err
	}
	res.SettlementFee = settlementFee

	liquidationFee, err := fixed.MulInt(order.Protection, -(to.LiquidationFee - from.LiquidationFee))
	if err != nil {
		return err
	}
	res.LiquidationFee = liquidationFee

	res.Collateral, err = fixed.Add(res.Collateral,
		-(res.TradeFee + res.SettlementFee + res.LiquidationFee))
	return err
}

func feeSubjectTaker(order market.Order, g market.Guarantee) int64 {
	subject := order.TakerTotal() - g.TakerFee
	if subject < 0 {
		return 0
	}
	return subject
}
