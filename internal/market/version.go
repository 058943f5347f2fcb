package market

// Version is an immutable snapshot of cumulative per-unit settlement
// accumulators at a timestamp, produced by the oracle/funding subsystem.
// Accumulators encode "total owed so far", so only the difference
// between two Versions is meaningful; the interval toVersion-fromVersion
// is well-defined regardless of how many versions existed in between.
//
// Fee and offset accumulators are stored as negative-owed-by-account:
// a negative delta over an interval means the account owes that fee.
type Version struct {
	Timestamp int64

	// Valid false means skip pnl/fee accrual for intervals ending here
	// but still roll the price forward.
	Valid bool

	Price int64

	// Pnl/funding per unit of exposure, by direction.
	MakerValue int64
	LongValue  int64
	ShortValue int64

	// Trade fee owed per unit.
	MakerFee int64
	TakerFee int64

	// Impact-fee accumulators per unit.
	MakerOffset    int64
	TakerPosOffset int64
	TakerNegOffset int64

	// Owed per order submission.
	SettlementFee int64

	// Owed per liquidation event.
	LiquidationFee int64
}
