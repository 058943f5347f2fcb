package market

// Order is the signed delta applied to a Position between two version
// timestamps: a pos (increase) and neg (decrease) leg per direction, a
// collateral transfer, and the counts that scale per-submission and
// per-liquidation charges.
type Order struct {
	MakerPos int64
	MakerNeg int64
	LongPos  int64
	LongNeg  int64
	ShortPos int64
	ShortNeg int64

	// Collateral is the net deposit (positive) or withdrawal (negative)
	// folded into this delta.
	Collateral int64

	// Orders is the number of distinct order submissions folded into
	// this delta. The settlement fee is charged per submission, not per
	// unit size.
	Orders int64

	// Protection counts liquidation events folded into this delta.
	Protection int64
}

// MakerTotal returns the total maker magnitude touched by the order.
func (o Order) MakerTotal() int64 {
	return o.MakerPos + o.MakerNeg
}

// TakerPos returns the taker magnitude moving the market long: long
// opens and short closes.
func (o Order) TakerPos() int64 {
	return o.LongPos + o.ShortNeg
}

// TakerNeg returns the taker magnitude moving the market short: long
// closes and short opens.
func (o Order) TakerNeg() int64 {
	return o.LongNeg + o.ShortPos
}

// TakerTotal returns the total taker magnitude touched by the order.
func (o Order) TakerTotal() int64 {
	return o.TakerPos() + o.TakerNeg()
}

// Empty reports whether the order carries no size change, no transfer,
// and no submissions.
func (o Order) Empty() bool {
	return o.MakerTotal() == 0 && o.TakerTotal() == 0 &&
		o.Collateral == 0 && o.Orders == 0 && o.Protection == 0
}

// ApplyTo rolls a position forward to the given version timestamp by
// applying the order's pos/neg legs.
func (o Order) ApplyTo(p Position, timestamp int64) Position {
	return Position{
		Timestamp: timestamp,
		Maker:     p.Maker + o.MakerPos - o.MakerNeg,
		Long:      p.Long + o.LongPos - o.LongNeg,
		Short:     p.Short + o.ShortPos - o.ShortNeg,
	}
}
