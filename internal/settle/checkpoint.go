package settle

import (
	"encoding/binary"

	"PerpSettle/internal/fixed"
)

// Checkpoint is an account's carried-forward settlement ledger row,
// mutated exactly once per settlement epoch and never deleted. The
// account's full fee/collateral history is reconstructible by replaying
// checkpoints; nothing is ever recomputed from version zero.
type Checkpoint struct {
	// TradeFee is the cumulative trade + impact-offset fee owed.
	TradeFee int64

	// SettlementFee is the cumulative settlement + liquidation fee owed.
	SettlementFee int64

	// Transfer is the net of deposits and withdrawals.
	Transfer int64

	// Collateral is net realized pnl + transfers - fees.
	Collateral int64
}

// Validate range-checks every field against its family. Called at the
// write boundary; out-of-range rows are rejected, never truncated.
func (c Checkpoint) Validate() error {
	if err := fixed.FeeRange.Check(c.TradeFee); err != nil {
		return err
	}
	if err := fixed.FeeRange.Check(c.SettlementFee); err != nil {
		return err
	}
	if err := fixed.CollateralRange.Check(c.Transfer); err != nil {
		return err
	}
	return fixed.CollateralRange.Check(c.Collateral)
}

// CanonicalBytes returns a deterministic serialization for state hashing.
func (c Checkpoint) CanonicalBytes() []byte {
	buf := make([]byte, 32)
	binary.LittleEndian.PutUint64(buf[0:8], uint64(c.TradeFee))
	binary.LittleEndian.PutUint64(buf[8:16], uint64(c.SettlementFee))
	binary.LittleEndian.PutUint64(buf[16:24], uint64(c.Transfer))
	binary.LittleEndian.PutUint64(buf[24:32], uint64(c.Collateral))
	return buf
}
