package settle

import (
	"encoding/binary"

	"PerpSettle/internal/fixed"
	"PerpSettle/internal/market"
)

// Local is the per-account running ledger: epoch pointers, realized
// collateral and claimable balances, and the liquidation-protection
// latch.
type Local struct {
	CurrentID int64
	LatestID  int64

	Collateral int64
	Claimable  int64

	// Protection is the timestamp of the most recent protected epoch.
	// Monotonically non-decreasing; a stale protection claim can never
	// overwrite a newer one.
	Protection int64
}

// Update folds an accumulation result into the account's running
// ledger, advancing the epoch pointer, and returns the signed net pnl
// for external notification.
func (l *Local) Update(id int64, res Result) (int64, error) {
	if err := fixed.IDRange.Check(id); err != nil {
		return 0, err
	}

	collateral, err := fixed.Add(l.Collateral, res.Collateral)
	if err != nil {
		return 0, err
	}
	if err := fixed.CollateralRange.Check(collateral); err != nil {
		return 0, err
	}

	l.CurrentID = l.LatestID
	l.LatestID = id
	l.Collateral = collateral
	return res.Collateral, nil
}

// Credit adds amount to the claimable balance (referral rewards, fee
// refunds).
func (l *Local) Credit(amount int64) error {
	claimable, err := fixed.Add(l.Claimable, amount)
	if err != nil {
		return err
	}
	if err := fixed.CollateralRange.Check(claimable); err != nil {
		return err
	}
	l.Claimable = claimable
	return nil
}

// Claim zeroes the claimable balance and returns the claimed amount.
func (l *Local) Claim() int64 {
	claimed := l.Claimable
	l.Claimable = 0
	return claimed
}

// Protect sets the liquidation-protection latch. Returns true only if
// tryProtect is set and the position has not already been protected for
// a more recent epoch; a late or duplicate attempt is a benign no-op
// returning false, never an error. At most one protection event is
// recorded per position epoch.
func (l *Local) Protect(latest market.Position, timestamp int64, tryProtect bool) bool {
	if !tryProtect {
		return false
	}
	if l.Protection > latest.Timestamp {
		return false
	}
	l.Protection = timestamp
	return true
}

// Validate range-checks the row at the write boundary.
func (l Local) Validate() error {
	if err := fixed.IDRange.Check(l.CurrentID); err != nil {
		return err
	}
	if err := fixed.IDRange.Check(l.LatestID); err != nil {
		return err
	}
	if err := fixed.CollateralRange.Check(l.Collateral); err != nil {
		return err
	}
	return fixed.CollateralRange.Check(l.Claimable)
}

// CanonicalBytes returns a deterministic serialization for state hashing.
func (l Local) CanonicalBytes() []byte {
	buf := make([]byte, 40)
	binary.LittleEndian.PutUint64(buf[0:8], uint64(l.CurrentID))
	binary.LittleEndian.PutUint64(buf[8:16], uint64(l.LatestID))
	binary.LittleEndian.PutUint64(buf[16:24], uint64(l.Collateral))
	binary.LittleEndian.PutUint64(buf[24:32], uint64(l.Claimable))
	binary.LittleEndian.PutUint64(buf[32:40], uint64(l.Protection))
	return buf
}
