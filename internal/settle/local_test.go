package settle_test

import (
	"errors"
	"testing"

	"PerpSettle/internal/fixed"
	"PerpSettle/internal/market"
	"PerpSettle/internal/settle"
)

func TestLocal_Update(t *testing.T) {
	l := settle.Local{LatestID: 3, Collateral: 100 * unit}

	pnl, err := l.Update(4, settle.Result{Collateral: -30 * unit})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if pnl != -30*unit {
		t.Errorf("pnl = %d, want %d", pnl, -30*unit)
	}
	if l.CurrentID != 3 || l.LatestID != 4 {
		t.Errorf("pointers = %d/%d, want 3/4", l.CurrentID, l.LatestID)
	}
	if l.Collateral != 70*unit {
		t.Errorf("Collateral = %d, want %d", l.Collateral, 70*unit)
	}
}

func TestLocal_UpdateRangeViolation(t *testing.T) {
	l := settle.Local{Collateral: fixed.CollateralRange.Max}

	_, err := l.Update(1, settle.Result{Collateral: unit})
	if !errors.Is(err, fixed.ErrOutOfRange) {
		t.Fatalf("expected ErrOutOfRange, got %v", err)
	}
	if l.Collateral != fixed.CollateralRange.Max || l.LatestID != 0 {
		t.Errorf("failed update must leave state untouched, got %+v", l)
	}
}

func TestLocal_ProtectLatch(t *testing.T) {
	var l settle.Local
	pos := market.Position{Timestamp: 100}

	// tryProtect false is a no-op.
	if l.Protect(pos, 150, false) {
		t.Error("tryProtect=false must return false")
	}

	// First protection succeeds.
	if !l.Protect(pos, 150, true) {
		t.Error("first protection should succeed")
	}
	if l.Protection != 150 {
		t.Errorf("Protection = %d, want 150", l.Protection)
	}

	// Duplicate attempt against the same position epoch: the stored
	// protection (150) is newer than the position timestamp (100), so
	// the latch holds.
	if l.Protect(pos, 160, true) {
		t.Error("duplicate protection for the same epoch must be a no-op")
	}
	if l.Protection != 150 {
		t.Errorf("Protection = %d, want unchanged 150", l.Protection)
	}

	// A strictly newer position epoch can be protected again.
	newer := market.Position{Timestamp: 200}
	if !l.Protect(newer, 250, true) {
		t.Error("protection for a newer position epoch should succeed")
	}
	if l.Protection != 250 {
		t.Errorf("Protection = %d, want 250", l.Protection)
	}
}

func TestLocal_CreditAndClaim(t *testing.T) {
	var l settle.Local

	if err := l.Credit(5 * unit); err != nil {
		t.Fatalf("Credit: %v", err)
	}
	if err := l.Credit(2 * unit); err != nil {
		t.Fatalf("Credit: %v", err)
	}
	if l.Claimable != 7*unit {
		t.Errorf("Claimable = %d, want %d", l.Claimable, 7*unit)
	}

	claimed := l.Claim()
	if claimed != 7*unit || l.Claimable != 0 {
		t.Errorf("Claim = %d (remaining %d), want %d/0", claimed, l.Claimable, 7*unit)
	}
}

func TestLocal_Validate(t *testing.T) {
	good := settle.Local{LatestID: 1, Collateral: unit}
	if err := good.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}

	bad := settle.Local{LatestID: 1 << 32}
	if err := bad.Validate(); !errors.Is(err, fixed.ErrOutOfRange) {
		t.Errorf("expected ErrOutOfRange, got %v", err)
	}
}

func TestCheckpoint_Validate(t *testing.T) {
	bad := settle.Checkpoint{TradeFee: 1 << 47}
	if err := bad.Validate(); !errors.Is(err, fixed.ErrOutOfRange) {
		t.Errorf("expected ErrOutOfRange, got %v", err)
	}
}
