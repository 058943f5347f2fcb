package settle_test

import (
	"errors"
	"testing"

	"PerpSettle/internal/fixed"
	"PerpSettle/internal/settle"
)

func mustRates(t *testing.T, protocol, oracle, risk string) settle.FeeRates {
	t.Helper()
	rates, err := settle.ParseFeeRates(protocol, oracle, risk)
	if err != nil {
		t.Fatalf("ParseFeeRates(%s, %s, %s): %v", protocol, oracle, risk, err)
	}
	return rates
}

func TestIncrementFees_Scenario(t *testing.T) {
	// amount=123 (smallest units), protocolRate=0.2, oracleRate=0.1,
	// riskRate=0.3 => 24 / 9 / 29 / 61 with floor at every stage.
	var g settle.Global
	split, err := g.IncrementFees(123, 0, mustRates(t, "0.2", "0.1", "0.3"))
	if err != nil {
		t.Fatalf("IncrementFees: %v", err)
	}

	if split.Protocol != 24 {
		t.Errorf("Protocol = %d, want 24", split.Protocol)
	}
	if split.Oracle != 9 {
		t.Errorf("Oracle = %d, want 9", split.Oracle)
	}
	if split.Risk != 29 {
		t.Errorf("Risk = %d, want 29", split.Risk)
	}
	if split.Donation != 61 {
		t.Errorf("Donation = %d, want 61", split.Donation)
	}

	if g.ProtocolFee != 24 || g.OracleFee != 9 || g.RiskFee != 29 || g.Donation != 61 {
		t.Errorf("global buckets = %+v", g)
	}
}

func TestIncrementFees_Additivity(t *testing.T) {
	// For every amount, the split excluding keeper compensation must
	// sum exactly back to the amount.
	rates := mustRates(t, "0.37", "0.21", "0.415")

	for amount := int64(0); amount < 2000; amount += 7 {
		var g settle.Global
		split, err := g.IncrementFees(amount, 0, rates)
		if err != nil {
			t.Fatalf("IncrementFees(%d): %v", amount, err)
		}
		total := split.Protocol + split.Oracle + split.Risk + split.Donation
		if total != amount {
			t.Fatalf("amount %d split to %d (%+v)", amount, total, split)
		}
	}
}

func TestIncrementFees_KeeperGoesToOracle(t *testing.T) {
	var g settle.Global
	split, err := g.IncrementFees(100, 55, mustRates(t, "0", "0", "0"))
	if err != nil {
		t.Fatalf("IncrementFees: %v", err)
	}
	if split.Oracle != 55 {
		t.Errorf("Oracle = %d, want keeper amount 55", split.Oracle)
	}
	if split.Donation != 100 {
		t.Errorf("Donation = %d, want 100", split.Donation)
	}
	if g.OracleFee != 55 {
		t.Errorf("OracleFee bucket = %d, want 55", g.OracleFee)
	}
}

func TestIncrementFees_FatalWhenRatesExceedOne(t *testing.T) {
	rates := settle.FeeRates{Protocol: 0, Oracle: 700_000, Risk: 700_000}

	var g settle.Global
	_, err := g.IncrementFees(1000, 0, rates)
	if !errors.Is(err, settle.ErrInvalidRates) {
		t.Fatalf("expected ErrInvalidRates, got %v", err)
	}
	if g.ProtocolFee != 0 || g.OracleFee != 0 || g.RiskFee != 0 || g.Donation != 0 {
		t.Errorf("failed split must leave buckets untouched, got %+v", g)
	}
}

func TestIncrementFees_FatalOnSmallPools(t *testing.T) {
	// On a pool of 1 the per-stage floors round every cut to zero, so
	// the donation residual alone cannot expose an over-unity rate set.
	// The rates must be rejected regardless of pool size.
	rates := settle.FeeRates{Protocol: 0, Oracle: 700_000, Risk: 700_000}

	for _, amount := range []int64{1, 2, 3} {
		var g settle.Global
		_, err := g.IncrementFees(amount, 0, rates)
		if !errors.Is(err, settle.ErrInvalidRates) {
			t.Errorf("amount %d: expected ErrInvalidRates, got %v", amount, err)
		}
	}

	var g settle.Global
	if _, err := g.IncrementFees(1, 0, settle.FeeRates{Protocol: 1_100_000}); !errors.Is(err, settle.ErrInvalidRates) {
		t.Errorf("protocol rate over 1.0: expected ErrInvalidRates, got %v", err)
	}
}

func TestIncrementFees_RatesSumExactlyOne(t *testing.T) {
	// oracle+risk == 1.0 must succeed; donation is only the floor
	// remainder.
	var g settle.Global
	split, err := g.IncrementFees(999, 0, mustRates(t, "0", "0.5", "0.5"))
	if err != nil {
		t.Fatalf("IncrementFees: %v", err)
	}
	if split.Oracle != 499 || split.Risk != 499 || split.Donation != 1 {
		t.Errorf("split = %+v, want 499/499/1", split)
	}
}

func TestIncrementFees_NegativeAmountRejected(t *testing.T) {
	var g settle.Global
	if _, err := g.IncrementFees(-1, 0, mustRates(t, "0.2", "0.1", "0.3")); err == nil {
		t.Error("negative amount should be rejected")
	}
}

func TestParseFeeRates_RejectsCumulativeOverOne(t *testing.T) {
	_, err := settle.ParseFeeRates("0.2", "0.6", "0.5")
	if !errors.Is(err, settle.ErrInvalidRates) {
		t.Errorf("expected ErrInvalidRates, got %v", err)
	}
}

func TestGlobal_Advance(t *testing.T) {
	var g settle.Global
	if err := g.Advance(7); err != nil {
		t.Fatalf("Advance: %v", err)
	}
	if g.CurrentID != 0 || g.LatestID != 7 {
		t.Errorf("pointers = %d/%d, want 0/7", g.CurrentID, g.LatestID)
	}

	if err := g.Advance(-1); !errors.Is(err, fixed.ErrOutOfRange) {
		t.Errorf("negative id: expected ErrOutOfRange, got %v", err)
	}
}
