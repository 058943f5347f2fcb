package settle

import (
	"encoding/binary"
	"errors"
	"fmt"

	"PerpSettle/internal/fixed"
)

// ErrInvalidRates marks a fee-rate configuration whose cumulative rate
// exceeds 1.0. This is a protocol misconfiguration, not a recoverable
// runtime error; it aborts the settlement step and is never clamped.
var ErrInvalidRates = errors.New("settle: cumulative fee rate exceeds 1.0")

// FeeRates are the protocol fee split fractions, 6dp fixed point in [0, 1].
type FeeRates struct {
	Protocol int64
	Oracle   int64
	Risk     int64
}

// ParseFeeRates parses decimal rate strings from configuration.
func ParseFeeRates(protocol, oracle, risk string) (FeeRates, error) {
	p, err := fixed.ParseRate(protocol)
	if err != nil {
		return FeeRates{}, fmt.Errorf("protocol rate: %w", err)
	}
	o, err := fixed.ParseRate(oracle)
	if err != nil {
		return FeeRates{}, fmt.Errorf("oracle rate: %w", err)
	}
	r, err := fixed.ParseRate(risk)
	if err != nil {
		return FeeRates{}, fmt.Errorf("risk rate: %w", err)
	}

	rates := FeeRates{Protocol: p, Oracle: o, Risk: r}
	if err := rates.Validate(); err != nil {
		return FeeRates{}, err
	}
	return rates, nil
}

// Validate rejects rate sets that can never split an amount cleanly.
func (r FeeRates) Validate() error {
	if r.Protocol < 0 || r.Protocol > fixed.Scale {
		return fmt.Errorf("%w: protocol %s", ErrInvalidRates, fixed.String(r.Protocol))
	}
	if r.Oracle < 0 || r.Risk < 0 || r.Oracle+r.Risk > fixed.Scale {
		return fmt.Errorf("%w: oracle %s + risk %s", ErrInvalidRates,
			fixed.String(r.Oracle), fixed.String(r.Risk))
	}
	return nil
}

// FeeSplit is the per-epoch allocation produced by the waterfall.
type FeeSplit struct {
	Protocol int64
	Oracle   int64
	Risk     int64
	Donation int64
}

// Global is the protocol-wide aggregate row: epoch pointers plus the
// four monotonically increasing fee buckets.
type Global struct {
	CurrentID int64
	LatestID  int64

	ProtocolFee int64
	OracleFee   int64
	RiskFee     int64
	Donation    int64
}

// IncrementFees distributes amount across the fee buckets with a
// two-stage proportional split, flooring at each stage. Keeper
// compensation is additive and always fully credited to the oracle
// bucket, independent of the oracle rate. The donation bucket receives
// the rounding remainder plus whatever fraction of the pool is
// unclaimed by oracle and risk.
func (g *Global) IncrementFees(amount, keeperAmount int64, rates FeeRates) (FeeSplit, error) {
	if amount < 0 || keeperAmount < 0 {
		return FeeSplit{}, fmt.Errorf("%w: negative fee amount %d", fixed.ErrOutOfRange, amount)
	}
	// Per-stage floors can hide an over-unity rate set on small pools,
	// so the rates themselves are checked, not just the residuals.
	if err := rates.Validate(); err != nil {
		return FeeSplit{}, err
	}

	protocol, err := fixed.Mul(amount, rates.Protocol)
	if err != nil {
		return FeeSplit{}, err
	}
	pool := amount - protocol
	if pool < 0 {
		return FeeSplit{}, fmt.Errorf("%w: protocol rate %s", ErrInvalidRates,
			fixed.String(rates.Protocol))
	}

	oracle, err := fixed.Mul(pool, rates.Oracle)
	if err != nil {
		return FeeSplit{}, err
	}
	risk, err := fixed.Mul(pool, rates.Risk)
	if err != nil {
		return FeeSplit{}, err
	}

	donation := pool - oracle - risk
	if donation < 0 {
		return FeeSplit{}, fmt.Errorf("%w: oracle %s + risk %s on pool %s", ErrInvalidRates,
			fixed.String(rates.Oracle), fixed.String(rates.Risk), fixed.String(pool))
	}

	split := FeeSplit{
		Protocol: protocol,
		Oracle:   oracle + keeperAmount,
		Risk:     risk,
		Donation: donation,
	}

	next := *g
	if next.ProtocolFee, err = fixed.Add(g.ProtocolFee, split.Protocol); err != nil {
		return FeeSplit{}, err
	}
	if next.OracleFee, err = fixed.Add(g.OracleFee, split.Oracle); err != nil {
		return FeeSplit{}, err
	}
	if next.RiskFee, err = fixed.Add(g.RiskFee, split.Risk); err != nil {
		return FeeSplit{}, err
	}
	if next.Donation, err = fixed.Add(g.Donation, split.Donation); err != nil {
		return FeeSplit{}, err
	}
	if err := next.Validate(); err != nil {
		return FeeSplit{}, err
	}

	*g = next
	return split, nil
}

// Advance moves the epoch pointers forward.
func (g *Global) Advance(id int64) error {
	if err := fixed.IDRange.Check(id); err != nil {
		return err
	}
	g.CurrentID = g.LatestID
	g.LatestID = id
	return nil
}

// Validate range-checks the row at the write boundary.
func (g Global) Validate() error {
	if err := fixed.IDRange.Check(g.CurrentID); err != nil {
		return err
	}
	if err := fixed.IDRange.Check(g.LatestID); err != nil {
		return err
	}
	for _, bucket := range []int64{g.ProtocolFee, g.OracleFee, g.RiskFee, g.Donation} {
		if err := fixed.FeeRange.Check(bucket); err != nil {
			return err
		}
	}
	return nil
}

// CanonicalBytes returns a deterministic serialization for state hashing.
func (g Global) CanonicalBytes() []byte {
	buf := make([]byte, 48)
	binary.LittleEndian.PutUint64(buf[0:8], uint64(g.CurrentID))
	binary.LittleEndian.PutUint64(buf[8:16], uint64(g.LatestID))
	binary.LittleEndian.PutUint64(buf[16:24], uint64(g.ProtocolFee))
	binary.LittleEndian.PutUint64(buf[24:32], uint64(g.OracleFee))
	binary.LittleEndian.PutUint64(buf[32:40], uint64(g.RiskFee))
	binary.LittleEndian.PutUint64(buf[40:48], uint64(g.Donation))
	return buf
}
