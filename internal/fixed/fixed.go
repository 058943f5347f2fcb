package fixed

import (
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/shopspring/decimal"
)

// Scale is the fixed-point denominator: all monetary and quantity values
// carry 6 fractional digits on an int64 base.
const Scale int64 = 1_000_000

var (
	// ErrOutOfRange marks a value rejected at the persistence boundary.
	ErrOutOfRange = errors.New("fixed: value out of range")

	// ErrOverflow marks an intermediate result that does not fit in int64.
	// Overflow is fatal for the settlement step that produced it; it is
	// never saturated or truncated.
	ErrOverflow = errors.New("fixed: arithmetic overflow")
)

// Range declares the valid bounds for a field family. Values outside the
// range are rejected with ErrOutOfRange rather than clamped.
type Range struct {
	Name string
	Min  int64
	Max  int64
}

// Field families, sized to the reference storage layout: 32-bit unsigned
// epoch ids, 48-bit signed fee accumulators, 63-bit signed collateral.
var (
	IDRange         = Range{Name: "id", Min: 0, Max: 1<<32 - 1}
	FeeRange        = Range{Name: "fee", Min: -(1 << 47), Max: 1<<47 - 1}
	CollateralRange = Range{Name: "collateral", Min: -(1 << 62), Max: 1<<62 - 1}
	PriceRange      = Range{Name: "price", Min: 0, Max: 1<<62 - 1}
	RateRange       = Range{Name: "rate", Min: 0, Max: Scale}
)

func (r Range) Check(v int64) error {
	if v < r.Min || v > r.Max {
		return fmt.Errorf("%w: %s value %d outside [%d, %d]", ErrOutOfRange, r.Name, v, r.Min, r.Max)
	}
	return nil
}

// Pooled big.Int for intermediate products; a single multiply of two
// int64 values needs at most 127 bits.
var intPool = &sync.Pool{
	New: func() interface{} {
		return new(big.Int)
	},
}

func getInt() *big.Int {
	return intPool.Get().(*big.Int)
}

func putInt(v *big.Int) {
	v.SetInt64(0)
	intPool.Put(v)
}

// MulDiv returns a*b/c with the product widened through big.Int and the
// quotient truncated toward zero. The result must fit in int64.
func MulDiv(a, b, c int64) (int64, error) {
	if c == 0 {
		return 0, fmt.Errorf("%w: division by zero", ErrOverflow)
	}

	p := getInt()
	defer putInt(p)

	p.Mul(big.NewInt(a), big.NewInt(b))
	p.Quo(p, big.NewInt(c))

	if !p.IsInt64() {
		return 0, fmt.Errorf("%w: %d*%d/%d", ErrOverflow, a, b, c)
	}
	return p.Int64(), nil
}

// Mul returns the fixed-point product a*b/Scale, truncated toward zero.
// Inputs in the fee waterfall are non-negative, so truncation there is
// the required floor.
func Mul(a, b int64) (int64, error) {
	return MulDiv(a, b, Scale)
}

// Div returns the fixed-point quotient a*Scale/b, truncated toward zero.
func Div(a, b int64) (int64, error) {
	return MulDiv(a, Scale, b)
}

// MulInt returns the plain product n*v for per-count charges (settlement
// fee per order submission, liquidation fee per protection event), where
// n is an unscaled count.
func MulInt(n, v int64) (int64, error) {
	return MulDiv(n, v, 1)
}

// Add returns a+b, rejecting int64 wraparound.
func Add(a, b int64) (int64, error) {
	s := a + b
	if (b > 0 && s < a) || (b < 0 && s > a) {
		return 0, fmt.Errorf("%w: %d+%d", ErrOverflow, a, b)
	}
	return s, nil
}

// ParseRate parses a decimal fraction such as "0.2" into 6dp fixed point
// and validates it against RateRange.
func ParseRate(s string) (int64, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("parse rate %q: %w", s, err)
	}

	v := d.Mul(decimal.NewFromInt(Scale)).IntPart()
	if err := RateRange.Check(v); err != nil {
		return 0, fmt.Errorf("rate %q: %w", s, err)
	}
	return v, nil
}

// String renders a 6dp fixed-point value as a decimal string for logs
// and query responses.
func String(v int64) string {
	return decimal.New(v, -6).String()
}
