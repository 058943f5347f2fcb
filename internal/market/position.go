package market

import (
	"fmt"

	"PerpSettle/internal/fixed"
)

// Position is the magnitude of exposure in the three mutually exclusive
// directions: maker, long, short. Quantities are 6dp fixed-point and
// non-negative. A normal account holds at most one non-zero direction;
// the aggregate market position may hold all three.
type Position struct {
	Timestamp int64 // version timestamp the position was last settled to
	Maker     int64
	Long      int64
	Short     int64
}

// Magnitude returns the largest single-direction exposure.
func (p Position) Magnitude() int64 {
	m := p.Maker
	if p.Long > m {
		m = p.Long
	}
	if p.Short > m {
		m = p.Short
	}
	return m
}

// Empty reports whether the position has no exposure in any direction.
func (p Position) Empty() bool {
	return p.Maker == 0 && p.Long == 0 && p.Short == 0
}

// Validate rejects negative exposures. An order whose neg leg exceeds
// the held exposure would produce one.
func (p Position) Validate() error {
	if p.Maker < 0 || p.Long < 0 || p.Short < 0 {
		return fmt.Errorf("%w: negative exposure maker=%d long=%d short=%d",
			fixed.ErrOutOfRange, p.Maker, p.Long, p.Short)
	}
	return nil
}
