package settle

import (
	"fmt"
)

// ConservationChecker verifies that the value-accumulation contribution
// is zero-sum across a settlement epoch: one side's pnl gain is exactly
// another side's loss, net of fees. Not thread-safe; only accessed from
// the single-threaded settlement core.
type ConservationChecker struct {
	valueSum map[string]int64 // market -> running value contribution
	accounts map[string]int64 // market -> accounts recorded this epoch
}

func NewConservationChecker() *ConservationChecker {
	return &ConservationChecker{
		valueSum: make(map[string]int64),
		accounts: make(map[string]int64),
	}
}

// Record folds one account's result into the epoch's running sum.
func (c *ConservationChecker) Record(marketID string, res Result) {
	c.valueSum[marketID] += res.Value
	c.accounts[marketID]++
}

// Validate returns an error if the recorded value contributions for a
// market do not net to zero.
func (c *ConservationChecker) Validate(marketID string) error {
	if sum := c.valueSum[marketID]; sum != 0 {
		return fmt.Errorf("value accumulation for %s is non-zero across %d accounts: %d",
			marketID, c.accounts[marketID], sum)
	}
	return nil
}

// Reset clears a market's running sums at an epoch boundary.
func (c *ConservationChecker) Reset(marketID string) {
	delete(c.valueSum, marketID)
	delete(c.accounts, marketID)
}

// Accounts returns the number of accounts recorded for a market this
// epoch.
func (c *ConservationChecker) Accounts(marketID string) int64 {
	return c.accounts[marketID]
}
