package event

import (
	"fmt"
	"time"

	"PerpSettle/internal/market"
)

// VersionCommitted carries an oracle version snapshot: a price plus the
// cumulative per-unit accumulators at one timestamp. Committing a
// version closes the settlement epoch that ends at it.
// Idempotency key: market + version timestamp.
type VersionCommitted struct {
	Market    string
	Version   market.Version
	Sequence  int64
	Timestamp time.Time
}

func (v *VersionCommitted) IdempotencyKey() string {
	return fmt.Sprintf("%s:%d", v.Market, v.Version.Timestamp)
}

func (v *VersionCommitted) EventType() EventType {
	return EventTypeVersionCommitted
}

func (v *VersionCommitted) MarketID() string {
	return v.Market
}

func (v *VersionCommitted) SourceSequence() int64 {
	return v.Sequence
}
