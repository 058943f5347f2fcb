package event

import (
	"time"

	"github.com/google/uuid"

	"PerpSettle/internal/market"
)

// AccountSettled is the per-account, per-epoch settlement instruction
// from the order-application subsystem: the order delta accrued by the
// account over the interval (FromTimestamp, ToTimestamp].
// Idempotency key: settlement_id.
type AccountSettled struct {
	SettlementID  uuid.UUID // Idempotency key
	Account       uuid.UUID
	Market        string
	Epoch         int64 // settlement epoch id, strictly increasing per account
	FromTimestamp int64
	ToTimestamp   int64
	Order         market.Order
	Sequence      int64
	Timestamp     time.Time
}

func (a *AccountSettled) IdempotencyKey() string {
	return a.SettlementID.String()
}

func (a *AccountSettled) EventType() EventType {
	return EventTypeAccountSettled
}

func (a *AccountSettled) MarketID() string {
	return a.Market
}

func (a *AccountSettled) SourceSequence() int64 {
	return a.Sequence
}
