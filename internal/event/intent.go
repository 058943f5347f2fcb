package event

import (
	"time"

	"github.com/google/uuid"

	"PerpSettle/internal/market"
)

// IntentFill records a fill matched at an off-book negotiated price.
// The core derives a Guarantee from it and holds the guarantee pending
// until the account's next settlement.
// Idempotency key: fill_id.
type IntentFill struct {
	FillID   uuid.UUID // Idempotency key
	Account  uuid.UUID
	Market   string
	Side     market.Side
	Pos      int64
	Neg      int64
	Orders   int64
	Price    int64 // negotiated price, 6dp fixed point

	// Referral attribution; Referrer nil-UUID means no referral.
	Referrer     uuid.UUID
	ReferralRate int64

	// False when the corresponding fee was resolved as part of the
	// intent and must not be charged again by the accumulators.
	ChargeSettlementFee bool
	ChargeTradeFee      bool

	Sequence  int64
	Timestamp time.Time
}

func (i *IntentFill) IdempotencyKey() string {
	return i.FillID.String()
}

func (i *IntentFill) EventType() EventType {
	return EventTypeIntentFill
}

func (i *IntentFill) MarketID() string {
	return i.Market
}

func (i *IntentFill) SourceSequence() int64 {
	return i.Sequence
}
