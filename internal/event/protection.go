package event

import (
	"time"

	"github.com/google/uuid"
)

// ProtectionRequested is a liquidation-protection attempt for an
// account. Applying it is a benign no-op when the account's position
// has already been protected for a more recent epoch.
// Idempotency key: request_id.
type ProtectionRequested struct {
	RequestID        uuid.UUID // Idempotency key
	Account          uuid.UUID
	Market           string
	ProtectTimestamp int64
	TryProtect       bool
	Sequence         int64
	Timestamp        time.Time
}

func (p *ProtectionRequested) IdempotencyKey() string {
	return p.RequestID.String()
}

func (p *ProtectionRequested) EventType() EventType {
	return EventTypeProtectionRequested
}

func (p *ProtectionRequested) MarketID() string {
	return p.Market
}

func (p *ProtectionRequested) SourceSequence() int64 {
	return p.Sequence
}

// ClaimRequested drains an account's claimable balance toward the
// collateral-account layer.
// Idempotency key: claim_id.
type ClaimRequested struct {
	ClaimID   uuid.UUID // Idempotency key
	Account   uuid.UUID
	Market    string
	Sequence  int64
	Timestamp time.Time
}

func (c *ClaimRequested) IdempotencyKey() string {
	return c.ClaimID.String()
}

func (c *ClaimRequested) EventType() EventType {
	return EventTypeClaimRequested
}

func (c *ClaimRequested) MarketID() string {
	return c.Market
}

func (c *ClaimRequested) SourceSequence() int64 {
	return c.Sequence
}
