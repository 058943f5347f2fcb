package event

import (
	"time"
)

// EventType discriminator for event payloads
type EventType int32

const (
	EventTypeUnknown EventType = iota
	EventTypeVersionCommitted
	EventTypeAccountSettled
	EventTypeIntentFill
	EventTypeProtectionRequested
	EventTypeClaimRequested
)

// Envelope wraps every event in the settlement log
type Envelope struct {
	// Global monotonic sequence assigned by the core
	Sequence int64

	// Stable idempotency key from upstream
	IdempotencyKey string

	// Event type discriminator
	EventType EventType

	// Market context
	Market string

	// Versioned input timestamp (NOT wall-clock)
	Timestamp time.Time

	// Upstream sequence for ordering validation
	SourceSequence int64

	// JSON-encoded event-specific data
	Payload []byte

	// SHA-256 of state AFTER applying this event
	StateHash [32]byte

	// Previous event's state hash (chain integrity)
	PrevHash [32]byte
}

// Event is the interface all event payloads must implement
type Event interface {
	// IdempotencyKey returns the stable dedup key
	IdempotencyKey() string

	// EventType returns the discriminator
	EventType() EventType

	// MarketID returns the market context
	MarketID() string

	// SourceSequence returns the upstream ordering key
	SourceSequence() int64
}

func (et EventType) String() string {
	switch et {
	case EventTypeVersionCommitted:
		return "VersionCommitted"
	case EventTypeAccountSettled:
		return "AccountSettled"
	case EventTypeIntentFill:
		return "IntentFill"
	case EventTypeProtectionRequested:
		return "ProtectionRequested"
	case EventTypeClaimRequested:
		return "ClaimRequested"
	default:
		return "Unknown"
	}
}
