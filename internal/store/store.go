package store

import (
	"github.com/google/uuid"

	"PerpSettle/internal/market"
	"PerpSettle/internal/settle"
)

// Store is the mutable ledger state handed into the settlement core:
// every mutation is an explicit read-modify-write against it, there are
// no process-wide singletons. Implementations are not required to be
// goroutine-safe; the core is single-threaded.
//
// Put methods enforce the per-field range checks at the write boundary:
// an out-of-range row is rejected with fixed.ErrOutOfRange, never
// truncated.
type Store interface {
	Checkpoint(account uuid.UUID, epoch int64) (settle.Checkpoint, bool)
	PutCheckpoint(account uuid.UUID, epoch int64, c settle.Checkpoint) error

	Local(account uuid.UUID) settle.Local
	PutLocal(account uuid.UUID, l settle.Local) error

	Global(marketID string) settle.Global
	PutGlobal(marketID string, g settle.Global) error

	Version(marketID string, timestamp int64) (market.Version, bool)
	PutVersion(marketID string, v market.Version) error
	LatestVersion(marketID string) (market.Version, bool)

	Position(account uuid.UUID) market.Position
	PutPosition(account uuid.UUID, p market.Position) error
}
