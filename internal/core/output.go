package core

import (
	"encoding/binary"

	"github.com/google/uuid"

	"PerpSettle/internal/event"
	"PerpSettle/internal/market"
	"PerpSettle/internal/settle"
)

// Output is one applied event plus the rows it mutated, handed to the
// persistence and publish workers. The persist channel uses blocking
// sends: if persistence falls behind, the core stalls rather than drop
// an update.
type Output struct {
	Envelope *event.Envelope

	Checkpoints []CheckpointUpdate
	Locals      []LocalUpdate
	Globals     []GlobalUpdate
	Versions    []VersionUpdate
	Positions   []PositionUpdate

	// Results carries per-account settlement notifications for the
	// publish worker.
	Results []SettlementResult
}

type CheckpointUpdate struct {
	Account uuid.UUID
	Epoch   int64
	Row     settle.Checkpoint
}

type LocalUpdate struct {
	Account uuid.UUID
	Row     settle.Local
}

type GlobalUpdate struct {
	Market string
	Row    settle.Global
}

type VersionUpdate struct {
	Market string
	Row    market.Version
}

type PositionUpdate struct {
	Account uuid.UUID
	Row     market.Position
}

// SettlementResult is the externally visible breakdown for one account
// settlement.
type SettlementResult struct {
	Account uuid.UUID
	Market  string
	Epoch   int64
	Result  settle.Result
	Split   settle.FeeSplit
}

func (o *Output) digest() []byte {
	buf := make([]byte, 0, 256)
	for _, c := range o.Checkpoints {
		buf = append(buf, c.Account[:]...)
		buf = append(buf, c.Row.CanonicalBytes()...)
	}
	for _, l := range o.Locals {
		buf = append(buf, l.Account[:]...)
		buf = append(buf, l.Row.CanonicalBytes()...)
	}
	for _, g := range o.Globals {
		buf = append(buf, []byte(g.Market)...)
		buf = append(buf, g.Row.CanonicalBytes()...)
	}
	for _, p := range o.Positions {
		buf = append(buf, p.Account[:]...)
		var pos [32]byte
		binary.LittleEndian.PutUint64(pos[0:8], uint64(p.Row.Timestamp))
		binary.LittleEndian.PutUint64(pos[8:16], uint64(p.Row.Maker))
		binary.LittleEndian.PutUint64(pos[16:24], uint64(p.Row.Long))
		binary.LittleEndian.PutUint64(pos[24:32], uint64(p.Row.Short))
		buf = append(buf, pos[:]...)
	}
	return buf
}
