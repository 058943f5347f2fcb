package store

import (
	"fmt"

	"github.com/google/uuid"

	"PerpSettle/internal/fixed"
	"PerpSettle/internal/market"
	"PerpSettle/internal/settle"
)

type checkpointKey struct {
	account uuid.UUID
	epoch   int64
}

// MemoryStore is the in-memory Store the settlement core runs against.
// Durable persistence happens downstream via the persistence worker;
// on restart the store is rebuilt from Postgres by the recovery loader.
type MemoryStore struct {
	checkpoints map[checkpointKey]settle.Checkpoint
	locals      map[uuid.UUID]settle.Local
	globals     map[string]settle.Global
	versions    map[string]map[int64]market.Version
	latest      map[string]int64
	positions   map[uuid.UUID]market.Position
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		checkpoints: make(map[checkpointKey]settle.Checkpoint),
		locals:      make(map[uuid.UUID]settle.Local),
		globals:     make(map[string]settle.Global),
		versions:    make(map[string]map[int64]market.Version),
		latest:      make(map[string]int64),
		positions:   make(map[uuid.UUID]market.Position),
	}
}

func (s *MemoryStore) Checkpoint(account uuid.UUID, epoch int64) (settle.Checkpoint, bool) {
	c, ok := s.checkpoints[checkpointKey{account, epoch}]
	return c, ok
}

func (s *MemoryStore) PutCheckpoint(account uuid.UUID, epoch int64, c settle.Checkpoint) error {
	if err := fixed.IDRange.Check(epoch); err != nil {
		return err
	}
	if err := c.Validate(); err != nil {
		return fmt.Errorf("checkpoint %s/%d: %w", account, epoch, err)
	}
	s.checkpoints[checkpointKey{account, epoch}] = c
	return nil
}

func (s *MemoryStore) Local(account uuid.UUID) settle.Local {
	return s.locals[account]
}

func (s *MemoryStore) PutLocal(account uuid.UUID, l settle.Local) error {
	if err := l.Validate(); err != nil {
		return fmt.Errorf("local %s: %w", account, err)
	}
	s.locals[account] = l
	return nil
}

func (s *MemoryStore) Global(marketID string) settle.Global {
	return s.globals[marketID]
}

func (s *MemoryStore) PutGlobal(marketID string, g settle.Global) error {
	if err := g.Validate(); err != nil {
		return fmt.Errorf("global %s: %w", marketID, err)
	}
	s.globals[marketID] = g
	return nil
}

func (s *MemoryStore) Version(marketID string, timestamp int64) (market.Version, bool) {
	v, ok := s.versions[marketID][timestamp]
	return v, ok
}

func (s *MemoryStore) PutVersion(marketID string, v market.Version) error {
	if err := fixed.PriceRange.Check(v.Price); err != nil {
		return fmt.Errorf("version %s/%d: %w", marketID, v.Timestamp, err)
	}

	byTS, ok := s.versions[marketID]
	if !ok {
		byTS = make(map[int64]market.Version)
		s.versions[marketID] = byTS
	}
	byTS[v.Timestamp] = v

	if v.Timestamp > s.latest[marketID] {
		s.latest[marketID] = v.Timestamp
	}
	return nil
}

func (s *MemoryStore) LatestVersion(marketID string) (market.Version, bool) {
	ts, ok := s.latest[marketID]
	if !ok {
		return market.Version{}, false
	}
	return s.versions[marketID][ts], true
}

func (s *MemoryStore) Position(account uuid.UUID) market.Position {
	return s.positions[account]
}

func (s *MemoryStore) PutPosition(account uuid.UUID, p market.Position) error {
	if err := p.Validate(); err != nil {
		return fmt.Errorf("position %s: %w", account, err)
	}
	s.positions[account] = p
	return nil
}
