package persistence

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"PerpSettle/internal/market"
	"PerpSettle/internal/settle"
	"PerpSettle/internal/store"
)

// Recovery rebuilds the in-memory settlement state from Postgres on
// startup. The row tables are written transactionally with the event
// log, so they are the snapshot: no separate snapshot table or event
// replay is needed for a warm start.
type Recovery struct {
	db *sql.DB
}

// RecoveredState is everything the orchestrator needs to resume the
// core where it left off.
type RecoveredState struct {
	Sequence  int64
	StateHash [32]byte
	Store     *store.MemoryStore

	// Composite dedup keys for LRU warming, newest first.
	IdempotencyKeys []string

	// Markets with at least one committed version. The store holds the
	// per-market watermark itself.
	Markets []string
}

func NewRecovery(db *sql.DB) *Recovery {
	return &Recovery{db: db}
}

// Load reads all persisted rows into a fresh MemoryStore and restores
// the sequence counter and hash-chain tip from the last event row.
func (r *Recovery) Load(ctx context.Context, lruCapacity int) (*RecoveredState, error) {
	state := &RecoveredState{
		Store: store.NewMemoryStore(),
	}

	if err := r.loadLastEvent(ctx, state); err != nil {
		return nil, fmt.Errorf("load last event: %w", err)
	}
	if err := r.loadVersions(ctx, state); err != nil {
		return nil, fmt.Errorf("load versions: %w", err)
	}
	if err := r.loadCheckpoints(ctx, state); err != nil {
		return nil, fmt.Errorf("load checkpoints: %w", err)
	}
	if err := r.loadLocals(ctx, state); err != nil {
		return nil, fmt.Errorf("load locals: %w", err)
	}
	if err := r.loadGlobals(ctx, state); err != nil {
		return nil, fmt.Errorf("load globals: %w", err)
	}
	if err := r.loadPositions(ctx, state); err != nil {
		return nil, fmt.Errorf("load positions: %w", err)
	}

	keys, err := NewPostgresIdempotencyChecker(r.db).RecentKeys(ctx, lruCapacity)
	if err != nil {
		return nil, fmt.Errorf("load idempotency keys: %w", err)
	}
	state.IdempotencyKeys = keys

	return state, nil
}

func (r *Recovery) loadLastEvent(ctx context.Context, state *RecoveredState) error {
	row := r.db.QueryRowContext(ctx, `
		SELECT sequence, state_hash
		FROM settlement.events
		ORDER BY sequence DESC
		LIMIT 1
	`)

	var hash []byte
	err := row.Scan(&state.Sequence, &hash)
	if err == sql.ErrNoRows {
		// Cold start.
		return nil
	}
	if err != nil {
		return err
	}
	if len(hash) != 32 {
		return fmt.Errorf("state hash length %d at sequence %d", len(hash), state.Sequence)
	}
	copy(state.StateHash[:], hash)
	return nil
}

func (r *Recovery) loadVersions(ctx context.Context, state *RecoveredState) error {
	rows, err := r.db.QueryContext(ctx, `
		SELECT market, version_timestamp, valid, price, maker_value, long_value, short_value,
		       maker_fee, taker_fee, maker_offset, taker_pos_offset, taker_neg_offset,
		       settlement_fee, liquidation_fee
		FROM settlement.versions
		ORDER BY market, version_timestamp
	`)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var mkt string
		var v market.Version
		if err := rows.Scan(
			&mkt, &v.Timestamp, &v.Valid, &v.Price,
			&v.MakerValue, &v.LongValue, &v.ShortValue,
			&v.MakerFee, &v.TakerFee, &v.MakerOffset, &v.TakerPosOffset, &v.TakerNegOffset,
			&v.SettlementFee, &v.LiquidationFee,
		); err != nil {
			return err
		}
		if err := state.Store.PutVersion(mkt, v); err != nil {
			return err
		}
		// Rows arrive ordered by market.
		if n := len(state.Markets); n == 0 || state.Markets[n-1] != mkt {
			state.Markets = append(state.Markets, mkt)
		}
	}
	return rows.Err()
}

func (r *Recovery) loadCheckpoints(ctx context.Context, state *RecoveredState) error {
	rows, err := r.db.QueryContext(ctx, `
		SELECT account_id, epoch, trade_fee, settlement_fee, transfer, collateral
		FROM settlement.checkpoints
	`)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var account uuid.UUID
		var epoch int64
		var cp settle.Checkpoint
		if err := rows.Scan(&account, &epoch, &cp.TradeFee, &cp.SettlementFee, &cp.Transfer, &cp.Collateral); err != nil {
			return err
		}
		if err := state.Store.PutCheckpoint(account, epoch, cp); err != nil {
			return err
		}
	}
	return rows.Err()
}

func (r *Recovery) loadLocals(ctx context.Context, state *RecoveredState) error {
	rows, err := r.db.QueryContext(ctx, `
		SELECT account_id, current_id, latest_id, collateral, claimable, protection
		FROM settlement.locals
	`)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var account uuid.UUID
		var l settle.Local
		if err := rows.Scan(&account, &l.CurrentID, &l.LatestID, &l.Collateral, &l.Claimable, &l.Protection); err != nil {
			return err
		}
		if err := state.Store.PutLocal(account, l); err != nil {
			return err
		}
	}
	return rows.Err()
}

func (r *Recovery) loadGlobals(ctx context.Context, state *RecoveredState) error {
	rows, err := r.db.QueryContext(ctx, `
		SELECT market, current_id, latest_id, protocol_fee, oracle_fee, risk_fee, donation
		FROM settlement.globals
	`)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var mkt string
		var g settle.Global
		if err := rows.Scan(&mkt, &g.CurrentID, &g.LatestID, &g.ProtocolFee, &g.OracleFee, &g.RiskFee, &g.Donation); err != nil {
			return err
		}
		if err := state.Store.PutGlobal(mkt, g); err != nil {
			return err
		}
	}
	return rows.Err()
}

func (r *Recovery) loadPositions(ctx context.Context, state *RecoveredState) error {
	rows, err := r.db.QueryContext(ctx, `
		SELECT account_id, position_timestamp, maker, long_exposure, short_exposure
		FROM settlement.positions
	`)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var account uuid.UUID
		var p market.Position
		if err := rows.Scan(&account, &p.Timestamp, &p.Maker, &p.Long, &p.Short); err != nil {
			return err
		}
		if err := state.Store.PutPosition(account, p); err != nil {
			return err
		}
	}
	return rows.Err()
}
