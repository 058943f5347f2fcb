package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// RowWriter writes settlement rows to Postgres using multi-row upserts.
// COPY protocol would be faster; multi-row INSERT is the portable
// starting point and keeps the writer transactional with the event log.
type RowWriter struct {
	db *sql.DB
}

// EventRow represents a row in settlement.events.
type EventRow struct {
	Sequence       int64
	EventType      string
	IdempotencyKey string
	Market         string
	Payload        []byte // JSON-encoded state updates
	StateHash      []byte
	PrevHash       []byte
	SourceSequence int64
	Timestamp      time.Time
}

// CheckpointRow represents a row in settlement.checkpoints.
type CheckpointRow struct {
	Account       uuid.UUID
	Epoch         int64
	TradeFee      int64
	SettlementFee int64
	Transfer      int64
	Collateral    int64
}

// LocalRow represents a row in settlement.locals.
type LocalRow struct {
	Account    uuid.UUID
	CurrentID  int64
	LatestID   int64
	Collateral int64
	Claimable  int64
	Protection int64
}

// GlobalRow represents a row in settlement.globals.
type GlobalRow struct {
	Market      string
	CurrentID   int64
	LatestID    int64
	ProtocolFee int64
	OracleFee   int64
	RiskFee     int64
	Donation    int64
}

// VersionRow represents a row in settlement.versions. Versions are
// immutable once written.
type VersionRow struct {
	Market           string
	VersionTimestamp int64
	Valid            bool
	Price            int64
	MakerValue       int64
	LongValue        int64
	ShortValue       int64
	MakerFee         int64
	TakerFee         int64
	MakerOffset      int64
	TakerPosOffset   int64
	TakerNegOffset   int64
	SettlementFee    int64
	LiquidationFee   int64
}

// PositionRow represents a row in settlement.positions.
type PositionRow struct {
	Account           uuid.UUID
	PositionTimestamp int64
	Maker             int64
	LongExposure      int64
	ShortExposure     int64
}

func NewRowWriter(db *sql.DB) *RowWriter {
	return &RowWriter{db: db}
}

// DB exposes the handle for transaction control by the worker.
func (w *RowWriter) DB() *sql.DB {
	return w.db
}

// WriteEvents appends a batch to the event log. Sequence conflicts are
// replays and are skipped.
func (w *RowWriter) WriteEvents(ctx context.Context, tx *sql.Tx, events []EventRow) error {
	if len(events) == 0 {
		return nil
	}

	query := `INSERT INTO settlement.events
		(sequence, event_type, idempotency_key, market, payload, state_hash, prev_hash, source_sequence, created_at)
		VALUES `

	values := make([]string, 0, len(events))
	args := make([]interface{}, 0, len(events)*9)
	for i, e := range events {
		base := i * 9
		values = append(values, placeholders(base, 9))
		args = append(args,
			e.Sequence, e.EventType, e.IdempotencyKey, e.Market,
			e.Payload, e.StateHash, e.PrevHash, e.SourceSequence, e.Timestamp,
		)
	}

	query += strings.Join(values, ", ")
	query += " ON CONFLICT (sequence) DO NOTHING"

	_, err := tx.ExecContext(ctx, query, args...)
	return err
}

// WriteCheckpoints upserts checkpoint rows. A replayed settlement
// rewrites the identical row, so the upsert is idempotent.
func (w *RowWriter) WriteCheckpoints(ctx context.Context, tx *sql.Tx, rows []CheckpointRow) error {
	if len(rows) == 0 {
		return nil
	}

	query := `INSERT INTO settlement.checkpoints
		(account_id, epoch, trade_fee, settlement_fee, transfer, collateral)
		VALUES `

	values := make([]string, 0, len(rows))
	args := make([]interface{}, 0, len(rows)*6)
	for i, r := range rows {
		base := i * 6
		values = append(values, placeholders(base, 6))
		args = append(args, r.Account, r.Epoch, r.TradeFee, r.SettlementFee, r.Transfer, r.Collateral)
	}

	query += strings.Join(values, ", ")
	query += ` ON CONFLICT (account_id, epoch) DO UPDATE SET
		trade_fee = EXCLUDED.trade_fee,
		settlement_fee = EXCLUDED.settlement_fee,
		transfer = EXCLUDED.transfer,
		collateral = EXCLUDED.collateral`

	_, err := tx.ExecContext(ctx, query, args...)
	return err
}

// WriteLocals upserts local ledger rows. Later batches win; within one
// batch the rows are already in core order.
func (w *RowWriter) WriteLocals(ctx context.Context, tx *sql.Tx, rows []LocalRow) error {
	if len(rows) == 0 {
		return nil
	}

	// Postgres rejects multi-row upserts that touch the same key twice,
	// so collapse to the last write per account first.
	rows = dedupeLocals(rows)

	query := `INSERT INTO settlement.locals
		(account_id, current_id, latest_id, collateral, claimable, protection)
		VALUES `

	values := make([]string, 0, len(rows))
	args := make([]interface{}, 0, len(rows)*6)
	for i, r := range rows {
		base := i * 6
		values = append(values, placeholders(base, 6))
		args = append(args, r.Account, r.CurrentID, r.LatestID, r.Collateral, r.Claimable, r.Protection)
	}

	query += strings.Join(values, ", ")
	query += ` ON CONFLICT (account_id) DO UPDATE SET
		current_id = EXCLUDED.current_id,
		latest_id = EXCLUDED.latest_id,
		collateral = EXCLUDED.collateral,
		claimable = EXCLUDED.claimable,
		protection = EXCLUDED.protection`

	_, err := tx.ExecContext(ctx, query, args...)
	return err
}

// WriteGlobals upserts global fee rows.
func (w *RowWriter) WriteGlobals(ctx context.Context, tx *sql.Tx, rows []GlobalRow) error {
	if len(rows) == 0 {
		return nil
	}

	rows = dedupeGlobals(rows)

	query := `INSERT INTO settlement.globals
		(market, current_id, latest_id, protocol_fee, oracle_fee, risk_fee, donation)
		VALUES `

	values := make([]string, 0, len(rows))
	args := make([]interface{}, 0, len(rows)*7)
	for i, r := range rows {
		base := i * 7
		values = append(values, placeholders(base, 7))
		args = append(args, r.Market, r.CurrentID, r.LatestID, r.ProtocolFee, r.OracleFee, r.RiskFee, r.Donation)
	}

	query += strings.Join(values, ", ")
	query += ` ON CONFLICT (market) DO UPDATE SET
		current_id = EXCLUDED.current_id,
		latest_id = EXCLUDED.latest_id,
		protocol_fee = EXCLUDED.protocol_fee,
		oracle_fee = EXCLUDED.oracle_fee,
		risk_fee = EXCLUDED.risk_fee,
		donation = EXCLUDED.donation`

	_, err := tx.ExecContext(ctx, query, args...)
	return err
}

// WriteVersions appends version snapshots. Replays are skipped.
func (w *RowWriter) WriteVersions(ctx context.Context, tx *sql.Tx, rows []VersionRow) error {
	if len(rows) == 0 {
		return nil
	}

	query := `INSERT INTO settlement.versions
		(market, version_timestamp, valid, price, maker_value, long_value, short_value,
		 maker_fee, taker_fee, maker_offset, taker_pos_offset, taker_neg_offset,
		 settlement_fee, liquidation_fee)
		VALUES `

	values := make([]string, 0, len(rows))
	args := make([]interface{}, 0, len(rows)*14)
	for i, r := range rows {
		base := i * 14
		values = append(values, placeholders(base, 14))
		args = append(args,
			r.Market, r.VersionTimestamp, r.Valid, r.Price,
			r.MakerValue, r.LongValue, r.ShortValue,
			r.MakerFee, r.TakerFee, r.MakerOffset, r.TakerPosOffset, r.TakerNegOffset,
			r.SettlementFee, r.LiquidationFee,
		)
	}

	query += strings.Join(values, ", ")
	query += " ON CONFLICT (market, version_timestamp) DO NOTHING"

	_, err := tx.ExecContext(ctx, query, args...)
	return err
}

// WritePositions upserts position rows.
func (w *RowWriter) WritePositions(ctx context.Context, tx *sql.Tx, rows []PositionRow) error {
	if len(rows) == 0 {
		return nil
	}

	rows = dedupePositions(rows)

	query := `INSERT INTO settlement.positions
		(account_id, position_timestamp, maker, long_exposure, short_exposure)
		VALUES `

	values := make([]string, 0, len(rows))
	args := make([]interface{}, 0, len(rows)*5)
	for i, r := range rows {
		base := i * 5
		values = append(values, placeholders(base, 5))
		args = append(args, r.Account, r.PositionTimestamp, r.Maker, r.LongExposure, r.ShortExposure)
	}

	query += strings.Join(values, ", ")
	query += ` ON CONFLICT (account_id) DO UPDATE SET
		position_timestamp = EXCLUDED.position_timestamp,
		maker = EXCLUDED.maker,
		long_exposure = EXCLUDED.long_exposure,
		short_exposure = EXCLUDED.short_exposure`

	_, err := tx.ExecContext(ctx, query, args...)
	return err
}

func placeholders(base, n int) string {
	parts := make([]string, n)
	for i := 0; i < n; i++ {
		parts[i] = fmt.Sprintf("$%d", base+i+1)
	}
	return "(" + strings.Join(parts, ", ") + ")"
}

func dedupeLocals(rows []LocalRow) []LocalRow {
	seen := make(map[uuid.UUID]int, len(rows))
	out := rows[:0]
	for _, r := range rows {
		if idx, ok := seen[r.Account]; ok {
			out[idx] = r
			continue
		}
		seen[r.Account] = len(out)
		out = append(out, r)
	}
	return out
}

func dedupeGlobals(rows []GlobalRow) []GlobalRow {
	seen := make(map[string]int, len(rows))
	out := rows[:0]
	for _, r := range rows {
		if idx, ok := seen[r.Market]; ok {
			out[idx] = r
			continue
		}
		seen[r.Market] = len(out)
		out = append(out, r)
	}
	return out
}

func dedupePositions(rows []PositionRow) []PositionRow {
	seen := make(map[uuid.UUID]int, len(rows))
	out := rows[:0]
	for _, r := range rows {
		if idx, ok := seen[r.Account]; ok {
			out[idx] = r
			continue
		}
		seen[r.Account] = len(out)
		out = append(out, r)
	}
	return out
}
