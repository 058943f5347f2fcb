package query

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
)

// Service provides read-only access to the persisted settlement rows.
// Queries are served via HTTP/JSON, reading from PostgreSQL. All
// responses include as_of_sequence for freshness semantics: rows are
// written transactionally with the event log, so the highest persisted
// event sequence is the watermark.
type Service struct {
	db *sql.DB
}

func NewService(db *sql.DB) *Service {
	return &Service{db: db}
}

// GetAccount returns the combined local ledger and position view for
// one account. Unknown accounts return the zero state, matching the
// core's read semantics.
func (s *Service) GetAccount(ctx context.Context, account uuid.UUID) (*AccountResponse, error) {
	asOfSeq, err := s.getWatermark(ctx)
	if err != nil {
		return nil, fmt.Errorf("watermark: %w", err)
	}

	resp := &AccountResponse{Account: account, AsOfSequence: asOfSeq}

	err = s.db.QueryRowContext(ctx, `
		SELECT current_id, latest_id, collateral, claimable, protection
		FROM settlement.locals
		WHERE account_id = $1
	`, account).Scan(&resp.CurrentEpoch, &resp.LatestEpoch, &resp.Collateral, &resp.Claimable, &resp.Protection)
	if err != nil && err != sql.ErrNoRows {
		return nil, err
	}

	err = s.db.QueryRowContext(ctx, `
		SELECT position_timestamp, maker, long_exposure, short_exposure
		FROM settlement.positions
		WHERE account_id = $1
	`, account).Scan(&resp.PositionTimestamp, &resp.Maker, &resp.Long, &resp.Short)
	if err != nil && err != sql.ErrNoRows {
		return nil, err
	}

	resp.Equity = resp.Collateral + resp.Claimable
	return resp, nil
}

// GetCheckpoint returns one settled epoch for an account.
func (s *Service) GetCheckpoint(ctx context.Context, account uuid.UUID, epoch int64) (*CheckpointResponse, error) {
	asOfSeq, err := s.getWatermark(ctx)
	if err != nil {
		return nil, err
	}

	resp := &CheckpointResponse{Account: account, Epoch: epoch, AsOfSequence: asOfSeq}
	err = s.db.QueryRowContext(ctx, `
		SELECT trade_fee, settlement_fee, transfer, collateral
		FROM settlement.checkpoints
		WHERE account_id = $1 AND epoch = $2
	`, account, epoch).Scan(&resp.TradeFee, &resp.SettlementFee, &resp.Transfer, &resp.Collateral)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("checkpoint %s/%d: not found", account, epoch)
	}
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// GetCheckpointHistory returns settled epochs for an account, newest
// first, with cursor-based pagination.
func (s *Service) GetCheckpointHistory(
	ctx context.Context,
	account uuid.UUID,
	limit int,
	beforeEpoch *int64,
) ([]CheckpointResponse, error) {
	asOfSeq, err := s.getWatermark(ctx)
	if err != nil {
		return nil, err
	}

	query := `
		SELECT epoch, trade_fee, settlement_fee, transfer, collateral
		FROM settlement.checkpoints
		WHERE account_id = $1
	`
	args := []interface{}{account}
	argIdx := 2

	if beforeEpoch != nil {
		query += fmt.Sprintf(" AND epoch < $%d", argIdx)
		args = append(args, *beforeEpoch)
		argIdx++
	}

	query += " ORDER BY epoch DESC"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var history []CheckpointResponse
	for rows.Next() {
		c := CheckpointResponse{Account: account, AsOfSequence: asOfSeq}
		if err := rows.Scan(&c.Epoch, &c.TradeFee, &c.SettlementFee, &c.Transfer, &c.Collateral); err != nil {
			return nil, err
		}
		history = append(history, c)
	}

	return history, rows.Err()
}

// GetGlobal returns the fee buckets and epoch pointers for a market.
func (s *Service) GetGlobal(ctx context.Context, market string) (*GlobalResponse, error) {
	asOfSeq, err := s.getWatermark(ctx)
	if err != nil {
		return nil, err
	}

	resp := &GlobalResponse{Market: market, AsOfSequence: asOfSeq}
	err = s.db.QueryRowContext(ctx, `
		SELECT current_id, latest_id, protocol_fee, oracle_fee, risk_fee, donation
		FROM settlement.globals
		WHERE market = $1
	`, market).Scan(&resp.CurrentEpoch, &resp.LatestEpoch,
		&resp.ProtocolFee, &resp.OracleFee, &resp.RiskFee, &resp.Donation)
	if err != nil && err != sql.ErrNoRows {
		return nil, err
	}
	return resp, nil
}

// GetVersions returns committed versions for a market, newest first.
func (s *Service) GetVersions(
	ctx context.Context,
	market string,
	limit int,
	beforeTimestamp *int64,
) ([]VersionResponse, error) {
	asOfSeq, err := s.getWatermark(ctx)
	if err != nil {
		return nil, err
	}

	query := `
		SELECT version_timestamp, valid, price, maker_value, long_value, short_value,
		       maker_fee, taker_fee, settlement_fee, liquidation_fee
		FROM settlement.versions
		WHERE market = $1
	`
	args := []interface{}{market}
	argIdx := 2

	if beforeTimestamp != nil {
		query += fmt.Sprintf(" AND version_timestamp < $%d", argIdx)
		args = append(args, *beforeTimestamp)
		argIdx++
	}

	query += " ORDER BY version_timestamp DESC"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var versions []VersionResponse
	for rows.Next() {
		v := VersionResponse{Market: market, AsOfSequence: asOfSeq}
		if err := rows.Scan(
			&v.Timestamp, &v.Valid, &v.Price,
			&v.MakerValue, &v.LongValue, &v.ShortValue,
			&v.MakerFee, &v.TakerFee, &v.SettlementFee, &v.LiquidationFee,
		); err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}

	return versions, rows.Err()
}

// VerifyIntegrity checks the hash chain and the local/checkpoint
// collateral agreement. The local ledger folds the same per-epoch
// deltas the checkpoint rows accumulate, so at the latest settled epoch
// the two collateral figures must be identical.
func (s *Service) VerifyIntegrity(ctx context.Context) (*IntegrityReport, error) {
	asOfSeq, err := s.getWatermark(ctx)
	if err != nil {
		return nil, err
	}
	report := &IntegrityReport{AsOfSequence: asOfSeq}

	rows, err := s.db.QueryContext(ctx, `
		SELECT e1.sequence
		FROM settlement.events e1
		LEFT JOIN settlement.events e2 ON e2.sequence = e1.sequence - 1
		WHERE e1.sequence > 1 AND e1.prev_hash != COALESCE(e2.state_hash, e1.prev_hash)
		ORDER BY e1.sequence
		LIMIT 10
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var seq int64
		if err := rows.Scan(&seq); err != nil {
			return nil, err
		}
		report.HashChainBreaks = append(report.HashChainBreaks, seq)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	driftRows, err := s.db.QueryContext(ctx, `
		SELECT l.account_id
		FROM settlement.locals l
		JOIN settlement.checkpoints c
		  ON c.account_id = l.account_id AND c.epoch = l.latest_id
		WHERE l.collateral != c.collateral
		LIMIT 10
	`)
	if err != nil {
		return nil, err
	}
	defer driftRows.Close()

	for driftRows.Next() {
		var account uuid.UUID
		if err := driftRows.Scan(&account); err != nil {
			return nil, err
		}
		report.DriftedAccounts = append(report.DriftedAccounts, account)
	}
	if err := driftRows.Err(); err != nil {
		return nil, err
	}

	report.IsHealthy = len(report.HashChainBreaks) == 0 && len(report.DriftedAccounts) == 0
	return report, nil
}

func (s *Service) getWatermark(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	err := s.db.QueryRowContext(ctx, `
		SELECT MAX(sequence) FROM settlement.events
	`).Scan(&seq)
	if err != nil {
		return 0, err
	}
	if !seq.Valid {
		return 0, nil
	}
	return seq.Int64, nil
}
