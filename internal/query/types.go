package query

import "github.com/google/uuid"

// AccountResponse is the combined ledger view for one account. The
// derived Equity is computed at query time and is not a stored row.
type AccountResponse struct {
	Account uuid.UUID `json:"account_id"`

	// Local ledger row.
	CurrentEpoch int64 `json:"current_epoch"`
	LatestEpoch  int64 `json:"latest_epoch"`
	Collateral   int64 `json:"collateral"`
	Claimable    int64 `json:"claimable"`
	Protection   int64 `json:"protection"`

	// Position row.
	PositionTimestamp int64 `json:"position_timestamp"`
	Maker             int64 `json:"maker"`
	Long              int64 `json:"long"`
	Short             int64 `json:"short"`

	// collateral + claimable
	Equity int64 `json:"equity"`

	AsOfSequence int64 `json:"as_of_sequence"`
}

// CheckpointResponse is one settled epoch for an account.
type CheckpointResponse struct {
	Account       uuid.UUID `json:"account_id"`
	Epoch         int64     `json:"epoch"`
	TradeFee      int64     `json:"trade_fee"`
	SettlementFee int64     `json:"settlement_fee"`
	Transfer      int64     `json:"transfer"`
	Collateral    int64     `json:"collateral"`
	AsOfSequence  int64     `json:"as_of_sequence"`
}

// GlobalResponse is the protocol-wide fee state for one market.
type GlobalResponse struct {
	Market       string `json:"market"`
	CurrentEpoch int64  `json:"current_epoch"`
	LatestEpoch  int64  `json:"latest_epoch"`
	ProtocolFee  int64  `json:"protocol_fee"`
	OracleFee    int64  `json:"oracle_fee"`
	RiskFee      int64  `json:"risk_fee"`
	Donation     int64  `json:"donation"`
	AsOfSequence int64  `json:"as_of_sequence"`
}

// VersionResponse is one committed oracle version.
type VersionResponse struct {
	Market         string `json:"market"`
	Timestamp      int64  `json:"timestamp"`
	Valid          bool   `json:"valid"`
	Price          int64  `json:"price"`
	MakerValue     int64  `json:"maker_value"`
	LongValue      int64  `json:"long_value"`
	ShortValue     int64  `json:"short_value"`
	MakerFee       int64  `json:"maker_fee"`
	TakerFee       int64  `json:"taker_fee"`
	SettlementFee  int64  `json:"settlement_fee"`
	LiquidationFee int64  `json:"liquidation_fee"`
	AsOfSequence   int64  `json:"as_of_sequence"`
}

// IntegrityReport is the result of an integrity verification check.
type IntegrityReport struct {
	IsHealthy       bool        `json:"is_healthy"`
	HashChainBreaks []int64     `json:"hash_chain_breaks,omitempty"`
	DriftedAccounts []uuid.UUID `json:"drifted_accounts,omitempty"`
	AsOfSequence    int64       `json:"as_of_sequence"`
}
