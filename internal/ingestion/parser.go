package ingestion

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"PerpSettle/internal/event"
	"PerpSettle/internal/fixed"
	"PerpSettle/internal/market"
)

// ParseRawEvent converts a RawEvent (JSON bytes + event type string)
// into a typed event.Event. The ingestion shell validates, parses, and
// converts raw events before sending to the deterministic core.
func ParseRawEvent(raw RawEvent, eventType string) (event.Event, error) {
	switch eventType {
	case "VersionCommitted":
		return parseVersionCommitted(raw.Data)
	case "AccountSettled":
		return parseAccountSettled(raw.Data)
	case "IntentFill":
		return parseIntentFill(raw.Data)
	case "ProtectionRequested":
		return parseProtectionRequested(raw.Data)
	case "ClaimRequested":
		return parseClaimRequested(raw.Data)
	default:
		return nil, fmt.Errorf("unknown event type: %s", eventType)
	}
}

// --- JSON wire formats ---
// These structs represent the JSON payloads received from NATS.
// Field names use snake_case to match upstream producers.

type versionCommittedJSON struct {
	Market         string `json:"market"`
	Timestamp      int64  `json:"timestamp"`
	Valid          bool   `json:"valid"`
	Price          int64  `json:"price"`
	MakerValue     int64  `json:"maker_value"`
	LongValue      int64  `json:"long_value"`
	ShortValue     int64  `json:"short_value"`
	MakerFee       int64  `json:"maker_fee"`
	TakerFee       int64  `json:"taker_fee"`
	MakerOffset    int64  `json:"maker_offset"`
	TakerPosOffset int64  `json:"taker_pos_offset"`
	TakerNegOffset int64  `json:"taker_neg_offset"`
	SettlementFee  int64  `json:"settlement_fee"`
	LiquidationFee int64  `json:"liquidation_fee"`
	Sequence       int64  `json:"sequence"`
	TimestampUs    int64  `json:"timestamp_us"`
}

func parseVersionCommitted(data []byte) (*event.VersionCommitted, error) {
	var j versionCommittedJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse VersionCommitted: %w", err)
	}
	if j.Market == "" {
		return nil, fmt.Errorf("parse VersionCommitted: empty market")
	}
	if j.Price < 0 {
		return nil, fmt.Errorf("parse VersionCommitted: negative price %d", j.Price)
	}

	return &event.VersionCommitted{
		Market: j.Market,
		Version: market.Version{
			Timestamp:      j.Timestamp,
			Valid:          j.Valid,
			Price:          j.Price,
			MakerValue:     j.MakerValue,
			LongValue:      j.LongValue,
			ShortValue:     j.ShortValue,
			MakerFee:       j.MakerFee,
			TakerFee:       j.TakerFee,
			MakerOffset:    j.MakerOffset,
			TakerPosOffset: j.TakerPosOffset,
			TakerNegOffset: j.TakerNegOffset,
			SettlementFee:  j.SettlementFee,
			LiquidationFee: j.LiquidationFee,
		},
		Sequence:  j.Sequence,
		Timestamp: time.UnixMicro(j.TimestampUs),
	}, nil
}

type orderJSON struct {
	MakerPos   int64 `json:"maker_pos"`
	MakerNeg   int64 `json:"maker_neg"`
	LongPos    int64 `json:"long_pos"`
	LongNeg    int64 `json:"long_neg"`
	ShortPos   int64 `json:"short_pos"`
	ShortNeg   int64 `json:"short_neg"`
	Collateral int64 `json:"collateral"`
	Orders     int64 `json:"orders"`
	Protection int64 `json:"protection"`
}

func (j orderJSON) toOrder() market.Order {
	return market.Order{
		MakerPos:   j.MakerPos,
		MakerNeg:   j.MakerNeg,
		LongPos:    j.LongPos,
		LongNeg:    j.LongNeg,
		ShortPos:   j.ShortPos,
		ShortNeg:   j.ShortNeg,
		Collateral: j.Collateral,
		Orders:     j.Orders,
		Protection: j.Protection,
	}
}

type accountSettledJSON struct {
	SettlementID  string    `json:"settlement_id"`
	AccountID     string    `json:"account_id"`
	Market        string    `json:"market"`
	Epoch         int64     `json:"epoch"`
	FromTimestamp int64     `json:"from_timestamp"`
	ToTimestamp   int64     `json:"to_timestamp"`
	Order         orderJSON `json:"order"`
	Sequence      int64     `json:"sequence"`
	TimestampUs   int64     `json:"timestamp_us"`
}

func parseAccountSettled(data []byte) (*event.AccountSettled, error) {
	var j accountSettledJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse AccountSettled: %w", err)
	}
	settlementID, err := uuid.Parse(j.SettlementID)
	if err != nil {
		return nil, fmt.Errorf("parse settlement_id: %w", err)
	}
	accountID, err := uuid.Parse(j.AccountID)
	if err != nil {
		return nil, fmt.Errorf("parse account_id: %w", err)
	}
	if j.FromTimestamp >= j.ToTimestamp {
		return nil, fmt.Errorf("parse AccountSettled: interval [%d, %d] not increasing",
			j.FromTimestamp, j.ToTimestamp)
	}

	return &event.AccountSettled{
		SettlementID:  settlementID,
		Account:       accountID,
		Market:        j.Market,
		Epoch:         j.Epoch,
		FromTimestamp: j.FromTimestamp,
		ToTimestamp:   j.ToTimestamp,
		Order:         j.Order.toOrder(),
		Sequence:      j.Sequence,
		Timestamp:     time.UnixMicro(j.TimestampUs),
	}, nil
}

type intentFillJSON struct {
	FillID              string `json:"fill_id"`
	AccountID           string `json:"account_id"`
	Market              string `json:"market"`
	Side                string `json:"side"` // "maker", "long" or "short"
	Pos                 int64  `json:"pos"`
	Neg                 int64  `json:"neg"`
	Orders              int64  `json:"orders"`
	Price               int64  `json:"price"`
	ReferrerID          string `json:"referrer_id,omitempty"`
	ReferralRate        string `json:"referral_rate,omitempty"` // decimal string, e.g. "0.01"
	ChargeSettlementFee bool   `json:"charge_settlement_fee"`
	ChargeTradeFee      bool   `json:"charge_trade_fee"`
	Sequence            int64  `json:"sequence"`
	TimestampUs         int64  `json:"timestamp_us"`
}

func parseSide(s string) (market.Side, error) {
	switch s {
	case "maker":
		return market.SideMaker, nil
	case "long":
		return market.SideLong, nil
	case "short":
		return market.SideShort, nil
	default:
		return 0, fmt.Errorf("unknown side %q", s)
	}
}

func parseIntentFill(data []byte) (*event.IntentFill, error) {
	var j intentFillJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse IntentFill: %w", err)
	}
	fillID, err := uuid.Parse(j.FillID)
	if err != nil {
		return nil, fmt.Errorf("parse fill_id: %w", err)
	}
	accountID, err := uuid.Parse(j.AccountID)
	if err != nil {
		return nil, fmt.Errorf("parse account_id: %w", err)
	}
	side, err := parseSide(j.Side)
	if err != nil {
		return nil, fmt.Errorf("parse IntentFill: %w", err)
	}
	if j.Pos < 0 || j.Neg < 0 {
		return nil, fmt.Errorf("parse IntentFill: negative magnitude pos=%d neg=%d", j.Pos, j.Neg)
	}

	referrer := uuid.Nil
	var referralRate int64
	if j.ReferrerID != "" {
		referrer, err = uuid.Parse(j.ReferrerID)
		if err != nil {
			return nil, fmt.Errorf("parse referrer_id: %w", err)
		}
		referralRate, err = fixed.ParseRate(j.ReferralRate)
		if err != nil {
			return nil, fmt.Errorf("parse referral_rate: %w", err)
		}
	}

	return &event.IntentFill{
		FillID:              fillID,
		Account:             accountID,
		Market:              j.Market,
		Side:                side,
		Pos:                 j.Pos,
		Neg:                 j.Neg,
		Orders:              j.Orders,
		Price:               j.Price,
		Referrer:            referrer,
		ReferralRate:        referralRate,
		ChargeSettlementFee: j.ChargeSettlementFee,
		ChargeTradeFee:      j.ChargeTradeFee,
		Sequence:            j.Sequence,
		Timestamp:           time.UnixMicro(j.TimestampUs),
	}, nil
}

type protectionJSON struct {
	RequestID        string `json:"request_id"`
	AccountID        string `json:"account_id"`
	Market           string `json:"market"`
	ProtectTimestamp int64  `json:"protect_timestamp"`
	TryProtect       bool   `json:"try_protect"`
	Sequence         int64  `json:"sequence"`
	TimestampUs      int64  `json:"timestamp_us"`
}

func parseProtectionRequested(data []byte) (*event.ProtectionRequested, error) {
	var j protectionJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse ProtectionRequested: %w", err)
	}
	requestID, err := uuid.Parse(j.RequestID)
	if err != nil {
		return nil, fmt.Errorf("parse request_id: %w", err)
	}
	accountID, err := uuid.Parse(j.AccountID)
	if err != nil {
		return nil, fmt.Errorf("parse account_id: %w", err)
	}

	return &event.ProtectionRequested{
		RequestID:        requestID,
		Account:          accountID,
		Market:           j.Market,
		ProtectTimestamp: j.ProtectTimestamp,
		TryProtect:       j.TryProtect,
		Sequence:         j.Sequence,
		Timestamp:        time.UnixMicro(j.TimestampUs),
	}, nil
}

type claimJSON struct {
	ClaimID     string `json:"claim_id"`
	AccountID   string `json:"account_id"`
	Market      string `json:"market"`
	Sequence    int64  `json:"sequence"`
	TimestampUs int64  `json:"timestamp_us"`
}

func parseClaimRequested(data []byte) (*event.ClaimRequested, error) {
	var j claimJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse ClaimRequested: %w", err)
	}
	claimID, err := uuid.Parse(j.ClaimID)
	if err != nil {
		return nil, fmt.Errorf("parse claim_id: %w", err)
	}
	accountID, err := uuid.Parse(j.AccountID)
	if err != nil {
		return nil, fmt.Errorf("parse account_id: %w", err)
	}

	return &event.ClaimRequested{
		ClaimID:   claimID,
		Account:   accountID,
		Market:    j.Market,
		Sequence:  j.Sequence,
		Timestamp: time.UnixMicro(j.TimestampUs),
	}, nil
}
