package ingestion_test

import (
	"encoding/json"
	"testing"
	"time"

	"PerpSettle/internal/event"
	"PerpSettle/internal/ingestion"
	"PerpSettle/internal/market"
)

func rawFromJSON(t *testing.T, v interface{}) ingestion.RawEvent {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return ingestion.RawEvent{
		Subject:   "test",
		Data:      data,
		Timestamp: time.Now(),
		AckFunc:   func() {},
		NakFunc:   func() {},
	}
}

func TestParseVersionCommitted(t *testing.T) {
	payload := map[string]interface{}{
		"market":          "BTC-USD",
		"timestamp":       int64(1700000100),
		"valid":           true,
		"price":           int64(50_000_000_000),
		"maker_value":     int64(-12_000),
		"long_value":      int64(34_000),
		"short_value":     int64(-34_000),
		"maker_fee":       int64(-500),
		"taker_fee":       int64(-900),
		"settlement_fee":  int64(-1_000_000),
		"liquidation_fee": int64(-2_000_000),
		"sequence":        int64(42),
		"timestamp_us":    int64(1700000000000000),
	}

	raw := rawFromJSON(t, payload)
	evt, err := ingestion.ParseRawEvent(raw, "VersionCommitted")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	vc, ok := evt.(*event.VersionCommitted)
	if !ok {
		t.Fatalf("expected *event.VersionCommitted, got %T", evt)
	}

	if vc.Market != "BTC-USD" {
		t.Errorf("market: got %s, want BTC-USD", vc.Market)
	}
	if vc.Version.Timestamp != 1700000100 {
		t.Errorf("timestamp: got %d, want 1700000100", vc.Version.Timestamp)
	}
	if !vc.Version.Valid {
		t.Error("valid: got false, want true")
	}
	if vc.Version.Price != 50_000_000_000 {
		t.Errorf("price: got %d", vc.Version.Price)
	}
	if vc.Version.MakerFee != -500 {
		t.Errorf("maker_fee: got %d, want -500", vc.Version.MakerFee)
	}
	if vc.IdempotencyKey() != "BTC-USD:1700000100" {
		t.Errorf("idempotency key: got %s", vc.IdempotencyKey())
	}
	if vc.EventType() != event.EventTypeVersionCommitted {
		t.Errorf("event type: got %v", vc.EventType())
	}
}

func TestParseVersionCommitted_Rejects(t *testing.T) {
	tests := []struct {
		name    string
		payload map[string]interface{}
	}{
		{"empty market", map[string]interface{}{"timestamp": int64(100), "price": int64(1)}},
		{"negative price", map[string]interface{}{"market": "BTC-USD", "timestamp": int64(100), "price": int64(-1)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw := rawFromJSON(t, tt.payload)
			if _, err := ingestion.ParseRawEvent(raw, "VersionCommitted"); err == nil {
				t.Error("expected parse error")
			}
		})
	}
}

func TestParseAccountSettled(t *testing.T) {
	payload := map[string]interface{}{
		"settlement_id":  "550e8400-e29b-41d4-a716-446655440000",
		"account_id":     "660e8400-e29b-41d4-a716-446655440001",
		"market":         "BTC-USD",
		"epoch":          int64(7),
		"from_timestamp": int64(1700000000),
		"to_timestamp":   int64(1700000100),
		"order": map[string]interface{}{
			"long_pos":   int64(2_000_000),
			"collateral": int64(500_000_000),
			"orders":     int64(1),
		},
		"sequence":     int64(9),
		"timestamp_us": int64(1700000100000000),
	}

	raw := rawFromJSON(t, payload)
	evt, err := ingestion.ParseRawEvent(raw, "AccountSettled")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	as, ok := evt.(*event.AccountSettled)
	if !ok {
		t.Fatalf("expected *event.AccountSettled, got %T", evt)
	}

	if as.Epoch != 7 {
		t.Errorf("epoch: got %d, want 7", as.Epoch)
	}
	if as.Order.LongPos != 2_000_000 {
		t.Errorf("long_pos: got %d", as.Order.LongPos)
	}
	if as.Order.Collateral != 500_000_000 {
		t.Errorf("collateral: got %d", as.Order.Collateral)
	}
	if as.FromTimestamp != 1700000000 || as.ToTimestamp != 1700000100 {
		t.Errorf("interval: got [%d, %d]", as.FromTimestamp, as.ToTimestamp)
	}
	if as.IdempotencyKey() != "550e8400-e29b-41d4-a716-446655440000" {
		t.Errorf("idempotency key: got %s", as.IdempotencyKey())
	}
}

func TestParseAccountSettled_RejectsBadInterval(t *testing.T) {
	payload := map[string]interface{}{
		"settlement_id":  "550e8400-e29b-41d4-a716-446655440000",
		"account_id":     "660e8400-e29b-41d4-a716-446655440001",
		"market":         "BTC-USD",
		"epoch":          int64(7),
		"from_timestamp": int64(1700000100),
		"to_timestamp":   int64(1700000100),
	}

	raw := rawFromJSON(t, payload)
	if _, err := ingestion.ParseRawEvent(raw, "AccountSettled"); err == nil {
		t.Error("expected error for non-increasing interval")
	}
}

func TestParseIntentFill(t *testing.T) {
	payload := map[string]interface{}{
		"fill_id":               "550e8400-e29b-41d4-a716-446655440000",
		"account_id":            "660e8400-e29b-41d4-a716-446655440001",
		"market":                "ETH-USD",
		"side":                  "short",
		"pos":                   int64(3_000_000),
		"neg":                   int64(0),
		"orders":                int64(1),
		"price":                 int64(2_000_000_000),
		"referrer_id":           "770e8400-e29b-41d4-a716-446655440002",
		"referral_rate":         "0.015",
		"charge_settlement_fee": true,
		"charge_trade_fee":      false,
		"sequence":              int64(3),
		"timestamp_us":          int64(1700000000000000),
	}

	raw := rawFromJSON(t, payload)
	evt, err := ingestion.ParseRawEvent(raw, "IntentFill")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	fill, ok := evt.(*event.IntentFill)
	if !ok {
		t.Fatalf("expected *event.IntentFill, got %T", evt)
	}

	if fill.Side != market.SideShort {
		t.Errorf("side: got %v, want SideShort", fill.Side)
	}
	if fill.Pos != 3_000_000 {
		t.Errorf("pos: got %d", fill.Pos)
	}
	if fill.ReferralRate != 15_000 {
		t.Errorf("referral_rate: got %d, want 15_000", fill.ReferralRate)
	}
	if fill.ChargeTradeFee {
		t.Error("charge_trade_fee: got true, want false")
	}
}

func TestParseIntentFill_Rejects(t *testing.T) {
	base := func() map[string]interface{} {
		return map[string]interface{}{
			"fill_id":    "550e8400-e29b-41d4-a716-446655440000",
			"account_id": "660e8400-e29b-41d4-a716-446655440001",
			"market":     "ETH-USD",
			"side":       "long",
			"pos":        int64(1_000_000),
			"price":      int64(2_000_000_000),
		}
	}

	tests := []struct {
		name   string
		mutate func(map[string]interface{})
	}{
		{"unknown side", func(p map[string]interface{}) { p["side"] = "sideways" }},
		{"negative magnitude", func(p map[string]interface{}) { p["pos"] = int64(-1) }},
		{"bad fill id", func(p map[string]interface{}) { p["fill_id"] = "not-a-uuid" }},
		{"referral rate above one", func(p map[string]interface{}) {
			p["referrer_id"] = "770e8400-e29b-41d4-a716-446655440002"
			p["referral_rate"] = "1.5"
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payload := base()
			tt.mutate(payload)
			raw := rawFromJSON(t, payload)
			if _, err := ingestion.ParseRawEvent(raw, "IntentFill"); err == nil {
				t.Error("expected parse error")
			}
		})
	}
}

func TestParseProtectionRequested(t *testing.T) {
	payload := map[string]interface{}{
		"request_id":        "550e8400-e29b-41d4-a716-446655440000",
		"account_id":        "660e8400-e29b-41d4-a716-446655440001",
		"market":            "BTC-USD",
		"protect_timestamp": int64(1700000200),
		"try_protect":       true,
		"sequence":          int64(5),
		"timestamp_us":      int64(1700000000000000),
	}

	raw := rawFromJSON(t, payload)
	evt, err := ingestion.ParseRawEvent(raw, "ProtectionRequested")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	pr, ok := evt.(*event.ProtectionRequested)
	if !ok {
		t.Fatalf("expected *event.ProtectionRequested, got %T", evt)
	}
	if pr.ProtectTimestamp != 1700000200 {
		t.Errorf("protect_timestamp: got %d", pr.ProtectTimestamp)
	}
	if !pr.TryProtect {
		t.Error("try_protect: got false, want true")
	}
}

func TestParseClaimRequested(t *testing.T) {
	payload := map[string]interface{}{
		"claim_id":     "550e8400-e29b-41d4-a716-446655440000",
		"account_id":   "660e8400-e29b-41d4-a716-446655440001",
		"market":       "BTC-USD",
		"sequence":     int64(6),
		"timestamp_us": int64(1700000000000000),
	}

	raw := rawFromJSON(t, payload)
	evt, err := ingestion.ParseRawEvent(raw, "ClaimRequested")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	cr, ok := evt.(*event.ClaimRequested)
	if !ok {
		t.Fatalf("expected *event.ClaimRequested, got %T", evt)
	}
	if cr.MarketID() != "BTC-USD" {
		t.Errorf("market: got %s", cr.MarketID())
	}
}

func TestParseUnknownEventType(t *testing.T) {
	raw := rawFromJSON(t, map[string]interface{}{})
	if _, err := ingestion.ParseRawEvent(raw, "Nonsense"); err == nil {
		t.Error("expected error for unknown event type")
	}
}
