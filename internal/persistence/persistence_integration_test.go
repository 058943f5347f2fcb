package persistence_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"PerpSettle/internal/core"
	"PerpSettle/internal/event"
	"PerpSettle/internal/market"
	"PerpSettle/internal/persistence"
	"PerpSettle/internal/settle"
	"PerpSettle/internal/testutil"
)

// setupMigratedDB gives a clean, migrated test database.
func setupMigratedDB(t *testing.T) (*persistence.RowWriter, *persistence.Recovery, func()) {
	t.Helper()
	testutil.RequireIntegration(t)

	db, cleanup := testutil.SetupTestDB(t)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := persistence.NewMigrator(db, "../../migrations").Up(ctx); err != nil {
		cleanup()
		t.Fatalf("migrate up: %v", err)
	}

	return persistence.NewRowWriter(db), persistence.NewRecovery(db), cleanup
}

// ============================================================================
// Test: Writer / Recovery round trip
// ============================================================================

func TestWriterRecoveryRoundTrip(t *testing.T) {
	writer, recovery, cleanup := setupMigratedDB(t)
	defer cleanup()

	ctx := context.Background()
	account := uuid.New()

	hash := [32]byte{}
	for i := range hash {
		hash[i] = byte(i + 1)
	}

	tx, err := writer.DB().BeginTx(ctx, nil)
	if err != nil {
		t.Fatalf("begin tx: %v", err)
	}
	defer tx.Rollback()

	events := []persistence.EventRow{{
		Sequence:       1,
		EventType:      "AccountSettled",
		IdempotencyKey: "settle-key-1",
		Market:         "BTC-USD",
		Payload:        []byte(`{}`),
		StateHash:      hash[:],
		PrevHash:       make([]byte, 32),
		SourceSequence: 7,
		Timestamp:      time.Now().UTC(),
	}}
	if err := writer.WriteEvents(ctx, tx, events); err != nil {
		t.Fatalf("write events: %v", err)
	}

	versions := []persistence.VersionRow{
		{Market: "BTC-USD", VersionTimestamp: 100, Valid: true, Price: 50_000_000_000},
		{Market: "BTC-USD", VersionTimestamp: 200, Valid: true, Price: 51_000_000_000, MakerFee: 12},
	}
	if err := writer.WriteVersions(ctx, tx, versions); err != nil {
		t.Fatalf("write versions: %v", err)
	}

	checkpoints := []persistence.CheckpointRow{{
		Account: account, Epoch: 200,
		TradeFee: 1_000, SettlementFee: 500, Transfer: 10_000_000, Collateral: 9_998_500,
	}}
	if err := writer.WriteCheckpoints(ctx, tx, checkpoints); err != nil {
		t.Fatalf("write checkpoints: %v", err)
	}

	locals := []persistence.LocalRow{{
		Account: account, CurrentID: 100, LatestID: 200,
		Collateral: 9_998_500, Claimable: 42, Protection: 150,
	}}
	if err := writer.WriteLocals(ctx, tx, locals); err != nil {
		t.Fatalf("write locals: %v", err)
	}

	globals := []persistence.GlobalRow{{
		Market: "BTC-USD", CurrentID: 100, LatestID: 200,
		ProtocolFee: 300, OracleFee: 100, RiskFee: 60, Donation: 40,
	}}
	if err := writer.WriteGlobals(ctx, tx, globals); err != nil {
		t.Fatalf("write globals: %v", err)
	}

	positions := []persistence.PositionRow{{
		Account: account, PositionTimestamp: 200,
		Maker: 0, LongExposure: 1_500_000, ShortExposure: 0,
	}}
	if err := writer.WritePositions(ctx, tx, positions); err != nil {
		t.Fatalf("write positions: %v", err)
	}

	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}

	recovered, err := recovery.Load(ctx, 1024)
	if err != nil {
		t.Fatalf("recovery load: %v", err)
	}

	if recovered.Sequence != 1 {
		t.Errorf("expected sequence 1, got %d", recovered.Sequence)
	}
	if recovered.StateHash != hash {
		t.Errorf("state hash mismatch: %x", recovered.StateHash)
	}
	if len(recovered.Markets) != 1 || recovered.Markets[0] != "BTC-USD" {
		t.Errorf("unexpected recovered markets: %v", recovered.Markets)
	}
	if latest, ok := recovered.Store.LatestVersion("BTC-USD"); !ok || latest.Timestamp != 200 {
		t.Errorf("expected latest version 200, got %+v (%v)", latest, ok)
	}
	if len(recovered.IdempotencyKeys) != 1 || recovered.IdempotencyKeys[0] != "AccountSettled:settle-key-1" {
		t.Errorf("unexpected idempotency keys: %v", recovered.IdempotencyKeys)
	}

	local := recovered.Store.Local(account)
	if local.Collateral != 9_998_500 || local.Claimable != 42 || local.Protection != 150 {
		t.Errorf("local mismatch: %+v", local)
	}
	global := recovered.Store.Global("BTC-USD")
	if global.ProtocolFee != 300 || global.LatestID != 200 {
		t.Errorf("global mismatch: %+v", global)
	}
	cp, ok := recovered.Store.Checkpoint(account, 200)
	if !ok || cp.Collateral != 9_998_500 {
		t.Errorf("checkpoint mismatch: ok=%v %+v", ok, cp)
	}
	v, ok := recovered.Store.Version("BTC-USD", 200)
	if !ok || v.Price != 51_000_000_000 || v.MakerFee != 12 {
		t.Errorf("version mismatch: ok=%v %+v", ok, v)
	}
	pos := recovered.Store.Position(account)
	if pos.Long != 1_500_000 || pos.Timestamp != 200 {
		t.Errorf("position mismatch: %+v", pos)
	}
}

// ============================================================================
// Test: Upsert idempotency
// ============================================================================

func TestWriterReplayIsIdempotent(t *testing.T) {
	writer, recovery, cleanup := setupMigratedDB(t)
	defer cleanup()

	ctx := context.Background()
	account := uuid.New()

	write := func(collateral int64) {
		tx, err := writer.DB().BeginTx(ctx, nil)
		if err != nil {
			t.Fatalf("begin tx: %v", err)
		}
		defer tx.Rollback()

		events := []persistence.EventRow{{
			Sequence: 1, EventType: "AccountSettled", IdempotencyKey: "replay-key",
			Market: "ETH-USD", Payload: []byte(`{}`),
			StateHash: make([]byte, 32), PrevHash: make([]byte, 32),
			Timestamp: time.Now().UTC(),
		}}
		if err := writer.WriteEvents(ctx, tx, events); err != nil {
			t.Fatalf("write events: %v", err)
		}
		locals := []persistence.LocalRow{{Account: account, Collateral: collateral}}
		if err := writer.WriteLocals(ctx, tx, locals); err != nil {
			t.Fatalf("write locals: %v", err)
		}
		if err := tx.Commit(); err != nil {
			t.Fatalf("commit: %v", err)
		}
	}

	write(1_000)
	write(2_000) // replayed sequence, newer local state

	recovered, err := recovery.Load(ctx, 16)
	if err != nil {
		t.Fatalf("recovery load: %v", err)
	}
	// Event log keeps the first write; locals take the last.
	if recovered.Sequence != 1 {
		t.Errorf("expected sequence 1, got %d", recovered.Sequence)
	}
	if got := recovered.Store.Local(account).Collateral; got != 2_000 {
		t.Errorf("expected collateral 2000, got %d", got)
	}

	checker := persistence.NewPostgresIdempotencyChecker(writer.DB())
	dup, err := checker.IsDuplicate("AccountSettled", "replay-key")
	if err != nil {
		t.Fatalf("IsDuplicate: %v", err)
	}
	if !dup {
		t.Error("expected replay-key to be a duplicate")
	}
	dup, err = checker.IsDuplicate("AccountSettled", "never-seen")
	if err != nil {
		t.Fatalf("IsDuplicate: %v", err)
	}
	if dup {
		t.Error("unexpected duplicate for unseen key")
	}
}

// ============================================================================
// Test: Same-batch dedup on keyed upserts
// ============================================================================

func TestWriterDedupesSameKeyWithinBatch(t *testing.T) {
	writer, recovery, cleanup := setupMigratedDB(t)
	defer cleanup()

	ctx := context.Background()
	account := uuid.New()

	tx, err := writer.DB().BeginTx(ctx, nil)
	if err != nil {
		t.Fatalf("begin tx: %v", err)
	}
	defer tx.Rollback()

	// Two updates to the same account in one flush; the last must win
	// and Postgres must not see the key twice.
	locals := []persistence.LocalRow{
		{Account: account, Collateral: 100},
		{Account: account, Collateral: 250, Claimable: 5},
	}
	if err := writer.WriteLocals(ctx, tx, locals); err != nil {
		t.Fatalf("write locals: %v", err)
	}
	globals := []persistence.GlobalRow{
		{Market: "BTC-USD", Donation: 1},
		{Market: "BTC-USD", Donation: 9},
	}
	if err := writer.WriteGlobals(ctx, tx, globals); err != nil {
		t.Fatalf("write globals: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}

	recovered, err := recovery.Load(ctx, 16)
	if err != nil {
		t.Fatalf("recovery load: %v", err)
	}
	if got := recovered.Store.Local(account); got.Collateral != 250 || got.Claimable != 5 {
		t.Errorf("expected last local write to win, got %+v", got)
	}
	if got := recovered.Store.Global("BTC-USD").Donation; got != 9 {
		t.Errorf("expected last global write to win, got %d", got)
	}
}

// ============================================================================
// Test: Worker flushes outputs end to end
// ============================================================================

func TestWorkerFlushesOutputs(t *testing.T) {
	writer, recovery, cleanup := setupMigratedDB(t)
	defer cleanup()

	account := uuid.New()
	inputChan := make(chan core.Output, 16)
	worker := persistence.NewWorker(writer.DB(), inputChan, 50, 10*time.Millisecond, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- worker.Run(ctx)
	}()

	inputChan <- core.Output{
		Envelope: &event.Envelope{
			Sequence:       1,
			IdempotencyKey: "worker-key-1",
			EventType:      event.EventTypeVersionCommitted,
			Market:         "BTC-USD",
			SourceSequence: 100,
		},
		Versions: []core.VersionUpdate{{
			Market: "BTC-USD",
			Row:    market.Version{Timestamp: 100, Valid: true, Price: 50_000_000_000},
		}},
	}
	inputChan <- core.Output{
		Envelope: &event.Envelope{
			Sequence:       2,
			IdempotencyKey: "worker-key-2",
			EventType:      event.EventTypeAccountSettled,
			Market:         "BTC-USD",
		},
		Locals: []core.LocalUpdate{{
			Account: account,
			Row:     settle.Local{CurrentID: 100, LatestID: 100, Collateral: 7_500},
		}},
	}

	// Let the timeout flush fire, then stop the worker.
	time.Sleep(250 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not stop")
	}

	recovered, err := recovery.Load(context.Background(), 16)
	if err != nil {
		t.Fatalf("recovery load: %v", err)
	}
	if recovered.Sequence != 2 {
		t.Errorf("expected sequence 2, got %d", recovered.Sequence)
	}
	if latest, ok := recovered.Store.LatestVersion("BTC-USD"); !ok || latest.Timestamp != 100 {
		t.Errorf("expected latest version 100, got %+v (%v)", latest, ok)
	}
	if got := recovered.Store.Local(account).Collateral; got != 7_500 {
		t.Errorf("expected collateral 7500, got %d", got)
	}
}
