package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"log"
	"time"

	"PerpSettle/internal/core"
	"PerpSettle/internal/observability"
)

// Worker drains the persist channel and batch-writes to Postgres. This
// goroutine runs independently from the deterministic core. The persist
// channel uses BLOCKING sends from the core, so if this worker falls
// behind, the core stalls rather than lose an update.
type Worker struct {
	writer       *RowWriter
	inputChan    <-chan core.Output
	batchSize    int
	flushTimeout time.Duration
	metrics      *observability.Metrics
}

// batch accumulates rows across outputs until a flush.
type batch struct {
	events      []EventRow
	checkpoints []CheckpointRow
	locals      []LocalRow
	globals     []GlobalRow
	versions    []VersionRow
	positions   []PositionRow
}

func (b *batch) add(out core.Output) {
	b.events = append(b.events, eventRowFrom(out))
	for _, c := range out.Checkpoints {
		b.checkpoints = append(b.checkpoints, CheckpointRow{
			Account:       c.Account,
			Epoch:         c.Epoch,
			TradeFee:      c.Row.TradeFee,
			SettlementFee: c.Row.SettlementFee,
			Transfer:      c.Row.Transfer,
			Collateral:    c.Row.Collateral,
		})
	}
	for _, l := range out.Locals {
		b.locals = append(b.locals, LocalRow{
			Account:    l.Account,
			CurrentID:  l.Row.CurrentID,
			LatestID:   l.Row.LatestID,
			Collateral: l.Row.Collateral,
			Claimable:  l.Row.Claimable,
			Protection: l.Row.Protection,
		})
	}
	for _, g := range out.Globals {
		b.globals = append(b.globals, GlobalRow{
			Market:      g.Market,
			CurrentID:   g.Row.CurrentID,
			LatestID:    g.Row.LatestID,
			ProtocolFee: g.Row.ProtocolFee,
			OracleFee:   g.Row.OracleFee,
			RiskFee:     g.Row.RiskFee,
			Donation:    g.Row.Donation,
		})
	}
	for _, v := range out.Versions {
		b.versions = append(b.versions, VersionRow{
			Market:           v.Market,
			VersionTimestamp: v.Row.Timestamp,
			Valid:            v.Row.Valid,
			Price:            v.Row.Price,
			MakerValue:       v.Row.MakerValue,
			LongValue:        v.Row.LongValue,
			ShortValue:       v.Row.ShortValue,
			MakerFee:         v.Row.MakerFee,
			TakerFee:         v.Row.TakerFee,
			MakerOffset:      v.Row.MakerOffset,
			TakerPosOffset:   v.Row.TakerPosOffset,
			TakerNegOffset:   v.Row.TakerNegOffset,
			SettlementFee:    v.Row.SettlementFee,
			LiquidationFee:   v.Row.LiquidationFee,
		})
	}
	for _, p := range out.Positions {
		b.positions = append(b.positions, PositionRow{
			Account:           p.Account,
			PositionTimestamp: p.Row.Timestamp,
			Maker:             p.Row.Maker,
			LongExposure:      p.Row.Long,
			ShortExposure:     p.Row.Short,
		})
	}
}

func (b *batch) size() int {
	return len(b.events)
}

func (b *batch) rows() int {
	return len(b.events) + len(b.checkpoints) + len(b.locals) +
		len(b.globals) + len(b.versions) + len(b.positions)
}

func (b *batch) reset() {
	b.events = b.events[:0]
	b.checkpoints = b.checkpoints[:0]
	b.locals = b.locals[:0]
	b.globals = b.globals[:0]
	b.versions = b.versions[:0]
	b.positions = b.positions[:0]
}

func eventRowFrom(out core.Output) EventRow {
	env := out.Envelope
	payload, err := json.Marshal(struct {
		Checkpoints []core.CheckpointUpdate `json:"checkpoints,omitempty"`
		Locals      []core.LocalUpdate      `json:"locals,omitempty"`
		Globals     []core.GlobalUpdate     `json:"globals,omitempty"`
		Versions    []core.VersionUpdate    `json:"versions,omitempty"`
		Positions   []core.PositionUpdate   `json:"positions,omitempty"`
		Results     []core.SettlementResult `json:"results,omitempty"`
	}{out.Checkpoints, out.Locals, out.Globals, out.Versions, out.Positions, out.Results})
	if err != nil {
		log.Printf("WARN: failed to marshal payload seq=%d: %v", env.Sequence, err)
		payload = []byte("{}")
	}

	return EventRow{
		Sequence:       env.Sequence,
		EventType:      env.EventType.String(),
		IdempotencyKey: env.IdempotencyKey,
		Market:         env.Market,
		Payload:        payload,
		StateHash:      env.StateHash[:],
		PrevHash:       env.PrevHash[:],
		SourceSequence: env.SourceSequence,
		Timestamp:      time.Now().UTC(),
	}
}

func NewWorker(
	db *sql.DB,
	inputChan <-chan core.Output,
	batchSize int,
	flushTimeout time.Duration,
	metrics *observability.Metrics,
) *Worker {
	return &Worker{
		writer:       NewRowWriter(db),
		inputChan:    inputChan,
		batchSize:    batchSize,
		flushTimeout: flushTimeout,
		metrics:      metrics,
	}
}

// Run starts the persistence loop. It batches incoming outputs and
// flushes either when the batch is full or the flush timeout expires.
// Blocks until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	var b batch
	timer := time.NewTimer(w.flushTimeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			if b.size() > 0 {
				if err := w.flush(context.Background(), &b); err != nil {
					log.Printf("ERROR: final flush failed: %v", err)
				}
			}
			return ctx.Err()

		case out, ok := <-w.inputChan:
			if !ok {
				if b.size() > 0 {
					if err := w.flush(context.Background(), &b); err != nil {
						log.Printf("ERROR: final flush failed: %v", err)
					}
				}
				return nil
			}

			b.add(out)
			if b.size() >= w.batchSize {
				if err := w.flushWithRetry(ctx, &b); err != nil {
					log.Printf("ERROR: batch flush failed after retries: %v", err)
				}
				b.reset()
				timer.Reset(w.flushTimeout)
			}

		case <-timer.C:
			if b.size() > 0 {
				if err := w.flushWithRetry(ctx, &b); err != nil {
					log.Printf("ERROR: timeout flush failed after retries: %v", err)
				}
				b.reset()
			}
			timer.Reset(w.flushTimeout)
		}
	}
}

// flushWithRetry attempts to flush with exponential backoff. The worker
// never drops a batch: it retries until the write succeeds or the
// context is cancelled, at which point it makes one final attempt with
// a background context.
func (w *Worker) flushWithRetry(ctx context.Context, b *batch) error {
	backoff := 100 * time.Millisecond
	const maxBackoff = 30 * time.Second

	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			log.Printf("WARN: persistence retry attempt %d (backoff=%v, events=%d)",
				attempt, backoff, b.size())
			select {
			case <-ctx.Done():
				if err := w.flush(context.Background(), b); err != nil {
					return err
				}
				return nil
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
		}

		err := w.flush(ctx, b)
		if err == nil {
			if attempt > 0 {
				log.Printf("INFO: persistence flush succeeded after %d retries", attempt)
			}
			return nil
		}

		if w.metrics != nil {
			w.metrics.PersistErrors.Inc()
		}
	}
}

// flush writes the whole batch in one transaction.
func (w *Worker) flush(ctx context.Context, b *batch) error {
	start := time.Now()

	tx, err := w.writer.DB().BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := w.writer.WriteEvents(ctx, tx, b.events); err != nil {
		return err
	}
	if err := w.writer.WriteVersions(ctx, tx, b.versions); err != nil {
		return err
	}
	if err := w.writer.WriteCheckpoints(ctx, tx, b.checkpoints); err != nil {
		return err
	}
	if err := w.writer.WriteLocals(ctx, tx, b.locals); err != nil {
		return err
	}
	if err := w.writer.WriteGlobals(ctx, tx, b.globals); err != nil {
		return err
	}
	if err := w.writer.WritePositions(ctx, tx, b.positions); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return err
	}

	if w.metrics != nil {
		w.metrics.PersistBatchDur.Observe(time.Since(start).Seconds())
		w.metrics.PersistRowsWritten.Add(float64(b.rows()))
	}

	return nil
}

// Writer exposes the underlying row writer.
func (w *Worker) Writer() *RowWriter {
	return w.writer
}
