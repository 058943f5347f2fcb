package core

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"PerpSettle/internal/event"
	"PerpSettle/internal/market"
	"PerpSettle/internal/observability"
	"PerpSettle/internal/settle"
	"PerpSettle/internal/store"
)

var (
	// ErrEpochOutOfOrder marks a settlement for an epoch at or before
	// the account's latest settled epoch. Applying it would double-count
	// fees, so it is rejected instead of trusted.
	ErrEpochOutOfOrder = errors.New("core: settlement epoch out of order")

	// ErrUnknownVersion marks a settlement interval whose endpoint
	// version has not been committed.
	ErrUnknownVersion = errors.New("core: unknown version timestamp")
)

type pendingKey struct {
	account  uuid.UUID
	marketID string
}

// SettlementCore is the single-threaded settlement event processor.
// For each account, once per epoch, it combines the prior position, the
// order delta, any pending guarantee, and the two interval versions into
// a fee/pnl breakdown; folds that into the account's local ledger; and
// feeds the fee totals through the global waterfall.
type SettlementCore struct {
	sequence int64

	store        store.Store
	rates        settle.FeeRates
	hasher       *StateHasher
	idempotency  *IdempotencyChecker
	ordering     *OrderingValidator
	conservation *settle.ConservationChecker

	// Guarantees from intent fills awaiting the account's next
	// settlement.
	pending map[pendingKey]market.Guarantee

	metrics *observability.Metrics
	logger  zerolog.Logger

	persistChan chan<- Output
	publishChan chan<- Output
}

func NewSettlementCore(
	startSequence int64,
	st store.Store,
	rates settle.FeeRates,
	persistChan, publishChan chan<- Output,
	dbChecker DBIdempotencyChecker,
	lruCapacity int,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) *SettlementCore {
	return &SettlementCore{
		sequence:     startSequence,
		store:        st,
		rates:        rates,
		hasher:       NewStateHasher(),
		idempotency:  NewIdempotencyChecker(lruCapacity, dbChecker),
		ordering:     NewOrderingValidator(),
		conservation: settle.NewConservationChecker(),
		pending:      make(map[pendingKey]market.Guarantee),
		metrics:      metrics,
		logger:       logger,
		persistChan:  persistChan,
		publishChan:  publishChan,
	}
}

// Sequence returns the last applied core sequence.
func (c *SettlementCore) Sequence() int64 {
	return c.sequence
}

// Hasher exposes the state-hash chain for recovery.
func (c *SettlementCore) Hasher() *StateHasher {
	return c.hasher
}

// Idempotency exposes the dedup checker for LRU warming.
func (c *SettlementCore) Idempotency() *IdempotencyChecker {
	return c.idempotency
}

// Ordering exposes the sequence validator for watermark restoration.
func (c *SettlementCore) Ordering() *OrderingValidator {
	return c.ordering
}

// Apply processes one event. Duplicate events are benign no-ops; a
// fatal error leaves every store row untouched (no partial writes).
func (c *SettlementCore) Apply(ev event.Event) error {
	eventType := ev.EventType().String()
	start := time.Now()

	if dup, tier := c.idempotency.IsDuplicate(eventType, ev.IdempotencyKey()); dup {
		if c.metrics != nil {
			c.metrics.IdempotencyDuplicates.WithLabelValues(eventType, tier).Inc()
		}
		c.logger.Debug().
			Str("event_type", eventType).
			Str("idempotency_key", ev.IdempotencyKey()).
			Str("tier", tier).
			Msg("duplicate event skipped")
		return nil
	}

	// Version streams tolerate gaps and validate inside their handler;
	// settlement partitions must be gapless and in order.
	_, isVersion := ev.(*event.VersionCommitted)
	partition := eventType + ":" + ev.MarketID()
	if !isVersion {
		if err := c.ordering.ValidateStrict(partition, ev.SourceSequence()); err != nil {
			if c.metrics != nil {
				c.metrics.EventsRejected.WithLabelValues(eventType, rejectReason(err)).Inc()
			}
			return err
		}
	}

	var (
		out Output
		err error
	)

	switch e := ev.(type) {
	case *event.VersionCommitted:
		out, err = c.applyVersionCommitted(e)
	case *event.AccountSettled:
		out, err = c.applyAccountSettled(e)
	case *event.IntentFill:
		out, err = c.applyIntentFill(e)
	case *event.ProtectionRequested:
		out, err = c.applyProtectionRequested(e)
	case *event.ClaimRequested:
		out, err = c.applyClaimRequested(e)
	default:
		err = fmt.Errorf("unknown event type %T", ev)
	}

	if err != nil {
		if c.metrics != nil {
			c.metrics.EventsRejected.WithLabelValues(eventType, rejectReason(err)).Inc()
		}
		return err
	}

	c.sequence++
	c.idempotency.MarkProcessed(eventType, ev.IdempotencyKey())
	if !isVersion {
		c.ordering.MarkApplied(partition, ev.SourceSequence())
	}

	envelope := &event.Envelope{
		Sequence:       c.sequence,
		IdempotencyKey: ev.IdempotencyKey(),
		EventType:      ev.EventType(),
		Market:         ev.MarketID(),
		SourceSequence: ev.SourceSequence(),
		PrevHash:       c.hasher.GetPrevHash(),
	}
	envelope.StateHash = c.hasher.ComputeHash(c.sequence, out.digest())
	out.Envelope = envelope

	if c.metrics != nil {
		c.metrics.EventsApplied.WithLabelValues(eventType).Inc()
		c.metrics.EventDuration.WithLabelValues(eventType).Observe(time.Since(start).Seconds())
		c.metrics.CoreSequence.Set(float64(c.sequence))
		c.metrics.DedupLRUSize.Set(float64(c.idempotency.Size()))
	}

	if c.persistChan != nil {
		c.persistChan <- out
	}
	if c.publishChan != nil && len(out.Results) > 0 {
		select {
		case c.publishChan <- out:
		default:
			// Notifications are best-effort; persistence is not.
		}
	}

	return nil
}

// applyVersionCommitted closes the epoch ending at the previous version
// and makes the new snapshot available for settlement intervals.
func (c *SettlementCore) applyVersionCommitted(ev *event.VersionCommitted) (Output, error) {
	if fresh := c.ordering.ValidateMonotonic("version:"+ev.Market, ev.Version.Timestamp); !fresh {
		// Stale version replay; idempotent skip.
		return Output{}, nil
	}

	if drift := c.conservation.Validate(ev.Market); drift != nil {
		// The settlement stream may legitimately cover a subset of
		// accounts, so drift is surfaced, not fatal.
		c.logger.Warn().Str("market", ev.Market).Err(drift).Msg("conservation drift at epoch boundary")
		if c.metrics != nil {
			c.metrics.ConservationDrift.WithLabelValues(ev.Market).Set(1)
		}
	} else if c.metrics != nil {
		c.metrics.ConservationDrift.WithLabelValues(ev.Market).Set(0)
	}
	c.conservation.Reset(ev.Market)

	if err := c.store.PutVersion(ev.Market, ev.Version); err != nil {
		return Output{}, err
	}

	if c.metrics != nil {
		c.metrics.VersionsCommitted.WithLabelValues(ev.Market, strconv.FormatBool(ev.Version.Valid)).Inc()
	}
	c.logger.Debug().
		Str("market", ev.Market).
		Int64("timestamp", ev.Version.Timestamp).
		Bool("valid", ev.Version.Valid).
		Msg("version committed")

	return Output{
		Versions: []VersionUpdate{{Market: ev.Market, Row: ev.Version}},
	}, nil
}

// applyAccountSettled runs the checkpoint accumulator for one account
// over one interval and folds the breakdown into the local and global
// rows. All next-row values are computed before anything is written.
func (c *SettlementCore) applyAccountSettled(ev *event.AccountSettled) (Output, error) {
	local := c.store.Local(ev.Account)
	if ev.Epoch <= local.LatestID {
		if c.metrics != nil {
			c.metrics.EpochsOutOfOrder.WithLabelValues(ev.Market).Inc()
		}
		return Output{}, fmt.Errorf("%w: account %s epoch %d, latest settled %d",
			ErrEpochOutOfOrder, ev.Account, ev.Epoch, local.LatestID)
	}

	from, ok := c.store.Version(ev.Market, ev.FromTimestamp)
	if !ok {
		return Output{}, fmt.Errorf("%w: %s@%d", ErrUnknownVersion, ev.Market, ev.FromTimestamp)
	}
	to, ok := c.store.Version(ev.Market, ev.ToTimestamp)
	if !ok {
		return Output{}, fmt.Errorf("%w: %s@%d", ErrUnknownVersion, ev.Market, ev.ToTimestamp)
	}

	prior, _ := c.store.Checkpoint(ev.Account, local.LatestID)
	position := c.store.Position(ev.Account)

	key := pendingKey{account: ev.Account, marketID: ev.Market}
	guarantee := c.pending[key]

	res, next, err := settle.Accumulate(prior, position, ev.Order, guarantee, from, to)
	if err != nil {
		return Output{}, fmt.Errorf("accumulate %s epoch %d: %w", ev.Account, ev.Epoch, err)
	}

	pnl, err := local.Update(ev.Epoch, res)
	if err != nil {
		return Output{}, fmt.Errorf("local update %s: %w", ev.Account, err)
	}

	global := c.store.Global(ev.Market)
	if ev.Epoch > global.LatestID {
		if err := global.Advance(ev.Epoch); err != nil {
			return Output{}, err
		}
	}
	split, err := global.IncrementFees(nonNegative(res.TradeFee),
		nonNegative(res.SettlementFee+res.LiquidationFee), c.rates)
	if err != nil {
		return Output{}, fmt.Errorf("fee waterfall %s epoch %d: %w", ev.Market, ev.Epoch, err)
	}

	nextPosition := ev.Order.ApplyTo(position, to.Timestamp)
	if err := nextPosition.Validate(); err != nil {
		return Output{}, fmt.Errorf("position %s: %w", ev.Account, err)
	}

	// Every row validated; commit.
	if err := c.store.PutCheckpoint(ev.Account, ev.Epoch, next); err != nil {
		return Output{}, err
	}
	if err := c.store.PutLocal(ev.Account, local); err != nil {
		return Output{}, err
	}
	if err := c.store.PutGlobal(ev.Market, global); err != nil {
		return Output{}, err
	}
	if err := c.store.PutPosition(ev.Account, nextPosition); err != nil {
		return Output{}, err
	}
	delete(c.pending, key)
	c.conservation.Record(ev.Market, res)

	if c.metrics != nil {
		c.metrics.AccountsSettled.WithLabelValues(ev.Market).Inc()
		c.metrics.FeeBucketTotal.WithLabelValues(ev.Market, "protocol").Add(float64(split.Protocol))
		c.metrics.FeeBucketTotal.WithLabelValues(ev.Market, "oracle").Add(float64(split.Oracle))
		c.metrics.FeeBucketTotal.WithLabelValues(ev.Market, "risk").Add(float64(split.Risk))
		c.metrics.FeeBucketTotal.WithLabelValues(ev.Market, "donation").Add(float64(split.Donation))
	}
	c.logger.Info().
		Str("account", ev.Account.String()).
		Str("market", ev.Market).
		Int64("epoch", ev.Epoch).
		Int64("pnl", pnl).
		Int64("trade_fee", res.TradeFee).
		Int64("settlement_fee", res.SettlementFee).
		Int64("liquidation_fee", res.LiquidationFee).
		Msg("account settled")

	return Output{
		Checkpoints: []CheckpointUpdate{{Account: ev.Account, Epoch: ev.Epoch, Row: next}},
		Locals:      []LocalUpdate{{Account: ev.Account, Row: local}},
		Globals:     []GlobalUpdate{{Market: ev.Market, Row: global}},
		Positions:   []PositionUpdate{{Account: ev.Account, Row: nextPosition}},
		Results: []SettlementResult{{
			Account: ev.Account,
			Market:  ev.Market,
			Epoch:   ev.Epoch,
			Result:  res,
			Split:   split,
		}},
	}, nil
}

// applyIntentFill derives a guarantee from a negotiated fill and holds
// it for the account's next settlement. Referral rewards accrue to the
// referrer's claimable balance immediately.
func (c *SettlementCore) applyIntentFill(ev *event.IntentFill) (Output, error) {
	guarantee, err := market.BuildGuarantee(ev.Side, ev.Pos, ev.Neg, ev.Orders,
		ev.Price, ev.ReferralRate, ev.ChargeSettlementFee, ev.ChargeTradeFee)
	if err != nil {
		return Output{}, fmt.Errorf("build guarantee %s: %w", ev.FillID, err)
	}
	if guarantee.Empty() {
		return Output{}, nil
	}

	var out Output
	if ev.Referrer != uuid.Nil && guarantee.Referral > 0 {
		referrerLocal := c.store.Local(ev.Referrer)
		if err := referrerLocal.Credit(guarantee.Referral); err != nil {
			return Output{}, fmt.Errorf("referral credit %s: %w", ev.Referrer, err)
		}
		if err := c.store.PutLocal(ev.Referrer, referrerLocal); err != nil {
			return Output{}, err
		}
		out.Locals = append(out.Locals, LocalUpdate{Account: ev.Referrer, Row: referrerLocal})
	}

	key := pendingKey{account: ev.Account, marketID: ev.Market}
	c.pending[key] = c.pending[key].Merge(guarantee)

	c.logger.Debug().
		Str("account", ev.Account.String()).
		Str("market", ev.Market).
		Str("side", ev.Side.String()).
		Int64("notional", guarantee.Notional).
		Msg("intent fill recorded")

	return out, nil
}

// applyProtectionRequested sets the liquidation-protection latch. A
// stale or duplicate attempt is a benign no-op, not an error.
func (c *SettlementCore) applyProtectionRequested(ev *event.ProtectionRequested) (Output, error) {
	local := c.store.Local(ev.Account)
	position := c.store.Position(ev.Account)

	if !local.Protect(position, ev.ProtectTimestamp, ev.TryProtect) {
		if c.metrics != nil {
			c.metrics.ProtectionIgnored.WithLabelValues(ev.Market).Inc()
		}
		return Output{}, nil
	}

	if err := c.store.PutLocal(ev.Account, local); err != nil {
		return Output{}, err
	}
	if c.metrics != nil {
		c.metrics.ProtectionApplied.WithLabelValues(ev.Market).Inc()
	}
	c.logger.Info().
		Str("account", ev.Account.String()).
		Int64("protection", local.Protection).
		Msg("liquidation protection latched")

	return Output{
		Locals: []LocalUpdate{{Account: ev.Account, Row: local}},
	}, nil
}

// applyClaimRequested drains the account's claimable balance.
func (c *SettlementCore) applyClaimRequested(ev *event.ClaimRequested) (Output, error) {
	local := c.store.Local(ev.Account)
	claimed := local.Claim()
	if claimed == 0 {
		return Output{}, nil
	}

	if err := c.store.PutLocal(ev.Account, local); err != nil {
		return Output{}, err
	}
	c.logger.Info().
		Str("account", ev.Account.String()).
		Int64("claimed", claimed).
		Msg("claimable drained")

	return Output{
		Locals: []LocalUpdate{{Account: ev.Account, Row: local}},
	}, nil
}

func nonNegative(v int64) int64 {
	if v < 0 {
		return 0
	}
	return v
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, ErrEpochOutOfOrder):
		return "epoch_out_of_order"
	case errors.Is(err, ErrUnknownVersion):
		return "unknown_version"
	case errors.Is(err, ErrSourceOutOfOrder):
		return "source_out_of_order"
	case errors.Is(err, ErrSourceGap):
		return "source_gap"
	case errors.Is(err, settle.ErrInvalidRates):
		return "invalid_rates"
	default:
		return "error"
	}
}
