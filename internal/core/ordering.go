package core

import (
	"errors"
	"fmt"
)

var (
	// ErrSourceOutOfOrder marks an event whose source sequence was
	// already consumed by its partition.
	ErrSourceOutOfOrder = errors.New("core: source sequence out of order")

	// ErrSourceGap marks an event arriving ahead of its partition
	// cursor; the missing sequence may still be in flight.
	ErrSourceGap = errors.New("core: source sequence gap")
)

// OrderingValidator validates upstream source sequences per partition.
// Not thread-safe; only accessed from the single-threaded core.
type OrderingValidator struct {
	expectedNextSeq map[string]int64
	gaps            map[string]int64
	outOfOrder      map[string]int64
}

func NewOrderingValidator() *OrderingValidator {
	return &OrderingValidator{
		expectedNextSeq: make(map[string]int64),
		gaps:            make(map[string]int64),
		outOfOrder:      make(map[string]int64),
	}
}

// ValidateStrict enforces gapless, in-order source sequences for
// settlement partitions. It never moves the cursor; MarkApplied does
// that once the event has taken effect, so a requeued event retries
// under the same sequence.
func (v *OrderingValidator) ValidateStrict(partition string, sourceSequence int64) error {
	expected := v.expectedNextSeq[partition]
	if expected == 0 {
		// First event seeds the partition at whatever sequence the
		// source is currently emitting.
		return nil
	}

	if sourceSequence < expected {
		v.outOfOrder[partition]++
		return fmt.Errorf("%w: partition=%s, expected=%d, got=%d",
			ErrSourceOutOfOrder, partition, expected, sourceSequence)
	}

	if sourceSequence > expected {
		v.gaps[partition]++
		return fmt.Errorf("%w: partition=%s, expected=%d, got=%d",
			ErrSourceGap, partition, expected, sourceSequence)
	}

	return nil
}

// MarkApplied advances the partition cursor past an applied sequence.
func (v *OrderingValidator) MarkApplied(partition string, sourceSequence int64) {
	v.expectedNextSeq[partition] = sourceSequence + 1
}

// ValidateMonotonic enforces increasing sequences but tolerates gaps;
// used for oracle version streams where intermediate versions may be
// skipped. Stale sequences report false and are silently ignored.
func (v *OrderingValidator) ValidateMonotonic(partition string, sourceSequence int64) bool {
	expected := v.expectedNextSeq[partition]

	if sourceSequence < expected {
		return false
	}
	if sourceSequence > expected && expected != 0 {
		v.gaps[partition]++
	}

	v.expectedNextSeq[partition] = sourceSequence + 1
	return true
}

// SetExpected initializes a partition's next expected sequence during
// recovery.
func (v *OrderingValidator) SetExpected(partition string, seq int64) {
	v.expectedNextSeq[partition] = seq
}

// Expected returns the next expected sequence for a partition.
func (v *OrderingValidator) Expected(partition string) int64 {
	return v.expectedNextSeq[partition]
}

// Gaps returns the observed gap count for a partition.
func (v *OrderingValidator) Gaps(partition string) int64 {
	return v.gaps[partition]
}
