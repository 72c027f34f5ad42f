package listing

import (
	"sort"

	"github.com/pkg/errors"
)

// ErrScheduleInvalid is returned by ValidateSchedule when a step sequence
// violates coverage, ordering, or price-monotonicity invariants (§3
// invariants 1-4).
var ErrScheduleInvalid = errors.New("schedule invalid")

// ValidateSchedule checks a candidate Listing's declared price bounds
// against its PsbtStep sequence. It does not check PSBT format (that's
// Admission's job) or temporal validity (start_block vs tip) — only the
// self-consistency of the schedule itself.
func ValidateSchedule(l *Listing, steps []*PsbtStep) error {
	if l.EndBlock < l.StartBlock {
		return errors.Wrap(ErrScheduleInvalid, "end_block before start_block")
	}
	if l.BlocksAfterEnd < 0 {
		return errors.Wrap(ErrScheduleInvalid, "negative blocks_after_end")
	}

	wantCount := l.EndBlock - l.StartBlock + 1
	if len(steps) != wantCount {
		return errors.Wrapf(ErrScheduleInvalid, "expected %d steps, got %d", wantCount, len(steps))
	}

	sorted := make([]*PsbtStep, len(steps))
	copy(sorted, steps)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].BlockNumber < sorted[j].BlockNumber })

	// coverage: exactly one step per height in [start, end], no gaps or
	// duplicates.
	for i, step := range sorted {
		wantBlock := l.StartBlock + i
		if step.BlockNumber != wantBlock {
			return errors.Wrapf(ErrScheduleInvalid, "missing or duplicate step at block %d", wantBlock)
		}
	}

	if sorted[0].PriceSats != l.StartPriceSats {
		return errors.Wrapf(ErrScheduleInvalid, "first step price %d does not match start_price_sats %d", sorted[0].PriceSats, l.StartPriceSats)
	}
	last := sorted[len(sorted)-1]
	if last.PriceSats != l.EndPriceSats {
		return errors.Wrapf(ErrScheduleInvalid, "last step price %d does not match end_price_sats %d", last.PriceSats, l.EndPriceSats)
	}

	if l.FixedPrice() {
		if len(sorted) != 1 {
			return errors.Wrap(ErrScheduleInvalid, "fixed-price listing must have exactly one step")
		}
		if l.StartPriceSats != l.EndPriceSats || l.PriceDecrement != 0 {
			return errors.Wrap(ErrScheduleInvalid, "fixed-price listing requires start_price == end_price and decrement == 0")
		}
		return nil
	}

	if l.PriceDecrement <= 0 {
		return errors.Wrap(ErrScheduleInvalid, "multi-block listing requires a positive price_decrement")
	}

	for i, step := range sorted {
		if i > 0 && step.PriceSats > sorted[i-1].PriceSats {
			return errors.Wrapf(ErrScheduleInvalid, "price increases at block %d", step.BlockNumber)
		}
		want := l.StartPriceSats - l.PriceDecrement*int64(i)
		if step.PriceSats != want {
			return errors.Wrapf(ErrScheduleInvalid, "step %d price %d does not match declared decrement sequence (want %d)", step.BlockNumber, step.PriceSats, want)
		}
	}

	return nil
}

// StepAt returns the step covering height h from a listing's full step
// set, or nil if h falls outside [start_block, end_block]. steps need not
// be pre-sorted.
func StepAt(steps []*PsbtStep, h int) *PsbtStep {
	for _, s := range steps {
		if s.BlockNumber == h {
			return s
		}
	}
	return nil
}
