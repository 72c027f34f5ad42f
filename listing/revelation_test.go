package listing

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func dutchListing() (*Listing, []*PsbtStep) {
	l := &Listing{
		StartBlock:     850_000,
		EndBlock:       850_004,
		BlocksAfterEnd: 144,
		StartPriceSats: 100_000,
		EndPriceSats:   60_000,
		PriceDecrement: 10_000,
		Status:         StatusUpcoming,
	}
	steps := []*PsbtStep{
		{BlockNumber: 850_000, PriceSats: 100_000},
		{BlockNumber: 850_001, PriceSats: 90_000},
		{BlockNumber: 850_002, PriceSats: 80_000},
		{BlockNumber: 850_003, PriceSats: 70_000},
		{BlockNumber: 850_004, PriceSats: 60_000},
	}
	return l, steps
}

func TestReveal_NotStarted(t *testing.T) {
	l, steps := dutchListing()
	step, kind := Reveal(l, steps, 849_999)
	require.Nil(t, step)
	require.Equal(t, RevealNotStarted, kind)
}

func TestReveal_DuringWindow(t *testing.T) {
	l, steps := dutchListing()
	step, kind := Reveal(l, steps, 850_002)
	require.Equal(t, RevealAvailable, kind)
	require.NotNil(t, step)
	require.Equal(t, 850_002, step.BlockNumber)
	require.EqualValues(t, 80_000, step.PriceSats)
}

func TestReveal_GracePeriod(t *testing.T) {
	l, steps := dutchListing()
	l.Status = StatusFinished
	step, kind := Reveal(l, steps, 850_100)
	require.Equal(t, RevealAvailable, kind)
	require.NotNil(t, step)
	require.Equal(t, 850_004, step.BlockNumber)
	require.EqualValues(t, 60_000, step.PriceSats)
}

func TestReveal_ExpiredAfterGrace(t *testing.T) {
	l, steps := dutchListing()
	l.Status = StatusExpired
	step, kind := Reveal(l, steps, 850_149)
	require.Nil(t, step)
	require.Equal(t, RevealExpired, kind)
}

func TestReveal_ExpiredNoGrace(t *testing.T) {
	l, steps := dutchListing()
	l.BlocksAfterEnd = 0
	l.Status = StatusExpired
	step, kind := Reveal(l, steps, 850_005)
	require.Nil(t, step)
	require.Equal(t, RevealExpired, kind)
}

func TestReveal_Terminal(t *testing.T) {
	l, steps := dutchListing()

	l.Status = StatusSold
	step, kind := Reveal(l, steps, 850_002)
	require.Nil(t, step)
	require.Equal(t, RevealSold, kind)

	l.Status = StatusClosed
	step, kind = Reveal(l, steps, 850_002)
	require.Nil(t, step)
	require.Equal(t, RevealClosed, kind)
}

// TestReveal_Monotonicity asserts testable property 1: for h in
// [start_block, end_block], reveal(h).block_number == h and price is
// non-increasing across successive heights.
func TestReveal_Monotonicity(t *testing.T) {
	l, steps := dutchListing()

	var lastPrice int64 = -1
	for h := l.StartBlock; h <= l.EndBlock; h++ {
		step, kind := Reveal(l, steps, h)
		require.Equal(t, RevealAvailable, kind)
		require.Equal(t, h, step.BlockNumber)
		if lastPrice >= 0 {
			require.LessOrEqual(t, step.PriceSats, lastPrice)
		}
		lastPrice = step.PriceSats
	}
}

// TestReveal_AntiFrontRunning asserts testable property 2: the returned
// step never has a block number exceeding now.
func TestReveal_AntiFrontRunning(t *testing.T) {
	l, steps := dutchListing()
	for h := l.StartBlock - 10; h <= l.EndBlock+l.BlocksAfterEnd+10; h++ {
		step, _ := Reveal(l, steps, h)
		if step != nil {
			require.LessOrEqual(t, step.BlockNumber, h)
		}
	}
}

func TestReveal_FixedPrice(t *testing.T) {
	l := &Listing{
		StartBlock:     900_000,
		EndBlock:       900_000,
		BlocksAfterEnd: 144,
		StartPriceSats: 50_000,
		EndPriceSats:   50_000,
		Status:         StatusUpcoming,
	}
	steps := []*PsbtStep{{BlockNumber: 900_000, PriceSats: 50_000}}

	_, kind := Reveal(l, steps, 899_999)
	require.Equal(t, RevealNotStarted, kind)

	l.Status = StatusActive
	step, kind := Reveal(l, steps, 900_000)
	require.Equal(t, RevealAvailable, kind)
	require.EqualValues(t, 50_000, step.PriceSats)

	l.Status = StatusFinished
	step, kind = Reveal(l, steps, 900_001)
	require.Equal(t, RevealAvailable, kind)
	require.EqualValues(t, 900_000, step.BlockNumber)
}
