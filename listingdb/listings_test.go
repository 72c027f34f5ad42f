package listingdb

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/utxobroker/dutchbroker/chain"
	"github.com/utxobroker/dutchbroker/listing"
)

func testEngine(t *testing.T) *Engine {
	dir := t.TempDir()
	e, err := NewEngine(filepath.Join(dir, "listings.db"), chain.NetworkMainnet)
	require.NoError(t, err)
	require.NoError(t, MigrateDB(e))
	t.Cleanup(func() { _ = e.Close() })
	return e
}

func testOutpoint(t *testing.T, vout uint32) *chain.Outpoint {
	out, err := chain.NewOutpointFromTxID("ab000000000000000000000000000000000000000000000000000000000000cd", vout)
	require.NoError(t, err)
	return out
}

func testAddress(t *testing.T) *chain.Address {
	addr, err := chain.NewAddress("bc1qar0srrr7xfkvy5l643lydnw9re59gtzzwf5mdq", chain.NetworkMainnet)
	require.NoError(t, err)
	return addr
}

func testListing(t *testing.T, vout uint32) (*listing.Listing, []*listing.PsbtStep) {
	l := &listing.Listing{
		AssetName:      "RAREPEPE",
		AssetQty:       decimal.RequireFromString("1"),
		UTXO:           testOutpoint(t, vout),
		StartBlock:     850_000,
		EndBlock:       850_002,
		BlocksAfterEnd: 144,
		StartPriceSats: 100_000,
		EndPriceSats:   80_000,
		PriceDecrement: 10_000,
		Status:         listing.StatusUpcoming,
		Seller:         testAddress(t),
		CreatedAt:      time.Unix(1_700_000_000, 0).UTC(),
	}
	steps := []*listing.PsbtStep{
		{BlockNumber: 850_000, PriceSats: 100_000, PsbtData: []byte{0x70, 0x73, 0x62, 0x74, 0xff, 1}},
		{BlockNumber: 850_001, PriceSats: 90_000, PsbtData: []byte{0x70, 0x73, 0x62, 0x74, 0xff, 2}},
		{BlockNumber: 850_002, PriceSats: 80_000, PsbtData: []byte{0x70, 0x73, 0x62, 0x74, 0xff, 3}},
	}
	return l, steps
}

func TestInsertListingAtomic_RoundTrip(t *testing.T) {
	e := testEngine(t)
	l, steps := testListing(t, 0)

	id, err := e.InsertListingAtomic(context.Background(), l, steps)
	require.NoError(t, err)
	require.NotZero(t, id)

	got, err := e.Get(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, l.AssetName, got.AssetName)
	require.True(t, l.AssetQty.Equal(got.AssetQty))
	require.True(t, l.UTXO.Equal(got.UTXO))
	require.Equal(t, listing.StatusUpcoming, got.Status)
	require.True(t, l.Seller.Equal(got.Seller))

	gotSteps, err := e.StepsFor(context.Background(), id)
	require.NoError(t, err)
	require.Len(t, gotSteps, 3)
	require.Equal(t, int64(100_000), gotSteps[0].PriceSats)
	require.Equal(t, int64(80_000), gotSteps[2].PriceSats)

	step, err := e.StepFor(context.Background(), id, 850_001)
	require.NoError(t, err)
	require.Equal(t, int64(90_000), step.PriceSats)
}

func TestInsertListingAtomic_RejectsSecondActiveListingOnSameUTXO(t *testing.T) {
	e := testEngine(t)
	l1, steps1 := testListing(t, 0)
	_, err := e.InsertListingAtomic(context.Background(), l1, steps1)
	require.NoError(t, err)

	l2, steps2 := testListing(t, 0)
	_, err = e.InsertListingAtomic(context.Background(), l2, steps2)
	require.ErrorIs(t, err, listing.ErrUTXOInUse)
}

func TestInsertListingAtomic_AllowsReuseAfterTerminal(t *testing.T) {
	e := testEngine(t)
	l1, steps1 := testListing(t, 0)
	id1, err := e.InsertListingAtomic(context.Background(), l1, steps1)
	require.NoError(t, err)
	require.NoError(t, e.UpdateStatus(context.Background(), id1, listing.StatusExpired, nil))

	l2, steps2 := testListing(t, 0)
	id2, err := e.InsertListingAtomic(context.Background(), l2, steps2)
	require.NoError(t, err)
	require.NotEqual(t, id1, id2)
}

func TestGet_NotFound(t *testing.T) {
	e := testEngine(t)
	_, err := e.Get(context.Background(), 999)
	require.ErrorIs(t, err, listing.ErrNotFound)
}

func TestUpdateStatus_Idempotent(t *testing.T) {
	e := testEngine(t)
	l, steps := testListing(t, 0)
	id, err := e.InsertListingAtomic(context.Background(), l, steps)
	require.NoError(t, err)

	require.NoError(t, e.UpdateStatus(context.Background(), id, listing.StatusActive, nil))
	require.NoError(t, e.UpdateStatus(context.Background(), id, listing.StatusActive, nil))

	got, err := e.Get(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, listing.StatusActive, got.Status)
}

func TestUpdateStatus_RejectsBackwardMove(t *testing.T) {
	e := testEngine(t)
	l, steps := testListing(t, 0)
	id, err := e.InsertListingAtomic(context.Background(), l, steps)
	require.NoError(t, err)
	require.NoError(t, e.UpdateStatus(context.Background(), id, listing.StatusActive, nil))

	err = e.UpdateStatus(context.Background(), id, listing.StatusUpcoming, nil)
	require.ErrorIs(t, err, listing.ErrStoreConflict)
}

func TestUpdateStatus_RejectsLeavingTerminal(t *testing.T) {
	e := testEngine(t)
	l, steps := testListing(t, 0)
	id, err := e.InsertListingAtomic(context.Background(), l, steps)
	require.NoError(t, err)
	require.NoError(t, e.UpdateStatus(context.Background(), id, listing.StatusExpired, nil))

	err = e.UpdateStatus(context.Background(), id, listing.StatusActive, nil)
	require.ErrorIs(t, err, listing.ErrStoreConflict)

	require.NoError(t, e.UpdateStatus(context.Background(), id, listing.StatusExpired, nil))
}

func TestUpdateStatus_WithSpendFields(t *testing.T) {
	e := testEngine(t)
	l, steps := testListing(t, 0)
	id, err := e.InsertListingAtomic(context.Background(), l, steps)
	require.NoError(t, err)
	require.NoError(t, e.UpdateStatus(context.Background(), id, listing.StatusActive, nil))

	buyer := testAddress(t)
	spend := &SpendFields{
		SpentTxID:  "deadbeef",
		SpentBlock: 850_001,
		SpentAt:    time.Unix(1_700_000_100, 0).UTC(),
		Recipient:  buyer,
	}
	require.NoError(t, e.UpdateStatus(context.Background(), id, listing.StatusSold, spend))

	got, err := e.Get(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, listing.StatusSold, got.Status)
	require.Equal(t, "deadbeef", got.SpentTxID)
	require.Equal(t, 850_001, got.SpentBlock)
	require.True(t, buyer.Equal(got.Recipient))
	require.True(t, got.Spent())
}

func TestNonTerminalListings(t *testing.T) {
	e := testEngine(t)
	l1, steps1 := testListing(t, 0)
	id1, err := e.InsertListingAtomic(context.Background(), l1, steps1)
	require.NoError(t, err)

	l2, steps2 := testListing(t, 1)
	id2, err := e.InsertListingAtomic(context.Background(), l2, steps2)
	require.NoError(t, err)
	require.NoError(t, e.UpdateStatus(context.Background(), id2, listing.StatusExpired, nil))

	open, err := e.NonTerminalListings(context.Background())
	require.NoError(t, err)
	require.Len(t, open, 1)
	require.Equal(t, id1, open[0].ID)
}

func TestListingsWatchingUTXO(t *testing.T) {
	e := testEngine(t)
	l, steps := testListing(t, 0)
	id, err := e.InsertListingAtomic(context.Background(), l, steps)
	require.NoError(t, err)

	found, err := e.ListingsWatchingUTXO(context.Background(), testOutpoint(t, 0))
	require.NoError(t, err)
	require.Len(t, found, 1)
	require.Equal(t, id, found[0].ID)

	found, err = e.ListingsWatchingUTXO(context.Background(), testOutpoint(t, 1))
	require.NoError(t, err)
	require.Empty(t, found)
}

func TestList_FilterByStatus(t *testing.T) {
	e := testEngine(t)
	l1, steps1 := testListing(t, 0)
	id1, err := e.InsertListingAtomic(context.Background(), l1, steps1)
	require.NoError(t, err)

	l2, steps2 := testListing(t, 1)
	_, err = e.InsertListingAtomic(context.Background(), l2, steps2)
	require.NoError(t, err)
	require.NoError(t, e.UpdateStatus(context.Background(), id1, listing.StatusActive, nil))

	active := listing.StatusActive
	got, err := e.List(context.Background(), &ListFilter{Status: &active})
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, id1, got[0].ID)
}
