package httpapi

import (
	"encoding/base64"
	"time"

	"github.com/utxobroker/dutchbroker/chain"
	"github.com/utxobroker/dutchbroker/listing"
	"github.com/utxobroker/dutchbroker/query"
)

type ErrorResponse struct {
	Msg string `json:"msg"`
}

// HealthRes reports both the chain tip and the event pipeline's own
// liveness -- the poll timestamps and push-subscriber connection state --
// so a monitor can flag a stalled poll loop directly instead of noticing
// only once listings stop progressing. The poll fields are omitted when
// no pipeline is wired (e.g. the CLI's own read-only oracle).
type HealthRes struct {
	Status             string     `json:"status"`
	Height             int        `json:"height"`
	LastBlockPollAt    *time.Time `json:"last_block_poll_at,omitempty"`
	LastSpendPollAt    *time.Time `json:"last_spend_poll_at,omitempty"`
	BlockPushConnected bool       `json:"block_push_connected"`
	TxPushConnected    bool       `json:"tx_push_connected"`
}

func newHealthRes(hs *query.HealthStatus) *HealthRes {
	res := &HealthRes{
		Status:             "OK",
		Height:             hs.Height,
		BlockPushConnected: hs.BlockPushConnected,
		TxPushConnected:    hs.TxPushConnected,
	}
	if !hs.LastBlockPollAt.IsZero() {
		t := hs.LastBlockPollAt
		res.LastBlockPollAt = &t
	}
	if !hs.LastSpendPollAt.IsZero() {
		t := hs.LastSpendPollAt
		res.LastSpendPollAt = &t
	}
	return res
}

type AdmitStepReq struct {
	BlockNumber int    `json:"block_number"`
	PriceSats   int64  `json:"price_sats"`
	PsbtData    string `json:"psbt_data"`
}

type AdmitListingReq struct {
	AssetName      string          `json:"asset_name"`
	AssetQty       string          `json:"asset_qty"`
	UTXOTxID       string          `json:"utxo_txid"`
	UTXOVout       uint32          `json:"utxo_vout"`
	StartBlock     int             `json:"start_block"`
	EndBlock       int             `json:"end_block"`
	BlocksAfterEnd int             `json:"blocks_after_end"`
	StartPriceSats int64           `json:"start_price_sats"`
	EndPriceSats   int64           `json:"end_price_sats"`
	PriceDecrement int64           `json:"price_decrement"`
	Steps          []*AdmitStepReq `json:"steps"`
}

type AdmitListingRes struct {
	ID int64 `json:"id"`
}

// ListingRes is the listing metadata projection served over HTTP. It
// never carries PSBT bytes -- those are only ever revealed one at a time
// through CurrentPsbtRes.
type ListingRes struct {
	ID             int64          `json:"id"`
	AssetName      string         `json:"asset_name"`
	AssetQty       string         `json:"asset_qty"`
	UTXOTxID       string         `json:"utxo_txid"`
	UTXOVout       uint32         `json:"utxo_vout"`
	StartBlock     int            `json:"start_block"`
	EndBlock       int            `json:"end_block"`
	BlocksAfterEnd int            `json:"blocks_after_end"`
	StartPriceSats int64          `json:"start_price_sats"`
	EndPriceSats   int64          `json:"end_price_sats"`
	PriceDecrement int64          `json:"price_decrement"`
	Status         string         `json:"status"`
	SpentTxID      string         `json:"spent_txid,omitempty"`
	SpentBlock     int            `json:"spent_block,omitempty"`
	SpentAt        *time.Time     `json:"spent_at,omitempty"`
	Recipient      *chain.Address `json:"recipient,omitempty"`
	Seller         *chain.Address `json:"seller"`
	CreatedAt      time.Time      `json:"created_at"`
}

func newListingRes(l *listing.Listing) *ListingRes {
	res := &ListingRes{
		ID:             l.ID,
		AssetName:      l.AssetName,
		AssetQty:       l.AssetQty.String(),
		UTXOTxID:       l.UTXO.TxIDString(),
		UTXOVout:       l.UTXO.Index,
		StartBlock:     l.StartBlock,
		EndBlock:       l.EndBlock,
		BlocksAfterEnd: l.BlocksAfterEnd,
		StartPriceSats: l.StartPriceSats,
		EndPriceSats:   l.EndPriceSats,
		PriceDecrement: l.PriceDecrement,
		Status:         string(l.Status),
		SpentTxID:      l.SpentTxID,
		SpentBlock:     l.SpentBlock,
		Recipient:      l.Recipient,
		Seller:         l.Seller,
		CreatedAt:      l.CreatedAt,
	}
	if l.Spent() {
		spentAt := l.SpentAt
		res.SpentAt = &spentAt
	}
	return res
}

type ListingsRes struct {
	Listings []*ListingRes `json:"listings"`
}

func newListingsRes(listings []*listing.Listing) *ListingsRes {
	out := make([]*ListingRes, len(listings))
	for i, l := range listings {
		out[i] = newListingRes(l)
	}
	return &ListingsRes{Listings: out}
}

// CurrentPsbtRes is the Revelation result (§4.5): at most one step, tagged
// with the reason when none is returned.
type CurrentPsbtRes struct {
	Kind        string `json:"kind"`
	BlockNumber *int   `json:"block_number,omitempty"`
	PriceSats   *int64 `json:"price_sats,omitempty"`
	PsbtData    string `json:"psbt_data,omitempty"`
}

func newCurrentPsbtRes(step *listing.PsbtStep, kind listing.RevealKind) *CurrentPsbtRes {
	res := &CurrentPsbtRes{Kind: string(kind)}
	if step == nil {
		return res
	}
	block := step.BlockNumber
	price := step.PriceSats
	res.BlockNumber = &block
	res.PriceSats = &price
	res.PsbtData = base64.StdEncoding.EncodeToString(step.PsbtData)
	return res
}
