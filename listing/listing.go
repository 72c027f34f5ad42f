package listing

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/utxobroker/dutchbroker/chain"
)

// Status is the Listing lifecycle state. Progression is one-directional:
// upcoming -> active -> {finished | expired}, with a spend observation
// able to short-circuit upcoming or active or finished directly to sold or
// closed at any point. sold, closed, and expired are terminal.
type Status string

const (
	StatusUpcoming Status = "upcoming"
	StatusActive   Status = "active"
	StatusFinished Status = "finished"
	StatusExpired  Status = "expired"
	StatusSold     Status = "sold"
	StatusClosed   Status = "closed"
)

// Terminal reports whether s admits no further transitions.
func (s Status) Terminal() bool {
	switch s {
	case StatusSold, StatusClosed, StatusExpired:
		return true
	}
	return false
}

// NonTerminal reports whether s is one of the statuses the Event Pipeline
// must keep sweeping (upcoming, active, finished).
func (s Status) NonTerminal() bool {
	return !s.Terminal()
}

// Listing is the aggregate root: a single Dutch-auction (or degenerate
// fixed-price) sale of a Counterparty asset pinned to one UTXO.
type Listing struct {
	ID        int64
	AssetName string
	AssetQty  decimal.Decimal

	UTXO *chain.Outpoint

	StartBlock     int
	EndBlock       int
	BlocksAfterEnd int

	StartPriceSats int64
	EndPriceSats   int64
	PriceDecrement int64

	Status Status

	SpentTxID  string
	SpentBlock int
	SpentAt    time.Time
	Recipient  *chain.Address

	Seller *chain.Address

	CreatedAt time.Time
}

// PsbtStep is one block-height rung of a Listing's price ladder.
type PsbtStep struct {
	ListingID   int64
	BlockNumber int
	PriceSats   int64
	PsbtData    []byte
}

// FixedPrice reports whether this listing is the degenerate single-block
// form (invariant 4): one step, no price movement.
func (l *Listing) FixedPrice() bool {
	return l.StartBlock == l.EndBlock
}

// Spent is true once a spend observation has been classified and recorded,
// independent of whether the classification is sold or closed.
func (l *Listing) Spent() bool {
	return l.SpentTxID != ""
}
