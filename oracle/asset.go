package oracle

import (
	"context"

	"github.com/shopspring/decimal"
	"github.com/utxobroker/dutchbroker/chain"
)

// AssetBalance is one Counterparty asset bound to a UTXO.
type AssetBalance struct {
	AssetName    string
	Quantity     decimal.Decimal
	Divisibility bool
}

// AssetOracle is the capability set for querying the Counterparty indexer.
// It's consulted exclusively during Admission: Admission needs the full set
// of balances bound to a UTXO (not just a single asset's) so it can reject
// UTXOs carrying more than one asset.
type AssetOracle interface {
	Balances(ctx context.Context, out *chain.Outpoint) ([]*AssetBalance, error)
}
