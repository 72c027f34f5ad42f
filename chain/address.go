package chain

import (
	"encoding/json"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/pkg/errors"
)

// Address wraps a decoded Bitcoin address string. The broker never derives
// addresses from keys (it holds none); every address it handles arrives
// pre-decoded from the Chain Oracle (a seller's or recipient's
// scriptPubKey address as reported by bitcoind) or as raw user input on
// admission. Wrapping it still buys validation: NewAddress rejects a string
// that isn't a well-formed address for the configured network before it
// gets persisted as a Listing's seller or recipient.
type Address struct {
	raw     string
	decoded btcutil.Address
}

func NewAddress(s string, net *Network) (*Address, error) {
	decoded, err := btcutil.DecodeAddress(s, net.Params)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid address %q for network %s", s, net.Name)
	}
	return &Address{raw: s, decoded: decoded}, nil
}

func (a *Address) String() string {
	return a.raw
}

func (a *Address) Equal(b *Address) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.raw == b.raw
}

func (a *Address) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.raw)
}
