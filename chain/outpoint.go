package chain

import (
	"encoding/hex"
	"fmt"

	"github.com/pkg/errors"
)

// Outpoint identifies a UTXO by the 32-byte hash of its creating transaction
// and its output index. Hash is kept in internal (little-endian, RPC wire)
// byte order; TxIDString reverses it to the conventional display order.
type Outpoint struct {
	Hash  []byte
	Index uint32
}

func NewOutpointFromTxID(txid string, index uint32) (*Outpoint, error) {
	hash, err := hex.DecodeString(txid)
	if err != nil {
		return nil, errors.Wrap(err, "invalid txid hex")
	}
	if len(hash) != 32 {
		return nil, errors.Errorf("txid must be 32 bytes, got %d", len(hash))
	}
	reversed := make([]byte, 32)
	for i := range hash {
		reversed[i] = hash[31-i]
	}
	return &Outpoint{Hash: reversed, Index: index}, nil
}

// TxIDString renders the outpoint's transaction hash in the byte order
// block explorers and RPC calls expect (reverse of internal/wire order).
func (o *Outpoint) TxIDString() string {
	reversed := make([]byte, len(o.Hash))
	for i, b := range o.Hash {
		reversed[len(o.Hash)-1-i] = b
	}
	return hex.EncodeToString(reversed)
}

func (o *Outpoint) String() string {
	return fmt.Sprintf("%s:%d", o.TxIDString(), o.Index)
}

func (o *Outpoint) Equal(other *Outpoint) bool {
	if other == nil || len(o.Hash) != len(other.Hash) {
		return false
	}
	for i := range o.Hash {
		if o.Hash[i] != other.Hash[i] {
			return false
		}
	}
	return o.Index == other.Index
}
