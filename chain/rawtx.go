package chain

import (
	"bytes"
	"io"

	"github.com/pkg/errors"
	"github.com/utxobroker/dutchbroker/bio"
)

// RawTx is the minimal decode of a serialized Bitcoin transaction the Event
// Pipeline's push path needs: just the outpoints it spends. Full decoding
// (outputs, witnesses, classification) always happens through the Chain
// Oracle's RPC-backed SpendingTx, which returns bitcoind's own JSON
// decode — this exists only to answer "does this just-broadcast
// transaction touch one of our watched UTXOs?" without a round trip.
type RawTx struct {
	Inputs []*Outpoint
}

// ParseRawTxInputs reads just enough of a serialized transaction (as
// delivered on the ZMQ rawtx topic) to recover its input prevouts. It
// understands the segwit marker/flag but does not decode witness data,
// outputs, or locktime, since none of that is needed here.
func ParseRawTxInputs(raw []byte) (*RawTx, error) {
	r := bytes.NewReader(raw)

	if _, err := bio.ReadUint32LE(r); err != nil { // version
		return nil, errors.Wrap(err, "error reading tx version")
	}

	firstByte, err := bio.ReadByte(r)
	if err != nil {
		return nil, errors.Wrap(err, "error reading input count")
	}

	var inputCount uint64
	if firstByte == 0x00 {
		// segwit marker; next byte is the flag, must be non-zero.
		flag, err := bio.ReadByte(r)
		if err != nil {
			return nil, errors.Wrap(err, "error reading segwit flag")
		}
		if flag == 0x00 {
			return nil, errors.New("invalid segwit flag")
		}
		inputCount, err = bio.ReadVarint(r)
		if err != nil {
			return nil, errors.Wrap(err, "error reading input count")
		}
	} else {
		inputCount, err = readVarintFromFirstByte(r, firstByte)
		if err != nil {
			return nil, errors.Wrap(err, "error reading input count")
		}
	}

	inputs := make([]*Outpoint, 0, inputCount)
	for i := uint64(0); i < inputCount; i++ {
		hash, err := bio.ReadFixedBytes(r, 32)
		if err != nil {
			return nil, errors.Wrap(err, "error reading prevout hash")
		}
		index, err := bio.ReadUint32LE(r)
		if err != nil {
			return nil, errors.Wrap(err, "error reading prevout index")
		}
		if _, err := bio.ReadVarBytes(r); err != nil { // scriptSig
			return nil, errors.Wrap(err, "error reading scriptSig")
		}
		if _, err := bio.ReadUint32LE(r); err != nil { // sequence
			return nil, errors.Wrap(err, "error reading sequence")
		}
		inputs = append(inputs, &Outpoint{Hash: hash, Index: index})
	}

	return &RawTx{Inputs: inputs}, nil
}

// readVarintFromFirstByte finishes decoding a CompactSize varint whose
// first byte has already been consumed (needed because the segwit marker
// check requires peeking that byte first).
func readVarintFromFirstByte(r io.Reader, first byte) (uint64, error) {
	if first < 0xfd {
		return uint64(first), nil
	}
	rest := io.MultiReader(bytes.NewReader([]byte{first}), r)
	return bio.ReadVarint(rest)
}
