package chain

import (
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/require"
)

// A legacy (non-segwit) 1-input, 1-output transaction: version, input
// count=1, prevout hash (32 zero bytes for readability), prevout index=7,
// empty scriptSig, sequence, output count=1, value=0, empty scriptPubKey,
// locktime=0.
func buildLegacyTx(prevoutIndex uint32) []byte {
	b := []byte{}
	b = append(b, 0x01, 0x00, 0x00, 0x00) // version 1
	b = append(b, 0x01)                   // input count
	b = append(b, make([]byte, 32)...)    // prevout hash
	idx := make([]byte, 4)
	idx[0] = byte(prevoutIndex)
	b = append(b, idx...)
	b = append(b, 0x00)                   // empty scriptSig
	b = append(b, 0xff, 0xff, 0xff, 0xff) // sequence
	b = append(b, 0x01)                   // output count
	b = append(b, make([]byte, 8)...)     // value
	b = append(b, 0x00)                   // empty scriptPubKey
	b = append(b, 0x00, 0x00, 0x00, 0x00) // locktime
	return b
}

func TestParseRawTxInputs_Legacy(t *testing.T) {
	raw := buildLegacyTx(7)
	tx, err := ParseRawTxInputs(raw)
	require.NoError(t, err)
	require.Len(t, tx.Inputs, 1)
	require.Equal(t, uint32(7), tx.Inputs[0].Index)
	require.Equal(t, hex.EncodeToString(make([]byte, 32)), hex.EncodeToString(tx.Inputs[0].Hash))
}

func TestParseRawTxInputs_SegwitMarker(t *testing.T) {
	b := []byte{0x02, 0x00, 0x00, 0x00} // version 2
	b = append(b, 0x00, 0x01)           // segwit marker + flag
	b = append(b, 0x02)                 // input count
	for i := 0; i < 2; i++ {
		b = append(b, make([]byte, 32)...)
		idx := make([]byte, 4)
		idx[0] = byte(i)
		b = append(b, idx...)
		b = append(b, 0x00) // empty scriptSig
		b = append(b, 0xff, 0xff, 0xff, 0xff)
	}
	// we stop parsing before outputs/witnesses/locktime, so nothing more is needed.

	tx, err := ParseRawTxInputs(b)
	require.NoError(t, err)
	require.Len(t, tx.Inputs, 2)
	require.Equal(t, uint32(0), tx.Inputs[0].Index)
	require.Equal(t, uint32(1), tx.Inputs[1].Index)
}

func TestParseRawTxInputs_Truncated(t *testing.T) {
	_, err := ParseRawTxInputs([]byte{0x01, 0x00})
	require.Error(t, err)
}
