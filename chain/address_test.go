package chain

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewAddress(t *testing.T) {
	tests := []struct {
		name    string
		addr    string
		network *Network
		wantErr bool
	}{
		{"mainnet bech32", "bc1qar0srrr7xfkvy5l643lydnw9re59gtzzwf5mdq", NetworkMainnet, false},
		{"mainnet legacy p2pkh", "1BvBMSEYstWetqTFn5Au4m4GFg7xJaNVN2", NetworkMainnet, false},
		{"testnet address on mainnet", "mipcBbFg9gMiCh81Kj8tqqdgoZub1ZJRfn", NetworkMainnet, true},
		{"garbage", "not-an-address", NetworkMainnet, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			addr, err := NewAddress(tt.addr, tt.network)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.addr, addr.String())
		})
	}
}

func TestAddress_Equal(t *testing.T) {
	a, err := NewAddress("bc1qar0srrr7xfkvy5l643lydnw9re59gtzzwf5mdq", NetworkMainnet)
	require.NoError(t, err)
	b, err := NewAddress("bc1qar0srrr7xfkvy5l643lydnw9re59gtzzwf5mdq", NetworkMainnet)
	require.NoError(t, err)
	c, err := NewAddress("1BvBMSEYstWetqTFn5Au4m4GFg7xJaNVN2", NetworkMainnet)
	require.NoError(t, err)

	require.True(t, a.Equal(b))
	require.False(t, a.Equal(c))
}
