// Package chain holds the small set of Bitcoin primitives the broker needs:
// network parameters, outpoints, addresses, and enough of the transaction
// wire format to pull input prevouts out of a raw ZMQ payload. It does not
// build, sign, or broadcast transactions — the broker holds no keys.
package chain

import (
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/pkg/errors"
)

// Network describes a Bitcoin network the broker can be pointed at. Unlike
// the Handshake networks this package used to describe, there are no
// auction/reveal/rollout periods to carry — a Network is just chain
// parameters plus the conventional default ports operators use for
// bitcoind's RPC and ZMQ endpoints.
type Network struct {
	Name          string
	DefaultRPCPort int
	DefaultZMQBlockPort int
	DefaultZMQTxPort    int
	Params        *chaincfg.Params
}

var NetworkMainnet = &Network{
	Name:                "main",
	DefaultRPCPort:      8332,
	DefaultZMQBlockPort: 28332,
	DefaultZMQTxPort:    28333,
	Params:              &chaincfg.MainNetParams,
}

var NetworkTestnet = &Network{
	Name:                "testnet",
	DefaultRPCPort:      18332,
	DefaultZMQBlockPort: 28332,
	DefaultZMQTxPort:    28333,
	Params:              &chaincfg.TestNet3Params,
}

var NetworkSignet = &Network{
	Name:                "signet",
	DefaultRPCPort:      38332,
	DefaultZMQBlockPort: 38332,
	DefaultZMQTxPort:    38333,
	Params:              &chaincfg.SigNetParams,
}

var NetworkRegtest = &Network{
	Name:                "regtest",
	DefaultRPCPort:      18443,
	DefaultZMQBlockPort: 28332,
	DefaultZMQTxPort:    28333,
	Params:              &chaincfg.RegressionNetParams,
}

func NetworkFromName(name string) (*Network, error) {
	switch name {
	case NetworkMainnet.Name:
		return NetworkMainnet, nil
	case NetworkTestnet.Name:
		return NetworkTestnet, nil
	case NetworkSignet.Name:
		return NetworkSignet, nil
	case NetworkRegtest.Name:
		return NetworkRegtest, nil
	default:
		return nil, errors.Errorf("unknown bitcoin network %q", name)
	}
}
