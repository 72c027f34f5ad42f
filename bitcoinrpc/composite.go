package bitcoinrpc

import (
	"context"

	"github.com/utxobroker/dutchbroker/oracle"
)

// CompositeOracle joins the RPC-backed Client (tip, UTXO lookups, spend
// scans) with an optional ZMQSubscriber (push notifications) into a single
// oracle.ChainOracle. ZMQ is optional per configuration; with it absent,
// SubscribeBlocks and SubscribeTxs return channels that are never written
// to, and the Event Pipeline's poll path remains the sole event source.
type CompositeOracle struct {
	*Client
	zmq *ZMQSubscriber
}

func NewCompositeOracle(client *Client, zmq *ZMQSubscriber) *CompositeOracle {
	return &CompositeOracle{Client: client, zmq: zmq}
}

func (c *CompositeOracle) SubscribeBlocks(ctx context.Context) (<-chan *oracle.BlockNotification, error) {
	if c.zmq == nil {
		return make(chan *oracle.BlockNotification), nil
	}
	return c.zmq.SubscribeBlocks(ctx, c.Client.Tip)
}

func (c *CompositeOracle) SubscribeTxs(ctx context.Context) (<-chan *oracle.TxNotification, error) {
	if c.zmq == nil {
		return make(chan *oracle.TxNotification), nil
	}
	return c.zmq.SubscribeTxs(ctx)
}

var _ oracle.ChainOracle = (*CompositeOracle)(nil)

// CompositeOracle inherits BatchUTXO from the embedded *Client, so the
// Event Pipeline's spend-detection sweep gets the batched round trip for
// free without any composite-specific plumbing.
var _ oracle.BatchChainOracle = (*CompositeOracle)(nil)
