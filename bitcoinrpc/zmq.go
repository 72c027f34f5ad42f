package bitcoinrpc

import (
	"context"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/lightninglabs/gozmq"
	"github.com/pkg/errors"

	"github.com/utxobroker/dutchbroker/chain"
	"github.com/utxobroker/dutchbroker/log"
	"github.com/utxobroker/dutchbroker/oracle"
)

var logger = log.ModuleLogger("bitcoinrpc")

// ZMQSubscriber is the push half of the Chain Oracle: it wraps bitcoind's
// rawblock and rawtx ZMQ publishers. It never appears alone; it's wired
// alongside Client into a single oracle.ChainOracle by app.New.
type ZMQSubscriber struct {
	client *gozmq.Client
}

// ZMQConfig holds the two publisher endpoints. Either may be empty; a
// caller that finds ZMQEnabled=false in configuration should not construct
// a ZMQSubscriber at all and should rely on the poll path exclusively.
type ZMQConfig struct {
	BlockAddr string
	TxAddr    string
}

func NewZMQSubscriber(cfg *ZMQConfig) (*ZMQSubscriber, error) {
	client, err := gozmq.NewSubscriber(cfg.BlockAddr, cfg.TxAddr, true, defaultPollInterval, defaultPollInterval)
	if err != nil {
		return nil, errors.Wrap(err, "error connecting to zmq publishers")
	}
	return &ZMQSubscriber{client: client}, nil
}

const defaultPollInterval = 0

func (s *ZMQSubscriber) Close() error {
	return s.client.Close()
}

// SubscribeBlocks re-derives height via RPC on every rawblock notification,
// since the raw block payload doesn't self-report height and the State
// Engine only needs the height, not the block's transactions.
func (s *ZMQSubscriber) SubscribeBlocks(ctx context.Context, tipFn func(context.Context) (int, error)) (<-chan *oracle.BlockNotification, error) {
	out := make(chan *oracle.BlockNotification)
	go func() {
		defer close(out)
		raw := s.client.RawBlocks()
		for {
			select {
			case <-ctx.Done():
				return
			case blockBytes, ok := <-raw:
				if !ok {
					return
				}
				hash := blockHeaderHash(blockBytes)
				height, err := tipFn(ctx)
				if err != nil {
					logger.Warning("error re-deriving tip after zmq block notification", "err", err)
					continue
				}
				select {
				case out <- &oracle.BlockNotification{Height: height, Hash: hash}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// SubscribeTxs parses each rawtx payload's input outpoints using the
// lightweight parser in chain.ParseRawTxInputs rather than a full
// transaction decode, since the Event Pipeline only ever needs to know
// which outpoints a broadcast transaction spends.
func (s *ZMQSubscriber) SubscribeTxs(ctx context.Context) (<-chan *oracle.TxNotification, error) {
	out := make(chan *oracle.TxNotification)
	go func() {
		defer close(out)
		raw := s.client.RawTransactions()
		for {
			select {
			case <-ctx.Done():
				return
			case txBytes, ok := <-raw:
				if !ok {
					return
				}
				parsed, err := chain.ParseRawTxInputs(txBytes)
				if err != nil {
					logger.Warning("error parsing zmq rawtx payload", "err", err)
					continue
				}
				notif := &oracle.TxNotification{
					TxID:   legacyTxid(txBytes),
					Inputs: parsed.Inputs,
				}
				select {
				case out <- notif:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// blockHeaderHash double-SHA256es the 80-byte block header, which is
// always the prefix of a rawblock payload, giving the block hash in
// display (reversed) byte order.
func blockHeaderHash(raw []byte) string {
	if len(raw) < 80 {
		return ""
	}
	h := chainhash.DoubleHashH(raw[:80])
	return h.String()
}

// legacyTxid computes the txid for a non-segwit transaction by
// double-SHA256ing the raw payload directly. For a segwit transaction
// (marker byte 0x00 immediately after the 4-byte version) this shortcut
// doesn't hold — computing the true txid requires re-serializing without
// the witness data, which isn't needed for outpoint intersection, so
// segwit payloads report an empty txid here.
func legacyTxid(raw []byte) string {
	if len(raw) > 5 && raw[4] == 0x00 && raw[5] == 0x01 {
		return ""
	}
	h := chainhash.DoubleHashH(raw)
	return h.String()
}
