package oracle

import (
	"context"

	"github.com/utxobroker/dutchbroker/chain"
)

// UTXOInfo is the Chain Oracle's answer to "does this outpoint exist, and
// what does it look like right now." Confirmations is carried explicitly
// (rather than derived by callers from tip - height) so that admission's
// "at least 1 confirmation" check reads directly off the oracle response.
type UTXOInfo struct {
	Exists        bool
	Confirmations int
	ValueSats     int64
	Address       *chain.Address
}

// SpendingOutput is one output of a transaction that spent a watched UTXO.
type SpendingOutput struct {
	ValueSats int64
	Address   *chain.Address
}

// SpendingTx is the transaction the Chain Oracle located as having consumed
// a given outpoint.
type SpendingTx struct {
	TxID        string
	BlockHeight int
	Outputs     []*SpendingOutput
	Inputs      []*chain.Outpoint
}

// BlockNotification carries a newly-connected tip as observed on the push
// path. Height is re-derived via RPC since the raw ZMQ block payload alone
// doesn't self-report its height.
type BlockNotification struct {
	Height int
	Hash   string
}

// TxNotification carries the input outpoints of a transaction observed on
// the push path, before it's known whether any of them touch a watched
// UTXO — that intersection is the Event Pipeline's job, not the oracle's.
type TxNotification struct {
	TxID   string
	Inputs []*chain.Outpoint
}

// ChainOracle is the capability set the rest of the system depends on for
// Bitcoin chain state. Every method may return an *Error of KindTransient
// (network, timeout) or KindFatal (auth, malformed response); callers use
// IsTransient to decide whether a retry on the next tick is warranted.
//
// Implementations MUST honor ctx cancellation/deadline as the per-call
// timeout described by the concurrency model: a context deadline expiring
// mid-call is surfaced as a Transient error, never as a Fatal one.
type ChainOracle interface {
	// Tip returns the current best-chain height.
	Tip(ctx context.Context) (int, error)

	// UTXO reports the state of a single outpoint. It does not return
	// ErrUTXOMissing; a missing UTXO is reported via UTXOInfo.Exists=false
	// so that callers don't need error-type switches for the common case.
	UTXO(ctx context.Context, out *chain.Outpoint) (*UTXOInfo, error)

	// IsSpent is a convenience wrapper: true iff UTXO(...) reports the
	// outpoint as no longer existing in the unspent set.
	IsSpent(ctx context.Context, out *chain.Outpoint) (bool, error)

	// SpendingTx locates the transaction that consumed out. Returns
	// ErrNotFound if no such confirmed transaction can be located.
	SpendingTx(ctx context.Context, out *chain.Outpoint) (*SpendingTx, error)

	// SubscribeBlocks returns a channel of new-tip notifications. The channel is closed when the subscription ends
	// (either via ctx cancellation or an unrecoverable transport error).
	SubscribeBlocks(ctx context.Context) (<-chan *BlockNotification, error)

	// SubscribeTxs returns a channel of newly broadcast transactions, each
	// pre-parsed down to its input outpoints.
	SubscribeTxs(ctx context.Context) (<-chan *TxNotification, error)
}

// BatchChainOracle is an optional capability a ChainOracle implementation
// may provide: resolving many outpoints in a single round trip instead of
// one call per outpoint. Callers doing a sweep over N listings should type
// assert for it and fall back to per-outpoint calls when absent.
type BatchChainOracle interface {
	BatchUTXO(ctx context.Context, outs []*chain.Outpoint) ([]*UTXOInfo, error)
}
