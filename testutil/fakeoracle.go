package testutil

import (
	"context"
	"sync"

	"github.com/utxobroker/dutchbroker/chain"
	"github.com/utxobroker/dutchbroker/oracle"
)

// FakeChainOracle is an in-memory oracle.ChainOracle for tests that need
// deterministic, injectable chain state instead of a live bitcoind. Build
// it with NewFakeChainOracle (the zero value has nil maps and channels) and
// populate the tip, UTXOs and spends through the helper setters.
type FakeChainOracle struct {
	mtx sync.Mutex

	tip    int
	utxos  map[string]*oracle.UTXOInfo
	spends map[string]*oracle.SpendingTx

	blockCh chan *oracle.BlockNotification
	txCh    chan *oracle.TxNotification
}

func NewFakeChainOracle() *FakeChainOracle {
	return &FakeChainOracle{
		utxos:   make(map[string]*oracle.UTXOInfo),
		spends:  make(map[string]*oracle.SpendingTx),
		blockCh: make(chan *oracle.BlockNotification, 16),
		txCh:    make(chan *oracle.TxNotification, 16),
	}
}

func (f *FakeChainOracle) SetTip(h int) {
	f.mtx.Lock()
	defer f.mtx.Unlock()
	f.tip = h
}

func (f *FakeChainOracle) SetUTXO(out *chain.Outpoint, info *oracle.UTXOInfo) {
	f.mtx.Lock()
	defer f.mtx.Unlock()
	f.utxos[out.String()] = info
}

func (f *FakeChainOracle) SetSpend(out *chain.Outpoint, tx *oracle.SpendingTx) {
	f.mtx.Lock()
	defer f.mtx.Unlock()
	f.spends[out.String()] = tx
	if info, ok := f.utxos[out.String()]; ok {
		info.Exists = false
	} else {
		f.utxos[out.String()] = &oracle.UTXOInfo{Exists: false}
	}
}

func (f *FakeChainOracle) Tip(ctx context.Context) (int, error) {
	f.mtx.Lock()
	defer f.mtx.Unlock()
	return f.tip, nil
}

func (f *FakeChainOracle) UTXO(ctx context.Context, out *chain.Outpoint) (*oracle.UTXOInfo, error) {
	f.mtx.Lock()
	defer f.mtx.Unlock()
	info, ok := f.utxos[out.String()]
	if !ok {
		return &oracle.UTXOInfo{Exists: false}, nil
	}
	return info, nil
}

func (f *FakeChainOracle) IsSpent(ctx context.Context, out *chain.Outpoint) (bool, error) {
	info, err := f.UTXO(ctx, out)
	if err != nil {
		return false, err
	}
	return !info.Exists, nil
}

// BatchUTXO looks up every requested outpoint against the same in-memory
// map UTXO uses, letting tests exercise the pipeline's batched sweep path
// without a real bitcoind.
func (f *FakeChainOracle) BatchUTXO(ctx context.Context, outs []*chain.Outpoint) ([]*oracle.UTXOInfo, error) {
	f.mtx.Lock()
	defer f.mtx.Unlock()
	out := make([]*oracle.UTXOInfo, len(outs))
	for i, o := range outs {
		info, ok := f.utxos[o.String()]
		if !ok {
			out[i] = &oracle.UTXOInfo{Exists: false}
			continue
		}
		out[i] = info
	}
	return out, nil
}

func (f *FakeChainOracle) SpendingTx(ctx context.Context, out *chain.Outpoint) (*oracle.SpendingTx, error) {
	f.mtx.Lock()
	defer f.mtx.Unlock()
	tx, ok := f.spends[out.String()]
	if !ok {
		return nil, oracle.ErrNotFound
	}
	return tx, nil
}

// PushBlock injects a notification into SubscribeBlocks' channel. Tests
// call this to simulate the ZMQ push path without a real subscriber.
func (f *FakeChainOracle) PushBlock(n *oracle.BlockNotification) {
	f.blockCh <- n
}

func (f *FakeChainOracle) PushTx(n *oracle.TxNotification) {
	f.txCh <- n
}

func (f *FakeChainOracle) SubscribeBlocks(ctx context.Context) (<-chan *oracle.BlockNotification, error) {
	return f.blockCh, nil
}

func (f *FakeChainOracle) SubscribeTxs(ctx context.Context) (<-chan *oracle.TxNotification, error) {
	return f.txCh, nil
}

var _ oracle.ChainOracle = (*FakeChainOracle)(nil)
var _ oracle.BatchChainOracle = (*FakeChainOracle)(nil)

// FakeAssetOracle is an in-memory oracle.AssetOracle keyed by outpoint
// string.
type FakeAssetOracle struct {
	mtx      sync.Mutex
	balances map[string][]*oracle.AssetBalance
}

func NewFakeAssetOracle() *FakeAssetOracle {
	return &FakeAssetOracle{balances: make(map[string][]*oracle.AssetBalance)}
}

func (f *FakeAssetOracle) SetBalances(out *chain.Outpoint, balances []*oracle.AssetBalance) {
	f.mtx.Lock()
	defer f.mtx.Unlock()
	f.balances[out.String()] = balances
}

func (f *FakeAssetOracle) Balances(ctx context.Context, out *chain.Outpoint) ([]*oracle.AssetBalance, error) {
	f.mtx.Lock()
	defer f.mtx.Unlock()
	return f.balances[out.String()], nil
}

var _ oracle.AssetOracle = (*FakeAssetOracle)(nil)
