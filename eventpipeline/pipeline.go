package eventpipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"gopkg.in/tomb.v2"

	"github.com/utxobroker/dutchbroker/chain"
	"github.com/utxobroker/dutchbroker/listing"
	"github.com/utxobroker/dutchbroker/listingdb"
	"github.com/utxobroker/dutchbroker/log"
	"github.com/utxobroker/dutchbroker/oracle"
)

var logger = log.ModuleLogger("eventpipeline")

// Store is the subset of the Listing Store the pipeline needs to sweep
// non-terminal listings and record transitions. Kept minimal, like
// listing.Admission's Store, so tests can inject a fake instead of a
// real sqlite engine.
type Store interface {
	NonTerminalListings(ctx context.Context) ([]*listing.Listing, error)
	ListingsWatchingUTXO(ctx context.Context, out *chain.Outpoint) ([]*listing.Listing, error)
	StepsFor(ctx context.Context, listingID int64) ([]*listing.PsbtStep, error)
	UpdateStatus(ctx context.Context, id int64, newStatus listing.Status, spend *listingdb.SpendFields) error
}

// Config sets the two poll intervals; §6 defaults both to 5 minutes.
type Config struct {
	BlockPollInterval time.Duration
	UTXOPollInterval  time.Duration
	CoalesceWindow    time.Duration
	OracleTimeout     time.Duration
}

func (c *Config) withDefaults() *Config {
	out := *c
	if out.BlockPollInterval == 0 {
		out.BlockPollInterval = 5 * time.Minute
	}
	if out.UTXOPollInterval == 0 {
		out.UTXOPollInterval = 5 * time.Minute
	}
	if out.CoalesceWindow == 0 {
		out.CoalesceWindow = 2 * time.Second
	}
	if out.OracleTimeout == 0 {
		out.OracleTimeout = 30 * time.Second
	}
	return &out
}

// Pipeline is the Event Pipeline of §4.7: two redundant event sources
// (push subscriptions and periodic polls) that both funnel into the same
// pure State Engine call. Neither source is authoritative on its own --
// push may drop messages silently, poll is slower but always eventually
// runs -- so both are always active at once, never one in place of the
// other.
type Pipeline struct {
	tmb      *tomb.Tomb
	chain    oracle.ChainOracle
	store    Store
	cfg      *Config
	coalesce *coalescer

	mtx                sync.Mutex
	lastBlockPollAt    time.Time
	lastSpendPollAt    time.Time
	blockPushConnected bool
	txPushConnected    bool
}

// Status is a snapshot of the pipeline's own liveness, served by the
// health endpoint so an operator can tell a silently-stalled poll loop
// from a healthy one instead of inferring it from listing behavior.
type Status struct {
	LastBlockPollAt    time.Time
	LastSpendPollAt    time.Time
	BlockPushConnected bool
	TxPushConnected    bool
}

func (p *Pipeline) Status() Status {
	p.mtx.Lock()
	defer p.mtx.Unlock()
	return Status{
		LastBlockPollAt:    p.lastBlockPollAt,
		LastSpendPollAt:    p.lastSpendPollAt,
		BlockPushConnected: p.blockPushConnected,
		TxPushConnected:    p.txPushConnected,
	}
}

func NewPipeline(tmb *tomb.Tomb, chainOracle oracle.ChainOracle, store Store, cfg *Config) *Pipeline {
	return &Pipeline{
		tmb:      tmb,
		chain:    chainOracle,
		store:    store,
		cfg:      cfg.withDefaults(),
		coalesce: newCoalescer(),
	}
}

// Start launches the push subscriber loops and the two poll tickers as
// tomb-managed goroutines. Before doing that it runs one full block-driven
// sweep and one full spend-detection sweep synchronously, so a listing
// whose state should have advanced while the process was down doesn't sit
// waiting for the first ticker instead of the process's own startup.
// Start returns once everything is launched; it does not block until
// shutdown.
func (p *Pipeline) Start() error {
	blockCh, err := p.chain.SubscribeBlocks(context.Background())
	if err != nil {
		return errors.Wrap(err, "error subscribing to blocks")
	}
	txCh, err := p.chain.SubscribeTxs(context.Background())
	if err != nil {
		return errors.Wrap(err, "error subscribing to txs")
	}
	p.mtx.Lock()
	p.blockPushConnected = true
	p.txPushConnected = true
	p.mtx.Unlock()

	logger.Info("running startup sweep")
	p.pollBlocks()
	p.pollSpends()

	p.tmb.Go(func() error { return p.runBlockPush(blockCh) })
	p.tmb.Go(func() error { return p.runTxPush(txCh) })
	p.tmb.Go(func() error { return p.runBlockPoll() })
	p.tmb.Go(func() error { return p.runSpendPoll() })

	return nil
}

func (p *Pipeline) runBlockPush(ch <-chan *oracle.BlockNotification) error {
	for {
		select {
		case n, ok := <-ch:
			if !ok {
				p.mtx.Lock()
				p.blockPushConnected = false
				p.mtx.Unlock()
				return nil
			}
			logger.Debug("push: new block", "height", n.Height)
			p.coalesce.schedule("block-sweep", p.cfg.CoalesceWindow, func() {
				p.sweepAllForTip(n.Height)
			})
		case <-p.tmb.Dying():
			return nil
		}
	}
}

func (p *Pipeline) runTxPush(ch <-chan *oracle.TxNotification) error {
	for {
		select {
		case n, ok := <-ch:
			if !ok {
				p.mtx.Lock()
				p.txPushConnected = false
				p.mtx.Unlock()
				return nil
			}
			p.handleTxNotification(n)
		case <-p.tmb.Dying():
			return nil
		}
	}
}

func (p *Pipeline) handleTxNotification(n *oracle.TxNotification) {
	ctx, cancel := context.WithTimeout(context.Background(), p.cfg.OracleTimeout)
	defer cancel()

	for _, in := range n.Inputs {
		listings, err := p.store.ListingsWatchingUTXO(ctx, in)
		if err != nil {
			logger.Error("error looking up listings watching utxo", "err", err, "utxo", in.String())
			continue
		}
		for _, l := range listings {
			id := l.ID
			p.coalesce.schedule(coalesceKeyForListing(id), p.cfg.CoalesceWindow, func() {
				p.evaluateSpend(id)
			})
		}
	}
}

func (p *Pipeline) runBlockPoll() error {
	tick := time.NewTicker(p.cfg.BlockPollInterval)
	defer tick.Stop()
	for {
		select {
		case <-tick.C:
			p.pollBlocks()
		case <-p.tmb.Dying():
			return nil
		}
	}
}

func (p *Pipeline) pollBlocks() {
	ctx, cancel := context.WithTimeout(context.Background(), p.cfg.OracleTimeout)
	defer cancel()

	tip, err := p.chain.Tip(ctx)
	if err != nil {
		logger.Error("poll: error fetching tip", "err", err)
		return
	}
	p.mtx.Lock()
	p.lastBlockPollAt = time.Now()
	p.mtx.Unlock()
	p.sweepAllForTip(tip)
}

func (p *Pipeline) sweepAllForTip(tip int) {
	ctx, cancel := context.WithTimeout(context.Background(), p.cfg.OracleTimeout)
	defer cancel()

	listings, err := p.store.NonTerminalListings(ctx)
	if err != nil {
		logger.Error("error listing non-terminal listings", "err", err)
		return
	}
	for _, l := range listings {
		p.evaluate(ctx, l, tip, nil)
	}
}

func (p *Pipeline) runSpendPoll() error {
	tick := time.NewTicker(p.cfg.UTXOPollInterval)
	defer tick.Stop()
	for {
		select {
		case <-tick.C:
			p.pollSpends()
		case <-p.tmb.Dying():
			return nil
		}
	}
}

func (p *Pipeline) pollSpends() {
	ctx, cancel := context.WithTimeout(context.Background(), p.cfg.OracleTimeout)
	defer cancel()

	listings, err := p.store.NonTerminalListings(ctx)
	if err != nil {
		logger.Error("error listing non-terminal listings", "err", err)
		return
	}

	tip, err := p.chain.Tip(ctx)
	if err != nil {
		logger.Error("poll: error fetching tip", "err", err)
		return
	}
	p.mtx.Lock()
	p.lastSpendPollAt = time.Now()
	p.mtx.Unlock()

	infos, err := p.utxoInfoForAll(ctx, listings)
	if err != nil {
		logger.Error("error batch checking utxo spends", "err", err)
		return
	}

	for i, l := range listings {
		info := infos[i]
		if info == nil {
			// a transient per-listing lookup error; retry next tick.
			continue
		}
		if info.Exists {
			p.evaluate(ctx, l, tip, nil)
			continue
		}

		spendTx, err := p.chain.SpendingTx(ctx, l.UTXO)
		if err != nil {
			logger.Error("utxo reported spent but spending tx lookup failed", "err", err, "listing_id", l.ID)
			continue
		}
		p.evaluate(ctx, l, tip, toObservation(spendTx))
	}
}

// utxoInfoForAll resolves every listing's UTXO state in a single round
// trip when the chain oracle supports BatchChainOracle (bitcoinrpc.Client
// does, via a JSON-RPC batch call), and falls back to one IsSpent call per
// listing otherwise. A nil entry means a transient per-listing error; the
// caller retries that listing next tick rather than failing the sweep.
func (p *Pipeline) utxoInfoForAll(ctx context.Context, listings []*listing.Listing) ([]*oracle.UTXOInfo, error) {
	outs := make([]*chain.Outpoint, len(listings))
	for i, l := range listings {
		outs[i] = l.UTXO
	}

	if batcher, ok := p.chain.(oracle.BatchChainOracle); ok {
		return batcher.BatchUTXO(ctx, outs)
	}

	infos := make([]*oracle.UTXOInfo, len(listings))
	for i, l := range listings {
		spent, err := p.chain.IsSpent(ctx, l.UTXO)
		if err != nil {
			if oracle.IsTransient(err) {
				logger.Debug("transient error checking spend, will retry next tick", "listing_id", l.ID)
				continue
			}
			logger.Error("fatal error checking spend", "err", err, "listing_id", l.ID)
			continue
		}
		infos[i] = &oracle.UTXOInfo{Exists: !spent}
	}
	return infos, nil
}

// evaluateSpend re-fetches a single listing's current state and checks
// its UTXO for a spend, used by the tx push path where we already know
// which listing to look at but the push notification itself carries no
// spend classification detail (only that the outpoint moved).
func (p *Pipeline) evaluateSpend(listingID int64) {
	ctx, cancel := context.WithTimeout(context.Background(), p.cfg.OracleTimeout)
	defer cancel()

	listings, err := p.store.NonTerminalListings(ctx)
	if err != nil {
		logger.Error("error listing non-terminal listings", "err", err)
		return
	}
	var l *listing.Listing
	for _, cand := range listings {
		if cand.ID == listingID {
			l = cand
			break
		}
	}
	if l == nil {
		return
	}

	tip, err := p.chain.Tip(ctx)
	if err != nil {
		logger.Error("push: error fetching tip", "err", err)
		return
	}

	spendTx, err := p.chain.SpendingTx(ctx, l.UTXO)
	if err != nil {
		if errors.Is(err, oracle.ErrNotFound) {
			// the notified tx wasn't (yet) discoverable via the spend
			// scan; the poll path will catch it eventually.
			p.evaluate(ctx, l, tip, nil)
			return
		}
		logger.Error("error resolving spending tx", "err", err, "listing_id", l.ID)
		return
	}
	p.evaluate(ctx, l, tip, toObservation(spendTx))
}

func toObservation(spendTx *oracle.SpendingTx) *listing.SpendObservation {
	obs := &listing.SpendObservation{
		TxID:        spendTx.TxID,
		BlockHeight: spendTx.BlockHeight,
	}
	for _, out := range spendTx.Outputs {
		obs.Outputs = append(obs.Outputs, &listing.SpendingOutput{
			ValueSats: out.ValueSats,
			Address:   out.Address,
		})
	}
	return obs
}

// evaluate runs the pure State Engine against one listing's current
// persisted step ladder and persists the result. It is the single choke
// point both the push and poll paths funnel through.
func (p *Pipeline) evaluate(ctx context.Context, l *listing.Listing, tip int, spend *listing.SpendObservation) {
	steps, err := p.store.StepsFor(ctx, l.ID)
	if err != nil {
		logger.Error("error loading steps", "err", err, "listing_id", l.ID)
		return
	}

	tr := listing.Apply(l, steps, tip, spend)
	if !tr.Changed {
		return
	}

	var sf *listingdb.SpendFields
	if tr.SpentTxID != "" {
		sf = &listingdb.SpendFields{
			SpentTxID:  tr.SpentTxID,
			SpentBlock: tr.SpentBlock,
			SpentAt:    tr.SpentAt,
			Recipient:  tr.Recipient,
		}
	}

	if err := p.store.UpdateStatus(ctx, l.ID, tr.NextStatus, sf); err != nil {
		if errors.Is(err, listing.ErrStoreConflict) {
			logger.Debug("store rejected transition, already applied by a racing sweep", "listing_id", l.ID)
			return
		}
		logger.Error("error persisting transition", "err", err, "listing_id", l.ID)
		return
	}
	logger.Info("listing transitioned", "listing_id", l.ID, "status", tr.NextStatus)
}

func coalesceKeyForListing(id int64) string {
	return fmt.Sprintf("listing-%d", id)
}

// coalescer debounces repeated triggers for the same key within window
// into a single call, per §4.7's optional coalescing allowance. Each
// scheduled call is tagged with a fresh token; if a newer call for the
// same key arrives before the window elapses, the stale token loses the
// race and its call is dropped.
type coalescer struct {
	mtx     sync.Mutex
	pending map[string]string
}

func newCoalescer() *coalescer {
	return &coalescer{pending: make(map[string]string)}
}

func (c *coalescer) schedule(key string, window time.Duration, fn func()) {
	token := uuid.NewString()
	c.mtx.Lock()
	c.pending[key] = token
	c.mtx.Unlock()

	time.AfterFunc(window, func() {
		c.mtx.Lock()
		current, ok := c.pending[key]
		fire := ok && current == token
		if fire {
			delete(c.pending, key)
		}
		c.mtx.Unlock()
		if fire {
			fn()
		}
	})
}
