// Package app wires the broker's collaborators into a single explicit
// context, constructed at startup and torn down at shutdown. There is
// no ambient global state here on purpose: every command that needs the
// store, the oracles, or the pipeline receives an *App built by New.
package app

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/tomb.v2"

	"github.com/utxobroker/dutchbroker/bitcoinrpc"
	"github.com/utxobroker/dutchbroker/config"
	"github.com/utxobroker/dutchbroker/counterparty"
	"github.com/utxobroker/dutchbroker/eventpipeline"
	"github.com/utxobroker/dutchbroker/httpapi"
	"github.com/utxobroker/dutchbroker/listing"
	"github.com/utxobroker/dutchbroker/listingdb"
	"github.com/utxobroker/dutchbroker/log"
	"github.com/utxobroker/dutchbroker/query"
)

var appLogger = log.ModuleLogger("app")

// App is the fully wired broker: a store, the two oracles, the event
// pipeline, and the HTTP handler built on top of them. Start launches
// the pipeline and the HTTP listener; Stop tears both down.
type App struct {
	cfg *config.Config
	tmb *tomb.Tomb

	Engine      *listingdb.Engine
	ChainOracle *bitcoinrpc.CompositeOracle
	AssetOracle *counterparty.Client
	Pipeline    *eventpipeline.Pipeline
	Handler     http.Handler

	server *http.Server
}

// New constructs every collaborator but starts nothing -- callers decide
// when Start runs. cmd/auctiond's migrate and listings subcommands do not
// use it; they open the store directly.
func New(cfg *config.Config) (*App, error) {
	engine, err := listingdb.NewEngine(cfg.DatabasePath, cfg.Network)
	if err != nil {
		return nil, errors.Wrap(err, "error opening database")
	}
	if err := listingdb.MigrateDB(engine); err != nil {
		return nil, errors.Wrap(err, "error migrating database")
	}

	rpcClient := bitcoinrpc.NewClient(&cfg.BitcoinRPC)

	var zmqSub *bitcoinrpc.ZMQSubscriber
	if cfg.ZMQEnabled {
		zmqSub, err = bitcoinrpc.NewZMQSubscriber(&bitcoinrpc.ZMQConfig{
			BlockAddr: cfg.ZMQBlockURL,
			TxAddr:    cfg.ZMQTxURL,
		})
		if err != nil {
			return nil, errors.Wrap(err, "error connecting to zmq")
		}
	}
	chainOracle := bitcoinrpc.NewCompositeOracle(rpcClient, zmqSub)

	assetOracle := counterparty.NewClient(&cfg.Counterparty)

	admission := &listing.Admission{
		Chain:  chainOracle,
		Assets: assetOracle,
		Store:  engine,
	}

	tmb := new(tomb.Tomb)
	pipeline := eventpipeline.NewPipeline(tmb, chainOracle, engine, &eventpipeline.Config{
		BlockPollInterval: time.Duration(cfg.BlockPollIntervalSeconds) * time.Second,
		UTXOPollInterval:  time.Duration(cfg.UTXOPollIntervalSeconds) * time.Second,
	})

	querySvc := query.New(engine, chainOracle)
	querySvc.Pipeline = pipeline
	handler := httpapi.NewAPI(querySvc, admission, cfg.Network, cfg.APIKey)

	return &App{
		cfg:         cfg,
		tmb:         tmb,
		Engine:      engine,
		ChainOracle: chainOracle,
		AssetOracle: assetOracle,
		Pipeline:    pipeline,
		Handler:     handler,
	}, nil
}

// Start launches the event pipeline and the HTTP listener. It returns
// once the listener is bound; both run in background goroutines beyond
// that point.
func (a *App) Start() error {
	if err := a.Pipeline.Start(); err != nil {
		return errors.Wrap(err, "error starting event pipeline")
	}

	a.server = &http.Server{
		Addr:    a.cfg.Addr(),
		Handler: a.Handler,
	}
	ln, err := net.Listen("tcp", a.server.Addr)
	if err != nil {
		return errors.Wrap(err, "error binding http listener")
	}

	a.tmb.Go(func() error {
		appLogger.Info("http server listening", "addr", a.cfg.Addr())
		err := a.server.Serve(ln)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	return nil
}

// Stop tears down the HTTP listener and the event pipeline, and closes
// the database. It blocks until every goroutine registered on the tomb
// has exited.
func (a *App) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if a.server != nil {
		if err := a.server.Shutdown(ctx); err != nil {
			appLogger.Warning("error shutting down http server", "err", err)
		}
	}

	a.tmb.Kill(nil)
	if err := a.tmb.Wait(); err != nil {
		appLogger.Warning("event pipeline exited with error", "err", err)
	}

	return a.Engine.Close()
}
