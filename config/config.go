// Package config loads the broker's configuration from the environment
// via viper. Every key in §6's enumerated configuration table has a
// corresponding env var, all under the DUTCHBROKER_ prefix.
package config

import (
	"fmt"

	"github.com/pkg/errors"
	logrus "github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"github.com/utxobroker/dutchbroker/bitcoinrpc"
	"github.com/utxobroker/dutchbroker/chain"
	"github.com/utxobroker/dutchbroker/counterparty"
)

const envPrefix = "DUTCHBROKER"

const (
	keyAPIKey               = "API_KEY"
	keyNetwork              = "NETWORK"
	keyBitcoinRPCHost       = "BITCOIN_RPC_HOST"
	keyBitcoinRPCPort       = "BITCOIN_RPC_PORT"
	keyBitcoinRPCUser       = "BITCOIN_RPC_USER"
	keyBitcoinRPCPassword   = "BITCOIN_RPC_PASSWORD"
	keyZMQBlockURL          = "ZMQ_BLOCK_URL"
	keyZMQTxURL             = "ZMQ_TX_URL"
	keyZMQEnabled           = "ZMQ_ENABLED"
	keyCounterpartyHost     = "COUNTERPARTY_HOST"
	keyCounterpartyPort     = "COUNTERPARTY_PORT"
	keyDatabasePath         = "DATABASE_PATH"
	keyBlockPollIntervalSecs = "BLOCK_POLL_INTERVAL_SECONDS"
	keyUTXOPollIntervalSecs = "UTXO_POLL_INTERVAL_SECONDS"
	keyListenHost           = "LISTEN_HOST"
	keyListenPort           = "LISTEN_PORT"
	keyLogLevel             = "LOG_LEVEL"
)

// Config is the fully resolved, immutable configuration an App is built
// from. It carries constructed sub-configs (bitcoinrpc.Config,
// counterparty.Config) rather than raw fields so app.New can hand them
// straight to the client constructors.
type Config struct {
	APIKey  string
	Network *chain.Network

	BitcoinRPC bitcoinrpc.Config

	ZMQEnabled  bool
	ZMQBlockURL string
	ZMQTxURL    string

	Counterparty counterparty.Config

	DatabasePath string

	BlockPollIntervalSeconds int
	UTXOPollIntervalSeconds  int

	ListenHost string
	ListenPort int
}

// Addr is the listen address serve() binds to.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.ListenHost, c.ListenPort)
}

func LoadConfig() (*Config, error) {
	viper.SetEnvPrefix(envPrefix)
	viper.AutomaticEnv()

	viper.SetDefault(keyNetwork, chain.NetworkMainnet.Name)
	viper.SetDefault(keyZMQEnabled, true)
	viper.SetDefault(keyDatabasePath, "dutchbroker.db")
	viper.SetDefault(keyBlockPollIntervalSecs, 300)
	viper.SetDefault(keyUTXOPollIntervalSecs, 300)
	viper.SetDefault(keyListenHost, "127.0.0.1")
	viper.SetDefault(keyListenPort, 8080)
	viper.SetDefault(keyLogLevel, logrus.InfoLevel.String())

	net, err := chain.NetworkFromName(viper.GetString(keyNetwork))
	if err != nil {
		return nil, errors.Wrap(err, "invalid network")
	}

	level, err := logrus.ParseLevel(viper.GetString(keyLogLevel))
	if err != nil {
		return nil, errors.Wrap(err, "invalid log level")
	}
	logrus.SetLevel(level)

	if viper.GetString(keyDatabasePath) == "" {
		return nil, errors.New("database_path is required")
	}
	if viper.GetString(keyBitcoinRPCHost) == "" {
		return nil, errors.New("bitcoin_rpc_host is required")
	}
	if viper.GetString(keyCounterpartyHost) == "" {
		return nil, errors.New("counterparty_host is required")
	}

	cfg := &Config{
		APIKey:  viper.GetString(keyAPIKey),
		Network: net,
		BitcoinRPC: bitcoinrpc.Config{
			Host:     viper.GetString(keyBitcoinRPCHost),
			Port:     viper.GetInt(keyBitcoinRPCPort),
			User:     viper.GetString(keyBitcoinRPCUser),
			Password: viper.GetString(keyBitcoinRPCPassword),
			Network:  net,
		},
		ZMQEnabled:  viper.GetBool(keyZMQEnabled),
		ZMQBlockURL: viper.GetString(keyZMQBlockURL),
		ZMQTxURL:    viper.GetString(keyZMQTxURL),
		Counterparty: counterparty.Config{
			Host: viper.GetString(keyCounterpartyHost),
			Port: viper.GetInt(keyCounterpartyPort),
		},
		DatabasePath:             viper.GetString(keyDatabasePath),
		BlockPollIntervalSeconds: viper.GetInt(keyBlockPollIntervalSecs),
		UTXOPollIntervalSeconds:  viper.GetInt(keyUTXOPollIntervalSecs),
		ListenHost:               viper.GetString(keyListenHost),
		ListenPort:               viper.GetInt(keyListenPort),
	}

	if cfg.BitcoinRPC.Port == 0 {
		cfg.BitcoinRPC.Port = net.DefaultRPCPort
	}

	if cfg.ZMQEnabled && (cfg.ZMQBlockURL == "" || cfg.ZMQTxURL == "") {
		return nil, errors.New("zmq_enabled is true but zmq_block_url/zmq_tx_url are not both set")
	}

	return cfg, nil
}
