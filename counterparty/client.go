package counterparty

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/utxobroker/dutchbroker/chain"
	"github.com/utxobroker/dutchbroker/ghttp"
	"github.com/utxobroker/dutchbroker/oracle"
)

// Client is an oracle.AssetOracle backed by a Counterparty indexer's HTTP
// API. It's consulted exclusively during Admission.
type Client struct {
	baseURL string
	http    *ghttp.HTTPClient
}

type Config struct {
	Host string
	Port int
}

func NewClient(cfg *Config) *Client {
	return &Client{
		baseURL: fmt.Sprintf("http://%s:%d", cfg.Host, cfg.Port),
		http:    ghttp.DefaultClient,
	}
}

type balanceRes struct {
	Asset             string `json:"asset"`
	QuantityNormalized string `json:"quantity_normalized"`
	Divisible         bool   `json:"divisible"`
}

// Balances calls GET /v2/utxos/{txid}:{vout}/balances. A non-2xx response
// or a body that fails to decode as JSON means the indexer itself is
// misbehaving or misconfigured, not a transient network hiccup, so both
// are reported Fatal; only a transport-level failure (connection refused,
// timeout) is Transient and worth retrying.
func (c *Client) Balances(ctx context.Context, out *chain.Outpoint) ([]*oracle.AssetBalance, error) {
	url := fmt.Sprintf("%s/v2/utxos/%s:%d/balances", c.baseURL, out.TxIDString(), out.Index)

	var res []balanceRes
	if err := c.doGetJSON(ctx, url, &res); err != nil {
		return nil, wrapHTTPErr(err, "error fetching utxo balances")
	}

	balances := make([]*oracle.AssetBalance, len(res))
	for i, b := range res {
		qty, err := decimal.NewFromString(b.QuantityNormalized)
		if err != nil {
			return nil, oracle.NewFatalError(errors.Wrapf(err, "malformed quantity %q for asset %s", b.QuantityNormalized, b.Asset))
		}
		balances[i] = &oracle.AssetBalance{
			AssetName:    b.Asset,
			Quantity:     qty,
			Divisibility: b.Divisible,
		}
	}
	return balances, nil
}

// wrapHTTPErr classifies a ghttp.Error the way the oracle adapter contract
// requires: a non-2xx response or a response body that failed to decode
// means the indexer answered but answered badly, which won't resolve on
// retry, so it's Fatal. A transport failure -- no response body at all --
// is left Transient.
func wrapHTTPErr(err error, msg string) error {
	var httpErr *ghttp.Error
	if errors.As(err, &httpErr) && (httpErr.StatusCode != -1 || httpErr.ResponseBody != nil) {
		return oracle.NewFatalError(errors.Wrap(err, msg))
	}
	return oracle.NewTransientError(errors.Wrap(err, msg))
}

func (c *Client) doGetJSON(ctx context.Context, url string, out interface{}) error {
	done := make(chan error, 1)
	go func() {
		done <- c.http.DoGetJSON(url, out)
	}()
	if ctx == nil {
		return <-done
	}
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
