// Package itest drives the broker end to end through its HTTP surface
// and event pipeline, against a real sqlite-backed store and the fake
// oracles from testutil. These are the seed scenarios enumerated in
// the transition-table section of the design docs.
package itest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gopkg.in/tomb.v2"

	"github.com/utxobroker/dutchbroker/chain"
	"github.com/utxobroker/dutchbroker/eventpipeline"
	"github.com/utxobroker/dutchbroker/httpapi"
	"github.com/utxobroker/dutchbroker/listing"
	"github.com/utxobroker/dutchbroker/listingdb"
	"github.com/utxobroker/dutchbroker/oracle"
	"github.com/utxobroker/dutchbroker/query"
	"github.com/utxobroker/dutchbroker/testutil"
)

type harness struct {
	handler http.Handler
	engine  *listingdb.Engine
	chain   *testutil.FakeChainOracle
	assets  *testutil.FakeAssetOracle
}

func newHarness(t *testing.T, tip int) *harness {
	engine, err := listingdb.NewEngine(filepath.Join(t.TempDir(), "listings.db"), chain.NetworkMainnet)
	require.NoError(t, err)
	require.NoError(t, listingdb.MigrateDB(engine))
	t.Cleanup(func() { _ = engine.Close() })

	chainOracle := testutil.NewFakeChainOracle()
	chainOracle.SetTip(tip)
	assetOracle := testutil.NewFakeAssetOracle()

	admission := &listing.Admission{Chain: chainOracle, Assets: assetOracle, Store: engine}
	q := query.New(engine, chainOracle)

	tmb := new(tomb.Tomb)
	p := eventpipeline.NewPipeline(tmb, chainOracle, engine, &eventpipeline.Config{
		BlockPollInterval: 10 * time.Millisecond,
		UTXOPollInterval:  10 * time.Millisecond,
		CoalesceWindow:    5 * time.Millisecond,
	})
	q.Pipeline = p
	require.NoError(t, p.Start())
	t.Cleanup(func() {
		tmb.Kill(nil)
		_ = tmb.Wait()
	})

	handler := httpapi.NewAPI(q, admission, chain.NetworkMainnet, "")

	return &harness{handler: handler, engine: engine, chain: chainOracle, assets: assetOracle}
}

func (h *harness) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	var reader *strings.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = strings.NewReader(string(b))
	} else {
		reader = strings.NewReader("")
	}
	req := httptest.NewRequest(method, path, reader)
	rr := httptest.NewRecorder()
	h.handler.ServeHTTP(rr, req)
	return rr
}

func (h *harness) seedUTXO(t *testing.T, txid string, vout uint32, assetName, qty string) *chain.Outpoint {
	out, err := chain.NewOutpointFromTxID(txid, vout)
	require.NoError(t, err)
	seller, err := chain.NewAddress("1BvBMSEYstWetqTFn5Au4m4GFg7xJaNVN2", chain.NetworkMainnet)
	require.NoError(t, err)
	h.chain.SetUTXO(out, &oracle.UTXOInfo{Exists: true, Confirmations: 6, Address: seller})
	h.assets.SetBalances(out, []*oracle.AssetBalance{
		{AssetName: assetName, Quantity: decimal.RequireFromString(qty)},
	})
	return out
}

func stepReq(block int, price int64) *httpapi.AdmitStepReq {
	return &httpapi.AdmitStepReq{
		BlockNumber: block,
		PriceSats:   price,
		PsbtData:    validPsbtB64(),
	}
}

func validPsbtB64() string {
	return "cHNidP8B"
}

func statusOf(t *testing.T, h *harness, id int64) listing.Status {
	rr := h.do(t, "GET", "/listings/"+strconv.FormatInt(id, 10), nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var res httpapi.ListingRes
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &res))
	return listing.Status(res.Status)
}
