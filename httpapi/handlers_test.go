package httpapi

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/utxobroker/dutchbroker/chain"
	"github.com/utxobroker/dutchbroker/listing"
	"github.com/utxobroker/dutchbroker/listingdb"
	"github.com/utxobroker/dutchbroker/oracle"
	"github.com/utxobroker/dutchbroker/query"
	"github.com/utxobroker/dutchbroker/testutil"
)

func testAPI(t *testing.T, apiKey string, tip int) (http.Handler, *listingdb.Engine, *testutil.FakeChainOracle, *testutil.FakeAssetOracle) {
	e, err := listingdb.NewEngine(filepath.Join(t.TempDir(), "listings.db"), chain.NetworkMainnet)
	require.NoError(t, err)
	require.NoError(t, listingdb.MigrateDB(e))
	t.Cleanup(func() { _ = e.Close() })

	chainOracle := testutil.NewFakeChainOracle()
	chainOracle.SetTip(tip)
	assetOracle := testutil.NewFakeAssetOracle()

	admission := &listing.Admission{Chain: chainOracle, Assets: assetOracle, Store: e}
	q := query.New(e, chainOracle)
	return NewAPI(q, admission, chain.NetworkMainnet, apiKey), e, chainOracle, assetOracle
}

func validPsbtB64() string {
	return base64.StdEncoding.EncodeToString([]byte{0x70, 0x73, 0x62, 0x74, 0xff, 1})
}

func admitReqBody() *AdmitListingReq {
	return &AdmitListingReq{
		AssetName:      "RAREPEPE",
		AssetQty:       "1",
		UTXOTxID:       strings.Repeat("ab", 32),
		UTXOVout:       0,
		StartBlock:     850_000,
		EndBlock:       850_001,
		BlocksAfterEnd: 144,
		StartPriceSats: 100_000,
		EndPriceSats:   90_000,
		PriceDecrement: 10_000,
		Steps: []*AdmitStepReq{
			{BlockNumber: 850_000, PriceSats: 100_000, PsbtData: validPsbtB64()},
			{BlockNumber: 850_001, PriceSats: 90_000, PsbtData: validPsbtB64()},
		},
	}
}

func doJSON(t *testing.T, h http.Handler, method, path string, body interface{}, headers map[string]string) *httptest.ResponseRecorder {
	var reqBody *strings.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reqBody = strings.NewReader(string(b))
	} else {
		reqBody = strings.NewReader("")
	}
	req := httptest.NewRequest(method, path, reqBody)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestHealth(t *testing.T) {
	h, _, _, _ := testAPI(t, "", 850_123)
	rr := doJSON(t, h, "GET", "/health", nil, nil)
	require.Equal(t, http.StatusOK, rr.Code)

	var res HealthRes
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &res))
	require.Equal(t, 850_123, res.Height)
}

func TestAdmitListing_HappyPath(t *testing.T) {
	h, _, chainOracle, assetOracle := testAPI(t, "secret", 849_999)
	utxo, err := chain.NewOutpointFromTxID(strings.Repeat("ab", 32), 0)
	require.NoError(t, err)
	seller, err := chain.NewAddress("1BvBMSEYstWetqTFn5Au4m4GFg7xJaNVN2", chain.NetworkMainnet)
	require.NoError(t, err)
	chainOracle.SetUTXO(utxo, &oracle.UTXOInfo{Exists: true, Confirmations: 6, Address: seller})
	assetOracle.SetBalances(utxo, []*oracle.AssetBalance{{AssetName: "RAREPEPE", Quantity: mustDecimal(t, "1")}})

	rr := doJSON(t, h, "POST", "/listings", admitReqBody(), map[string]string{"X-API-Key": "secret"})
	require.Equal(t, http.StatusCreated, rr.Code)

	var res AdmitListingRes
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &res))
	require.NotZero(t, res.ID)
}

func TestAdmitListing_MissingAPIKey(t *testing.T) {
	h, _, _, _ := testAPI(t, "secret", 849_999)
	rr := doJSON(t, h, "POST", "/listings", admitReqBody(), nil)
	require.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestAdmitListing_TemporalRejection(t *testing.T) {
	h, _, _, _ := testAPI(t, "", 850_000)
	rr := doJSON(t, h, "POST", "/listings", admitReqBody(), nil)
	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestAdmitListing_ConcurrentConflict(t *testing.T) {
	h, _, chainOracle, assetOracle := testAPI(t, "", 849_999)
	utxo, err := chain.NewOutpointFromTxID(strings.Repeat("ab", 32), 0)
	require.NoError(t, err)
	seller, err := chain.NewAddress("1BvBMSEYstWetqTFn5Au4m4GFg7xJaNVN2", chain.NetworkMainnet)
	require.NoError(t, err)
	chainOracle.SetUTXO(utxo, &oracle.UTXOInfo{Exists: true, Confirmations: 6, Address: seller})
	assetOracle.SetBalances(utxo, []*oracle.AssetBalance{{AssetName: "RAREPEPE", Quantity: mustDecimal(t, "1")}})

	rr1 := doJSON(t, h, "POST", "/listings", admitReqBody(), nil)
	require.Equal(t, http.StatusCreated, rr1.Code)

	rr2 := doJSON(t, h, "POST", "/listings", admitReqBody(), nil)
	require.Equal(t, http.StatusConflict, rr2.Code)
}

func TestGetListing_NotFound(t *testing.T) {
	h, _, _, _ := testAPI(t, "", 850_000)
	rr := doJSON(t, h, "GET", "/listings/999", nil, nil)
	require.Equal(t, http.StatusNotFound, rr.Code)
}

func TestListListings_And_CurrentPsbt(t *testing.T) {
	h, e, chainOracle, assetOracle := testAPI(t, "", 849_999)
	utxo, err := chain.NewOutpointFromTxID(strings.Repeat("ab", 32), 0)
	require.NoError(t, err)
	seller, err := chain.NewAddress("1BvBMSEYstWetqTFn5Au4m4GFg7xJaNVN2", chain.NetworkMainnet)
	require.NoError(t, err)
	chainOracle.SetUTXO(utxo, &oracle.UTXOInfo{Exists: true, Confirmations: 6, Address: seller})
	assetOracle.SetBalances(utxo, []*oracle.AssetBalance{{AssetName: "RAREPEPE", Quantity: mustDecimal(t, "1")}})

	rr := doJSON(t, h, "POST", "/listings", admitReqBody(), nil)
	require.Equal(t, http.StatusCreated, rr.Code)
	var admitRes AdmitListingRes
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &admitRes))

	chainOracle.SetTip(850_000)
	require.NoError(t, e.UpdateStatus(context.Background(), admitRes.ID, listing.StatusActive, nil))

	listRR := doJSON(t, h, "GET", "/listings?status=active", nil, nil)
	require.Equal(t, http.StatusOK, listRR.Code)
	var listingsRes ListingsRes
	require.NoError(t, json.Unmarshal(listRR.Body.Bytes(), &listingsRes))
	require.Len(t, listingsRes.Listings, 1)

	psbtRR := doJSON(t, h, "GET", "/listings/1/current-psbt", nil, nil)
	require.Equal(t, http.StatusOK, psbtRR.Code)
	var psbtRes CurrentPsbtRes
	require.NoError(t, json.Unmarshal(psbtRR.Body.Bytes(), &psbtRes))
	require.Equal(t, "available", psbtRes.Kind)
	require.NotNil(t, psbtRes.BlockNumber)
	require.Equal(t, 850_000, *psbtRes.BlockNumber)
}

func mustDecimal(t *testing.T, s string) decimal.Decimal {
	dec, err := decimal.NewFromString(s)
	require.NoError(t, err)
	return dec
}
