// Package httpapi is the external HTTP transport of §6. It is a thin
// JSON layer over query.Service and listing.Admission -- no domain logic
// lives here, only request decoding, response encoding, and status-code
// mapping.
package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/utxobroker/dutchbroker/chain"
	"github.com/utxobroker/dutchbroker/listing"
	"github.com/utxobroker/dutchbroker/log"
	"github.com/utxobroker/dutchbroker/oracle"
	"github.com/utxobroker/dutchbroker/query"
)

var apiLogger = log.ModuleLogger("httpapi")

type API struct {
	query     *query.Service
	admission *listing.Admission
	network   *chain.Network
	apiKey    string
}

// NewAPI builds the router for §6's HTTP surface. Only POST /listings
// requires the API key; every read endpoint is open, matching the
// table's Auth column.
func NewAPI(q *query.Service, admission *listing.Admission, network *chain.Network, apiKey string) http.Handler {
	a := &API{query: q, admission: admission, network: network, apiKey: apiKey}

	r := mux.NewRouter()
	getOnly(r.HandleFunc("/health", a.Health))
	getOnly(r.HandleFunc("/listings", a.ListListings))
	r.Handle("/listings", a.apiKeyMiddleware(http.HandlerFunc(a.AdmitListing))).Methods("POST")
	getOnly(r.HandleFunc("/listings/{id}", a.GetListing))
	getOnly(r.HandleFunc("/listings/{id}/current-psbt", a.CurrentPSBT))
	getOnly(r.HandleFunc("/address/{addr}", a.ForAddress))
	return r
}

func (a *API) apiKeyMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a.apiKey == "" {
			next.ServeHTTP(w, r)
			return
		}
		if r.Header.Get("X-API-Key") != a.apiKey {
			marshalErrorJSON(w, errUnauthorized, http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func getOnly(route *mux.Route) {
	route.Methods("GET")
}

func unmarshalRequestJSON(w http.ResponseWriter, r *http.Request, in interface{}) bool {
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(in); err == nil {
		return true
	}
	marshalErrorJSON(w, listing.ErrShapeInvalid, http.StatusBadRequest)
	return false
}

func marshalResponseJSON(w http.ResponseWriter, status int, out interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(out); err != nil {
		apiLogger.Warning("error writing JSON response", "err", err)
	}
}

func marshalErrorJSON(w http.ResponseWriter, err error, status int) {
	if status >= 500 {
		apiLogger.Error("error handling request", "err", err)
	}
	marshalResponseJSON(w, status, &ErrorResponse{Msg: err.Error()})
}

// statusFor maps the error kinds of §7 to the HTTP status codes of §6.
func statusFor(err error) int {
	switch {
	case errIsAny(err, listing.ErrShapeInvalid, listing.ErrScheduleInvalid, listing.ErrTemporalInvalid, listing.ErrUTXOUnavailable, listing.ErrAssetMismatch):
		return http.StatusBadRequest
	case errIsAny(err, listing.ErrUTXOInUse):
		return http.StatusConflict
	case errIsAny(err, listing.ErrNotFound):
		return http.StatusNotFound
	case errIsAny(err, listing.ErrStoreConflict):
		return http.StatusServiceUnavailable
	case oracle.IsTransient(err):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
