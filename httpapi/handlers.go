package httpapi

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/utxobroker/dutchbroker/chain"
	"github.com/utxobroker/dutchbroker/listing"
	"github.com/utxobroker/dutchbroker/query"
)

var errUnauthorized = errors.New("invalid API key")

func errIsAny(err error, targets ...error) bool {
	for _, t := range targets {
		if errors.Is(err, t) {
			return true
		}
	}
	return false
}

func (a *API) Health(w http.ResponseWriter, r *http.Request) {
	status, err := a.query.Health(r.Context())
	if err != nil {
		marshalErrorJSON(w, err, statusFor(err))
		return
	}
	marshalResponseJSON(w, http.StatusOK, newHealthRes(status))
}

func (a *API) ListListings(w http.ResponseWriter, r *http.Request) {
	statuses, err := parseStatuses(r.URL.Query().Get("status"))
	if err != nil {
		marshalErrorJSON(w, err, http.StatusBadRequest)
		return
	}
	listings, err := a.query.List(r.Context(), statuses)
	if err != nil {
		marshalErrorJSON(w, err, statusFor(err))
		return
	}
	marshalResponseJSON(w, http.StatusOK, newListingsRes(listings))
}

func (a *API) GetListing(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		marshalErrorJSON(w, err, http.StatusBadRequest)
		return
	}
	l, err := a.query.Get(r.Context(), id)
	if err != nil {
		marshalErrorJSON(w, err, statusFor(err))
		return
	}
	marshalResponseJSON(w, http.StatusOK, newListingRes(l))
}

func (a *API) CurrentPSBT(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		marshalErrorJSON(w, err, http.StatusBadRequest)
		return
	}
	step, kind, err := a.query.CurrentPSBT(r.Context(), id)
	if err != nil {
		marshalErrorJSON(w, err, statusFor(err))
		return
	}
	marshalResponseJSON(w, http.StatusOK, newCurrentPsbtRes(step, kind))
}

func (a *API) ForAddress(w http.ResponseWriter, r *http.Request) {
	addrStr := mux.Vars(r)["addr"]
	addr, err := chain.NewAddress(addrStr, a.network)
	if err != nil {
		marshalErrorJSON(w, errors.Wrap(listing.ErrShapeInvalid, "invalid address"), http.StatusBadRequest)
		return
	}

	role := query.RoleSeller
	if r.URL.Query().Get("role") == "buyer" {
		role = query.RoleBuyer
	}

	statuses, err := parseStatuses(r.URL.Query().Get("status"))
	if err != nil {
		marshalErrorJSON(w, err, http.StatusBadRequest)
		return
	}

	listings, err := a.query.ForAddress(r.Context(), addr, role, statuses)
	if err != nil {
		marshalErrorJSON(w, err, statusFor(err))
		return
	}
	marshalResponseJSON(w, http.StatusOK, newListingsRes(listings))
}

func (a *API) AdmitListing(w http.ResponseWriter, r *http.Request) {
	var req AdmitListingReq
	if !unmarshalRequestJSON(w, r, &req) {
		return
	}

	candidate, err := toCandidate(&req)
	if err != nil {
		marshalErrorJSON(w, err, http.StatusBadRequest)
		return
	}

	id, err := a.admission.Admit(r.Context(), candidate)
	if err != nil {
		marshalErrorJSON(w, err, statusFor(err))
		return
	}
	marshalResponseJSON(w, http.StatusCreated, &AdmitListingRes{ID: id})
}

func toCandidate(req *AdmitListingReq) (*listing.Candidate, error) {
	qty, err := decimal.NewFromString(req.AssetQty)
	if err != nil {
		return nil, errors.Wrap(listing.ErrShapeInvalid, "asset_qty is not a valid decimal")
	}
	utxo, err := chain.NewOutpointFromTxID(req.UTXOTxID, req.UTXOVout)
	if err != nil {
		return nil, errors.Wrap(listing.ErrShapeInvalid, "invalid utxo_txid")
	}

	steps := make([]*listing.CandidateStep, len(req.Steps))
	for i, s := range req.Steps {
		steps[i] = &listing.CandidateStep{
			BlockNumber: s.BlockNumber,
			PriceSats:   s.PriceSats,
			PsbtDataB64: s.PsbtData,
		}
	}

	return &listing.Candidate{
		AssetName:      req.AssetName,
		AssetQty:       qty,
		UTXO:           utxo,
		StartBlock:     req.StartBlock,
		EndBlock:       req.EndBlock,
		BlocksAfterEnd: req.BlocksAfterEnd,
		StartPriceSats: req.StartPriceSats,
		EndPriceSats:   req.EndPriceSats,
		PriceDecrement: req.PriceDecrement,
		Steps:          steps,
	}, nil
}

func parseID(r *http.Request) (int64, error) {
	idStr := mux.Vars(r)["id"]
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		return 0, errors.Wrap(listing.ErrShapeInvalid, "id must be an integer")
	}
	return id, nil
}

func parseStatuses(raw string) ([]listing.Status, error) {
	if raw == "" {
		return nil, nil
	}
	parts := strings.Split(raw, ",")
	out := make([]listing.Status, 0, len(parts))
	for _, p := range parts {
		s := listing.Status(strings.TrimSpace(p))
		switch s {
		case listing.StatusUpcoming, listing.StatusActive, listing.StatusFinished,
			listing.StatusExpired, listing.StatusSold, listing.StatusClosed:
			out = append(out, s)
		default:
			return nil, errors.Wrapf(listing.ErrShapeInvalid, "unknown status %q", p)
		}
	}
	return out, nil
}
