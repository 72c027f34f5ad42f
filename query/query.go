// Package query implements the read-only projections the HTTP surface
// serves: filtered listing lists, single-listing lookups, current-PSBT
// revelation, and address-scoped listings. Nothing here writes to the
// store.
package query

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/utxobroker/dutchbroker/chain"
	"github.com/utxobroker/dutchbroker/eventpipeline"
	"github.com/utxobroker/dutchbroker/listing"
	"github.com/utxobroker/dutchbroker/listingdb"
	"github.com/utxobroker/dutchbroker/oracle"
)

// Store is the subset of the Listing Store the query surface reads from.
type Store interface {
	Get(ctx context.Context, id int64) (*listing.Listing, error)
	StepsFor(ctx context.Context, listingID int64) ([]*listing.PsbtStep, error)
	List(ctx context.Context, filter *listingdb.ListFilter) ([]*listing.Listing, error)
}

type Service struct {
	Store    Store
	Chain    oracle.ChainOracle
	Pipeline *eventpipeline.Pipeline
}

func New(store Store, chainOracle oracle.ChainOracle) *Service {
	return &Service{Store: store, Chain: chainOracle}
}

// HealthStatus is the liveness endpoint's view of the broker: the current
// tip, plus (when a Pipeline is wired) the timestamps of its last
// successful poll cycles and whether its push subscriptions are still
// connected, so an operator can tell a stalled poll loop from a healthy
// one instead of inferring it from listings quietly not progressing.
type HealthStatus struct {
	Height             int
	LastBlockPollAt    time.Time
	LastSpendPollAt    time.Time
	BlockPushConnected bool
	TxPushConnected    bool
}

// Health reports the current tip as observed by the Chain Oracle, along
// with the event pipeline's own liveness when one is wired.
func (s *Service) Health(ctx context.Context) (*HealthStatus, error) {
	height, err := s.Chain.Tip(ctx)
	if err != nil {
		return nil, err
	}
	hs := &HealthStatus{Height: height}
	if s.Pipeline != nil {
		st := s.Pipeline.Status()
		hs.LastBlockPollAt = st.LastBlockPollAt
		hs.LastSpendPollAt = st.LastSpendPollAt
		hs.BlockPushConnected = st.BlockPushConnected
		hs.TxPushConnected = st.TxPushConnected
	}
	return hs, nil
}

// Get returns a single listing's metadata. It never includes the PSBT
// schedule -- CurrentPSBT is the only path that reveals PSBT bytes, and
// only the single step Revelation permits at the current tip.
func (s *Service) Get(ctx context.Context, id int64) (*listing.Listing, error) {
	return s.Store.Get(ctx, id)
}

// List returns listings matching an optional status filter.
func (s *Service) List(ctx context.Context, statuses []listing.Status) ([]*listing.Listing, error) {
	if len(statuses) == 0 {
		return s.Store.List(ctx, nil)
	}
	if len(statuses) == 1 {
		return s.Store.List(ctx, &listingdb.ListFilter{Status: &statuses[0]})
	}

	seen := make(map[int64]bool)
	var out []*listing.Listing
	for i := range statuses {
		matched, err := s.Store.List(ctx, &listingdb.ListFilter{Status: &statuses[i]})
		if err != nil {
			return nil, err
		}
		for _, l := range matched {
			if !seen[l.ID] {
				seen[l.ID] = true
				out = append(out, l)
			}
		}
	}
	return out, nil
}

// AddressRole selects whether ForAddress matches the seller or the
// recipient field.
type AddressRole string

const (
	RoleSeller AddressRole = "seller"
	RoleBuyer  AddressRole = "buyer"
)

// ForAddress returns listings where addr is the seller or the recipient,
// optionally narrowed by status. Recipient matching happens client-side
// since it's only ever populated on terminal listings and the store has
// no index over it.
func (s *Service) ForAddress(ctx context.Context, addr *chain.Address, role AddressRole, statuses []listing.Status) ([]*listing.Listing, error) {
	var candidates []*listing.Listing
	var err error
	switch {
	case role == RoleSeller && len(statuses) <= 1:
		filter := &listingdb.ListFilter{Seller: addr}
		if len(statuses) == 1 {
			filter.Status = &statuses[0]
		}
		candidates, err = s.Store.List(ctx, filter)
	case role == RoleSeller:
		seen := make(map[int64]bool)
		for i := range statuses {
			matched, lerr := s.Store.List(ctx, &listingdb.ListFilter{Seller: addr, Status: &statuses[i]})
			if lerr != nil {
				return nil, lerr
			}
			for _, l := range matched {
				if !seen[l.ID] {
					seen[l.ID] = true
					candidates = append(candidates, l)
				}
			}
		}
	default:
		// no store index on recipient; buyer matches are filtered
		// client-side against every listing in the requested statuses.
		candidates, err = s.List(ctx, statuses)
	}
	if err != nil {
		return nil, err
	}

	if role == RoleSeller {
		return candidates, nil
	}

	var out []*listing.Listing
	for _, l := range candidates {
		if l.Recipient != nil && l.Recipient.Equal(addr) {
			out = append(out, l)
		}
	}
	return out, nil
}

// CurrentPSBT runs Revelation (§4.5) against a listing's live tip and
// persisted step ladder.
func (s *Service) CurrentPSBT(ctx context.Context, id int64) (*listing.PsbtStep, listing.RevealKind, error) {
	l, err := s.Store.Get(ctx, id)
	if err != nil {
		return nil, "", err
	}
	steps, err := s.Store.StepsFor(ctx, id)
	if err != nil {
		return nil, "", errors.Wrap(err, "error loading steps")
	}
	tip, err := s.Chain.Tip(ctx)
	if err != nil {
		return nil, "", err
	}
	step, kind := listing.Reveal(l, steps, tip)
	return step, kind, nil
}
