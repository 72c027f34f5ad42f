package listingdb

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/utxobroker/dutchbroker/chain"
	"github.com/utxobroker/dutchbroker/listing"
)

const listingSelect = `
SELECT
	id,
	asset_name,
	asset_qty,
	utxo_txid,
	utxo_vout,
	start_block,
	end_block,
	blocks_after_end,
	start_price_sats,
	end_price_sats,
	price_decrement,
	status,
	spent_txid,
	spent_block,
	spent_at,
	recipient,
	seller,
	created_at
FROM listings
`

// statusRank orders the non-terminal statuses so UpdateStatus can reject
// any write that would move a listing backwards. All terminal statuses
// share the top rank: once there, no further status write is a
// regression, none is legal at all -- see the Terminal() check below.
var statusRank = map[listing.Status]int{
	listing.StatusUpcoming: 0,
	listing.StatusActive:   1,
	listing.StatusFinished: 2,
	listing.StatusExpired:  3,
	listing.StatusSold:     3,
	listing.StatusClosed:   3,
}

// InsertListingAtomic persists a newly admitted listing and its step
// ladder in one transaction, satisfying listing.Store. The partial unique
// index on (utxo_txid, utxo_vout) is the actual enforcement point for
// invariant 5 -- a concurrent admission racing this one loses here, not
// earlier, closing the TOCTOU window between Admission's UTXO check and
// the write.
func (e *Engine) InsertListingAtomic(ctx context.Context, l *listing.Listing, steps []*listing.PsbtStep) (int64, error) {
	var id int64
	err := e.Transaction(func(tx Transactor) error {
		res, err := tx.Exec(`
INSERT INTO listings (
	asset_name, asset_qty, utxo_txid, utxo_vout,
	start_block, end_block, blocks_after_end,
	start_price_sats, end_price_sats, price_decrement,
	status, seller, created_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`,
			l.AssetName,
			l.AssetQty.String(),
			l.UTXO.TxIDString(),
			l.UTXO.Index,
			l.StartBlock,
			l.EndBlock,
			l.BlocksAfterEnd,
			l.StartPriceSats,
			l.EndPriceSats,
			l.PriceDecrement,
			string(l.Status),
			l.Seller.String(),
			l.CreatedAt.Unix(),
		)
		if err != nil {
			if isUniqueViolation(err) {
				return listing.ErrUTXOInUse
			}
			return errors.WithStack(err)
		}
		id, err = res.LastInsertId()
		if err != nil {
			return errors.WithStack(err)
		}

		for _, s := range steps {
			_, err := tx.Exec(`
INSERT INTO psbt_steps (listing_id, block_number, price_sats, psbt_data)
VALUES (?, ?, ?, ?)
`,
				id,
				s.BlockNumber,
				s.PriceSats,
				s.PsbtData,
			)
			if err != nil {
				return errors.WithStack(err)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

func isUniqueViolation(err error) bool {
	sqliteErr, ok := err.(sqlite3.Error)
	return ok && sqliteErr.Code == sqlite3.ErrConstraint
}

// Get returns a single listing by ID, or listing.ErrNotFound if it does
// not exist.
func (e *Engine) Get(ctx context.Context, id int64) (*listing.Listing, error) {
	var l *listing.Listing
	err := e.Transaction(func(tx Transactor) error {
		row := tx.QueryRow(listingSelect+" WHERE id = ?", id)
		var err error
		l, err = e.scanListing(row)
		return err
	})
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, listing.ErrNotFound
		}
		return nil, err
	}
	return l, nil
}

// StepFor returns the psbt step for a listing at exactly the given block,
// or sql.ErrNoRows if none exists at that height (fixed-price listings
// only have one).
func (e *Engine) StepFor(ctx context.Context, listingID int64, block int) (*listing.PsbtStep, error) {
	var step *listing.PsbtStep
	err := e.Transaction(func(tx Transactor) error {
		row := tx.QueryRow(`
SELECT listing_id, block_number, price_sats, psbt_data
FROM psbt_steps
WHERE listing_id = ? AND block_number = ?
`, listingID, block)
		s := new(listing.PsbtStep)
		if err := row.Scan(&s.ListingID, &s.BlockNumber, &s.PriceSats, &s.PsbtData); err != nil {
			return errors.WithStack(err)
		}
		step = s
		return nil
	})
	if err != nil {
		return nil, err
	}
	return step, nil
}

// StepsFor returns every step of a listing's price ladder, ordered by
// block height. The Event Pipeline uses this (not StepFor repeatedly) to
// build the price set that spend classification checks against.
func (e *Engine) StepsFor(ctx context.Context, listingID int64) ([]*listing.PsbtStep, error) {
	var steps []*listing.PsbtStep
	err := e.Transaction(func(tx Transactor) error {
		rows, err := tx.Query(`
SELECT listing_id, block_number, price_sats, psbt_data
FROM psbt_steps
WHERE listing_id = ?
ORDER BY block_number ASC
`, listingID)
		if err != nil {
			return errors.WithStack(err)
		}
		defer rows.Close()
		for rows.Next() {
			s := new(listing.PsbtStep)
			if err := rows.Scan(&s.ListingID, &s.BlockNumber, &s.PriceSats, &s.PsbtData); err != nil {
				return errors.WithStack(err)
			}
			steps = append(steps, s)
		}
		return errors.WithStack(rows.Err())
	})
	if err != nil {
		return nil, err
	}
	return steps, nil
}

// ListFilter narrows List to listings matching every non-nil field.
type ListFilter struct {
	Status *listing.Status
	Seller *chain.Address
}

// List returns listings matching filter, most recently created first.
func (e *Engine) List(ctx context.Context, filter *ListFilter) ([]*listing.Listing, error) {
	q := listingSelect
	var clauses []string
	var args []interface{}
	if filter != nil && filter.Status != nil {
		clauses = append(clauses, "status = ?")
		args = append(args, string(*filter.Status))
	}
	if filter != nil && filter.Seller != nil {
		clauses = append(clauses, "seller = ?")
		args = append(args, filter.Seller.String())
	}
	if len(clauses) > 0 {
		q += " WHERE " + strings.Join(clauses, " AND ")
	}
	q += " ORDER BY created_at DESC"

	var out []*listing.Listing
	err := e.Transaction(func(tx Transactor) error {
		rows, err := tx.Query(q, args...)
		if err != nil {
			return errors.WithStack(err)
		}
		defer rows.Close()
		for rows.Next() {
			l, err := e.scanListing(rows)
			if err != nil {
				return err
			}
			out = append(out, l)
		}
		return errors.WithStack(rows.Err())
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// NonTerminalListings returns every listing the Event Pipeline still needs
// to sweep: upcoming, active, or finished.
func (e *Engine) NonTerminalListings(ctx context.Context) ([]*listing.Listing, error) {
	var out []*listing.Listing
	err := e.Transaction(func(tx Transactor) error {
		rows, err := tx.Query(listingSelect + " WHERE status IN ('upcoming', 'active', 'finished')")
		if err != nil {
			return errors.WithStack(err)
		}
		defer rows.Close()
		for rows.Next() {
			l, err := e.scanListing(rows)
			if err != nil {
				return err
			}
			out = append(out, l)
		}
		return errors.WithStack(rows.Err())
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ListingsWatchingUTXO returns the non-terminal listings pinned to the
// given outpoint. Invariant 5 keeps this at most one element in practice;
// it returns a slice rather than a single value so a caller reacting to a
// spend notification doesn't need to special-case an invariant violation
// into a panic.
func (e *Engine) ListingsWatchingUTXO(ctx context.Context, out *chain.Outpoint) ([]*listing.Listing, error) {
	var listings []*listing.Listing
	err := e.Transaction(func(tx Transactor) error {
		rows, err := tx.Query(
			listingSelect+` WHERE utxo_txid = ? AND utxo_vout = ? AND status IN ('upcoming', 'active', 'finished')`,
			out.TxIDString(),
			out.Index,
		)
		if err != nil {
			return errors.WithStack(err)
		}
		defer rows.Close()
		for rows.Next() {
			l, err := e.scanListing(rows)
			if err != nil {
				return err
			}
			listings = append(listings, l)
		}
		return errors.WithStack(rows.Err())
	})
	if err != nil {
		return nil, err
	}
	return listings, nil
}

// SpendFields carries the columns UpdateStatus writes alongside a
// terminal sold/closed transition. Left nil for ordinary lifecycle
// advances (upcoming -> active, etc.) that carry no spend.
type SpendFields struct {
	SpentTxID  string
	SpentBlock int
	SpentAt    time.Time
	Recipient  *chain.Address
}

// UpdateStatus moves a listing to newStatus, idempotently. Repeating the
// same terminal status is a no-op that succeeds; any attempt to leave a
// terminal status, or to move a non-terminal status backwards, is
// rejected with listing.ErrStoreConflict rather than silently applied --
// the Event Pipeline takes that as a transition a racing sweep already
// applied, not a transient condition to retry.
func (e *Engine) UpdateStatus(ctx context.Context, id int64, newStatus listing.Status, spend *SpendFields) error {
	return e.Transaction(func(tx Transactor) error {
		row := tx.QueryRow("SELECT status FROM listings WHERE id = ?", id)
		var current string
		if err := row.Scan(&current); err != nil {
			return errors.WithStack(err)
		}
		currentStatus := listing.Status(current)

		if currentStatus == newStatus {
			return nil
		}
		if currentStatus.Terminal() {
			return errors.Wrapf(listing.ErrStoreConflict, "listing %d is terminal at %s, cannot move to %s", id, currentStatus, newStatus)
		}
		if statusRank[newStatus] < statusRank[currentStatus] {
			return errors.Wrapf(listing.ErrStoreConflict, "listing %d cannot move backwards from %s to %s", id, currentStatus, newStatus)
		}

		if spend == nil {
			_, err := tx.Exec("UPDATE listings SET status = ? WHERE id = ?", string(newStatus), id)
			return errors.WithStack(err)
		}

		var recipient sql.NullString
		if spend.Recipient != nil {
			recipient = sql.NullString{String: spend.Recipient.String(), Valid: true}
		}
		_, err := tx.Exec(`
UPDATE listings SET
	status = ?,
	spent_txid = ?,
	spent_block = ?,
	spent_at = ?,
	recipient = ?
WHERE id = ?
`,
			string(newStatus),
			spend.SpentTxID,
			spend.SpentBlock,
			spend.SpentAt.Unix(),
			recipient,
			id,
		)
		return errors.WithStack(err)
	})
}

func (e *Engine) scanListing(scanner Scanner) (*listing.Listing, error) {
	l := new(listing.Listing)
	var assetQty string
	var utxoTxid string
	var utxoVout uint32
	var status string
	var spentTxid sql.NullString
	var spentBlock sql.NullInt64
	var spentAt sql.NullInt64
	var recipient sql.NullString
	var seller string
	var createdAt int64

	err := scanner.Scan(
		&l.ID,
		&l.AssetName,
		&assetQty,
		&utxoTxid,
		&utxoVout,
		&l.StartBlock,
		&l.EndBlock,
		&l.BlocksAfterEnd,
		&l.StartPriceSats,
		&l.EndPriceSats,
		&l.PriceDecrement,
		&status,
		&spentTxid,
		&spentBlock,
		&spentAt,
		&recipient,
		&seller,
		&createdAt,
	)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	qty, err := decimal.NewFromString(assetQty)
	if err != nil {
		return nil, errors.Wrap(err, "corrupt asset_qty in store")
	}
	l.AssetQty = qty

	utxo, err := chain.NewOutpointFromTxID(utxoTxid, utxoVout)
	if err != nil {
		return nil, errors.Wrap(err, "corrupt utxo in store")
	}
	l.UTXO = utxo

	l.Status = listing.Status(status)
	l.SpentTxID = spentTxid.String
	l.SpentBlock = int(spentBlock.Int64)
	if spentAt.Valid {
		l.SpentAt = time.Unix(spentAt.Int64, 0).UTC()
	}
	l.CreatedAt = time.Unix(createdAt, 0).UTC()

	sellerAddr, err := chain.NewAddress(seller, e.network)
	if err != nil {
		return nil, errors.Wrap(err, "corrupt seller address in store")
	}
	l.Seller = sellerAddr

	if recipient.Valid {
		recipientAddr, err := chain.NewAddress(recipient.String, e.network)
		if err != nil {
			return nil, errors.Wrap(err, "corrupt recipient address in store")
		}
		l.Recipient = recipientAddr
	}

	return l, nil
}

var _ listing.Store = (*Engine)(nil)
