package listing

import (
	"bytes"
	"context"
	"encoding/base64"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/utxobroker/dutchbroker/chain"
	"github.com/utxobroker/dutchbroker/oracle"
)

// psbtMagic is the 5-byte prefix every well-formed PSBT begins with.
var psbtMagic = []byte{0x70, 0x73, 0x62, 0x74, 0xff}

// CandidateStep is one submitted rung of a Listing's price ladder, prior
// to admission. PsbtDataB64 is validated and decoded by Admit; nothing in
// this package inspects the PSBT beyond that.
type CandidateStep struct {
	BlockNumber int
	PriceSats   int64
	PsbtDataB64 string
}

// Candidate is a submitted listing prior to admission — the same fields as
// Listing, minus everything Admission itself derives or assigns (id,
// status, seller, created_at).
type Candidate struct {
	AssetName string
	AssetQty  decimal.Decimal

	UTXO *chain.Outpoint

	StartBlock     int
	EndBlock       int
	BlocksAfterEnd int

	StartPriceSats int64
	EndPriceSats   int64
	PriceDecrement int64

	Steps []*CandidateStep
}

// Store is the subset of the Listing Store that Admission depends on.
type Store interface {
	InsertListingAtomic(ctx context.Context, l *Listing, steps []*PsbtStep) (int64, error)
}

// Admission validates and persists candidate listings. It holds no state
// of its own beyond its three collaborators, all interfaces, so tests
// inject fakes for the two oracles and a real (or in-memory) Store.
type Admission struct {
	Chain  oracle.ChainOracle
	Assets oracle.AssetOracle
	Store  Store
}

// Admit runs the ordered checks in §4.4 and persists the listing on
// success. It performs no side effect on any failure path — every check
// short-circuits the whole submission.
func (a *Admission) Admit(ctx context.Context, c *Candidate) (int64, error) {
	if err := validateShape(c); err != nil {
		return 0, err
	}

	steps, err := decodeSteps(c)
	if err != nil {
		return 0, err
	}

	candidateListing := &Listing{
		AssetName:      c.AssetName,
		AssetQty:       c.AssetQty,
		UTXO:           c.UTXO,
		StartBlock:     c.StartBlock,
		EndBlock:       c.EndBlock,
		BlocksAfterEnd: c.BlocksAfterEnd,
		StartPriceSats: c.StartPriceSats,
		EndPriceSats:   c.EndPriceSats,
		PriceDecrement: c.PriceDecrement,
	}

	if err := ValidateSchedule(candidateListing, steps); err != nil {
		return 0, err
	}

	tip, err := a.Chain.Tip(ctx)
	if err != nil {
		return 0, err
	}
	if c.StartBlock <= tip {
		return 0, errors.Wrapf(ErrTemporalInvalid, "start_block %d is not after tip %d", c.StartBlock, tip)
	}

	utxoInfo, err := a.Chain.UTXO(ctx, c.UTXO)
	if err != nil {
		return 0, err
	}
	if !utxoInfo.Exists {
		return 0, errors.Wrapf(ErrUTXOUnavailable, "utxo %s does not exist", c.UTXO)
	}
	if utxoInfo.Confirmations < 1 {
		return 0, errors.Wrapf(ErrUTXOUnavailable, "utxo %s has no confirmations", c.UTXO)
	}

	balances, err := a.Assets.Balances(ctx, c.UTXO)
	if err != nil {
		return 0, err
	}
	if len(balances) != 1 {
		return 0, errors.Wrapf(ErrAssetMismatch, "utxo %s carries %d assets, expected exactly 1", c.UTXO, len(balances))
	}
	bal := balances[0]
	if bal.AssetName != c.AssetName {
		return 0, errors.Wrapf(ErrAssetMismatch, "utxo carries asset %s, listing declares %s", bal.AssetName, c.AssetName)
	}
	if !bal.Quantity.Equal(c.AssetQty) {
		return 0, errors.Wrapf(ErrAssetMismatch, "utxo carries quantity %s, listing declares %s", bal.Quantity, c.AssetQty)
	}

	candidateListing.Status = StatusUpcoming
	candidateListing.Seller = utxoInfo.Address
	candidateListing.CreatedAt = time.Now()

	id, err := a.Store.InsertListingAtomic(ctx, candidateListing, steps)
	if err != nil {
		if errors.Is(err, ErrUTXOInUse) {
			return 0, err
		}
		return 0, errors.Wrap(ErrStoreConflict, err.Error())
	}
	return id, nil
}

func validateShape(c *Candidate) error {
	if c.AssetName == "" {
		return errors.Wrap(ErrShapeInvalid, "asset_name is required")
	}
	if c.AssetQty.Sign() <= 0 {
		return errors.Wrap(ErrShapeInvalid, "asset_qty must be positive")
	}
	if c.UTXO == nil {
		return errors.Wrap(ErrShapeInvalid, "utxo is required")
	}
	if c.StartBlock > c.EndBlock {
		return errors.Wrap(ErrShapeInvalid, "start_block must not exceed end_block")
	}
	if c.BlocksAfterEnd < 0 {
		return errors.Wrap(ErrShapeInvalid, "blocks_after_end must be non-negative")
	}
	wantCount := c.EndBlock - c.StartBlock + 1
	if len(c.Steps) != wantCount {
		return errors.Wrapf(ErrShapeInvalid, "expected %d steps, got %d", wantCount, len(c.Steps))
	}
	return nil
}

func decodeSteps(c *Candidate) ([]*PsbtStep, error) {
	steps := make([]*PsbtStep, len(c.Steps))
	for i, cs := range c.Steps {
		data, err := base64.StdEncoding.DecodeString(cs.PsbtDataB64)
		if err != nil {
			return nil, errors.Wrapf(ErrShapeInvalid, "step at block %d is not valid base64", cs.BlockNumber)
		}
		if len(data) < len(psbtMagic) || !bytes.Equal(data[:len(psbtMagic)], psbtMagic) {
			return nil, errors.Wrapf(ErrShapeInvalid, "step at block %d does not begin with the PSBT magic bytes", cs.BlockNumber)
		}
		steps[i] = &PsbtStep{
			BlockNumber: cs.BlockNumber,
			PriceSats:   cs.PriceSats,
			PsbtData:    data,
		}
	}
	return steps, nil
}
