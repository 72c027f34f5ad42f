package listing

import "github.com/pkg/errors"

// Sentinel error kinds, checked with errors.Is by httpapi to pick a status
// code. Most are returned wrapped with a human-readable reason via
// errors.Wrap (ErrUTXOInUse comes back bare from the store); the sentinel
// identity survives the wrap.
var (
	ErrShapeInvalid    = errors.New("shape invalid")
	ErrTemporalInvalid = errors.New("temporal invalid")
	ErrUTXOUnavailable = errors.New("utxo unavailable")
	ErrAssetMismatch   = errors.New("asset mismatch")
	ErrUTXOInUse       = errors.New("utxo in use")
	ErrStoreConflict   = errors.New("store conflict")
	ErrNotFound        = errors.New("listing not found")
)
