package oracle

import "github.com/pkg/errors"

// Kind classifies an oracle failure so callers can decide whether to retry.
// Transient failures (timeouts, connection resets) must never alter listing
// state; Fatal failures (auth, malformed response, misconfiguration) are
// logged and surfaced, since retrying them without operator intervention
// would just spin.
type Kind int

const (
	KindTransient Kind = iota
	KindFatal
)

type Error struct {
	Kind  Kind
	cause error
}

func NewTransientError(cause error) *Error {
	return &Error{Kind: KindTransient, cause: cause}
}

func NewFatalError(cause error) *Error {
	return &Error{Kind: KindFatal, cause: cause}
}

func (e *Error) Error() string {
	prefix := "transient"
	if e.Kind == KindFatal {
		prefix = "fatal"
	}
	return prefix + " oracle error: " + e.cause.Error()
}

func (e *Error) Cause() error {
	return e.cause
}

func (e *Error) Unwrap() error {
	return e.cause
}

// IsTransient reports whether err is an oracle Error of kind Transient. A
// non-oracle error (one the client code didn't wrap) is treated as fatal,
// since we have no basis to assume it's safe to retry.
func IsTransient(err error) bool {
	var oe *Error
	if errors.As(err, &oe) {
		return oe.Kind == KindTransient
	}
	return false
}

// ErrNotFound is returned by SpendingTx when no confirmed transaction
// spending the given outpoint could be located.
var ErrNotFound = errors.New("oracle: not found")

// ErrUTXOMissing names the missing-outpoint condition. No ChainOracle
// implementation here returns it: UTXO reports a missing outpoint through
// UTXOInfo.Exists=false.
var ErrUTXOMissing = errors.New("oracle: utxo missing")
