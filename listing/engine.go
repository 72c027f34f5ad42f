package listing

import (
	"time"

	"github.com/utxobroker/dutchbroker/chain"
)

// SpendObservation is the transaction that consumed a listing's UTXO, as
// reported by either the push path or a poll sweep. A nil SpendObservation
// means "no spend seen this cycle," not "confirmed unspent forever" -- the
// engine treats absence as inconclusive, never as evidence.
type SpendObservation struct {
	TxID        string
	BlockHeight int
	Outputs     []*SpendingOutput
}

type SpendingOutput struct {
	ValueSats int64
	Address   *chain.Address
}

// Transition is the outcome of one Apply call: the next status, and if a
// spend was classified this cycle, the fields to persist alongside it.
type Transition struct {
	NextStatus Status
	Changed    bool

	SpentTxID  string
	SpentBlock int
	SpentAt    time.Time
	Recipient  *chain.Address
}

// Apply is the pure transition function from §4.6: given a listing's
// current persisted state, its full step set, the current tip, and an
// optional spend observation, it decides the next status. It performs no
// I/O and takes no lock; the caller (Event Pipeline) is responsible for
// persisting the result through Store.UpdateStatus, which is what
// actually enforces idempotence by rejecting regressive writes.
func Apply(l *Listing, steps []*PsbtStep, tip int, spend *SpendObservation) *Transition {
	if l.Status.Terminal() {
		return &Transition{NextStatus: l.Status, Changed: false}
	}

	if spend != nil {
		return classify(steps, spend)
	}

	end := l.EndBlock
	grace := l.BlocksAfterEnd

	switch l.Status {
	case StatusUpcoming:
		if tip < l.StartBlock {
			break
		}
		if tip > end+grace {
			return &Transition{NextStatus: StatusExpired, Changed: true}
		}
		if tip > end {
			if grace > 0 {
				return &Transition{NextStatus: StatusFinished, Changed: true}
			}
			return &Transition{NextStatus: StatusExpired, Changed: true}
		}
		return &Transition{NextStatus: StatusActive, Changed: true}
	case StatusActive:
		if tip > end {
			if grace > 0 {
				return &Transition{NextStatus: StatusFinished, Changed: true}
			}
			return &Transition{NextStatus: StatusExpired, Changed: true}
		}
	case StatusFinished:
		if tip > end+grace {
			return &Transition{NextStatus: StatusExpired, Changed: true}
		}
	}

	return &Transition{NextStatus: l.Status, Changed: false}
}

// classify implements the §4.6 spend-classification rule: a spending
// transaction with an output whose value matches one of the listing's
// declared step prices is a sale via the PSBT we issued; otherwise it's
// treated as an out-of-band close. This is a heuristic, not a proof -- a
// determined buyer settling out of band could reuse an identical output
// value and be misclassified as sold.
func classify(steps []*PsbtStep, spend *SpendObservation) *Transition {
	t := &Transition{
		Changed:    true,
		SpentTxID:  spend.TxID,
		SpentBlock: spend.BlockHeight,
		SpentAt:    time.Now(),
	}

	if len(spend.Outputs) > 0 {
		t.Recipient = spend.Outputs[0].Address
	}

	prices := make(map[int64]struct{}, len(steps))
	for _, s := range steps {
		prices[s.PriceSats] = struct{}{}
	}

	for _, out := range spend.Outputs {
		if _, ok := prices[out.ValueSats]; ok {
			t.NextStatus = StatusSold
			t.Recipient = out.Address
			return t
		}
	}

	t.NextStatus = StatusClosed
	return t
}
