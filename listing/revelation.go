package listing

// RevealKind tags a Reveal result: available when a step is returned,
// otherwise the reason none is.
type RevealKind string

const (
	RevealAvailable  RevealKind = "available"
	RevealNotStarted RevealKind = "not_started"
	RevealExpired    RevealKind = "expired"
	RevealSold       RevealKind = "sold"
	RevealClosed     RevealKind = "closed"
)

// Reveal implements the progressive-PSBT disclosure rule (§4.5): it never
// returns a step whose block number exceeds now, which is the load-bearing
// anti-front-running property the whole system exists to provide. It is a
// pure function of (listing, steps, now) — no oracle or store access — so
// it's trivially exhaustively testable.
func Reveal(l *Listing, steps []*PsbtStep, now int) (*PsbtStep, RevealKind) {
	switch l.Status {
	case StatusSold:
		return nil, RevealSold
	case StatusClosed:
		return nil, RevealClosed
	}

	if now < l.StartBlock {
		return nil, RevealNotStarted
	}

	if now >= l.StartBlock && now <= l.EndBlock {
		step := StepAt(steps, now)
		return step, RevealAvailable
	}

	if now > l.EndBlock && now <= l.EndBlock+l.BlocksAfterEnd && l.BlocksAfterEnd > 0 {
		step := StepAt(steps, l.EndBlock)
		return step, RevealAvailable
	}

	return nil, RevealExpired
}
