package workflow

import "decoflow/internal/sequence"

// TeamsToNotify computes which teams must learn they may proceed after the
// given team dispatched its stage. Routing is one hop: only the immediately
// following team is notified; teams further down learn their turn when the
// team ahead of them dispatches in turn. An unknown or last team yields no
// notifications — the workflow is complete or the dispatch is not part of
// the sequence, neither of which is an error.
func TeamsToNotify(seq []string, completed string) []string {
	next, ok := sequence.Next(seq, completed)
	if !ok {
		return nil
	}
	return []string{next}
}
