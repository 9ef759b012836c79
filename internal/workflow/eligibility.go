// Package workflow holds the pure decision logic of the handoff engine:
// work eligibility, vehicle approval gating, and notification routing.
// Everything here is a total function of the component snapshot it is given.
package workflow

import (
	"fmt"

	"decoflow/internal/domain"
	"decoflow/internal/sequence"
)

// CanWork decides whether a team may currently work on a component.
//
// An empty sequence means no ordering constraint. A team outside the declared
// sequence is a hard denial. The first team is always eligible here; the
// additional vehicle gate for the first team is applied by the orchestrator,
// not by this resolver. Any later team is eligible once the team immediately
// before it has dispatched; a missing stage entry counts as not started.
func CanWork(c domain.Component, team string) domain.EligibilityResult {
	if c.DecoSequence == "" {
		return domain.EligibilityResult{CanWork: true, Reason: "no decoration sequence defined"}
	}
	seq := sequence.Parse(c.DecoSequence)
	if len(seq) == 0 {
		return domain.EligibilityResult{CanWork: true, Reason: "no decoration sequence defined"}
	}
	pos := sequence.Position(seq, team)
	if pos == -1 {
		return domain.EligibilityResult{CanWork: false, Reason: fmt.Sprintf("%s not in decoration sequence", team)}
	}
	if pos == 0 {
		return domain.EligibilityResult{CanWork: true, Reason: "first team in sequence"}
	}
	prev := seq[pos-1]
	if c.Decorations[prev].Status == domain.StageDispatched {
		return domain.EligibilityResult{CanWork: true, Reason: "previous team completed"}
	}
	return domain.EligibilityResult{
		CanWork:    false,
		Reason:     fmt.Sprintf("waiting for %s to dispatch", prev),
		WaitingFor: prev,
	}
}

// StageStatusFor returns the team's stage status, or "N/A" when the
// component has no decoration entry for it.
func StageStatusFor(c domain.Component, team string) string {
	st, ok := c.Decorations[team]
	if !ok || st.Status == "" {
		return "N/A"
	}
	return string(st.Status)
}

// WaitingMessage renders a human-readable reason a team cannot work yet.
// Empty when the team is eligible.
func WaitingMessage(c domain.Component, team string) string {
	res := CanWork(c, team)
	if res.CanWork {
		return ""
	}
	if res.WaitingFor != "" {
		return fmt.Sprintf("Awaiting %s (Status: %s)", res.WaitingFor, StageStatusFor(c, res.WaitingFor))
	}
	return "Cannot work on this component"
}
