package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"decoflow/internal/domain"
)

func component(seq string, decorations map[string]domain.Stage) domain.Component {
	return domain.Component{
		ComponentID:  "comp-1",
		DecoSequence: seq,
		Decorations:  decorations,
	}
}

func TestCanWorkNoSequence(t *testing.T) {
	res := CanWork(component("", nil), "printing")
	assert.True(t, res.CanWork)
	assert.Equal(t, "no decoration sequence defined", res.Reason)
	assert.Empty(t, res.WaitingFor)
}

func TestCanWorkSeparatorOnlySequence(t *testing.T) {
	// Malformed spec degrades to "no ordering constraint".
	res := CanWork(component("__,,", nil), "printing")
	assert.True(t, res.CanWork)
}

func TestCanWorkFirstTeam(t *testing.T) {
	res := CanWork(component("coating_printing_foiling", nil), "coating")
	assert.True(t, res.CanWork)
	assert.Equal(t, "first team in sequence", res.Reason)
}

func TestCanWorkTeamNotInSequence(t *testing.T) {
	res := CanWork(component("coating_printing_foiling", nil), "varnish")
	assert.False(t, res.CanWork)
	assert.Equal(t, "varnish not in decoration sequence", res.Reason)
	assert.Empty(t, res.WaitingFor)
}

func TestCanWorkPreviousDispatched(t *testing.T) {
	c := component("coating_printing_foiling", map[string]domain.Stage{
		"coating": {Status: domain.StageDispatched},
	})
	res := CanWork(c, "printing")
	assert.True(t, res.CanWork)
	assert.Equal(t, "previous team completed", res.Reason)
}

func TestCanWorkPreviousNotDispatched(t *testing.T) {
	c := component("coating_printing_foiling", map[string]domain.Stage{
		"coating": {Status: domain.StageInProgress},
	})
	res := CanWork(c, "printing")
	assert.False(t, res.CanWork)
	assert.Equal(t, "coating", res.WaitingFor)
	assert.Equal(t, "waiting for coating to dispatch", res.Reason)
}

func TestCanWorkPreviousStatusMissing(t *testing.T) {
	// A previous team entirely absent from the decorations map counts as
	// not started, never as an error.
	c := component("coating_printing_foiling", map[string]domain.Stage{})
	res := CanWork(c, "printing")
	assert.False(t, res.CanWork)
	assert.Equal(t, "coating", res.WaitingFor)
}

func TestStageStatusFor(t *testing.T) {
	c := component("coating_printing", map[string]domain.Stage{
		"coating": {Status: domain.StageDispatched},
	})
	assert.Equal(t, "DISPATCHED", StageStatusFor(c, "coating"))
	assert.Equal(t, "N/A", StageStatusFor(c, "printing"))
	assert.Equal(t, "N/A", StageStatusFor(domain.Component{}, "coating"))
}

func TestWaitingMessage(t *testing.T) {
	c := component("coating_printing", map[string]domain.Stage{
		"coating": {Status: domain.StageInProgress},
	})
	assert.Equal(t, "Awaiting coating (Status: IN_PROGRESS)", WaitingMessage(c, "printing"))
	assert.Empty(t, WaitingMessage(c, "coating"))
	assert.Equal(t, "Cannot work on this component", WaitingMessage(c, "varnish"))
}

func TestAllApproved(t *testing.T) {
	assert.True(t, AllApproved(nil))
	assert.True(t, AllApproved([]domain.VehicleRecord{}))

	assert.True(t, AllApproved([]domain.VehicleRecord{
		{Status: domain.VehicleStatusDelivered},
	}))
	assert.True(t, AllApproved([]domain.VehicleRecord{
		{Received: true, Approved: true},
	}))
	assert.True(t, AllApproved([]domain.VehicleRecord{
		{Status: domain.VehicleStatusDelivered},
		{Received: true, Approved: true},
	}))

	// Either condition alone per record; AND across records.
	assert.False(t, AllApproved([]domain.VehicleRecord{
		{Status: domain.VehicleStatusDelivered},
		{Received: true, Approved: false},
	}))
	assert.False(t, AllApproved([]domain.VehicleRecord{
		{Received: false, Approved: true},
	}))
	assert.False(t, AllApproved([]domain.VehicleRecord{
		{Status: "IN_TRANSIT"},
	}))
}

func TestTeamsToNotify(t *testing.T) {
	seq := []string{"a", "b", "c"}
	assert.Equal(t, []string{"b"}, TeamsToNotify(seq, "a"))
	assert.Equal(t, []string{"c"}, TeamsToNotify(seq, "b"))
	assert.Empty(t, TeamsToNotify(seq, "c"))
	assert.Empty(t, TeamsToNotify(seq, "x"))
	assert.Empty(t, TeamsToNotify(nil, "a"))
}
