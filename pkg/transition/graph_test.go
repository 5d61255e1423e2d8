package transition

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nodequorum/controld/pkg/types"
)

func sampleGraph() *types.TransitionGraph {
	return &types.TransitionGraph{
		ID: 1,
		Actions: map[int]*types.Action{
			1: {ID: 1, Tag: types.ActionPseudo},
			2: {ID: 2, Tag: types.ActionRscOp, ResourceID: "rsc1", Task: "start"},
		},
		Synapses: map[int]*types.Synapse{
			1: {ID: 1, Inputs: nil, Output: 1},
			2: {ID: 2, Inputs: []int{1}, Output: 2},
		},
	}
}

func TestEligibleSynapsesWithNoInputsIsReady(t *testing.T) {
	a := newArena(sampleGraph())
	eligible := a.eligibleSynapses()
	require.Len(t, eligible, 1)
	assert.Equal(t, 1, eligible[0].ID)
}

func TestEligibleSynapsesWaitsOnUnconfirmedInput(t *testing.T) {
	a := newArena(sampleGraph())
	eligible := a.eligibleSynapses()
	assert.NotContains(t, synapseIDs(eligible), 2)
}

func TestMarkFiredRemovesSynapseFromEligible(t *testing.T) {
	a := newArena(sampleGraph())
	a.markFired(a.graph.Synapses[1])

	eligible := a.eligibleSynapses()
	assert.NotContains(t, synapseIDs(eligible), 1)
}

func TestConfirmUnblocksDownstreamSynapse(t *testing.T) {
	a := newArena(sampleGraph())
	a.confirm(1, false)
	a.markFired(a.graph.Synapses[1])

	eligible := a.eligibleSynapses()
	require.Len(t, eligible, 1)
	assert.Equal(t, 2, eligible[0].ID)
}

func TestConfirmUnknownActionReturnsFalse(t *testing.T) {
	a := newArena(sampleGraph())
	_, ok := a.confirm(99, false)
	assert.False(t, ok)
}

func TestFailedInputBlocksNonCanFailSynapse(t *testing.T) {
	a := newArena(sampleGraph())
	a.confirm(1, true)

	eligible := a.eligibleSynapses()
	assert.Empty(t, eligible)
}

func TestFailedInputMarksNonCanFailSynapseUnrunnable(t *testing.T) {
	a := newArena(sampleGraph())
	a.confirm(1, true)

	syn, blocked := a.firstUnrunnableSynapse()
	require.True(t, blocked)
	assert.Equal(t, 2, syn.ID)
}

func TestFailedInputDoesNotMarkCanFailSynapseUnrunnable(t *testing.T) {
	graph := sampleGraph()
	graph.Synapses[2].Priority = -1 // can-fail
	a := newArena(graph)
	a.confirm(1, true)

	_, blocked := a.firstUnrunnableSynapse()
	assert.False(t, blocked)
}

func TestConfirmRepeatIsNotNewlyConfirmed(t *testing.T) {
	a := newArena(sampleGraph())
	_, newly := a.confirm(1, false)
	assert.True(t, newly)

	_, newly = a.confirm(1, true)
	assert.False(t, newly, "a repeat confirmation must not report newly=true")

	act, _ := a.action(1)
	assert.False(t, act.Failed, "a repeat confirmation must not overwrite the original outcome")
}

func TestFailedInputAllowsCanFailSynapse(t *testing.T) {
	graph := sampleGraph()
	graph.Synapses[2].Priority = -1 // can-fail
	a := newArena(graph)
	a.confirm(1, true)

	eligible := a.eligibleSynapses()
	require.Len(t, eligible, 1)
}

func TestAbortNeverLowersPriority(t *testing.T) {
	a := newArena(sampleGraph())
	a.abort(types.AbortShutdown, "shutdown requested")
	a.abort(types.AbortRestart, "restart requested")

	abort, _ := a.snapshot()
	assert.Equal(t, types.AbortShutdown, abort)
}

func TestAllFiredTrueWhenEverySynapseFires(t *testing.T) {
	a := newArena(sampleGraph())
	a.markFired(a.graph.Synapses[1])
	assert.False(t, a.allFired())

	a.markFired(a.graph.Synapses[2])
	assert.True(t, a.allFired())
}

func synapseIDs(synapses []*types.Synapse) []int {
	ids := make([]int, len(synapses))
	for i, s := range synapses {
		ids[i] = s.ID
	}
	return ids
}
