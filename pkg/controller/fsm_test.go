package controller

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/nodequorum/controld/pkg/types"
)

func TestDispatchKnownPairAdvancesState(t *testing.T) {
	next, actions, _, ok := Dispatch(types.StateNotDC, types.InputElectionDC)
	assert.True(t, ok)
	assert.Equal(t, types.StateIntegration, next)
	assert.NotZero(t, actions&types.ActionDCTakeover)
	assert.NotZero(t, actions&types.ActionJoinOfferAll)
}

func TestDispatchUnknownPairFails(t *testing.T) {
	_, _, _, ok := Dispatch(types.StateIdle, types.InputJoinOffer)
	assert.False(t, ok)
}

func TestDispatchPolicyEngineToTransitionEngine(t *testing.T) {
	next, actions, _, ok := Dispatch(types.StatePolicyEngine, types.InputPESuccess)
	assert.True(t, ok)
	assert.Equal(t, types.StateTransitionEngine, next)
	assert.Equal(t, types.ActionTEStart, actions)
}

func TestInRunningStateMatchesSpecSet(t *testing.T) {
	assert.True(t, InRunningState(types.StateTransitionEngine))
	assert.True(t, InRunningState(types.StateIdle))
	assert.False(t, InRunningState(types.StateStarting))
	assert.False(t, InRunningState(types.StateHalt))
	assert.False(t, InRunningState(types.StateTerminate))
}
