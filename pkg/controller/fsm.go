package controller

import "github.com/nodequorum/controld/pkg/types"

// runningStates are the states in which a transition graph can be
// in flight. TE abort requests outside this set are swallowed.
var runningStates = map[types.ControllerState]bool{
	types.StateIntegration:      true,
	types.StateFinalizeJoin:     true,
	types.StatePolicyEngine:     true,
	types.StateTransitionEngine: true,
	types.StateIdle:             true,
}

// InRunningState reports whether a graph could be active in state s.
func InRunningState(s types.ControllerState) bool {
	return runningStates[s]
}

// rule is one (state, input) transition table entry.
type rule struct {
	next    types.ControllerState
	actions types.ControllerAction
	cause   string
}

type ruleKey struct {
	state types.ControllerState
	input types.ControllerInput
}

// table holds every (state, input) pair the FSM recognizes directly.
// Pairs that depend on external progress (all joiners confirmed, a
// transition finished, shutdown's pending-ops drained) are resolved by
// guard checks in context.go before table lookup; see Context.handle.
var table = map[ruleKey]rule{
	{types.StateStarting, types.InputElection}: {types.StatePending, types.ActionElectionVote, "initial election"},

	{types.StatePending, types.InputElectionDC}: {types.StateIntegration, types.ActionDCTakeover | types.ActionIntegrateTimerStart | types.ActionJoinOfferAll, "won initial election"},
	{types.StatePending, types.InputReleaseDC}:  {types.StateNotDC, 0, "lost initial election"},

	{types.StateNotDC, types.InputElectionDC}: {types.StateIntegration, types.ActionDCTakeover | types.ActionIntegrateTimerStart | types.ActionJoinOfferAll, "became DC"},
	{types.StateNotDC, types.InputElection}:   {types.StateElection, types.ActionElectionVote, "election called"},

	{types.StateElection, types.InputElectionDC}: {types.StateIntegration, types.ActionDCTakeover | types.ActionIntegrateTimerStart | types.ActionJoinOfferAll, "won election"},
	{types.StateElection, types.InputReleaseDC}:  {types.StateNotDC, 0, "lost election"},

	{types.StatePolicyEngine, types.InputPECalc}:    {types.StatePolicyEngine, types.ActionPEStart, "recompute requested"},
	{types.StatePolicyEngine, types.InputPESuccess}: {types.StateTransitionEngine, types.ActionTEStart, "graph ready"},

	{types.StateTransitionEngine, types.InputTESuccess}: {types.StateIdle, 0, "transition complete"},
	{types.StateTransitionEngine, types.InputTEAborted}: {types.StatePolicyEngine, types.ActionPEStart, "transition aborted, recomputing"},
	{types.StateTransitionEngine, types.InputCIBUpdate}: {types.StatePolicyEngine, types.ActionTEHalt | types.ActionPEStart, "cib changed mid-transition"},

	{types.StateIdle, types.InputCIBUpdate}: {types.StatePolicyEngine, types.ActionPEStart, "cib changed"},
	{types.StateIdle, types.InputNodeJoin}:  {types.StateIntegration, types.ActionIntegrateTimerStart | types.ActionJoinOfferAll, "node joining"},
	{types.StateIdle, types.InputNodeLeft}:  {types.StatePolicyEngine, types.ActionPEStart, "node left"},

	{types.StateHalt, types.InputElection}: {types.StatePending, types.ActionElectionVote, "recovering from halt"},
}

// Dispatch looks up (state, input) in the transition table. The second
// return is false for a pair the table doesn't recognize, which the
// caller treats as an FSM invariant violation (unconditionally fatal).
func Dispatch(state types.ControllerState, input types.ControllerInput) (next types.ControllerState, actions types.ControllerAction, cause string, ok bool) {
	r, ok := table[ruleKey{state, input}]
	if !ok {
		return "", 0, "", false
	}
	return r.next, r.actions, r.cause, true
}
