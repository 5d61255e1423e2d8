package transition

import (
	"sync"
	"time"

	"github.com/nodequorum/controld/pkg/types"
)

// Status is the outcome of one scheduling pass over a graph.
type Status string

const (
	StatusActive     Status = "active"
	StatusPending    Status = "pending"
	StatusComplete   Status = "complete"
	StatusTerminated Status = "terminated"
)

// arena owns one TransitionGraph plus the bookkeeping the scheduling pass
// needs beyond what types.TransitionGraph itself carries: which synapses
// have already fired, and how many rsc-op actions are outstanding.
type arena struct {
	mu       sync.Mutex
	graph    *types.TransitionGraph
	fired    map[int]bool // synapse id -> fired
	inflight int          // outstanding rsc-op actions
}

// newArena wraps graph for scheduling. The graph is expected to be fully
// populated (every synapse's Inputs/Output already resolved to action ids
// present in graph.Actions) before it is handed to an Engine.
func newArena(graph *types.TransitionGraph) *arena {
	return &arena{graph: graph, fired: make(map[int]bool)}
}

// eligibleSynapses returns every synapse not yet fired whose inputs are
// all confirmed, honoring can-fail: a failed input blocks an eligible
// synapse unless the synapse's Priority is negative, the convention this
// package uses for "can-fail" policy (there's no separate CanFail field on
// Synapse, so priority sign carries it, matching how te_utils.c overloads
// a single bitfield rather than growing the struct).
func (a *arena) eligibleSynapses() []*types.Synapse {
	a.mu.Lock()
	defer a.mu.Unlock()

	var eligible []*types.Synapse
	for _, syn := range a.graph.Synapses {
		if a.fired[syn.ID] {
			continue
		}
		if a.synapseReady(syn) {
			eligible = append(eligible, syn)
		}
	}
	return eligible
}

func (a *arena) synapseReady(syn *types.Synapse) bool {
	canFail := syn.Priority < 0
	for _, inputID := range syn.Inputs {
		input, ok := a.graph.Actions[inputID]
		if !ok {
			return false
		}
		if !input.Confirmed {
			return false
		}
		if input.Failed && !canFail {
			return false
		}
	}
	return true
}

// unrunnableSynapse reports whether a not-yet-fired, non-can-fail synapse
// has a confirmed-failed input, making it permanently unrunnable rather
// than merely not-yet-ready. Distinguishing the two matters: a synapse
// waiting on an unconfirmed input may still become eligible, but one
// blocked by a failed input never will, and the graph must abort instead
// of stalling until graphTTL.
func (a *arena) unrunnableSynapse(syn *types.Synapse) bool {
	if syn.Priority < 0 {
		return false
	}
	for _, inputID := range syn.Inputs {
		input, ok := a.graph.Actions[inputID]
		if !ok {
			continue
		}
		if input.Confirmed && input.Failed {
			return true
		}
	}
	return false
}

// firstUnrunnableSynapse scans every not-yet-fired synapse for one blocked
// by a failed input under a non-can-fail policy.
func (a *arena) firstUnrunnableSynapse() (*types.Synapse, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	for _, syn := range a.graph.Synapses {
		if a.fired[syn.ID] {
			continue
		}
		if a.unrunnableSynapse(syn) {
			return syn, true
		}
	}
	return nil, false
}

// markFired records that syn's output action has been dispatched.
func (a *arena) markFired(syn *types.Synapse) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.fired[syn.ID] = true
}

// allFired reports whether every synapse in the graph has fired.
func (a *arena) allFired() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.fired) == len(a.graph.Synapses)
}

// allConfirmed reports whether every action in the graph has been
// confirmed. A synapse can fire (dispatch its output action) well before
// that action's asynchronous confirmation arrives, so completion is
// judged on confirmation, not on firing.
func (a *arena) allConfirmed() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, act := range a.graph.Actions {
		if !act.Confirmed {
			return false
		}
	}
	return true
}

// action looks up one action by id.
func (a *arena) action(id int) (*types.Action, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	act, ok := a.graph.Actions[id]
	return act, ok
}

// confirm marks action id confirmed/failed and returns it plus whether
// this call is the one that newly confirmed it (false if the graph has
// no such action, or it was already confirmed — a repeat or a timeout
// racing the genuine LRM result). Callers must gate any inflight/counter
// bookkeeping on newly, so a repeated confirmation is a true no-op.
func (a *arena) confirm(id int, failed bool) (act *types.Action, newly bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	act, ok := a.graph.Actions[id]
	if !ok {
		return nil, false
	}
	if act.Confirmed {
		return act, false
	}
	act.Confirmed = true
	act.Failed = failed
	return act, true
}

// failAllByTask marks every not-yet-confirmed action with the given task
// confirmed and failed, and returns how many it touched. Used by
// FailIncompleteStonith: once the fencing coordinator a stonith action
// was dispatched through is gone, that action will never get a genuine
// confirmation.
func (a *arena) failAllByTask(task string) int {
	a.mu.Lock()
	defer a.mu.Unlock()

	n := 0
	for _, act := range a.graph.Actions {
		if act.Task != task || act.Confirmed {
			continue
		}
		act.Confirmed = true
		act.Failed = true
		n++
	}
	return n
}

// Abort raises the graph's abort priority/cause, never lowering it, per
// the done < restart < shutdown < terminate ordering in types.AbortAction.
func (a *arena) abort(action types.AbortAction, cause string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if action.Outranks(a.graph.Abort) {
		a.graph.Abort = action
		a.graph.AbortCause = cause
	}
}

// snapshot returns the current abort state and completion flags under lock.
func (a *arena) snapshot() (abort types.AbortAction, complete bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.graph.Abort, a.graph.Complete
}

// setComplete marks the graph complete.
func (a *arena) setComplete() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.graph.Complete = true
}

// createdAt returns the graph's creation time, for transition-timeout bounds.
func (a *arena) createdAt() time.Time {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.graph.CreatedAt
}
