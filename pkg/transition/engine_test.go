package transition

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nodequorum/controld/pkg/types"
)

type fakeExecutor struct {
	mu    sync.Mutex
	calls int
}

func (f *fakeExecutor) Invoke(ctx context.Context, resourceID, task string, interval, timeout time.Duration, params map[string]string, key types.TransitionKey) int {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	return f.calls
}

func pseudoOnlyGraph() *types.TransitionGraph {
	return &types.TransitionGraph{
		ID: 7,
		Actions: map[int]*types.Action{
			1: {ID: 1, Tag: types.ActionPseudo},
		},
		Synapses: map[int]*types.Synapse{
			1: {ID: 1, Output: 1},
		},
	}
}

func TestPassCompletesPseudoOnlyGraphInOnePass(t *testing.T) {
	e := NewEngine(pseudoOnlyGraph(), NewThrottle(1, 4), Deps{})
	status := e.Pass(context.Background())
	assert.Equal(t, StatusComplete, status)
}

func TestPassDispatchesRscOpAndWaitsForConfirmation(t *testing.T) {
	exec := &fakeExecutor{}
	graph := sampleGraph()
	e := NewEngine(graph, NewThrottle(4, 4), Deps{Executor: exec})

	status := e.Pass(context.Background())
	// Synapse 1 (pseudo, no inputs) fires and confirms immediately;
	// synapse 2 (rsc-op) can't fire in the same pass as its own input's
	// confirmation landed, so another pass is needed.
	assert.Equal(t, StatusActive, status)

	status = e.Pass(context.Background())
	assert.Equal(t, StatusActive, status)
	assert.Equal(t, 1, exec.calls)

	e.Confirm(types.TransitionKey{GraphID: 1, ActionID: 2}, false)
	status = e.Pass(context.Background())
	assert.Equal(t, StatusComplete, status)
}

func TestConfirmDiscardsMismatchedGraphID(t *testing.T) {
	exec := &fakeExecutor{}
	graph := sampleGraph()
	e := NewEngine(graph, NewThrottle(4, 4), Deps{Executor: exec})
	e.Pass(context.Background())
	e.Pass(context.Background())

	e.Confirm(types.TransitionKey{GraphID: 999, ActionID: 2}, false)
	act, _ := e.arena.action(2)
	assert.False(t, act.Confirmed)
}

func TestAbortTerminatesNextPass(t *testing.T) {
	e := NewEngine(pseudoOnlyGraph(), NewThrottle(1, 4), Deps{})
	e.Abort(types.AbortTerminate, "fatal error")

	status := e.Pass(context.Background())
	assert.Equal(t, StatusTerminated, status)
}

func TestAbortOnCompletedGraphIsNoop(t *testing.T) {
	e := NewEngine(pseudoOnlyGraph(), NewThrottle(1, 4), Deps{})
	status := e.Pass(context.Background())
	require.Equal(t, StatusComplete, status)

	e.Abort(types.AbortTerminate, "late abort")
	abort, complete := e.arena.snapshot()
	assert.True(t, complete)
	assert.Equal(t, types.AbortNone, abort)
}

func TestPassAbortsWhenNonCanFailSynapseIsUnrunnable(t *testing.T) {
	e := NewEngine(sampleGraph(), NewThrottle(4, 4), Deps{})
	e.arena.confirm(1, true)

	status := e.Pass(context.Background())
	assert.Equal(t, StatusTerminated, status)

	abort, _ := e.arena.snapshot()
	assert.Equal(t, types.AbortRestart, abort)
}

func TestConfirmIsIdempotentForInflightCounter(t *testing.T) {
	exec := &fakeExecutor{}
	graph := sampleGraph()
	e := NewEngine(graph, NewThrottle(4, 4), Deps{Executor: exec})
	e.Pass(context.Background())
	e.Pass(context.Background())
	require.Equal(t, 1, e.arena.inflightCount())

	e.Confirm(types.TransitionKey{GraphID: 1, ActionID: 2}, false)
	require.Equal(t, 0, e.arena.inflightCount())

	// A repeat confirmation for the same action (e.g. a timeout firing
	// just after the genuine LRM result lands) must not decrement again.
	e.Confirm(types.TransitionKey{GraphID: 1, ActionID: 2}, true)
	assert.Equal(t, 0, e.arena.inflightCount())
}

func TestBatchLimitThrottlesRscOpDispatch(t *testing.T) {
	exec := &fakeExecutor{}
	graph := &types.TransitionGraph{
		ID: 2,
		Actions: map[int]*types.Action{
			1: {ID: 1, Tag: types.ActionRscOp, ResourceID: "r1", Task: "start"},
			2: {ID: 2, Tag: types.ActionRscOp, ResourceID: "r2", Task: "start"},
		},
		Synapses: map[int]*types.Synapse{
			1: {ID: 1, Output: 1},
			2: {ID: 2, Output: 2},
		},
	}
	e := NewEngine(graph, NewThrottle(1, 1), Deps{Executor: exec})

	e.Pass(context.Background())
	assert.Equal(t, 1, exec.calls)
}

func TestFailIncompleteStonithFailsUnconfirmedStonithActionsAndAborts(t *testing.T) {
	graph := &types.TransitionGraph{
		ID: 9,
		Actions: map[int]*types.Action{
			1: {ID: 1, Tag: types.ActionCrmEvent, Task: "stonith", TargetUname: "node-b"},
			2: {ID: 2, Tag: types.ActionRscOp, Task: "start", ResourceID: "r1", Confirmed: true},
		},
		Synapses: map[int]*types.Synapse{},
	}
	e := NewEngine(graph, NewThrottle(1, 4), Deps{})

	e.FailIncompleteStonith("fencing coordinator unavailable")

	act, ok := e.arena.action(1)
	require.True(t, ok)
	assert.True(t, act.Confirmed)
	assert.True(t, act.Failed)

	abort, _ := e.arena.snapshot()
	assert.Equal(t, types.AbortRestart, abort)
}

func TestFailIncompleteStonithLeavesAlreadyConfirmedActionsAlone(t *testing.T) {
	graph := &types.TransitionGraph{
		ID: 10,
		Actions: map[int]*types.Action{
			1: {ID: 1, Tag: types.ActionCrmEvent, Task: "stonith", TargetUname: "node-b", Confirmed: true, Failed: false},
		},
		Synapses: map[int]*types.Synapse{},
	}
	e := NewEngine(graph, NewThrottle(1, 4), Deps{})

	e.FailIncompleteStonith("fencing coordinator unavailable")

	act, ok := e.arena.action(1)
	require.True(t, ok)
	assert.False(t, act.Failed, "an action already confirmed successfully must not be retroactively failed")
}
