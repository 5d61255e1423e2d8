package transition

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/nodequorum/controld/pkg/events"
	"github.com/nodequorum/controld/pkg/log"
	"github.com/nodequorum/controld/pkg/metrics"
	"github.com/nodequorum/controld/pkg/trigger"
	"github.com/nodequorum/controld/pkg/types"
)

// ResourceExecutor dispatches one rsc-op action to the executor client for
// action.TargetUname. Satisfied structurally by *executor.Client.
type ResourceExecutor interface {
	Invoke(ctx context.Context, resourceID, task string, interval, timeout time.Duration, params map[string]string, key types.TransitionKey) int
}

// FenceDispatcher dispatches a crm-event/stonith action. Satisfied
// structurally by *fencing.Coordinator.
type FenceDispatcher interface {
	Fence(ctx context.Context, target string, action types.FenceAction, origin, clientID string) (types.AsyncFenceCommand, error)
}

// PeerDispatcher sends a crm-event/cluster-action frame to one peer.
// Satisfied structurally by *messaging.Layer.
type PeerDispatcher interface {
	Send(target, frameType string, body []byte) error
}

// Engine runs the scheduling pass over one transition graph: fire
// eligible synapses up to the throttled batch limit, dispatch actions to
// their executor, and report active/pending/complete/terminated per pass.
type Engine struct {
	graphID   int
	arena     *arena
	throttle  *Throttle
	executor  ResourceExecutor
	fencer    FenceDispatcher
	peers     PeerDispatcher
	broker    *events.Broker
	wheel     *trigger.Wheel
	trigger   *trigger.Trigger
	logger    zerolog.Logger
	graphTTL  time.Duration
}

// Deps bundles the executors an Engine dispatches actions through. Any
// field left nil disables that action class (useful in tests exercising
// only pseudo actions).
type Deps struct {
	Executor ResourceExecutor
	Fencer   FenceDispatcher
	Peers    PeerDispatcher
	Broker   *events.Broker
}

// NewEngine creates an Engine for one transition graph.
func NewEngine(graph *types.TransitionGraph, throttle *Throttle, deps Deps) *Engine {
	return &Engine{
		graphID:  graph.ID,
		arena:    newArena(graph),
		throttle: throttle,
		executor: deps.Executor,
		fencer:   deps.Fencer,
		peers:    deps.Peers,
		broker:   deps.Broker,
		wheel:    trigger.NewWheel(),
		trigger:  trigger.New(),
		logger:   log.WithGraphID(graph.ID),
		graphTTL: 30 * time.Minute,
	}
}

// Abort raises the graph's abort priority, as spec'd: never lowers it,
// and has no effect if the graph has already completed (the caller should
// instead schedule recomputation via a fresh graph in that case).
func (e *Engine) Abort(action types.AbortAction, reason string) {
	abort, complete := e.arena.snapshot()
	if complete {
		e.logger.Debug().Str("reason", reason).Msg("abort requested against a completed graph, ignored")
		return
	}
	if action.Outranks(abort) {
		e.logger.Warn().Str("action", string(action)).Str("reason", reason).Msg("transition abort requested")
	}
	e.arena.abort(action, reason)
	e.trigger.Set()
}

// FailIncompleteStonith marks every unconfirmed stonith action in this
// graph failed and aborts the graph with restart priority — the
// boundary behavior for losing the fencing coordinator mid-transition:
// an outstanding stonith action can no longer receive a real
// confirmation once the coordinator it was dispatched through is gone.
func (e *Engine) FailIncompleteStonith(reason string) {
	if n := e.arena.failAllByTask("stonith"); n > 0 {
		e.logger.Warn().Int("count", n).Str("reason", reason).Msg("failing incomplete stonith actions, fencing coordinator unavailable")
	}
	e.Abort(types.AbortRestart, reason)
	e.trigger.Set()
}

// Confirm applies an async completion (LRM result or fence notification)
// identified by key to its matching action. A mismatched graph-id is
// discarded as a stale confirmation, per spec.
func (e *Engine) Confirm(key types.TransitionKey, failed bool) {
	if key.GraphID != e.graphID {
		e.logger.Debug().Int("confirmed_graph_id", key.GraphID).Msg("discarding confirmation for a different graph")
		return
	}
	act, newly := e.arena.confirm(key.ActionID, failed)
	if act == nil {
		e.logger.Debug().Int("action_id", key.ActionID).Msg("confirmation for unknown action")
		return
	}
	if !newly {
		e.logger.Debug().Int("action_id", key.ActionID).Msg("discarding repeat confirmation, already confirmed")
		return
	}
	if act.Tag == types.ActionRscOp {
		e.arena.mu.Lock()
		e.arena.inflight--
		e.arena.mu.Unlock()
	}
	metrics.ActionsInFlight.Set(float64(e.arena.inflightCount()))
	e.wheel.Cancel(actionTimerName(e.graphID, act.ID))
	e.trigger.Set()
}

// Pass runs one scheduling pass and returns the graph's current status.
// Callers drive passes from the scheduling loop's edge-trigger firing
// (see Run), but Pass is exported so tests can step the engine
// deterministically without a goroutine.
func (e *Engine) Pass(ctx context.Context) Status {
	abort, complete := e.arena.snapshot()
	if complete {
		return StatusComplete
	}
	if abort != types.AbortNone {
		return StatusTerminated
	}

	if syn, blocked := e.arena.firstUnrunnableSynapse(); blocked {
		e.Abort(types.AbortRestart, fmt.Sprintf("synapse %d unrunnable: non-can-fail input failed", syn.ID))
		return StatusTerminated
	}

	limit := e.throttleLimit()
	fired := false
	for _, syn := range e.arena.eligibleSynapses() {
		act, ok := e.arena.action(syn.Output)
		if !ok {
			continue
		}
		if act.Tag == types.ActionRscOp && e.arena.inflightCount() >= limit {
			continue
		}
		e.dispatch(ctx, act)
		e.arena.markFired(syn)
		fired = true
	}

	if e.arena.allFired() && e.arena.allConfirmed() {
		e.arena.setComplete()
		if e.broker != nil {
			e.broker.Publish(&events.Event{Type: events.EventTransitionAborted, Message: "transition complete"})
		}
		return StatusComplete
	}
	if fired {
		return StatusActive
	}
	return StatusPending
}

func (e *Engine) throttleLimit() int {
	if e.throttle == nil {
		return 1 << 30
	}
	return e.throttle.Limit()
}

func (e *Engine) dispatch(ctx context.Context, act *types.Action) {
	key := types.TransitionKey{GraphID: e.graphID, ActionID: act.ID, TargetRC: 0, UUID: uuid.NewString()}
	act.Executed = true

	switch act.Tag {
	case types.ActionPseudo:
		e.arena.confirm(act.ID, false)
		e.trigger.Set()

	case types.ActionRscOp:
		if e.executor == nil {
			e.arena.confirm(act.ID, true)
			return
		}
		e.arena.mu.Lock()
		e.arena.inflight++
		e.arena.mu.Unlock()
		metrics.ActionsInFlight.Set(float64(e.arena.inflightCount()))
		e.executor.Invoke(ctx, act.ResourceID, act.Task, act.Interval, act.Timeout, act.Params, key)
		e.scheduleTimeout(act)

	case types.ActionCrmEvent:
		e.dispatchCrmEvent(ctx, act, key)
	}
}

func (e *Engine) dispatchCrmEvent(ctx context.Context, act *types.Action, key types.TransitionKey) {
	switch act.Task {
	case "stonith":
		if e.fencer == nil {
			e.arena.confirm(act.ID, true)
			return
		}
		go func() {
			_, err := e.fencer.Fence(ctx, act.TargetUname, types.FenceAction(act.Params["action"]), "transition", key.String())
			e.arena.confirm(act.ID, err != nil)
			e.trigger.Set()
		}()
	case "cluster-action":
		if e.peers == nil {
			e.arena.confirm(act.ID, true)
			return
		}
		err := e.peers.Send(act.TargetUname, "te-confirm", []byte(key.String()))
		e.arena.confirm(act.ID, err != nil)
	default:
		e.arena.confirm(act.ID, true)
	}
	e.trigger.Set()
}

func (e *Engine) scheduleTimeout(act *types.Action) {
	if act.Timeout <= 0 {
		return
	}
	e.wheel.Schedule(actionTimerName(e.graphID, act.ID), act.Timeout, func() {
		_, newly := e.arena.confirm(act.ID, true)
		if !newly {
			return
		}
		e.arena.mu.Lock()
		e.arena.inflight--
		e.arena.mu.Unlock()
		metrics.ActionsInFlight.Set(float64(e.arena.inflightCount()))
		e.logger.Warn().Int("action_id", act.ID).Msg("action timed out")
		e.trigger.Set()
	})
}

func actionTimerName(graphID, actionID int) string {
	return "action:" + types.TransitionKey{GraphID: graphID, ActionID: actionID}.String()
}

// Run drives Pass repeatedly off the engine's edge trigger until the
// graph reaches complete or terminated, or ctx is cancelled.
func (e *Engine) Run(ctx context.Context) Status {
	ttl := time.NewTimer(e.graphTTL)
	defer ttl.Stop()

	started := time.Now()
	for {
		status := e.Pass(ctx)
		if status == StatusComplete || status == StatusTerminated {
			e.reportOutcome(status, started)
			return status
		}

		select {
		case <-e.trigger.Chan():
		case <-ttl.C:
			e.Abort(types.AbortRestart, "transition timer expired")
		case <-ctx.Done():
			e.reportOutcome(StatusTerminated, started)
			return StatusTerminated
		}
	}
}

func (e *Engine) reportOutcome(status Status, started time.Time) {
	outcome := "terminated"
	if status == StatusComplete {
		outcome = "complete"
	}
	metrics.TransitionsTotal.WithLabelValues(outcome).Inc()
	metrics.TransitionDuration.Observe(time.Since(started).Seconds())
}

// Stop releases the engine's per-action timers.
func (e *Engine) Stop() {
	e.wheel.StopAll()
}

func (a *arena) inflightCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.inflight
}
