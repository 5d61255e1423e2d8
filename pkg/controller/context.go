package controller

import (
	"context"
	"os"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/nodequorum/controld/pkg/cib"
	"github.com/nodequorum/controld/pkg/events"
	"github.com/nodequorum/controld/pkg/executor"
	"github.com/nodequorum/controld/pkg/fencing"
	"github.com/nodequorum/controld/pkg/log"
	"github.com/nodequorum/controld/pkg/messaging"
	"github.com/nodequorum/controld/pkg/metrics"
	"github.com/nodequorum/controld/pkg/peer"
	"github.com/nodequorum/controld/pkg/transition"
	"github.com/nodequorum/controld/pkg/trigger"
	"github.com/nodequorum/controld/pkg/types"
)

// haltFn and exitFn are the self-fence exit path, overridden in tests so
// a unit test can observe the decision without actually halting or
// exiting the process.
var (
	haltFn = func() {
		if err := syscall.Reboot(syscall.LINUX_REBOOT_CMD_HALT); err != nil {
			exitFn(100)
		}
	}
	exitFn = os.Exit
)

// Deps bundles the subsystem handles a Context dispatches FSM actions
// through. Re-architected from the original's process-wide singletons
// (transition_graph, fsa_state, stonith_api, peer caches) into one value
// a caller constructs and threads explicitly, so tests can instantiate
// several independent contexts.
type Deps struct {
	Peers     *peer.Cache
	Messaging *messaging.Layer
	CIB       cib.Client
	Executor  *executor.Client
	Fencer    *fencing.Coordinator
	Broker    *events.Broker
	Throttle  *transition.Throttle
}

// InputEvent is one FSM input, with the payload some inputs carry (the
// ready graph for I_PE_SUCCESS, a joining peer's uname for I_NODE_JOIN).
type InputEvent struct {
	Input     types.ControllerInput
	Graph     *types.TransitionGraph
	PeerUname string
	Reason    string
}

// Context is the controller's FSM driver: current state, the subsystem
// handles actions dispatch through, and whichever transition graph is
// presently running.
type Context struct {
	nodeUname string
	deps      Deps
	logger    zerolog.Logger

	mu           sync.Mutex
	state        types.ControllerState
	isDC         bool
	engine       *transition.Engine
	pendingGraph *types.TransitionGraph
	graphSeq     int

	inputs chan InputEvent
	sub    events.Subscriber
	wheel  *trigger.Wheel
	stopCh chan struct{}
}

// NewContext creates a Context in S_STARTING.
func NewContext(nodeUname string, deps Deps) *Context {
	return &Context{
		nodeUname: nodeUname,
		deps:      deps,
		logger:    log.WithNodeID(nodeUname),
		state:     types.StateStarting,
		inputs:    make(chan InputEvent, 256),
		wheel:     trigger.NewWheel(),
		stopCh:    make(chan struct{}),
	}
}

// State returns the FSM's current state.
func (c *Context) State() types.ControllerState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// IsDC reports whether this node currently holds the DC role.
func (c *Context) IsDC() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.isDC
}

// Post enqueues an input for processing by Run's single dispatch loop.
// Serial processing is deliberate: the transition table's guards (join
// tracking, verify_stopped) assume no two inputs race each other, the
// same invariant the original single-threaded crmd main loop relied on.
func (c *Context) Post(ev InputEvent) {
	select {
	case c.inputs <- ev:
	default:
		c.logger.Warn().Str("input", string(ev.Input)).Msg("input queue full, dropping")
	}
}

// RequestAbort raises the active graph's abort priority, but only in a
// state where a graph could be running; elsewhere the request is
// swallowed and logged, matching the spec's abort-suppression rule.
func (c *Context) RequestAbort(action types.AbortAction, reason string) {
	if !InRunningState(c.State()) {
		c.logger.Debug().Str("reason", reason).Msg("abort request suppressed, no graph runs in this state")
		return
	}
	c.mu.Lock()
	engine := c.engine
	c.mu.Unlock()
	if engine != nil {
		engine.Abort(action, reason)
	}
}

// Run drives the FSM until ctx is cancelled or the FSM reaches
// S_TERMINATE. It owns the single dispatch goroutine: inputs posted via
// Post, resource-operation completions, fence completions, and inbound
// te-confirm frames all funnel through here serially.
func (c *Context) Run(ctx context.Context) {
	if c.deps.Broker != nil {
		c.sub = c.deps.Broker.Subscribe()
		defer c.deps.Broker.Unsubscribe(c.sub)
	}
	defer c.wheel.StopAll()

	for {
		if c.State() == types.StateTerminate {
			return
		}
		select {
		case ev := <-c.inputs:
			c.handle(ev)
		case ev := <-c.sub:
			if ev != nil {
				c.handleBrokerEvent(ev)
			}
		case <-ctx.Done():
			return
		case <-c.stopCh:
			return
		}
	}
}

// Stop ends Run's loop from outside, for graceful shutdown paths that
// don't go through ctx cancellation (e.g. a supervisor coordinating
// several contexts).
func (c *Context) Stop() {
	close(c.stopCh)
}

func (c *Context) handleBrokerEvent(ev *events.Event) {
	// Fence notifications and coordinator loss matter even with no graph
	// running (cross-peer cleanup, self-fence), so they bypass the
	// engine-required gate below.
	switch {
	case ev.Type == events.EventFrameReceived && ev.Message == messaging.FrameTypeFenceNotify:
		c.handleFenceNotify(ev)
		return
	case ev.Type == events.EventFencerDisconnected:
		c.mu.Lock()
		engine := c.engine
		c.mu.Unlock()
		if engine != nil {
			engine.FailIncompleteStonith(ev.Message)
		}
		return
	}

	c.mu.Lock()
	engine := c.engine
	c.mu.Unlock()
	if engine == nil {
		return
	}

	switch ev.Type {
	case events.EventOpCompleted, events.EventFenceCompleted:
		raw, ok := ev.Metadata["transition_key"]
		if !ok {
			return
		}
		key, err := types.ParseTransitionKey(raw)
		if err != nil {
			return
		}
		failed := ev.Metadata["rc"] != "" && ev.Metadata["rc"] != "0"
		engine.Confirm(key, failed)
	case events.EventFrameReceived:
		if ev.Message != messaging.FrameTypeTEConfirm {
			return
		}
		key, err := types.ParseTransitionKey(ev.Metadata["body"])
		if err != nil {
			return
		}
		engine.Confirm(key, false)
	}
}

// handleFenceNotify applies a cluster-wide NOTIFY_FENCE broadcast
// ("target:action:rc:origin"). A self-targeted notification bypasses
// all other cleanup and goes straight to selfFence; otherwise a
// successful fence (rc == 0) clears the target's fail-count, marks it
// lost, aborts any transition this node didn't originate, and — if this
// node is DC — records the outcome in the CIB.
func (c *Context) handleFenceNotify(ev *events.Event) {
	parts := strings.SplitN(ev.Metadata["body"], ":", 4)
	if len(parts) < 3 {
		c.logger.Warn().Str("body", ev.Metadata["body"]).Msg("malformed fence notification, ignoring")
		return
	}
	target := parts[0]
	rc, err := strconv.Atoi(parts[2])
	if err != nil {
		c.logger.Warn().Str("body", ev.Metadata["body"]).Msg("malformed fence notification rc, ignoring")
		return
	}
	origin := ""
	if len(parts) == 4 {
		origin = parts[3]
	}

	if target == c.nodeUname {
		c.selfFence(rc)
		return
	}
	if rc != 0 {
		return
	}

	if c.deps.Peers != nil {
		c.deps.Peers.MarkFenced(target)
	}
	if origin != c.nodeUname {
		c.RequestAbort(types.AbortRestart, "peer fenced by another node")
	}
	if c.IsDC() && c.deps.CIB != nil {
		if err := c.deps.CIB.Update(context.Background(), "/cib/status/"+target, nil); err != nil {
			c.logger.Warn().Err(err).Str("target", target).Msg("cib status update for fenced peer failed")
		}
	}
}

// selfFence handles a NOTIFY_FENCE naming this node as the target: some
// peer has already decided this node is gone, ok or not, so it bypasses
// all other cleanup (local state may already be inconsistent) and goes
// straight to haltFn, which falls back to exit(100) if the halt itself
// fails.
func (c *Context) selfFence(rc int) {
	c.logger.Warn().Int("rc", rc).Msg("received self-fence notification")
	haltFn()
}

// handle applies one input to the FSM: guarded special cases first
// (join progress, shutdown drain), then the plain transition table,
// then the catch-all invariant-violation path for an unknown pair.
func (c *Context) handle(ev InputEvent) {
	state := c.State()
	if state == types.StateTerminate {
		return
	}

	switch {
	case ev.Input == types.InputError:
		c.transitionTo(types.StateTerminate, types.ActionLRMDisconnect, "subsystem error is unconditionally fatal")
		return

	case ev.Input == types.InputTerminate:
		c.transitionTo(types.StateTerminate, types.ActionLRMDisconnect, "terminate requested")
		return

	case ev.Input == types.InputFail:
		c.transitionTo(types.StateHalt, 0, "recoverable subsystem failure")
		return

	case ev.Input == types.InputHalt:
		c.transitionTo(types.StateHalt, 0, "operator halt requested")
		return

	case state == types.StateIntegration && ev.Input == types.InputJoinResult:
		if c.allJoinersConfirmed() {
			c.transitionTo(types.StateFinalizeJoin, types.ActionCIBBump, "all joiners confirmed")
		}
		return

	case state == types.StateFinalizeJoin && ev.Input == types.InputJoinResult:
		if c.finalizeComplete() {
			c.transitionTo(types.StatePolicyEngine, types.ActionPEStart, "finalize complete")
		}
		return

	case state == types.StateStopping:
		c.tryFinishStopping(ev.Input == types.InputTerminate)
		return

	case ev.Input == types.InputShutdown && InRunningState(state):
		c.transitionTo(types.StateStopping, types.ActionTEHalt, "shutdown requested")
		c.RequestAbort(types.AbortShutdown, "shutdown requested")
		return

	case ev.Input == types.InputPESuccess:
		c.mu.Lock()
		c.pendingGraph = ev.Graph
		c.mu.Unlock()
	}

	next, actions, cause, ok := Dispatch(state, ev.Input)
	if !ok {
		c.logger.Error().Str("state", string(state)).Str("input", string(ev.Input)).
			Msg("fsm invariant violation: unrecognized (state, input) pair")
		c.transitionTo(types.StateTerminate, types.ActionLRMDisconnect, "fsm invariant violation")
		return
	}
	c.transitionTo(next, actions, cause)
}

// tryFinishStopping checks verify_stopped and, once satisfied, finishes
// the shutdown sequence. In S_TERMINATE a still-active resource is
// logged at ERROR and does not block; elsewhere it does.
func (c *Context) tryFinishStopping(terminal bool) {
	if c.deps.Executor != nil && !c.deps.Executor.VerifyStopped(terminal) {
		return
	}
	c.transitionTo(types.StateTerminate, types.ActionLRMDisconnect, "verify_stopped satisfied")
}

func (c *Context) transitionTo(next types.ControllerState, actions types.ControllerAction, cause string) {
	c.mu.Lock()
	prev := c.state
	c.state = next
	if next == types.StateNotDC {
		c.isDC = false
	}
	c.mu.Unlock()

	metrics.FSMStateTransitionsTotal.WithLabelValues(string(prev), string(next)).Inc()
	metrics.FSMCurrentState.WithLabelValues(string(prev)).Set(0)
	metrics.FSMCurrentState.WithLabelValues(string(next)).Set(1)
	c.logger.Info().Str("from", string(prev)).Str("to", string(next)).Str("cause", cause).Msg("fsm transition")

	c.applyActions(actions)
}

func (c *Context) applyActions(actions types.ControllerAction) {
	if actions&types.ActionDCTakeover != 0 {
		c.logger.Info().Msg("assuming DC role")
		c.mu.Lock()
		c.isDC = true
		c.mu.Unlock()
	}
	if actions&types.ActionElectionVote != 0 {
		c.logger.Debug().Msg("casting election vote")
	}
	if actions&types.ActionCIBBump != 0 && c.deps.CIB != nil {
		if err := c.deps.CIB.Update(context.Background(), "/cib/status/epoch", nil); err != nil {
			c.logger.Warn().Err(err).Msg("cib epoch bump failed")
		}
	}
	if actions&types.ActionIntegrateTimerStart != 0 {
		c.resetJoinTracking()
		c.wheel.Schedule("integrate-timeout", 30*time.Second, func() {
			c.Post(InputEvent{Input: types.InputJoinResult, Reason: "integration timer expired"})
		})
	}
	if actions&types.ActionJoinOfferAll != 0 {
		c.offerJoinToAll()
	}
	if actions&types.ActionPEStart != 0 {
		if c.deps.Broker != nil {
			c.deps.Broker.Publish(&events.Event{Type: events.EventTransitionAborted, Message: "policy engine recompute requested"})
		}
	}
	if actions&types.ActionTEStart != 0 {
		go c.runTransitionEngine()
	}
	if actions&types.ActionTEHalt != 0 {
		c.RequestAbort(types.AbortShutdown, "te halt requested")
	}
}

// runTransitionEngine consumes the graph an I_PE_SUCCESS input attached
// (the out-of-scope policy engine's output) and drives it to completion,
// translating the result back into I_TE_SUCCESS/I_TE_ABORTED.
func (c *Context) runTransitionEngine() {
	c.mu.Lock()
	graph := c.pendingGraph
	c.pendingGraph = nil
	c.graphSeq++
	c.mu.Unlock()

	if graph == nil {
		c.Post(InputEvent{Input: types.InputTEAborted, Reason: "no graph available"})
		return
	}

	engine := transition.NewEngine(graph, c.deps.Throttle, transition.Deps{
		Executor: c.deps.Executor,
		Fencer:   c.deps.Fencer,
		Peers:    c.deps.Messaging,
		Broker:   c.deps.Broker,
	})

	c.mu.Lock()
	c.engine = engine
	c.mu.Unlock()

	status := engine.Run(context.Background())
	engine.Stop()

	c.mu.Lock()
	c.engine = nil
	c.mu.Unlock()

	if status == transition.StatusComplete {
		c.Post(InputEvent{Input: types.InputTESuccess, Reason: "graph complete"})
	} else {
		c.Post(InputEvent{Input: types.InputTEAborted, Reason: "graph terminated"})
	}
}

func (c *Context) resetJoinTracking() {
	if c.deps.Peers == nil {
		return
	}
	for _, p := range c.deps.Peers.List() {
		p.JoinPhase = types.JoinNone
	}
}

func (c *Context) offerJoinToAll() {
	if c.deps.Peers == nil || c.deps.Messaging == nil {
		return
	}
	for _, p := range c.deps.Peers.List() {
		if p.State != types.MemberOnline {
			continue
		}
		if err := c.deps.Messaging.Send(p.Uname, messaging.FrameTypeJoinOffer, nil); err != nil {
			c.logger.Warn().Err(err).Str("peer", p.Uname).Msg("join offer failed")
			continue
		}
		p.JoinPhase = types.JoinWelcomed
	}
}

// allJoinersConfirmed reports whether every online peer has at least
// reached the integrated phase of the join handshake.
func (c *Context) allJoinersConfirmed() bool {
	if c.deps.Peers == nil {
		return true
	}
	for _, p := range c.deps.Peers.List() {
		if p.State != types.MemberOnline {
			continue
		}
		switch p.JoinPhase {
		case types.JoinIntegrated, types.JoinFinalized, types.JoinConfirmed:
		default:
			return false
		}
	}
	return true
}

// finalizeComplete reports whether every online peer has reached the
// finalized (or fully confirmed) phase.
func (c *Context) finalizeComplete() bool {
	if c.deps.Peers == nil {
		return true
	}
	for _, p := range c.deps.Peers.List() {
		if p.State != types.MemberOnline {
			continue
		}
		if p.JoinPhase != types.JoinFinalized && p.JoinPhase != types.JoinConfirmed {
			return false
		}
	}
	return true
}
