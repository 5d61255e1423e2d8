package types

import (
	"fmt"
	"time"
)

// Peer is a node participating in cluster messaging.
type Peer struct {
	ID        string
	Uname     string
	UUID      string
	Addr      string
	Born      uint64
	State     MembershipState
	JoinPhase JoinPhase
	Expected  ExpectedState
	Procs     uint32 // bitmask of running subsystem processes
	LastSeen  time.Time
	WhenLost  time.Time // zero unless this peer has an outstanding departure notice
	FailCount int       // cleared on a successful NOTIFY_FENCE targeting this peer
}

// MembershipState is the cluster-membership status of a peer.
type MembershipState string

const (
	MemberOnline  MembershipState = "member"
	MemberLost    MembershipState = "lost"
	MemberUnknown MembershipState = "unknown"
)

// JoinPhase tracks a peer through the join handshake.
type JoinPhase string

const (
	JoinNack       JoinPhase = "nack"
	JoinNone       JoinPhase = "none"
	JoinWelcomed   JoinPhase = "welcomed"
	JoinIntegrated JoinPhase = "integrated"
	JoinFinalized  JoinPhase = "finalized"
	JoinConfirmed  JoinPhase = "confirmed"
)

// ExpectedState is the controller's target run-state for a peer.
type ExpectedState string

const (
	ExpectedUp    ExpectedState = "up"
	ExpectedDown  ExpectedState = "down"
	ExpectedUnset ExpectedState = ""
)

// TransitionKey uniquely identifies one action's completion notice,
// matching the wire form "<graph-id>:<action-id>:<target-rc>:<uuid>".
type TransitionKey struct {
	GraphID  int
	ActionID int
	TargetRC int
	UUID     string
}

func (k TransitionKey) String() string {
	return fmt.Sprintf("%d:%d:%d:%s", k.GraphID, k.ActionID, k.TargetRC, k.UUID)
}

// ParseTransitionKey parses the "<graph-id>:<action-id>:<target-rc>:<uuid>" form.
func ParseTransitionKey(s string) (TransitionKey, error) {
	var k TransitionKey
	n, err := fmt.Sscanf(s, "%d:%d:%d:%s", &k.GraphID, &k.ActionID, &k.TargetRC, &k.UUID)
	if err != nil || n != 4 {
		return TransitionKey{}, fmt.Errorf("malformed transition key %q", s)
	}
	return k, nil
}

// ActionTag distinguishes the three kinds of graph action.
type ActionTag string

const (
	ActionRscOp    ActionTag = "rsc-op"
	ActionPseudo   ActionTag = "pseudo"
	ActionCrmEvent ActionTag = "crm-event"
)

// Action is one node in a transition graph.
type Action struct {
	ID          int
	Tag         ActionTag
	TargetUname string
	Task        string
	ResourceID  string
	Interval    time.Duration
	Timeout     time.Duration
	Params      map[string]string
	CanFail     bool
	Confirmed   bool
	Failed      bool
	Executed    bool
}

// Synapse links a set of input actions to one output action; the output
// fires only once every input is confirmed (or satisfied per can-fail).
type Synapse struct {
	ID       int
	Inputs   []int // action IDs
	Output   int    // action ID
	Priority int
}

// AbortAction ranks how a transition in progress should be cut short.
type AbortAction string

const (
	AbortNone      AbortAction = "done"
	AbortRestart   AbortAction = "restart"
	AbortShutdown  AbortAction = "shutdown"
	AbortTerminate AbortAction = "terminate"
)

var abortPriority = map[AbortAction]int{
	AbortNone:      0,
	AbortRestart:   1,
	AbortShutdown:  2,
	AbortTerminate: 3,
}

// Outranks reports whether a supersedes b as an abort cause.
func (a AbortAction) Outranks(b AbortAction) bool {
	return abortPriority[a] > abortPriority[b]
}

// TransitionGraph is one scheduling pass's worth of actions and synapses.
type TransitionGraph struct {
	ID         int
	Actions    map[int]*Action
	Synapses   map[int]*Synapse
	BatchLimit int
	Complete   bool
	Abort      AbortAction
	AbortCause string
	CreatedAt  time.Time
}

// ResourceHistoryEntry records the last known outcome of one resource
// operation on one node, keyed by (resource id, task, interval).
type ResourceHistoryEntry struct {
	NodeUname     string
	ResourceID    string
	Task          string
	Interval      time.Duration
	CallID        int
	RC            int
	OpStatus      int
	LastRun       time.Time
	LastRC        time.Time
	RestartDigest string
	SecureDigest  string
	LockTime      time.Time
}

// PendingOperation tracks an in-flight resource-agent invocation.
type PendingOperation struct {
	CallID        int
	NodeUname     string
	ResourceID    string
	Task          string
	Interval      time.Duration
	Timeout       time.Duration
	Params        map[string]string
	TransitionKey TransitionKey
	StartedAt     time.Time
	Cancel        func()
}

// HostCheckMode governs how a fencing device decides what it can fence.
type HostCheckMode string

const (
	HostCheckNone        HostCheckMode = "none"
	HostCheckStaticList  HostCheckMode = "static-list"
	HostCheckDynamicList HostCheckMode = "dynamic-list"
	HostCheckStatus      HostCheckMode = "status"
)

// Device is a registered fencing agent and its configuration.
type Device struct {
	ID           string
	Agent        string // e.g. "fence_ipmilan"
	HostCheck    HostCheckMode
	HostList     []string // static-list targets
	Params       map[string]string
	Priority     int
	LastFencedAt map[string]time.Time
}

// LastFenced returns when target was last fenced through this device, or
// the zero Time if never.
func (d *Device) LastFenced(target string) time.Time {
	if d.LastFencedAt == nil {
		return time.Time{}
	}
	return d.LastFencedAt[target]
}

// FenceAction is the operation an async fence command performs.
type FenceAction string

const (
	FenceActionReboot FenceAction = "reboot"
	FenceActionOff    FenceAction = "off"
	FenceActionOn     FenceAction = "on"
	FenceActionStatus FenceAction = "status"
)

// ControllerState is one of the closed set of Controller FSM states.
type ControllerState string

const (
	StateStarting        ControllerState = "S_STARTING"
	StatePending         ControllerState = "S_PENDING"
	StateElection        ControllerState = "S_ELECTION"
	StateIntegration     ControllerState = "S_INTEGRATION"
	StateFinalizeJoin    ControllerState = "S_FINALIZE_JOIN"
	StatePolicyEngine    ControllerState = "S_POLICY_ENGINE"
	StateTransitionEngine ControllerState = "S_TRANSITION_ENGINE"
	StateIdle            ControllerState = "S_IDLE"
	StateNotDC           ControllerState = "S_NOT_DC"
	StateHalt            ControllerState = "S_HALT"
	StateStopping        ControllerState = "S_STOPPING"
	StateTerminate       ControllerState = "S_TERMINATE"
	StateIllegal         ControllerState = "S_ILLEGAL"
)

// ControllerInput is one event the Controller FSM reacts to.
type ControllerInput string

const (
	InputJoinOffer  ControllerInput = "I_JOIN_OFFER"
	InputJoinRequest ControllerInput = "I_JOIN_REQUEST"
	InputJoinResult ControllerInput = "I_JOIN_RESULT"
	InputNodeJoin   ControllerInput = "I_NODE_JOIN"
	InputNodeLeft   ControllerInput = "I_NODE_LEFT"
	InputPECalc     ControllerInput = "I_PE_CALC"
	InputPESuccess  ControllerInput = "I_PE_SUCCESS"
	InputTESuccess  ControllerInput = "I_TE_SUCCESS"
	InputTEAborted  ControllerInput = "I_TE_ABORTED"
	InputCIBUpdate  ControllerInput = "I_CIB_UPDATE"
	InputLRMEvent   ControllerInput = "I_LRM_EVENT"
	InputElection   ControllerInput = "I_ELECTION"
	InputElectionDC ControllerInput = "I_ELECTION_DC"
	InputReleaseDC  ControllerInput = "I_RELEASE_DC"
	InputShutdown   ControllerInput = "I_SHUTDOWN"
	InputTerminate  ControllerInput = "I_TERMINATE"
	InputFail       ControllerInput = "I_FAIL"
	InputError      ControllerInput = "I_ERROR"
	InputHalt       ControllerInput = "I_HALT"
)

// ControllerAction is one bit of the action bitmask a transition rule
// produces. Subsystems are idempotent with respect to their own bit.
type ControllerAction uint32

const (
	ActionDCTakeover ControllerAction = 1 << iota
	ActionIntegrateTimerStart
	ActionJoinOfferAll
	ActionPEStart
	ActionTEStart
	ActionTEHalt
	ActionLRMDisconnect
	ActionCIBBump
	ActionElectionVote
)

// AsyncFenceCommand is one outstanding or completed fence request.
type AsyncFenceCommand struct {
	ID          string
	Target      string
	Action      FenceAction
	DeviceID    string
	Origin      string
	ClientID    string
	SubmittedAt time.Time
	CompletedAt time.Time
	RC          int
	Output      string
}
