// Package controller implements the cluster controller's finite state
// machine: a closed set of states, a closed set of inputs, and a
// transition table mapping (state, input) to an action bitmask and a
// next state. Side-effecting work (starting the policy engine, kicking
// off a transition graph, disconnecting the executor) is expressed as
// bits in the action mask rather than inline calls, so a rule can be
// read off the table without chasing call sites.
//
// DC leadership is a thin wrapper around a Raft group in election.go:
// Raft here never replicates cluster state, only decides who holds the
// DC role, and leadership changes are translated into the FSM's own
// I_ELECTION_DC/I_RELEASE_DC inputs rather than handled ad hoc.
package controller
