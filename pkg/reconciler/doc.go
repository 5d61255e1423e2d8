// Package reconciler bridges the peer cache's membership events and its
// periodic autoreap sweep into the Controller FSM's own input vocabulary.
// Nothing else in the tree turns a peer going lost into I_NODE_LEFT, or a
// peer newly added to the cache into I_NODE_JOIN; that translation lives here so the
// FSM never has to know how membership is tracked.
package reconciler
