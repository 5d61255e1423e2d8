// Package executor is the controller's executor client (the LRM half of
// the controller/LRM split): it tracks per-node resource history and
// in-flight operations, dispatches resource-agent invocations through an
// AgentRunner, and runs process_event, the pipeline that turns a
// completed invocation into a history update and, where one is pending,
// a transition confirmation. Restart and secure digests follow
// controld_execd.c's three-way parameter split (unique, private,
// reloadable) rather than collapsing to one hash, so a reloadable
// parameter change doesn't force an unnecessary restart.
package executor
