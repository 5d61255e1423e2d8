/*
Package types defines the data records shared by controld's subsystems:
peers, transition graphs and their actions/synapses, resource history and
pending operations, fencing devices, and async fence commands.

These are plain records; ownership and invariants are enforced by the
package that is authoritative for each type (see the package doc comments
for pkg/peer, pkg/transition, pkg/executor, and pkg/fencing), not by
methods on the types themselves.
*/
package types
