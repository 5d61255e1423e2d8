// Package cib is the client shim through which controld reads and writes
// cluster configuration and status. The CIB itself is an out-of-process
// collaborator (per spec, its replication is explicitly out of scope);
// this package defines the Client interface controld's subsystems code
// against, a scoped-path subscription mechanism, the transition-magic
// attribute codec used to correlate a status update with the transition
// that caused it, and a bbolt-backed reference/test implementation
// adapted from the teacher's bucket-per-entity store.
package cib
