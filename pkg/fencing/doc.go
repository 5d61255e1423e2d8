// Package fencing is the cluster's fencing coordinator (stonith-ng's Go
// analogue): it keeps a registry of configured fencing devices, decides
// which devices can fence a given target through the host-check dispatch
// in device.go (grounded on fencing/commands.c's can_fence_host_with_device),
// serializes commands per device through a FIFO queue guarded by a circuit
// breaker, runs the fence-agent child process through a SIGTERM/SIGKILL
// escalation ladder, and broadcasts completed fence operations to the rest
// of the cluster over the messaging layer.
package fencing
