// Package transition is the transition graph engine (TE): given a graph of
// actions and synapses, it fires eligible synapses in dependency order up
// to a load-throttled batch limit, confirms actions asynchronously by
// transition key, and aborts under the done < restart < shutdown <
// terminate priority ordering. The scheduling-pass loop follows the
// teacher's run/reconcile shape, woken by an edge trigger rather than a
// ticker; the batch-limit throttle
// samples system load through gopsutil.
package transition
