// Package trigger provides the two wake-up primitives the controller
// core is built from: an edge-triggered, coalescing Trigger (many calls
// to Set between two fires collapse into one wake-up) and a Wheel of
// named one-shot timers, used for transition action timeouts and the
// controller's join-integration timeout.
package trigger
