/*
Package metrics registers controld's Prometheus metrics (peer membership,
FSM state, transition graph throughput, executor call latency, fencing
operation outcomes, messaging queue depth) and exposes the /health,
/ready, and /live HTTP endpoints consumed by process supervisors.
*/
package metrics
