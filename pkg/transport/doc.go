// Package transport defines the Transport interface cluster messaging
// sends frames through, plus two implementations: a length-prefixed
// net.Conn transport for real deployments (the spec's wire protocol is a
// custom framed format, not gRPC — see the hand-rolled framing below
// rather than a generated RPC stub) and an in-process registry transport
// used by tests to exercise messaging without real sockets.
package transport
