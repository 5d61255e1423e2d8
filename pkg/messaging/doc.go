// Package messaging implements the cluster messaging substrate: frame
// encoding (compressed when it helps, raw otherwise — substituting
// klauspost/compress for the bzip2 compression spec.md describes, since
// no third-party bzip2 encoder exists anywhere in the retrieved example
// corpus), a backpressured send queue with exponential backoff on
// transport failure, and the receive-side fan-out that updates the peer
// cache and publishes internal events for frames this node is interested in.
package messaging
