// Package peer implements the cluster peer cache: the authoritative map
// of known nodes, their membership state, and their progress through the
// join handshake (none -> welcomed -> integrated -> finalized ->
// confirmed, or nack). It also runs the autoreap sweep that demotes a
// peer to lost once its last-seen timestamp exceeds the configured
// staleness window, grounded on the teacher's ticker-driven reconciler
// loop.
package peer
