package transport

import "context"

// Message is one frame received from a peer.
type Message struct {
	From    string
	Payload []byte
}

// Transport is the cluster transport abstraction messaging sends
// through. Implementing it is out of this repository's core scope (an
// external collaborator per spec); the interface and the two
// implementations here exist so messaging has something concrete to run
// against.
type Transport interface {
	// Broadcast sends payload to every known peer.
	Broadcast(ctx context.Context, payload []byte) error

	// Send sends payload to one named peer.
	Send(ctx context.Context, target string, payload []byte) error

	// Receive returns the channel of inbound messages from any peer.
	Receive() <-chan Message

	Close() error
}
