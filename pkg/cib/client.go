package cib

import "context"

// ChangeOp describes the kind of write a Notification reports.
type ChangeOp string

const (
	ChangeUpdate ChangeOp = "update"
	ChangeRemove ChangeOp = "remove"
)

// Notification is delivered to subscribers when a scoped path changes.
type Notification struct {
	Op   ChangeOp
	Path string
	Doc  []byte // the full XML fragment at Path after the change; nil for removes
}

// Client is the interface controld's subsystems use to interact with the
// CIB. Section paths are scoped attribute paths of the form
// "/cib/status/node_state[@uname='node-a']", matching the shape of a
// cib_xpath scoped delete without implementing full XPath.
type Client interface {
	// Query returns the XML fragment at path.
	Query(ctx context.Context, path string) ([]byte, error)

	// Update replaces (or creates) the fragment at path.
	Update(ctx context.Context, path string, doc []byte) error

	// Remove deletes the fragment at path.
	Remove(ctx context.Context, path string) error

	// Subscribe registers interest in changes under pathPrefix. The
	// returned channel is closed when Close is called.
	Subscribe(pathPrefix string) <-chan Notification

	Close() error
}
