package transport

import (
	"context"
	"sync"

	"github.com/nodequorum/controld/pkg/ctlerr"
)

// registry wires MemoryTransport instances that share it together,
// mimicking a real cluster fabric without sockets.
type registry struct {
	mu      sync.Mutex
	members map[string]*MemoryTransport
}

// NewRegistry creates a fresh, empty in-process transport registry.
func NewRegistry() *registry {
	return &registry{members: make(map[string]*MemoryTransport)}
}

// MemoryTransport is an in-process Transport implementation for tests:
// Broadcast/Send deliver synchronously to the target's Receive channel.
type MemoryTransport struct {
	uname  string
	reg    *registry
	recvCh chan Message
	closed bool
	mu     sync.Mutex
}

// NewMemoryTransport registers a new member named uname on reg.
func NewMemoryTransport(reg *registry, uname string) *MemoryTransport {
	t := &MemoryTransport{uname: uname, reg: reg, recvCh: make(chan Message, 256)}
	reg.mu.Lock()
	reg.members[uname] = t
	reg.mu.Unlock()
	return t
}

func (t *MemoryTransport) Send(_ context.Context, target string, payload []byte) error {
	t.reg.mu.Lock()
	dst, ok := t.reg.members[target]
	t.reg.mu.Unlock()
	if !ok {
		return ctlerr.New(ctlerr.PeerUnreachable, "transport.MemoryTransport.Send", "no such member "+target, nil)
	}

	dst.mu.Lock()
	closed := dst.closed
	dst.mu.Unlock()
	if closed {
		return ctlerr.New(ctlerr.PeerUnreachable, "transport.MemoryTransport.Send", target+" is closed", nil)
	}

	select {
	case dst.recvCh <- Message{From: t.uname, Payload: append([]byte(nil), payload...)}:
	default:
		return ctlerr.New(ctlerr.Unavailable, "transport.MemoryTransport.Send", target+" receive buffer full", nil)
	}
	return nil
}

func (t *MemoryTransport) Broadcast(ctx context.Context, payload []byte) error {
	t.reg.mu.Lock()
	targets := make([]string, 0, len(t.reg.members))
	for uname := range t.reg.members {
		if uname != t.uname {
			targets = append(targets, uname)
		}
	}
	t.reg.mu.Unlock()

	var firstErr error
	for _, target := range targets {
		if err := t.Send(ctx, target, payload); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (t *MemoryTransport) Receive() <-chan Message {
	return t.recvCh
}

func (t *MemoryTransport) Close() error {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()

	t.reg.mu.Lock()
	delete(t.reg.members, t.uname)
	t.reg.mu.Unlock()
	return nil
}
