package messaging

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nodequorum/controld/pkg/transport"
)

func TestQueueDeliversToTarget(t *testing.T) {
	reg := transport.NewRegistry()
	a := transport.NewMemoryTransport(reg, "node-a")
	b := transport.NewMemoryTransport(reg, "node-b")
	defer a.Close()
	defer b.Close()

	q := NewQueue(a, 8)
	q.Start()
	defer q.Stop()

	require.NoError(t, q.Enqueue("node-b", []byte("payload")))

	select {
	case msg := <-b.Receive():
		assert.Equal(t, "payload", string(msg.Payload))
	case <-time.After(2 * time.Second):
		t.Fatal("expected delivery")
	}
}

func TestQueueEnqueueFullReturnsError(t *testing.T) {
	reg := transport.NewRegistry()
	a := transport.NewMemoryTransport(reg, "node-a")
	defer a.Close()

	q := NewQueue(a, 1)
	// Fill the queue without starting the worker so it can't drain.
	require.NoError(t, q.Enqueue("ghost", []byte("1")))

	err := q.Enqueue("ghost", []byte("2"))
	assert.Error(t, err)
}
