package reconciler

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nodequorum/controld/pkg/controller"
	"github.com/nodequorum/controld/pkg/events"
	"github.com/nodequorum/controld/pkg/types"
)

type fakePoster struct {
	mu    sync.Mutex
	posts []controller.InputEvent
}

func (f *fakePoster) Post(ev controller.InputEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.posts = append(f.posts, ev)
}

func (f *fakePoster) last() (controller.InputEvent, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.posts) == 0 {
		return controller.InputEvent{}, false
	}
	return f.posts[len(f.posts)-1], true
}

func TestPeerJoinedTranslatesToNodeJoinInput(t *testing.T) {
	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	poster := &fakePoster{}
	r := NewReconciler(broker, poster)
	r.Start()
	defer r.Stop()

	broker.Publish(&events.Event{Type: events.EventPeerJoined, Message: "node-b"})

	require.Eventually(t, func() bool {
		ev, ok := poster.last()
		return ok && ev.Input == types.InputNodeJoin
	}, 2*time.Second, 10*time.Millisecond)

	ev, _ := poster.last()
	assert.Equal(t, "node-b", ev.PeerUname)
}

func TestPeerLostTranslatesToNodeLeftInput(t *testing.T) {
	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	poster := &fakePoster{}
	r := NewReconciler(broker, poster)
	r.Start()
	defer r.Stop()

	broker.Publish(&events.Event{Type: events.EventPeerLost, Message: "node-b"})

	require.Eventually(t, func() bool {
		ev, ok := poster.last()
		return ok && ev.Input == types.InputNodeLeft
	}, 2*time.Second, 10*time.Millisecond)
}

func TestUnrelatedEventIgnored(t *testing.T) {
	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	poster := &fakePoster{}
	r := NewReconciler(broker, poster)
	r.Start()
	defer r.Stop()

	broker.Publish(&events.Event{Type: events.EventActionConfirmed})
	time.Sleep(50 * time.Millisecond)

	_, ok := poster.last()
	assert.False(t, ok)
}
