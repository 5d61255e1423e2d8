package reconciler

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/nodequorum/controld/pkg/controller"
	"github.com/nodequorum/controld/pkg/events"
	"github.com/nodequorum/controld/pkg/log"
	"github.com/nodequorum/controld/pkg/types"
)

// Poster accepts Controller FSM inputs. Satisfied by *controller.Context;
// narrowed to an interface so tests can assert on posted inputs without a
// live FSM goroutine.
type Poster interface {
	Post(controller.InputEvent)
}

// Reconciler subscribes to the event broker and turns peer-cache
// membership events into Controller FSM inputs. The FSM has no direct
// dependency on the peer cache's internals; this is the only place that
// knows EventPeerJoined means I_NODE_JOIN and EventPeerLost means
// I_NODE_LEFT.
type Reconciler struct {
	broker *events.Broker
	ctx    Poster
	logger zerolog.Logger

	mu     sync.Mutex
	sub    events.Subscriber
	stopCh chan struct{}
}

// NewReconciler creates a reconciler feeding ctx from broker events.
func NewReconciler(broker *events.Broker, ctx Poster) *Reconciler {
	return &Reconciler{
		broker: broker,
		ctx:    ctx,
		logger: log.WithComponent("reconciler"),
		stopCh: make(chan struct{}),
	}
}

// Start begins the event-bridging loop.
func (r *Reconciler) Start() {
	r.mu.Lock()
	r.sub = r.broker.Subscribe()
	r.mu.Unlock()
	go r.run()
}

// Stop ends the event-bridging loop and unsubscribes from the broker.
func (r *Reconciler) Stop() {
	close(r.stopCh)
}

func (r *Reconciler) run() {
	r.logger.Info().Msg("reconciler started")
	defer r.broker.Unsubscribe(r.sub)

	for {
		select {
		case ev := <-r.sub:
			if ev != nil {
				r.handle(ev)
			}
		case <-r.stopCh:
			r.logger.Info().Msg("reconciler stopped")
			return
		}
	}
}

func (r *Reconciler) handle(ev *events.Event) {
	switch ev.Type {
	case events.EventPeerJoined:
		r.ctx.Post(controller.InputEvent{Input: types.InputNodeJoin, PeerUname: ev.Message, Reason: "peer cache reported a new peer"})
	case events.EventPeerLost:
		r.ctx.Post(controller.InputEvent{Input: types.InputNodeLeft, PeerUname: ev.Message, Reason: "peer cache autoreap marked peer lost"})
	}
}
