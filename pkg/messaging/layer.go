package messaging

import (
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/nodequorum/controld/pkg/events"
	"github.com/nodequorum/controld/pkg/log"
	"github.com/nodequorum/controld/pkg/metrics"
	"github.com/nodequorum/controld/pkg/peer"
	"github.com/nodequorum/controld/pkg/transport"
	"github.com/nodequorum/controld/pkg/types"
)

// FrameType enumerates the envelope types the messaging layer recognizes.
const (
	FrameTypeMembership = "membership"
	FrameTypeTEConfirm  = "te-confirm"
	FrameTypeFenceNotify = "fence-notify"
	FrameTypeJoinOffer  = "join-offer"
	FrameTypeGeneric    = "generic"
)

// Layer ties a Transport, the outbound Queue, the peer cache, and the
// internal event broker together: it decodes inbound frames, applies
// membership deltas to the peer cache (through ResolveContradiction so a
// stale report can't flap a live peer), and republishes everything else
// onto the broker for whichever subsystem cares.
type Layer struct {
	selfUname string
	transport transport.Transport
	queue     *Queue
	cache     *peer.Cache
	broker    *events.Broker
	logger    zerolog.Logger
	stopCh    chan struct{}
}

// NewLayer wires a messaging Layer over an already-constructed transport.
func NewLayer(selfUname string, t transport.Transport, cache *peer.Cache, broker *events.Broker, queueDepth int) *Layer {
	return &Layer{
		selfUname: selfUname,
		transport: t,
		queue:     NewQueue(t, queueDepth),
		cache:     cache,
		broker:    broker,
		logger:    log.WithComponent("messaging"),
		stopCh:    make(chan struct{}),
	}
}

// Start begins the send queue and the receive loop.
func (l *Layer) Start() {
	l.queue.Start()
	go l.receiveLoop()
}

// Stop halts both the send queue and the receive loop.
func (l *Layer) Stop() {
	l.queue.Stop()
	close(l.stopCh)
}

// SendMembershipDelta announces this node's current view of peer p.
func (l *Layer) SendMembershipDelta(p *types.Peer) error {
	env := Envelope{Type: FrameTypeMembership, From: l.selfUname, Body: []byte(string(p.State) + ":" + p.Uname)}
	wire, uncompressed, err := Encode(env)
	if err != nil {
		return err
	}
	metrics.MessagingCompressionRatio.Observe(float64(len(wire)) / float64(uncompressed))
	return l.queue.Enqueue("", wire)
}

// Send queues a generic frame for one target.
func (l *Layer) Send(target string, frameType string, body []byte) error {
	env := Envelope{Type: frameType, From: l.selfUname, Body: body}
	wire, uncompressed, err := Encode(env)
	if err != nil {
		return err
	}
	metrics.MessagingCompressionRatio.Observe(float64(len(wire)) / float64(uncompressed))
	return l.queue.Enqueue(target, wire)
}

func (l *Layer) receiveLoop() {
	for {
		select {
		case msg := <-l.transport.Receive():
			l.handle(msg)
		case <-l.stopCh:
			return
		}
	}
}

func (l *Layer) handle(msg transport.Message) {
	env, err := Decode(msg.Payload)
	if err != nil {
		l.logger.Warn().Err(err).Str("from", msg.From).Msg("dropping undecodable frame")
		return
	}

	metrics.MessagingFramesTotal.WithLabelValues("received").Inc()

	switch env.Type {
	case FrameTypeMembership:
		l.handleMembership(env)
	default:
		if l.broker != nil {
			l.broker.Publish(&events.Event{
				Type:     events.EventFrameReceived,
				Message:  env.Type,
				Metadata: map[string]string{"from": env.From, "body": string(env.Body)},
			})
		}
	}
}

func (l *Layer) handleMembership(env Envelope) {
	body := string(env.Body)
	i := strings.IndexByte(body, ':')
	if i < 0 {
		return
	}
	state, uname := types.MembershipState(body[:i]), body[i+1:]

	p, ok := l.cache.GetByUname(uname)
	if !ok {
		return
	}
	l.cache.ResolveContradiction(p.ID, state, time.Now())
}
