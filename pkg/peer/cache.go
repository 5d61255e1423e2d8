package peer

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/nodequorum/controld/pkg/events"
	"github.com/nodequorum/controld/pkg/log"
	"github.com/nodequorum/controld/pkg/metrics"
	"github.com/nodequorum/controld/pkg/types"
)

// ReconciliationThreshold bounds how far apart two membership reports for
// the same peer can disagree before the newer report wins
// outright rather than being treated as a stale duplicate.
const ReconciliationThreshold = 60 * time.Second

// Cache is the authoritative, in-memory store of known peers.
type Cache struct {
	mu         sync.RWMutex
	peers      map[string]*types.Peer
	byUname    map[string]string // uname -> id
	staleAfter time.Duration
	broker     *events.Broker
	logger     zerolog.Logger
	stopCh     chan struct{}
}

// NewCache creates a peer cache. staleAfter is the last-seen age at which
// a member is demoted to lost by the autoreap sweep.
func NewCache(staleAfter time.Duration, broker *events.Broker) *Cache {
	return &Cache{
		peers:      make(map[string]*types.Peer),
		byUname:    make(map[string]string),
		staleAfter: staleAfter,
		broker:     broker,
		logger:     log.WithComponent("peer"),
		stopCh:     make(chan struct{}),
	}
}

// Upsert inserts or replaces a peer record.
func (c *Cache) Upsert(p *types.Peer) {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, existed := c.peers[p.ID]
	c.peers[p.ID] = p
	c.byUname[p.Uname] = p.ID

	if !existed && c.broker != nil {
		c.broker.Publish(&events.Event{
			Type:    events.EventPeerJoined,
			Message: p.Uname,
		})
	}
}

// Get returns the peer with the given id.
func (c *Cache) Get(id string) (*types.Peer, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.peers[id]
	return p, ok
}

// GetByUname returns the peer with the given uname.
func (c *Cache) GetByUname(uname string) (*types.Peer, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	id, ok := c.byUname[uname]
	if !ok {
		return nil, false
	}
	p, ok := c.peers[id]
	return p, ok
}

// Remove deletes a peer from the cache entirely (used when a peer nacks
// the join handshake or is administratively removed).
func (c *Cache) Remove(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if p, ok := c.peers[id]; ok {
		delete(c.byUname, p.Uname)
		delete(c.peers, id)
	}
}

// List returns a snapshot of all known peers.
func (c *Cache) List() []*types.Peer {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*types.Peer, 0, len(c.peers))
	for _, p := range c.peers {
		out = append(out, p)
	}
	return out
}

// Touch records that a fresh membership report was seen for id.
func (c *Cache) Touch(id string, at time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.peers[id]
	if !ok {
		return
	}
	p.LastSeen = at
	if p.State == types.MemberLost {
		p.State = types.MemberOnline
		p.WhenLost = time.Time{}
	}
}

// ResolveContradiction reconciles two conflicting membership reports for
// the same peer (e.g. one transport path reports it lost while another
// still reports heartbeats). The report with the later timestamp wins
// outright once the two disagree by more than ReconciliationThreshold;
// within the threshold, "member" wins over "lost" to avoid flapping.
func (c *Cache) ResolveContradiction(id string, reportedState types.MembershipState, reportedAt time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	p, ok := c.peers[id]
	if !ok {
		return
	}

	age := reportedAt.Sub(p.LastSeen)
	if age < 0 {
		age = -age
	}

	if age > ReconciliationThreshold {
		if reportedAt.After(p.LastSeen) {
			p.State = reportedState
			p.LastSeen = reportedAt
		}
		return
	}

	if reportedState == types.MemberLost && p.State == types.MemberOnline {
		return // within the window, trust the more recent "member" signal
	}

	p.State = reportedState
	if reportedAt.After(p.LastSeen) {
		p.LastSeen = reportedAt
	}
}

// MarkFenced applies a successful NOTIFY_FENCE outcome to uname: clears
// its fail-count, drops it to lost/down, and resets its join phase so a
// later rejoin starts the handshake clean. A no-op if uname is unknown
// (the fenced node may have already been removed from the cache).
func (c *Cache) MarkFenced(uname string) {
	c.mu.Lock()
	p, ok := c.byUname[uname]
	if !ok {
		c.mu.Unlock()
		return
	}
	peer := c.peers[p]
	peer.FailCount = 0
	peer.State = types.MemberLost
	peer.JoinPhase = types.JoinNone
	peer.WhenLost = time.Now()
	c.mu.Unlock()

	c.logger.Info().Str("uname", uname).Msg("peer fenced, clearing fail-count and marking lost")
	if c.broker != nil {
		c.broker.Publish(&events.Event{Type: events.EventPeerLost, Message: uname})
	}
}

// Start begins the autoreap sweep.
func (c *Cache) Start() {
	go c.run()
}

// Stop halts the autoreap sweep.
func (c *Cache) Stop() {
	close(c.stopCh)
}

func (c *Cache) run() {
	ticker := time.NewTicker(c.staleAfter / 3)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.sweep()
		case <-c.stopCh:
			return
		}
	}
}

func (c *Cache) sweep() {
	now := time.Now()
	counts := map[types.MembershipState]int{}

	c.mu.Lock()
	for _, p := range c.peers {
		if p.State == types.MemberOnline && now.Sub(p.LastSeen) > c.staleAfter {
			c.logger.Warn().Str("uname", p.Uname).Dur("age", now.Sub(p.LastSeen)).Msg("peer exceeded staleness window, marking lost")
			p.State = types.MemberLost
			p.WhenLost = now
			if c.broker != nil {
				c.broker.Publish(&events.Event{Type: events.EventPeerLost, Message: p.Uname})
			}
		}
		counts[p.State]++
	}
	c.mu.Unlock()

	for state, n := range counts {
		metrics.PeersTotal.WithLabelValues(string(state)).Set(float64(n))
	}
}
