// Package realtime fans session events out to connected clients. Each connection
// has its own outbox and delivery goroutine, so a slow or dead client only ever
// loses its own events.
package realtime

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/kiliankoe/hueduel/internal/metrics"
)

// Conn is the part of a transport connection the broadcaster needs. socketio.Conn
// satisfies it.
type Conn interface {
	ID() string
	Emit(event string, v ...interface{})
}

const DefaultOutbox = 64

type message struct {
	event   string
	payload any
}

type peer struct {
	conn     Conn
	out      chan message
	done     chan struct{}
	sessions map[string]struct{} // guarded by Broadcaster.mu
}

type audience struct {
	pub   sync.Mutex // one publisher at a time keeps per-session order
	mu    sync.RWMutex
	peers map[string]*peer
}

func (a *audience) snapshot() []*peer {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]*peer, 0, len(a.peers))
	for _, p := range a.peers {
		out = append(out, p)
	}
	return out
}

type Broadcaster struct {
	mu        sync.RWMutex
	peers     map[string]*peer
	audiences map[string]*audience
	outbox    int
}

func New(outbox int) *Broadcaster {
	if outbox <= 0 {
		outbox = DefaultOutbox
	}
	return &Broadcaster{
		peers:     make(map[string]*peer),
		audiences: make(map[string]*audience),
		outbox:    outbox,
	}
}

// Connect registers a connection for global broadcasts. Connecting twice is a no-op.
func (b *Broadcaster) Connect(c Conn) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.connectLocked(c)
}

func (b *Broadcaster) connectLocked(c Conn) *peer {
	if p := b.peers[c.ID()]; p != nil {
		return p
	}
	p := &peer{
		conn:     c,
		out:      make(chan message, b.outbox),
		done:     make(chan struct{}),
		sessions: make(map[string]struct{}),
	}
	b.peers[c.ID()] = p
	go b.pump(p)
	return p
}

// Disconnect drops the connection from every audience and stops its delivery loop.
func (b *Broadcaster) Disconnect(c Conn) {
	b.mu.Lock()
	p := b.peers[c.ID()]
	if p == nil {
		b.mu.Unlock()
		return
	}
	delete(b.peers, c.ID())
	for sid := range p.sessions {
		b.leaveLocked(sid, p)
	}
	b.mu.Unlock()
	close(p.done)
}

// Subscribe adds the connection to a session's audience, connecting it if needed.
func (b *Broadcaster) Subscribe(sessionID string, c Conn) {
	b.mu.Lock()
	defer b.mu.Unlock()
	p := b.connectLocked(c)
	a := b.audiences[sessionID]
	if a == nil {
		a = &audience{peers: make(map[string]*peer)}
		b.audiences[sessionID] = a
	}
	a.mu.Lock()
	a.peers[c.ID()] = p
	a.mu.Unlock()
	p.sessions[sessionID] = struct{}{}
}

// Unsubscribe removes the connection from a session's audience. Removing a
// connection that is not subscribed does nothing.
func (b *Broadcaster) Unsubscribe(sessionID string, c Conn) {
	b.mu.Lock()
	defer b.mu.Unlock()
	p := b.peers[c.ID()]
	if p == nil {
		return
	}
	b.leaveLocked(sessionID, p)
}

func (b *Broadcaster) leaveLocked(sessionID string, p *peer) {
	delete(p.sessions, sessionID)
	a := b.audiences[sessionID]
	if a == nil {
		return
	}
	a.mu.Lock()
	delete(a.peers, p.conn.ID())
	empty := len(a.peers) == 0
	a.mu.Unlock()
	if empty {
		delete(b.audiences, sessionID)
	}
}

// Subscribers returns how many connections currently follow a session.
func (b *Broadcaster) Subscribers(sessionID string) int {
	b.mu.RLock()
	a := b.audiences[sessionID]
	b.mu.RUnlock()
	if a == nil {
		return 0
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.peers)
}

// Publish queues an event for every subscriber of a session and returns how many
// outboxes accepted it.
func (b *Broadcaster) Publish(sessionID, event string, payload any) int {
	b.mu.RLock()
	a := b.audiences[sessionID]
	b.mu.RUnlock()
	if a == nil {
		return 0
	}
	a.pub.Lock()
	defer a.pub.Unlock()
	n := 0
	for _, p := range a.snapshot() {
		if b.enqueue(p, message{event: event, payload: payload}) {
			n++
		}
	}
	return n
}

// Send queues an event for a single connection.
func (b *Broadcaster) Send(connID, event string, payload any) bool {
	b.mu.RLock()
	p := b.peers[connID]
	b.mu.RUnlock()
	if p == nil {
		return false
	}
	return b.enqueue(p, message{event: event, payload: payload})
}

// BroadcastGlobal queues an event for every connected client.
func (b *Broadcaster) BroadcastGlobal(event string, payload any) int {
	b.mu.RLock()
	all := make([]*peer, 0, len(b.peers))
	for _, p := range b.peers {
		all = append(all, p)
	}
	b.mu.RUnlock()
	n := 0
	for _, p := range all {
		if b.enqueue(p, message{event: event, payload: payload}) {
			n++
		}
	}
	return n
}

// Close disconnects every connection.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	all := b.peers
	b.peers = make(map[string]*peer)
	b.audiences = make(map[string]*audience)
	b.mu.Unlock()
	for _, p := range all {
		close(p.done)
	}
}

func (b *Broadcaster) enqueue(p *peer, m message) bool {
	select {
	case <-p.done:
		b.dropped(p, m, "connection closed")
		return false
	default:
	}
	select {
	case p.out <- m:
		return true
	default:
		b.dropped(p, m, "outbox full")
		return false
	}
}

func (b *Broadcaster) dropped(p *peer, m message, reason string) {
	metrics.BroadcastDropped.WithLabelValues(m.event).Inc()
	log.Warn().Str("sid", p.conn.ID()).Str("event", m.event).Str("reason", reason).Msg("event dropped")
}

func (b *Broadcaster) pump(p *peer) {
	for {
		select {
		case <-p.done:
			return
		case m := <-p.out:
			b.deliver(p, m)
		}
	}
}

func (b *Broadcaster) deliver(p *peer, m message) {
	defer func() {
		if r := recover(); r != nil {
			log.Warn().Str("sid", p.conn.ID()).Str("event", m.event).Interface("panic", r).Msg("emit failed")
		}
	}()
	if m.payload == nil {
		p.conn.Emit(m.event)
		return
	}
	p.conn.Emit(m.event, m.payload)
}
